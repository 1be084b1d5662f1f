package audit

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/cs350892/market-server/internal/common"
	"github.com/cs350892/market-server/internal/obs"
)

// Recorder audits mutating requests after they have been handled.
type Recorder struct {
	Service *Service
	Log     zerolog.Logger
}

// Middleware records every non-GET request passing through. The route pattern
// is read after the handler runs, when chi has resolved nested routers.
func (r Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.Service == nil || !r.Service.Enabled || !mutating(req.Method) {
			next.ServeHTTP(w, req)
			return
		}
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, req)

		ctx := req.Context()
		if rc := chi.RouteContext(ctx); rc != nil && obs.RoutePatternFromContext(ctx) == "" {
			if pattern := rc.RoutePattern(); pattern != "" {
				req = req.WithContext(obs.WithRoutePattern(ctx, pattern))
			}
		}
		actor, _ := common.UserID(ctx)
		entry := Entry{ActorID: actor, Status: rec.Status(), ResourceID: lastURLParam(req)}
		if err := r.Service.Record(req.Context(), req, entry); err != nil {
			r.Log.Error().Err(err).Str("path", req.URL.Path).Msg("audit_record_failed")
		}
	})
}

func mutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func lastURLParam(req *http.Request) string {
	rc := chi.RouteContext(req.Context())
	if rc == nil || len(rc.URLParams.Values) == 0 {
		return ""
	}
	return rc.URLParams.Values[len(rc.URLParams.Values)-1]
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Status() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}
