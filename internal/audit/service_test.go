package audit_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cs350892/market-server/internal/audit"
	"github.com/cs350892/market-server/internal/common"
	"github.com/cs350892/market-server/internal/obs"
	"github.com/cs350892/market-server/internal/repo"
)

type stubStore struct {
	inserts []repo.InsertAuditLogParams
	listArg repo.ListAuditLogsParams
}

func (s *stubStore) InsertAuditLog(_ context.Context, arg repo.InsertAuditLogParams) (pgtype.UUID, error) {
	s.inserts = append(s.inserts, arg)
	return pgtype.UUID{Bytes: uuid.New(), Valid: true}, nil
}

func (s *stubStore) ListAuditLogs(_ context.Context, arg repo.ListAuditLogsParams) ([]repo.AuditLog, error) {
	s.listArg = arg
	return []repo.AuditLog{{
		ID:           pgtype.UUID{Bytes: uuid.New(), Valid: true},
		Action:       "PATCH /api/v1/admin/offers/{code}",
		ResourceType: "admin.offers.{code}",
		Method:       http.MethodPatch,
		Status:       200,
		Metadata:     []byte(`{"query":"x=1"}`),
	}}, nil
}

func TestRecordDerivesActionAndResource(t *testing.T) {
	store := &stubStore{}
	svc := audit.Service{Store: store, Enabled: true}
	userID := uuid.NewString()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/offers?dryRun=1", nil)
	req.Header.Set("User-Agent", "tester")
	req.Header.Set("X-Request-ID", "req-123")
	req.RemoteAddr = "10.0.0.2:54321"
	req = req.WithContext(obs.WithRoutePattern(req.Context(), "/api/v1/admin/offers"))

	err := svc.Record(req.Context(), req, audit.Entry{ActorID: userID, Status: http.StatusCreated})
	require.NoError(t, err)
	require.Len(t, store.inserts, 1)
	got := store.inserts[0]
	require.Equal(t, userID, repo.UUIDString(got.ActorUserID))
	require.Equal(t, "POST /api/v1/admin/offers", got.Action)
	require.Equal(t, "admin.offers", got.ResourceType)
	require.Equal(t, "10.0.0.2", got.Ip.String)
	require.Equal(t, "req-123", got.RequestID.String)
	require.EqualValues(t, http.StatusCreated, got.Status)

	var meta map[string]string
	require.NoError(t, json.Unmarshal(got.Metadata, &meta))
	require.Equal(t, "dryRun=1", meta["query"])
}

func TestRecordDisabledIsNoop(t *testing.T) {
	store := &stubStore{}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	require.NoError(t, audit.Service{Store: store}.Record(context.Background(), req, audit.Entry{}))
	require.Empty(t, store.inserts)
}

func TestMiddlewareRecordsMutationsOnly(t *testing.T) {
	store := &stubStore{}
	rec := audit.Recorder{Service: &audit.Service{Store: store, Enabled: true}, Log: zerolog.Nop()}
	admin := uuid.NewString()

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(common.WithUserID(req.Context(), admin)))
		})
	})
	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(rec.Middleware)
		r.Get("/offers/{code}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		r.Patch("/offers/{code}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusConflict) })
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/admin/offers/SAVE10", nil))
	require.Empty(t, store.inserts)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPatch, "/api/v1/admin/offers/SAVE10", nil))
	require.Len(t, store.inserts, 1)
	got := store.inserts[0]
	require.Equal(t, "PATCH /api/v1/admin/offers/{code}", got.Action)
	require.Equal(t, "SAVE10", got.ResourceID.String)
	require.EqualValues(t, http.StatusConflict, got.Status)
	require.Equal(t, admin, repo.UUIDString(got.ActorUserID))
}

func TestHandlerListFiltersAndPages(t *testing.T) {
	store := &stubStore{}
	h := audit.Handler{Store: store, Log: zerolog.Nop()}
	rr := httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/audit?resource=admin.offers&page=3&limit=25", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "admin.offers", store.listArg.ResourceType)
	require.EqualValues(t, 25, store.listArg.Limit)
	require.EqualValues(t, 50, store.listArg.Offset)

	var body struct {
		Data []audit.LogView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	require.JSONEq(t, `{"query":"x=1"}`, string(body.Data[0].Metadata))
}
