package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cs350892/market-server/internal/common"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Limiter records a hit for key and reports whether it is within the limit.
type Limiter interface {
	Take(ctx context.Context, key string) (Decision, error)
}

// KeyFunc derives the bucket for a request.
type KeyFunc func(*http.Request) string

// ByIP buckets requests by client address under name.
func ByIP(name string) KeyFunc {
	return func(r *http.Request) string { return name + ":ip:" + common.ClientIP(r) }
}

// ByUserOrIP buckets authenticated requests per user and the rest per address.
func ByUserOrIP(name string) KeyFunc {
	return func(r *http.Request) string {
		if id, ok := common.UserID(r.Context()); ok && id != "" {
			return name + ":user:" + id
		}
		return name + ":ip:" + common.ClientIP(r)
	}
}

// Handler enforces a limiter in front of a route group. Limiter failures fail open.
type Handler struct {
	Limiter Limiter
	Key     KeyFunc
	Log     zerolog.Logger
}

// Middleware implements chi middleware.
func (h Handler) Middleware(next http.Handler) http.Handler {
	if h.Limiter == nil || h.Key == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := h.Key(r)
		d, err := h.Limiter.Take(r.Context(), key)
		if err != nil {
			h.Log.Warn().Err(err).Str("key", key).Msg("ratelimit_unavailable")
			next.ServeHTTP(w, r)
			return
		}

		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
		if !d.Allowed {
			retry := int(time.Until(d.Reset).Seconds() + 0.5)
			headers.Set("Retry-After", strconv.Itoa(max(retry, 1)))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
