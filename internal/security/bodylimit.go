package security

import (
	"net/http"

	"github.com/cs350892/market-server/internal/common"
)

// BodyLimit caps request payload sizes.
type BodyLimit struct {
	Max int64
}

// Middleware rejects declared oversize bodies up front and wraps the rest in
// http.MaxBytesReader, which common.DecodeJSON turns into a 413.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	if b.Max <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > b.Max {
			common.JSONError(w, http.StatusRequestEntityTooLarge, common.CodePayloadTooLarge, "request body too large", nil)
			return
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, b.Max)
		}
		next.ServeHTTP(w, r)
	})
}
