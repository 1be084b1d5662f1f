package analytics

import (
	"net/http"
	"time"

	"github.com/cs350892/market-server/internal/common"
)

// Handler exposes the admin analytics endpoints.
type Handler struct {
	Svc *Service
}

func parseBound(raw string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}

// window reads ?from&to (dates or RFC3339) or ?days, defaulting to the configured range ending now.
func (h *Handler) window(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	if fromStr, toStr := q.Get("from"), q.Get("to"); fromStr != "" || toStr != "" {
		from, err := parseBound(fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, common.InvalidInput("invalid from date", err)
		}
		to, err := parseBound(toStr)
		if err != nil {
			return time.Time{}, time.Time{}, common.InvalidInput("invalid to date", err)
		}
		if !from.Before(to) {
			return time.Time{}, time.Time{}, common.InvalidInput("from must be before to", nil)
		}
		if to.Sub(from) > 366*24*time.Hour {
			return time.Time{}, time.Time{}, common.InvalidInput("range must not exceed one year", nil)
		}
		return from, to, nil
	}
	days := h.Svc.DefaultRange
	if days <= 0 {
		days = 30
	}
	if parsed := common.AtoiDefault(q.Get("days"), days); parsed > 0 && parsed <= 366 {
		days = parsed
	}
	to := h.Svc.now()
	return to.AddDate(0, 0, -days), to, nil
}

// Overview handles GET /admin/analytics/overview.
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	out, err := h.Svc.Overview(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, out)
}

// Sales handles GET /admin/analytics/sales.
func (h *Handler) Sales(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.window(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	rows, err := h.Svc.SalesRange(r.Context(), from, to)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, rows)
}

// TopProducts handles GET /admin/analytics/top-products.
func (h *Handler) TopProducts(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.window(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	q := r.URL.Query()
	limit := common.AtoiDefault(q.Get("limit"), 10)
	offset := common.AtoiDefault(q.Get("offset"), 0)
	rows, err := h.Svc.TopProducts(r.Context(), from, to, int32(limit), int32(offset))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, rows)
}
