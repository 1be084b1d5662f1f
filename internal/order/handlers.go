package order

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cs350892/market-server/internal/common"
)

// Handler exposes the customer order endpoints.
type Handler struct {
	Svc *Service
}

func currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "authentication required", nil)
		return "", false
	}
	return userID, true
}

// List handles GET /api/v1/orders.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	page, perPage := common.ParsePagination(r, 20)
	views, total, err := h.Svc.ListMine(r.Context(), userID, page, perPage)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	common.Page(w, views, common.Pagination{Page: page, PerPage: perPage, TotalItems: int(total)})
}

// Get handles GET /api/v1/orders/{orderId}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	view, err := h.Svc.GetMine(r.Context(), userID, chi.URLParam(r, "orderId"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view)
}

// Cancel handles POST /api/v1/orders/{orderId}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	view, err := h.Svc.CancelMine(r.Context(), userID, chi.URLParam(r, "orderId"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view)
}
