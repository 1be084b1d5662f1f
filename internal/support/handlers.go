package support

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cs350892/market-server/internal/common"
)

// Handler serves both the customer and the admin support routes.
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

func writePage(w http.ResponseWriter, items []Ticket, total int64, page, perPage int) {
	w.Header().Set("X-Total-Count", strconv.FormatInt(total, 10))
	common.Page(w, items, common.Pagination{Page: page, PerPage: perPage, TotalItems: int(total)})
}

// ListMine handles GET /support/tickets.
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	page, perPage := common.ParsePagination(r, 20)
	items, total, err := h.Svc.ListMine(r.Context(), userID, r.URL.Query().Get("status"), page, perPage)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	writePage(w, items, total, page, perPage)
}

// Open handles POST /support/tickets.
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var in OpenInput
	if err := common.DecodeJSON(r, &in); err != nil {
		common.WriteError(w, err)
		return
	}
	t, err := h.Svc.Open(r.Context(), userID, in)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, t)
}

// GetMine handles GET /support/tickets/{ticketId}.
func (h *Handler) GetMine(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	t, err := h.Svc.GetMine(r.Context(), userID, chi.URLParam(r, "ticketId"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, t)
}

// ReplyMine handles POST /support/tickets/{ticketId}/messages.
func (h *Handler) ReplyMine(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var in ReplyInput
	if err := common.DecodeJSON(r, &in); err != nil {
		common.WriteError(w, err)
		return
	}
	t, err := h.Svc.ReplyMine(r.Context(), userID, chi.URLParam(r, "ticketId"), in)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, t)
}

// AdminList handles GET /admin/support/tickets.
func (h *Handler) AdminList(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 20)
	items, total, err := h.Svc.List(r.Context(), r.URL.Query().Get("status"), page, perPage)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	writePage(w, items, total, page, perPage)
}

// AdminGet handles GET /admin/support/tickets/{id}.
func (h *Handler) AdminGet(w http.ResponseWriter, r *http.Request) {
	t, err := h.Svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, t)
}

// AdminReply handles POST /admin/support/tickets/{id}/messages.
func (h *Handler) AdminReply(w http.ResponseWriter, r *http.Request) {
	adminID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var in ReplyInput
	if err := common.DecodeJSON(r, &in); err != nil {
		common.WriteError(w, err)
		return
	}
	t, err := h.Svc.Reply(r.Context(), adminID, chi.URLParam(r, "id"), in)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, t)
}

// AdminClose handles POST /admin/support/tickets/{id}/close.
func (h *Handler) AdminClose(w http.ResponseWriter, r *http.Request) {
	t, err := h.Svc.Close(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, t)
}
