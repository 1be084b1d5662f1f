package payment

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cs350892/market-server/internal/common"
)

// Handler exposes payment intent and status endpoints for the order owner.
type Handler struct {
	Svc *Service
}

type intentReq struct {
	OrderID string `json:"orderId" validate:"required,uuid"`
}

func currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := common.UserID(r.Context())
	if !ok || strings.TrimSpace(userID) == "" {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "login required", nil)
		return "", false
	}
	return userID, true
}

// Intent creates (or reuses) a payment intent for the caller's pending order.
func (h *Handler) Intent(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req intentReq
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.ValidateStruct(req); err != nil {
		common.WriteError(w, err)
		return
	}
	intent, err := h.Svc.CreateIntent(r.Context(), userID, req.OrderID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, intent)
}

// Status returns the latest payment state of one of the caller's orders.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	view, err := h.Svc.Status(r.Context(), userID, chi.URLParam(r, "orderId"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view)
}
