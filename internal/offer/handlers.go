package offer

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cs350892/market-server/internal/common"
	"github.com/cs350892/market-server/internal/pricing"
)

// CartPricer prices cart lines without applying any offer.
type CartPricer interface {
	Quote(ctx context.Context, lines []pricing.LineRequest, offerCode string) (pricing.Quote, error)
}

// Handler exposes offer validation and administrative offer management.
type Handler struct {
	Svc    *Service
	Pricer CartPricer
}

type validateRequest struct {
	Code  string                `json:"code" validate:"required"`
	Items []pricing.LineRequest `json:"items" validate:"required,min=1,dive"`
}

type validateResponse struct {
	Result
	CartTotal decimal.Decimal `json:"cartTotal"`
}

// Validate prices the submitted cart and checks the offer against it without claiming a use.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if err := common.ValidateStruct(req); err != nil {
		common.WriteError(w, err)
		return
	}
	quote, err := h.Pricer.Quote(r.Context(), req.Items, "")
	if err != nil {
		common.WriteError(w, err)
		return
	}
	lines := make([]pricing.DiscountLine, len(quote.LineItems))
	for i, l := range quote.LineItems {
		lines[i] = pricing.DiscountLine{ProductID: l.ProductID, Subtotal: l.Subtotal}
	}
	res, err := h.Svc.Validate(r.Context(), req.Code, quote.CartTotal, lines)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, validateResponse{Result: res, CartTotal: quote.CartTotal})
}

// Create registers a new offer.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := common.DecodeJSON(r, &in); err != nil {
		common.WriteError(w, err)
		return
	}
	view, err := h.Svc.Create(r.Context(), in)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, view)
}

// List returns offers, optionally filtered with ?status=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 20)
	views, total, err := h.Svc.List(r.Context(), r.URL.Query().Get("status"), page, perPage)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Page(w, views, common.Pagination{Page: page, PerPage: perPage, TotalItems: int(total)})
}

// Get returns a single offer by code.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view)
}

// Update replaces the mutable fields of an offer.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var in Input
	if err := common.DecodeJSON(r, &in); err != nil {
		common.WriteError(w, err)
		return
	}
	view, err := h.Svc.Update(r.Context(), chi.URLParam(r, "code"), in)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view)
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=active inactive"`
}

// SetStatus activates or deactivates an offer.
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	req.Status = strings.ToLower(strings.TrimSpace(req.Status))
	if err := common.ValidateStruct(req); err != nil {
		common.WriteError(w, err)
		return
	}
	view, err := h.Svc.SetStatus(r.Context(), chi.URLParam(r, "code"), Status(req.Status))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view)
}

// Delete removes an unused offer.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Delete(r.Context(), chi.URLParam(r, "code")); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
