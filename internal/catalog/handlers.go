package catalog

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cs350892/market-server/internal/common"
)

// Handler exposes public and administrative catalog endpoints.
type Handler struct {
	service *Service
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service}
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "catalog service not configured", nil)
		return false
	}
	return true
}

// Products handles GET /api/v1/products with filters, sorting, and pagination.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	params, err := h.service.ParseListParams(r.URL.Query())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	result, err := h.service.ListProducts(r.Context(), params)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(result.Total, 10))
	common.Page(w, result.Items, common.Pagination{Page: result.Page, PerPage: result.Limit, TotalItems: int(result.Total)})
}

// ProductDetail handles GET /api/v1/products/{idOrSlug}.
func (h *Handler) ProductDetail(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	product, err := h.service.GetProduct(r.Context(), chi.URLParam(r, "idOrSlug"), false)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, product)
}

// Price handles GET /api/v1/products/{idOrSlug}/price?quantity=&packSizeId=.
func (h *Handler) Price(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	qty := 1
	if raw := strings.TrimSpace(r.URL.Query().Get("quantity")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			common.WriteError(w, badRequest("quantity", "quantity must be an integer", err))
			return
		}
		qty = v
	}
	quote, err := h.service.Price(r.Context(), chi.URLParam(r, "idOrSlug"), qty, r.URL.Query().Get("packSizeId"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, quote)
}

// AdminGet handles GET /api/v1/admin/products/{idOrSlug}, including inactive products.
func (h *Handler) AdminGet(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	product, err := h.service.GetProduct(r.Context(), chi.URLParam(r, "idOrSlug"), true)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, product)
}

// Create handles POST /api/v1/admin/products.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var in ProductInput
	if err := common.DecodeJSON(r, &in); err != nil {
		common.WriteError(w, err)
		return
	}
	product, err := h.service.Create(r.Context(), in)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, product)
}

// Update handles PUT /api/v1/admin/products/{idOrSlug}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var in ProductInput
	if err := common.DecodeJSON(r, &in); err != nil {
		common.WriteError(w, err)
		return
	}
	product, err := h.service.Update(r.Context(), chi.URLParam(r, "idOrSlug"), in)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, product)
}

// Deactivate handles DELETE /api/v1/admin/products/{idOrSlug}.
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	product, err := h.service.Deactivate(r.Context(), chi.URLParam(r, "idOrSlug"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, product)
}

type stockRequest struct {
	Delta int `json:"delta"`
}

// AdjustStock handles POST /api/v1/admin/products/{idOrSlug}/stock.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req stockRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	product, err := h.service.AdjustStock(r.Context(), chi.URLParam(r, "idOrSlug"), req.Delta)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, product)
}

// LowStock handles GET /api/v1/admin/products/low-stock?threshold=&limit=.
func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	q := r.URL.Query()
	items, err := h.service.LowStock(r.Context(), common.AtoiDefault(q.Get("threshold"), 0), common.AtoiDefault(q.Get("limit"), 0))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, items)
}
