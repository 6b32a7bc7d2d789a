package catalog

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/brennholz-api/internal/common"
)

// Handler exposes public catalog endpoints.
type Handler struct {
	Svc *Service
}

// Products handles GET /api/v1/products.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	items, err := h.Svc.Products(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items})
}

// ProductDetail handles GET /api/v1/products/{slug}.
func (h *Handler) ProductDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Svc.Product(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": detail})
}

// Price handles GET /api/v1/products/{slug}/price?quantity=&cartQuantity=,
// recomputed by the storefront on every quantity change.
func (h *Handler) Price(w http.ResponseWriter, r *http.Request) {
	quantity := common.QueryInt(r, "quantity", 0)
	cartQuantity := common.QueryInt(r, "cartQuantity", 0)
	price, err := h.Svc.Price(r.Context(), chi.URLParam(r, "slug"), quantity, cartQuantity)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": price})
}
