package discount

import (
	"encoding/json"
	"net/http"

	"github.com/noah-isme/brennholz-api/internal/common"
	"github.com/noah-isme/brennholz-api/internal/pricing"
)

// Handler exposes the discount preview endpoint.
type Handler struct {
	Svc *Service
}

type previewRequest struct {
	Code     string        `json:"code"`
	Subtotal pricing.Money `json:"subtotal"`
}

// Preview returns the simulated discount for a code without persisting state.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "discount service not configured", nil)
		return
	}
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if req.Subtotal.IsNegative() {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "subtotal must not be negative", nil)
		return
	}
	result, err := h.Svc.Preview(r.Context(), req.Code, req.Subtotal)
	if err != nil {
		if reason := Reason(err); reason != "" {
			common.JSONError(w, http.StatusUnprocessableEntity, "DISCOUNT_INVALID", err.Error(), map[string]string{"reason": reason})
			return
		}
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}
