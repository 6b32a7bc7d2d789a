package checkout

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/brennholz-api/internal/common"
	"github.com/noah-isme/brennholz-api/internal/security"
)

// Handler exposes the checkout endpoints.
type Handler struct {
	Svc    *Service
	Logger zerolog.Logger
}

// Quote prices a cart without placing an order.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var cart Cart
	if err := json.NewDecoder(r.Body).Decode(&cart); err != nil {
		badPayload(w, err)
		return
	}
	q, err := h.Svc.Quote(r.Context(), cart)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": q})
}

// ValidateStep checks one wizard form so the storefront can show field
// errors before the final submit.
func (h *Handler) ValidateStep(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	step, ok := ParseStep(chi.URLParam(r, "step"))
	if !ok {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "unknown checkout step", nil)
		return
	}
	form, err := decodeStepForm(r, step)
	if err != nil {
		badPayload(w, err)
		return
	}
	if err := h.Svc.ValidateStep(r.Context(), step, form); err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]string{
		"step": step.String(),
		"next": (step + 1).String(),
	}})
}

// Submit places the order.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var sub Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		badPayload(w, err)
		return
	}
	res, err := h.Svc.Submit(r.Context(), sub)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": res})
}

func decodeStepForm(r *http.Request, step Step) (any, error) {
	dec := json.NewDecoder(r.Body)
	switch step {
	case StepAddress:
		var f AddressForm
		err := dec.Decode(&f)
		return f, err
	case StepBilling:
		var f BillingForm
		err := dec.Decode(&f)
		return f, err
	case StepDeliveryPayment:
		var f DeliveryPaymentForm
		err := dec.Decode(&f)
		return f, err
	default:
		var f ConfirmForm
		err := dec.Decode(&f)
		return f, err
	}
}

func badPayload(w http.ResponseWriter, err error) {
	if security.IsTooLarge(err) {
		common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
		return
	}
	common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if !common.IsAppError(err) {
		h.Logger.Error().Err(err).Msg("checkout_failed")
	}
	common.WriteError(w, err)
}
