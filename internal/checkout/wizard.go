package checkout

import (
	"errors"
	"fmt"
	"slices"

	validator "github.com/go-playground/validator/v10"
)

// Step is a state of the checkout wizard. The wizard only moves forward.
type Step int

const (
	StepAddress Step = iota
	StepBilling
	StepDeliveryPayment
	StepConfirm
	StepSubmitting
	StepSucceeded
	StepFailed
)

var stepNames = map[Step]string{
	StepAddress:         "address",
	StepBilling:         "billing",
	StepDeliveryPayment: "delivery-payment",
	StepConfirm:         "confirm",
	StepSubmitting:      "submitting",
	StepSucceeded:       "succeeded",
	StepFailed:          "failed",
}

func (s Step) String() string {
	if n, ok := stepNames[s]; ok {
		return n
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// ParseStep maps a form step name from a URL to its Step.
func ParseStep(name string) (Step, bool) {
	for s, n := range stepNames {
		if n == name && s <= StepConfirm {
			return s, true
		}
	}
	return 0, false
}

// ErrOutOfOrder is returned when a form does not belong to the current step.
var ErrOutOfOrder = errors.New("checkout: form submitted out of order")

// Wizard replays the checkout steps and keeps the validated forms.
type Wizard struct {
	Step            Step
	Address         AddressForm
	Billing         BillingForm
	DeliveryPayment DeliveryPaymentForm
	Confirm         ConfirmForm

	validate        *validator.Validate
	deliveryMethods []string
}

// NewWizard starts at the address step. deliveryMethods are the methods with
// a configured shipping cost.
func NewWizard(v *validator.Validate, deliveryMethods []string) *Wizard {
	if v == nil {
		v = NewValidator()
	}
	return &Wizard{Step: StepAddress, validate: v, deliveryMethods: deliveryMethods}
}

// Advance validates form against the current step and moves on. A rejected
// form leaves the wizard where it was.
func (w *Wizard) Advance(form any) error {
	switch f := form.(type) {
	case AddressForm:
		if w.Step != StepAddress {
			return ErrOutOfOrder
		}
		if err := validateForm(w.validate, StepAddress, f); err != nil {
			return err
		}
		w.Address = f
	case BillingForm:
		if w.Step != StepBilling {
			return ErrOutOfOrder
		}
		if err := validateBilling(w.validate, f); err != nil {
			return err
		}
		w.Billing = f
	case DeliveryPaymentForm:
		if w.Step != StepDeliveryPayment {
			return ErrOutOfOrder
		}
		if err := validateForm(w.validate, StepDeliveryPayment, f); err != nil {
			return err
		}
		if !slices.Contains(w.deliveryMethods, f.DeliveryMethod) {
			return &FormError{Step: StepDeliveryPayment, Fields: []FieldError{{Field: "deliveryMethod", Rule: "oneof"}}}
		}
		w.DeliveryPayment = f
	case ConfirmForm:
		if w.Step != StepConfirm {
			return ErrOutOfOrder
		}
		if err := validateForm(w.validate, StepConfirm, f); err != nil {
			return err
		}
		w.Confirm = f
	default:
		return fmt.Errorf("checkout: unknown form %T", form)
	}
	w.Step++
	return nil
}

// Finish records the outcome of the submission.
func (w *Wizard) Finish(err error) {
	if w.Step != StepSubmitting {
		return
	}
	if err != nil {
		w.Step = StepFailed
		return
	}
	w.Step = StepSucceeded
}

// BillingAddress is the effective billing address.
func (w *Wizard) BillingAddress() AddressForm {
	if w.Billing.SameAsDelivery || w.Billing.Address == nil {
		return w.Address
	}
	return *w.Billing.Address
}
