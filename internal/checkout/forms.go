package checkout

import (
	"errors"
	"reflect"
	"strings"

	validator "github.com/go-playground/validator/v10"
)

// Payment methods accepted at checkout.
const (
	PaymentPrepayment     = "prepayment"
	PaymentInvoice        = "invoice"
	PaymentCashOnDelivery = "cash_on_delivery"
	PaymentPayPal         = "paypal"
)

// AddressForm is the delivery address step.
type AddressForm struct {
	FirstName  string `json:"firstName" validate:"required,max=100"`
	LastName   string `json:"lastName" validate:"required,max=100"`
	Company    string `json:"company" validate:"max=200"`
	Email      string `json:"email" validate:"required,email"`
	Phone      string `json:"phone" validate:"required,min=5,max=40"`
	Street     string `json:"street" validate:"required,max=200"`
	PostalCode string `json:"postalCode" validate:"required,postcode"`
	City       string `json:"city" validate:"required,max=100"`
	Country    string `json:"country" validate:"omitempty,oneof=DE AT CH"`
}

// postcodeDigits is the postcode length per delivery country. An empty
// country means DE.
var postcodeDigits = map[string]int{"DE": 5, "AT": 4, "CH": 4}

// validPostcode checks the postcode against the sibling Country field.
// Unsupported countries pass here and fail on the country rule.
func validPostcode(fl validator.FieldLevel) bool {
	country := "DE"
	if f := fl.Parent().FieldByName("Country"); f.IsValid() && strings.TrimSpace(f.String()) != "" {
		country = strings.ToUpper(strings.TrimSpace(f.String()))
	}
	digits, ok := postcodeDigits[country]
	if !ok {
		return true
	}
	code := strings.TrimSpace(fl.Field().String())
	if len(code) != digits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// BillingForm is the billing address step. Address is only required when
// billing differs from delivery.
type BillingForm struct {
	SameAsDelivery bool         `json:"sameAsDelivery"`
	Address        *AddressForm `json:"address" validate:"-"`
}

// DeliveryPaymentForm picks the delivery and payment method.
type DeliveryPaymentForm struct {
	DeliveryMethod string `json:"deliveryMethod" validate:"required"`
	PaymentMethod  string `json:"paymentMethod" validate:"required,oneof=prepayment invoice cash_on_delivery paypal"`
}

// ConfirmForm is the final review step.
type ConfirmForm struct {
	TermsAccepted bool   `json:"termsAccepted" validate:"required"`
	Notes         string `json:"notes" validate:"max=2000"`
}

// FieldError names one rejected form field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// FormError carries every field error of a step.
type FormError struct {
	Step   Step
	Fields []FieldError
}

func (e *FormError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+":"+f.Rule)
	}
	return "checkout: invalid " + e.Step.String() + " form (" + strings.Join(parts, ", ") + ")"
}

// NewValidator returns a validator reporting json field names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("postcode", validPostcode)
	return v
}

func validateForm(v *validator.Validate, step Step, form any) error {
	err := v.Struct(form)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fe := &FormError{Step: step}
	for _, ve := range verrs {
		fe.Fields = append(fe.Fields, FieldError{Field: fieldPath(ve.Namespace()), Rule: ve.Tag()})
	}
	return fe
}

func validateBilling(v *validator.Validate, f BillingForm) error {
	if f.SameAsDelivery {
		return nil
	}
	if f.Address == nil {
		return &FormError{Step: StepBilling, Fields: []FieldError{{Field: "address", Rule: "required"}}}
	}
	err := validateForm(v, StepBilling, *f.Address)
	var fe *FormError
	if errors.As(err, &fe) {
		for i := range fe.Fields {
			fe.Fields[i].Field = "address." + fe.Fields[i].Field
		}
	}
	return err
}

// fieldPath drops the struct name prefix, "AddressForm.email" -> "email".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
