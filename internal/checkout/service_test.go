package checkout

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgconn"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/brennholz-api/internal/common"
	"github.com/noah-isme/brennholz-api/internal/events"
	"github.com/noah-isme/brennholz-api/internal/inventory"
	"github.com/noah-isme/brennholz-api/internal/lock"
	"github.com/noah-isme/brennholz-api/internal/pricing"
)

func requireAppError(t *testing.T, err error, code string, status int) *common.AppError {
	t.Helper()
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, code, appErr.Code)
	require.Equal(t, status, appErr.HTTPStatus)
	return appErr
}

func money(s string) pricing.Money { return pricing.MustParse(s) }

func TestQuotePricesCartWithDiscountAndShipping(t *testing.T) {
	h := newHarness()

	q, err := h.svc.Quote(context.Background(), Cart{
		Lines:          []CartLine{{ProductID: "p-buche", Quantity: 10}},
		DiscountCode:   " winter10 ",
		DeliveryMethod: "standard",
	})
	require.NoError(t, err)

	require.True(t, q.CanOrder)
	require.Equal(t, "WINTER10", q.DiscountCode)
	require.Len(t, q.Lines, 1)
	require.Equal(t, pricing.TierStandard, q.Lines[0].TierName)
	require.True(t, q.Totals.Subtotal.Equal(money("300")))
	require.True(t, q.Totals.DiscountAmount.Equal(money("30")))
	require.True(t, q.Totals.SubtotalAfterDiscount.Equal(money("270")))
	require.True(t, q.Totals.Total.Equal(money("313.5")))
}

func TestQuoteUsesTotalCartQuantityForMinimum(t *testing.T) {
	h := newHarness()

	q, err := h.svc.Quote(context.Background(), Cart{Lines: []CartLine{
		{ProductID: "p-buche", Quantity: 2},
		{ProductID: "p-eiche", Quantity: 1},
	}})
	require.NoError(t, err)
	require.True(t, q.CanOrder)
	require.Equal(t, 3, q.TotalQuantity)
	// per-line quantities below every band fall through to the base price
	require.Equal(t, pricing.TierStandard, q.Lines[0].TierName)
	require.True(t, q.Lines[0].UnitPrice.Equal(money("30")))

	q, err = h.svc.Quote(context.Background(), Cart{Lines: []CartLine{{ProductID: "p-buche", Quantity: 2}}})
	require.NoError(t, err)
	require.False(t, q.CanOrder)
	require.Equal(t, 3, q.MinOrderQuantity)
	require.Equal(t, pricing.TierInvalid, q.Lines[0].TierName)
}

func TestQuoteRejectsEmptyCartAndUnknownProducts(t *testing.T) {
	h := newHarness()

	_, err := h.svc.Quote(context.Background(), Cart{Lines: []CartLine{{ProductID: "p-buche", Quantity: 0}}})
	requireAppError(t, err, CodeEmptyCart, http.StatusUnprocessableEntity)

	_, err = h.svc.Quote(context.Background(), Cart{Lines: []CartLine{{ProductID: "p-gone", Quantity: 5}}})
	appErr := requireAppError(t, err, CodeProductUnavailable, http.StatusUnprocessableEntity)
	require.Equal(t, map[string][]string{"productIds": {"p-gone"}}, appErr.Details)
}

func TestSubmitPlacesOrderInOneTransaction(t *testing.T) {
	h := newHarness()

	res, err := h.svc.Submit(context.Background(), validSubmission())
	require.NoError(t, err)

	require.Equal(t, "BK-202610-0042", res.OrderNumber)
	require.True(t, res.Totals.Total.Equal(money("313.5")))
	require.NotEmpty(t, res.ConfirmationToken)

	claims, err := h.svc.Tokens.Verify(res.ConfirmationToken)
	require.NoError(t, err)
	require.Equal(t, "BK-202610-0042", claims.OrderNumber)
	require.Equal(t, "anna.berg@example.de", claims.Email)

	require.Len(t, h.tx.txs, 1)
	require.True(t, h.tx.txs[0].committed)
	require.Equal(t, []reservation{{"p-buche", 10, "BK-202610-0042"}}, h.stock.reserved)

	require.Len(t, h.orders.created, 1)
	o := h.orders.created[0]
	require.Equal(t, "anna.berg@example.de", o.CustomerEmail)
	require.Equal(t, "KD-0001", o.CustomerNumber)
	require.NotNil(t, o.CustomerID)
	require.Equal(t, "WINTER10", o.DiscountCode)
	require.Equal(t, PaymentInvoice, o.PaymentMethod)
	require.Equal(t, "DE", o.BillingAddress.Country)
	require.Equal(t, o.DeliveryAddress, o.BillingAddress)
	require.True(t, o.StockReserved)
	require.Len(t, o.Lines, 1)
	require.True(t, o.Lines[0].TotalPrice.Equal(money("300")))
	require.True(t, o.Lines[0].TaxIncluded)

	require.Len(t, h.events.emitted, 1)
	require.Equal(t, events.TopicOrderCreated, h.events.emitted[0].topic)

	require.Len(t, h.dispatcher.placed, 1)
	placed := h.dispatcher.placed[0]
	require.Equal(t, "Anna Berg", placed.CustomerName)
	require.True(t, strings.HasPrefix(placed.ConfirmationURL, "https://brennholz.example/bestellung?token="))
}

func TestSubmitValidationFailureWritesNothing(t *testing.T) {
	h := newHarness()
	sub := validSubmission()
	sub.Address.Email = "not-an-email"

	_, err := h.svc.Submit(context.Background(), sub)
	appErr := requireAppError(t, err, CodeValidationFailed, http.StatusUnprocessableEntity)
	details := appErr.Details.(map[string]any)
	require.Equal(t, "address", details["step"])
	require.Contains(t, details["fields"], FieldError{Field: "email", Rule: "email"})

	require.Empty(t, h.tx.txs)
	require.Empty(t, h.customers.inputs)
}

func TestSubmitRejectsUnknownDeliveryMethodAndMissingTerms(t *testing.T) {
	h := newHarness()

	sub := validSubmission()
	sub.DeliveryPayment.DeliveryMethod = "drone"
	_, err := h.svc.Submit(context.Background(), sub)
	appErr := requireAppError(t, err, CodeValidationFailed, http.StatusUnprocessableEntity)
	require.Equal(t, "delivery-payment", appErr.Details.(map[string]any)["step"])

	sub = validSubmission()
	sub.Confirm.TermsAccepted = false
	_, err = h.svc.Submit(context.Background(), sub)
	appErr = requireAppError(t, err, CodeValidationFailed, http.StatusUnprocessableEntity)
	require.Equal(t, "confirm", appErr.Details.(map[string]any)["step"])
}

func TestSubmitBelowMinimumOrderQuantity(t *testing.T) {
	h := newHarness()
	sub := validSubmission()
	sub.Lines = []CartLine{{ProductID: "p-buche", Quantity: 2}}
	sub.DiscountCode = ""

	_, err := h.svc.Submit(context.Background(), sub)
	requireAppError(t, err, CodeMinOrderQuantity, http.StatusUnprocessableEntity)
	require.Empty(t, h.tx.txs)
}

func TestSubmitInvalidDiscount(t *testing.T) {
	h := newHarness()
	sub := validSubmission()
	sub.DiscountCode = "SOMMER"

	_, err := h.svc.Submit(context.Background(), sub)
	appErr := requireAppError(t, err, CodeDiscountInvalid, http.StatusUnprocessableEntity)
	require.Equal(t, map[string]string{"code": "SOMMER", "reason": "not_found"}, appErr.Details)
}

func TestSubmitStockConflictListsEveryIssue(t *testing.T) {
	h := newHarness()
	h.stock.live = map[string]inventory.LiveStock{
		"p-buche": {Name: "Buche 33cm", Movements: []inventory.Movement{
			{ProductID: "p-buche", Type: inventory.MovementIn, Quantity: 10},
			{ProductID: "p-buche", Type: inventory.MovementOut, Quantity: 3},
		}},
	}
	sub := validSubmission()
	sub.DiscountCode = ""
	sub.Lines = []CartLine{
		{ProductID: "p-buche", Quantity: 5},
		{ProductID: "p-eiche", Quantity: 4},
		{ProductID: "p-buche", Quantity: 3},
	}

	_, err := h.svc.Submit(context.Background(), sub)
	appErr := requireAppError(t, err, CodeStockConflict, http.StatusConflict)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	issues := appErr.Details.(map[string]any)["issues"].([]inventory.Issue)
	require.Equal(t, []inventory.Issue{
		{ProductID: "p-buche", Name: "Buche 33cm", Requested: 8, Available: 7, Kind: inventory.IssueInsufficient},
		{ProductID: "p-eiche", Name: "Eiche 25cm", Requested: 4, Available: 0, Kind: inventory.IssueSoldOut},
	}, issues)
	require.Empty(t, h.tx.txs)
	require.Empty(t, h.dispatcher.placed)
}

func TestSubmitReservationRaceRollsBack(t *testing.T) {
	h := newHarness()
	h.stock.failFor = "p-buche"

	_, err := h.svc.Submit(context.Background(), validSubmission())
	appErr := requireAppError(t, err, CodeStockConflict, http.StatusConflict)
	issues := appErr.Details.(map[string]any)["issues"].([]inventory.Issue)
	require.Len(t, issues, 1)
	require.Equal(t, "p-buche", issues[0].ProductID)

	require.Len(t, h.tx.txs, 1)
	require.True(t, h.tx.txs[0].rolledBack)
	require.False(t, h.tx.txs[0].committed)
	require.Empty(t, h.events.emitted)
	require.Empty(t, h.dispatcher.placed)
}

func TestSubmitPersistFailureIsRetryable(t *testing.T) {
	h := newHarness()
	h.orders.err = errBoom

	_, err := h.svc.Submit(context.Background(), validSubmission())
	requireAppError(t, err, CodePersistFailed, http.StatusInternalServerError)
	require.ErrorIs(t, err, errBoom)
	require.True(t, h.tx.txs[0].rolledBack)
	require.Empty(t, h.dispatcher.placed)

	h.orders.err = nil
	_, err = h.svc.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
}

func TestSubmitReservesInProductOrder(t *testing.T) {
	h := newHarness()
	sub := validSubmission()
	sub.DiscountCode = ""
	sub.Lines = []CartLine{
		{ProductID: "p-eiche", Quantity: 4},
		{ProductID: "p-buche", Quantity: 6},
		{ProductID: "p-eiche", Quantity: 1},
	}

	res, err := h.svc.Submit(context.Background(), sub)
	require.NoError(t, err)
	require.Equal(t, []reservation{
		{"p-buche", 6, res.OrderNumber},
		{"p-eiche", 5, res.OrderNumber},
	}, h.stock.reserved)
}

func TestSubmitRerunsDeadlockedTransaction(t *testing.T) {
	h := newHarness()
	h.stock.transient = []error{&pgconn.PgError{Code: "40P01", Message: "deadlock detected"}}

	res, err := h.svc.Submit(context.Background(), validSubmission())
	require.NoError(t, err)

	require.Len(t, h.tx.txs, 2)
	require.True(t, h.tx.txs[0].rolledBack)
	require.False(t, h.tx.txs[0].committed)
	require.True(t, h.tx.txs[1].committed)
	require.Equal(t, []reservation{{"p-buche", 10, res.OrderNumber}}, h.stock.reserved)
	require.Len(t, h.dispatcher.placed, 1)
}

func TestSubmitGivesUpAfterRepeatedSerializationFailures(t *testing.T) {
	h := newHarness()
	conflict := &pgconn.PgError{Code: "40001"}
	h.stock.transient = []error{conflict, conflict, conflict}

	_, err := h.svc.Submit(context.Background(), validSubmission())
	requireAppError(t, err, CodePersistFailed, http.StatusInternalServerError)
	require.Len(t, h.tx.txs, maxTxAttempts)
	for _, tx := range h.tx.txs {
		require.True(t, tx.rolledBack)
	}
	require.Empty(t, h.dispatcher.placed)
}

func TestSubmitFallsBackToGuestOrderWhenCustomerDenied(t *testing.T) {
	h := newHarness()
	h.customers.denied = true

	_, err := h.svc.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
	o := h.orders.created[0]
	require.Nil(t, o.CustomerID)
	require.Empty(t, o.CustomerNumber)
}

func TestSubmitWithoutReservationLeavesStockToSideEffects(t *testing.T) {
	h := newHarness()
	h.svc.ReserveStock = false

	_, err := h.svc.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
	require.Empty(t, h.stock.reserved)
	require.False(t, h.dispatcher.placed[0].Order.StockReserved)
}

func TestSubmitSurvivesEventFailure(t *testing.T) {
	h := newHarness()
	h.events.err = errors.New("events table missing")

	res, err := h.svc.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
	require.Equal(t, "BK-202610-0042", res.OrderNumber)
	require.Len(t, h.dispatcher.placed, 1)
}

func TestSubmitRejectsConcurrentSubmitForSameEmail(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := newHarness()
	h.svc.Locker = lock.Locker{R: client}
	require.NoError(t, mr.Set(lock.CheckoutKey("anna.berg@example.de"), "other"))

	_, err := h.svc.Submit(context.Background(), validSubmission())
	requireAppError(t, err, CodeInProgress, http.StatusConflict)
	require.Empty(t, h.tx.txs)

	mr.Del(lock.CheckoutKey("anna.berg@example.de"))
	_, err = h.svc.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
	require.False(t, mr.Exists(lock.CheckoutKey("anna.berg@example.de")))
}

func TestValidateStep(t *testing.T) {
	h := newHarness()

	require.NoError(t, h.svc.ValidateStep(context.Background(), StepDeliveryPayment, DeliveryPaymentForm{DeliveryMethod: "pickup", PaymentMethod: PaymentPayPal}))

	err := h.svc.ValidateStep(context.Background(), StepBilling, BillingForm{})
	appErr := requireAppError(t, err, CodeValidationFailed, http.StatusUnprocessableEntity)
	require.Equal(t, []FieldError{{Field: "address", Rule: "required"}}, appErr.Details.(map[string]any)["fields"])
}

func TestAddressPostcodeFollowsCountry(t *testing.T) {
	h := newHarness()
	base := validSubmission().Address

	cases := []struct {
		name     string
		country  string
		postcode string
		rejected []FieldError
	}{
		{name: "default country", postcode: "79098"},
		{name: "austria", country: "AT", postcode: "6020"},
		{name: "switzerland", country: "CH", postcode: "8001"},
		{name: "german code too short", country: "DE", postcode: "7909", rejected: []FieldError{{Field: "postalCode", Rule: "postcode"}}},
		{name: "austrian code too long", country: "AT", postcode: "60200", rejected: []FieldError{{Field: "postalCode", Rule: "postcode"}}},
		{name: "letters", postcode: "79O98", rejected: []FieldError{{Field: "postalCode", Rule: "postcode"}}},
		{name: "outside delivery area", country: "FR", postcode: "75001", rejected: []FieldError{{Field: "country", Rule: "oneof"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			form := base
			form.Country = tc.country
			form.PostalCode = tc.postcode

			err := h.svc.ValidateStep(context.Background(), StepAddress, form)
			if tc.rejected == nil {
				require.NoError(t, err)
				return
			}
			appErr := requireAppError(t, err, CodeValidationFailed, http.StatusUnprocessableEntity)
			require.Equal(t, tc.rejected, appErr.Details.(map[string]any)["fields"])
		})
	}
}
