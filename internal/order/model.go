package order

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/noah-isme/brennholz-api/internal/pricing"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrInvalidTransition is returned for a status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("order status transition not allowed")
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusShipped, StatusCancelled},
	StatusShipped:   {StatusDelivered},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Address is the delivery or billing address snapshot stored with an order.
type Address struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Company    string `json:"company,omitempty"`
	Street     string `json:"street"`
	PostalCode string `json:"postalCode"`
	City       string `json:"city"`
	Country    string `json:"country"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// Line is an order line. Lines are written with their order and never change.
type Line struct {
	ProductID   string        `json:"productId"`
	ProductName string        `json:"productName"`
	Unit        string        `json:"unit"`
	Quantity    int           `json:"quantity"`
	UnitPrice   pricing.Money `json:"unitPrice"`
	TotalPrice  pricing.Money `json:"totalPrice"`
	TaxIncluded bool          `json:"taxIncluded"`
	TierName    string        `json:"tierName"`
}

// MarshalJSON writes the line amounts with two decimals.
func (l Line) MarshalJSON() ([]byte, error) {
	type plain Line
	return json.Marshal(struct {
		plain
		UnitPrice  pricing.Cents `json:"unitPrice"`
		TotalPrice pricing.Cents `json:"totalPrice"`
	}{plain(l), pricing.Cents(l.UnitPrice), pricing.Cents(l.TotalPrice)})
}

// Order is a placed order with its immutable monetary snapshot.
type Order struct {
	ID              string         `json:"id"`
	Number          string         `json:"orderNumber"`
	CustomerID      *string        `json:"customerId,omitempty"`
	CustomerNumber  string         `json:"customerNumber,omitempty"`
	CustomerEmail   string         `json:"customerEmail"`
	Status          Status         `json:"status"`
	Totals          pricing.Totals `json:"totals"`
	DiscountCode    string         `json:"discountCode,omitempty"`
	DeliveryAddress Address        `json:"deliveryAddress"`
	BillingAddress  Address        `json:"billingAddress"`
	PaymentMethod   string         `json:"paymentMethod"`
	DeliveryMethod  string         `json:"deliveryMethod"`
	Notes           string         `json:"notes,omitempty"`
	StockReserved   bool           `json:"-"`
	Lines           []Line         `json:"lines"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}
