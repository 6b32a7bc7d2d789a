package customer

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/brennholz-api/internal/db"
)

// Customer is a buyer identified by email.
type Customer struct {
	ID             string `json:"id"`
	CustomerNumber string `json:"customerNumber"`
	Email          string `json:"email"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Phone          string `json:"phone,omitempty"`
	Street         string `json:"street"`
	PostalCode     string `json:"postalCode"`
	City           string `json:"city"`
	Country        string `json:"country"`
}

// Input is the data captured by the checkout address step.
type Input struct {
	Email      string
	FirstName  string
	LastName   string
	Phone      string
	Street     string
	PostalCode string
	City       string
	Country    string
}

// Store persists customers.
type Store interface {
	Upsert(ctx context.Context, in Input, number string) (Customer, error)
}

// PGStore implements Store on Postgres.
type PGStore struct {
	DB db.DBTX
}

const upsertCustomer = `
INSERT INTO customers (customer_number, email, first_name, last_name, phone, street, postal_code, city, country)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9)
ON CONFLICT (email) DO UPDATE SET
    first_name = EXCLUDED.first_name,
    last_name = EXCLUDED.last_name,
    phone = COALESCE(EXCLUDED.phone, customers.phone),
    street = EXCLUDED.street,
    postal_code = EXCLUDED.postal_code,
    city = EXCLUDED.city,
    country = EXCLUDED.country,
    updated_at = now()
RETURNING id::text, customer_number, email, first_name, last_name, COALESCE(phone, ''), street, postal_code, city, country`

// Upsert inserts the customer or refreshes the stored address of an existing
// one. The customer number is only used for new rows.
func (s PGStore) Upsert(ctx context.Context, in Input, number string) (Customer, error) {
	var c Customer
	err := s.DB.QueryRow(ctx, upsertCustomer,
		number, NormalizeEmail(in.Email), in.FirstName, in.LastName, in.Phone,
		in.Street, in.PostalCode, in.City, countryOrDefault(in.Country),
	).Scan(&c.ID, &c.CustomerNumber, &c.Email, &c.FirstName, &c.LastName, &c.Phone,
		&c.Street, &c.PostalCode, &c.City, &c.Country)
	if err != nil {
		return Customer{}, fmt.Errorf("upsert customer: %w", err)
	}
	return c, nil
}

// Service applies customer persistence rules used by checkout.
type Service struct {
	Store     Store
	Logger    zerolog.Logger
	NewNumber func() string
}

const maxNumberAttempts = 3

// Ensure upserts the customer by email. A permission error from row level
// security yields a nil customer and no error so the order can still be
// placed as a guest order.
func (s *Service) Ensure(ctx context.Context, in Input) (*Customer, error) {
	var lastErr error
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		c, err := s.Store.Upsert(ctx, in, s.number())
		if err == nil {
			return &c, nil
		}
		if db.IsPermissionDenied(err) {
			s.Logger.Warn().Err(err).Str("email", NormalizeEmail(in.Email)).Msg("customer_upsert_denied")
			return nil, nil
		}
		if !db.IsUniqueViolation(err, "customers_customer_number_key") {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("allocate customer number: %w", lastErr)
}

func (s *Service) number() string {
	if s.NewNumber != nil {
		return s.NewNumber()
	}
	return NewNumber()
}

// NewNumber returns a random customer number such as KD-3F9A12C4.
func NewNumber() string {
	id := uuid.New()
	return "KD-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func countryOrDefault(c string) string {
	if strings.TrimSpace(c) == "" {
		return "DE"
	}
	return strings.ToUpper(strings.TrimSpace(c))
}
