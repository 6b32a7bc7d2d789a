package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/brennholz-api/internal/cache"
	"github.com/noah-isme/brennholz-api/internal/db"
	"github.com/noah-isme/brennholz-api/internal/pricing"
)

// Setting keys in app_settings.
const (
	KeyShippingCosts    = "shipping_costs"
	KeyMinOrderQuantity = "min_order_quantity"
)

// DefaultMinOrderQuantity applies when app_settings carries no override.
const DefaultMinOrderQuantity = 3

// Snapshot is the shop configuration a checkout is priced against. It is read
// once per checkout so every step sees the same values.
type Snapshot struct {
	VATRate          pricing.Money            `json:"vatRate"`
	PricesIncludeTax bool                     `json:"pricesIncludeTax"`
	ShippingCosts    map[string]pricing.Money `json:"shippingCosts"`
	MinOrderQuantity int                      `json:"minOrderQuantity"`
}

// Tax returns the calculator's tax configuration.
func (s Snapshot) Tax() pricing.TaxConfig {
	return pricing.TaxConfig{VATRate: s.VATRate, PricesIncludeTax: s.PricesIncludeTax}
}

// ShippingCost returns the cost of a delivery method.
func (s Snapshot) ShippingCost(method string) (pricing.Money, bool) {
	cost, ok := s.ShippingCosts[strings.TrimSpace(method)]
	return cost, ok
}

// DeliveryMethods lists the configured delivery methods in a stable order.
func (s Snapshot) DeliveryMethods() []string {
	out := make([]string, 0, len(s.ShippingCosts))
	for k := range s.ShippingCosts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Store loads the settings snapshot from persistence.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
}

// PGStore reads invoice_settings and app_settings.
type PGStore struct {
	DB db.DBTX
}

// Load implements Store.
func (s PGStore) Load(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		VATRate:          pricing.MustParse("19"),
		PricesIncludeTax: true,
		ShippingCosts:    map[string]pricing.Money{},
		MinOrderQuantity: DefaultMinOrderQuantity,
	}

	err := s.DB.QueryRow(ctx, `SELECT vat_rate, prices_include_tax FROM invoice_settings WHERE id = 1`).
		Scan(&snap.VATRate, &snap.PricesIncludeTax)
	if err != nil && !db.IsNoRows(err) {
		return Snapshot{}, fmt.Errorf("load invoice settings: %w", err)
	}

	rows, err := s.DB.Query(ctx, `SELECT key, value FROM app_settings WHERE key = ANY($1)`,
		[]string{KeyShippingCosts, KeyMinOrderQuantity})
	if err != nil {
		return Snapshot{}, fmt.Errorf("load app settings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			raw []byte
		)
		if err := rows.Scan(&key, &raw); err != nil {
			return Snapshot{}, fmt.Errorf("scan app setting: %w", err)
		}
		if err := apply(&snap, key, raw); err != nil {
			return Snapshot{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("iterate app settings: %w", err)
	}
	return snap, nil
}

func apply(snap *Snapshot, key string, raw []byte) error {
	switch key {
	case KeyShippingCosts:
		costs := map[string]pricing.Money{}
		if err := json.Unmarshal(raw, &costs); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		for k, v := range costs {
			snap.ShippingCosts[k] = pricing.Round2(v)
		}
	case KeyMinOrderQuantity:
		var n int
		if err := json.Unmarshal(raw, &n); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		if n > 0 {
			snap.MinOrderQuantity = n
		}
	}
	return nil
}

// Service caches the snapshot in Redis.
type Service struct {
	Store Store
	Cache *cache.JSON
}

const snapshotKey = "snapshot"

// Snapshot returns the current settings, served from cache when fresh.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	return cache.Remember(ctx, s.Cache, snapshotKey, s.Store.Load)
}

// Invalidate drops the cached snapshot so the next read hits the database.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.Cache.Delete(ctx, snapshotKey)
}
