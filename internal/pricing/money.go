package pricing

import "github.com/shopspring/decimal"

// Money is a monetary amount in euros. All persisted values carry two decimals.
type Money = decimal.Decimal

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Round2 rounds half away from zero to the cent. Amounts in this package are
// never negative, so this is round-half-up.
func Round2(m Money) Money {
	return m.Round(2)
}

// MustParse parses a decimal string such as "45.00" and panics on malformed input.
func MustParse(s string) Money {
	return decimal.RequireFromString(s)
}

// Cents renders an amount with exactly two decimals in JSON, "58.50" rather
// than "58.5".
type Cents Money

// MarshalJSON implements json.Marshaler.
func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(`"` + Money(c).StringFixed(2) + `"`), nil
}

func floorZero(m Money) Money {
	if m.IsNegative() {
		return zero
	}
	return m
}
