package order_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/brennholz-api/internal/order"
)

func TestTokenRoundTrip(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tokens := order.Tokens{Secret: []byte("secret"), TTL: time.Hour, Now: func() time.Time { return now }}

	tok, err := tokens.Issue("BK-202605-0001", "max@example.com")
	require.NoError(t, err)

	claims, err := tokens.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, "BK-202605-0001", claims.OrderNumber)
	require.Equal(t, "max@example.com", claims.Email)
}

func TestTokenRejectsExpiredAndForeign(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tokens := order.Tokens{Secret: []byte("secret"), TTL: time.Hour, Now: func() time.Time { return now }}
	tok, err := tokens.Issue("BK-202605-0001", "max@example.com")
	require.NoError(t, err)

	later := tokens
	later.Now = func() time.Time { return now.Add(2 * time.Hour) }
	_, err = later.Verify(tok)
	require.ErrorIs(t, err, order.ErrInvalidToken)

	other := tokens
	other.Secret = []byte("other")
	_, err = other.Verify(tok)
	require.ErrorIs(t, err, order.ErrInvalidToken)

	_, err = tokens.Verify("")
	require.ErrorIs(t, err, order.ErrInvalidToken)
}
