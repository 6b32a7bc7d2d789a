package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ErrInvalidToken is returned for malformed, forged or expired confirmation tokens.
var ErrInvalidToken = errors.New("invalid confirmation token")

const (
	tokenIssuer   = "brennholz-api"
	tokenAudience = "order-confirmation"
	claimEmail    = "email"
)

// Tokens issues and verifies the signed token that lets a guest buyer open
// their order confirmation without an account.
type Tokens struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

// Claims identifies the order a token grants access to.
type Claims struct {
	OrderNumber string
	Email       string
}

// Issue signs a token for the order.
func (t Tokens) Issue(orderNumber, email string) (string, error) {
	if len(t.Secret) == 0 {
		return "", errors.New("confirmation token secret not configured")
	}
	now := t.now()
	ttl := t.TTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	tok, err := jwt.NewBuilder().
		Issuer(tokenIssuer).
		Audience([]string{tokenAudience}).
		Subject(orderNumber).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Claim(claimEmail, email).
		Build()
	if err != nil {
		return "", fmt.Errorf("build token: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, t.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return string(signed), nil
}

// Verify checks signature, issuer, audience and expiry.
func (t Tokens) Verify(token string) (Claims, error) {
	if len(t.Secret) == 0 || token == "" {
		return Claims{}, ErrInvalidToken
	}
	tok, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.HS256, t.Secret),
		jwt.WithValidate(true),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithClock(jwt.ClockFunc(t.now)),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims := Claims{OrderNumber: tok.Subject()}
	if v, ok := tok.Get(claimEmail); ok {
		claims.Email, _ = v.(string)
	}
	if claims.OrderNumber == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

func (t Tokens) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}
