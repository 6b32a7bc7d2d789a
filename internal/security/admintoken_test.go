package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func adminRequest(auth string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	return req
}

func TestAdminTokenMiddleware(t *testing.T) {
	handler := AdminToken{Token: "s3cret"}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name string
		auth string
		want int
	}{
		{"valid", "Bearer s3cret", http.StatusOK},
		{"case insensitive scheme", "bearer s3cret", http.StatusOK},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"missing header", "", http.StatusUnauthorized},
		{"basic scheme", "Basic s3cret", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, adminRequest(tc.auth))
			require.Equal(t, tc.want, rr.Code)
		})
	}
}

func TestAdminTokenDisabledWithoutToken(t *testing.T) {
	handler := AdminToken{}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, adminRequest("Bearer "))
	require.Equal(t, http.StatusForbidden, rr.Code)
}
