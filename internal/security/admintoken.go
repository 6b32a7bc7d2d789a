package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/noah-isme/brennholz-api/internal/common"
)

// AdminToken guards operator endpoints with a static bearer token. An empty
// token disables the routes entirely.
type AdminToken struct {
	Token string
}

// Middleware rejects requests without the expected Authorization header.
func (a AdminToken) Middleware(next http.Handler) http.Handler {
	want := strings.TrimSpace(a.Token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if want == "" {
			common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "admin api disabled", nil)
			return
		}
		got, ok := bearer(r.Header.Get("Authorization"))
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearer(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}
