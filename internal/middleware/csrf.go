// AngelaMos | 2026
// csrf.go

package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/angelamos/clinica-identity/internal/core"
)

const (
	CSRFCookieName = "csrf_token"
	CSRFHeaderName = "X-CSRF-Token"
)

// CSRF enforces the double-submit cookie pattern: every state-changing
// request must echo the csrf cookie value back in the X-CSRF-Token header,
// matched byte-for-byte.
func CSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(CSRFCookieName)
		if err != nil || cookie.Value == "" {
			core.JSONError(w, core.ForbiddenError("missing CSRF token"))
			return
		}

		header := r.Header.Get(CSRFHeaderName)
		if header == "" {
			core.JSONError(w, core.ForbiddenError("missing CSRF header"))
			return
		}

		if subtle.ConstantTimeCompare(
			[]byte(cookie.Value),
			[]byte(header),
		) != 1 {
			core.JSONError(w, core.ForbiddenError("CSRF token mismatch"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
