// AngelaMos | 2026
// cookies.go

package auth

import (
	"net/http"
	"time"

	"github.com/angelamos/clinica-identity/internal/config"
	"github.com/angelamos/clinica-identity/internal/core"
	"github.com/angelamos/clinica-identity/internal/middleware"
)

const (
	RefreshCookieName = "refresh_token"
	refreshCookiePath = "/api/auth"
)

// CookieWriter stamps the refresh-token and CSRF cookies on auth
// responses. The refresh cookie is HttpOnly and scoped to the auth
// endpoints; the CSRF cookie is readable by the frontend so it can echo
// the value in the X-CSRF-Token header.
type CookieWriter struct {
	cfg config.CookieConfig
}

func NewCookieWriter(cfg config.CookieConfig) *CookieWriter {
	return &CookieWriter{cfg: cfg}
}

func (c *CookieWriter) SetRefreshToken(
	w http.ResponseWriter,
	token string,
	expiresAt time.Time,
) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    token,
		Path:     refreshCookiePath,
		Domain:   c.cfg.Domain,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   c.cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (c *CookieWriter) ClearRefreshToken(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		Domain:   c.cfg.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (c *CookieWriter) SetCSRFToken(
	w http.ResponseWriter,
	expiresAt time.Time,
) (string, error) {
	token, err := core.GenerateSecureToken(32)
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.CSRFCookieName,
		Value:    token,
		Path:     "/",
		Domain:   c.cfg.Domain,
		Expires:  expiresAt,
		HttpOnly: false,
		Secure:   c.cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})

	return token, nil
}

func (c *CookieWriter) ClearCSRFToken(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.CSRFCookieName,
		Value:    "",
		Path:     "/",
		Domain:   c.cfg.Domain,
		MaxAge:   -1,
		Secure:   c.cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// RefreshTokenFromRequest prefers the cookie and falls back to the JSON
// body field for non-browser clients.
func RefreshTokenFromRequest(r *http.Request, bodyToken string) string {
	if cookie, err := r.Cookie(RefreshCookieName); err == nil &&
		cookie.Value != "" {
		return cookie.Value
	}
	return bodyToken
}
