// AngelaMos | 2026
// csrf_test.go

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func csrfRequest(method, cookie, header string) *http.Request {
	req := httptest.NewRequest(method, "/", nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: cookie})
	}
	if header != "" {
		req.Header.Set(CSRFHeaderName, header)
	}
	return req
}

func TestCSRFSafeMethodsPass(t *testing.T) {
	var called bool
	handler := CSRF(okHandler(&called))

	for _, method := range []string{
		http.MethodGet,
		http.MethodHead,
		http.MethodOptions,
	} {
		called = false
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, csrfRequest(method, "", ""))
		assert.True(t, called, "method %s", method)
	}
}

func TestCSRFDoubleSubmit(t *testing.T) {
	var called bool
	handler := CSRF(okHandler(&called))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, csrfRequest(http.MethodPost, "tok-123", "tok-123"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}

func TestCSRFRejections(t *testing.T) {
	var called bool
	handler := CSRF(okHandler(&called))

	tests := []struct {
		name   string
		cookie string
		header string
	}{
		{"no cookie", "", "tok-123"},
		{"no header", "tok-123", ""},
		{"mismatch", "tok-123", "tok-456"},
	}

	for _, tt := range tests {
		called = false
		rec := httptest.NewRecorder()
		handler.ServeHTTP(
			rec,
			csrfRequest(http.MethodPost, tt.cookie, tt.header),
		)
		assert.Equal(t, http.StatusForbidden, rec.Code, tt.name)
		assert.False(t, called, tt.name)
	}
}
