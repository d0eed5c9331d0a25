package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func securityRecorder(path string, hsts bool) *httptest.ResponseRecorder {
	r := gin.New()
	r.Use(SecurityHeadersMiddleware(SiteSecurityHeadersConfig(hsts), APISecurityHeadersConfig(hsts)))
	r.NoRoute(func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestSecurityHeaders_APIPolicy(t *testing.T) {
	w := securityRecorder("/api/v1/status", false)

	want := map[string]string{
		"X-Frame-Options":              "DENY",
		"Content-Security-Policy":      "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":              "no-referrer",
		"Cross-Origin-Resource-Policy": "same-origin",
		"X-Content-Type-Options":       "nosniff",
	}
	for h, v := range want {
		if got := w.Header().Get(h); got != v {
			t.Errorf("%s = %q, want %q", h, got, v)
		}
	}
	if got := w.Header().Get("Permissions-Policy"); got != "" {
		t.Errorf("Permissions-Policy = %q, want empty on API responses", got)
	}
}

func TestSecurityHeaders_SitePolicy(t *testing.T) {
	w := securityRecorder("/uploads/avatars/u/a.png", false)

	if got := w.Header().Get("Cross-Origin-Resource-Policy"); got != "cross-origin" {
		t.Errorf("Cross-Origin-Resource-Policy = %q, want cross-origin for uploads", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "SAMEORIGIN" {
		t.Errorf("X-Frame-Options = %q, want SAMEORIGIN", got)
	}
	if csp := w.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "img-src 'self' data: https:") {
		t.Errorf("CSP = %q, want remote images allowed", csp)
	}
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	if got := securityRecorder("/api/x", false).Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS = %q, want empty when disabled", got)
	}
	got := securityRecorder("/api/x", true).Header().Get("Strict-Transport-Security")
	if got != "max-age=31536000; includeSubDomains" {
		t.Errorf("HSTS = %q", got)
	}
}
