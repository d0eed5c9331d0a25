package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/cadogy-backend/internal/apperr"
	"github.com/cadogy/cadogy-backend/internal/auth"
	"github.com/cadogy/cadogy-backend/internal/db/models"
	"github.com/cadogy/cadogy-backend/internal/services"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		path string
		want RouteClass
	}{
		{"/auth/verify-email", ClassLegacyRedirect},
		{"/auth/reset-password", ClassLegacyRedirect},
		{"/", ClassPublicPage},
		{"/login", ClassPublicPage},
		{"/articles/hello-world", ClassPublicPage},
		{"/uploads/avatars/u1/a.png", ClassPublicPage},
		{"/healthz", ClassPublicPage},
		{"/api/auth/login", ClassPublicAPI},
		{"/api/public/articles", ClassPublicAPI},
		{"/api/webhooks/stripe", ClassPublicAPI},
		{"/api/dashboard/api-keys", ClassSessionAPI},
		{"/api/user/profile", ClassSessionAPI},
		{"/api/admin/users", ClassSessionAPI},
		{"/api/v1/status", ClassAPIKey},
		{"/api", ClassAPIKey},
		{"/api/anything-else", ClassAPIKey},
		{"/dashboard", ClassSessionPage},
		{"/dashboard/tokens", ClassSessionPage},
		{"/settings", ClassSessionPage},
		{"/about-us", ClassDefault},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := Classify(tt.path); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.path, got, tt.want)
			}
		})
	}
}

type fakeKeys struct {
	principals map[string]*services.APIPrincipal
}

func (f *fakeKeys) Authenticate(_ context.Context, presented string) (*services.APIPrincipal, error) {
	if presented == "" {
		return nil, apperr.New(apperr.KindUnauthorized, "API key required")
	}
	if p, ok := f.principals[presented]; ok {
		return p, nil
	}
	return nil, apperr.New(apperr.KindUnauthorized, "Invalid API key")
}

type usageSink struct {
	mu       sync.Mutex
	logs     []*models.UsageLog
	lastUsed []string
	done     chan struct{}
}

func newUsageSink() *usageSink {
	return &usageSink{done: make(chan struct{}, 8)}
}

func (u *usageSink) RecordUsage(_ context.Context, l *models.UsageLog) error {
	u.mu.Lock()
	u.logs = append(u.logs, l)
	u.mu.Unlock()
	u.done <- struct{}{}
	return nil
}

func (u *usageSink) UpdateLastUsed(_ context.Context, keyID string) error {
	u.mu.Lock()
	u.lastUsed = append(u.lastUsed, keyID)
	u.mu.Unlock()
	return nil
}

type guardEnv struct {
	engine *gin.Engine
	issuer *auth.SessionIssuer
	usage  *usageSink
}

func newGuardEnv(users ...*models.User) *guardEnv {
	sessions, issuer, _ := newTestSessions(users...)
	keys := &fakeKeys{principals: map[string]*services.APIPrincipal{
		"static-key": {Tier: services.TierStatic},
		"cdg_user":   {Tier: services.TierUser, UserID: "u-alice", KeyID: "k1"},
	}}
	usage := newUsageSink()

	r := gin.New()
	r.Use(NewGuard(sessions, keys, usage, usage).Middleware())
	ok := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":     c.GetString(UserIDKey),
			"auth_method": c.GetString(AuthMethodKey),
		})
	}
	r.GET("/api/auth/session", ok)
	r.GET("/api/dashboard/usage", ok)
	r.GET("/api/v1/status", ok)
	r.POST("/api/v1/tokens/consume", func(c *gin.Context) {
		c.Set(TokensUsedKey, int64(25))
		ok(c)
	})
	r.NoRoute(func(c *gin.Context) { c.Status(http.StatusOK) })
	return &guardEnv{engine: r, issuer: issuer, usage: usage}
}

func (e *guardEnv) do(method, target string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json body %q: %v", w.Body.String(), err)
	}
	return body
}

func TestGuard_LegacyRedirectKeepsQuery(t *testing.T) {
	env := newGuardEnv()
	w := env.do(http.MethodGet, "/auth/verify-email?token=abc", nil)
	if w.Code != http.StatusPermanentRedirect {
		t.Fatalf("status = %d, want 308", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/verify-email?token=abc" {
		t.Errorf("Location = %q", loc)
	}
}

func TestGuard_PublicPathsPassWithoutCredentials(t *testing.T) {
	env := newGuardEnv()
	for _, p := range []string{"/", "/login", "/articles/x", "/about-us", "/api/auth/session"} {
		if w := env.do(http.MethodGet, p, nil); w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", p, w.Code)
		}
	}
}

func TestGuard_PublicAPIAttachesSession(t *testing.T) {
	alice := &models.User{ID: "u-alice", Role: auth.RoleUser}
	env := newGuardEnv(alice)
	tok := mustIssue(t, env.issuer, alice)

	w := env.do(http.MethodGet, "/api/auth/session", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "cadogy_session", Value: tok})
	})
	if got := decode(t, w)["user_id"]; got != "u-alice" {
		t.Errorf("user_id = %v, want u-alice", got)
	}
}

func TestGuard_SessionAPI(t *testing.T) {
	alice := &models.User{ID: "u-alice", Role: auth.RoleUser}
	env := newGuardEnv(alice)

	w := env.do(http.MethodGet, "/api/dashboard/usage", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", w.Code)
	}
	if got := decode(t, w)["code"]; got != "unauthorized" {
		t.Errorf("code = %v, want unauthorized", got)
	}

	// API keys do not grant access to session routes
	w = env.do(http.MethodGet, "/api/dashboard/usage", func(r *http.Request) { r.Header.Set("x-api-key", "cdg_user") })
	if w.Code != http.StatusUnauthorized {
		t.Errorf("api key status = %d, want 401", w.Code)
	}

	tok := mustIssue(t, env.issuer, alice)
	w = env.do(http.MethodGet, "/api/dashboard/usage", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "cadogy_session", Value: tok})
	})
	if w.Code != http.StatusOK {
		t.Fatalf("signed-in status = %d, want 200", w.Code)
	}
	if got := decode(t, w)["auth_method"]; got != "session" {
		t.Errorf("auth_method = %v, want session", got)
	}
}

func TestGuard_SessionPageRedirectsToLogin(t *testing.T) {
	env := newGuardEnv()
	w := env.do(http.MethodGet, "/dashboard/tokens?tab=history", nil)
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	want := "/login?callbackUrl=%2Fdashboard%2Ftokens%3Ftab%3Dhistory"
	if loc := w.Header().Get("Location"); loc != want {
		t.Errorf("Location = %q, want %q", loc, want)
	}
}

func TestGuard_APIKey(t *testing.T) {
	env := newGuardEnv()

	tests := []struct {
		name   string
		mutate func(*http.Request)
		want   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"invalid", func(r *http.Request) { r.Header.Set("x-api-key", "nope") }, http.StatusUnauthorized},
		{"static header", func(r *http.Request) { r.Header.Set("x-api-key", "static-key") }, http.StatusOK},
		{"user key", func(r *http.Request) { r.Header.Set("x-api-key", "cdg_user") }, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(http.MethodGet, "/api/v1/status", tt.mutate); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	w := env.do(http.MethodGet, "/api/v1/status?api_key=static-key", nil)
	if w.Code != http.StatusOK {
		t.Errorf("query key status = %d, want 200", w.Code)
	}
	if got := decode(t, w)["auth_method"]; got != "api_key" {
		t.Errorf("auth_method = %v, want api_key", got)
	}
}

func TestGuard_UserKeyRecordsUsage(t *testing.T) {
	env := newGuardEnv()
	w := env.do(http.MethodPost, "/api/v1/tokens/consume", func(r *http.Request) { r.Header.Set("x-api-key", "cdg_user") })
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := decode(t, w)["user_id"]; got != "u-alice" {
		t.Errorf("user_id = %v, want key owner", got)
	}

	select {
	case <-env.usage.done:
	case <-time.After(2 * time.Second):
		t.Fatal("usage was not recorded")
	}
	env.usage.mu.Lock()
	defer env.usage.mu.Unlock()
	l := env.usage.logs[0]
	if *l.APIKeyID != "k1" || l.UserID != "u-alice" || l.TokensUsed != 25 || l.StatusCode != http.StatusOK {
		t.Errorf("usage log = %+v", l)
	}
	if len(env.usage.lastUsed) != 1 || env.usage.lastUsed[0] != "k1" {
		t.Errorf("lastUsed = %v, want [k1]", env.usage.lastUsed)
	}
}

func TestGuard_StaticKeyRecordsNoUsage(t *testing.T) {
	env := newGuardEnv()
	env.do(http.MethodGet, "/api/v1/status", func(r *http.Request) { r.Header.Set("x-api-key", "static-key") })

	select {
	case <-env.usage.done:
		t.Error("usage recorded for static key")
	case <-time.After(100 * time.Millisecond):
	}
}
