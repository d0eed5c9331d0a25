package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadogy/cadogy-backend/internal/apperr"
	"github.com/cadogy/cadogy-backend/internal/db/models"
	"github.com/cadogy/cadogy-backend/internal/db/repositories"
	"github.com/cadogy/cadogy-backend/internal/middleware"
	"github.com/cadogy/cadogy-backend/internal/payment"
	"github.com/cadogy/cadogy-backend/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	keyAlice    = "6f1c2b1e-3d4a-4c5b-8e9f-0a1b2c3d4e5f"
	keyBob      = "7a2d3c2f-4e5b-4d6c-9f0a-1b2c3d4e5f60"
	ticketAlice = "8b3e4d30-5f6c-4e7d-a01b-2c3d4e5f6071"
	ticketBob   = "9c4f5e41-607d-4f8e-b12c-3d4e5f607182"
)

// asUser attaches a session user the way the session guard does
func asUser(id string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id == "" {
			return
		}
		c.Set(middleware.UserKey, &models.User{ID: id, Email: id + "@example.com", Role: "user"})
		c.Set(middleware.UserIDKey, id)
	}
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

type fakeKeys struct {
	owner   map[string]string // key id -> owner
	active  map[string]bool
	created services.CreateKeyInput
	lookups int
}

func newFakeKeys() *fakeKeys {
	return &fakeKeys{
		owner:  map[string]string{keyAlice: "alice", keyBob: "bob"},
		active: map[string]bool{keyAlice: true, keyBob: true},
	}
}

func (f *fakeKeys) List(_ context.Context, userID string) ([]services.KeyView, error) {
	var out []services.KeyView
	for id, owner := range f.owner {
		if owner == userID {
			out = append(out, services.KeyView{ID: id, MaskedKey: "cdg_abcd…wxyz", IsActive: f.active[id]})
		}
	}
	return out, nil
}

func (f *fakeKeys) Create(_ context.Context, userID string, in services.CreateKeyInput) (*services.CreatedKey, error) {
	f.created = in
	return &services.CreatedKey{KeyView: services.KeyView{ID: "k-new", Name: in.Name, Type: in.Type}, Key: "cdg_full-secret"}, nil
}

func (f *fakeKeys) owned(userID, keyID string) error {
	f.lookups++
	if f.owner[keyID] != userID {
		return apperr.ErrNotFound
	}
	return nil
}

func (f *fakeKeys) SetActive(_ context.Context, userID, keyID string, active bool) error {
	if err := f.owned(userID, keyID); err != nil {
		return err
	}
	f.active[keyID] = active
	return nil
}

func (f *fakeKeys) Delete(_ context.Context, userID, keyID string) error {
	if err := f.owned(userID, keyID); err != nil {
		return err
	}
	delete(f.owner, keyID)
	return nil
}

func (f *fakeKeys) Reveal(_ context.Context, userID, keyID string) (string, error) {
	if err := f.owned(userID, keyID); err != nil {
		return "", err
	}
	return "cdg_secret-" + keyID, nil
}

func newKeyRouter(keys KeyService, userID string) *gin.Engine {
	h := NewAPIKeyHandlers(keys)
	r := gin.New()
	g := r.Group("/api/dashboard/api-keys", asUser(userID))
	g.GET("", h.ListHandler())
	g.POST("", h.CreateHandler())
	g.PATCH("/:id", h.UpdateHandler())
	g.DELETE("/:id", h.DeleteHandler())
	g.GET("/:id/reveal", h.RevealHandler())
	return r
}

func TestAPIKeys_Unauthenticated(t *testing.T) {
	r := newKeyRouter(newFakeKeys(), "")
	w := do(r, http.MethodGet, "/api/dashboard/api-keys", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPIKeys_List(t *testing.T) {
	r := newKeyRouter(newFakeKeys(), "alice")
	w := do(r, http.MethodGet, "/api/dashboard/api-keys", "")
	require.Equal(t, http.StatusOK, w.Code)
	keys := decode(t, w)["keys"].([]interface{})
	require.Len(t, keys, 1)
	assert.Equal(t, keyAlice, keys[0].(map[string]interface{})["id"])
	assert.NotContains(t, w.Body.String(), "cdg_secret")
}

func TestAPIKeys_Create(t *testing.T) {
	keys := newFakeKeys()
	r := newKeyRouter(keys, "alice")

	w := do(r, http.MethodPost, "/api/dashboard/api-keys", `{"name":"CI","expires_in_days":30}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "cdg_full-secret", decode(t, w)["key"])
	assert.Equal(t, models.APIKeyTypePrimary, keys.created.Type)
	assert.Equal(t, 30, keys.created.ExpiresInDays)

	w = do(r, http.MethodPost, "/api/dashboard/api-keys", `{"name":"CI","type":"tertiary"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["fields"], "type")
}

func TestAPIKeys_OwnerOnly(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"patch", http.MethodPatch, "/api/dashboard/api-keys/" + keyBob, `{"is_active":false}`},
		{"delete", http.MethodDelete, "/api/dashboard/api-keys/" + keyBob, ""},
		{"reveal", http.MethodGet, "/api/dashboard/api-keys/" + keyBob + "/reveal", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := newFakeKeys()
			r := newKeyRouter(keys, "alice")
			w := do(r, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusNotFound, w.Code)
			assert.Equal(t, "bob", keys.owner[keyBob])
			assert.True(t, keys.active[keyBob])
		})
	}
}

func TestAPIKeys_MalformedIDIsNotFound(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"patch", http.MethodPatch, "/api/dashboard/api-keys/not-a-uuid", `{"is_active":false}`},
		{"delete", http.MethodDelete, "/api/dashboard/api-keys/not-a-uuid", ""},
		{"reveal", http.MethodGet, "/api/dashboard/api-keys/not-a-uuid/reveal", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := newFakeKeys()
			r := newKeyRouter(keys, "alice")
			w := do(r, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusNotFound, w.Code)
			assert.Equal(t, string(apperr.KindNotFound), decode(t, w)["code"])
			assert.Zero(t, keys.lookups)
		})
	}
}

func TestAPIKeys_ToggleAndReveal(t *testing.T) {
	keys := newFakeKeys()
	r := newKeyRouter(keys, "alice")

	w := do(r, http.MethodPatch, "/api/dashboard/api-keys/"+keyAlice, `{"is_active":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, keys.active[keyAlice])

	w = do(r, http.MethodPatch, "/api/dashboard/api-keys/"+keyAlice, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/dashboard/api-keys/"+keyAlice+"/reveal", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cdg_secret-"+keyAlice, decode(t, w)["key"])
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

// ---------------------------------------------------------------------------
// Tickets
// ---------------------------------------------------------------------------

type fakeTickets struct {
	tickets  map[string]*models.Ticket
	messages map[string][]models.TicketMessage
	filters  repositories.TicketFilters
	limit    int
	offset   int
	gets     int
}

func newFakeTickets() *fakeTickets {
	return &fakeTickets{
		tickets: map[string]*models.Ticket{
			ticketAlice: {ID: ticketAlice, UserID: "alice", Subject: "Help", Status: models.TicketStatusPending},
			ticketBob:   {ID: ticketBob, UserID: "bob", Subject: "Other", Status: models.TicketStatusOpen},
		},
		messages: map[string][]models.TicketMessage{
			ticketAlice: {{ID: "m1", TicketID: ticketAlice, Body: "first"}},
		},
	}
}

func (f *fakeTickets) CreateTicket(_ context.Context, t *models.Ticket, body string) error {
	t.ID = "t-new"
	f.tickets[t.ID] = t
	f.messages[t.ID] = []models.TicketMessage{{TicketID: t.ID, AuthorID: &t.UserID, Body: body}}
	return nil
}

func (f *fakeTickets) GetTicket(_ context.Context, id, ownerID string) (*models.Ticket, error) {
	f.gets++
	t, ok := f.tickets[id]
	if !ok || (ownerID != "" && t.UserID != ownerID) {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTickets) ListTickets(_ context.Context, filters repositories.TicketFilters, limit, offset int) ([]*models.Ticket, int, error) {
	f.filters, f.limit, f.offset = filters, limit, offset
	var out []*models.Ticket
	for _, t := range f.tickets {
		if filters.UserID == "" || t.UserID == filters.UserID {
			out = append(out, t)
		}
	}
	return out, len(out), nil
}

func (f *fakeTickets) ListMessages(_ context.Context, id string) ([]models.TicketMessage, error) {
	return f.messages[id], nil
}

func (f *fakeTickets) AddMessage(_ context.Context, m *models.TicketMessage, newStatus string) error {
	m.ID = "m-new"
	f.messages[m.TicketID] = append(f.messages[m.TicketID], *m)
	if newStatus != "" {
		f.tickets[m.TicketID].Status = newStatus
	}
	return nil
}

func (f *fakeTickets) SetStatus(_ context.Context, id, status string) (bool, error) {
	t, ok := f.tickets[id]
	if !ok {
		return false, nil
	}
	t.Status = status
	return true, nil
}

func newTicketRouter(store TicketStore, userID string) *gin.Engine {
	h := NewTicketHandlers(store)
	r := gin.New()
	g := r.Group("/api/dashboard/tickets", asUser(userID))
	g.GET("", h.ListHandler())
	g.POST("", h.CreateHandler())
	g.GET("/:id", h.GetHandler())
	g.POST("/:id/messages", h.AddMessageHandler())
	g.POST("/:id/close", h.CloseHandler())
	return r
}

func TestTickets_ListScopedToCaller(t *testing.T) {
	store := newFakeTickets()
	r := newTicketRouter(store, "alice")

	w := do(r, http.MethodGet, "/api/dashboard/tickets?status=pending&page=2&per_page=5", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "alice", store.filters.UserID)
	assert.Equal(t, "pending", store.filters.Status)
	assert.Equal(t, 5, store.limit)
	assert.Equal(t, 5, store.offset)

	w = do(r, http.MethodGet, "/api/dashboard/tickets?status=deleted", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTickets_Create(t *testing.T) {
	store := newFakeTickets()
	r := newTicketRouter(store, "alice")

	w := do(r, http.MethodPost, "/api/dashboard/tickets", `{"subject":"Broken build","message":"It fails"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := store.tickets["t-new"]
	require.NotNil(t, created)
	assert.Equal(t, "alice", created.UserID)
	assert.Equal(t, models.TicketStatusOpen, created.Status)
	assert.Equal(t, models.TicketPriorityNormal, created.Priority)
	assert.Equal(t, "It fails", store.messages["t-new"][0].Body)

	w = do(r, http.MethodPost, "/api/dashboard/tickets", `{"subject":"Hi","message":"x","status":"closed"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTickets_OtherUsersTicketIsNotFound(t *testing.T) {
	store := newFakeTickets()
	r := newTicketRouter(store, "alice")

	w := do(r, http.MethodGet, "/api/dashboard/tickets/"+ticketBob, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/api/dashboard/tickets/"+ticketBob+"/messages", `{"body":"sneaky"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, store.messages[ticketBob])

	w = do(r, http.MethodPost, "/api/dashboard/tickets/"+ticketBob+"/close", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, models.TicketStatusOpen, store.tickets[ticketBob].Status)
}

func TestTickets_MalformedIDIsNotFound(t *testing.T) {
	store := newFakeTickets()
	r := newTicketRouter(store, "alice")

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/api/dashboard/tickets/not-a-uuid", ""},
		{http.MethodPost, "/api/dashboard/tickets/1%27%20OR%201=1/messages", `{"body":"hi"}`},
		{http.MethodPost, "/api/dashboard/tickets/not-a-uuid/close", ""},
	}
	for _, tt := range tests {
		w := do(r, tt.method, tt.path, tt.body)
		assert.Equal(t, http.StatusNotFound, w.Code, tt.path)
		assert.Equal(t, string(apperr.KindNotFound), decode(t, w)["code"], tt.path)
	}
	assert.Zero(t, store.gets)
}

func TestTickets_GetReplyClose(t *testing.T) {
	store := newFakeTickets()
	r := newTicketRouter(store, "alice")

	w := do(r, http.MethodGet, "/api/dashboard/tickets/"+ticketAlice, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["messages"], 1)

	w = do(r, http.MethodPost, "/api/dashboard/tickets/"+ticketAlice+"/messages", `{"body":"any update?"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.TicketStatusOpen, store.tickets[ticketAlice].Status)
	last := store.messages[ticketAlice][len(store.messages[ticketAlice])-1]
	assert.False(t, last.IsStaff)
	assert.Equal(t, "alice", *last.AuthorID)

	w = do(r, http.MethodPost, "/api/dashboard/tickets/"+ticketAlice+"/close", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.TicketStatusClosed, store.tickets[ticketAlice].Status)
}

// ---------------------------------------------------------------------------
// Tokens
// ---------------------------------------------------------------------------

type fakeBilling struct {
	enabled  bool
	balance  int64
	verify   *services.FulfillmentResult
	verifyBy string
	limit    int
}

var errDisabled = apperr.New(apperr.KindUnavailable, "payments are not configured")

func (f *fakeBilling) PaymentsEnabled() bool { return f.enabled }

func (f *fakeBilling) Quote(tokens int64) (*payment.Quote, error) {
	if !f.enabled {
		return nil, errDisabled
	}
	if tokens > 1000 {
		return nil, apperr.Validation(map[string]string{"tokens": "must be at most 1000"})
	}
	return &payment.Quote{Tokens: tokens, Total: "1.00", Currency: "usd"}, nil
}

func (f *fakeBilling) StartCheckout(_ context.Context, userID, email string, tokens int64) (*services.CheckoutResult, error) {
	q, err := f.Quote(tokens)
	if err != nil {
		return nil, err
	}
	return &services.CheckoutResult{SessionID: "cs_1", URL: "https://checkout.example.com/cs_1", Quote: *q}, nil
}

func (f *fakeBilling) VerifyCheckout(_ context.Context, userID, sessionID string) (*services.FulfillmentResult, error) {
	f.verifyBy = userID
	if f.verify == nil {
		return nil, apperr.ErrNotFound
	}
	return f.verify, nil
}

func (f *fakeBilling) Balance(context.Context, string) (int64, error) { return f.balance, nil }

func (f *fakeBilling) Transactions(_ context.Context, _ string, limit, _ int) ([]*models.TokenTransaction, int, error) {
	f.limit = limit
	return []*models.TokenTransaction{{ID: "tx1", Amount: 100, BalanceAfter: 100}}, 1, nil
}

func newTokenRouter(b Billing, userID string) *gin.Engine {
	h := NewTokenHandlers(b)
	r := gin.New()
	g := r.Group("/api/dashboard/tokens", asUser(userID))
	g.GET("", h.BalanceHandler())
	g.GET("/quote", h.QuoteHandler())
	g.POST("/checkout", h.CheckoutHandler())
	g.GET("/verify", h.VerifyHandler())
	return r
}

func TestTokens_Balance(t *testing.T) {
	b := &fakeBilling{balance: 100}
	r := newTokenRouter(b, "alice")
	w := do(r, http.MethodGet, "/api/dashboard/tokens", "")
	require.Equal(t, http.StatusOK, w.Code)
	out := decode(t, w)
	assert.Equal(t, float64(100), out["balance"])
	assert.Equal(t, false, out["payments_enabled"])
	assert.Equal(t, recentTransactions, b.limit)
}

func TestTokens_CheckoutDisabled(t *testing.T) {
	r := newTokenRouter(&fakeBilling{}, "alice")
	w := do(r, http.MethodPost, "/api/dashboard/tokens/checkout", `{"tokens":100}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestTokens_Checkout(t *testing.T) {
	r := newTokenRouter(&fakeBilling{enabled: true}, "alice")

	w := do(r, http.MethodPost, "/api/dashboard/tokens/checkout", `{"tokens":100}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://checkout.example.com/cs_1", decode(t, w)["url"])

	w = do(r, http.MethodPost, "/api/dashboard/tokens/checkout", `{"tokens":5000}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/dashboard/tokens/checkout", `{"tokens":-1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTokens_Verify(t *testing.T) {
	b := &fakeBilling{enabled: true, verify: &services.FulfillmentResult{SessionID: "cs_1", Paid: true, Credited: true, Balance: 100}}
	r := newTokenRouter(b, "alice")

	w := do(r, http.MethodGet, "/api/dashboard/tokens/verify?session_id=cs_1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["credited"])
	assert.Equal(t, "alice", b.verifyBy)

	b.verify = nil
	w = do(r, http.MethodGet, "/api/dashboard/tokens/verify?session_id=cs_other", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTokens_Quote(t *testing.T) {
	r := newTokenRouter(&fakeBilling{enabled: true}, "alice")
	w := do(r, http.MethodGet, "/api/dashboard/tokens/quote?tokens=250", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(250), decode(t, w)["tokens"])

	w = do(r, http.MethodGet, "/api/dashboard/tokens/quote", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ---------------------------------------------------------------------------
// Usage
// ---------------------------------------------------------------------------

type fakeUsage struct {
	days int
}

func (f *fakeUsage) Summary(_ context.Context, _ string, days int) (*models.UsageSummary, error) {
	f.days = days
	return &models.UsageSummary{TotalRequests: 3, TokensUsed: 10}, nil
}

func TestUsage(t *testing.T) {
	u := &fakeUsage{}
	h := NewUsageHandlers(u)
	r := gin.New()
	r.GET("/api/dashboard/usage", asUser("alice"), h.SummaryHandler())

	w := do(r, http.MethodGet, "/api/dashboard/usage", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 30, u.days)
	summary := decode(t, w)["summary"].(map[string]interface{})
	assert.Equal(t, float64(3), summary["total_requests"])
	assert.NotNil(t, summary["days"])

	w = do(r, http.MethodGet, "/api/dashboard/usage?days=7", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, u.days)

	w = do(r, http.MethodGet, "/api/dashboard/usage?days=0", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/api/dashboard/usage?days=1000", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
