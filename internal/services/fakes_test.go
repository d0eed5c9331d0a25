package services

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cadogy/cadogy-backend/internal/db/models"
	"github.com/cadogy/cadogy-backend/internal/db/repositories"
	"github.com/cadogy/cadogy-backend/internal/email"
	"github.com/cadogy/cadogy-backend/internal/payment"
)

type fakeUsers struct {
	mu    sync.Mutex
	byID  map[string]*models.User
	links map[string]string
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[string]*models.User{}, links: map[string]string{}}
}

func (f *fakeUsers) CreateUser(_ context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if existing.Email == strings.ToLower(u.Email) {
			return repositories.ErrDuplicateEmail
		}
	}
	u.ID = uuid.New().String()
	u.Email = strings.ToLower(u.Email)
	cp := *u
	f.byID[u.ID] = &cp
	return nil
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, e string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Email == e {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) GetUserByOIDCSub(_ context.Context, sub string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.OIDCSub != nil && *u.OIDCSub == sub {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) UpdatePassword(_ context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[id].PasswordHash = &hash
	return nil
}

func (f *fakeUsers) LinkOIDCSub(_ context.Context, id, sub string, verified bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.byID[id]
	u.OIDCSub = &sub
	if verified && u.EmailVerifiedAt == nil {
		now := time.Now()
		u.EmailVerifiedAt = &now
	}
	f.links[id] = sub
	return nil
}

// fakeTokens mirrors the repository's delete-then-insert and single-use semantics
type fakeTokens struct {
	mu     sync.Mutex
	users  *fakeUsers
	tokens []*models.VerificationToken
	now    func() time.Time
	err    error
}

func (f *fakeTokens) Issue(_ context.Context, tok *models.VerificationToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	kept := f.tokens[:0]
	for _, t := range f.tokens {
		if t.Identifier != tok.Identifier || t.Purpose != tok.Purpose {
			kept = append(kept, t)
		}
	}
	cp := *tok
	f.tokens = append(kept, &cp)
	return nil
}

func (f *fakeTokens) consume(token, purpose string) (*models.User, error) {
	for i, t := range f.tokens {
		if t.Token == token && t.Purpose == purpose && !t.IsExpired(f.now()) {
			f.tokens = append(f.tokens[:i], f.tokens[i+1:]...)
			u, _ := f.users.GetUserByEmail(context.Background(), t.Identifier)
			if u == nil {
				return nil, repositories.ErrTokenInvalid
			}
			return f.users.byID[u.ID], nil
		}
	}
	return nil, repositories.ErrTokenInvalid
}

func (f *fakeTokens) ConsumeEmailVerification(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, err := f.consume(token, models.PurposeEmailVerification)
	if err != nil {
		return "", err
	}
	now := f.now()
	u.EmailVerifiedAt = &now
	return u.ID, nil
}

func (f *fakeTokens) ConsumePasswordReset(_ context.Context, token, hash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, err := f.consume(token, models.PurposePasswordReset)
	if err != nil {
		return "", err
	}
	u.PasswordHash = &hash
	return u.ID, nil
}

func (f *fakeTokens) latest(identifier, purpose string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.Identifier == identifier && t.Purpose == purpose {
			return t.Token
		}
	}
	return ""
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
}

func (f *fakeMailer) Dispatch(_ context.Context, msg email.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeKeys struct {
	mu   sync.Mutex
	keys map[string]*models.APIKey
}

func newFakeKeys() *fakeKeys { return &fakeKeys{keys: map[string]*models.APIKey{}} }

func (f *fakeKeys) CreateAPIKey(_ context.Context, k *models.APIKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k.ID = uuid.New().String()
	if k.Type == "" {
		k.Type = models.APIKeyTypePrimary
	}
	k.CreatedAt = time.Now()
	cp := *k
	f.keys[k.ID] = &cp
	return nil
}

func (f *fakeKeys) GetAPIKeyByHash(_ context.Context, hash string) (*models.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.keys {
		if k.KeyHash == hash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeKeys) GetAPIKeyForOwner(_ context.Context, keyID, userID string) (*models.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if k, ok := f.keys[keyID]; ok && k.UserID == userID {
		cp := *k
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeKeys) ListAPIKeysByUser(_ context.Context, userID string) ([]*models.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.APIKey{}
	for _, k := range f.keys {
		if k.UserID == userID {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeKeys) CountAPIKeysByUser(ctx context.Context, userID string) (int, error) {
	keys, _ := f.ListAPIKeysByUser(ctx, userID)
	return len(keys), nil
}

func (f *fakeKeys) SetActiveForOwner(_ context.Context, keyID, userID string, active bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[keyID]
	if !ok || k.UserID != userID {
		return false, nil
	}
	k.IsActive = active
	return true, nil
}

func (f *fakeKeys) SetActive(_ context.Context, keyID string, active bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[keyID]
	if !ok {
		return false, nil
	}
	k.IsActive = active
	return true, nil
}

func (f *fakeKeys) DeleteForOwner(_ context.Context, keyID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[keyID]
	if !ok || k.UserID != userID {
		return false, nil
	}
	delete(f.keys, keyID)
	return true, nil
}

// fakeLedger applies entries under one lock, like the repository's row lock
type fakeLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	refs     map[string]bool
	entries  []*models.TokenTransaction
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: map[string]int64{}, refs: map[string]bool{}}
}

func (f *fakeLedger) Apply(_ context.Context, e *models.TokenTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.Reference != nil && f.refs[*e.Reference] {
		return repositories.ErrDuplicateReference
	}
	bal, ok := f.balances[e.UserID]
	if !ok {
		return repositories.ErrUserNotFound
	}
	if e.Amount > 0 && bal > math.MaxInt64-e.Amount {
		return repositories.ErrBalanceOverflow
	}
	if bal+e.Amount < 0 {
		return repositories.ErrInsufficientBalance
	}
	f.balances[e.UserID] = bal + e.Amount
	e.BalanceAfter = bal + e.Amount
	e.ID = uuid.New().String()
	if e.Reference != nil {
		f.refs[*e.Reference] = true
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeLedger) GetBalance(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID], nil
}

func (f *fakeLedger) ListTransactions(_ context.Context, userID string, limit, offset int) ([]*models.TokenTransaction, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.TokenTransaction{}
	for _, e := range f.entries {
		if userID == "" || e.UserID == userID {
			out = append(out, e)
		}
	}
	total := len(out)
	if offset >= len(out) {
		return []*models.TokenTransaction{}, total, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

type fakeProcessor struct {
	sessions map[string]*payment.CheckoutSession
	lastReq  payment.CheckoutRequest
	event    *payment.Event
	err      error
}

func (f *fakeProcessor) CreateCheckout(_ context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastReq = req
	s := &payment.CheckoutSession{
		ID:          "cs_" + uuid.New().String(),
		URL:         "https://checkout.example/pay",
		UserID:      req.UserID,
		Tokens:      req.Tokens,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
	}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeProcessor) GetSession(_ context.Context, id string) (*payment.CheckoutSession, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeProcessor) ParseWebhook(_ []byte, sig string) (*payment.Event, error) {
	if sig != "valid" {
		return nil, payment.ErrInvalidSignature
	}
	return f.event, nil
}

func userWithSub(emailAddr, sub string) *models.User {
	now := time.Now()
	return &models.User{Email: emailAddr, Name: "SSO", Role: "user", OIDCSub: &sub, EmailVerifiedAt: &now}
}
