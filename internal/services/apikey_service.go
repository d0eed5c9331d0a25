package services

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cadogy/cadogy-backend/internal/apperr"
	"github.com/cadogy/cadogy-backend/internal/auth"
	"github.com/cadogy/cadogy-backend/internal/crypto"
	"github.com/cadogy/cadogy-backend/internal/db/models"
	"github.com/cadogy/cadogy-backend/internal/telemetry"
)

// API key tiers accepted on API-key-protected routes
const (
	TierStatic = "static"
	TierUser   = "user"
)

// APIPrincipal identifies the caller of an API-key-protected route. UserID and KeyID are
// empty for static service keys.
type APIPrincipal struct {
	Tier   string
	UserID string
	KeyID  string
}

// KeyView is the list representation of a key; the secret is never included
type KeyView struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	MaskedKey  string     `json:"masked_key"`
	IsActive   bool       `json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at"`
	ExpiresAt  *time.Time `json:"expires_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

func viewOf(k *models.APIKey) KeyView {
	return KeyView{
		ID:         k.ID,
		Name:       k.Name,
		Type:       k.Type,
		MaskedKey:  auth.MaskAPIKey(k.KeyPrefix, k.KeySuffix),
		IsActive:   k.IsActive,
		LastUsedAt: k.LastUsedAt,
		ExpiresAt:  k.ExpiresAt,
		CreatedAt:  k.CreatedAt,
	}
}

// CreatedKey is returned once at creation with the full secret
type CreatedKey struct {
	KeyView
	Key string `json:"key"`
}

// CreateKeyInput describes a new key
type CreateKeyInput struct {
	Name          string
	Type          string
	ExpiresInDays int
}

// APIKeyService manages per-user API keys and authenticates both key tiers
type APIKeyService struct {
	keys       APIKeyStore
	cipher     *crypto.KeyCipher
	prefix     string
	maxPerUser int
	static     [][]byte
	now        func() time.Time
}

// NewAPIKeyService creates the service. staticKeys is the service-to-service allow-list.
func NewAPIKeyService(keys APIKeyStore, cipher *crypto.KeyCipher, prefix string, maxPerUser int, staticKeys []string) *APIKeyService {
	s := &APIKeyService{
		keys:       keys,
		cipher:     cipher,
		prefix:     prefix,
		maxPerUser: maxPerUser,
		now:        time.Now,
	}
	for _, k := range staticKeys {
		if k = strings.TrimSpace(k); k != "" {
			s.static = append(s.static, []byte(k))
		}
	}
	return s
}

// List returns the user's keys, masked
func (s *APIKeyService) List(ctx context.Context, userID string) ([]KeyView, error) {
	keys, err := s.keys.ListAPIKeysByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	out := make([]KeyView, 0, len(keys))
	for _, k := range keys {
		out = append(out, viewOf(k))
	}
	return out, nil
}

// Create generates a key for the user. The full secret is returned only here and through
// Reveal.
func (s *APIKeyService) Create(ctx context.Context, userID string, in CreateKeyInput) (*CreatedKey, error) {
	if s.maxPerUser > 0 {
		n, err := s.keys.CountAPIKeysByUser(ctx, userID)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if n >= s.maxPerUser {
			return nil, apperr.New(apperr.KindConflict, fmt.Sprintf("a user may hold at most %d API keys", s.maxPerUser))
		}
	}

	secret, hash, displayPrefix, err := auth.GenerateAPIKey(s.prefix)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	sealed, err := s.cipher.Seal(secret, userID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("seal api key: %w", err))
	}

	key := &models.APIKey{
		UserID:        userID,
		Name:          strings.TrimSpace(in.Name),
		Type:          in.Type,
		KeyPrefix:     displayPrefix,
		KeySuffix:     auth.KeySuffix(secret),
		KeyHash:       hash,
		KeyCiphertext: sealed,
		IsActive:      true,
	}
	if in.ExpiresInDays > 0 {
		exp := s.now().Add(time.Duration(in.ExpiresInDays) * 24 * time.Hour)
		key.ExpiresAt = &exp
	}
	if err := s.keys.CreateAPIKey(ctx, key); err != nil {
		return nil, apperr.Internal(fmt.Errorf("create api key: %w", err))
	}

	slog.Info("api key created", "user_id", userID, "key_id", key.ID, "type", key.Type)
	return &CreatedKey{KeyView: viewOf(key), Key: secret}, nil
}

// SetActive toggles one of the user's own keys. A key owned by someone else is reported
// as not found.
func (s *APIKeyService) SetActive(ctx context.Context, userID, keyID string, active bool) error {
	if !isUUID(keyID) {
		return apperr.ErrNotFound
	}
	ok, err := s.keys.SetActiveForOwner(ctx, keyID, userID, active)
	if err != nil {
		return apperr.Internal(err)
	}
	if !ok {
		return apperr.ErrNotFound
	}
	return nil
}

// AdminSetActive toggles any user's key
func (s *APIKeyService) AdminSetActive(ctx context.Context, keyID string, active bool) error {
	if !isUUID(keyID) {
		return apperr.ErrNotFound
	}
	ok, err := s.keys.SetActive(ctx, keyID, active)
	if err != nil {
		return apperr.Internal(err)
	}
	if !ok {
		return apperr.ErrNotFound
	}
	return nil
}

// Delete removes one of the user's own keys
func (s *APIKeyService) Delete(ctx context.Context, userID, keyID string) error {
	if !isUUID(keyID) {
		return apperr.ErrNotFound
	}
	ok, err := s.keys.DeleteForOwner(ctx, keyID, userID)
	if err != nil {
		return apperr.Internal(err)
	}
	if !ok {
		return apperr.ErrNotFound
	}
	return nil
}

// Reveal decrypts the full key for its owner. Ownership is part of the lookup predicate
// and also bound into the ciphertext.
func (s *APIKeyService) Reveal(ctx context.Context, userID, keyID string) (string, error) {
	if !isUUID(keyID) {
		return "", apperr.ErrNotFound
	}
	key, err := s.keys.GetAPIKeyForOwner(ctx, keyID, userID)
	if err != nil {
		return "", apperr.Internal(err)
	}
	if key == nil || key.UserID != userID {
		return "", apperr.ErrNotFound
	}
	secret, err := s.cipher.Open(key.KeyCiphertext, key.UserID)
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("open api key %s: %w", key.ID, err))
	}
	return secret, nil
}

// isUUID reports whether id can name a row; anything else cannot exist
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Authenticate resolves a presented key to a principal. Static keys are compared in
// constant time; per-user keys must be active and unexpired.
func (s *APIKeyService) Authenticate(ctx context.Context, presented string) (*APIPrincipal, error) {
	if presented == "" {
		telemetry.APIKeyValidationsTotal.WithLabelValues("none", "missing").Inc()
		return nil, apperr.New(apperr.KindUnauthorized, "API key required")
	}

	if s.isStatic(presented) {
		telemetry.APIKeyValidationsTotal.WithLabelValues(TierStatic, "valid").Inc()
		return &APIPrincipal{Tier: TierStatic}, nil
	}

	key, err := s.keys.GetAPIKeyByHash(ctx, auth.HashAPIKey(presented))
	if err != nil {
		telemetry.APIKeyValidationsTotal.WithLabelValues(TierUser, "error").Inc()
		return nil, apperr.Internal(err)
	}
	switch {
	case key == nil:
		telemetry.APIKeyValidationsTotal.WithLabelValues(TierUser, "unknown").Inc()
	case !key.IsActive:
		telemetry.APIKeyValidationsTotal.WithLabelValues(TierUser, "inactive").Inc()
	case key.IsExpired(s.now()):
		telemetry.APIKeyValidationsTotal.WithLabelValues(TierUser, "expired").Inc()
	default:
		telemetry.APIKeyValidationsTotal.WithLabelValues(TierUser, "valid").Inc()
		return &APIPrincipal{Tier: TierUser, UserID: key.UserID, KeyID: key.ID}, nil
	}
	return nil, apperr.New(apperr.KindUnauthorized, "invalid API key")
}

func (s *APIKeyService) isStatic(presented string) bool {
	p := []byte(presented)
	match := 0
	for _, k := range s.static {
		match |= subtle.ConstantTimeCompare(p, k)
	}
	return match == 1
}
