package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-jwt-secret-that-is-32-chars-!"

func TestSessionIssuer_RoundTrip(t *testing.T) {
	issuer := NewSessionIssuer(testSecret, 0)

	token, expiresAt, err := issuer.Issue("user-123", RoleUser)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	remaining := time.Until(expiresAt)
	assert.InDelta(t, SessionTTL.Hours(), remaining.Hours(), 0.1, "default session lifetime is 30 days")

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.UserID)
	assert.Equal(t, "user-123", claims.Subject)
	assert.Equal(t, RoleUser, claims.Role)
	assert.Equal(t, "cadogy", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestSessionIssuer_Expired(t *testing.T) {
	issuer := NewSessionIssuer(testSecret, time.Hour)
	token, _, err := issuer.Issue("uid", RoleAdmin)
	require.NoError(t, err)

	issuer.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessionIssuer_RejectsBadTokens(t *testing.T) {
	issuer := NewSessionIssuer(testSecret, time.Hour)
	token, _, _ := issuer.Issue("uid", RoleUser)

	t.Run("empty", func(t *testing.T) {
		_, err := issuer.Verify("")
		assert.ErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.Verify("not.a.valid.token")
		assert.ErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("different secret", func(t *testing.T) {
		other := NewSessionIssuer("completely-different-secret-32ch!", time.Hour)
		_, err := other.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("unknown role", func(t *testing.T) {
		claims := &SessionClaims{
			UserID: "uid",
			Role:   "superuser",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "cadogy",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)
		_, err = issuer.Verify(forged)
		assert.ErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("none algorithm", func(t *testing.T) {
		claims := &SessionClaims{
			UserID: "uid",
			Role:   RoleAdmin,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "cadogy",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = issuer.Verify(unsigned)
		assert.ErrorIs(t, err, ErrInvalidSession)
	})
}

func TestResolveJWTSecret(t *testing.T) {
	t.Run("configured secret wins", func(t *testing.T) {
		got, err := ResolveJWTSecret(testSecret)
		require.NoError(t, err)
		assert.Equal(t, testSecret, got)
	})

	t.Run("production requires a secret", func(t *testing.T) {
		t.Setenv("DEV_MODE", "")
		t.Setenv("GIN_MODE", "release")
		_, err := ResolveJWTSecret("")
		assert.Error(t, err)
	})

	t.Run("dev mode generates a secret", func(t *testing.T) {
		t.Setenv("DEV_MODE", "true")
		got, err := ResolveJWTSecret("")
		require.NoError(t, err)
		assert.Len(t, got, 64)
	})
}
