package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestValidateToken(t *testing.T) {
	t.Run("accepts valid hmac token", func(t *testing.T) {
		v := NewJWTValidator(testSecret, nil, nil, nil)
		token := signToken(t, jwt.MapClaims{
			"sub":   "alice",
			"email": "alice@example.com",
			"exp":   time.Now().Add(time.Hour).Unix(),
		})

		claims, err := v.ValidateToken("Bearer " + token)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Sub)
		assert.Equal(t, "alice@example.com", claims.Email)
	})

	t.Run("rejects expired token", func(t *testing.T) {
		v := NewJWTValidator(testSecret, nil, nil, nil)
		token := signToken(t, jwt.MapClaims{
			"sub": "alice",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})

		_, err := v.ValidateToken(token)
		require.Error(t, err)
	})

	t.Run("rejects wrong secret", func(t *testing.T) {
		v := NewJWTValidator("other-secret", nil, nil, nil)
		token := signToken(t, jwt.MapClaims{"sub": "alice"})

		_, err := v.ValidateToken(token)
		require.Error(t, err)
	})

	t.Run("enforces the user allow-list", func(t *testing.T) {
		v := NewJWTValidator(testSecret, nil, []string{"bob"}, nil)
		token := signToken(t, jwt.MapClaims{
			"sub": "alice",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		_, err := v.ValidateToken(token)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "allow-list")
	})

	t.Run("allow-list matches email too", func(t *testing.T) {
		v := NewJWTValidator(testSecret, nil, []string{"alice@example.com"}, nil)
		token := signToken(t, jwt.MapClaims{
			"sub":   "user-123",
			"email": "alice@example.com",
			"exp":   time.Now().Add(time.Hour).Unix(),
		})

		_, err := v.ValidateToken(token)
		require.NoError(t, err)
	})
}

func TestResolveEffectiveUser(t *testing.T) {
	v := NewJWTValidator(testSecret, nil, nil, []string{"svc-ingest"})

	t.Run("trusted service delegates", func(t *testing.T) {
		claims := &Claims{Sub: "svc-ingest"}
		assert.Equal(t, "alice@example.com", v.ResolveEffectiveUser(claims, "alice@example.com"))
	})

	t.Run("untrusted caller keeps its own identity", func(t *testing.T) {
		claims := &Claims{Sub: "alice"}
		assert.Equal(t, "alice", v.ResolveEffectiveUser(claims, "mallory@example.com"))
	})

	t.Run("no header keeps the subject", func(t *testing.T) {
		claims := &Claims{Sub: "svc-ingest"}
		assert.Equal(t, "svc-ingest", v.ResolveEffectiveUser(claims, ""))
	})
}
