package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearhaul/realtime/internal/model"
	"github.com/clearhaul/realtime/internal/realtime"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerifyValidToken(t *testing.T) {
	v := NewJWTVerifier(testSecret)
	cred := signToken(t, testSecret, Claims{
		UserID:      "u1",
		Role:        "driver",
		DisplayName: "Bo",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	identity, err := v.Verify(cred)
	require.NoError(t, err)
	assert.Equal(t, model.Identity{UserID: "u1", Role: model.RoleDriver, DisplayName: "Bo"}, identity)
}

func TestVerifyRejections(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	expired := signToken(t, testSecret, Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	wrongKey := signToken(t, "other-secret", Claims{UserID: "u1"})
	noUser := signToken(t, testSecret, Claims{})

	for name, cred := range map[string]string{
		"empty":           "",
		"malformed":       "definitely.not.a.jwt",
		"expired":         expired,
		"wrong signature": wrongKey,
		"no user id":      noUser,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(cred)
			assert.ErrorIs(t, err, realtime.ErrAuth)
		})
	}
}
