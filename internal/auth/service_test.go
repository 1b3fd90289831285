package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/assetex/internal/config"
)

func newTestService(t *testing.T) *Service {
	svc, err := NewService(zap.NewNop(), config.JWTConfig{
		Secret:          "test-secret",
		ExpirationHours: 1,
	})
	require.NoError(t, err)
	return svc
}

func TestTokenRoundTrip(t *testing.T) {
	svc := newTestService(t)

	token, err := svc.GenerateToken("alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	principal, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", principal)
}

func TestValidateRejectsGarbage(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ValidateToken("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	svc := newTestService(t)

	other, err := NewService(zap.NewNop(), config.JWTConfig{Secret: "other-secret"})
	require.NoError(t, err)

	token, err := other.GenerateToken("alice")
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	svc := newTestService(t)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	tokenString, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = svc.ValidateToken(tokenString)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsMissingSubject(t *testing.T) {
	svc := newTestService(t)

	anonymous := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	tokenString, err := anonymous.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = svc.ValidateToken(tokenString)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGenerateRequiresPrincipal(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GenerateToken("")
	assert.Error(t, err)
}

func TestNewServiceRequiresSecret(t *testing.T) {
	_, err := NewService(zap.NewNop(), config.JWTConfig{})
	assert.Error(t, err)
}
