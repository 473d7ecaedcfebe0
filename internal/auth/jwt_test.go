package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	t.Parallel()

	svc := NewJWTService("test-secret", "lumen-build", time.Hour)
	token, err := svc.Generate(42, "ada", "ada@example.com", true)
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "ada", claims.Username)
	assert.True(t, claims.IsAdmin)
	assert.Equal(t, "lumen-build", claims.Issuer)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	t.Parallel()

	token, err := NewJWTService("secret-a", "lumen-build", time.Hour).Generate(1, "u", "u@example.com", false)
	require.NoError(t, err)

	_, err = NewJWTService("secret-b", "lumen-build", time.Hour).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpired(t *testing.T) {
	t.Parallel()

	svc := NewJWTService("test-secret", "lumen-build", time.Hour)
	svc.ttl = -time.Minute
	token, err := svc.Generate(1, "u", "u@example.com", false)
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateRejectsGarbage(t *testing.T) {
	t.Parallel()

	svc := NewJWTService("test-secret", "lumen-build", time.Hour)
	_, err := svc.Validate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
