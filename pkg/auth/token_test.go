package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	token, hash, prefix, err := GenerateToken()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token, TokenPrefix))
	assert.True(t, strings.HasPrefix(prefix, TokenPrefix))
	assert.Len(t, hash, 64) // hex-encoded SHA-256

	// The stored hash must match a recomputed hash of the plaintext.
	assert.Equal(t, hash, HashToken(token))

	// Tokens are unique.
	token2, _, _, err := GenerateToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)
}

func TestValidateTokenFormat(t *testing.T) {
	token, _, _, err := GenerateToken()
	require.NoError(t, err)
	assert.NoError(t, ValidateTokenFormat(token))

	assert.Error(t, ValidateTokenFormat("bearer_something"))
	assert.Error(t, ValidateTokenFormat(TokenPrefix))
	assert.Error(t, ValidateTokenFormat(TokenPrefix+"not!valid!base64!!"))
}

func TestAPITokenValid(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.True(t, (&APIToken{}).Valid(now))
	assert.True(t, (&APIToken{ExpiresAt: &future}).Valid(now))
	assert.False(t, (&APIToken{ExpiresAt: &past}).Valid(now))
	assert.False(t, (&APIToken{RevokedAt: &past}).Valid(now))
}
