package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	stored, err := HashPassword("secret")
	require.NoError(t, err)
	require.NotEmpty(t, stored)
	assert.NotContains(t, string(stored), "secret")

	assert.True(t, VerifyPassword("secret", stored))
	assert.False(t, VerifyPassword("Secret", stored))
	assert.False(t, VerifyPassword("", stored))
}

func TestNewTokenIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := NewToken()
		require.NoError(t, err)
		require.NotEmpty(t, token)
		require.False(t, seen[token], "token %q generated twice", token)
		seen[token] = true
	}
}
