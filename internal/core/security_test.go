// AngelaMos | 2026
// security_test.go

package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct-horse-battery")
	require.NoError(t, err)
	assert.NotContains(t, hash, "correct-horse-battery")

	valid, err := VerifyPassword("correct-horse-battery", hash)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = VerifyPassword("wrong", hash)
	require.NoError(t, err)
	assert.False(t, valid)

	// Same password, different salt, different hash.
	other, err := HashPassword("correct-horse-battery")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other)
}

func TestVerifyPasswordTimingSafeNilHash(t *testing.T) {
	// The nil-hash path exists so unknown usernames burn the same time as
	// real ones; it must never report a match.
	valid, _, err := VerifyPasswordTimingSafe("anything", nil)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestTokenHashing(t *testing.T) {
	token, err := GenerateRefreshToken()
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	hash := HashToken(token)
	assert.NotEqual(t, token, hash)
	assert.True(t, CompareTokenHash(token, hash))
	assert.False(t, CompareTokenHash("other", hash))

	second, err := GenerateRefreshToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, second)
}

func TestGenerateOTPCode(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		code, err := GenerateOTPCode(6)
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, c := range code {
			assert.True(t, c >= '0' && c <= '9', "code %q", code)
		}
		seen[code] = struct{}{}
	}
	assert.Greater(t, len(seen), 1, "codes must vary")
}
