package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHasher() *Hasher {
	return New(Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32})
}

func TestHashAndVerify(t *testing.T) {
	h := testHasher()

	encoded, err := h.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.Contains(t, encoded, "$argon2id$")

	ok, err := h.Verify("correct horse battery staple", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong password", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashIsSaltedPerCall(t *testing.T) {
	h := testHasher()

	first, err := h.Hash("same-secret")
	require.NoError(t, err)
	second, err := h.Hash("same-secret")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestGenerateAPIKeyRoundTrips(t *testing.T) {
	h := testHasher()

	plain, hash, err := h.GenerateAPIKey("key_1a2b3c")
	require.NoError(t, err)
	assert.Contains(t, plain, "key_1a2b3c")

	ok, err := h.Verify(plain, hash)
	require.NoError(t, err)
	assert.True(t, ok)
}
