package secret

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef-test-key"

func TestNew_ShortKey(t *testing.T) {
	_, err := New("short")
	assert.ErrorIs(t, err, ErrKeyTooShort)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	box, err := New(testKey)
	require.NoError(t, err)

	for _, plain := range []string{"hunter2", "", "päss wörd with spaces", "demo"} {
		sealed, err := box.Encrypt(plain)
		require.NoError(t, err)
		if plain != "" {
			assert.NotEqual(t, plain, sealed)
		}

		got, err := box.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, plain, got)
	}
}

func TestEncrypt_FreshNonce(t *testing.T) {
	box, err := New(testKey)
	require.NoError(t, err)
	a, err := box.Encrypt("same")
	require.NoError(t, err)
	b, err := box.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecrypt_WrongKey(t *testing.T) {
	box1, err := New(testKey)
	require.NoError(t, err)
	box2, err := New("another-key-entirely-123")
	require.NoError(t, err)

	sealed, err := box1.Encrypt("secret")
	require.NoError(t, err)
	_, err = box2.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecrypt_Malformed(t *testing.T) {
	box, err := New(testKey)
	require.NoError(t, err)

	_, err = box.Decrypt("%%% not base64")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = box.Decrypt(base64.StdEncoding.EncodeToString([]byte("tiny")))
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}
