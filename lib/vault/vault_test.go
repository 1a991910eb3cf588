package vault

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundtrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	v, err := NewVault(key)
	require.NoError(t, err)

	ciphertext, err := v.Encrypt("hunter2")
	require.NoError(t, err)
	require.NotEqual(t, "hunter2", ciphertext)

	plaintext, err := v.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, "hunter2", plaintext)
}

func TestWrongKey(t *testing.T) {
	key1, err := GenerateKey()
	require.NoError(t, err)
	key2, err := GenerateKey()
	require.NoError(t, err)

	v1, err := NewVault(key1)
	require.NoError(t, err)
	v2, err := NewVault(key2)
	require.NoError(t, err)

	ciphertext, err := v1.Encrypt("hunter2")
	require.NoError(t, err)

	_, err = v2.Decrypt(ciphertext)
	require.Error(t, err)
}

func TestCorruptedCiphertext(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	v, err := NewVault(key)
	require.NoError(t, err)

	_, err = v.Decrypt("not-base64!!!")
	require.Error(t, err)
	_, err = v.Decrypt("c2hvcnQ=")
	require.Error(t, err)
}

func TestBadKey(t *testing.T) {
	_, err := NewVault("dG9vLXNob3J0")
	require.Error(t, err)
}
