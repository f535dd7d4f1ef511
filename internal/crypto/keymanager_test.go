package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("my-api-secret", "password123")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "my-api-secret", "plaintext must not leak")

	got, err := DecryptSecret(blob, "password123")
	require.NoError(t, err)
	assert.Equal(t, "my-api-secret", got)
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptSecret("my-api-secret", "password123")
	require.NoError(t, err)

	_, err = DecryptSecret(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptRejectsEmptyInputs(t *testing.T) {
	_, err := EncryptSecret("", "pw")
	assert.Error(t, err)
	_, err = EncryptSecret("secret", "")
	assert.Error(t, err)
}

func TestDecryptRejectsBadBlob(t *testing.T) {
	_, err := DecryptSecret([]byte("not json"), "pw")
	assert.Error(t, err)

	_, err = DecryptSecret([]byte(`{"version":99,"salt":"","nonce":"","ciphertext":""}`), "pw")
	assert.Error(t, err, "unknown schema versions are refused")
}

func TestLoadSecret(t *testing.T) {
	// Raw secret wins.
	got, err := LoadSecret(SecretConfig{RawSecret: "raw"})
	require.NoError(t, err)
	assert.Equal(t, "raw", got)

	// Encrypted file path.
	blob, err := EncryptSecret("from-file", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.enc")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadSecret(SecretConfig{EncryptedSecretPath: path, SecretPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)

	// No source configured.
	_, err = LoadSecret(SecretConfig{})
	assert.Error(t, err)

	// Missing file.
	_, err = LoadSecret(SecretConfig{EncryptedSecretPath: filepath.Join(t.TempDir(), "absent"), SecretPassword: "pw"})
	assert.Error(t, err)
}
