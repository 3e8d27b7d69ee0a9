package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestSecretStore_Keychain(t *testing.T) {
	keyring.MockInit()
	s := NewSecretStore(t.TempDir())

	require.NoError(t, s.Save("s3_secret_key", "top-secret"))

	v, err := s.Get("s3_secret_key")
	require.NoError(t, err)
	assert.Equal(t, "top-secret", v)

	require.NoError(t, s.Delete("s3_secret_key"))
	_, err = s.Get("s3_secret_key")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestSecretStore_FileFallback(t *testing.T) {
	keyring.MockInitWithError(errors.New("no keychain"))
	dir := t.TempDir()
	s := NewSecretStore(dir)

	require.NoError(t, s.Save("s3_secret_key", "from-file"))

	b, err := os.ReadFile(filepath.Join(dir, "s3_secret_key"))
	require.NoError(t, err)
	assert.Equal(t, "from-file", string(b))

	v, err := s.Get("s3_secret_key")
	require.NoError(t, err)
	assert.Equal(t, "from-file", v)
}

func TestSecretStore_MigratesFileToKeychain(t *testing.T) {
	keyring.MockInit()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "legacy"), []byte("value\n"), 0600))

	s := NewSecretStore(dir)
	v, err := s.Get("legacy")
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	_, err = os.Stat(filepath.Join(dir, "legacy"))
	assert.True(t, os.IsNotExist(err))

	v, err = keyring.Get(keyringService, "legacy")
	require.NoError(t, err)
	assert.Equal(t, "value", v)
}

func TestSecretStore_Validation(t *testing.T) {
	keyring.MockInit()
	s := NewSecretStore(t.TempDir())
	assert.Error(t, s.Save("", "v"))
	assert.Error(t, s.Save("n", ""))
}
