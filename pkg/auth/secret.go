package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "photoguard"
	fileMode       = 0600
)

// ErrSecretNotFound is returned when neither the keychain nor the fallback file hold the secret.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore keeps named secrets in the OS keychain and falls back to
// files in dir when the keychain is unavailable.
type SecretStore struct {
	dir string
}

// NewSecretStore creates a secret store with dir used for the file fallback.
func NewSecretStore(dir string) *SecretStore {
	return &SecretStore{dir: dir}
}

func (s *SecretStore) filePath(name string) string {
	return filepath.Join(s.dir, name)
}

// Save stores the secret under name.
func (s *SecretStore) Save(name, value string) error {
	if name == "" {
		return errors.New("secret name required")
	}
	if value == "" {
		return errors.New("secret value required")
	}

	if err := keyring.Set(keyringService, name, value); err != nil {
		slog.Warn("keychain unavailable, falling back to file", "error", err)
		return s.saveFile(name, value)
	}

	// Clean up legacy file if it exists
	os.Remove(s.filePath(name))

	return nil
}

// Get returns the secret stored under name.
func (s *SecretStore) Get(name string) (string, error) {
	// Try keychain first
	value, err := keyring.Get(keyringService, name)
	if err == nil && value != "" {
		return value, nil
	}

	// Fall back to file
	value, err = s.getFile(name)
	if err != nil {
		return "", err
	}

	// Migrate to keychain
	if migrateErr := keyring.Set(keyringService, name, value); migrateErr == nil {
		slog.Info("migrated secret from file to OS keychain", "name", name)
		os.Remove(s.filePath(name))
	}

	return value, nil
}

// Delete removes the secret from both the keychain and the fallback file.
func (s *SecretStore) Delete(name string) error {
	if err := keyring.Delete(keyringService, name); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		slog.Debug("keychain delete failed", "name", name, "error", err)
	}
	if err := os.Remove(s.filePath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing secret file: %w", err)
	}
	return nil
}

func (s *SecretStore) saveFile(name, value string) error {
	if s.dir == "" {
		return errors.New("secret dir required for file fallback")
	}
	return os.WriteFile(s.filePath(name), []byte(value), fileMode)
}

func (s *SecretStore) getFile(name string) (string, error) {
	if s.dir == "" {
		return "", ErrSecretNotFound
	}
	p := s.filePath(name)
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", name, ErrSecretNotFound)
		}
		return "", fmt.Errorf("reading secret file %s: %w", p, err)
	}
	return strings.TrimSpace(string(b)), nil
}
