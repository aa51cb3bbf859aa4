// Package securestore keeps device-local secrets such as private keys.
package securestore

import (
	"context"
	"regexp"
	"sync"

	cerrors "github.com/pliu/rentchat/internal/errors"
)

// SecretStore is a device-local key/value store for secrets.
type SecretStore interface {
	// Get returns the value for key; ok is false when nothing is stored.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

func validateKey(key string) error {
	if !keyPattern.MatchString(key) || key == "." || key == ".." {
		return cerrors.ErrInvalidSecretKey
	}
	return nil
}

// MemoryStore is an in-memory SecretStore for tests and ephemeral devices.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]string)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.secrets[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(ctx context.Context, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[key] = value
	return nil
}
