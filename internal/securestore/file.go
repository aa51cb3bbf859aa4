package securestore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/pliu/rentchat/internal/e2e"
	cerrors "github.com/pliu/rentchat/internal/errors"
)

const (
	deviceKeyFile = "device.key"
	secretSuffix  = ".secret"
)

// FileStore seals each secret with a device key and keeps it in its own file.
type FileStore struct {
	dir    string
	key    [32]byte
	mu     sync.Mutex
	logger *zap.Logger
}

// OpenFileStore opens (creating if needed) a store rooted at dir. When
// deviceKey is empty the key is read from dir/device.key, or generated there
// on first use.
func OpenFileStore(dir, deviceKey string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create secret dir: %w", err)
	}

	s := &FileStore{dir: dir, logger: logger}

	if deviceKey == "" {
		var err error
		deviceKey, err = s.loadDeviceKey()
		if err != nil {
			return nil, err
		}
	}
	key, err := e2e.DecodeKey(deviceKey)
	if err != nil {
		return nil, fmt.Errorf("device key: %w", err)
	}
	s.key = *key
	return s, nil
}

func (s *FileStore) loadDeviceKey() (string, error) {
	path := filepath.Join(s.dir, deviceKeyFile)
	data, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read device key: %w", err)
	}

	var key [32]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return "", fmt.Errorf("generate device key: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key[:])
	if err := writeFileAtomic(path, []byte(encoded+"\n")); err != nil {
		return "", fmt.Errorf("write device key: %w", err)
	}
	s.logger.Info("generated device key", zap.String("path", path))
	return encoded, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+secretSuffix)
}

func (s *FileStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read secret %s: %w", key, err)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil || len(raw) < 24+secretbox.Overhead {
		return "", false, fmt.Errorf("%w: %s", cerrors.ErrSecretCorrupted, key)
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &s.key)
	if !ok {
		return "", false, fmt.Errorf("%w: %s", cerrors.ErrSecretCorrupted, key)
	}
	return string(plain), true, nil
}

func (s *FileStore) Set(ctx context.Context, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("secret nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(value), &nonce, &s.key)
	encoded := base64.StdEncoding.EncodeToString(sealed)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(s.path(key), []byte(encoded+"\n")); err != nil {
		return fmt.Errorf("write secret %s: %w", key, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
