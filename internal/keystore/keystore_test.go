package keystore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pliu/rentchat/internal/e2e"
	cerrors "github.com/pliu/rentchat/internal/errors"
	"github.com/pliu/rentchat/internal/securestore"
)

// mockProfiles is an in-memory ProfileStore.
type mockProfiles struct {
	mu   sync.Mutex
	keys map[string]string
	err  error
}

func newMockProfiles(users ...string) *mockProfiles {
	m := &mockProfiles{keys: make(map[string]string)}
	for _, u := range users {
		m.keys[u] = ""
	}
	return m
}

func (m *mockProfiles) GetPublicKey(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	key, ok := m.keys[userID]
	if !ok {
		return "", cerrors.ErrUserNotFound
	}
	return key, nil
}

func (m *mockProfiles) SetPublicKey(ctx context.Context, userID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[userID]; !ok {
		return cerrors.ErrUserNotFound
	}
	m.keys[userID] = key
	return nil
}

type failingSecrets struct{}

func (failingSecrets) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, errors.New("disk on fire")
}

func (failingSecrets) Set(ctx context.Context, key, value string) error {
	return errors.New("disk on fire")
}

func TestGenerateAndStore(t *testing.T) {
	ctx := context.Background()
	secrets := securestore.NewMemoryStore()
	profiles := newMockProfiles("u1")
	ks := New(secrets, profiles, nil)

	pair, err := ks.GenerateAndStore(ctx, "u1")
	if err != nil {
		t.Fatalf("GenerateAndStore failed: %v", err)
	}
	if !e2e.ValidKey(pair.PublicKey) || !e2e.ValidKey(pair.PrivateKey) {
		t.Fatalf("generated keys are not 32 bytes: %+v", pair)
	}

	stored, ok, err := secrets.Get(ctx, "private_key_u1")
	if err != nil || !ok || stored != pair.PrivateKey {
		t.Errorf("private key not stored under private_key_u1: %q %v %v", stored, ok, err)
	}
	if profiles.keys["u1"] != pair.PublicKey {
		t.Error("public key not published")
	}

	pub, ok := ks.PublicKey(ctx, "u1")
	if !ok || pub != pair.PublicKey {
		t.Errorf("PublicKey = %q, %v", pub, ok)
	}
	priv, ok, err := ks.PrivateKey(ctx, "u1")
	if err != nil || !ok || priv != pair.PrivateKey {
		t.Errorf("PrivateKey = %q, %v, %v", priv, ok, err)
	}

	second, err := ks.GenerateAndStore(ctx, "u1")
	if err != nil {
		t.Fatalf("GenerateAndStore failed: %v", err)
	}
	if second.PublicKey == pair.PublicKey {
		t.Error("regeneration reused the old key")
	}
	if pub, _ := ks.PublicKey(ctx, "u1"); pub != second.PublicKey {
		t.Error("profile not overwritten by regeneration")
	}

	// The new pair works with the cipher.
	env, err := e2e.Encrypt("hi", second.PublicKey, second.PrivateKey)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if got, err := e2e.Decrypt(env, second.PublicKey, second.PrivateKey); err != nil || got != "hi" {
		t.Errorf("Decrypt = %q, %v", got, err)
	}
}

func TestGenerateAndStore_Failures(t *testing.T) {
	ctx := context.Background()

	ks := New(failingSecrets{}, newMockProfiles("u1"), nil)
	if _, err := ks.GenerateAndStore(ctx, "u1"); err == nil {
		t.Error("expected error when the secret store fails")
	}

	ks = New(securestore.NewMemoryStore(), newMockProfiles(), nil)
	if _, err := ks.GenerateAndStore(ctx, "ghost"); !errors.Is(err, cerrors.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestPublicKey_Absent(t *testing.T) {
	ctx := context.Background()
	profiles := newMockProfiles("nokey", "bad")
	profiles.keys["bad"] = "c2hvcnQ="
	ks := New(securestore.NewMemoryStore(), profiles, nil)

	for _, user := range []string{"nokey", "bad", "missing"} {
		if key, ok := ks.PublicKey(ctx, user); ok {
			t.Errorf("PublicKey(%s) = %q, expected absent", user, key)
		}
	}

	profiles.err = errors.New("backend down")
	if _, ok := ks.PublicKey(ctx, "nokey"); ok {
		t.Error("expected absent on lookup failure")
	}
}

func TestPrivateKey(t *testing.T) {
	ctx := context.Background()
	secrets := securestore.NewMemoryStore()
	secrets.Set(ctx, "private_key_bad", "not-a-key")
	ks := New(secrets, newMockProfiles(), nil)

	if _, ok, err := ks.PrivateKey(ctx, "missing"); ok || err != nil {
		t.Errorf("expected absent, got ok=%v err=%v", ok, err)
	}
	if _, ok, err := ks.PrivateKey(ctx, "bad"); ok || err != nil {
		t.Errorf("expected malformed key to read as absent, got ok=%v err=%v", ok, err)
	}

	ks = New(failingSecrets{}, newMockProfiles(), nil)
	if _, _, err := ks.PrivateKey(ctx, "u1"); err == nil {
		t.Error("expected store failure to surface")
	}
}

func TestEnsureKeys(t *testing.T) {
	ctx := context.Background()
	secrets := securestore.NewMemoryStore()
	profiles := newMockProfiles("u1")
	ks := New(secrets, profiles, nil)

	first, created, err := ks.EnsureKeys(ctx, "u1")
	if err != nil || !created {
		t.Fatalf("EnsureKeys = created %v, err %v; want created", created, err)
	}

	again, created, err := ks.EnsureKeys(ctx, "u1")
	if err != nil || created {
		t.Fatalf("EnsureKeys = created %v, err %v; want existing", created, err)
	}
	if again != first {
		t.Error("EnsureKeys changed an existing pair")
	}

	// A second device without the private half leaves the published key alone.
	second := New(securestore.NewMemoryStore(), profiles, nil)
	pair, created, err := second.EnsureKeys(ctx, "u1")
	if err != nil || created {
		t.Fatalf("EnsureKeys on second device = created %v, err %v; want existing", created, err)
	}
	if pair.PublicKey != first.PublicKey || pair.PrivateKey != "" {
		t.Errorf("second device got %+v; want published key without private half", pair)
	}
	if got, _ := profiles.GetPublicKey(ctx, "u1"); got != first.PublicKey {
		t.Error("EnsureKeys replaced the published key")
	}
	if priv, ok, err := ks.PrivateKey(ctx, "u1"); !ok || err != nil || priv != first.PrivateKey {
		t.Errorf("first device lost its private key: ok=%v err=%v", ok, err)
	}

	// A malformed published key is replaced.
	profiles.SetPublicKey(ctx, "u1", "not-a-key")
	fixed, created, err := second.EnsureKeys(ctx, "u1")
	if err != nil || !created || !e2e.ValidKey(fixed.PublicKey) {
		t.Fatalf("EnsureKeys over malformed key = created %v, err %v", created, err)
	}

	if _, _, err := ks.EnsureKeys(ctx, "ghost"); !errors.Is(err, cerrors.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}
