// Package keystore creates and resolves the per-user box key pairs. Private
// keys live only in the device secret store; public keys are published on
// the user's shared profile.
package keystore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pliu/rentchat/internal/e2e"
	cerrors "github.com/pliu/rentchat/internal/errors"
	"github.com/pliu/rentchat/internal/securestore"
	"github.com/pliu/rentchat/internal/store"
)

const privateKeyPrefix = "private_key_"

// KeyPair holds both halves, base64 encoded.
type KeyPair struct {
	PublicKey  string
	PrivateKey string
}

// KeyStore resolves key material for users on this device.
type KeyStore struct {
	secrets  securestore.SecretStore
	profiles store.ProfileStore
	logger   *zap.Logger
}

// New returns a KeyStore over the device secrets and the shared profiles.
func New(secrets securestore.SecretStore, profiles store.ProfileStore, logger *zap.Logger) *KeyStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyStore{secrets: secrets, profiles: profiles, logger: logger}
}

func secretName(userID string) string {
	return privateKeyPrefix + userID
}

// GenerateAndStore creates a fresh key pair for userID, keeps the private half
// on this device and publishes the public half, replacing any earlier one.
func (ks *KeyStore) GenerateAndStore(ctx context.Context, userID string) (KeyPair, error) {
	kp, err := e2e.GenerateKeyPair()
	if err != nil {
		return KeyPair{}, err
	}
	defer kp.Wipe()

	pair := KeyPair{PublicKey: kp.EncodedPublic(), PrivateKey: kp.EncodedPrivate()}
	if !e2e.ValidKey(pair.PublicKey) || !e2e.ValidKey(pair.PrivateKey) {
		return KeyPair{}, cerrors.ErrKeyGeneration
	}

	if err := ks.secrets.Set(ctx, secretName(userID), pair.PrivateKey); err != nil {
		return KeyPair{}, fmt.Errorf("store private key: %w", err)
	}
	if err := ks.profiles.SetPublicKey(ctx, userID, pair.PublicKey); err != nil {
		return KeyPair{}, fmt.Errorf("publish public key: %w", err)
	}

	ks.logger.Info("generated key pair", zap.String("user_id", userID))
	return pair, nil
}

// PublicKey returns the key recorded on userID's profile. Any lookup failure
// or malformed key reads as absent.
func (ks *KeyStore) PublicKey(ctx context.Context, userID string) (string, bool) {
	key, err := ks.profiles.GetPublicKey(ctx, userID)
	if err != nil {
		ks.logger.Warn("public key lookup failed", zap.String("user_id", userID), zap.Error(err))
		return "", false
	}
	if key == "" {
		return "", false
	}
	if !e2e.ValidKey(key) {
		ks.logger.Warn("ignoring malformed public key", zap.String("user_id", userID))
		return "", false
	}
	return key, true
}

// PrivateKey returns the private key held on this device for userID.
func (ks *KeyStore) PrivateKey(ctx context.Context, userID string) (string, bool, error) {
	key, ok, err := ks.secrets.Get(ctx, secretName(userID))
	if err != nil {
		return "", false, fmt.Errorf("read private key: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	if !e2e.ValidKey(key) {
		ks.logger.Warn("ignoring malformed private key", zap.String("user_id", userID))
		return "", false, nil
	}
	return key, true, nil
}

// EnsureKeys generates a key pair only when the profile has no valid public
// key yet. When the profile already has one and this device lacks the
// private half, the published key is returned with an empty PrivateKey;
// replacing it is left to an explicit GenerateAndStore.
func (ks *KeyStore) EnsureKeys(ctx context.Context, userID string) (KeyPair, bool, error) {
	pub, err := ks.profiles.GetPublicKey(ctx, userID)
	if err != nil {
		return KeyPair{}, false, fmt.Errorf("read profile: %w", err)
	}

	if pub != "" && e2e.ValidKey(pub) {
		priv, ok, err := ks.PrivateKey(ctx, userID)
		if err != nil {
			return KeyPair{}, false, err
		}
		if !ok {
			ks.logger.Warn("published key has no private half on this device",
				zap.String("user_id", userID))
			return KeyPair{PublicKey: pub}, false, nil
		}
		return KeyPair{PublicKey: pub, PrivateKey: priv}, false, nil
	}

	pair, err := ks.GenerateAndStore(ctx, userID)
	if err != nil {
		return KeyPair{}, false, err
	}
	return pair, true, nil
}
