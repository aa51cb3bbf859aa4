// Package e2e implements the envelope cipher: NaCl box (X25519 +
// XSalsa20-Poly1305) between two static key pairs.
//
// An envelope is base64(nonce || box), with a 24-byte nonce drawn fresh for
// every encryption. Because box(A_priv, B_pub) and box(B_priv, A_pub) derive
// the same shared key, either participant can open an envelope with their own
// private key and the other party's public key.
package e2e

import (
	"encoding/base64"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/crypto/nacl/box"

	cerrors "github.com/pliu/rentchat/internal/errors"
)

// SharedKey is a precomputed box key for one pair of parties.
type SharedKey struct {
	key [KeySize]byte
}

// Precompute derives the shared key for (peerPublicKey, ownPrivateKey).
// Both keys are base64 and must decode to KeySize bytes.
func Precompute(peerPublicKey, ownPrivateKey string) (*SharedKey, error) {
	pub, err := DecodeKey(peerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	priv, err := DecodeKey(ownPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	defer wipe(priv[:])

	sk := &SharedKey{}
	box.Precompute(&sk.key, pub, priv)
	return sk, nil
}

// Seal encrypts plaintext under a fresh random nonce.
func (sk *SharedKey) Seal(plaintext string) (string, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(randReader, nonce[:]); err != nil {
		return "", fmt.Errorf("%w: nonce: %v", cerrors.ErrEncryptionFailed, err)
	}

	out := make([]byte, NonceSize, NonceSize+len(plaintext)+Overhead)
	copy(out, nonce[:])
	out = box.SealAfterPrecomputation(out, []byte(plaintext), &nonce, &sk.key)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Open authenticates and decrypts an envelope.
func (sk *SharedKey) Open(envelope string) (string, error) {
	nonce, sealed, err := splitEnvelope(envelope)
	if err != nil {
		return "", err
	}
	plain, ok := box.OpenAfterPrecomputation(nil, sealed, nonce, &sk.key)
	if !ok {
		return "", cerrors.ErrDecryptionFailed
	}
	if !utf8.Valid(plain) {
		return "", fmt.Errorf("%w: plaintext is not utf-8", cerrors.ErrDecryptionFailed)
	}
	return string(plain), nil
}

// Wipe zeroes the shared key.
func (sk *SharedKey) Wipe() {
	wipe(sk.key[:])
}

// Encrypt seals plaintext from the sender to the recipient.
// A key that is not 32 bytes fails with ErrKeyFormat; any other failure is
// ErrEncryptionFailed.
func Encrypt(plaintext, recipientPublicKey, senderPrivateKey string) (string, error) {
	sk, err := Precompute(recipientPublicKey, senderPrivateKey)
	if err != nil {
		return "", err
	}
	defer sk.Wipe()
	return sk.Seal(plaintext)
}

// Decrypt opens an envelope with the other party's public key and the
// caller's private key. Authentication failures return ErrDecryptionFailed.
func Decrypt(envelope, peerPublicKey, ownPrivateKey string) (string, error) {
	if _, _, err := splitEnvelope(envelope); err != nil {
		return "", err
	}
	sk, err := Precompute(peerPublicKey, ownPrivateKey)
	if err != nil {
		return "", err
	}
	defer sk.Wipe()
	return sk.Open(envelope)
}

// ValidateEnvelope checks the wire layout without any key material: standard
// base64 holding at least a nonce and a tag.
func ValidateEnvelope(envelope string) error {
	_, sealed, err := splitEnvelope(envelope)
	if err != nil {
		return err
	}
	if len(sealed) < Overhead {
		return fmt.Errorf("%w: %d bytes after nonce, want at least %d", cerrors.ErrMalformedEnvelope, len(sealed), Overhead)
	}
	return nil
}

func splitEnvelope(envelope string) (*[NonceSize]byte, []byte, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: not base64", cerrors.ErrMalformedEnvelope)
	}
	if len(raw) < NonceSize {
		return nil, nil, fmt.Errorf("%w: %d bytes, shorter than nonce", cerrors.ErrMalformedEnvelope, len(raw))
	}
	var nonce [NonceSize]byte
	copy(nonce[:], raw[:NonceSize])
	return &nonce, raw[NonceSize:], nil
}
