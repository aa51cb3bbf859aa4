package e2e

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"

	cerrors "github.com/pliu/rentchat/internal/errors"
)

const (
	// Algorithm identifies the box construction used for every envelope.
	Algorithm = "x25519-xsalsa20-poly1305"

	// KeySize is the size of both halves of an X25519 key pair.
	KeySize = 32

	// NonceSize is the size of the nonce prefixed to every envelope.
	NonceSize = 24

	// Overhead is the Poly1305 tag added to every sealed message.
	Overhead = box.Overhead
)

// randReader is the entropy source for keys and nonces.
var randReader io.Reader = rand.Reader

// KeyPair is a user's static box key pair.
type KeyPair struct {
	PublicKey  [KeySize]byte
	PrivateKey [KeySize]byte
}

// GenerateKeyPair draws a fresh key pair from the system CSPRNG.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(randReader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cerrors.ErrKeyGeneration, err)
	}
	kp := &KeyPair{PublicKey: *pub, PrivateKey: *priv}
	wipe(priv[:])
	return kp, nil
}

// EncodedPublic returns the base64 form stored on the shared profile.
func (kp *KeyPair) EncodedPublic() string {
	return EncodeKey(&kp.PublicKey)
}

// EncodedPrivate returns the base64 form stored in the device secret store.
func (kp *KeyPair) EncodedPrivate() string {
	return EncodeKey(&kp.PrivateKey)
}

// Wipe zeroes the private half.
func (kp *KeyPair) Wipe() {
	wipe(kp.PrivateKey[:])
}

// EncodeKey returns the standard base64 form of key.
func EncodeKey(key *[KeySize]byte) string {
	return base64.StdEncoding.EncodeToString(key[:])
}

// DecodeKey parses a base64 key and requires exactly KeySize bytes.
func DecodeKey(encoded string) (*[KeySize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64", cerrors.ErrKeyFormat)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", cerrors.ErrKeyFormat, len(raw), KeySize)
	}
	var key [KeySize]byte
	copy(key[:], raw)
	wipe(raw)
	return &key, nil
}

// ValidKey reports whether encoded decodes to exactly KeySize bytes.
func ValidKey(encoded string) bool {
	key, err := DecodeKey(encoded)
	if err != nil {
		return false
	}
	wipe(key[:])
	return true
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
