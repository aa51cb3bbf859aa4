package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// CookieName is the session cookie carrying the signed user id.
const CookieName = "session"

var ErrInvalidCookie = errors.New("invalid cookie")

// Signer signs and verifies cookie values with HMAC-SHA256.
type Signer struct {
	secret []byte
}

func NewSigner(secret []byte) *Signer {
	return &Signer{secret: append([]byte(nil), secret...)}
}

// RandomSecret returns a fresh 32-byte secret, for servers started without one.
func RandomSecret() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return secret, nil
}

// Sign creates a signed cookie value in the format "value|signature".
func (s *Signer) Sign(value string) string {
	return fmt.Sprintf("%s|%s",
		base64.URLEncoding.EncodeToString([]byte(value)),
		base64.URLEncoding.EncodeToString(s.mac(value)))
}

// Verify checks the signature and returns the unsigned value.
func (s *Signer) Verify(signedValue string) (string, error) {
	parts := strings.Split(signedValue, "|")
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: format", ErrInvalidCookie)
	}

	valueBytes, err := base64.URLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: value encoding", ErrInvalidCookie)
	}
	value := string(valueBytes)

	signature, err := base64.URLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: signature encoding", ErrInvalidCookie)
	}

	if !hmac.Equal(signature, s.mac(value)) {
		return "", fmt.Errorf("%w: signature", ErrInvalidCookie)
	}
	return value, nil
}

func (s *Signer) mac(value string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(value))
	return mac.Sum(nil)
}
