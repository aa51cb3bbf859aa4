package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestSignVerify(t *testing.T) {
	s := NewSigner([]byte("test-secret"))

	signed := s.Sign("0b7e1c1e-user")
	got, err := s.Verify(signed)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if got != "0b7e1c1e-user" {
		t.Errorf("Expected unsigned value, got %q", got)
	}

	other := NewSigner([]byte("other-secret"))
	if _, err := other.Verify(signed); !errors.Is(err, ErrInvalidCookie) {
		t.Errorf("Expected ErrInvalidCookie for foreign signature, got %v", err)
	}
}

func TestVerify_Invalid(t *testing.T) {
	s := NewSigner([]byte("test-secret"))
	valid := s.Sign("user")
	parts := strings.Split(valid, "|")

	tests := []struct {
		name  string
		value string
	}{
		{"Empty", ""},
		{"No Separator", "abc"},
		{"Too Many Parts", "a|b|c"},
		{"Bad Value Encoding", "!!!|" + parts[1]},
		{"Bad Signature Encoding", parts[0] + "|!!!"},
		{"Swapped Value", s.Sign("other")[:strings.Index(s.Sign("other"), "|")] + "|" + parts[1]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Verify(tt.value); !errors.Is(err, ErrInvalidCookie) {
				t.Errorf("Expected ErrInvalidCookie, got %v", err)
			}
		})
	}
}

func TestRandomSecret(t *testing.T) {
	a, err := RandomSecret()
	if err != nil {
		t.Fatalf("RandomSecret failed: %v", err)
	}
	b, _ := RandomSecret()
	if len(a) != 32 || string(a) == string(b) {
		t.Error("RandomSecret did not return fresh 32-byte secrets")
	}
}
