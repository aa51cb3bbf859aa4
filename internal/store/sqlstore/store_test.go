package sqlstore

import (
	"context"
	"testing"

	"github.com/pliu/rentchat/internal/models"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := New("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestUser(t *testing.T, s *SQLStore, username string) *models.User {
	t.Helper()
	u := &models.User{Username: username, FullName: username, Password: "hash"}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
	return u
}

func TestRebind(t *testing.T) {
	tests := []struct {
		driver string
		query  string
		want   string
	}{
		{"sqlite3", "SELECT 1 WHERE a = ? AND b = ?", "SELECT 1 WHERE a = ? AND b = ?"},
		{"postgres", "SELECT 1 WHERE a = ? AND b = ?", "SELECT 1 WHERE a = $1 AND b = $2"},
		{"postgres", "SELECT 1", "SELECT 1"},
	}
	for _, tt := range tests {
		s := &SQLStore{driverName: tt.driver}
		if got := s.rebind(tt.query); got != tt.want {
			t.Errorf("rebind(%s, %q) = %q, want %q", tt.driver, tt.query, got, tt.want)
		}
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
