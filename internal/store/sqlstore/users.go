package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	cerrors "github.com/pliu/rentchat/internal/errors"
	"github.com/pliu/rentchat/internal/models"
)

// CreateUser inserts user and fills in its ID and CreatedAt.
func (s *SQLStore) CreateUser(ctx context.Context, user *models.User) error {
	id := uuid.NewString()
	createdAt := s.now()

	query := s.rebind("INSERT INTO users (id, username, full_name, password, public_key, created_at) VALUES (?, ?, ?, ?, ?, ?)")
	_, err := s.db.ExecContext(ctx, query, id, user.Username, user.FullName, user.Password, nullString(user.PublicKey), createdAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", cerrors.ErrDuplicateUser, user.Username)
	}
	if err != nil {
		return err
	}

	user.ID = id
	user.CreatedAt = createdAt
	return nil
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := s.rebind("SELECT id, username, full_name, password, COALESCE(public_key, ''), created_at FROM users WHERE username = ?")
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

func (s *SQLStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	query := s.rebind("SELECT id, username, full_name, password, COALESCE(public_key, ''), created_at FROM users WHERE id = ?")
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

func (s *SQLStore) scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Username, &user.FullName, &user.Password, &user.PublicKey, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cerrors.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *SQLStore) GetPublicKey(ctx context.Context, userID string) (string, error) {
	var key string
	query := s.rebind("SELECT COALESCE(public_key, '') FROM users WHERE id = ?")
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", cerrors.ErrUserNotFound
	}
	return key, err
}

// SetPublicKey overwrites the user's public key.
func (s *SQLStore) SetPublicKey(ctx context.Context, userID, publicKey string) error {
	query := s.rebind("UPDATE users SET public_key = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, query, nullString(publicKey), userID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return cerrors.ErrUserNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
