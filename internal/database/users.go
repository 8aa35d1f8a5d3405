package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// User is a pendant owner. Timezone is an IANA zone name and drives the
// local-day boundaries for that user's summaries.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Timezone  string    `json:"timezone"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrNoCredential is returned when a user has no active upstream key.
var ErrNoCredential = errors.New("no active upstream credential")

const userColumns = `id, email, timezone, is_active, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Timezone, &u.IsActive, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser looks a user up by id first, then by email.
func (db *DB) GetUser(ctx context.Context, idOrEmail string) (*User, error) {
	u, err := scanUser(db.Pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, idOrEmail))
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	u, err = scanUser(db.Pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, idOrEmail))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %q not found", idOrEmail)
	}
	return u, err
}

// ListActiveUsers returns all active users that hold an active upstream
// credential — the fleet the nightly run iterates over.
func (db *DB) ListActiveUsers(ctx context.Context) ([]User, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users u
		WHERE u.is_active
		  AND EXISTS (SELECT 1 FROM upstream_keys k WHERE k.user_id = u.id AND k.is_active)
		ORDER BY u.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.Timezone, &u.IsActive, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetActiveCredential returns the encrypted secret of the user's single
// active upstream key. The caller decrypts it with AAD = user id.
func (db *DB) GetActiveCredential(ctx context.Context, userID string) (string, error) {
	var secret string
	err := db.Pool.QueryRow(ctx, `
		SELECT encrypted_secret FROM upstream_keys
		WHERE user_id = $1 AND is_active
	`, userID).Scan(&secret)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", err
	}
	return secret, nil
}

// SetCredential deactivates any existing key and inserts a new active one.
// The partial unique index on (user_id) WHERE is_active makes concurrent
// activations lose cleanly.
func (db *DB) SetCredential(ctx context.Context, userID, encryptedSecret string) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE upstream_keys SET is_active = false
		WHERE user_id = $1 AND is_active
	`, userID); err != nil {
		return fmt.Errorf("deactivate keys: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO upstream_keys (user_id, encrypted_secret, is_active)
		VALUES ($1, $2, true)
	`, userID, encryptedSecret); err != nil {
		return fmt.Errorf("insert key: %w", err)
	}

	return tx.Commit(ctx)
}
