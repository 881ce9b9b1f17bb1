package store

import (
	"context"
	"database/sql"
	"time"

	"bsr/internal/apperr"
	"bsr/internal/models"
)

// UpsertAccount inserts a new account or replaces an existing one's
// cookies/csrf/name/avatar, keyed by (platform, uid) (spec.md §4.1).
func (s *Store) UpsertAccount(ctx context.Context, a models.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (platform, uid, name, avatar, cookies, csrf, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(platform, uid) DO UPDATE SET
			name = excluded.name,
			avatar = excluded.avatar,
			cookies = excluded.cookies,
			csrf = excluded.csrf
	`, a.Platform, a.UID, a.Name, a.Avatar, a.Cookies, a.CSRF, a.CreatedAt)
	if err != nil {
		return apperr.New(apperr.Store, "store.UpsertAccount", err)
	}
	return nil
}

// ListAccounts returns every stored account, ordered newest first.
func (s *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT platform, uid, name, avatar, cookies, csrf, created_at
		FROM accounts ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, apperr.New(apperr.Store, "store.ListAccounts", err)
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		var a models.Account
		var createdAt time.Time
		if err := rows.Scan(&a.Platform, &a.UID, &a.Name, &a.Avatar, &a.Cookies, &a.CSRF, &createdAt); err != nil {
			return nil, apperr.New(apperr.Store, "store.ListAccounts", err)
		}
		a.CreatedAt = createdAt
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAccount removes a single account by (platform, uid).
func (s *Store) DeleteAccount(ctx context.Context, platform, uid string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE platform = ? AND uid = ?`, platform, uid)
	if err != nil {
		return apperr.New(apperr.Store, "store.DeleteAccount", err)
	}
	return nil
}

// GetAccount looks up one account, returning sql.ErrNoRows wrapped as a
// Store error if absent.
func (s *Store) GetAccount(ctx context.Context, platform, uid string) (models.Account, error) {
	var a models.Account
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT platform, uid, name, avatar, cookies, csrf, created_at
		FROM accounts WHERE platform = ? AND uid = ?
	`, platform, uid).Scan(&a.Platform, &a.UID, &a.Name, &a.Avatar, &a.Cookies, &a.CSRF, &createdAt)
	if err == sql.ErrNoRows {
		return a, apperr.New(apperr.NotFound, "store.GetAccount", err)
	}
	if err != nil {
		return a, apperr.New(apperr.Store, "store.GetAccount", err)
	}
	a.CreatedAt = createdAt
	return a, nil
}
