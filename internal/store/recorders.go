package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bsr/internal/apperr"
	"bsr/internal/models"
)

// UpsertRecorder persists a recorder's configuration (not its runtime
// state, which lives only in the in-memory manager per spec.md §3).
func (s *Store) UpsertRecorder(ctx context.Context, r models.RecorderConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recorders (platform, room_id, extra, auto_start, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(platform, room_id) DO UPDATE SET
			extra = excluded.extra,
			auto_start = excluded.auto_start,
			enabled = excluded.enabled
	`, r.Platform, r.RoomID, r.Extra, boolToInt(r.AutoStart), boolToInt(r.Enabled), r.CreatedAt)
	if err != nil {
		return apperr.New(apperr.Store, "store.UpsertRecorder", err)
	}
	return nil
}

// GetRecorder fetches one recorder's persisted configuration, used by
// set_enable to recover fields (Extra in particular) that aren't passed
// on a bare enable/disable toggle.
func (s *Store) GetRecorder(ctx context.Context, key models.RecorderKey) (models.RecorderConfig, error) {
	var r models.RecorderConfig
	var autoStart, enabled int
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT platform, room_id, extra, auto_start, enabled, created_at
		FROM recorders WHERE platform = ? AND room_id = ?
	`, key.Platform, key.RoomID).Scan(&r.Platform, &r.RoomID, &r.Extra, &autoStart, &enabled, &createdAt)
	if err == sql.ErrNoRows {
		return models.RecorderConfig{}, apperr.New(apperr.NotFound, "store.GetRecorder", err)
	}
	if err != nil {
		return models.RecorderConfig{}, apperr.New(apperr.Store, "store.GetRecorder", err)
	}
	r.AutoStart = autoStart != 0
	r.Enabled = enabled != 0
	r.CreatedAt = createdAt
	return r, nil
}

// SetRecorderEnabled flips a recorder's persisted enabled flag in place,
// leaving the rest of its configuration (in particular Extra) untouched
// — set_enable toggles availability, it never rewrites the subscription
// (spec.md §6: "set_enable is not remove_recorder").
func (s *Store) SetRecorderEnabled(ctx context.Context, key models.RecorderKey, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recorders SET enabled = ? WHERE platform = ? AND room_id = ?
	`, boolToInt(enabled), key.Platform, key.RoomID)
	if err != nil {
		return apperr.New(apperr.Store, "store.SetRecorderEnabled", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.New(apperr.NotFound, "store.SetRecorderEnabled", fmt.Errorf("no recorder for %s/%s", key.Platform, key.RoomID))
	}
	return nil
}

// ListRecorders returns every configured recorder, used at startup to
// rehydrate the manager's in-memory registry.
func (s *Store) ListRecorders(ctx context.Context) ([]models.RecorderConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT platform, room_id, extra, auto_start, enabled, created_at FROM recorders
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, apperr.New(apperr.Store, "store.ListRecorders", err)
	}
	defer rows.Close()

	var out []models.RecorderConfig
	for rows.Next() {
		var r models.RecorderConfig
		var autoStart, enabled int
		var createdAt time.Time
		if err := rows.Scan(&r.Platform, &r.RoomID, &r.Extra, &autoStart, &enabled, &createdAt); err != nil {
			return nil, apperr.New(apperr.Store, "store.ListRecorders", err)
		}
		r.AutoStart = autoStart != 0
		r.Enabled = enabled != 0
		r.CreatedAt = createdAt
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRecorder removes a recorder's configuration row. Archive/danmu
// deletion for that room is a separate, explicit operation (delete_archive)
// — removing a recorder does not retroactively delete its recordings.
func (s *Store) DeleteRecorder(ctx context.Context, key models.RecorderKey) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM recorders WHERE platform = ? AND room_id = ?`, key.Platform, key.RoomID)
	if err != nil {
		return apperr.New(apperr.Store, "store.DeleteRecorder", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
