package store

import (
	"context"
	"database/sql"
	"time"

	"bsr/internal/apperr"
	"bsr/internal/models"
)

// InsertArchive creates the record row for a freshly started recording
// session.
func (s *Store) InsertArchive(ctx context.Context, a models.Archive) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (platform, room_id, live_id, parent_id, title, cover, length, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.Platform, a.RoomID, a.LiveID, a.ParentID, a.Title, a.Cover, a.Length, a.Size, a.CreatedAt)
	if err != nil {
		return apperr.New(apperr.Store, "store.InsertArchive", err)
	}
	return nil
}

// UpdateArchiveProgress updates the cumulative length/size of an
// in-progress archive, called once per segment poll cycle (spec.md §4.5
// step 3).
func (s *Store) UpdateArchiveProgress(ctx context.Context, key models.ArchiveKey, length float64, size int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE records SET length = ?, size = ?
		WHERE platform = ? AND room_id = ? AND live_id = ?
	`, length, size, key.Platform, key.RoomID, key.LiveID)
	if err != nil {
		return apperr.New(apperr.Store, "store.UpdateArchiveProgress", err)
	}
	return nil
}

func scanArchive(row interface {
	Scan(dest ...any) error
}) (models.Archive, error) {
	var a models.Archive
	var createdAt time.Time
	err := row.Scan(&a.Platform, &a.RoomID, &a.LiveID, &a.ParentID, &a.Title, &a.Cover, &a.Length, &a.Size, &createdAt)
	a.CreatedAt = createdAt
	return a, err
}

const archiveColumns = `platform, room_id, live_id, parent_id, title, cover, length, size, created_at`

// GetArchive fetches one archive row by its composite key.
func (s *Store) GetArchive(ctx context.Context, key models.ArchiveKey) (models.Archive, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+archiveColumns+` FROM records
		WHERE platform = ? AND room_id = ? AND live_id = ?
	`, key.Platform, key.RoomID, key.LiveID)
	a, err := scanArchive(row)
	if err == sql.ErrNoRows {
		return a, apperr.New(apperr.NotFound, "store.GetArchive", err)
	}
	if err != nil {
		return a, apperr.New(apperr.Store, "store.GetArchive", err)
	}
	return a, nil
}

// LatestArchive returns the most recently created archive for a room, used
// by the recorder to decide parent_id grouping on a fresh Connecting
// transition (spec.md §4.5).
func (s *Store) LatestArchive(ctx context.Context, platform, roomID string) (models.Archive, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+archiveColumns+` FROM records
		WHERE platform = ? AND room_id = ?
		ORDER BY live_id DESC LIMIT 1
	`, platform, roomID)
	a, err := scanArchive(row)
	if err == sql.ErrNoRows {
		return a, false, nil
	}
	if err != nil {
		return a, false, apperr.New(apperr.Store, "store.LatestArchive", err)
	}
	return a, true, nil
}

// ListArchives returns archives for one room, newest first, paginated.
func (s *Store) ListArchives(ctx context.Context, platform, roomID string, offset, limit int) ([]models.Archive, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+archiveColumns+` FROM records
		WHERE platform = ? AND room_id = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, platform, roomID, limit, offset)
	if err != nil {
		return nil, apperr.New(apperr.Store, "store.ListArchives", err)
	}
	defer rows.Close()
	return collectArchives(rows)
}

// ListArchivesByParentID returns every archive sharing a broadcast group,
// ascending by live_id (the order generate_whole_clip concatenates them).
func (s *Store) ListArchivesByParentID(ctx context.Context, platform, roomID string, parentID int64) ([]models.Archive, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+archiveColumns+` FROM records
		WHERE platform = ? AND room_id = ? AND parent_id = ?
		ORDER BY live_id ASC
	`, platform, roomID, parentID)
	if err != nil {
		return nil, apperr.New(apperr.Store, "store.ListArchivesByParentID", err)
	}
	defer rows.Close()
	return collectArchives(rows)
}

// ListAllArchives returns every archive row, used by the orphan-collection
// pass at startup to reconcile store rows against cache directories.
func (s *Store) ListAllArchives(ctx context.Context) ([]models.Archive, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+archiveColumns+` FROM records`)
	if err != nil {
		return nil, apperr.New(apperr.Store, "store.ListAllArchives", err)
	}
	defer rows.Close()
	return collectArchives(rows)
}

func collectArchives(rows *sql.Rows) ([]models.Archive, error) {
	var out []models.Archive
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, apperr.New(apperr.Store, "store.collectArchives", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteArchive removes the record row and its danmu rows transactionally
// (spec.md invariant 8). The caller (C5/C2) is responsible for deleting
// the on-disk cache directory — the store only owns rows.
func (s *Store) DeleteArchive(ctx context.Context, key models.ArchiveKey) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM records WHERE platform = ? AND room_id = ? AND live_id = ?
		`, key.Platform, key.RoomID, key.LiveID); err != nil {
			return apperr.New(apperr.Store, "store.DeleteArchive", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM danmu WHERE platform = ? AND room_id = ? AND live_id = ?
		`, key.Platform, key.RoomID, key.LiveID); err != nil {
			return apperr.New(apperr.Store, "store.DeleteArchive", err)
		}
		return nil
	})
}
