package store

import (
	"context"
	"database/sql"

	"bsr/internal/apperr"
	"bsr/internal/models"
)

// InsertDanmuBatch persists a batch of danmu entries for an archive in
// one transaction, matching the ingestor's "batched writes every N
// entries or every T seconds" policy (spec.md §4.4).
func (s *Store) InsertDanmuBatch(ctx context.Context, key models.ArchiveKey, entries []models.DanmuEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO danmu (platform, room_id, live_id, ts, content) VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return apperr.New(apperr.Store, "store.InsertDanmuBatch", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, key.Platform, key.RoomID, key.LiveID, e.Ts, e.Content); err != nil {
				return apperr.New(apperr.Store, "store.InsertDanmuBatch", err)
			}
		}
		return nil
	})
}

// GetDanmuEntries returns every danmu entry for an archive whose ts falls
// in [startMs, endMs), ascending by ts — used by the media processor to
// render a clip's chat overlay.
func (s *Store) GetDanmuEntries(ctx context.Context, key models.ArchiveKey, startMs, endMs int64) ([]models.DanmuEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, content FROM danmu
		WHERE platform = ? AND room_id = ? AND live_id = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC
	`, key.Platform, key.RoomID, key.LiveID, startMs, endMs)
	if err != nil {
		return nil, apperr.New(apperr.Store, "store.GetDanmuEntries", err)
	}
	defer rows.Close()

	var out []models.DanmuEntry
	for rows.Next() {
		var e models.DanmuEntry
		if err := rows.Scan(&e.Ts, &e.Content); err != nil {
			return nil, apperr.New(apperr.Store, "store.GetDanmuEntries", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetDanmuStats aggregates an archive's danmu volume into fixed-width
// buckets for the UI's density graph (spec.md §3).
func (s *Store) GetDanmuStats(ctx context.Context, key models.ArchiveKey, bucketMs int64) ([]models.DanmuStatBucket, error) {
	if bucketMs <= 0 {
		bucketMs = 10_000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT (ts / ?) * ? AS bucket_start, COUNT(*) AS count
		FROM danmu
		WHERE platform = ? AND room_id = ? AND live_id = ?
		GROUP BY bucket_start
		ORDER BY bucket_start ASC
	`, bucketMs, bucketMs, key.Platform, key.RoomID, key.LiveID)
	if err != nil {
		return nil, apperr.New(apperr.Store, "store.GetDanmuStats", err)
	}
	defer rows.Close()

	var out []models.DanmuStatBucket
	for rows.Next() {
		var b models.DanmuStatBucket
		if err := rows.Scan(&b.BucketStart, &b.Count); err != nil {
			return nil, apperr.New(apperr.Store, "store.GetDanmuStats", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
