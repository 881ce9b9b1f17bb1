package store

import (
	"context"
	"database/sql"
	"time"

	"bsr/internal/apperr"
	"bsr/internal/models"
)

const videoColumns = `id, platform, room_id, file, cover, duration, size, bvid, title, desc, tags, area, note, subtitle, status, created_at`

func scanVideo(row interface{ Scan(dest ...any) error }) (models.Video, error) {
	var v models.Video
	var createdAt time.Time
	err := row.Scan(&v.ID, &v.Platform, &v.RoomID, &v.File, &v.Cover, &v.Duration, &v.Size,
		&v.BVID, &v.Title, &v.Desc, &v.Tags, &v.Area, &v.Note, &v.Subtitle, &v.Status, &createdAt)
	v.CreatedAt = createdAt
	return v, err
}

// InsertVideo creates a new clip/import row and returns its assigned id.
func (s *Store) InsertVideo(ctx context.Context, v models.Video) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO videos (platform, room_id, file, cover, duration, size, bvid, title, desc, tags, area, note, subtitle, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.Platform, v.RoomID, v.File, v.Cover, v.Duration, v.Size, v.BVID, v.Title, v.Desc, v.Tags, v.Area, v.Note, v.Subtitle, v.Status, v.CreatedAt)
	if err != nil {
		return 0, apperr.New(apperr.Store, "store.InsertVideo", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, apperr.New(apperr.Store, "store.InsertVideo", err)
	}
	return id, nil
}

// GetVideo fetches one video by id.
func (s *Store) GetVideo(ctx context.Context, id int64) (models.Video, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id)
	v, err := scanVideo(row)
	if err == sql.ErrNoRows {
		return v, apperr.New(apperr.NotFound, "store.GetVideo", err)
	}
	if err != nil {
		return v, apperr.New(apperr.Store, "store.GetVideo", err)
	}
	return v, nil
}

// ListVideos returns videos for a (platform, room_id), paginated and
// newest first.
func (s *Store) ListVideos(ctx context.Context, platform, roomID string, offset, limit int) ([]models.Video, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+videoColumns+` FROM videos
		WHERE platform = ? AND room_id = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, platform, roomID, limit, offset)
	if err != nil {
		return nil, apperr.New(apperr.Store, "store.ListVideos", err)
	}
	defer rows.Close()
	return collectVideos(rows)
}

// ListAllVideos returns every video across all rooms, paginated.
func (s *Store) ListAllVideos(ctx context.Context, offset, limit int) ([]models.Video, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+videoColumns+` FROM videos
		ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, apperr.New(apperr.Store, "store.ListAllVideos", err)
	}
	defer rows.Close()
	return collectVideos(rows)
}

func collectVideos(rows *sql.Rows) ([]models.Video, error) {
	var out []models.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, apperr.New(apperr.Store, "store.collectVideos", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// DeleteVideo removes a video row. The caller deletes the backing file.
func (s *Store) DeleteVideo(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM videos WHERE id = ?`, id)
	if err != nil {
		return apperr.New(apperr.Store, "store.DeleteVideo", err)
	}
	return nil
}

// UpdateVideoNote is a single-column update (spec.md §4.1).
func (s *Store) UpdateVideoNote(ctx context.Context, id int64, note string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE videos SET note = ? WHERE id = ?`, note, id)
	if err != nil {
		return apperr.New(apperr.Store, "store.UpdateVideoNote", err)
	}
	return nil
}

// UpdateVideoSubtitle stores the generated/edited SRT text for a video.
func (s *Store) UpdateVideoSubtitle(ctx context.Context, id int64, subtitle string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE videos SET subtitle = ? WHERE id = ?`, subtitle, id)
	if err != nil {
		return apperr.New(apperr.Store, "store.UpdateVideoSubtitle", err)
	}
	return nil
}

// UpdateVideoStatus transitions a video between processing/ready/uploaded,
// optionally recording its assigned bvid once uploaded.
func (s *Store) UpdateVideoStatus(ctx context.Context, id int64, status models.VideoStatus, bvid string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE videos SET status = ?, bvid = ? WHERE id = ?`, status, bvid, id)
	if err != nil {
		return apperr.New(apperr.Store, "store.UpdateVideoStatus", err)
	}
	return nil
}
