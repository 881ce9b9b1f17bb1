package store

import (
	"context"
	"database/sql"
	"time"

	"bsr/internal/apperr"
	"bsr/internal/models"
)

// InsertTask creates a task row with the status given in t (the
// supervisor always submits pending).
func (s *Store) InsertTask(ctx context.Context, t models.Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, type, status, message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, t.Type, t.Status, t.Message, t.Metadata, t.CreatedAt)
	if err != nil {
		return apperr.New(apperr.Store, "store.InsertTask", err)
	}
	return nil
}

// UpdateTaskStatus updates a task's status and human-readable message.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus, message string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ?, message = ? WHERE id = ?`, status, message, id)
	if err != nil {
		return apperr.New(apperr.Store, "store.UpdateTaskStatus", err)
	}
	return nil
}

func scanTask(row interface{ Scan(dest ...any) error }) (models.Task, error) {
	var t models.Task
	var createdAt time.Time
	err := row.Scan(&t.ID, &t.Type, &t.Status, &t.Message, &t.Metadata, &createdAt)
	t.CreatedAt = createdAt
	return t, err
}

const taskColumns = `id, type, status, message, metadata, created_at`

// GetTask fetches one task by id.
func (s *Store) GetTask(ctx context.Context, id string) (models.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return t, apperr.New(apperr.NotFound, "store.GetTask", err)
	}
	if err != nil {
		return t, apperr.New(apperr.Store, "store.GetTask", err)
	}
	return t, nil
}

// ListTasks returns every task, newest first.
func (s *Store) ListTasks(ctx context.Context) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, apperr.New(apperr.Store, "store.ListTasks", err)
	}
	defer rows.Close()

	var out []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, apperr.New(apperr.Store, "store.ListTasks", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTask removes a task row. Callers must only call this for tasks in
// a terminal status (spec.md §4.7).
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return apperr.New(apperr.Store, "store.DeleteTask", err)
	}
	return nil
}

// MarkInterruptedTasksFailed transitions every task left in pending or
// processing to failed with message "interrupted" — the startup recovery
// step of spec.md §4.7 — and returns those tasks (as read before the
// update) so the caller can best-effort garbage-collect matching
// in-flight output files.
func (s *Store) MarkInterruptedTasksFailed(ctx context.Context) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE status IN (?, ?)
	`, models.TaskPending, models.TaskProcessing)
	if err != nil {
		return nil, apperr.New(apperr.Store, "store.MarkInterruptedTasksFailed", err)
	}
	var interrupted []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, apperr.New(apperr.Store, "store.MarkInterruptedTasksFailed", err)
		}
		interrupted = append(interrupted, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.New(apperr.Store, "store.MarkInterruptedTasksFailed", err)
	}

	for _, t := range interrupted {
		if err := s.UpdateTaskStatus(ctx, t.ID, models.TaskFailed, "interrupted"); err != nil {
			return nil, err
		}
	}
	return interrupted, nil
}
