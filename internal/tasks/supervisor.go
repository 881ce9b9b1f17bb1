// Package tasks implements the Task/Progress Supervisor (C7): a
// process-wide registry of long-running jobs with progress events,
// cancellation, and persistence. Grounded on the teacher's goroutine-
// per-loop idiom (session.go's downloadLoop/resultLoop), generalized to
// an arbitrary named runner submitted at call time instead of a fixed
// set of loops started from session creation.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"bsr/internal/apperr"
	"bsr/internal/events"
	"bsr/internal/logger"
	"bsr/internal/models"
	"bsr/internal/store"
)

// progressCoalesceWindow caps how often progress broadcasts a given
// task's message (spec.md §4.7: "coalesces at <= 4 Hz per task").
const progressCoalesceWindow = 250 * time.Millisecond

// cancelGrace is how long cancel waits for cooperative shutdown before
// considering the task hard-aborted.
const cancelGrace = 5 * time.Second

// Runner is the work function a caller supplies to Submit. It must
// observe ctx cancellation and return promptly once cancelled. progress
// is bound to this task's id; the runner calls it to report status.
type Runner func(ctx context.Context, progress func(msg string)) error

// FFmpegBound marks a task type as consuming a slot of the bounded
// FFmpeg pool rather than running unconstrained (spec.md §4.7).
func FFmpegBound(t models.TaskType) bool {
	switch t {
	case models.TaskClipRange, models.TaskEncodeVideoSubtitle, models.TaskGenerateWholeClip, models.TaskImportExternalVideo:
		return true
	default:
		return false
	}
}

type handle struct {
	id         string
	typ        models.TaskType
	cancel     context.CancelFunc
	done       chan struct{}
	lastSent   time.Time
	lastMsg    string
	mu         sync.Mutex
}

// Supervisor owns every task's lifecycle for the process's runtime.
type Supervisor struct {
	store  *store.Store
	bus    *events.Bus
	logger logger.Logger

	ffmpegSlots *semaphore.Weighted

	mu      sync.Mutex
	handles map[string]*handle
}

// New builds a Supervisor. ffmpegConcurrency bounds how many
// FFmpeg-bound task types (clip, encode subtitle, whole clip, import)
// run at once; I/O-only task types (upload, generate subtitle) are
// unbounded (spec.md §4.7).
func New(st *store.Store, bus *events.Bus, log logger.Logger, ffmpegConcurrency int64) *Supervisor {
	return &Supervisor{
		store:       st,
		bus:         bus,
		logger:      log,
		ffmpegSlots: semaphore.NewWeighted(ffmpegConcurrency),
		handles:     make(map[string]*handle),
	}
}

// Recover marks every task left pending/processing from a prior process
// as failed with message "interrupted" (spec.md §4.7, on process start).
// Callers are responsible for best-effort garbage collection of any
// in-flight output files matching the returned tasks' metadata.
func (s *Supervisor) Recover(ctx context.Context) ([]models.Task, error) {
	return s.store.MarkInterruptedTasksFailed(ctx)
}

// Submit inserts a pending row, starts the runner, and returns the new
// task's id immediately without waiting for it to run.
func (s *Supervisor) Submit(ctx context.Context, typ models.TaskType, metadataJSON string, run Runner) (string, error) {
	id := uuid.NewString()
	t := models.Task{ID: id, Type: typ, Status: models.TaskPending, Metadata: metadataJSON, CreatedAt: time.Now()}
	if err := s.store.InsertTask(ctx, t); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &handle{id: id, typ: typ, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.handles[id] = h
	s.mu.Unlock()

	go s.run(runCtx, h, run)

	return id, nil
}

func (s *Supervisor) run(ctx context.Context, h *handle, run Runner) {
	defer close(h.done)

	if FFmpegBound(h.typ) {
		if err := s.ffmpegSlots.Acquire(ctx, 1); err != nil {
			s.finish(h.id, models.TaskCancelled, "cancelled before a worker slot freed up")
			return
		}
		defer s.ffmpegSlots.Release(1)
	}

	if err := s.store.UpdateTaskStatus(context.Background(), h.id, models.TaskProcessing, ""); err != nil {
		s.logger.Errorf("tasks: failed to mark %s processing: %v", h.id, err)
	}

	err := run(ctx, func(msg string) { s.progress(h, msg) })
	if err != nil {
		if ctx.Err() != nil {
			s.finish(h.id, models.TaskCancelled, "cancelled")
			return
		}
		s.finish(h.id, models.TaskFailed, err.Error())
		return
	}
	s.finish(h.id, models.TaskCompleted, "completed")
}

// progress updates the task's in-memory message and broadcasts it,
// coalesced to progressCoalesceWindow per task (spec.md §4.7).
func (s *Supervisor) progress(h *handle, msg string) {
	h.mu.Lock()
	now := time.Now()
	if msg == h.lastMsg || now.Sub(h.lastSent) < progressCoalesceWindow {
		h.mu.Unlock()
		return
	}
	h.lastMsg = msg
	h.lastSent = now
	h.mu.Unlock()

	s.bus.Publish(events.ProgressUpdateTag(h.id), map[string]string{"task_id": h.id, "message": msg})
}

func (s *Supervisor) finish(id string, status models.TaskStatus, finalMessage string) {
	if err := s.store.UpdateTaskStatus(context.Background(), id, status, finalMessage); err != nil {
		s.logger.Errorf("tasks: failed to persist terminal status for %s: %v", id, err)
	}
	s.bus.Publish(events.ProgressFinishedTag(id), map[string]any{"task_id": id, "status": status, "message": finalMessage})
}

// Cancel fires the task's cancellation token and waits up to cancelGrace
// for cooperative shutdown before returning; the runner remains
// responsible for propagating cancellation into any subprocess kill.
func (s *Supervisor) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	h, ok := s.handles[id]
	s.mu.Unlock()
	if !ok {
		return apperr.Newf(apperr.NotFound, "tasks.Cancel", "no running task %s", id)
	}

	h.cancel()
	select {
	case <-h.done:
	case <-time.After(cancelGrace):
		s.logger.Warnf("tasks: %s did not stop within %s of cancellation, treating as hard-aborted", id, cancelGrace)
		if err := s.store.UpdateTaskStatus(ctx, id, models.TaskCancelled, "cancelled"); err != nil {
			return err
		}
		s.bus.Publish(events.ProgressFinishedTag(id), map[string]any{"task_id": id, "status": models.TaskCancelled, "message": "cancelled"})
	}
	return nil
}

// List returns every persisted task, newest first.
func (s *Supervisor) List(ctx context.Context) ([]models.Task, error) {
	return s.store.ListTasks(ctx)
}

// Delete removes a task's row. Only permitted once the task has reached
// a terminal status (spec.md §4.7).
func (s *Supervisor) Delete(ctx context.Context, id string) error {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if !t.Status.IsTerminal() {
		return apperr.Newf(apperr.Config, "tasks.Delete", "task %s is still %s, cannot delete a non-terminal task", id, t.Status)
	}
	return s.store.DeleteTask(ctx, id)
}

// Stop cancels every currently-running task, used during graceful
// process shutdown.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	handles := make([]*handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	for _, h := range handles {
		select {
		case <-h.done:
		case <-time.After(cancelGrace):
		}
	}
}
