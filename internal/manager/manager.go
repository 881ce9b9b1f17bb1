// Package manager implements the process-wide recorder registry (C10).
// It generalizes the teacher's SessionManager (internal/session's
// map[string]*StreamSession, coarse mutex, GetOrCreateSession) into the
// map[(platform, room_id)]*Recorder registry of spec.md §4.10: recorders
// here are user-managed subscriptions added/removed explicitly rather
// than lazily created on first request.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bsr/internal/apperr"
	"bsr/internal/cache"
	"bsr/internal/danmu"
	"bsr/internal/events"
	"bsr/internal/httpfetch"
	"bsr/internal/logger"
	"bsr/internal/models"
	"bsr/internal/platform"
	"bsr/internal/recorder"
	"bsr/internal/store"
)

// removeWait caps how long Remove waits for a recorder's Finalizing
// state to drain before declaring it stopped anyway (spec.md §4.10).
const removeWait = 10 * time.Second

// AdapterFactory resolves the platform.Adapter for a platform tag. ok is
// false for an unrecognized platform.
type AdapterFactory func(platformTag string) (platform.Adapter, bool)

// IngestorFactory builds the danmu ingestor wired to one adapter. May be
// nil in Manager to disable chat capture entirely.
type IngestorFactory func(adapter platform.Adapter) *danmu.Ingestor

type entry struct {
	cfg      models.RecorderConfig
	rec      *recorder.Recorder
	cancel   context.CancelFunc
	done     chan struct{}
}

// Manager owns every active Recorder for the process's lifetime.
type Manager struct {
	baseCtx context.Context

	store      *store.Store
	cache      *cache.Cache
	bus        *events.Bus
	client     *httpfetch.Client
	logger     logger.Logger
	recorderCfg recorder.Config
	adapters    AdapterFactory
	ingestors   IngestorFactory

	mu      sync.RWMutex // coarse lock: guards the map itself (insert/remove)
	entries map[models.RecorderKey]*entry
}

// New builds a Manager. baseCtx is the parent of every recorder's
// context; cancelling it (process shutdown) stops every recorder.
func New(baseCtx context.Context, st *store.Store, c *cache.Cache, bus *events.Bus, client *httpfetch.Client, log logger.Logger, recorderCfg recorder.Config, adapters AdapterFactory, ingestors IngestorFactory) *Manager {
	return &Manager{
		baseCtx:     baseCtx,
		store:       st,
		cache:       c,
		bus:         bus,
		client:      client,
		logger:      log,
		recorderCfg: recorderCfg,
		adapters:    adapters,
		ingestors:   ingestors,
		entries:     make(map[models.RecorderKey]*entry),
	}
}

// Add registers a recorder to the store and starts its state machine.
func (m *Manager) Add(ctx context.Context, cfg models.RecorderConfig, account *models.Account) error {
	key := cfg.Key()

	m.mu.Lock()
	if _, exists := m.entries[key]; exists {
		m.mu.Unlock()
		return apperr.Newf(apperr.Config, "manager.Add", "recorder %s/%s already exists", key.Platform, key.RoomID)
	}

	adapter, ok := m.adapters(cfg.Platform)
	if !ok {
		m.mu.Unlock()
		return apperr.Newf(apperr.Config, "manager.Add", "unknown platform %q", cfg.Platform)
	}

	if err := m.store.UpsertRecorder(ctx, cfg); err != nil {
		m.mu.Unlock()
		return err
	}

	var ingestor *danmu.Ingestor
	if m.ingestors != nil {
		ingestor = m.ingestors(adapter)
	}

	rec := recorder.New(key, cfg.Extra, account, adapter, m.client, m.store, m.cache, m.bus, ingestor, m.logger, m.recorderCfg)
	recCtx, cancel := context.WithCancel(m.baseCtx)
	done := make(chan struct{})

	m.entries[key] = &entry{cfg: cfg, rec: rec, cancel: cancel, done: done}
	m.mu.Unlock()

	go func() {
		rec.Run(recCtx)
		close(done)
	}()

	m.bus.Publish(events.RecorderAdded, map[string]string{"platform": key.Platform, "room_id": key.RoomID})
	return nil
}

// stopRunning cancels a running recorder's context and waits (bounded)
// for its goroutine to exit, removing it from the in-memory registry.
// It does not touch the persisted row — callers decide what happens to
// that separately.
func (m *Manager) stopRunning(key models.RecorderKey) error {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		m.mu.Unlock()
		return apperr.New(apperr.NotFound, "manager.stopRunning", fmt.Errorf("no recorder for %s/%s", key.Platform, key.RoomID))
	}
	delete(m.entries, key)
	m.mu.Unlock()

	e.cancel()
	select {
	case <-e.done:
	case <-time.After(removeWait):
		m.logger.Warnf("manager: recorder %s/%s did not stop within %s, proceeding anyway", key.Platform, key.RoomID, removeWait)
	}
	return nil
}

// Remove stops the recorder (waiting up to removeWait for Finalizing to
// complete) and deletes its persisted subscription row.
func (m *Manager) Remove(ctx context.Context, key models.RecorderKey) error {
	if err := m.stopRunning(key); err != nil {
		return err
	}

	if err := m.store.DeleteRecorder(ctx, key); err != nil {
		return err
	}
	m.bus.Publish(events.RecorderRemoved, map[string]string{"platform": key.Platform, "room_id": key.RoomID})
	return nil
}

// SetEnable toggles a recorder's enabled flag (spec.md §6 set_enable):
// enabling re-adds it (recovering its persisted Extra, so a Douyin
// sec_uid or similar adapter argument survives the cycle) if not
// currently running; disabling stops the running recorder but keeps its
// subscription row intact with enabled=false — set_enable is not
// remove_recorder, the row is only ever deleted by remove_recorder.
func (m *Manager) SetEnable(ctx context.Context, key models.RecorderKey, enabled bool, account *models.Account) error {
	m.mu.RLock()
	_, running := m.entries[key]
	m.mu.RUnlock()

	if enabled && !running {
		cfg, err := m.store.GetRecorder(ctx, key)
		if err != nil {
			return err
		}
		cfg.Enabled = true
		return m.Add(ctx, cfg, account)
	}
	if !enabled && running {
		if err := m.stopRunning(key); err != nil {
			return err
		}
		return m.store.SetRecorderEnabled(ctx, key, false)
	}
	return m.store.SetRecorderEnabled(ctx, key, enabled)
}

// View is the runtime projection of one recorder returned by List.
type View struct {
	models.RecorderConfig
	State  recorder.State `json:"state"`
	LiveID int64          `json:"live_id,omitempty"`
}

// Get returns the runtime view of one registered recorder, or false if
// no recorder is currently subscribed to that room — used by the
// playlist endpoint to tell a still-recording archive apart from a
// finished one without relying on a persisted-store proxy.
func (m *Manager) Get(key models.RecorderKey) (View, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok {
		return View{}, false
	}
	return View{RecorderConfig: e.cfg, State: e.rec.State(), LiveID: e.rec.LiveID()}, true
}

// List returns a snapshot of every registered recorder's runtime state,
// read without blocking any recorder's own task (spec.md §4.10).
func (m *Manager) List() []View {
	m.mu.RLock()
	defer m.mu.RUnlock()

	views := make([]View, 0, len(m.entries))
	for _, e := range m.entries {
		views = append(views, View{
			RecorderConfig: e.cfg,
			State:          e.rec.State(),
			LiveID:         e.rec.LiveID(),
		})
	}
	return views
}

// Stop cancels every recorder and waits (bounded) for them to finish,
// used during graceful process shutdown.
func (m *Manager) Stop() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
	for _, e := range entries {
		select {
		case <-e.done:
		case <-time.After(removeWait):
		}
	}
}
