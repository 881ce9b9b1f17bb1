// Package recorder implements the per-room state machine (C5) that turns
// a platform adapter's playlist/segment capability into a persisted,
// cached recording. It generalizes the teacher's single always-DASH
// recording loop into the full Disabled/Idle/Connecting/Recording/
// Finalizing/Error machine of spec.md §4.5, since a live room cycles
// through these states repeatedly over its lifetime rather than running
// once per process.
package recorder

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"bsr/internal/apperr"
	"bsr/internal/cache"
	"bsr/internal/danmu"
	"bsr/internal/events"
	"bsr/internal/hls"
	"bsr/internal/httpfetch"
	"bsr/internal/logger"
	"bsr/internal/models"
	"bsr/internal/platform"
	"bsr/internal/store"
)

// State is one node of the recorder state machine (spec.md §4.5).
type State string

const (
	Disabled   State = "disabled"
	Idle       State = "idle"
	Connecting State = "connecting"
	Recording  State = "recording"
	Finalizing State = "finalizing"
	Error      State = "error"
)

// Config holds the tunables spec.md §4.5 calls out by default value.
type Config struct {
	IdlePollInterval  time.Duration
	RefreshInterval   time.Duration
	NotLiveThreshold  int
	DownloadAttempts  int
	DownloadRetryWait time.Duration
	FailureWindow     time.Duration
	ParentGapWindow   time.Duration
	ErrorBackoff      time.Duration
}

// DefaultConfig matches the defaults named in spec.md §4.5.
func DefaultConfig() Config {
	return Config{
		IdlePollInterval:  10 * time.Second,
		RefreshInterval:   2 * time.Second,
		NotLiveThreshold:  3,
		DownloadAttempts:  3,
		DownloadRetryWait: 500 * time.Millisecond,
		FailureWindow:     30 * time.Second,
		ParentGapWindow:   120 * time.Second,
		ErrorBackoff:      15 * time.Second,
	}
}

// Recorder drives one (platform, room_id) room through the state machine.
// One Recorder exists per room for the lifetime of the process; C10
// holds the owning handle that enforces at-most-one-concurrent-recording.
type Recorder struct {
	cfg Config

	key     models.RecorderKey
	extra   string
	account *models.Account

	adapter platform.Adapter
	client  *httpfetch.Client
	store   *store.Store
	cache   *cache.Cache
	bus     *events.Bus
	danmu   *danmu.Ingestor // nil disables chat ingestion (e.g. in tests)
	logger  logger.Logger
	now     func() time.Time

	mu              sync.RWMutex
	state           State
	liveID          int64
	parentID        int64
	lastSeen        int64
	recordingCancel context.CancelFunc
}

// New builds a Recorder for one room. account may be nil for anonymous
// (cookie-less) polling; ingestor may be nil to disable danmu capture.
func New(key models.RecorderKey, extra string, account *models.Account, adapter platform.Adapter, client *httpfetch.Client, st *store.Store, c *cache.Cache, bus *events.Bus, ingestor *danmu.Ingestor, log logger.Logger, cfg Config) *Recorder {
	return &Recorder{
		cfg:      cfg,
		key:      key,
		extra:    extra,
		account:  account,
		adapter:  adapter,
		client:   client,
		store:    st,
		cache:    c,
		bus:      bus,
		danmu:    ingestor,
		logger:   log.With("platform", key.Platform, "room_id", key.RoomID),
		now:      time.Now,
		state:    Disabled,
		lastSeen: -1,
	}
}

// State returns the current state for the manager's projection of the
// recorder list (spec.md §6 get_recorder_list).
func (r *Recorder) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// LiveID returns the live_id of the archive currently being recorded, or
// 0 outside the Recording/Finalizing states. Read through the same lock
// as State so the manager's list projection never blocks the recorder's
// own task (spec.md §4.10: "read through atomics — no blocking").
func (r *Recorder) LiveID() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.liveID
}

func (r *Recorder) setState(s State) {
	r.mu.Lock()
	r.state = s
	if s != Recording && s != Finalizing {
		r.liveID = 0
	}
	r.mu.Unlock()
	r.logger.Infof("recorder: state -> %s", s)
}

// Run blocks until ctx is cancelled, cycling through the state machine.
// Cancellation always lands the recorder back in Disabled — the manager
// cancels ctx on user disable or on removal (spec.md §4.5: "* -> Disabled
// on user disable; cancels all child tasks").
func (r *Recorder) Run(ctx context.Context) {
	defer r.setState(Disabled)
	r.setState(Idle)

	for ctx.Err() == nil {
		switch r.State() {
		case Idle:
			r.runIdle(ctx)
		case Connecting:
			r.runConnecting(ctx)
		case Recording:
			r.runRecording(ctx)
		case Finalizing:
			r.runFinalizing(ctx)
		case Error:
			r.runError(ctx)
		default:
			return
		}
	}
}

func (r *Recorder) runIdle(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.IdlePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			live, err := r.adapter.PollLiveState(ctx, r.key.RoomID)
			if err != nil {
				if apperr.Is(err, apperr.Auth) {
					r.bus.Publish(events.LiveAuthError, map[string]string{"platform": r.key.Platform, "room_id": r.key.RoomID})
					r.setState(Error)
					return
				}
				r.logger.Warnf("recorder: poll_live_state failed: %v", err)
				continue
			}
			if live {
				r.bus.Publish(events.LiveStarted, map[string]string{"platform": r.key.Platform, "room_id": r.key.RoomID})
				r.setState(Connecting)
				return
			}
		}
	}
}

func (r *Recorder) runConnecting(ctx context.Context) {
	roomInfo, err := r.adapter.ResolveRoomInfo(ctx, r.key.RoomID, r.extra, r.account)
	if err != nil {
		if apperr.Is(err, apperr.Auth) {
			r.bus.Publish(events.LiveAuthError, map[string]string{"platform": r.key.Platform, "room_id": r.key.RoomID})
			r.setState(Error)
			return
		}
		r.logger.Warnf("recorder: resolve_room_info failed: %v", err)
		r.setState(Idle)
		return
	}

	playlistText, err := r.adapter.FetchPlaylist(ctx, r.key.RoomID)
	if err != nil {
		if apperr.Is(err, apperr.NotLive) {
			r.setState(Idle)
			return
		}
		r.logger.Warnf("recorder: fetch_playlist failed while connecting: %v", err)
		r.setState(Idle)
		return
	}

	manifest, err := hls.ParseManifest(playlistText)
	if err != nil || len(manifest.Segments) == 0 {
		r.logger.Warnf("recorder: empty or malformed origin manifest while connecting: %v", err)
		r.setState(Idle)
		return
	}

	first := manifest.Segments[0]
	headers := r.adapter.FetchSegmentHeaders()
	data, _, err := r.client.FetchWithStatus(ctx, first.URI, headers)
	if err != nil {
		r.logger.Warnf("recorder: failed to fetch first segment while connecting: %v", err)
		r.setState(Idle)
		return
	}

	liveID := r.now().UnixMilli()
	parentID := r.resolveParentID(ctx, liveID, roomInfo.Title)

	key := models.ArchiveKey{Platform: r.key.Platform, RoomID: r.key.RoomID, LiveID: liveID}
	if err := r.cache.Open(key, liveID); err != nil {
		r.logger.Errorf("recorder: cache.Open failed: %v", err)
		r.setState(Error)
		return
	}

	ext := segmentExt(first.URI)
	seg := models.Segment{Sequence: first.Sequence, FileName: cacheFileName(first.Sequence, ext), Duration: first.Duration, Size: int64(len(data)), Timestamp: liveID}
	if _, err := r.cache.Append(key, seg, ext, data); err != nil {
		r.logger.Errorf("recorder: cache.Append failed for first segment: %v", err)
		r.setState(Error)
		return
	}

	archive := models.Archive{
		Platform:  r.key.Platform,
		RoomID:    r.key.RoomID,
		LiveID:    liveID,
		ParentID:  parentID,
		Title:     roomInfo.Title,
		Cover:     roomInfo.Cover,
		Length:    seg.Duration,
		Size:      seg.Size,
		CreatedAt: r.now(),
	}
	if err := r.store.InsertArchive(ctx, archive); err != nil {
		r.logger.Errorf("recorder: InsertArchive failed: %v", err)
		r.setState(Error)
		return
	}

	r.mu.Lock()
	r.liveID = liveID
	r.parentID = parentID
	r.lastSeen = first.Sequence
	r.mu.Unlock()

	if r.danmu != nil {
		recCtx, cancel := context.WithCancel(ctx)
		r.mu.Lock()
		r.recordingCancel = cancel
		r.mu.Unlock()
		go r.danmu.Run(recCtx, r.key.RoomID, key, r.account)
	}

	r.bus.Publish(events.RecordStarted, map[string]any{"platform": r.key.Platform, "room_id": r.key.RoomID, "live_id": liveID})
	r.setState(Recording)
}

// resolveParentID implements the grouping policy of spec.md §4.5: reuse
// the previous archive's parent_id when the gap since its last activity
// is under ParentGapWindow and the room title is unchanged; otherwise
// start a new broadcast group rooted at this live_id.
func (r *Recorder) resolveParentID(ctx context.Context, liveID int64, title string) int64 {
	prev, ok, err := r.store.LatestArchive(ctx, r.key.Platform, r.key.RoomID)
	if err != nil || !ok {
		return liveID
	}
	lastActivity := prev.CreatedAt.Add(time.Duration(prev.Length * float64(time.Second)))
	gap := r.now().Sub(lastActivity)
	if gap <= r.cfg.ParentGapWindow && prev.Title == title {
		return prev.ParentID
	}
	return liveID
}

func (r *Recorder) runRecording(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()

	notLiveStreak := 0
	var failureSince time.Time

	key := func() models.ArchiveKey {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return models.ArchiveKey{Platform: r.key.Platform, RoomID: r.key.RoomID, LiveID: r.liveID}
	}()

	var totalLength float64
	var totalSize int64
	if a, err := r.store.GetArchive(ctx, key); err == nil {
		totalLength, totalSize = a.Length, a.Size
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		live, err := r.adapter.PollLiveState(ctx, r.key.RoomID)
		if err == nil {
			if live {
				notLiveStreak = 0
			} else {
				notLiveStreak++
			}
		}
		if notLiveStreak >= r.cfg.NotLiveThreshold {
			r.setState(Finalizing)
			return
		}

		playlistText, err := r.adapter.FetchPlaylist(ctx, r.key.RoomID)
		if err != nil {
			if apperr.Is(err, apperr.NotLive) {
				r.setState(Finalizing)
				return
			}
			r.logger.Warnf("recorder: fetch_playlist failed mid-recording: %v", err)
			continue
		}

		manifest, err := hls.ParseManifest(playlistText)
		if err != nil {
			r.logger.Warnf("recorder: malformed manifest, skipping cycle: %v", err)
			continue
		}

		lastSeen := r.getLastSeen()
		anySuccess := false
		for _, seg := range manifest.Segments {
			if seg.Sequence < lastSeen+1 {
				continue
			}
			ext := segmentExt(seg.URI)
			if r.cache.Contains(key, seg.Sequence, ext) {
				r.setLastSeen(seg.Sequence)
				continue
			}

			data, status, derr := r.client.FetchWithStatus(ctx, seg.URI, r.adapter.FetchSegmentHeaders())
			if status == 404 {
				// Stream race: the origin already rotated this sequence out.
				r.setLastSeen(seg.Sequence)
				continue
			}
			if derr != nil {
				data, derr = r.retryDownload(ctx, seg.URI)
			}
			if derr != nil {
				if failureSince.IsZero() {
					failureSince = r.now()
				} else if r.now().Sub(failureSince) > r.cfg.FailureWindow {
					r.setState(Finalizing)
					return
				}
				continue
			}
			failureSince = time.Time{}
			if data == nil {
				// Retry resolved to a 404 (stream race); nothing to append.
				r.setLastSeen(seg.Sequence)
				continue
			}

			model := models.Segment{
				Sequence:      seg.Sequence,
				FileName:      cacheFileName(seg.Sequence, ext),
				Duration:      seg.Duration,
				Size:          int64(len(data)),
				Discontinuity: seg.Discontinuity,
			}
			if _, err := r.cache.Append(key, model, ext, data); err != nil {
				r.logger.Errorf("recorder: cache.Append failed for segment %d: %v", seg.Sequence, err)
				r.setState(Error)
				return
			}

			totalLength += seg.Duration
			totalSize += model.Size
			r.setLastSeen(seg.Sequence)
			anySuccess = true
		}

		if anySuccess {
			if err := r.store.UpdateArchiveProgress(ctx, key, totalLength, totalSize); err != nil {
				r.logger.Errorf("recorder: UpdateArchiveProgress failed: %v", err)
				r.setState(Error)
				return
			}
		}

		// An explicit #EXT-X-ENDLIST from the origin ends the stream now.
		if manifest.EndList {
			r.setState(Finalizing)
			return
		}
	}
}

// retryDownload retries a failed segment fetch up to DownloadAttempts-1
// more times (spec.md §4.5 step 2: "on other HTTP errors, backoff-retry
// up to M attempts"). A 404 on retry is treated as success with no bytes
// to append — the stream has already rotated the sequence out.
func (r *Recorder) retryDownload(ctx context.Context, uri string) ([]byte, error) {
	var lastErr error
	for attempt := 2; attempt <= r.cfg.DownloadAttempts; attempt++ {
		time.Sleep(r.cfg.DownloadRetryWait)
		data, status, err := r.client.FetchWithStatus(ctx, uri, r.adapter.FetchSegmentHeaders())
		if status == 404 {
			return nil, nil
		}
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (r *Recorder) runFinalizing(ctx context.Context) {
	key := func() models.ArchiveKey {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return models.ArchiveKey{Platform: r.key.Platform, RoomID: r.key.RoomID, LiveID: r.liveID}
	}()

	r.mu.Lock()
	if r.recordingCancel != nil {
		r.recordingCancel()
		r.recordingCancel = nil
	}
	r.mu.Unlock()

	if err := r.cache.Close(key); err != nil {
		r.logger.Errorf("recorder: cache.Close failed while finalizing: %v", err)
	}
	r.bus.Publish(events.RecordEnded, map[string]any{"platform": r.key.Platform, "room_id": r.key.RoomID, "live_id": r.liveID})
	r.setState(Idle)
}

func (r *Recorder) runError(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(r.cfg.ErrorBackoff):
		r.setState(Idle)
	}
}

func (r *Recorder) getLastSeen() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSeen
}

func (r *Recorder) setLastSeen(seq int64) {
	r.mu.Lock()
	if seq > r.lastSeen {
		r.lastSeen = seq
	}
	r.mu.Unlock()
}

func segmentExt(uri string) string {
	ext := strings.TrimPrefix(path.Ext(strings.SplitN(uri, "?", 2)[0]), ".")
	if ext == "" {
		return "ts"
	}
	return ext
}

// cacheFileName mirrors cache.Cache's own segment naming convention
// (<sequence>.<ext>) so the stored Segment.FileName matches what the
// playlist generator and static file server will later resolve.
func cacheFileName(sequence int64, ext string) string {
	return fmt.Sprintf("%d.%s", sequence, ext)
}
