package recorder

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bsr/internal/cache"
	"bsr/internal/events"
	"bsr/internal/httpfetch"
	"bsr/internal/logger"
	"bsr/internal/models"
	"bsr/internal/platform"
	"bsr/internal/store"
)

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.New(t.TempDir(), logger.NewLogger("error"))
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}
	return c
}

type fakeAdapter struct {
	mu       sync.Mutex
	live     bool
	playlist string
	roomInfo platform.RoomInfo
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) ResolveRoomInfo(ctx context.Context, roomID, extra string, account *models.Account) (platform.RoomInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roomInfo, nil
}

func (f *fakeAdapter) PollLiveState(ctx context.Context, roomID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live, nil
}

func (f *fakeAdapter) FetchPlaylist(ctx context.Context, roomID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playlist, nil
}

func (f *fakeAdapter) FetchSegmentHeaders() map[string]string { return nil }

func (f *fakeAdapter) SubscribeDanmu(ctx context.Context, roomID string, account *models.Account) (<-chan models.DanmuEntry, error) {
	ch := make(chan models.DanmuEntry)
	close(ch)
	return ch, nil
}

func (f *fakeAdapter) setLive(live bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live = live
}

func (f *fakeAdapter) setPlaylist(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playlist = p
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "data.db"), logger.NewLogger("error"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.IdlePollInterval = 10 * time.Millisecond
	cfg.RefreshInterval = 10 * time.Millisecond
	cfg.NotLiveThreshold = 2
	cfg.DownloadRetryWait = time.Millisecond
	cfg.ErrorBackoff = 10 * time.Millisecond
	return cfg
}

func waitForState(t *testing.T, r *Recorder, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if r.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for state %s, last state %s", want, r.State())
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestRecorderAdvancesFromIdleToRecordingOnFirstSegment(t *testing.T) {
	segServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("segment-bytes"))
	}))
	defer segServer.Close()

	adapter := &fakeAdapter{
		live:     true,
		roomInfo: platform.RoomInfo{Title: "my room"},
		playlist: "#EXTM3U\n#EXT-X-TARGETDURATION:2\n#EXT-X-MEDIA-SEQUENCE:0\n#EXTINF:2.000,\n" + segServer.URL + "/0.ts\n",
	}

	st := newTestStore(t)
	c := newTestCache(t)
	bus := events.New(func() int64 { return 0 })
	log := logger.NewLogger("error")
	client := httpfetch.NewClient(log, time.Second)

	key := models.RecorderKey{Platform: "fake", RoomID: "1"}
	rec := New(key, "", nil, adapter, client, st, c, bus, nil, log, fastConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go rec.Run(ctx)

	waitForState(t, rec, Recording, 2*time.Second)

	rec.mu.RLock()
	liveID := rec.liveID
	rec.mu.RUnlock()

	archive, err := st.GetArchive(context.Background(), models.ArchiveKey{Platform: "fake", RoomID: "1", LiveID: liveID})
	if err != nil {
		t.Fatalf("expected archive row to exist: %v", err)
	}
	if archive.Title != "my room" {
		t.Errorf("expected archive title 'my room', got %q", archive.Title)
	}
}

func TestRecorderFinalizesAfterNotLiveStreak(t *testing.T) {
	segServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("segment-bytes"))
	}))
	defer segServer.Close()

	adapter := &fakeAdapter{
		live:     true,
		roomInfo: platform.RoomInfo{Title: "my room"},
		playlist: "#EXTM3U\n#EXT-X-TARGETDURATION:2\n#EXT-X-MEDIA-SEQUENCE:0\n#EXTINF:2.000,\n" + segServer.URL + "/0.ts\n",
	}

	st := newTestStore(t)
	c := newTestCache(t)
	bus := events.New(func() int64 { return 0 })
	log := logger.NewLogger("error")
	client := httpfetch.NewClient(log, time.Second)

	key := models.RecorderKey{Platform: "fake", RoomID: "2"}
	rec := New(key, "", nil, adapter, client, st, c, bus, nil, log, fastConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go rec.Run(ctx)

	waitForState(t, rec, Recording, 2*time.Second)

	adapter.setLive(false)

	waitForState(t, rec, Idle, 2*time.Second)
}

func TestResolveParentIDReusesGroupWithinGapAndSameTitle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	prev := models.Archive{Platform: "fake", RoomID: "1", LiveID: 1000, ParentID: 1000, Title: "same title", Length: 30, CreatedAt: time.Now().Add(-1 * time.Minute)}
	if err := st.InsertArchive(ctx, prev); err != nil {
		t.Fatalf("InsertArchive failed: %v", err)
	}

	log := logger.NewLogger("error")
	rec := New(models.RecorderKey{Platform: "fake", RoomID: "1"}, "", nil, nil, nil, st, nil, nil, nil, log, DefaultConfig())

	parentID := rec.resolveParentID(ctx, 2000, "same title")
	if parentID != 1000 {
		t.Errorf("expected parent_id reused as 1000, got %d", parentID)
	}
}

func TestResolveParentIDStartsNewGroupOnTitleChange(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	prev := models.Archive{Platform: "fake", RoomID: "1", LiveID: 1000, ParentID: 1000, Title: "old title", Length: 30, CreatedAt: time.Now().Add(-1 * time.Minute)}
	if err := st.InsertArchive(ctx, prev); err != nil {
		t.Fatalf("InsertArchive failed: %v", err)
	}

	log := logger.NewLogger("error")
	rec := New(models.RecorderKey{Platform: "fake", RoomID: "1"}, "", nil, nil, nil, st, nil, nil, nil, log, DefaultConfig())

	parentID := rec.resolveParentID(ctx, 2000, "new title")
	if parentID != 2000 {
		t.Errorf("expected a fresh parent_id of 2000, got %d", parentID)
	}
}

func TestSegmentExtDerivesFromURIIgnoringQuery(t *testing.T) {
	if ext := segmentExt("https://example.com/live/42.ts?token=abc"); ext != "ts" {
		t.Errorf("expected ts, got %q", ext)
	}
	if ext := segmentExt("https://example.com/live/42"); ext != "ts" {
		t.Errorf("expected fallback ts for extensionless URI, got %q", ext)
	}
}
