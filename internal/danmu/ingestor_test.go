package danmu

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"bsr/internal/events"
	"bsr/internal/logger"
	"bsr/internal/models"
	"bsr/internal/platform"
	"bsr/internal/store"
)

// fakeAdapter implements platform.Adapter with a scriptable SubscribeDanmu.
type fakeAdapter struct {
	connectAttempts int32
	connect         func(attempt int32) (<-chan models.DanmuEntry, error)
}

func (f *fakeAdapter) Name() string { return "fake" }
func (f *fakeAdapter) ResolveRoomInfo(ctx context.Context, roomID, extra string, account *models.Account) (platform.RoomInfo, error) {
	return platform.RoomInfo{}, nil
}
func (f *fakeAdapter) PollLiveState(ctx context.Context, roomID string) (bool, error) { return true, nil }
func (f *fakeAdapter) FetchPlaylist(ctx context.Context, roomID string) (string, error) { return "", nil }
func (f *fakeAdapter) FetchSegmentHeaders() map[string]string                          { return nil }
func (f *fakeAdapter) SubscribeDanmu(ctx context.Context, roomID string, account *models.Account) (<-chan models.DanmuEntry, error) {
	n := atomic.AddInt32(&f.connectAttempts, 1)
	return f.connect(n)
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "data.db"), logger.NewLogger("error"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIngestorPersistsAndBroadcastsEntries(t *testing.T) {
	ch := make(chan models.DanmuEntry, 4)
	ch <- models.DanmuEntry{Ts: 1, Content: "hello"}
	ch <- models.DanmuEntry{Ts: 2, Content: "world"}
	close(ch)

	adapter := &fakeAdapter{connect: func(attempt int32) (<-chan models.DanmuEntry, error) {
		return ch, nil
	}}

	st := testStore(t)
	bus := events.New(func() int64 { return 0 })
	sub := bus.Subscribe()
	defer sub.Close()

	ing := NewIngestor(adapter, st, bus, logger.NewLogger("error"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := models.ArchiveKey{Platform: "fake", RoomID: "1", LiveID: 1}
	done := make(chan struct{})
	go func() {
		ing.Run(ctx, "1", key, nil)
		close(done)
	}()

	var received int
	for received < 2 {
		select {
		case <-sub.Events():
			received++
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for broadcast events, got %d", received)
		}
	}

	cancel()
	<-done

	entries, err := st.GetDanmuEntries(context.Background(), key, 0, 1000)
	if err != nil {
		t.Fatalf("GetDanmuEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 persisted entries, got %d", len(entries))
	}
}

func TestIngestorReconnectsAfterDisconnect(t *testing.T) {
	firstClosed := make(chan models.DanmuEntry)
	close(firstClosed)

	second := make(chan models.DanmuEntry)

	adapter := &fakeAdapter{connect: func(attempt int32) (<-chan models.DanmuEntry, error) {
		if attempt == 1 {
			return firstClosed, nil
		}
		return second, nil
	}}

	st := testStore(t)
	bus := events.New(func() int64 { return 0 })

	ing := NewIngestor(adapter, st, bus, logger.NewLogger("error"))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	key := models.ArchiveKey{Platform: "fake", RoomID: "2", LiveID: 1}
	go ing.Run(ctx, "2", key, nil)

	deadline := time.After(2 * time.Second)
	for {
		if atomic.LoadInt32(&adapter.connectAttempts) >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected at least 2 connect attempts, got %d", adapter.connectAttempts)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
