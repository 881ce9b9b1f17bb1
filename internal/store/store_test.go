package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"bsr/internal/logger"
	"bsr/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data.db"), logger.NewLogger("error"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAccountUpsertReplacesCookies(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := models.Account{Platform: "bilibili", UID: "1", Name: "alice", Cookies: "a=1", CreatedAt: time.Now()}
	if err := s.UpsertAccount(ctx, a); err != nil {
		t.Fatalf("UpsertAccount failed: %v", err)
	}

	a.Cookies = "a=2"
	if err := s.UpsertAccount(ctx, a); err != nil {
		t.Fatalf("second UpsertAccount failed: %v", err)
	}

	got, err := s.GetAccount(ctx, "bilibili", "1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if got.Cookies != "a=2" {
		t.Errorf("expected cookies updated, got %q", got.Cookies)
	}

	accounts, err := s.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("ListAccounts failed: %v", err)
	}
	if len(accounts) != 1 {
		t.Errorf("expected exactly 1 account after upsert, got %d", len(accounts))
	}
}

func TestRecorderDisableKeepsRowAndExtraSurvivesReEnable(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rc := models.RecorderConfig{
		Platform:  "douyin",
		RoomID:    "123",
		Extra:     `{"sec_uid":"abc"}`,
		AutoStart: true,
		Enabled:   true,
		CreatedAt: time.Now(),
	}
	if err := s.UpsertRecorder(ctx, rc); err != nil {
		t.Fatalf("UpsertRecorder failed: %v", err)
	}

	key := rc.Key()
	if err := s.SetRecorderEnabled(ctx, key, false); err != nil {
		t.Fatalf("SetRecorderEnabled(false) failed: %v", err)
	}

	got, err := s.GetRecorder(ctx, key)
	if err != nil {
		t.Fatalf("GetRecorder after disable failed: %v", err)
	}
	if got.Enabled {
		t.Errorf("expected recorder to be disabled")
	}
	if got.Extra != rc.Extra {
		t.Errorf("expected Extra to survive disable, got %q", got.Extra)
	}

	if err := s.SetRecorderEnabled(ctx, key, true); err != nil {
		t.Fatalf("SetRecorderEnabled(true) failed: %v", err)
	}
	got, err = s.GetRecorder(ctx, key)
	if err != nil {
		t.Fatalf("GetRecorder after re-enable failed: %v", err)
	}
	if !got.Enabled {
		t.Errorf("expected recorder to be enabled again")
	}
	if got.Extra != rc.Extra {
		t.Errorf("expected Extra to survive re-enable, got %q", got.Extra)
	}

	recorders, err := s.ListRecorders(ctx)
	if err != nil {
		t.Fatalf("ListRecorders failed: %v", err)
	}
	if len(recorders) != 1 {
		t.Errorf("expected the row to persist across disable/re-enable, got %d rows", len(recorders))
	}
}

func TestSetRecorderEnabledReturnsNotFoundForUnknownRecorder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	err := s.SetRecorderEnabled(ctx, models.RecorderKey{Platform: "bilibili", RoomID: "999"}, true)
	if err == nil {
		t.Fatal("expected an error for an unknown recorder")
	}
}

func TestArchiveLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	key := models.ArchiveKey{Platform: "bilibili", RoomID: "123", LiveID: 1000}
	archive := models.Archive{Platform: "bilibili", RoomID: "123", LiveID: 1000, ParentID: 1000, Title: "test", CreatedAt: time.Now()}
	if err := s.InsertArchive(ctx, archive); err != nil {
		t.Fatalf("InsertArchive failed: %v", err)
	}

	if err := s.UpdateArchiveProgress(ctx, key, 120.5, 4096); err != nil {
		t.Fatalf("UpdateArchiveProgress failed: %v", err)
	}

	got, err := s.GetArchive(ctx, key)
	if err != nil {
		t.Fatalf("GetArchive failed: %v", err)
	}
	if got.Length != 120.5 || got.Size != 4096 {
		t.Errorf("expected updated length/size, got %+v", got)
	}

	if err := s.InsertDanmuBatch(ctx, key, []models.DanmuEntry{{Ts: 1, Content: "hi"}}); err != nil {
		t.Fatalf("InsertDanmuBatch failed: %v", err)
	}

	if err := s.DeleteArchive(ctx, key); err != nil {
		t.Fatalf("DeleteArchive failed: %v", err)
	}
	if _, err := s.GetArchive(ctx, key); err == nil {
		t.Errorf("expected GetArchive to fail after delete")
	}
	entries, err := s.GetDanmuEntries(ctx, key, 0, 1000)
	if err != nil {
		t.Fatalf("GetDanmuEntries failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected danmu cascade-deleted with archive, got %d entries", len(entries))
	}
}

func TestListArchivesByParentIDOrdersAscending(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, liveID := range []int64{300, 100, 200} {
		a := models.Archive{Platform: "bilibili", RoomID: "1", LiveID: liveID, ParentID: 100, CreatedAt: time.Now()}
		if err := s.InsertArchive(ctx, a); err != nil {
			t.Fatalf("InsertArchive(%d) failed: %v", liveID, err)
		}
	}

	archives, err := s.ListArchivesByParentID(ctx, "bilibili", "1", 100)
	if err != nil {
		t.Fatalf("ListArchivesByParentID failed: %v", err)
	}
	if len(archives) != 3 {
		t.Fatalf("expected 3 archives, got %d", len(archives))
	}
	for i, want := range []int64{100, 200, 300} {
		if archives[i].LiveID != want {
			t.Errorf("expected archives[%d].LiveID = %d, got %d", i, want, archives[i].LiveID)
		}
	}
}

func TestDanmuStatsBucketing(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	key := models.ArchiveKey{Platform: "bilibili", RoomID: "1", LiveID: 1}

	entries := []models.DanmuEntry{
		{Ts: 1000, Content: "a"},
		{Ts: 5000, Content: "b"},
		{Ts: 15000, Content: "c"},
	}
	if err := s.InsertDanmuBatch(ctx, key, entries); err != nil {
		t.Fatalf("InsertDanmuBatch failed: %v", err)
	}

	buckets, err := s.GetDanmuStats(ctx, key, 10_000)
	if err != nil {
		t.Fatalf("GetDanmuStats failed: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d: %+v", len(buckets), buckets)
	}
	if buckets[0].BucketStart != 0 || buckets[0].Count != 2 {
		t.Errorf("expected first bucket {0, 2}, got %+v", buckets[0])
	}
	if buckets[1].BucketStart != 10000 || buckets[1].Count != 1 {
		t.Errorf("expected second bucket {10000, 1}, got %+v", buckets[1])
	}
}

func TestTaskInterruptedRecoveryOnStartup(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	pending := models.Task{ID: "t1", Type: models.TaskClipRange, Status: models.TaskPending, CreatedAt: time.Now()}
	processing := models.Task{ID: "t2", Type: models.TaskClipRange, Status: models.TaskProcessing, CreatedAt: time.Now()}
	completed := models.Task{ID: "t3", Type: models.TaskClipRange, Status: models.TaskCompleted, CreatedAt: time.Now()}
	for _, tsk := range []models.Task{pending, processing, completed} {
		if err := s.InsertTask(ctx, tsk); err != nil {
			t.Fatalf("InsertTask(%s) failed: %v", tsk.ID, err)
		}
	}

	interrupted, err := s.MarkInterruptedTasksFailed(ctx)
	if err != nil {
		t.Fatalf("MarkInterruptedTasksFailed failed: %v", err)
	}
	if len(interrupted) != 2 {
		t.Fatalf("expected 2 interrupted tasks, got %d", len(interrupted))
	}

	t1, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask(t1) failed: %v", err)
	}
	if t1.Status != models.TaskFailed || t1.Message != "interrupted" {
		t.Errorf("expected t1 failed/interrupted, got %+v", t1)
	}

	t3, err := s.GetTask(ctx, "t3")
	if err != nil {
		t.Fatalf("GetTask(t3) failed: %v", err)
	}
	if t3.Status != models.TaskCompleted {
		t.Errorf("expected completed task untouched, got %+v", t3)
	}
}

func TestVideoNoteAndStatusUpdates(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id, err := s.InsertVideo(ctx, models.Video{Platform: "clip", Title: "t", Status: models.VideoProcessing, CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("InsertVideo failed: %v", err)
	}

	if err := s.UpdateVideoNote(ctx, id, "great clip"); err != nil {
		t.Fatalf("UpdateVideoNote failed: %v", err)
	}
	if err := s.UpdateVideoStatus(ctx, id, models.VideoReady, ""); err != nil {
		t.Fatalf("UpdateVideoStatus failed: %v", err)
	}

	v, err := s.GetVideo(ctx, id)
	if err != nil {
		t.Fatalf("GetVideo failed: %v", err)
	}
	if v.Note != "great clip" || v.Status != models.VideoReady {
		t.Errorf("expected updated note/status, got %+v", v)
	}

	if err := s.DeleteVideo(ctx, id); err != nil {
		t.Fatalf("DeleteVideo failed: %v", err)
	}
	if _, err := s.GetVideo(ctx, id); err == nil {
		t.Errorf("expected GetVideo to fail after delete")
	}
}
