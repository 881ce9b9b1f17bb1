package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bsr/internal/logger"
	"bsr/internal/models"
)

func testCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), logger.NewLogger("error"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func testKey() models.ArchiveKey {
	return models.ArchiveKey{Platform: "bilibili", RoomID: "123", LiveID: 1700000000}
}

func TestOpenWritesPreambleWithOffset(t *testing.T) {
	c := testCache(t)
	key := testKey()

	if err := c.Open(key, 42); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	data, err := os.ReadFile(c.PlaylistPath(key))
	if err != nil {
		t.Fatalf("reading playlist: %v", err)
	}
	if !strings.Contains(string(data), "#EXT-X-OFFSET:42") {
		t.Errorf("expected offset tag in playlist, got %q", data)
	}
}

func TestAppendIsWriteOnce(t *testing.T) {
	c := testCache(t)
	key := testKey()
	if err := c.Open(key, 0); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	seg := models.Segment{Sequence: 1, FileName: "1.ts", Duration: 2.0}
	result, err := c.Append(key, seg, "ts", []byte("first-write"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if result != Appended {
		t.Errorf("expected Appended, got %v", result)
	}

	// A second append of the same sequence with different bytes must not
	// overwrite the file on disk.
	result2, err := c.Append(key, seg, "ts", []byte("second-write-should-be-ignored"))
	if err != nil {
		t.Fatalf("second Append failed: %v", err)
	}
	if result2 != Duplicate {
		t.Errorf("expected Duplicate on re-append, got %v", result2)
	}

	data, err := os.ReadFile(c.SegmentPath(key, 1, "ts"))
	if err != nil {
		t.Fatalf("reading segment: %v", err)
	}
	if string(data) != "first-write" {
		t.Errorf("segment file was overwritten: got %q", data)
	}
}

func TestContainsReflectsDiskAndMemory(t *testing.T) {
	c := testCache(t)
	key := testKey()
	if err := c.Open(key, 0); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if c.Contains(key, 1, "ts") {
		t.Errorf("expected Contains false before Append")
	}

	seg := models.Segment{Sequence: 1, FileName: "1.ts", Duration: 2.0}
	if _, err := c.Append(key, seg, "ts", []byte("data")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if !c.Contains(key, 1, "ts") {
		t.Errorf("expected Contains true after Append")
	}
}

func TestAppendIndexLineIncludesDiscontinuity(t *testing.T) {
	c := testCache(t)
	key := testKey()
	if err := c.Open(key, 0); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	seg := models.Segment{Sequence: 5, FileName: "5.ts", Duration: 1.5, Discontinuity: true}
	if _, err := c.Append(key, seg, "ts", []byte("x")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	data, err := os.ReadFile(c.PlaylistPath(key))
	if err != nil {
		t.Fatalf("reading playlist: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "#EXT-X-DISCONTINUITY") {
		t.Errorf("expected discontinuity tag, got %q", text)
	}
	if !strings.Contains(text, "#EXTINF:1.500,\n5.ts\n") {
		t.Errorf("expected EXTINF line, got %q", text)
	}
}

func TestCloseAppendsEndlist(t *testing.T) {
	c := testCache(t)
	key := testKey()
	if err := c.Open(key, 0); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := c.Close(key); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(c.PlaylistPath(key))
	if err != nil {
		t.Fatalf("reading playlist: %v", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(string(data)), "#EXT-X-ENDLIST") {
		t.Errorf("expected trailing ENDLIST tag, got %q", data)
	}
}

func TestDeleteRemovesArchiveDir(t *testing.T) {
	c := testCache(t)
	key := testKey()
	if err := c.Open(key, 0); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	seg := models.Segment{Sequence: 1, FileName: "1.ts", Duration: 1}
	if _, err := c.Append(key, seg, "ts", []byte("x")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if err := c.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(c.ArchiveDir(key))); !os.IsNotExist(err) {
		t.Errorf("expected archive dir removed, stat err = %v", err)
	}
	if c.Contains(key, 1, "ts") {
		t.Errorf("expected Contains false after Delete")
	}
}

func TestListSegmentsStampsWallClockTimestamps(t *testing.T) {
	c := testCache(t)
	key := testKey()
	if err := c.Open(key, 1000); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	segs := []models.Segment{
		{Sequence: 0, FileName: "0.ts", Duration: 2},
		{Sequence: 1, FileName: "1.ts", Duration: 3, Discontinuity: true},
	}
	for _, seg := range segs {
		if _, err := c.Append(key, seg, "ts", []byte("xx")); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := c.ListSegments(key)
	if err != nil {
		t.Fatalf("ListSegments failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(got))
	}
	if got[0].Timestamp != 1000 {
		t.Errorf("expected first segment timestamp 1000, got %d", got[0].Timestamp)
	}
	if got[1].Timestamp != 3000 {
		t.Errorf("expected second segment timestamp 1000+2000=3000, got %d", got[1].Timestamp)
	}
	if !got[1].Discontinuity {
		t.Errorf("expected second segment to carry discontinuity")
	}
	if got[0].Size != 2 {
		t.Errorf("expected first segment size 2, got %d", got[0].Size)
	}
}
