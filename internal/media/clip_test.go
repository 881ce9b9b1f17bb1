package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bsr/internal/cache"
	"bsr/internal/logger"
	"bsr/internal/models"
	"bsr/internal/store"
)

// testProcessorWithProbe builds a Processor whose ffmpeg and ffprobe are
// both fake scripts, for variants that shell out to both.
func testProcessorWithProbe(t *testing.T, ffmpegScript, ffprobeScript string) *Processor {
	t.Helper()
	log := logger.NewLogger("error")

	c, err := cache.New(t.TempDir(), log)
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}
	st, err := store.Open(filepath.Join(t.TempDir(), "data.db"), log)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ffmpegPath := writeScript(t, ffmpegScript)
	ffprobePath := writeScript(t, ffprobeScript)
	return New(ffmpegPath, ffprobePath, t.TempDir(), c, st, log)
}

// fakeFFmpegWritesOutput writes its last argument's path with dummy
// bytes, mimicking ffmpeg producing an output file.
const fakeFFmpegWritesOutput = `for arg in "$@"; do out="$arg"; done
echo -n "fake-media-bytes" > "$out"
exit 0`

const fakeFFprobeDuration = `echo "12.5"`

func TestClipRangeProducesVideoRowWithStreamCopy(t *testing.T) {
	p := testProcessorWithProbe(t, fakeFFmpegWritesOutput, fakeFFprobeDuration)
	ctx := context.Background()

	key := models.ArchiveKey{Platform: "bilibili", RoomID: "1", LiveID: 1000}
	archive := models.Archive{Platform: "bilibili", RoomID: "1", LiveID: 1000, ParentID: 1000, Title: "my room", CreatedAt: time.Now()}
	if err := p.store.InsertArchive(ctx, archive); err != nil {
		t.Fatalf("InsertArchive failed: %v", err)
	}

	if err := p.cache.Open(key, 1000); err != nil {
		t.Fatalf("cache.Open failed: %v", err)
	}
	for i, dur := range []float64{2, 2, 2} {
		seg := models.Segment{Sequence: int64(i), FileName: filepath.Base(p.cache.SegmentPath(key, int64(i), "ts")), Duration: dur}
		if _, err := p.cache.Append(key, seg, "ts", []byte("segment-bytes")); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	video, err := p.ClipRange(ctx, ClipRangeInput{
		Platform: "bilibili",
		RoomID:   "1",
		LiveID:   1000,
		StartS:   0,
		EndS:     4,
	}, func(string) {})
	if err != nil {
		t.Fatalf("ClipRange failed: %v", err)
	}
	if video.ID == 0 {
		t.Errorf("expected a persisted video id")
	}
	if video.Title != "my room" {
		t.Errorf("expected cloned archive title, got %q", video.Title)
	}
	if _, err := os.Stat(video.File); err != nil {
		t.Errorf("expected output file to exist: %v", err)
	}
}

func TestImportExternalVideoHardLinksAlreadyPlayableFile(t *testing.T) {
	ffprobeScript := `if echo "$@" | grep -q "format=duration"; then
  echo "30.0"
else
  echo "mov,mp4,m4a,3gp,3g2,mj2"
  echo "video,h264"
  echo "audio,aac"
fi`
	p := testProcessorWithProbe(t, fakeFFmpegWritesOutput, ffprobeScript)

	src := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(src, []byte("source-bytes"), 0o644); err != nil {
		t.Fatalf("writing source file: %v", err)
	}

	video, err := p.ImportExternalVideo(context.Background(), src, "imported-room", func(string) {})
	if err != nil {
		t.Fatalf("ImportExternalVideo failed: %v", err)
	}
	if video.Platform != importedPlatformTag {
		t.Errorf("expected platform tag %q, got %q", importedPlatformTag, video.Platform)
	}
	if _, err := os.Stat(video.File); err != nil {
		t.Errorf("expected linked/copied file to exist: %v", err)
	}
}
