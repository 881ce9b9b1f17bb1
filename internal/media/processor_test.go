package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bsr/internal/cache"
	"bsr/internal/logger"
	"bsr/internal/models"
	"bsr/internal/store"
)

func testProcessor(t *testing.T, ffmpegScript string) *Processor {
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
	return New(ffmpegPath, "ffprobe", t.TempDir(), c, st, log)
}

// writeScript writes body as an executable shell script and returns its
// path, standing in for the ffmpeg/ffprobe binaries so these tests don't
// depend on a real toolchain being installed.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg.sh")
	content := "#!/bin/sh\n" + body
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("writing fake ffmpeg script: %v", err)
	}
	return path
}

func TestWriteAtomicallyRenamesOnSuccess(t *testing.T) {
	p := testProcessor(t, "exit 0")
	final := filepath.Join(t.TempDir(), "out.mp4")

	err := p.writeAtomically(final, func(partial string) error {
		return os.WriteFile(partial, []byte("data"), 0o644)
	})
	if err != nil {
		t.Fatalf("writeAtomically failed: %v", err)
	}
	if _, err := os.Stat(final); err != nil {
		t.Errorf("expected final file to exist: %v", err)
	}
	if _, err := os.Stat(final + ".partial"); !os.IsNotExist(err) {
		t.Errorf("expected partial file removed")
	}
}

func TestWriteAtomicallyRemovesPartialOnFailure(t *testing.T) {
	p := testProcessor(t, "exit 0")
	final := filepath.Join(t.TempDir(), "out.mp4")

	err := p.writeAtomically(final, func(partial string) error {
		os.WriteFile(partial, []byte("partial"), 0o644)
		return context.DeadlineExceeded
	})
	if err == nil {
		t.Fatal("expected an error from the failing writer")
	}
	if _, err := os.Stat(final); !os.IsNotExist(err) {
		t.Errorf("expected no final file on failure")
	}
	if _, err := os.Stat(final + ".partial"); !os.IsNotExist(err) {
		t.Errorf("expected partial file cleaned up on failure")
	}
}

func TestWriteConcatListEscapesSingleQuotes(t *testing.T) {
	dir := t.TempDir()
	listPath, err := writeConcatList(dir, []string{"/segments/it's.ts", "/segments/plain.ts"})
	if err != nil {
		t.Fatalf("writeConcatList failed: %v", err)
	}
	data, err := os.ReadFile(listPath)
	if err != nil {
		t.Fatalf("reading concat list: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, `it'\''s.ts`) {
		t.Errorf("expected escaped single quote, got %q", text)
	}
	if !strings.Contains(text, "file '/segments/plain.ts'") {
		t.Errorf("expected plain path quoted, got %q", text)
	}
}

func TestIsPlayableProfile(t *testing.T) {
	if !isPlayableProfile("mov,mp4,m4a,3gp,3g2,mj2", "h264", "aac") {
		t.Error("expected mp4/h264/aac to be playable")
	}
	if isPlayableProfile("matroska,webm", "vp9", "opus") {
		t.Error("expected mkv/vp9/opus to need a transcode")
	}
	if !isPlayableProfile("mov,mp4,m4a,3gp,3g2,mj2", "h264", "") {
		t.Error("expected a silent mp4/h264 track to be playable")
	}
}

func TestFormatASSTimestamp(t *testing.T) {
	if got := formatASSTimestamp(3661.5); got != "1:01:01.50" {
		t.Errorf("unexpected timestamp: %q", got)
	}
	if got := formatASSTimestamp(-5); got != "0:00:00.00" {
		t.Errorf("expected negative seconds clamped to zero, got %q", got)
	}
}

func TestEscapeASSTextNeutralizesOverrideBraces(t *testing.T) {
	got := escapeASSText("hello {not an override}\nsecond line")
	if strings.Contains(got, "{") || strings.Contains(got, "}") {
		t.Errorf("expected braces neutralized, got %q", got)
	}
	if !strings.Contains(got, `\N`) {
		t.Errorf("expected newline converted to ASS line break, got %q", got)
	}
}

func TestWriteDanmuASSDropsEntriesBeforeClipStart(t *testing.T) {
	dir := t.TempDir()
	entries := []models.DanmuEntry{
		{Ts: 900, Content: "too early"},
		{Ts: 1500, Content: "in range"},
	}
	path, err := writeDanmuASS(dir, entries, 1000, "")
	if err != nil {
		t.Fatalf("writeDanmuASS failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading ass file: %v", err)
	}
	text := string(data)
	if strings.Contains(text, "too early") {
		t.Errorf("expected entry before clip start dropped, got %q", text)
	}
	if !strings.Contains(text, "in range") {
		t.Errorf("expected in-range entry rendered, got %q", text)
	}
}

func TestRunFFmpegParsesProgressFromStderr(t *testing.T) {
	p := testProcessor(t, `echo "frame=1 time=00:00:05.00 bitrate=100kbits/s" 1>&2
exit 0`)

	var messages []string
	err := p.runFFmpeg(context.Background(), []string{"-y"}, func(msg string) {
		messages = append(messages, msg)
	})
	if err != nil {
		t.Fatalf("runFFmpeg failed: %v", err)
	}
	found := false
	for _, m := range messages {
		if strings.Contains(m, "00:05") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a progress message mentioning the parsed time, got %v", messages)
	}
}

func TestRunFFmpegPropagatesExitError(t *testing.T) {
	p := testProcessor(t, "exit 1")

	err := p.runFFmpeg(context.Background(), []string{"-y"}, func(string) {})
	if err == nil {
		t.Fatal("expected a non-nil error for a non-zero exit")
	}
}

func TestRunFFmpegCancellationTerminatesSubprocess(t *testing.T) {
	p := testProcessor(t, `trap 'exit 0' TERM
sleep 30 &
wait`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.runFFmpeg(ctx, []string{"-y"}, func(string) {})
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected a cancellation error")
		}
	case <-time.After(8 * time.Second):
		t.Fatal("runFFmpeg did not return after cancellation")
	}
}
