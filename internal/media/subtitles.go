package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bsr/internal/apperr"
	"bsr/internal/models"
)

const assHeader = `[Script Info]
ScriptType: v4.00+
PlayResX: 1920
PlayResY: 1080
WrapStyle: 2

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Danmu,Sans-serif,48,&H00FFFFFF,&H000000FF,&H00000000,&H80000000,0,0,0,0,100,100,0,0,1,1,1,8,10,10,10,1

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
`

// danmuScrollSeconds is how long one entry stays on screen while it
// scrolls from right to left, a fixed convention in the absence of a
// spec'd duration.
const danmuScrollSeconds = 8.0

// writeDanmuASS renders entries (already filtered to the clip's range)
// into an ASS subtitle file with each line scrolling across the top of
// the frame, timestamped relative to startMs (the clip's own t=0).
// style is an opaque caller-supplied override appended as a comment;
// rendering itself always uses the Danmu style above (spec.md leaves the
// exact visual style unconstrained beyond "styled subtitles").
func writeDanmuASS(dir string, entries []models.DanmuEntry, startMs int64, style string) (string, error) {
	f, err := os.CreateTemp(dir, "danmu-*.ass")
	if err != nil {
		return "", apperr.New(apperr.Subprocess, "media.writeDanmuASS", err)
	}
	defer f.Close()

	var sb strings.Builder
	sb.WriteString(assHeader)
	if style != "" {
		fmt.Fprintf(&sb, "; requested style: %s\n", style)
	}

	for _, e := range entries {
		relMs := e.Ts - startMs
		if relMs < 0 {
			continue
		}
		startS := float64(relMs) / 1000
		endS := startS + danmuScrollSeconds
		text := escapeASSText(e.Content)
		fmt.Fprintf(&sb, "Dialogue: 0,%s,%s,Danmu,,0,0,0,,{\\move(1920,100,-200,100)}%s\n",
			formatASSTimestamp(startS), formatASSTimestamp(endS), text)
	}

	if _, err := f.WriteString(sb.String()); err != nil {
		return "", apperr.New(apperr.Subprocess, "media.writeDanmuASS", err)
	}
	return f.Name(), nil
}

func formatASSTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := int(seconds) / 3600
	m := (int(seconds) % 3600) / 60
	s := int(seconds) % 60
	cs := int((seconds - float64(int(seconds))) * 100)
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs)
}

func escapeASSText(s string) string {
	r := strings.NewReplacer("\\", `\\`, "\n", `\N`, "{", "(", "}", ")")
	return r.Replace(s)
}

// EncodeSubtitleInput is the parameter set for burning a persisted SRT
// into a clone of an existing Video (spec.md §4.8 "encode subtitles").
type EncodeSubtitleInput struct {
	VideoID int64
	Style   string
}

// EncodeSubtitle takes a completed Video and its persisted SRT, burns
// the styled subtitles into a new Video: clones the source's metadata
// and appends " - Subtitled" to the title by policy (spec.md §4.8). The
// SRT timebase is seconds from the clip's own t=0, so it's supplied to
// ffmpeg's subtitles filter directly rather than re-timestamped.
func (p *Processor) EncodeSubtitle(ctx context.Context, in EncodeSubtitleInput, progress func(string)) (models.Video, error) {
	src, err := p.store.GetVideo(ctx, in.VideoID)
	if err != nil {
		return models.Video{}, err
	}
	if strings.TrimSpace(src.Subtitle) == "" {
		return models.Video{}, apperr.Newf(apperr.Config, "media.EncodeSubtitle", "video %d has no persisted subtitle", in.VideoID)
	}

	dir := filepath.Dir(src.File)
	srtPath := filepath.Join(dir, fmt.Sprintf("video-%d.srt", in.VideoID))
	if err := os.WriteFile(srtPath, []byte(src.Subtitle), 0o644); err != nil {
		return models.Video{}, apperr.New(apperr.Subprocess, "media.EncodeSubtitle", err)
	}
	defer os.Remove(srtPath)

	ext := filepath.Ext(src.File)
	outName := strings.TrimSuffix(filepath.Base(src.File), ext) + "_subtitled" + ext
	outPath := filepath.Join(p.outputDir, outName)

	progress("burning subtitles")
	err = p.writeAtomically(outPath, func(partial string) error {
		args := []string{
			"-y", "-i", src.File,
			"-vf", "subtitles=" + escapeFilterPath(srtPath),
			"-c:a", "copy",
			partial,
		}
		return p.runFFmpeg(ctx, args, progress)
	})
	if err != nil {
		return models.Video{}, err
	}

	size := int64(0)
	if info, statErr := os.Stat(outPath); statErr == nil {
		size = info.Size()
	}

	out := src
	out.ID = 0
	out.File = outPath
	out.Size = size
	out.Title = src.Title + " - Subtitled"
	out.Status = models.VideoReady
	id, err := p.store.InsertVideo(ctx, out)
	if err != nil {
		return models.Video{}, err
	}
	out.ID = id
	return out, nil
}
