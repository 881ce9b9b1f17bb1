package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bsr/internal/apperr"
	"bsr/internal/hls"
	"bsr/internal/models"
)

// ClipRangeInput is the parameter set for the clip-a-range variant
// (spec.md §4.8).
type ClipRangeInput struct {
	Platform     string
	RoomID       string
	LiveID       int64
	StartS       float64
	EndS         float64
	BurnDanmu    bool
	SRTStyle     string
	LocalOffsetS float64
}

// ClipRange resolves the in-range segment files from the cache, produces
// a concat list, and runs FFmpeg: stream copy when neither danmu burn
// nor a style overlay is requested, otherwise a re-encode with the
// rendered ASS subtitle burned in. Output is a single MP4 plus a
// midpoint cover JPG.
func (p *Processor) ClipRange(ctx context.Context, in ClipRangeInput, progress func(string)) (models.Video, error) {
	key := models.ArchiveKey{Platform: in.Platform, RoomID: in.RoomID, LiveID: in.LiveID}

	archive, err := p.store.GetArchive(ctx, key)
	if err != nil {
		return models.Video{}, err
	}

	segments, err := p.cache.ListSegments(key)
	if err != nil {
		return models.Video{}, err
	}
	selected, firstOffsetMs := hls.SelectRange(segments, 0, in.StartS, in.EndS)
	if len(selected) == 0 {
		return models.Video{}, apperr.Newf(apperr.Config, "media.ClipRange", "no segments in range [%.1f, %.1f)", in.StartS, in.EndS)
	}

	dir := p.cache.ArchiveDir(key)
	paths := make([]string, 0, len(selected))
	for _, seg := range selected {
		paths = append(paths, filepath.Join(dir, seg.FileName))
	}

	progress("resolving segments")
	listPath, err := writeConcatList(dir, paths)
	if err != nil {
		return models.Video{}, err
	}
	defer os.Remove(listPath)

	clipDuration := 0.0
	for _, seg := range selected {
		clipDuration += seg.Duration
	}

	title := archive.Title
	fileName := fmt.Sprintf("%s_%s_%d_%d-%d.mp4", in.Platform, in.RoomID, in.LiveID, int64(in.StartS), int64(in.EndS))
	outPath := filepath.Join(p.outputDir, fileName)

	needsReencode := in.BurnDanmu || in.SRTStyle != ""

	var assPath string
	if in.BurnDanmu {
		startMs := firstOffsetMs + int64(in.LocalOffsetS*1000)
		endMs := startMs + int64(clipDuration*1000)
		entries, derr := p.store.GetDanmuEntries(ctx, key, startMs, endMs)
		if derr != nil {
			return models.Video{}, derr
		}
		progress("rendering danmu overlay")
		assPath, err = writeDanmuASS(dir, entries, startMs, in.SRTStyle)
		if err != nil {
			return models.Video{}, err
		}
		defer os.Remove(assPath)
	}

	progress("encoding")
	err = p.writeAtomically(outPath, func(partial string) error {
		args := []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath}
		if needsReencode {
			if assPath != "" {
				args = append(args, "-vf", "ass="+escapeFilterPath(assPath))
			}
			args = append(args, "-c:v", "libx264", "-c:a", "aac")
		} else {
			args = append(args, "-c", "copy")
		}
		args = append(args, partial)
		return p.runFFmpeg(ctx, args, progress)
	})
	if err != nil {
		return models.Video{}, err
	}

	coverPath := filepath.Join(p.outputDir, strings.TrimSuffix(fileName, filepath.Ext(fileName))+".jpg")
	if err := p.extractCover(ctx, outPath, clipDuration/2, coverPath); err != nil {
		p.logger.Warnf("media: cover extraction failed for %s: %v", outPath, err)
		coverPath = ""
	}

	size := int64(0)
	if info, statErr := os.Stat(outPath); statErr == nil {
		size = info.Size()
	}

	video := models.Video{
		Platform: in.Platform,
		RoomID:   in.RoomID,
		File:     outPath,
		Cover:    coverPath,
		Duration: clipDuration,
		Size:     size,
		Title:    title,
		Status:   models.VideoReady,
	}
	id, err := p.store.InsertVideo(ctx, video)
	if err != nil {
		return models.Video{}, err
	}
	video.ID = id
	return video, nil
}

// escapeFilterPath escapes a path for use inside an ffmpeg filtergraph
// string (colons and backslashes need escaping in the ass/subtitles
// filter's own path argument).
func escapeFilterPath(path string) string {
	r := strings.NewReplacer(`\`, `\\`, `:`, `\:`)
	return r.Replace(path)
}
