package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"bsr/internal/apperr"
	"bsr/internal/models"
)

// GenerateWholeClip orders every archive sharing parentID ascending by
// start and concatenates them (spec.md §4.8 "generate whole clip"). Uses
// stream copy when every archive's segment extension matches (a cheap
// proxy for "shares codec parameters" — the recorder never mixes
// containers within one parent_id in practice since the adapter's
// fetch_playlist URIs don't change extension mid-broadcast); otherwise
// re-encodes to a common H.264/AAC profile.
func (p *Processor) GenerateWholeClip(ctx context.Context, platform, roomID string, parentID int64, progress func(string)) (models.Video, error) {
	archives, err := p.store.ListArchivesByParentID(ctx, platform, roomID, parentID)
	if err != nil {
		return models.Video{}, err
	}
	if len(archives) == 0 {
		return models.Video{}, apperr.Newf(apperr.NotFound, "media.GenerateWholeClip", "no archives for parent_id %d", parentID)
	}

	progress("resolving archive segments")
	var paths []string
	var totalDuration float64
	ext := ""
	sameExt := true
	for _, a := range archives {
		key := a.Key()
		segments, err := p.cache.ListSegments(key)
		if err != nil {
			return models.Video{}, err
		}
		dir := p.cache.ArchiveDir(key)
		for _, seg := range segments {
			paths = append(paths, filepath.Join(dir, seg.FileName))
			segExt := filepath.Ext(seg.FileName)
			if ext == "" {
				ext = segExt
			} else if ext != segExt {
				sameExt = false
			}
		}
		totalDuration += a.Length
	}
	if len(paths) == 0 {
		return models.Video{}, apperr.Newf(apperr.NotFound, "media.GenerateWholeClip", "parent_id %d has no cached segments", parentID)
	}

	listDir := filepath.Dir(paths[0])
	listPath, err := writeConcatList(listDir, paths)
	if err != nil {
		return models.Video{}, err
	}
	defer os.Remove(listPath)

	fileName := fmt.Sprintf("%s_%s_parent-%d.mp4", platform, roomID, parentID)
	outPath := filepath.Join(p.outputDir, fileName)

	progress("encoding")
	err = p.writeAtomically(outPath, func(partial string) error {
		args := []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath}
		if sameExt {
			args = append(args, "-c", "copy")
		} else {
			args = append(args, "-c:v", "libx264", "-c:a", "aac")
		}
		args = append(args, partial)
		return p.runFFmpeg(ctx, args, progress)
	})
	if err != nil {
		return models.Video{}, err
	}

	coverPath := filepath.Join(p.outputDir, fmt.Sprintf("%s_%s_parent-%d.jpg", platform, roomID, parentID))
	if err := p.extractCover(ctx, outPath, totalDuration/2, coverPath); err != nil {
		p.logger.Warnf("media: cover extraction failed for %s: %v", outPath, err)
		coverPath = ""
	}

	size := int64(0)
	if info, statErr := os.Stat(outPath); statErr == nil {
		size = info.Size()
	}

	video := models.Video{
		Platform: platform,
		RoomID:   roomID,
		File:     outPath,
		Cover:    coverPath,
		Duration: totalDuration,
		Size:     size,
		Title:    archives[0].Title,
		Status:   models.VideoReady,
	}
	id, err := p.store.InsertVideo(ctx, video)
	if err != nil {
		return models.Video{}, err
	}
	video.ID = id
	return video, nil
}
