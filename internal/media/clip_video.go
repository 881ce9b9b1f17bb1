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

// ClipVideoInput is the parameter set for trimming an already-generated
// Video (as opposed to ClipRange, which clips directly from a live
// archive's cached segments).
type ClipVideoInput struct {
	VideoID int64
	StartS  float64
	EndS    float64
}

// ClipVideo trims [StartS, EndS) out of an existing Video's file with a
// stream copy and inserts the result as a new Video row, leaving the
// source untouched (spec.md §6 "clip_video").
func (p *Processor) ClipVideo(ctx context.Context, in ClipVideoInput, progress func(string)) (models.Video, error) {
	src, err := p.store.GetVideo(ctx, in.VideoID)
	if err != nil {
		return models.Video{}, err
	}
	if in.EndS <= in.StartS {
		return models.Video{}, apperr.Newf(apperr.Config, "media.ClipVideo", "end %.1f must be after start %.1f", in.EndS, in.StartS)
	}

	ext := filepath.Ext(src.File)
	outName := fmt.Sprintf("%s_%d-%d%s", strings.TrimSuffix(filepath.Base(src.File), ext), int64(in.StartS), int64(in.EndS), ext)
	outPath := filepath.Join(p.outputDir, outName)

	progress("trimming")
	err = p.writeAtomically(outPath, func(partial string) error {
		args := []string{
			"-y",
			"-ss", fmt.Sprintf("%.3f", in.StartS),
			"-to", fmt.Sprintf("%.3f", in.EndS),
			"-i", src.File,
			"-c", "copy",
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
	out.Duration = in.EndS - in.StartS
	out.Status = models.VideoReady
	id, err := p.store.InsertVideo(ctx, out)
	if err != nil {
		return models.Video{}, err
	}
	out.ID = id
	return out, nil
}
