package media

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"bsr/internal/apperr"
	"bsr/internal/models"
)

// importedPlatformTag marks a Video row as originating from an import
// rather than a recorded archive (spec.md §4.8 "import external video").
const importedPlatformTag = "imported"

// isPlayableProfile reports whether a probed format/codec pair is
// already MP4/H.264+AAC, the chosen "no transcode needed" policy.
func isPlayableProfile(formatName, videoCodec, audioCodec string) bool {
	return strings.Contains(formatName, "mp4") && videoCodec == "h264" && (audioCodec == "aac" || audioCodec == "")
}

func (p *Processor) probeCodecs(ctx context.Context, path string) (formatName, videoCodec, audioCodec string, err error) {
	out, err := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=format_name:stream=codec_type,codec_name",
		"-of", "csv=p=0",
		path,
	).Output()
	if err != nil {
		return "", "", "", apperr.New(apperr.Subprocess, "media.probeCodecs", err)
	}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		fields := strings.Split(line, ",")
		switch len(fields) {
		case 1:
			formatName = fields[0]
		case 2:
			switch fields[0] {
			case "video":
				videoCodec = fields[1]
			case "audio":
				audioCodec = fields[1]
			}
		default:
			formatName = line
		}
	}
	return formatName, videoCodec, audioCodec, nil
}

// ImportExternalVideo probes srcPath, extracts duration/size/a cover
// thumbnail, and either hard-links/copies it into the output directory
// unchanged (already MP4/H.264+AAC) or transcodes to that profile first.
// The resulting Video row carries platform tag "imported" and
// status=VideoReady.
func (p *Processor) ImportExternalVideo(ctx context.Context, srcPath, roomID string, progress func(string)) (models.Video, error) {
	progress("probing")
	formatName, videoCodec, audioCodec, err := p.probeCodecs(ctx, srcPath)
	if err != nil {
		return models.Video{}, err
	}
	duration, err := p.probeDuration(ctx, srcPath)
	if err != nil {
		return models.Video{}, err
	}

	baseName := strings.TrimSuffix(filepath.Base(srcPath), filepath.Ext(srcPath))
	outPath := filepath.Join(p.outputDir, baseName+".mp4")

	if isPlayableProfile(formatName, videoCodec, audioCodec) {
		progress("linking")
		if err := p.linkOrCopy(srcPath, outPath); err != nil {
			return models.Video{}, err
		}
	} else {
		progress("transcoding")
		err := p.writeAtomically(outPath, func(partial string) error {
			args := []string{"-y", "-i", srcPath, "-c:v", "libx264", "-c:a", "aac", partial}
			return p.runFFmpeg(ctx, args, progress)
		})
		if err != nil {
			return models.Video{}, err
		}
	}

	coverPath := filepath.Join(p.outputDir, baseName+".jpg")
	if err := p.extractCover(ctx, outPath, duration/2, coverPath); err != nil {
		p.logger.Warnf("media: cover extraction failed for %s: %v", outPath, err)
		coverPath = ""
	}

	size := int64(0)
	if info, statErr := os.Stat(outPath); statErr == nil {
		size = info.Size()
	}

	video := models.Video{
		Platform: importedPlatformTag,
		RoomID:   roomID,
		File:     outPath,
		Cover:    coverPath,
		Duration: duration,
		Size:     size,
		Title:    baseName,
		Status:   models.VideoReady,
	}
	id, err := p.store.InsertVideo(ctx, video)
	if err != nil {
		return models.Video{}, err
	}
	video.ID = id
	return video, nil
}

// linkOrCopy hard-links src to dst, falling back to a byte copy when the
// link fails (e.g. crossing a filesystem boundary).
func (p *Processor) linkOrCopy(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return apperr.New(apperr.Subprocess, "media.linkOrCopy", err)
	}
	if err := os.Link(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return apperr.New(apperr.Subprocess, "media.linkOrCopy", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return apperr.New(apperr.Subprocess, "media.linkOrCopy", err)
	}
	defer out.Close()

	buf := make([]byte, 1<<20)
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return apperr.New(apperr.Subprocess, "media.linkOrCopy", writeErr)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return apperr.New(apperr.Subprocess, "media.linkOrCopy", readErr)
		}
	}
}
