package media

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"bsr/internal/apperr"
	"bsr/internal/models"
)

// ASRWorker transcribes a 16kHz mono PCM file into SRT text. The
// transcription model itself is out of scope (spec.md §5 Non-goals):
// Processor only owns extracting the audio and wiring the result back
// into the store; the concrete worker is handed to api.New (a subprocess,
// an HTTP call to an ASR service, whatever the deployment wires up).
// cmd/server/main.go passes none, so generate_video_subtitle fails there.
type ASRWorker interface {
	Transcribe(ctx context.Context, pcmPath string) (srt string, err error)
}

// GenerateSubtitle extracts 16kHz mono PCM from a Video's file, hands it
// to worker, and persists the resulting SRT as the Video's subtitle
// (spec.md §4.8 "generate subtitle").
func (p *Processor) GenerateSubtitle(ctx context.Context, videoID int64, worker ASRWorker, progress func(string)) (models.Video, error) {
	v, err := p.store.GetVideo(ctx, videoID)
	if err != nil {
		return models.Video{}, err
	}

	pcmPath := filepath.Join(os.TempDir(), "bsr-asr-"+filepath.Base(v.File)+".pcm")
	defer os.Remove(pcmPath)

	progress("extracting audio")
	extractCmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-y", "-i", v.File,
		"-vn", "-ar", "16000", "-ac", "1", "-f", "s16le",
		pcmPath,
	)
	if out, err := extractCmd.CombinedOutput(); err != nil {
		return models.Video{}, apperr.Newf(apperr.Subprocess, "media.GenerateSubtitle", "%v: %s", err, out)
	}

	progress("transcribing")
	srt, err := worker.Transcribe(ctx, pcmPath)
	if err != nil {
		return models.Video{}, apperr.New(apperr.Subprocess, "media.GenerateSubtitle", err)
	}

	if err := p.store.UpdateVideoSubtitle(ctx, videoID, srt); err != nil {
		return models.Video{}, err
	}
	v.Subtitle = srt
	return v, nil
}
