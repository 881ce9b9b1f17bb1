// Package hls replaces the teacher's DASH/XML handling (internal/dash's
// mpd.go and timeline.go, and internal/hls/playlist.go) with the M3U8
// text format actually served by Bilibili/Douyin live origins: manifest.go
// parses an origin playlist into a sequence of segment references, and
// playlist.go synthesizes the archive-facing playlist the recorder and
// timeline server publish from the cache.
package hls

import (
	"bufio"
	"strconv"
	"strings"

	"bsr/internal/apperr"
)

// MediaSegment is one EXTINF/URI pair parsed from an origin manifest.
type MediaSegment struct {
	URI           string
	Duration      float64
	Discontinuity bool
	Sequence      int64
}

// Manifest is a parsed HLS media playlist.
type Manifest struct {
	TargetDuration int
	MediaSequence  int64
	OffsetMs       int64 // wall-clock ms of the playlist's first segment, from #EXT-X-OFFSET
	Segments       []MediaSegment
	EndList        bool
}

// ParseManifest parses an origin HLS media playlist. It tolerates the
// minor dialect differences between Bilibili's and Douyin's origins
// (both only ever emit a plain, unencrypted, fMP4 or MPEG-TS media
// playlist — no master playlist, no key tags).
func ParseManifest(text string) (*Manifest, error) {
	m := &Manifest{}
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var pendingDuration float64
	var havePending bool
	var pendingDiscontinuity bool
	seq := int64(0)
	haveMediaSequence := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			v, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"))
			if err == nil {
				m.TargetDuration = v
			}
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			v, err := strconv.ParseInt(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"), 10, 64)
			if err == nil {
				m.MediaSequence = v
				seq = v
				haveMediaSequence = true
			}
		case strings.HasPrefix(line, "#EXT-X-OFFSET:"):
			v, err := strconv.ParseInt(strings.TrimPrefix(line, "#EXT-X-OFFSET:"), 10, 64)
			if err == nil {
				m.OffsetMs = v
			}
		case line == "#EXT-X-DISCONTINUITY":
			pendingDiscontinuity = true
		case line == "#EXT-X-ENDLIST":
			m.EndList = true
		case strings.HasPrefix(line, "#EXTINF:"):
			rest := strings.TrimPrefix(line, "#EXTINF:")
			rest = strings.TrimSuffix(rest, ",")
			if idx := strings.Index(rest, ","); idx >= 0 {
				rest = rest[:idx]
			}
			dur, err := strconv.ParseFloat(rest, 64)
			if err != nil {
				return nil, apperr.New(apperr.Protocol, "hls.ParseManifest", err)
			}
			pendingDuration = dur
			havePending = true
		case strings.HasPrefix(line, "#"):
			// Unrecognized tag; ignore rather than fail the whole cycle
			// (spec.md §7: malformed/unknown lines are logged, not fatal).
		default:
			if !havePending {
				continue
			}
			m.Segments = append(m.Segments, MediaSegment{
				URI:           line,
				Duration:      pendingDuration,
				Discontinuity: pendingDiscontinuity,
				Sequence:      seq,
			})
			seq++
			havePending = false
			pendingDiscontinuity = false
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.New(apperr.Protocol, "hls.ParseManifest", err)
	}

	if !haveMediaSequence && len(m.Segments) > 0 {
		m.MediaSequence = m.Segments[0].Sequence
	}
	return m, nil
}
