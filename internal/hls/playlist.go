package hls

import (
	"fmt"
	"strings"

	"bsr/internal/models"
)

// Generate synthesizes the archive-facing HLS media playlist described in
// spec.md §4.6 from the cache's ordered segment list. When start and end
// are both zero the full archive is returned (live-updating until live is
// false, which appends #EXT-X-ENDLIST). When a range is given, segments
// are trimmed to the ones whose cumulative-duration window intersects
// [start, end) — the first and last segments are included whole; the
// client performs sub-segment seeking, since re-muxing is out of scope.
func Generate(segments []models.Segment, offsetMs int64, start, end float64, live bool) string {
	selected, firstOffsetMs := SelectRange(segments, offsetMs, start, end)

	var sb strings.Builder
	sb.WriteString("#EXTM3U\n")
	sb.WriteString("#EXT-X-VERSION:3\n")
	sb.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", targetDuration(selected)))
	sb.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	sb.WriteString(fmt.Sprintf("#EXT-X-OFFSET:%d\n", firstOffsetMs))

	for i, seg := range selected {
		if seg.Discontinuity && i > 0 {
			sb.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		fmt.Fprintf(&sb, "#EXTINF:%.3f,\n%s\n", seg.Duration, seg.FileName)
	}

	rangeRequested := start != 0 || end != 0
	if !rangeRequested && !live {
		sb.WriteString("#EXT-X-ENDLIST\n")
	}

	return sb.String()
}

// SelectRange returns the segments whose cumulative-duration window
// overlaps [start, end), and the wall-clock offset (ms) of the first one
// returned. A zero-valued (start, end) selects everything. Shared by the
// playlist endpoint (this file) and the media processor's range clipping
// (internal/media), so both resolve a range to the same segment set.
func SelectRange(segments []models.Segment, offsetMs int64, start, end float64) ([]models.Segment, int64) {
	if start == 0 && end == 0 {
		firstOffset := offsetMs
		if len(segments) > 0 {
			firstOffset = segments[0].Timestamp
		}
		return segments, firstOffset
	}

	var selected []models.Segment
	firstOffset := offsetMs
	cursor := 0.0
	foundFirst := false

	for _, seg := range segments {
		segStart := cursor
		segEnd := cursor + seg.Duration
		cursor = segEnd

		if segEnd <= start {
			continue
		}
		if segStart >= end {
			break
		}

		if !foundFirst {
			firstOffset = seg.Timestamp
			foundFirst = true
		}
		selected = append(selected, seg)
	}

	return selected, firstOffset
}

func targetDuration(segments []models.Segment) int {
	max := 0.0
	for _, s := range segments {
		if s.Duration > max {
			max = s.Duration
		}
	}
	// Round up, same convention as the standard EXT-X-TARGETDURATION rule.
	return int(max) + 1
}
