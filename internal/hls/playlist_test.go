package hls

import (
	"strings"
	"testing"

	"bsr/internal/models"
)

func sampleSegments() []models.Segment {
	return []models.Segment{
		{Sequence: 0, FileName: "0.ts", Duration: 2.0, Timestamp: 1000},
		{Sequence: 1, FileName: "1.ts", Duration: 2.0, Timestamp: 3000},
		{Sequence: 2, FileName: "2.ts", Duration: 2.0, Timestamp: 5000, Discontinuity: true},
		{Sequence: 3, FileName: "3.ts", Duration: 2.0, Timestamp: 7000},
	}
}

func TestGenerateFullArchiveLiveOmitsEndlist(t *testing.T) {
	out := Generate(sampleSegments(), 1000, 0, 0, true)
	if strings.Contains(out, "#EXT-X-ENDLIST") {
		t.Errorf("expected no ENDLIST while still live, got %q", out)
	}
	for _, seg := range []string{"0.ts", "1.ts", "2.ts", "3.ts"} {
		if !strings.Contains(out, seg) {
			t.Errorf("expected %s in full playlist", seg)
		}
	}
}

func TestGenerateFullArchiveFinishedAddsEndlist(t *testing.T) {
	out := Generate(sampleSegments(), 1000, 0, 0, false)
	if !strings.Contains(out, "#EXT-X-ENDLIST") {
		t.Errorf("expected ENDLIST once recording finished, got %q", out)
	}
}

func TestGenerateRangeTrimsSegmentsAndNeverAddsEndlist(t *testing.T) {
	out := Generate(sampleSegments(), 1000, 2, 6, false)
	if strings.Contains(out, "0.ts") {
		t.Errorf("expected segment before range excluded, got %q", out)
	}
	if !strings.Contains(out, "1.ts") || !strings.Contains(out, "2.ts") {
		t.Errorf("expected segments 1 and 2 included, got %q", out)
	}
	if strings.Contains(out, "3.ts") {
		t.Errorf("expected segment after range excluded, got %q", out)
	}
	if strings.Contains(out, "#EXT-X-ENDLIST") {
		t.Errorf("a ranged request must never terminate the live playlist")
	}
}

func TestGenerateRangeOffsetMatchesFirstIncludedSegment(t *testing.T) {
	out := Generate(sampleSegments(), 1000, 2, 6, false)
	if !strings.Contains(out, "#EXT-X-OFFSET:3000") {
		t.Errorf("expected offset aligned to first included segment's timestamp, got %q", out)
	}
}

func TestGenerateIncludesDiscontinuityMarker(t *testing.T) {
	out := Generate(sampleSegments(), 1000, 0, 0, false)
	if !strings.Contains(out, "#EXT-X-DISCONTINUITY") {
		t.Errorf("expected discontinuity marker preserved, got %q", out)
	}
}
