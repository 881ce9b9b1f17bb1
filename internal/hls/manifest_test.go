package hls

import "testing"

const samplePlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:3
#EXT-X-MEDIA-SEQUENCE:100
#EXTINF:2.000,
100.ts
#EXTINF:2.000,
101.ts
#EXT-X-DISCONTINUITY
#EXTINF:2.000,
102.ts
`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest(samplePlaylist)
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}
	if m.TargetDuration != 3 {
		t.Errorf("expected target duration 3, got %d", m.TargetDuration)
	}
	if m.MediaSequence != 100 {
		t.Errorf("expected media sequence 100, got %d", m.MediaSequence)
	}
	if len(m.Segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(m.Segments))
	}
	if m.Segments[0].URI != "100.ts" || m.Segments[0].Sequence != 100 {
		t.Errorf("unexpected first segment: %+v", m.Segments[0])
	}
	if !m.Segments[2].Discontinuity {
		t.Errorf("expected third segment to carry discontinuity marker")
	}
	if m.EndList {
		t.Errorf("expected EndList false")
	}
}

func TestParseManifestEndList(t *testing.T) {
	m, err := ParseManifest(samplePlaylist + "#EXT-X-ENDLIST\n")
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}
	if !m.EndList {
		t.Errorf("expected EndList true")
	}
}

func TestParseManifestReadsOffset(t *testing.T) {
	text := "#EXTM3U\n#EXT-X-OFFSET:1700000000000\n#EXTINF:1.000,\nseg.ts\n"
	m, err := ParseManifest(text)
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}
	if m.OffsetMs != 1700000000000 {
		t.Errorf("expected offset 1700000000000, got %d", m.OffsetMs)
	}
}

func TestParseManifestIgnoresUnknownTags(t *testing.T) {
	text := "#EXTM3U\n#EXT-X-SOME-UNKNOWN-TAG:value\n#EXTINF:1.000,\nseg.ts\n"
	m, err := ParseManifest(text)
	if err != nil {
		t.Fatalf("ParseManifest failed: %v", err)
	}
	if len(m.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(m.Segments))
	}
}
