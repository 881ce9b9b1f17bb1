// Package cache implements the write-once, on-disk segment cache (C2).
// It generalizes the teacher's in-memory SegmentCache (a plain
// map[string][]byte plus a time-based eviction worker, see DESIGN.md) into
// a filesystem cache keyed by (platform, room_id, live_id, sequence),
// since segments here must survive process restarts and be served as
// static files by the playlist server.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"bsr/internal/apperr"
	"bsr/internal/hls"
	"bsr/internal/logger"
	"bsr/internal/models"
)

// AppendResult reports the outcome of an Append call.
type AppendResult int

const (
	Appended AppendResult = iota
	Duplicate
)

const playlistFileName = "playlist.m3u8"

// Cache is the sole writer of segment files under root. Readers (the
// playlist server, static file handlers) resolve paths directly — no hot
// path mutex is required because writers and readers never touch the
// same file bytes once a segment is fsynced (spec.md §4.2).
type Cache struct {
	root   string
	logger logger.Logger

	mu      sync.Mutex // guards playlist-index appends per archive
	indexed map[models.ArchiveKey]map[int64]bool
}

// New creates a Cache rooted at root, creating the directory if needed.
func New(root string, log logger.Logger) (*Cache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, apperr.New(apperr.Cache, "cache.New", err)
	}
	return &Cache{
		root:    root,
		logger:  log,
		indexed: make(map[models.ArchiveKey]map[int64]bool),
	}, nil
}

// Root returns the cache's base directory, used by the static file
// handler that serves GET /cache/*.
func (c *Cache) Root() string {
	return c.root
}

// ArchiveDir returns the directory holding one archive's segments.
func (c *Cache) ArchiveDir(key models.ArchiveKey) string {
	return filepath.Join(c.root, key.Platform, key.RoomID, strconv.FormatInt(key.LiveID, 10))
}

func (c *Cache) segmentFileName(sequence int64, ext string) string {
	return fmt.Sprintf("%d.%s", sequence, strings.TrimPrefix(ext, "."))
}

// SegmentPath returns the on-disk path for one segment, whether or not it
// exists yet.
func (c *Cache) SegmentPath(key models.ArchiveKey, sequence int64, ext string) string {
	return filepath.Join(c.ArchiveDir(key), c.segmentFileName(sequence, ext))
}

// PlaylistPath returns the path to an archive's append-only M3U8 index.
func (c *Cache) PlaylistPath(key models.ArchiveKey) string {
	return filepath.Join(c.ArchiveDir(key), playlistFileName)
}

// CoverPath returns the path to an archive's cover thumbnail.
func (c *Cache) CoverPath(key models.ArchiveKey) string {
	return filepath.Join(c.ArchiveDir(key), "cover.jpg")
}

// Contains reports whether sequence has already been persisted for key,
// used by the recorder's poll loop to dedupe before downloading.
func (c *Cache) Contains(key models.ArchiveKey, sequence int64, ext string) bool {
	c.mu.Lock()
	if seen := c.indexed[key]; seen != nil && seen[sequence] {
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()

	_, err := os.Stat(c.SegmentPath(key, sequence, ext))
	return err == nil
}

// Open begins tracking an archive, allocating its directory and a fresh
// playlist index. Called exactly once per (platform, room_id, live_id) —
// the "atomic rotation" guarantee of spec.md §4.2 is enforced by the
// recorder never writing to a live_id it hasn't Open'd, and never
// re-Opening one it has already Closed.
func (c *Cache) Open(key models.ArchiveKey, wallClockOffsetMs int64) error {
	dir := c.ArchiveDir(key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.New(apperr.Cache, "cache.Open", err)
	}

	preamble := fmt.Sprintf("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-OFFSET:%d\n", wallClockOffsetMs)
	f, err := os.OpenFile(c.PlaylistPath(key), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return apperr.New(apperr.Cache, "cache.Open", err)
	}
	defer f.Close()
	if _, err := f.WriteString(preamble); err != nil {
		return apperr.New(apperr.Cache, "cache.Open", err)
	}

	c.mu.Lock()
	c.indexed[key] = make(map[int64]bool)
	c.mu.Unlock()
	return nil
}

// Append fsyncs a new segment file and appends its EXTINF line to the
// playlist index. If sequence has already been written, it is a no-op
// that reports Duplicate — the at-most-once append guarantee.
func (c *Cache) Append(key models.ArchiveKey, seg models.Segment, ext string, data []byte) (AppendResult, error) {
	c.mu.Lock()
	seen, ok := c.indexed[key]
	if !ok {
		seen = make(map[int64]bool)
		c.indexed[key] = seen
	}
	if seen[seg.Sequence] {
		c.mu.Unlock()
		return Duplicate, nil
	}
	c.mu.Unlock()

	path := c.SegmentPath(key, seg.Sequence, ext)
	if _, err := os.Stat(path); err == nil {
		// Already on disk from a prior process run; adopt it without
		// rewriting (write-once — never overwrite an existing file).
		c.mu.Lock()
		seen[seg.Sequence] = true
		c.mu.Unlock()
		return Duplicate, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			c.mu.Lock()
			seen[seg.Sequence] = true
			c.mu.Unlock()
			return Duplicate, nil
		}
		return 0, apperr.New(apperr.Cache, "cache.Append", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return 0, apperr.New(apperr.Cache, "cache.Append", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return 0, apperr.New(apperr.Cache, "cache.Append", err)
	}
	if err := f.Close(); err != nil {
		return 0, apperr.New(apperr.Cache, "cache.Append", err)
	}

	if err := c.appendIndexLine(key, seg); err != nil {
		return 0, err
	}

	c.mu.Lock()
	seen[seg.Sequence] = true
	c.mu.Unlock()

	c.logger.Debugf("cache: appended segment %d (%d bytes, %.3fs) for %s/%s/%d",
		seg.Sequence, len(data), seg.Duration, key.Platform, key.RoomID, key.LiveID)
	return Appended, nil
}

// appendIndexLine writes one EXTINF/URI pair (and a leading
// #EXT-X-DISCONTINUITY when the segment starts a new discontinuity) to
// the playlist file via a single O_APPEND write, so a concurrent reader
// always observes a prefix-consistent view (spec.md §5).
func (c *Cache) appendIndexLine(key models.ArchiveKey, seg models.Segment) error {
	f, err := os.OpenFile(c.PlaylistPath(key), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return apperr.New(apperr.Cache, "cache.appendIndexLine", err)
	}
	defer f.Close()

	var sb strings.Builder
	if seg.Discontinuity {
		sb.WriteString("#EXT-X-DISCONTINUITY\n")
	}
	fmt.Fprintf(&sb, "#EXTINF:%.3f,\n%s\n", seg.Duration, seg.FileName)

	if _, err := f.WriteString(sb.String()); err != nil {
		return apperr.New(apperr.Cache, "cache.appendIndexLine", err)
	}
	return nil
}

// Close finalizes an archive's playlist with #EXT-X-ENDLIST, marking it
// as no longer live-updating.
func (c *Cache) Close(key models.ArchiveKey) error {
	f, err := os.OpenFile(c.PlaylistPath(key), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return apperr.New(apperr.Cache, "cache.Close", err)
	}
	defer f.Close()
	if _, err := f.WriteString("#EXT-X-ENDLIST\n"); err != nil {
		return apperr.New(apperr.Cache, "cache.Close", err)
	}
	return nil
}

// ListSegments reads an archive's own playlist index back into ordered
// models.Segment values, stamping each with its wall-clock Timestamp
// (the archive's #EXT-X-OFFSET plus the cumulative duration of the
// segments before it) and on-disk Size — used by the playlist server
// (§4.6) and the media processor (§4.8) to resolve a range into files
// without re-deriving offsets from the live origin.
func (c *Cache) ListSegments(key models.ArchiveKey) ([]models.Segment, error) {
	data, err := os.ReadFile(c.PlaylistPath(key))
	if err != nil {
		return nil, apperr.New(apperr.Cache, "cache.ListSegments", err)
	}

	m, err := hls.ParseManifest(string(data))
	if err != nil {
		return nil, err
	}

	dir := c.ArchiveDir(key)
	segments := make([]models.Segment, 0, len(m.Segments))
	cursorMs := m.OffsetMs
	for _, ms := range m.Segments {
		size := int64(0)
		if info, statErr := os.Stat(filepath.Join(dir, ms.URI)); statErr == nil {
			size = info.Size()
		}
		segments = append(segments, models.Segment{
			Sequence:      ms.Sequence,
			FileName:      ms.URI,
			Duration:      ms.Duration,
			Size:          size,
			Timestamp:     cursorMs,
			Discontinuity: ms.Discontinuity,
		})
		cursorMs += int64(ms.Duration * 1000)
	}
	return segments, nil
}

// DiscoverArchives walks the cache root and returns the key of every
// (platform, room_id, live_id) directory present on disk, regardless of
// whether a store row backs it. Used by the startup reconciliation pass
// (spec.md §4.2) to find cache directories orphaned by a row that was
// deleted (or never committed) in a prior run.
func (c *Cache) DiscoverArchives() ([]models.ArchiveKey, error) {
	platforms, err := os.ReadDir(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.New(apperr.Cache, "cache.DiscoverArchives", err)
	}

	var out []models.ArchiveKey
	for _, pe := range platforms {
		if !pe.IsDir() {
			continue
		}
		rooms, err := os.ReadDir(filepath.Join(c.root, pe.Name()))
		if err != nil {
			continue
		}
		for _, re := range rooms {
			if !re.IsDir() {
				continue
			}
			lives, err := os.ReadDir(filepath.Join(c.root, pe.Name(), re.Name()))
			if err != nil {
				continue
			}
			for _, le := range lives {
				if !le.IsDir() {
					continue
				}
				liveID, err := strconv.ParseInt(le.Name(), 10, 64)
				if err != nil {
					continue
				}
				out = append(out, models.ArchiveKey{Platform: pe.Name(), RoomID: re.Name(), LiveID: liveID})
			}
		}
	}
	return out, nil
}

// Delete removes an archive's entire cache directory (spec.md invariant
// 8 — delete_archive cascades to cache files).
func (c *Cache) Delete(key models.ArchiveKey) error {
	c.mu.Lock()
	delete(c.indexed, key)
	c.mu.Unlock()

	if err := os.RemoveAll(c.ArchiveDir(key)); err != nil {
		return apperr.New(apperr.Cache, "cache.Delete", err)
	}
	return nil
}
