// Package models holds the plain data types shared across the store,
// cache, recorder, and API layers. None of these types carry behavior
// beyond small helpers; mutation rights are owned by the packages that
// manage them, not by the struct itself.
package models

import "time"

// Account holds credentials for one platform identity.
type Account struct {
	Platform  string    `json:"platform"`
	UID       string    `json:"uid"`
	Name      string    `json:"name"`
	Avatar    string    `json:"avatar"`
	Cookies   string    `json:"cookies"`
	CSRF      string    `json:"csrf"`
	CreatedAt time.Time `json:"created_at"`
}

// RecorderConfig is the persisted, user-configured subscription to one
// room. Runtime-derived fields (live status, current live_id, etc.) are
// not part of this struct — they live on the in-memory recorder.Recorder
// and are projected separately by manager.Manager.List.
type RecorderConfig struct {
	Platform  string    `json:"platform"`
	RoomID    string    `json:"room_id"`
	Extra     string    `json:"extra"`
	AutoStart bool      `json:"auto_start"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// Key returns the (platform, room_id) identity used throughout the
// manager and store as the map/row key.
func (r RecorderConfig) Key() RecorderKey {
	return RecorderKey{Platform: r.Platform, RoomID: r.RoomID}
}

// RecorderKey is the unique identity of a recorder/room.
type RecorderKey struct {
	Platform string
	RoomID   string
}

// Archive is one continuous recording session ("Record" in spec.md §3).
type Archive struct {
	Platform  string    `json:"platform"`
	RoomID    string    `json:"room_id"`
	LiveID    int64     `json:"live_id"`
	ParentID  int64     `json:"parent_id"`
	Title     string    `json:"title"`
	Cover     string    `json:"cover"`
	Length    float64   `json:"length"` // seconds
	Size      int64     `json:"size"`   // bytes
	CreatedAt time.Time `json:"created_at"`
}

// Key returns the composite (platform, room_id, live_id) identity.
func (a Archive) Key() ArchiveKey {
	return ArchiveKey{Platform: a.Platform, RoomID: a.RoomID, LiveID: a.LiveID}
}

// ArchiveKey is the unique identity of one recording session.
type ArchiveKey struct {
	Platform string
	RoomID   string
	LiveID   int64
}

// Segment is one HLS media chunk cached on disk for an archive.
type Segment struct {
	Sequence      int64   `json:"sequence"`
	FileName      string  `json:"file_name"`
	Duration      float64 `json:"duration"`
	Size          int64   `json:"size"`
	Timestamp     int64   `json:"timestamp"` // wall-clock ms within the live session
	Discontinuity bool    `json:"discontinuity"`
}

// VideoStatus enumerates the lifecycle of a clip/import artifact.
type VideoStatus int

const (
	VideoProcessing VideoStatus = -1
	VideoReady      VideoStatus = 0
	VideoUploaded   VideoStatus = 1
)

// Video is a clip, re-encode, or imported artifact.
type Video struct {
	ID        int64       `json:"id"`
	Platform  string      `json:"platform"` // real platform tag, or synthetic "clip"/"imported"
	RoomID    string      `json:"room_id"`
	File      string      `json:"file"`
	Cover     string      `json:"cover"`
	Duration  float64     `json:"duration"`
	Size      int64       `json:"size"`
	BVID      string      `json:"bvid,omitempty"`
	Title     string      `json:"title"`
	Desc      string      `json:"desc"`
	Tags      string      `json:"tags"`
	Area      int         `json:"area"`
	Note      string      `json:"note"`
	Subtitle  string      `json:"subtitle,omitempty"`
	Status    VideoStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// TaskType enumerates the kinds of asynchronous jobs the supervisor runs.
type TaskType string

const (
	TaskClipRange              TaskType = "clip_range"
	TaskUploadProcedure        TaskType = "upload_procedure"
	TaskGenerateVideoSubtitle  TaskType = "generate_video_subtitle"
	TaskEncodeVideoSubtitle    TaskType = "encode_video_subtitle"
	TaskGenerateWholeClip      TaskType = "generate_whole_clip"
	TaskImportExternalVideo    TaskType = "import_external_video"
)

// TaskStatus enumerates the monotonic lifecycle of a Task (spec.md §8,
// invariant 5): pending -> processing -> {completed, failed}, or
// * -> cancelled from any non-terminal state.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether the status accepts no further transitions.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// Task is one asynchronous, observable, cancellable unit of work.
type Task struct {
	ID        string     `json:"id"`
	Type      TaskType   `json:"type"`
	Status    TaskStatus `json:"status"`
	Message   string     `json:"message"`
	Metadata  string     `json:"metadata"` // serialized JSON input parameters
	CreatedAt time.Time  `json:"created_at"`
}

// DanmuEntry is one chat message timestamped to wall-clock milliseconds.
type DanmuEntry struct {
	Ts      int64  `json:"ts"`
	Content string `json:"content"`
}

// DanmuStatBucket is a fixed-width aggregate of danmu volume for an
// archive (the width is chosen per query, 10 seconds by default), used by
// the UI to render a density graph alongside the timeline.
type DanmuStatBucket struct {
	BucketStart int64 `json:"bucket_start"` // wall-clock ms, floored to the bucket width
	Count       int   `json:"count"`
}
