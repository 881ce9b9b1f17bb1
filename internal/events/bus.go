// Package events implements the in-process typed broadcast bus (C9): SSE
// streams, the webhook dispatcher, and internal observers all subscribe
// to the same fan-out. A bare in-process channel fan-out is deliberately
// chosen over a broker library (NATS, Watermill — both seen used
// elsewhere in the example pack for cross-process messaging): every
// subscriber here lives in the same OS process as the publisher, so a
// network-capable broker would add a serialization boundary with no
// corresponding benefit. See DESIGN.md.
package events

import (
	"sync"

	"github.com/google/uuid"

	"bsr/internal/logger"
)

// Event is one published notification (spec.md §4.9).
type Event struct {
	ID        string `json:"id"`
	Tag       string `json:"event"`
	Payload   any    `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

// Event family tags.
const (
	RecorderAdded    = "recorder.added"
	RecorderRemoved  = "recorder.removed"
	LiveStarted      = "live.started"
	LiveEnded        = "live.ended"
	RecordStarted    = "record.started"
	RecordEnded      = "record.ended"
	ArchiveDeleted   = "archive.deleted"
	ClipGenerated    = "clip.generated"
	ClipDeleted      = "clip.deleted"
	LiveAuthError    = "live.authError"
)

// ProgressUpdateTag and ProgressFinishedTag build the per-task event tags
// described in spec.md §4.7 ("progress-update:<id>").
func ProgressUpdateTag(taskID string) string   { return "progress-update:" + taskID }
func ProgressFinishedTag(taskID string) string  { return "progress-finished:" + taskID }
func DanmuTag(roomID string) string             { return "danmu:" + roomID }

const subscriberQueueSize = 64

// Bus fans events out to subscribers, each with its own bounded queue.
// A subscriber that falls behind a bounded queue overflow is dropped
// entirely rather than blocking the publisher (spec.md §4.9) —
// publication itself is never retried or blocked by a slow reader.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      int64
	now         func() int64
	logger      logger.Logger
}

// New builds a Bus. now supplies the publish timestamp (epoch seconds);
// production callers pass time.Now().Unix, tests can pass a fixed clock.
func New(now func() int64) *Bus {
	return &Bus{
		subscribers: make(map[int64]chan Event),
		now:         now,
	}
}

// SetLogger attaches a logger used to report overflow-dropped
// subscribers. Optional; a Bus with no logger just drops them silently,
// which is fine for tests that construct a Bus directly.
func (b *Bus) SetLogger(log logger.Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = log
}

// Subscription is a handle returned by Subscribe; call Close to stop
// receiving and release the queue.
type Subscription struct {
	id     int64
	bus    *Bus
	events chan Event
}

// Events returns the channel to range over.
func (s *Subscription) Events() <-chan Event { return s.events }

// Close unregisters the subscription.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if ch, ok := s.bus.subscribers[s.id]; ok {
		delete(s.bus.subscribers, s.id)
		close(ch)
	}
}

// Subscribe registers a new listener.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberQueueSize)
	b.subscribers[id] = ch
	return &Subscription{id: id, bus: b, events: ch}
}

// Publish fans an event out to every current subscriber. Delivery is
// best-effort and parallel across subscribers — a subscriber whose queue
// is full when an event arrives is dropped (unregistered and its channel
// closed), not just skipped for that one event, and the drop is logged
// (spec.md §4.9).
func (b *Bus) Publish(tag string, payload any) Event {
	evt := Event{
		ID:        uuid.NewString(),
		Tag:       tag,
		Payload:   payload,
		Timestamp: b.now(),
	}

	b.mu.RLock()
	var overflowed []int64
	for id, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			overflowed = append(overflowed, id)
		}
	}
	log := b.logger
	b.mu.RUnlock()

	if len(overflowed) == 0 {
		return evt
	}

	b.mu.Lock()
	for _, id := range overflowed {
		if ch, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(ch)
		}
	}
	b.mu.Unlock()

	if log != nil {
		for _, id := range overflowed {
			log.Warnf("events: subscriber %d dropped, queue overflowed on %s", id, tag)
		}
	}
	return evt
}
