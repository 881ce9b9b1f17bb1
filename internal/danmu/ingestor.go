// Package danmu implements the danmu ingestion task (C4): one cooperative
// loop per live recording session that opens the platform's chat
// channel, accumulates entries, and both persists and broadcasts them.
// Reconnection with exponential backoff lives here rather than in the
// platform adapter, since spec.md §4.3 scopes SubscribeDanmu to exactly
// one connection attempt — the session-level retry policy is a concern
// of the ingestor, not the adapter.
package danmu

import (
	"context"
	"time"

	"bsr/internal/events"
	"bsr/internal/logger"
	"bsr/internal/models"
	"bsr/internal/platform"
	"bsr/internal/store"
)

const (
	minBackoff  = 1 * time.Second
	maxBackoff  = 30 * time.Second
	batchSize   = 20
	batchWindow = 5 * time.Second
)

// Ingestor runs one archive's danmu channel: connect, accumulate, flush,
// reconnect on disconnect until the context is cancelled (recording
// finalized or the recorder disabled).
type Ingestor struct {
	adapter platform.Adapter
	store   *store.Store
	bus     *events.Bus
	logger  logger.Logger
}

func NewIngestor(adapter platform.Adapter, st *store.Store, bus *events.Bus, log logger.Logger) *Ingestor {
	return &Ingestor{adapter: adapter, store: st, bus: bus, logger: log}
}

// Run blocks until ctx is cancelled, reconnecting on every disconnect
// with exponential backoff capped at maxBackoff (spec.md §4.4).
func (ing *Ingestor) Run(ctx context.Context, roomID string, key models.ArchiveKey, account *models.Account) {
	backoff := minBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		entries, err := ing.adapter.SubscribeDanmu(ctx, roomID, account)
		if err != nil {
			ing.logger.Warnf("danmu: connect failed for %s/%s: %v (retrying in %s)", key.Platform, key.RoomID, err, backoff)
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		// A successful connection resets the backoff for the next drop.
		backoff = minBackoff
		ing.drain(ctx, key, entries)

		if ctx.Err() != nil {
			return
		}
		if !sleepOrDone(ctx, backoff) {
			return
		}
	}
}

// drain consumes entries from one connection until it closes, flushing
// batches to the store and event bus along the way.
func (ing *Ingestor) drain(ctx context.Context, key models.ArchiveKey, entries <-chan models.DanmuEntry) {
	batch := make([]models.DanmuEntry, 0, batchSize)
	ticker := time.NewTicker(batchWindow)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := ing.store.InsertDanmuBatch(ctx, key, batch); err != nil {
			ing.logger.Errorf("danmu: failed to persist batch for %s/%s: %v", key.Platform, key.RoomID, err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-ticker.C:
			flush()
		case entry, ok := <-entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			ing.bus.Publish(events.DanmuTag(key.RoomID), entry)
			if len(batch) >= batchSize {
				flush()
			}
		}
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
