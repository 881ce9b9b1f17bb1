// Package webhook implements the webhook dispatch subscriber named in
// SPEC_FULL.md's supplemented features: one more consumer of C9's bus,
// fanning every event out to webhook_url as an HTTP POST. It carries its
// own bounded queue so a slow or unreachable endpoint never slows down
// publication itself — the bus already drops a subscriber that falls
// behind (internal/events), this is the dispatcher's own second line of
// defense against a slow POST blocking the next event's delivery.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"bsr/internal/events"
	"bsr/internal/logger"
)

const queueSize = 64
const postTimeout = 5 * time.Second

// Dispatcher posts every bus event to the configured webhook URL.
type Dispatcher struct {
	client *http.Client
	bus    *events.Bus
	logger logger.Logger
	urlFn  func() string
	queue  chan events.Event
}

// New builds a Dispatcher. urlFn is called fresh for every event so a
// config change to webhook_url takes effect without restarting the
// dispatcher; an empty URL makes post a no-op.
func New(bus *events.Bus, log logger.Logger, urlFn func() string) *Dispatcher {
	return &Dispatcher{
		client: &http.Client{Timeout: postTimeout},
		bus:    bus,
		logger: log,
		urlFn:  urlFn,
		queue:  make(chan events.Event, queueSize),
	}
}

// Run subscribes to the bus and posts events until ctx is cancelled.
// Intended to be started once, in its own goroutine, at process startup.
func (d *Dispatcher) Run(ctx context.Context) {
	sub := d.bus.Subscribe()
	defer sub.Close()

	go d.worker(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			select {
			case d.queue <- ev:
			default:
				d.logger.Warnf("webhook: dropped event %s, dispatch queue full", ev.Tag)
			}
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.queue:
			d.post(ctx, ev)
		}
	}
}

func (d *Dispatcher) post(ctx context.Context, ev events.Event) {
	url := d.urlFn()
	if url == "" {
		return
	}

	body, err := json.Marshal(ev)
	if err != nil {
		d.logger.Errorf("webhook: failed to marshal event %s: %v", ev.Tag, err)
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		d.logger.Errorf("webhook: failed to build request for %s: %v", ev.Tag, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warnf("webhook: POST failed for %s: %v", ev.Tag, err)
		return
	}
	resp.Body.Close()
}
