package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleSSE implements spec.md §6's GET /api/sse: one event stream per
// client, multiplexing every family published on the bus (recorder
// lifecycle, live state, task progress, danmu). The subscription's
// bounded queue (internal/events) already protects the bus from a slow
// client; this handler just drains it until the client disconnects.
func (a *API) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := a.bus.Subscribe()
	defer sub.Close()

	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Tag, data)
			flusher.Flush()
		}
	}
}
