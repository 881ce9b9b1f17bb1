package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"bsr/internal/hls"
	"bsr/internal/models"
	"bsr/internal/recorder"
)

// handlePlaylist implements spec.md §4.6/§6: GET
// /<platform>/<room_id>/<live_id>/playlist.m3u8[?start=&end=]. live is
// true only while the manager's own recorder for this room is in the
// Recording state and currently on this live_id. For a full-archive
// request (no start/end) #EXT-X-ENDLIST is appended as soon as the
// recorder leaves Recording (finalized, finished after a restart with no
// recorder registered, or an entirely different room never recorded
// here); a ranged request never carries it.
func (a *API) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	roomID := chi.URLParam(r, "room_id")
	liveID, err := strconv.ParseInt(chi.URLParam(r, "live_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid live_id", http.StatusBadRequest)
		return
	}

	key := models.ArchiveKey{Platform: platform, RoomID: roomID, LiveID: liveID}
	if _, err := a.store.GetArchive(r.Context(), key); err != nil {
		http.Error(w, "archive not found", http.StatusNotFound)
		return
	}

	segments, err := a.cache.ListSegments(key)
	if err != nil {
		http.Error(w, "failed to read segment index", http.StatusInternalServerError)
		return
	}

	start, _ := strconv.ParseFloat(r.URL.Query().Get("start"), 64)
	end, _ := strconv.ParseFloat(r.URL.Query().Get("end"), 64)

	live := false
	if view, ok := a.manager.Get(models.RecorderKey{Platform: platform, RoomID: roomID}); ok {
		live = view.State == recorder.Recording && view.LiveID == liveID
	}

	body := hls.Generate(segments, 0, start, end, live)

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Write([]byte(body))
}
