package httpfetch

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"bsr/internal/logger"
	"bsr/internal/models"
)

func TestDownloaderRetriesThenSucceeds(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("segment-data"))
	}))
	defer srv.Close()

	client := NewClient(logger.NewLogger("error"), time.Second)
	d := NewDownloader(client, logger.NewLogger("error"), 1)
	defer d.Stop()

	resultCh := make(chan DownloadResult, 1)
	d.QueueDownload(DownloadTask{
		Segment: models.Segment{Sequence: 1},
		URL:     srv.URL,
		Result:  resultCh,
	})

	select {
	case res := <-resultCh:
		if res.Error != nil {
			t.Fatalf("expected eventual success, got %v", res.Error)
		}
		if string(res.Data) != "segment-data" {
			t.Errorf("expected segment-data, got %q", res.Data)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for download result")
	}

	if atomic.LoadInt32(&hits) < 2 {
		t.Errorf("expected at least 2 attempts, got %d", hits)
	}
}

func TestDownloaderExhaustsRetriesAndReportsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(logger.NewLogger("error"), time.Second)
	d := NewDownloader(client, logger.NewLogger("error"), 1)
	defer d.Stop()

	resultCh := make(chan DownloadResult, 1)
	d.QueueDownload(DownloadTask{
		Segment: models.Segment{Sequence: 2},
		URL:     srv.URL,
		Result:  resultCh,
	})

	select {
	case res := <-resultCh:
		if res.Error == nil {
			t.Fatal("expected error after exhausting retries")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for download result")
	}
}
