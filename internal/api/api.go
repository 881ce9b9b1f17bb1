// Package api implements the headless HTTP surface of spec.md §6: a
// single POST command dispatch, the per-room HLS playlist endpoint,
// static file serving for the cache/output directories, an SSE event
// stream, and multipart upload endpoints. It replaces the teacher's
// DASH-specific bare http.ServeMux router now that the route set spans
// a JSON command API rather than four fixed MPD-shaped routes, adopting
// go-chi/chi and go-chi/cors the way tomtom215/cartographus wires its
// own HTTP surface (see DESIGN.md).
package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"bsr/internal/cache"
	"bsr/internal/config"
	"bsr/internal/events"
	"bsr/internal/logger"
	"bsr/internal/manager"
	"bsr/internal/media"
	"bsr/internal/store"
	"bsr/internal/tasks"
)

// API holds every component a handler needs. None of this is global
// state; it is built once in cmd/server/main.go and closed over by the
// router returned from New.
type API struct {
	manager *manager.Manager
	tasks   *tasks.Supervisor
	media   *media.Processor
	store   *store.Store
	cache   *cache.Cache
	bus     *events.Bus
	logger  logger.Logger
	asr     media.ASRWorker // may be nil; generate_video_subtitle then fails cleanly

	configPath string
	cfgMu      *sync.Mutex
	cfg        *config.Config
}

// New builds the full router. cfgPath is the on-disk file that
// set_cache_path/set_output_path/update_notify/set_primary persist back
// to, the same file config.Load read at startup. cfgMu guards cfg and is
// owned by the caller, since cmd/server/main.go also hands it to the
// webhook dispatcher, which reads cfg.WebhookURL under the same lock.
func New(
	mgr *manager.Manager,
	sup *tasks.Supervisor,
	proc *media.Processor,
	st *store.Store,
	c *cache.Cache,
	bus *events.Bus,
	log logger.Logger,
	asr media.ASRWorker,
	cfg *config.Config,
	cfgMu *sync.Mutex,
	cfgPath string,
) http.Handler {
	a := &API{
		manager:    mgr,
		tasks:      sup,
		media:      proc,
		store:      st,
		cache:      c,
		bus:        bus,
		logger:     log,
		asr:        asr,
		configPath: cfgPath,
		cfg:        cfg,
		cfgMu:      cfgMu,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Post("/api/{command}", a.handleCommand)
	r.Get("/api/sse", a.handleSSE)
	r.Post("/api/upload_file", a.handleUploadFile)
	r.Post("/api/upload_and_import_files", a.handleBatchUploadFiles)

	r.Get("/{platform}/{room_id}/{live_id}/playlist.m3u8", a.handlePlaylist)
	r.Get("/cache/*", a.handleStatic(c.Root))
	r.Get("/output/*", a.handleStatic(a.outputDir))

	return r
}

// outputDir reads the current output path under lock, since
// set_output_path can change it while the server is running.
func (a *API) outputDir() string {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	return a.cfg.OutputPath
}
