package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"bsr/internal/api"
	"bsr/internal/cache"
	"bsr/internal/config"
	"bsr/internal/danmu"
	"bsr/internal/events"
	"bsr/internal/httpfetch"
	"bsr/internal/logger"
	"bsr/internal/manager"
	"bsr/internal/media"
	"bsr/internal/models"
	"bsr/internal/platform"
	"bsr/internal/recorder"
	"bsr/internal/store"
	"bsr/internal/tasks"
	"bsr/internal/webhook"
)

// platformRequestTimeout bounds every outbound call to a streaming
// platform's HTTP API (spec.md §5's "per-request timeout, default 15s").
const platformRequestTimeout = 15 * time.Second

// ffmpegConcurrency caps how many FFmpeg-bound tasks (clip, encode
// subtitle, whole clip, import) run at once; unrelated to how many rooms
// can record simultaneously, which has no such bound (spec.md §5).
const ffmpegConcurrency = 2

func main() {
	logLevel := flag.String("L", "info", "Log level (error, warn, info, debug)")
	configFile := flag.String("c", "config.json", "Path to the configuration file")
	listenAddr := flag.String("l", "", "HTTP listen address, overrides the config file's listen_addr")
	flag.Parse()

	log := logger.NewLogger(*logLevel)
	log.Infof("starting bsr recording engine")

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Errorf("failed to load configuration: %v", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	st, err := store.Open(cfg.DataPath+"/data.db", log)
	if err != nil {
		log.Errorf("failed to open store: %v", err)
		os.Exit(1)
	}
	defer st.Close()

	c, err := cache.New(cfg.CachePath, log)
	if err != nil {
		log.Errorf("failed to open cache: %v", err)
		os.Exit(1)
	}

	bus := events.New(func() int64 { return time.Now().Unix() })
	bus.SetLogger(log)
	client := httpfetch.NewClient(log, platformRequestTimeout)

	bilibili := platform.NewBilibili(client, log)
	douyin := platform.NewDouyin(client, log)
	adapterRegistry := map[string]platform.Adapter{
		bilibili.Name(): bilibili,
		douyin.Name():   douyin,
	}
	adapterFactory := func(tag string) (platform.Adapter, bool) {
		a, ok := adapterRegistry[tag]
		return a, ok
	}
	ingestorFactory := func(adapter platform.Adapter) *danmu.Ingestor {
		return danmu.NewIngestor(adapter, st, bus, log)
	}

	proc := media.New(cfg.FFmpegPath, cfg.FFprobePath, cfg.OutputPath, c, st, log)
	sup := tasks.New(st, bus, log, ffmpegConcurrency)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := manager.New(rootCtx, st, c, bus, client, log, recorder.DefaultConfig(), adapterFactory, ingestorFactory)

	if interrupted, err := sup.Recover(rootCtx); err != nil {
		log.Errorf("failed to recover interrupted tasks: %v", err)
	} else if len(interrupted) > 0 {
		log.Warnf("marked %d task(s) interrupted by a prior shutdown as failed", len(interrupted))
	}

	reconcileCache(rootCtx, st, c, log)
	rehydrateRecorders(rootCtx, mgr, st, log)

	// cfgMu guards cfg for every reader that outlives the initial load:
	// the API's set_* commands mutate it, the webhook dispatcher reads
	// WebhookURL fresh on every event.
	var cfgMu sync.Mutex

	wh := webhook.New(bus, log, func() string {
		cfgMu.Lock()
		defer cfgMu.Unlock()
		return cfg.WebhookURL
	})
	go wh.Run(rootCtx)

	// No ASR worker is wired by default (spec.md §5 Non-goals: the
	// transcription model itself is out of scope); generate_video_subtitle
	// fails cleanly until a deployment supplies one via media.ASRWorker.
	router := api.New(mgr, sup, proc, st, c, bus, log, nil, cfg, &cfgMu, *configFile)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		log.Infof("listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Infof("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	mgr.Stop()
	sup.Stop()
	cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("server shutdown failed: %v", err)
		os.Exit(1)
	}
	log.Infof("exited gracefully")
}

// reconcileCache enforces spec.md §4.2's startup invariant both ways:
// an archive row whose cache directory is gone is deleted (it can never
// be served again), and a cache directory with no backing row is an
// orphan from a run that crashed between writing segments and
// committing the row, so it's removed rather than kept around forever.
func reconcileCache(ctx context.Context, st *store.Store, c *cache.Cache, log logger.Logger) {
	archives, err := st.ListAllArchives(ctx)
	if err != nil {
		log.Errorf("failed to list archives for cache reconciliation: %v", err)
		return
	}

	known := make(map[models.ArchiveKey]bool, len(archives))
	for _, a := range archives {
		key := a.Key()
		known[key] = true
		if _, err := os.Stat(c.ArchiveDir(key)); os.IsNotExist(err) {
			log.Warnf("reconcile: archive %s/%s/%d has no cache directory, dropping its row", key.Platform, key.RoomID, key.LiveID)
			if err := st.DeleteArchive(ctx, key); err != nil {
				log.Errorf("reconcile: failed to delete orphaned archive row %s/%s/%d: %v", key.Platform, key.RoomID, key.LiveID, err)
			}
		}
	}

	onDisk, err := c.DiscoverArchives()
	if err != nil {
		log.Errorf("failed to walk cache for reconciliation: %v", err)
		return
	}
	for _, key := range onDisk {
		if known[key] {
			continue
		}
		log.Warnf("reconcile: cache directory %s/%s/%d has no archive row, deleting", key.Platform, key.RoomID, key.LiveID)
		if err := c.Delete(key); err != nil {
			log.Errorf("reconcile: failed to delete orphaned cache directory %s/%s/%d: %v", key.Platform, key.RoomID, key.LiveID, err)
		}
	}
}

// rehydrateRecorders restarts every enabled persisted recorder
// subscription on process start (spec.md §4.10); disabled rows are left
// stopped. The account bound to a room at
// add_recorder time isn't itself persisted (only the room subscription
// is), so this best-effort matches any account already registered for
// the recorder's platform, and otherwise starts it unauthenticated.
func rehydrateRecorders(ctx context.Context, mgr *manager.Manager, st *store.Store, log logger.Logger) {
	cfgs, err := st.ListRecorders(ctx)
	if err != nil {
		log.Errorf("failed to list persisted recorders: %v", err)
		return
	}

	accounts, err := st.ListAccounts(ctx)
	if err != nil {
		log.Errorf("failed to list accounts for recorder rehydration: %v", err)
		accounts = nil
	}

	for _, rc := range cfgs {
		if !rc.Enabled {
			continue
		}
		var account *models.Account
		for i := range accounts {
			if accounts[i].Platform == rc.Platform {
				account = &accounts[i]
				break
			}
		}
		if err := mgr.Add(ctx, rc, account); err != nil {
			log.Errorf("failed to rehydrate recorder %s/%s: %v", rc.Platform, rc.RoomID, err)
		}
	}
}
