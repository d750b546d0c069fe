package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scribe/internal/config"
	"scribe/internal/downloader"
	"scribe/internal/engine"
	"scribe/internal/eventbus"
	"scribe/internal/modelcache"
	"scribe/internal/modelwatch"
	"scribe/internal/recognizer"
	"scribe/internal/rpc"
	"scribe/internal/scheduler"
	"scribe/internal/service"
	"scribe/internal/store"
	"scribe/internal/translate"
	"scribe/pkg/logger"
)

// Version information (set by GoReleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const jobQueueSize = 64

func main() {
	var showVersion = flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("scribe %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	log.Println("starting up...")

	log.Println("loading configuration...")
	cfg := config.Load()

	log.Println("initializing logging system...")
	logger.Init(os.Getenv("LOG_LEVEL"))
	logger.Info("starting scribe", "version", version, "commit", commit)

	log.Println("opening job store...")
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal("failed to open store:", err)
	}
	defer st.Close()

	if recovered, err := st.FailStaleJobs(); err != nil {
		log.Fatal("failed to recover stale jobs:", err)
	} else if recovered > 0 {
		logger.Info("recovered jobs left running by a previous crash", "count", recovered)
	}
	log.Println("job store ready")

	bus := eventbus.New()
	defer bus.Shutdown()

	cache := modelcache.New(cfg.ModelCacheBytes)

	if err := os.MkdirAll(cfg.ModelsDir, 0o755); err != nil {
		log.Fatal("failed to create models directory:", err)
	}
	dl := downloader.New(cfg.ModelsDir, cfg.MaxConcurrentDLs)

	watcher, err := modelwatch.Start(cfg.ModelsDir, cache)
	if err != nil {
		logger.Warn("model directory watcher disabled", "error", err)
	} else {
		defer watcher.Close()
	}

	var translator *translate.Client
	if cfg.TranslateEndpoint != "" {
		translator = translate.NewClient(cfg.TranslateEndpoint)
	}

	rec := recognizer.New()
	eng := engine.New(st, bus, cache, dl, rec, translator)

	sched := scheduler.New(eng, jobQueueSize)
	sched.Start()
	defer sched.Stop()
	log.Println("job scheduler started")

	svc := service.New(st, sched, bus, dl, translator)
	router := rpc.NewRouter(svc)

	srv := &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting HTTP server on %s:%s", cfg.Host, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server:", err)
		}
	}()

	time.Sleep(100 * time.Millisecond)
	log.Printf("scribe is now running on http://%s:%s", cfg.Host, cfg.Port)
	log.Println("press ctrl+c to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown:", err)
	}

	log.Println("server exited")
}
