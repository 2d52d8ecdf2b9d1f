package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kptv-search/work/client"
	"kptv-search/work/config"
	"kptv-search/work/database"
	"kptv-search/work/handlers"
	"kptv-search/work/history"
	"kptv-search/work/importer"
	"kptv-search/work/indexer"
	"kptv-search/work/logger"
	"kptv-search/work/middleware"
	"kptv-search/work/scheduler"
	"kptv-search/work/search"
	"kptv-search/work/validator"
)

var (
	Version = "v0.1.0" // default version
)

// our main app worker
func main() {

	// load our config
	configPath := os.Getenv("KPTV_SEARCH_CONFIG")
	if configPath == "" {
		configPath = "config.json"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// set up logging
	appLog := logger.New("INFO")
	if cfg.DebugLogging {
		appLog.SetDebug(true)
		logger.SetDebug(true)
	}

	// open the registry
	db, err := database.Open(cfg.DatabasePath, appLog)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	// initialize HTTP client
	httpClient := client.New(cfg)

	// initialize worker pool for the import fan-out
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	// assemble the pipeline
	ix := indexer.New(cfg)
	val := validator.New(cfg, httpClient, appLog)
	engine := search.New(cfg, db, appLog)
	hist := history.Open(cfg.HistoryPath, appLog)

	txtSource := importer.NewTXTSource(cfg, httpClient, appLog)
	feedSource := importer.NewFeedSource(cfg, httpClient, workerPool, appLog)
	playlists := importer.NewPlaylistSource(cfg, httpClient, appLog)
	sources := importer.Sources(cfg, txtSource, feedSource)

	runner := scheduler.New(cfg, db, appLog, val, ix, sources, playlists, engine)
	if err := runner.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer runner.Stop()

	// bootstrap: an empty registry answers no searches, so kick off a
	// first sweep in the background instead of waiting for the schedule
	if valid, err := db.CountValidServers(); err == nil && valid == 0 && cfg.AutoSweepEnabled {
		runner.Kickoff()
	}

	// setup HTTP routes
	router := mux.NewRouter()

	// the public search surface
	router.HandleFunc("/search", middleware.GzipMiddleware(handlers.HandleSearch(engine, hist))).Methods("GET")
	router.HandleFunc("/recent", middleware.GzipMiddleware(handlers.HandleRecent(hist))).Methods("GET")

	// acquisition and validation triggers
	router.HandleFunc("/import", handlers.HandleImport(runner, cfg)).Methods("POST")
	router.HandleFunc("/sweep", handlers.HandleSweep(runner)).Methods("POST")

	// metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// add the admin routes
	setupAdminRoutes(router, adminDeps{
		config: cfg,
		db:     db,
		runner: runner,
		engine: engine,
	})

	// show info
	appLog.Info("Starting KPTV Search %s", Version)
	appLog.Info("Server configuration:")
	appLog.Info("  - Listen Address: %s", cfg.ListenAddr)
	appLog.Info("  - Database: %s", cfg.DatabasePath)
	appLog.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	appLog.Info("  - Recheck Interval: %dh", cfg.RecheckHours)
	appLog.Info("  - Auto Sweep: %v", cfg.AutoSweepEnabled)
	appLog.Info("  - Stream Check: %v", cfg.StreamCheckEnabled)
	appLog.Info("  - Proxy Mode: %s", cfg.ProxyMode)
	appLog.Info("  - Debug Enabled: %v", cfg.DebugLogging)
	appLog.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	// fire us up
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// wait for a shutdown signal, then drain: stop taking requests, stop
	// the sweep schedule, and let any background sweep wind down
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	appLog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Server shutdown failed: %v", err)
	}
}
