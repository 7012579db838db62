package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coffersTech/extrelay/internal/collector"
	"github.com/coffersTech/extrelay/internal/config"
	"github.com/coffersTech/extrelay/internal/relay"
)

func main() {
	cfg, err := config.LoadCollector(os.Args[1:], os.Getenv)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Println("Collector Started...")
	logger := relay.NewConsoleLogger(os.Stderr, cfg.LogLevel)

	// 1. Initialize server and archive
	srv, err := collector.NewServer(collector.Options{
		DataDir:   cfg.DataDir,
		CacheSize: cfg.CacheSize,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("Failed to create collector: %v", err)
	}
	log.Printf("Archive segment: %s", srv.Archive().Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Start sinks
	storageAddr, err := srv.ListenStorage(ctx, cfg.StorageListen)
	if err != nil {
		log.Fatalf("Failed to listen for storage connections: %v", err)
	}
	logAddr, err := srv.ListenLog(ctx, cfg.LogListen)
	if err != nil {
		log.Fatalf("Failed to listen for log connections: %v", err)
	}
	log.Printf("Storage sink on %s, log sink on %s", storageAddr, logAddr)

	// Start background loops
	srv.StartSyncLoop(ctx, cfg.SyncInterval)
	srv.Registry().StartCleanupLoop(ctx, time.Minute, cfg.StaleAfter)

	// 3. Start HTTP API in a goroutine
	var httpSrv *http.Server
	if cfg.MetricsListen != "" {
		api := collector.NewAPI(srv.Registry()).WithMetrics(srv.Metrics().Registry)
		httpSrv = &http.Server{Addr: cfg.MetricsListen, Handler: api.Routes()}
		go func() {
			log.Printf("Metrics available at http://%s/metrics", cfg.MetricsListen)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("HTTP server stopped: %v", err)
			}
		}()
	}

	// 4. Graceful Shutdown Hook
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal: %v. Shutting down...", sig)
	cancel()

	if httpSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP shutdown error: %v", err)
		}
		shutdownCancel()
	}

	log.Println("Flushing archive to disk...")
	if err := srv.Shutdown(); err != nil {
		log.Printf("Final flush failed: %v", err)
	}
	logger.Info("collector stopped", "frames", srv.Archive().Rows())

	log.Println("Collector exited gracefully.")
}
