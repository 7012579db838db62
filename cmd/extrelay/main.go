package main

import (
	"bufio"
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/coffersTech/extrelay/internal/config"
	"github.com/coffersTech/extrelay/internal/relay"
)

func main() {
	cfg, err := config.LoadRelay(os.Args[1:], os.Getenv)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	console := relay.NewConsoleLogger(os.Stderr, cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	r, err := relay.Open(ctx, relay.Config{
		StorageAddr: cfg.StorageAddr,
		LogAddr:     cfg.LogAddr,
		CrawlID:     cfg.CrawlID,
		ProfileDir:  cfg.ProfileDir,
		ListenHost:  cfg.ListenHost,
		QueueSize:   cfg.QueueSize,
		DialTimeout: cfg.DialTimeout,
		Logger:      console,
	})
	cancel()
	if err != nil {
		log.Fatalf("Failed to open relay: %v", err)
	}
	log.Printf("Relay started. Crawl: %d, Debug: %v, Control port: %d", r.CrawlID(), r.DebugMode(), r.Port())

	// Errors of the relay process itself go to the log sink as well.
	sinkLog := slog.New(r.Handler(slog.LevelInfo)).With("component", "stdin")

	// 1. Read instrumentation events from stdin
	done := make(chan struct{})
	var lines, failed atomic.Int64
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), maxLine)
		for scanner.Scan() {
			n := lines.Add(1)
			if err := dispatch(r, scanner.Bytes()); err != nil {
				failed.Add(1)
				console.Warn("event not relayed", "line", n, "error", err)
				sinkLog.Warn("event not relayed", "line", n, "error", err)
			}
		}
		if err := scanner.Err(); err != nil {
			console.Error("stdin read failed", "error", err)
		}
	}()

	// 2. Wait for EOF or a signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-done:
		log.Println("Input closed. Shutting down...")
	case sig := <-quit:
		log.Printf("Received signal: %v. Shutting down...", sig)
	}

	storage, logs := r.Stats()
	log.Printf("Relayed %d lines (%d failed). Storage frames: %d written, %d dropped. Log frames: %d written, %d dropped.",
		lines.Load(), failed.Load(), storage.Written, storage.Dropped, logs.Written, logs.Dropped)

	if err := r.Close(); err != nil {
		log.Printf("Close failed: %v", err)
	}
	log.Println("Relay exited gracefully.")
}
