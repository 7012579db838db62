// Package config loads the relay and collector settings from command-line
// flags, with EXTRELAY_* environment variables filling flags left unset.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/coffersTech/extrelay/internal/transport"
)

// Getenv looks up an environment variable; os.Getenv in production.
type Getenv func(key string) string

// Relay holds the relay process settings.
type Relay struct {
	StorageAddr *transport.Address
	LogAddr     *transport.Address
	CrawlID     int64
	ProfileDir  string
	ListenHost  string
	QueueSize   int
	DialTimeout time.Duration
	LogLevel    slog.Level
}

// Collector holds the collector process settings.
type Collector struct {
	StorageListen string
	LogListen     string
	MetricsListen string
	DataDir       string
	CacheSize     int
	StaleAfter    time.Duration
	SyncInterval  time.Duration
	LogLevel      slog.Level
}

// LoadRelay parses args (without the program name).
func LoadRelay(args []string, getenv Getenv) (Relay, error) {
	fs := flag.NewFlagSet("extrelay", flag.ContinueOnError)
	storage := fs.String("storage", "", "storage collector address (host:port); empty disables it")
	logAddr := fs.String("log", "", "log aggregator address (host:port); empty disables it")
	crawlID := fs.Int64("crawl-id", 0, "browser id attached to every lifecycle message")
	profileDir := fs.String("profile", "", "profile directory receiving extension_port.txt")
	listen := fs.String("listen", "127.0.0.1", "host the control listener binds to")
	queue := fs.Int("queue", transport.DefaultQueueSize, "frames buffered per sink")
	dialTimeout := fs.Duration("dial-timeout", 10*time.Second, "sink connection timeout")
	level := fs.String("log-level", "info", "local log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return Relay{}, err
	}

	env := envFiller{fs: fs, getenv: getenv}
	env.string("storage", "EXTRELAY_STORAGE", storage)
	env.string("log", "EXTRELAY_LOG", logAddr)
	env.string("profile", "EXTRELAY_PROFILE_DIR", profileDir)
	env.string("log-level", "EXTRELAY_LOG_LEVEL", level)
	env.int64("crawl-id", "EXTRELAY_CRAWL_ID", crawlID)
	if env.err != nil {
		return Relay{}, env.err
	}

	cfg := Relay{
		CrawlID:     *crawlID,
		ProfileDir:  *profileDir,
		ListenHost:  *listen,
		QueueSize:   *queue,
		DialTimeout: *dialTimeout,
	}
	var err error
	if cfg.StorageAddr, err = transport.ParseAddress(*storage); err != nil {
		return Relay{}, fmt.Errorf("-storage: %w", err)
	}
	if cfg.LogAddr, err = transport.ParseAddress(*logAddr); err != nil {
		return Relay{}, fmt.Errorf("-log: %w", err)
	}
	if cfg.LogLevel, err = ParseLevel(*level); err != nil {
		return Relay{}, err
	}
	return cfg, nil
}

// LoadCollector parses args (without the program name).
func LoadCollector(args []string, getenv Getenv) (Collector, error) {
	fs := flag.NewFlagSet("collector", flag.ContinueOnError)
	storage := fs.String("storage-listen", ":7001", "address accepting relay storage connections")
	logs := fs.String("log-listen", ":7002", "address accepting relay log connections")
	metrics := fs.String("metrics-listen", ":7003", "HTTP address for /metrics and /api/browsers; empty disables it")
	dataDir := fs.String("data", "./data", "directory for archive segments")
	cache := fs.Int("cache", 100000, "page content hashes remembered for de-duplication")
	stale := fs.Duration("stale", 10*time.Minute, "drop browsers not seen for this long")
	sync := fs.Duration("sync", time.Second, "archive flush interval")
	level := fs.String("log-level", "debug", "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return Collector{}, err
	}

	env := envFiller{fs: fs, getenv: getenv}
	env.string("data", "EXTRELAY_COLLECTOR_DATA", dataDir)
	env.string("log-level", "EXTRELAY_LOG_LEVEL", level)
	if env.err != nil {
		return Collector{}, env.err
	}

	lvl, err := ParseLevel(*level)
	if err != nil {
		return Collector{}, err
	}
	if *cache <= 0 {
		return Collector{}, fmt.Errorf("-cache must be positive, got %d", *cache)
	}
	return Collector{
		StorageListen: *storage,
		LogListen:     *logs,
		MetricsListen: *metrics,
		DataDir:       *dataDir,
		CacheSize:     *cache,
		StaleAfter:    *stale,
		SyncInterval:  *sync,
		LogLevel:      lvl,
	}, nil
}

// ParseLevel maps a level name onto slog.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}

// envFiller copies environment values into flags the user did not set.
type envFiller struct {
	fs     *flag.FlagSet
	getenv Getenv
	err    error
}

func (e *envFiller) lookup(name, key string) (string, bool) {
	if e.getenv == nil || e.err != nil {
		return "", false
	}
	set := false
	e.fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	if set {
		return "", false
	}
	v := e.getenv(key)
	return v, v != ""
}

func (e *envFiller) string(name, key string, dst *string) {
	if v, ok := e.lookup(name, key); ok {
		*dst = v
	}
}

func (e *envFiller) int64(name, key string, dst *int64) {
	v, ok := e.lookup(name, key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = n
}
