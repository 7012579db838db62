// Package collector is the sink side of the relay protocol: it accepts
// storage and log connections from relays, tracks browsers and visits,
// and archives storage frames.
package collector

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/valyala/fastjson"
	"go.uber.org/multierr"

	"github.com/coffersTech/extrelay/internal/model"
	"github.com/coffersTech/extrelay/internal/transport"
	"github.com/coffersTech/extrelay/internal/visit"
	"github.com/coffersTech/extrelay/internal/wire"
)

// DefaultCacheSize is the number of content hashes remembered for
// de-duplication.
const DefaultCacheSize = 100000

const handshakePrefix = "Browser-"

// Options configure a Server.
type Options struct {
	DataDir   string
	CacheSize int
	Logger    *slog.Logger
}

// Server receives frames from relays.
type Server struct {
	registry *Registry
	archive  *Archive
	seen     *lru.Cache[string, int]
	metrics  *Metrics
	logger   *slog.Logger
	parser   fastjson.ParserPool

	mu        sync.Mutex
	conns     map[string]int64 // remote addr -> browser id
	listeners []*transport.ListeningSocket
}

// NewServer opens an archive segment in opts.DataDir.
func NewServer(opts Options) (*Server, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	seen, err := lru.New[string, int](opts.CacheSize)
	if err != nil {
		return nil, err
	}
	archive, err := OpenArchive(opts.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	registry := NewRegistry()
	return &Server{
		registry: registry,
		archive:  archive,
		seen:     seen,
		metrics:  NewMetrics(registry),
		logger:   opts.Logger,
		conns:    make(map[string]int64),
	}, nil
}

// Registry returns the browser registry.
func (s *Server) Registry() *Registry { return s.registry }

// Metrics returns the collector metrics.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Archive returns the current archive segment.
func (s *Server) Archive() *Archive { return s.archive }

// ListenStorage accepts relay storage connections on addr.
func (s *Server) ListenStorage(ctx context.Context, addr string) (net.Addr, error) {
	return s.listen(ctx, addr, s.handleStorage)
}

// ListenLog accepts relay log connections on addr.
func (s *Server) ListenLog(ctx context.Context, addr string) (net.Addr, error) {
	return s.listen(ctx, addr, s.handleLog)
}

func (s *Server) listen(ctx context.Context, addr string, handler transport.FrameHandler) (net.Addr, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	sock := transport.Serve(ln, handler, transport.ListenOptions{
		Logger:  s.logger,
		OnClose: s.forget,
	})
	s.mu.Lock()
	s.listeners = append(s.listeners, sock)
	s.mu.Unlock()
	return sock.Addr(), nil
}

// StartSyncLoop flushes the archive every interval until ctx is done.
func (s *Server) StartSyncLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.archive.Sync(); err != nil {
					s.logger.Error("archive sync failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown closes all listeners and finishes the archive segment.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	var err error
	for _, l := range listeners {
		err = multierr.Append(err, l.Close())
	}
	return multierr.Append(err, s.archive.Close())
}

func (s *Server) browserFor(remote net.Addr) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.conns[remote.String()]
	return id, ok
}

func (s *Server) forget(remote net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, remote.String())
}

func parseHandshake(str string) (int64, bool) {
	rest, ok := strings.CutPrefix(str, handshakePrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	return id, err == nil
}

func (s *Server) malformed(sink string, remote net.Addr, reason string) {
	s.metrics.Malformed.WithLabelValues(sink).Inc()
	s.logger.Warn("malformed frame", "sink", sink, "remote", remote.String(), "reason", reason)
}

func (s *Server) handleStorage(remote net.Addr, f wire.Frame) {
	p := s.parser.Get()
	defer s.parser.Put(p)

	v, err := p.ParseBytes(f.Payload)
	if err != nil {
		s.malformed("storage", remote, err.Error())
		return
	}

	// 1. Handshake
	if v.Type() == fastjson.TypeString {
		id, ok := parseHandshake(string(v.GetStringBytes()))
		if !ok {
			s.malformed("storage", remote, "unexpected string frame")
			return
		}
		s.mu.Lock()
		s.conns[remote.String()] = id
		s.mu.Unlock()
		s.registry.RegisterOrUpdate(id, remote.String())
		s.metrics.Handshakes.Inc()
		s.logger.Info("browser connected", "browser_id", id, "remote", remote.String())
		return
	}

	// 2. [category, payload]
	arr, err := v.Array()
	if err != nil || len(arr) != 2 || arr[0].Type() != fastjson.TypeString {
		s.malformed("storage", remote, "not a [category, payload] pair")
		return
	}
	category := string(arr[0].GetStringBytes())
	payload := arr[1]
	browserID, known := s.browserFor(remote)
	// Any frame from a handshaken connection keeps the browser alive, and
	// brings it back if it was pruned while idle.
	if known && s.registry.RegisterOrUpdate(browserID, remote.String()) {
		s.logger.Info("browser re-registered", "browser_id", browserID, "remote", remote.String())
	}

	switch category {
	case model.CategoryMeta:
		if known {
			switch string(payload.GetStringBytes(visit.FieldAction)) {
			case visit.TagInitialize:
				s.registry.BeginVisit(browserID, payload.GetInt64(visit.FieldVisitID))
			case visit.TagFinalize:
				s.registry.EndVisit(browserID)
			}
		}
	case model.CategoryContent:
		if !s.storeContent(remote, payload) {
			return
		}
	default:
		if payload.Type() != fastjson.TypeObject {
			s.malformed("storage", remote, "record is not an object")
			return
		}
		if payload.GetInt64(model.FieldVisitID) == model.UnmatchedVisitID {
			s.metrics.Unmatched.Inc()
		}
		if known {
			s.registry.CountRecord(browserID)
		}
	}

	s.metrics.Frames.WithLabelValues(category).Inc()
	if err := s.archive.Write(f.Payload); err != nil {
		s.logger.Error("archive write failed", "category", category, "error", err)
	}
}

// storeContent reports whether the frame carries content not seen before.
func (s *Server) storeContent(remote net.Addr, payload *fastjson.Value) bool {
	pair, err := payload.Array()
	if err != nil || len(pair) != 2 {
		s.malformed("storage", remote, "page_content is not a [content, hash] pair")
		return false
	}
	data, err := base64.StdEncoding.DecodeString(string(pair[0].GetStringBytes()))
	if err != nil {
		s.malformed("storage", remote, "page_content is not base64")
		return false
	}
	hash := string(pair[1].GetStringBytes())
	if hash == "" {
		s.malformed("storage", remote, "page_content without hash")
		return false
	}
	if found, _ := s.seen.ContainsOrAdd(hash, len(data)); found {
		s.metrics.DuplicatePages.Inc()
		return false
	}
	s.metrics.ContentBytes.Add(float64(len(data)))
	return true
}

func (s *Server) handleLog(remote net.Addr, f wire.Frame) {
	p := s.parser.Get()
	defer s.parser.Put(p)

	v, err := p.ParseBytes(f.Payload)
	if err != nil {
		s.malformed("log", remote, err.Error())
		return
	}
	arr, err := v.Array()
	if err != nil || len(arr) != 2 || string(arr[0].GetStringBytes()) != model.CategoryLog {
		s.malformed("log", remote, "not an EXT frame")
		return
	}
	text := arr[1].GetStringBytes()
	if text == nil {
		s.malformed("log", remote, "log entry is not a string")
		return
	}

	inner := s.parser.Get()
	defer s.parser.Put(inner)
	entry, err := inner.ParseBytes(text)
	if err != nil {
		s.malformed("log", remote, err.Error())
		return
	}

	lvl := model.Level(entry.GetInt("level"))
	s.metrics.LogEntries.WithLabelValues(lvl.String()).Inc()
	s.logger.Log(context.Background(), lvl.Slog(), string(entry.GetStringBytes("msg")),
		"logger", string(entry.GetStringBytes("name")),
		"source", string(entry.GetStringBytes("pathname")),
		"remote", remote.String(),
	)
}
