// Package relay forwards instrumentation records, page content and log
// messages to the storage collector and the log aggregator, stamping each
// record with the active visit.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/coffersTech/extrelay/internal/encoding"
	"github.com/coffersTech/extrelay/internal/model"
	"github.com/coffersTech/extrelay/internal/profile"
	"github.com/coffersTech/extrelay/internal/transport"
	"github.com/coffersTech/extrelay/internal/visit"
	"github.com/coffersTech/extrelay/internal/wire"
)

// ErrNoSink is returned by sends whose sink was never connected.
var ErrNoSink = errors.New("relay: sink not connected")

// DefaultListenHost is where the control listener binds.
const DefaultListenHost = "127.0.0.1"

// Config describes the sinks and identity of a relay.
type Config struct {
	// StorageAddr and LogAddr are nil when that sink is absent.
	StorageAddr *transport.Address
	LogAddr     *transport.Address
	CrawlID     int64

	// ProfileDir receives extension_port.txt. Empty skips publication.
	ProfileDir string
	ListenHost string

	QueueSize   int
	DialTimeout time.Duration

	// Logger is the local diagnostic output.
	Logger *slog.Logger
}

// IsDebug reports whether cfg selects debug mode: no sinks and crawl id 0.
func (c Config) IsDebug() bool {
	return c.StorageAddr == nil && c.LogAddr == nil && c.CrawlID == 0
}

// Sink is an outbound connection frames are written to.
type Sink interface {
	Send(f wire.Frame) error
	Close() error
}

// Relay owns the storage sink, the log sink and the control listener.
type Relay struct {
	crawlID int64
	debug   bool
	console *slog.Logger

	storage  Sink
	logSink  Sink
	listener *transport.ListeningSocket
	tracker  *visit.Tracker

	closeOnce sync.Once
	closeErr  error
}

func newRelay(crawlID int64, debug bool, console *slog.Logger, storage, logSink Sink) *Relay {
	if console == nil {
		console = slog.Default()
	}
	r := &Relay{
		crawlID: crawlID,
		debug:   debug,
		console: console,
		storage: storage,
		logSink: logSink,
	}
	r.tracker = visit.NewTracker(crawlID, r, r)
	return r
}

// Open connects the configured sinks, sends the storage handshake and
// starts the control listener. Sink connection failures are logged and
// leave that sink unset; only listener and port publication failures are
// returned.
func Open(ctx context.Context, cfg Config) (*Relay, error) {
	if cfg.IsDebug() {
		r := newRelay(0, true, cfg.Logger, nil, nil)
		r.console.Info("Debugging, everything will output to console")
		return r, nil
	}

	r := newRelay(cfg.CrawlID, false, cfg.Logger, nil, nil)
	r.console.Info("Opening socket connections...")

	opts := transport.SendingOptions{
		QueueSize:   cfg.QueueSize,
		DialTimeout: cfg.DialTimeout,
		Logger:      r.console,
	}

	// 1. Log aggregator
	if cfg.LogAddr != nil {
		s, err := transport.Dial(ctx, *cfg.LogAddr, opts)
		if err != nil {
			r.console.Error("log aggregator connection failed", "addr", cfg.LogAddr.String(), "error", err)
		} else {
			r.logSink = s
		}
		r.console.Info("logSocket started?", "ok", err == nil)
	}

	// 2. Storage controller
	if cfg.StorageAddr != nil {
		s, err := transport.Dial(ctx, *cfg.StorageAddr, opts)
		if err != nil {
			r.console.Error("storage controller connection failed", "addr", cfg.StorageAddr.String(), "error", err)
		} else {
			r.storage = s
		}
		r.console.Info("StorageController started?", "ok", err == nil)
	}
	if r.storage != nil {
		if err := r.sendHandshake(); err != nil {
			r.console.Error("handshake not sent", "error", err)
		}
	}

	// 3. Control listener
	host := cfg.ListenHost
	if host == "" {
		host = DefaultListenHost
	}
	r.console.Info("Starting socket listening for incoming connections.")
	ln, err := transport.Listen(ctx, host, r.handleControl, transport.ListenOptions{Logger: r.console})
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	r.listener = ln

	// 4. Publish the port for sibling processes
	if cfg.ProfileDir != "" {
		if err := profile.WritePort(cfg.ProfileDir, ln.Port()); err != nil {
			_ = r.Close()
			return nil, err
		}
	}
	r.console.Debug("control listener ready", "port", ln.Port())

	return r, nil
}

// Handshake is the first frame on the storage connection.
func Handshake(crawlID int64) string {
	return fmt.Sprintf("Browser-%d", crawlID)
}

func (r *Relay) sendHandshake() error {
	f, err := wire.JSON(Handshake(r.crawlID))
	if err != nil {
		return err
	}
	return r.storage.Send(f)
}

// Close closes the storage sink, the log sink and the control listener.
// Later calls return the first result.
func (r *Relay) Close() error {
	r.closeOnce.Do(func() {
		var err error
		if r.storage != nil {
			err = multierr.Append(err, r.storage.Close())
		}
		if r.logSink != nil {
			err = multierr.Append(err, r.logSink.Close())
		}
		if r.listener != nil {
			err = multierr.Append(err, r.listener.Close())
		}
		r.closeErr = err
	})
	return r.closeErr
}

// CrawlID returns the owning browser id.
func (r *Relay) CrawlID() int64 { return r.crawlID }

// DebugMode reports whether sends go to local output only.
func (r *Relay) DebugMode() bool { return r.debug }

// Port returns the control listener port, or 0 when not listening.
func (r *Relay) Port() int {
	if r.listener == nil {
		return 0
	}
	return r.listener.Port()
}

// VisitID returns the active visit id and whether one is active.
func (r *Relay) VisitID() (int64, bool) {
	return r.tracker.Current()
}

// HandleControl applies a control message delivered in-process.
func (r *Relay) HandleControl(msg visit.ControlMessage) visit.Transition {
	tr := r.tracker.Handle(msg)
	r.console.Debug("control message", "action", tr.Action.String(), "before", tr.Before.String(), "after", tr.After.String())
	if tr.ForwardErr != nil {
		r.console.Warn("meta_information not forwarded", "action", tr.Action.String(), "error", tr.ForwardErr)
	}
	return tr
}

func (r *Relay) handleControl(_ net.Addr, f wire.Frame) {
	r.HandleControl(visit.ParseControl(f))
}

// SendMeta writes a meta_information frame. It is how the visit tracker
// forwards lifecycle messages.
func (r *Relay) SendMeta(record json.RawMessage) error {
	if r.debug {
		r.console.Info("EXTENSION", "instrument", model.CategoryMeta, "record", string(record))
		return nil
	}
	return r.sendStorage(model.CategoryMeta, record)
}

// SaveRecord stamps record with the active visit id and writes it to the
// storage sink under instrument. The visit read and the enqueue happen
// under the tracker lock, so a record never overtakes the meta_information
// of the visit it belongs to.
func (r *Relay) SaveRecord(instrument string, record model.Record) error {
	if r.debug {
		id, active := r.tracker.Current()
		r.console.Info("EXTENSION", "instrument", instrument, "record", debugRecord(record, id, active))
		return nil
	}

	var (
		dropped   bool
		unmatched []byte
	)
	err := r.tracker.WithCurrent(func(id int64, active bool) error {
		if active {
			return r.sendStorage(instrument, record.WithVisitID(id))
		}
		// Blank-page navigations happen before the first visit starts.
		if record.IsBlankNavigation(instrument) {
			dropped = true
			return nil
		}
		body, err := json.Marshal(debugRecord(record, 0, false))
		if err != nil {
			return fmt.Errorf("encode %s record: %w", instrument, err)
		}
		unmatched = body
		return r.sendStorage(instrument, record.WithVisitID(model.UnmatchedVisitID))
	})

	switch {
	case dropped:
		_ = r.LogDebug(fmt.Sprintf("Extension-%d : Dropping navigation to about:blank in intermediate period", r.crawlID))
	case unmatched != nil:
		_ = r.LogWarn(fmt.Sprintf("Extension-%d : visitID is null while attempting to insert into table %s\n%s",
			r.crawlID, instrument, unmatched))
	}
	return err
}

func debugRecord(record model.Record, id int64, active bool) model.Record {
	if active {
		return record.WithVisitID(id)
	}
	out := make(model.Record, len(record)+1)
	maps.Copy(out, record)
	out[model.FieldVisitID] = nil
	return out
}

// SaveContent forwards page content keyed by its hash. Content is base64
// encoded since it need not be valid text.
func (r *Relay) SaveContent(content []byte, contentHash string) error {
	if r.debug {
		r.console.Info("LDB contentHash:", "content_hash", contentHash, "length", len(content))
		return nil
	}
	return r.sendStorage(model.CategoryContent, [2]string{encoding.Uint8ToBase64(content), contentHash})
}

func (r *Relay) sendStorage(category string, payload any) error {
	if r.storage == nil {
		return ErrNoSink
	}
	f, err := wire.Pair(category, payload)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", category, err)
	}
	return r.storage.Send(f)
}

// Stats returns the counters of the connected sinks.
func (r *Relay) Stats() (storage, logs transport.SendStats) {
	type statser interface{ Stats() transport.SendStats }
	if s, ok := r.storage.(statser); ok {
		storage = s.Stats()
	}
	if s, ok := r.logSink.(statser); ok {
		logs = s.Stats()
	}
	return storage, logs
}
