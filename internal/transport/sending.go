// Package transport provides the point-to-point stream sockets the relay
// talks over: an asynchronous sending socket and a listening socket.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coffersTech/extrelay/internal/wire"
)

var (
	ErrClosed    = errors.New("transport: socket closed")
	ErrQueueFull = errors.New("transport: send queue full")
)

// DefaultQueueSize is the number of frames a SendingSocket buffers.
const DefaultQueueSize = 10000

// SendingOptions tune a SendingSocket.
type SendingOptions struct {
	QueueSize    int
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// SendStats are cumulative counters of a SendingSocket.
type SendStats struct {
	Queued  int64
	Written int64
	Dropped int64
	Failed  int64
}

// SendingSocket writes frames to one remote endpoint. Send never blocks:
// frames are queued and written by a background loop.
type SendingSocket struct {
	conn   net.Conn
	opts   SendingOptions
	queue  chan wire.Frame
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	closed atomic.Bool
	mu     sync.RWMutex // guards queue sends against close

	queued  atomic.Int64
	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// Dial connects to addr and starts the writer loop.
func Dial(ctx context.Context, addr Address, opts SendingOptions) (*SendingSocket, error) {
	d := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewSendingSocket(conn, opts), nil
}

// NewSendingSocket wraps an established connection.
func NewSendingSocket(conn net.Conn, opts SendingOptions) *SendingSocket {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &SendingSocket{
		conn:  conn,
		opts:  opts,
		queue: make(chan wire.Frame, opts.QueueSize),
		done:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.runLoop()
	return s
}

// Send queues f for delivery. A nil error means the frame was accepted,
// not that it reached the peer.
func (s *SendingSocket) Send(f wire.Frame) error {
	if err := f.Validate(); err != nil {
		s.failed.Add(1)
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return ErrClosed
	}
	select {
	case s.queue <- f:
		s.queued.Add(1)
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

// SendJSON marshals v and queues it as a JSON frame.
func (s *SendingSocket) SendJSON(v any) error {
	f, err := wire.JSON(v)
	if err != nil {
		return err
	}
	return s.Send(f)
}

// RemoteAddr returns the peer address.
func (s *SendingSocket) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Stats returns a snapshot of the socket counters.
func (s *SendingSocket) Stats() SendStats {
	return SendStats{
		Queued:  s.queued.Load(),
		Written: s.written.Load(),
		Dropped: s.dropped.Load(),
		Failed:  s.failed.Load(),
	}
}

func (s *SendingSocket) runLoop() {
	defer s.wg.Done()

	var buf []byte
	write := func(f wire.Frame) {
		var err error
		buf, err = f.Encode(buf[:0])
		if err == nil {
			if s.opts.WriteTimeout > 0 {
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			}
			_, err = s.conn.Write(buf)
		}
		if err != nil {
			s.failed.Add(1)
			s.opts.Logger.Error("socket write failed", "remote", s.conn.RemoteAddr().String(), "error", err)
			return
		}
		s.written.Add(1)
	}

	for {
		select {
		case f := <-s.queue:
			write(f)
		case <-s.done:
			// Flush remaining
			for {
				select {
				case f := <-s.queue:
					write(f)
				default:
					return
				}
			}
		}
	}
}

// Close flushes queued frames and closes the connection. Calling Close
// more than once is a no-op.
func (s *SendingSocket) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		s.mu.Unlock()

		close(s.done)
		s.wg.Wait()
		err = s.conn.Close()
	})
	return err
}
