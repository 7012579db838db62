package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/coffersTech/extrelay/internal/wire"
)

// FrameHandler is invoked once per frame received on an accepted
// connection. Frames from one connection are delivered in order.
type FrameHandler func(remote net.Addr, f wire.Frame)

// ListenOptions tune a ListeningSocket.
type ListenOptions struct {
	Logger *slog.Logger
	// OnClose, if set, runs after a connection's last frame was handled.
	OnClose func(remote net.Addr)
}

// ListeningSocket accepts connections and hands their frames to a handler.
type ListeningSocket struct {
	ln      net.Listener
	handler FrameHandler
	opts    ListenOptions

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// Listen binds host on an ephemeral port and starts the accept loop.
func Listen(ctx context.Context, host string, handler FrameHandler, opts ListenOptions) (*ListeningSocket, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", host, err)
	}
	return Serve(ln, handler, opts), nil
}

// Serve starts the accept loop on an existing listener.
func Serve(ln net.Listener, handler FrameHandler, opts ListenOptions) *ListeningSocket {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	l := &ListeningSocket{
		ln:      ln,
		handler: handler,
		opts:    opts,
		conns:   make(map[net.Conn]struct{}),
	}
	l.wg.Add(1)
	go l.acceptLoop()
	return l
}

// Port returns the bound TCP port.
func (l *ListeningSocket) Port() int {
	if addr, ok := l.ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	_, p, _ := net.SplitHostPort(l.ln.Addr().String())
	port, _ := strconv.Atoi(p)
	return port
}

// Addr returns the bound address.
func (l *ListeningSocket) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *ListeningSocket) acceptLoop() {
	defer l.wg.Done()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.opts.Logger.Warn("accept failed", "error", err)
			continue
		}

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			conn.Close()
			return
		}
		l.conns[conn] = struct{}{}
		l.wg.Add(1)
		l.mu.Unlock()

		go l.serveConn(conn)
	}
}

func (l *ListeningSocket) serveConn(conn net.Conn) {
	defer l.wg.Done()
	defer func() {
		l.mu.Lock()
		delete(l.conns, conn)
		l.mu.Unlock()
		conn.Close()
		if l.opts.OnClose != nil {
			l.opts.OnClose(conn.RemoteAddr())
		}
	}()

	for {
		f, err := wire.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				l.opts.Logger.Warn("dropping connection", "remote", conn.RemoteAddr().String(), "error", err)
			}
			return
		}
		l.handler(conn.RemoteAddr(), f)
	}
}

// Close stops accepting, closes open connections and waits for their
// handlers to return.
func (l *ListeningSocket) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	err := l.ln.Close()
	for c := range l.conns {
		c.Close()
	}
	l.mu.Unlock()

	l.wg.Wait()
	return err
}
