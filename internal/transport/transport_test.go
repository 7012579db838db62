package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/extrelay/internal/wire"
)

type frameLog struct {
	mu     sync.Mutex
	frames []wire.Frame
}

func (l *frameLog) handle(_ net.Addr, f wire.Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, f)
}

func (l *frameLog) snapshot() []wire.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]wire.Frame(nil), l.frames...)
}

func TestParseAddress(t *testing.T) {
	a, err := ParseAddress("localhost:9000")
	require.NoError(t, err)
	assert.Equal(t, Address{Host: "localhost", Port: 9000}, *a)
	assert.Equal(t, "localhost:9000", a.String())

	a, err = ParseAddress("")
	require.NoError(t, err)
	assert.Nil(t, a)

	a, err = ParseAddress(":7000")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", a.Host)

	_, err = ParseAddress("localhost")
	assert.Error(t, err)
	_, err = ParseAddress("localhost:0")
	assert.Error(t, err)
	_, err = ParseAddress("localhost:http")
	assert.Error(t, err)
}

func TestSendAndListen(t *testing.T) {
	ctx := context.Background()
	var got frameLog
	ln, err := Listen(ctx, "127.0.0.1", got.handle, ListenOptions{})
	require.NoError(t, err)
	defer ln.Close()
	require.NotZero(t, ln.Port())

	s, err := Dial(ctx, Address{Host: "127.0.0.1", Port: ln.Port()}, SendingOptions{})
	require.NoError(t, err)

	require.NoError(t, s.SendJSON("Browser-1"))
	require.NoError(t, s.SendJSON([]any{"clicks", map[string]int{"x": 1}}))
	require.NoError(t, s.Close())

	require.Eventually(t, func() bool { return len(got.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	frames := got.snapshot()
	assert.Equal(t, `"Browser-1"`, string(frames[0].Payload))
	assert.JSONEq(t, `["clicks",{"x":1}]`, string(frames[1].Payload))

	stats := s.Stats()
	assert.EqualValues(t, 2, stats.Queued)
	assert.EqualValues(t, 2, stats.Written)
}

func TestSendAfterClose(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	go func() {
		buf := make([]byte, 1024)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}()

	s := NewSendingSocket(client, SendingOptions{})
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.SendJSON("late"), ErrClosed)
	assert.NoError(t, s.Close())
}

func TestSendQueueFull(t *testing.T) {
	// net.Pipe is unbuffered: with no reader the writer loop blocks on
	// the first frame and the queue fills up.
	client, server := net.Pipe()
	s := NewSendingSocket(client, SendingOptions{QueueSize: 1})

	var errs []error
	for i := 0; i < 5; i++ {
		errs = append(errs, s.SendJSON(i))
	}
	assert.Contains(t, errs, ErrQueueFull)
	assert.Positive(t, s.Stats().Dropped)

	server.Close()
	s.Close()
}

func TestSendRejectsInvalidFrame(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	s := NewSendingSocket(client, SendingOptions{})
	defer s.Close()

	err := s.Send(wire.Frame{Kind: wire.KindBytes, Payload: make([]byte, wire.MaxPayload+1)})
	assert.ErrorIs(t, err, wire.ErrFrameTooLarge)
	assert.ErrorIs(t, s.Send(wire.Frame{Kind: 'x'}), wire.ErrUnknownKind)

	stats := s.Stats()
	assert.Zero(t, stats.Queued)
	assert.EqualValues(t, 2, stats.Failed)
}

func TestListeningSocketCloseIsIdempotent(t *testing.T) {
	ln, err := Listen(context.Background(), "127.0.0.1", func(net.Addr, wire.Frame) {}, ListenOptions{})
	require.NoError(t, err)
	require.NoError(t, ln.Close())
	require.NoError(t, ln.Close())
}

func TestDialFailure(t *testing.T) {
	// Grab a free port and release it so nothing is listening there.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	_, err = Dial(context.Background(), Address{Host: "127.0.0.1", Port: port}, SendingOptions{DialTimeout: time.Second})
	assert.Error(t, err)
}

func TestOnClose(t *testing.T) {
	closed := make(chan net.Addr, 1)
	ln, err := Listen(context.Background(), "127.0.0.1", func(net.Addr, wire.Frame) {}, ListenOptions{
		OnClose: func(remote net.Addr) { closed <- remote },
	})
	require.NoError(t, err)
	defer ln.Close()

	s, err := Dial(context.Background(), Address{Host: "127.0.0.1", Port: ln.Port()}, SendingOptions{})
	require.NoError(t, err)
	local := s.conn.LocalAddr().String()
	require.NoError(t, s.Close())

	select {
	case remote := <-closed:
		assert.Equal(t, local, remote.String())
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not called")
	}
}
