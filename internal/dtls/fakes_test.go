package dtls

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const waitTimeout = 3 * time.Second

// fakeLink simulates an exclusively owned datagram handle; it never carries traffic.
type fakeLink struct {
	closed chan struct{}
	once   sync.Once
}

func newFakeLink() *fakeLink {
	return &fakeLink{closed: make(chan struct{})}
}

func (l *fakeLink) ReadFrom(p []byte) (int, net.Addr, error) {
	<-l.closed
	return 0, nil, net.ErrClosed
}

func (l *fakeLink) WriteTo(p []byte, _ net.Addr) (int, error) { return len(p), nil }

func (l *fakeLink) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *fakeLink) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

func (l *fakeLink) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}

func (l *fakeLink) RemoteAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(10, 0, 0, 5), Port: 5684}
}

func (l *fakeLink) SetDeadline(time.Time) error      { return nil }
func (l *fakeLink) SetReadDeadline(time.Time) error  { return nil }
func (l *fakeLink) SetWriteDeadline(time.Time) error { return nil }

type fakeTransport struct {
	open func(ctx context.Context, ep Endpoint) (Link, error)

	mu     sync.Mutex
	links  []*fakeLink
	opened int
}

func (t *fakeTransport) Open(ctx context.Context, ep Endpoint) (Link, error) {
	t.mu.Lock()
	t.opened++
	t.mu.Unlock()
	if t.open != nil {
		return t.open(ctx, ep)
	}
	l := newFakeLink()
	t.mu.Lock()
	t.links = append(t.links, l)
	t.mu.Unlock()
	return l, nil
}

func (t *fakeTransport) lastLink() *fakeLink {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.links) == 0 {
		return nil
	}
	return t.links[len(t.links)-1]
}

// fakeConn is an in-memory secure connection: every Write is one record, every Read returns one record.
type fakeConn struct {
	incoming  chan []byte
	readErrs  chan error
	written   chan []byte
	writeGate chan struct{}
	writeErr  error

	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan []byte, 8),
		readErrs: make(chan error, 8),
		written:  make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) Read(p []byte) (int, error) {
	select {
	case b := <-c.incoming:
		return copy(p, b), nil
	case err := <-c.readErrs:
		return 0, err
	case <-c.closed:
		return 0, net.ErrClosed
	}
}

func (c *fakeConn) Write(p []byte) (int, error) {
	if c.writeGate != nil {
		select {
		case <-c.writeGate:
		case <-c.closed:
			return 0, net.ErrClosed
		}
	}
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.written <- append([]byte(nil), p...)
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeEngine struct {
	conn  *fakeConn
	err   error
	block chan struct{}

	mu    sync.Mutex
	calls int
	creds Credentials
}

func (e *fakeEngine) Handshake(ctx context.Context, link Link, creds Credentials) (SecureConn, error) {
	e.mu.Lock()
	e.calls++
	e.creds = creds
	e.mu.Unlock()

	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	if e.conn == nil {
		return nil, nil
	}
	return e.conn, nil
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type stateEvent struct {
	state ConnectionState
	err   error
}

type stateRecorder struct {
	mu     sync.Mutex
	events []stateEvent
	ch     chan ConnectionState
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{ch: make(chan ConnectionState, 32)}
}

func (r *stateRecorder) handle(state ConnectionState, err error) {
	r.mu.Lock()
	r.events = append(r.events, stateEvent{state: state, err: err})
	r.mu.Unlock()
	r.ch <- state
}

func (r *stateRecorder) waitFor(t *testing.T, want ConnectionState) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case got := <-r.ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s, saw %v", want, r.states())
		}
	}
}

func (r *stateRecorder) states() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnectionState, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.state)
	}
	return out
}

func (r *stateRecorder) last() stateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return stateEvent{state: StateIdle}
	}
	return r.events[len(r.events)-1]
}

// requireValidPath checks that the observed sequence is a walk through the state machine from Idle.
func requireValidPath(t *testing.T, states []ConnectionState) {
	t.Helper()
	prev := StateIdle
	for _, s := range states {
		require.Truef(t, CanTransition(prev, s), "invalid transition %s -> %s in %v", prev, s, states)
		prev = s
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("session %s did not finish teardown", s.ID())
	}
}

// newReadySession returns a session that went through Waiting → Preparing → Ready over fakes.
func newReadySession(t *testing.T) (*Session, *fakeConn, *stateRecorder) {
	t.Helper()
	conn := newFakeConn()
	s := NewSession(SessionConfig{
		Transport: &fakeTransport{},
		Engine:    &fakeEngine{conn: conn},
	})
	require.NoError(t, s.Configure("dev1", "s3cret", AES128_SHA256))

	rec := newStateRecorder()
	require.NoError(t, s.Connect("10.0.0.5", "5684", rec.handle))
	rec.waitFor(t, StateReady)
	t.Cleanup(s.Close)
	return s, conn, rec
}
