package socket

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leonorpan/iot-fe/internal/infrastructure/clock"
	"github.com/leonorpan/iot-fe/internal/sensor"
)

// waitTimeout bounds every wait in this package's tests.
const waitTimeout = 2 * time.Second

var errConnClosed = errors.New("use of closed network connection")

type frame struct {
	data []byte
	err  error
}

type controlFrame struct {
	messageType int
	data        []byte
}

// fakeConn is an in-memory transport. Frames pushed with deliver are returned
// by ReadMessage in order.
type fakeConn struct {
	inbound chan frame
	closeCh chan struct{}
	once    sync.Once

	mu       sync.Mutex
	writes   [][]byte
	controls []controlFrame
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan frame, 16),
		closeCh: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.inbound:
		if f.err != nil {
			return 0, nil, f.err
		}
		return websocket.TextMessage, f.data, nil
	case <-c.closeCh:
		return 0, nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, controlFrame{messageType: messageType, data: data})
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (c *fakeConn) SetReadLimit(int64)                        {}
func (c *fakeConn) SetPongHandler(func(appData string) error) {}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closeCh) })
	return nil
}

func (c *fakeConn) deliver(data string) {
	c.inbound <- frame{data: []byte(data)}
}

// serverClose simulates a close frame from the server.
func (c *fakeConn) serverClose(code int, text string) {
	c.inbound <- frame{err: &websocket.CloseError{Code: code, Text: text}}
}

func (c *fakeConn) fail(err error) {
	c.inbound <- frame{err: err}
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

func (c *fakeConn) closeFrames() []controlFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []controlFrame
	for _, f := range c.controls {
		if f.messageType == websocket.CloseMessage {
			out = append(out, f)
		}
	}
	return out
}

// fakeDialer hands out fakeConns. Queued errors fail the next dials in order.
// When gate is set, Dial blocks until it is closed. With ignoreCtx the gate
// wait does not end on cancellation, like a dial stuck in the handshake.
type fakeDialer struct {
	conns     chan *fakeConn
	gate      chan struct{}
	ignoreCtx bool

	mu        sync.Mutex
	failures  []error
	endpoints []string
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	d.mu.Lock()
	d.endpoints = append(d.endpoints, endpoint)
	var err error
	if len(d.failures) > 0 {
		err, d.failures = d.failures[0], d.failures[1:]
	}
	gate, ignoreCtx := d.gate, d.ignoreCtx
	d.mu.Unlock()

	if gate != nil && ignoreCtx {
		<-gate
	} else if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	c := newFakeConn()
	d.conns <- c
	return c, nil
}

// hold makes the following dials block until release is called.
func (d *fakeDialer) hold() (release func()) {
	gate := make(chan struct{})
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()
	return func() { close(gate) }
}

func (d *fakeDialer) failNext(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, err)
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.endpoints)
}

func (d *fakeDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.endpoints...)
}

// countingClock records how many timers were armed.
type countingClock struct {
	*clock.Fake
	armed atomic.Int32
}

func (c *countingClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.armed.Add(1)
	return c.Fake.AfterFunc(d, f)
}

type closeCall struct {
	code   int
	reason string
}

// recorder captures callbacks. Every callback also pushes its name to events
// so tests can wait for it.
type recorder struct {
	events chan string

	mu       sync.Mutex
	opens    int
	closes   []closeCall
	errs     []error
	messages []sensor.Record
	phases   []Phase
}

func newRecorder() *recorder {
	return &recorder{events: make(chan string, 256)}
}

func (r *recorder) callbacks() Callbacks[sensor.Record] {
	return Callbacks[sensor.Record]{
		OnMessage: func(rec sensor.Record) {
			r.mu.Lock()
			r.messages = append(r.messages, rec)
			r.mu.Unlock()
			r.events <- "message"
		},
		OnOpen: func() {
			r.mu.Lock()
			r.opens++
			r.mu.Unlock()
			r.events <- "open"
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
			r.events <- "error"
		},
		OnClose: func(code int, reason string) {
			r.mu.Lock()
			r.closes = append(r.closes, closeCall{code: code, reason: reason})
			r.mu.Unlock()
			r.events <- "close"
		},
		OnPhase: func(p Phase) {
			r.mu.Lock()
			r.phases = append(r.phases, p)
			r.mu.Unlock()
		},
	}
}

// expect waits for the next callback and fails unless it is want.
func (r *recorder) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.events:
		if got != want {
			t.Fatalf("next callback = %q, want %q", got, want)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %q callback", want)
	}
}

func (r *recorder) phaseLog() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Phase(nil), r.phases...)
}

func (r *recorder) snapshot() (opens int, closes []closeCall, errs []error, messages []sensor.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens,
		append([]closeCall(nil), r.closes...),
		append([]error(nil), r.errs...),
		append([]sensor.Record(nil), r.messages...)
}

// harness wires a Manager to fakes.
type harness struct {
	mgr    *Manager[sensor.Record]
	dialer *fakeDialer
	clock  *countingClock
	rec    *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		dialer: newFakeDialer(),
		clock:  &countingClock{Fake: clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))},
		rec:    newRecorder(),
	}
	h.mgr = NewManager[sensor.Record](Config{
		ReconnectDelay: 3 * time.Second,
		Dialer:         h.dialer,
		Clock:          h.clock,
	})
	t.Cleanup(func() { h.mgr.Stop() })
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.mgr.Start(context.Background(), "ws://sensors.test", h.rec.callbacks()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

// nextConn waits for the next transport handed out by the dialer.
func (h *harness) nextConn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-h.dialer.conns:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

// open starts the manager and waits for the first transport to open.
func (h *harness) open(t *testing.T) *fakeConn {
	t.Helper()
	h.start(t)
	c := h.nextConn(t)
	h.rec.expect(t, "open")
	return c
}

// waitFor polls cond until it holds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
