package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/leonorpan/iot-fe/internal/infrastructure/clock"
)

// Defaults applied by NewManager for zero Config values.
const (
	DefaultReconnectDelay   = 3 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

const (
	// eventBufferSize is the capacity of the event-loop queue.
	eventBufferSize = 64

	// closeWriteWait bounds the write of a close frame.
	closeWriteWait = time.Second

	reasonShutdown = "client shutting down"
	reasonReplaced = "replaced by new connection"
)

// Config holds configuration for a Manager.
type Config struct {
	// ReconnectDelay is the fixed wait between an abnormal close and the next
	// connect attempt. There is no cap on the number of attempts.
	ReconnectDelay time.Duration

	// HandshakeTimeout is used when Dialer is nil.
	HandshakeTimeout time.Duration

	// MaxMessageSize limits inbound frames. 0 means no limit.
	MaxMessageSize int64

	// PingInterval enables keepalive pings. 0 disables them.
	PingInterval time.Duration

	// PongTimeout is how long to wait for a pong before the read fails.
	// Only used when PingInterval is set.
	PongTimeout time.Duration

	// Dialer opens transports. If nil, a gorilla/websocket dialer is used.
	Dialer Dialer

	// Clock schedules reconnects. If nil, the real clock is used.
	Clock clock.Clock
}

// Callbacks is the set of handlers passed to Start. Only OnMessage is
// required. Handlers never run concurrently with each other. The initial
// connecting transition is reported from Start; everything else runs on the
// manager's event-loop goroutine.
type Callbacks[T any] struct {
	// OnMessage receives every successfully decoded inbound frame.
	OnMessage func(msg T)

	// OnOpen is called when a transport finishes its handshake.
	OnOpen func()

	// OnError is called for transport faults. It does not imply closure.
	OnError func(err error)

	// OnClose is called exactly once per closed transport.
	OnClose func(code int, reason string)

	// OnPhase is called on every phase transition.
	OnPhase func(phase Phase)
}

// Logger defines the logging interface for the manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Metrics receives counters from the manager.
type Metrics interface {
	PhaseChanged(phase Phase)
	Reconnecting()
	FrameReceived()
	FrameDropped()
	CommandSent()
	CommandDropped()
}

type noopMetrics struct{}

func (noopMetrics) PhaseChanged(Phase) {}
func (noopMetrics) Reconnecting()      {}
func (noopMetrics) FrameReceived()     {}
func (noopMetrics) FrameDropped()      {}
func (noopMetrics) CommandSent()       {}
func (noopMetrics) CommandDropped()    {}

// validator is implemented by message types that can reject decoded frames.
type validator interface {
	Validate() error
}

type eventKind int

const (
	evOpened eventKind = iota
	evDialFailed
	evMessage
	evReadFailed
	evError
	evReconnect
	evRestart
)

// event is one unit of work for the event loop. Transport events carry the
// generation they belong to; events from a replaced transport are ignored.
type event[T any] struct {
	kind      eventKind
	gen       uint64
	conn      Conn
	data      []byte
	err       error
	endpoint  string
	callbacks Callbacks[T]

	// ack is closed once a restart has begun dialing.
	ack chan struct{}
}

// run is the state of one Start..Stop cycle.
type run[T any] struct {
	ctx      context.Context
	cancel   context.CancelFunc
	events   chan event[T]
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// post queues ev for the loop. Returns false if the loop has exited.
func (r *run[T]) post(ev event[T]) bool {
	select {
	case <-r.done:
		return false
	default:
	}

	select {
	case r.events <- ev:
		return true
	case <-r.done:
		return false
	}
}

// Manager maintains one reconnecting transport to an endpoint and decodes its
// frames into values of type T.
//
// Thread Safety:
//   - Start, Stop, Send and the State accessors are safe for concurrent use.
//   - Callbacks never run concurrently with each other.
type Manager[T any] struct {
	cfg     Config
	dialer  Dialer
	clock   clock.Clock
	backoff backoff.BackOff
	logger  Logger
	metrics Metrics

	mu       sync.RWMutex
	run      *run[T]
	phase    Phase
	attempt  int
	endpoint string
	conn     Conn
	connGen  uint64

	// writeMu serialises data frames written by Send.
	writeMu sync.Mutex

	// Owned by the event loop.
	callbacks Callbacks[T]
	gen       uint64
	timer     clock.Timer
	timerSeq  uint64
}

// NewManager creates a manager with the given configuration. The manager is
// closed until Start is called.
func NewManager[T any](cfg Config) *Manager[T] {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = NewWebsocketDialer(cfg.HandshakeTimeout)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	return &Manager[T]{
		cfg:     cfg,
		dialer:  cfg.Dialer,
		clock:   cfg.Clock,
		backoff: backoff.NewConstantBackOff(cfg.ReconnectDelay),
		logger:  noopLogger{},
		metrics: noopMetrics{},
		phase:   PhaseClosed,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager[T]) SetLogger(logger Logger) {
	m.logger = logger
}

// SetMetrics sets the metrics sink for the manager.
func (m *Manager[T]) SetMetrics(metrics Metrics) {
	m.metrics = metrics
}

// Start begins connecting to endpoint. When Start returns the phase is
// connecting.
//
// If the manager is already running, the current transport is closed with
// code 1000 and replaced by a new one to endpoint using cb; Start returns once
// the replacement dial has begun. The manager stops when ctx is cancelled or
// Stop is called.
func (m *Manager[T]) Start(ctx context.Context, endpoint string, cb Callbacks[T]) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return ErrInvalidEndpoint
	}
	if cb.OnMessage == nil {
		return ErrNoMessageHandler
	}

	for {
		m.mu.Lock()
		r := m.run
		if r == nil {
			runCtx, cancel := context.WithCancel(ctx)
			r = &run[T]{
				ctx:    runCtx,
				cancel: cancel,
				events: make(chan event[T], eventBufferSize),
				stop:   make(chan struct{}),
				done:   make(chan struct{}),
			}
			m.run = r
			m.endpoint = endpoint
			m.mu.Unlock()

			m.callbacks = cb
			m.backoff.Reset()
			m.connect(r)
			go m.loop(r)
			return nil
		}
		m.mu.Unlock()

		ack := make(chan struct{})
		select {
		case r.events <- event[T]{kind: evRestart, endpoint: endpoint, callbacks: cb, ack: ack}:
			select {
			case <-ack:
				return nil
			case <-r.done:
				select {
				case <-ack:
					return nil
				default:
				}
				// The run ended before the restart was handled; start afresh.
			}
		case <-r.stop:
			<-r.done
		case <-r.done:
		}
	}
}

// Stop closes the active transport with code 1000, cancels any pending
// reconnect and waits for the event loop to exit. No callbacks run after Stop
// returns. Safe to call multiple times.
func (m *Manager[T]) Stop() error {
	m.mu.RLock()
	r := m.run
	m.mu.RUnlock()
	if r == nil {
		return nil
	}

	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
	return nil
}

// Send writes cmd to the transport if the phase is open. Otherwise the
// command is dropped with a warning and nil is returned.
func (m *Manager[T]) Send(cmd Command) error {
	_, err := m.TrySend(cmd)
	return err
}

// TrySend is Send that also reports whether cmd reached the transport. A
// command dropped because the phase is not open yields false and a nil error.
func (m *Manager[T]) TrySend(cmd Command) (sent bool, err error) {
	m.mu.RLock()
	phase, conn, gen, r := m.phase, m.conn, m.connGen, m.run
	m.mu.RUnlock()

	if phase != PhaseOpen || conn == nil {
		m.metrics.CommandDropped()
		m.logger.Warn("dropping command, socket not open",
			"command", cmd.Command,
			"sensor_id", cmd.ID,
			"phase", phase,
		)
		return false, nil
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return false, fmt.Errorf("encoding command: %w", err)
	}

	m.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	m.writeMu.Unlock()

	if err != nil {
		m.metrics.CommandDropped()
		if r != nil {
			// Send may run on the loop goroutine, so the post must not block it.
			go r.post(event[T]{kind: evError, gen: gen, err: fmt.Errorf("send: %w", err)})
		}
		return false, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	m.metrics.CommandSent()
	m.logger.Debug("command sent", "command", cmd.Command, "sensor_id", cmd.ID)
	return true, nil
}

// State returns the current phase, attempt counter and endpoint.
func (m *Manager[T]) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return State{Phase: m.phase, Attempt: m.attempt, Endpoint: m.endpoint}
}

// Phase returns the current phase.
func (m *Manager[T]) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// Attempt returns the number of reconnects scheduled by the timer.
func (m *Manager[T]) Attempt() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempt
}

func (m *Manager[T]) loop(r *run[T]) {
	defer func() {
		r.cancel()
		m.mu.Lock()
		if m.run == r {
			m.run = nil
		}
		m.mu.Unlock()
		close(r.done)
		drain(r)
	}()

	for {
		select {
		case <-r.stop:
			m.shutdown(r)
			return
		case <-r.ctx.Done():
			m.shutdown(r)
			return
		case ev := <-r.events:
			m.handle(r, ev)
		}
	}
}

// drain closes transports that were dialed after the loop stopped reading.
func drain[T any](r *run[T]) {
	for {
		select {
		case ev := <-r.events:
			if ev.kind == evOpened && ev.conn != nil {
				ev.conn.Close()
			}
		default:
			return
		}
	}
}

func (m *Manager[T]) handle(r *run[T], ev event[T]) {
	switch ev.kind {
	case evRestart:
		m.restart(r, ev)

	case evReconnect:
		if ev.gen != m.timerSeq || m.timer == nil {
			return
		}
		m.timer = nil
		m.mu.Lock()
		m.attempt++
		m.mu.Unlock()
		m.metrics.Reconnecting()
		m.connect(r)

	case evOpened:
		if ev.gen != m.gen {
			ev.conn.Close()
			return
		}
		m.opened(r, ev.gen, ev.conn)

	case evDialFailed:
		if ev.gen != m.gen {
			return
		}
		m.reportError(ev.err)
		m.closed(r, CloseAbnormal, ev.err.Error())

	case evMessage:
		if ev.gen != m.gen {
			return
		}
		m.deliver(ev.data)

	case evReadFailed:
		if ev.gen != m.gen {
			return
		}
		code, reason := CloseAbnormal, ev.err.Error()
		var ce *websocket.CloseError
		if errors.As(ev.err, &ce) {
			code, reason = ce.Code, ce.Text
		} else {
			m.reportError(ev.err)
		}
		m.releaseTransport()
		m.closed(r, code, reason)

	case evError:
		if ev.gen != m.gen {
			return
		}
		m.reportError(ev.err)
	}
}

// connect starts a new dial. Any previous transport must already be released.
func (m *Manager[T]) connect(r *run[T]) {
	m.gen++
	gen := m.gen

	m.mu.RLock()
	endpoint, attempt := m.endpoint, m.attempt
	m.mu.RUnlock()

	m.setPhase(PhaseConnecting)
	m.logger.Info("connecting to socket", "endpoint", endpoint, "attempt", attempt)

	go func() {
		conn, err := m.dialer.Dial(r.ctx, endpoint)
		if err != nil {
			r.post(event[T]{kind: evDialFailed, gen: gen, err: err})
			return
		}
		if r.ctx.Err() != nil || !r.post(event[T]{kind: evOpened, gen: gen, conn: conn}) {
			conn.Close()
			return
		}
		// The loop may have exited after the post without draining it.
		select {
		case <-r.done:
			conn.Close()
		default:
		}
	}()
}

func (m *Manager[T]) opened(r *run[T], gen uint64, conn Conn) {
	if m.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(m.cfg.MaxMessageSize)
	}
	if m.cfg.PingInterval > 0 && m.cfg.PongTimeout > 0 {
		timeout := m.cfg.PongTimeout
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(timeout))
		})
	}

	m.mu.Lock()
	m.conn = conn
	m.connGen = gen
	m.mu.Unlock()

	m.backoff.Reset()
	m.setPhase(PhaseOpen)
	m.logger.Info("socket open", "endpoint", m.State().Endpoint)

	if m.callbacks.OnOpen != nil {
		m.callbacks.OnOpen()
	}

	go m.read(r, gen, conn)
}

// read pumps inbound frames into the loop until the transport fails.
func (m *Manager[T]) read(r *run[T], gen uint64, conn Conn) {
	if m.cfg.PingInterval > 0 {
		stopPing := make(chan struct{})
		defer close(stopPing)
		go m.ping(conn, stopPing)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			r.post(event[T]{kind: evReadFailed, gen: gen, err: err})
			return
		}
		if !r.post(event[T]{kind: evMessage, gen: gen, data: data}) {
			return
		}
	}
}

func (m *Manager[T]) ping(conn Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(closeWriteWait)); err != nil {
				m.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// deliver decodes one frame and hands it to OnMessage. Bad frames are
// dropped.
func (m *Manager[T]) deliver(data []byte) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		m.metrics.FrameDropped()
		m.logger.Warn("dropping undecodable frame", "error", err, "size", len(data))
		return
	}
	if v, ok := any(msg).(validator); ok {
		if err := v.Validate(); err != nil {
			m.metrics.FrameDropped()
			m.logger.Warn("dropping invalid frame", "error", err)
			return
		}
	}

	m.metrics.FrameReceived()
	m.callbacks.OnMessage(msg)
}

// closed moves to the closed phase, reports the close and arms the reconnect
// timer when the code is not intentional.
func (m *Manager[T]) closed(r *run[T], code int, reason string) {
	m.setPhase(PhaseClosed)
	if m.callbacks.OnClose != nil {
		m.callbacks.OnClose(code, reason)
	}

	if Intentional(code) {
		m.logger.Info("socket closed", "code", code, "reason", reason)
		return
	}

	m.cancelTimer()
	delay := m.backoff.NextBackOff()
	m.timerSeq++
	seq := m.timerSeq
	m.timer = m.clock.AfterFunc(delay, func() {
		r.post(event[T]{kind: evReconnect, gen: seq})
	})

	m.logger.Warn("socket closed abnormally, reconnecting",
		"code", code,
		"reason", reason,
		"delay", delay,
	)
}

// restart replaces the current transport with a new one.
func (m *Manager[T]) restart(r *run[T], ev event[T]) {
	m.cancelTimer()
	m.gen++
	m.closeTransport(CloseNormal, reasonReplaced)

	m.callbacks = ev.callbacks
	m.mu.Lock()
	m.endpoint = ev.endpoint
	m.mu.Unlock()

	m.backoff.Reset()
	m.connect(r)
	if ev.ack != nil {
		close(ev.ack)
	}
}

func (m *Manager[T]) shutdown(r *run[T]) {
	m.cancelTimer()
	r.cancel()
	m.gen++
	m.closeTransport(CloseNormal, reasonShutdown)
	m.setPhase(PhaseClosed)
	m.logger.Info("socket stopped")
}

// closeTransport closes the owned transport with the given code. Phase goes
// through closing to closed and OnClose fires once. No-op without a
// transport.
func (m *Manager[T]) closeTransport(code int, reason string) {
	conn := m.releaseConn()
	if conn == nil {
		return
	}

	m.setPhase(PhaseClosing)
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait)); err != nil {
		m.logger.Debug("writing close frame failed", "error", err)
	}
	conn.Close()

	m.setPhase(PhaseClosed)
	if m.callbacks.OnClose != nil {
		m.callbacks.OnClose(code, reason)
	}
}

// releaseTransport drops a transport that has already failed.
func (m *Manager[T]) releaseTransport() {
	if conn := m.releaseConn(); conn != nil {
		conn.Close()
	}
}

func (m *Manager[T]) releaseConn() Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn := m.conn
	m.conn = nil
	return conn
}

func (m *Manager[T]) cancelTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager[T]) reportError(err error) {
	m.logger.Warn("socket error", "error", err)
	if m.callbacks.OnError != nil {
		m.callbacks.OnError(err)
	}
}

func (m *Manager[T]) setPhase(p Phase) {
	m.mu.Lock()
	if m.phase == p {
		m.mu.Unlock()
		return
	}
	m.phase = p
	m.mu.Unlock()

	m.metrics.PhaseChanged(p)
	if m.callbacks.OnPhase != nil {
		m.callbacks.OnPhase(p)
	}
}
