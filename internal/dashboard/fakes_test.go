package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leonorpan/iot-fe/internal/history"
	"github.com/leonorpan/iot-fe/internal/infrastructure/mqtt"
	"github.com/leonorpan/iot-fe/internal/sensor"
	"github.com/leonorpan/iot-fe/internal/socket"
)

const waitTimeout = 3 * time.Second

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// sensorServer is a WebSocket sensor server that pushes readings and
// records commands.
type sensorServer struct {
	*httptest.Server

	mu       sync.Mutex
	conns    []*websocket.Conn
	commands []socket.Command
}

func newSensorServer(t *testing.T) *sensorServer {
	t.Helper()
	s := &sensorServer{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd socket.Command
			if json.Unmarshal(data, &cmd) == nil {
				s.mu.Lock()
				s.commands = append(s.commands, cmd)
				s.mu.Unlock()
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *sensorServer) endpoint() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *sensorServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// push writes a raw frame on the newest connection.
func (s *sensorServer) push(t *testing.T, frame string) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		t.Fatal("no client connected")
	}
	if err := s.conns[len(s.conns)-1].WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("push: %v", err)
	}
}

// drop closes every connection without a close frame.
func (s *sensorServer) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
}

func (s *sensorServer) received() []socket.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]socket.Command(nil), s.commands...)
}

type published struct {
	topic   string
	payload []byte
}

type fakeMirror struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (m *fakeMirror) PublishJSON(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, published{topic: topic, payload: data})
	return m.err
}

func (m *fakeMirror) onTopic(topic string) []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []published
	for _, p := range m.msgs {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

type fakeCommands struct {
	mu      sync.Mutex
	topic   string
	handler mqtt.MessageHandler
}

func (c *fakeCommands) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topic = topic
	c.handler = handler
	return nil
}

func (c *fakeCommands) deliver(topic, payload string) error {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	return h(topic, []byte(payload))
}

type phasePoint struct {
	phase   string
	attempt int
}

type fakeTelemetry struct {
	mu       sync.Mutex
	readings []sensor.Record
	phases   []phasePoint
}

func (f *fakeTelemetry) WriteSensorReading(rec sensor.Record, _ time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings = append(f.readings, rec)
	return true
}

func (f *fakeTelemetry) WriteSocketPhase(_ string, phase string, attempt int, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phases = append(f.phases, phasePoint{phase: phase, attempt: attempt})
}

func (f *fakeTelemetry) readingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.readings)
}

func (f *fakeTelemetry) sawPhase(phase string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.phases {
		if p.phase == phase {
			return true
		}
	}
	return false
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []sensor.Record
}

func (j *fakeJournal) Append(_ context.Context, rec sensor.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, rec)
	return nil
}

func (j *fakeJournal) Recent(_ context.Context, id string, _ int) ([]history.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []history.Entry
	for i := len(j.entries) - 1; i >= 0; i-- {
		if j.entries[i].ID == id {
			out = append(out, history.Entry{ID: int64(i + 1), Record: j.entries[i]})
		}
	}
	return out, nil
}

func (j *fakeJournal) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	views []View
}

func (b *fakeBroadcaster) Broadcast(channel string, payload any) {
	if channel != ChannelView {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.views = append(b.views, payload.(View))
}

func (b *fakeBroadcaster) last() (View, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.views) == 0 {
		return View{}, false
	}
	return b.views[len(b.views)-1], true
}

type fakeMetrics struct {
	noopMetrics
	mu        sync.Mutex
	applied   int
	unchanged int
	total     int
	connected int
	mirrorErr int
}

func (m *fakeMetrics) UpsertApplied(changed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if changed {
		m.applied++
	} else {
		m.unchanged++
	}
}

func (m *fakeMetrics) ObserveStore(total, connected int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total, m.connected = total, connected
}

func (m *fakeMetrics) MirrorFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mirrorErr++
}

type metricCounts struct {
	applied, unchanged, total, connected, mirrorErr int
}

func (m *fakeMetrics) snapshot() metricCounts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return metricCounts{
		applied:   m.applied,
		unchanged: m.unchanged,
		total:     m.total,
		connected: m.connected,
		mirrorErr: m.mirrorErr,
	}
}

// harness is a started Service with every sink faked.
type harness struct {
	svc         *Service
	server      *sensorServer
	mirror      *fakeMirror
	commands    *fakeCommands
	telemetry   *fakeTelemetry
	journal     *fakeJournal
	broadcaster *fakeBroadcaster
	metrics     *fakeMetrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		server:      newSensorServer(t),
		mirror:      &fakeMirror{},
		commands:    &fakeCommands{},
		telemetry:   &fakeTelemetry{},
		journal:     &fakeJournal{},
		broadcaster: &fakeBroadcaster{},
		metrics:     &fakeMetrics{},
	}

	svc, err := New(Deps{
		Endpoint:    h.server.endpoint(),
		Manager:     socket.NewManager[sensor.Record](socket.Config{ReconnectDelay: 50 * time.Millisecond}),
		Mirror:      h.mirror,
		Commands:    h.commands,
		Telemetry:   h.telemetry,
		Journal:     h.journal,
		Broadcaster: h.broadcaster,
		Metrics:     h.metrics,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.svc = svc

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = svc.Stop() })

	waitFor(t, "feed to open", func() bool {
		return svc.State().Phase == socket.PhaseOpen && h.server.connCount() == 1
	})
	return h
}
