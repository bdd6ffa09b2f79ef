package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leonorpan/iot-fe/internal/dashboard"
	"github.com/leonorpan/iot-fe/internal/history"
	"github.com/leonorpan/iot-fe/internal/infrastructure/config"
	"github.com/leonorpan/iot-fe/internal/infrastructure/logging"
	"github.com/leonorpan/iot-fe/internal/metrics"
	"github.com/leonorpan/iot-fe/internal/sensor"
	"github.com/leonorpan/iot-fe/internal/socket"
)

// fakeDashboard is an in-memory Dashboard backed by a real sensor.Store.
type fakeDashboard struct {
	store *sensor.Store

	mu        sync.Mutex
	phase     socket.Phase
	sent      []socket.Command
	sendErr   error
	history   map[string][]history.Entry
	noHistory bool
}

func newFakeDashboard() *fakeDashboard {
	return &fakeDashboard{
		store:   sensor.NewStore(),
		phase:   socket.PhaseOpen,
		history: make(map[string][]history.Entry),
	}
}

func (d *fakeDashboard) View() dashboard.View {
	d.mu.Lock()
	phase := d.phase
	d.mu.Unlock()
	snap := d.store.Snapshot()
	return dashboard.View{
		Phase:             phase,
		StatusMessage:     phase.Message(),
		Endpoint:          "ws://localhost:5000",
		ConnectedCount:    snap.ConnectedCount,
		Total:             snap.Total,
		ShowConnectedOnly: snap.ConnectedOnly,
		Sensors:           snap.Records,
	}
}

func (d *fakeDashboard) Sensors() []sensor.Record { return d.store.VisibleRecords() }

func (d *fakeDashboard) Sensor(id string) (sensor.Record, error) {
	rec, ok := d.store.Get(id)
	if !ok {
		return sensor.Record{}, fmt.Errorf("%w: %s", dashboard.ErrSensorNotFound, id)
	}
	return rec, nil
}

func (d *fakeDashboard) SetFilter(connectedOnly bool) { d.store.SetFilter(connectedOnly) }

func (d *fakeDashboard) Toggle(id string) (dashboard.Dispatch, error) {
	rec, err := d.Sensor(id)
	if err != nil {
		return dashboard.Dispatch{}, err
	}
	cmd := socket.Connect(id)
	if rec.Connected {
		cmd = socket.Disconnect(id)
	}
	return d.SendCommand(cmd)
}

// SendCommand records cmd unless the fake feed is not open, in which case
// the command is dropped like the real manager does.
func (d *fakeDashboard) SendCommand(cmd socket.Command) (dashboard.Dispatch, error) {
	if err := cmd.Validate(); err != nil {
		return dashboard.Dispatch{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendErr != nil {
		return dashboard.Dispatch{}, d.sendErr
	}
	if d.phase != socket.PhaseOpen {
		return dashboard.Dispatch{Command: cmd}, nil
	}
	d.sent = append(d.sent, cmd)
	return dashboard.Dispatch{Command: cmd, Sent: true}, nil
}

func (d *fakeDashboard) History(_ context.Context, id string, limit int) ([]history.Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.noHistory {
		return nil, dashboard.ErrHistoryDisabled
	}
	entries := d.history[id]
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (d *fakeDashboard) commands() []socket.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]socket.Command(nil), d.sent...)
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// testServer creates a Server around a fake dashboard seeded with two sensors.
func testServer(t *testing.T) (*Server, *fakeDashboard) {
	t.Helper()

	dash := newFakeDashboard()
	dash.store.Upsert(sensor.Record{ID: "s1", Name: "Kitchen", Connected: true, Value: sensor.StringPtr("23.5"), Unit: sensor.StringPtr("°C")})
	dash.store.Upsert(sensor.Record{ID: "s2", Name: "Door", Connected: false})

	collector := metrics.New()
	collector.ObserveStore(2, 1)

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Metrics:        config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Logger:         testLogger(),
		Dashboard:      dash,
		MetricsHandler: collector.Handler(),
		Version:        "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)

	return srv, dash
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

// ─── Construction Tests ────────────────────────────────────────────

func TestNew_RequiredDeps(t *testing.T) {
	tests := []struct {
		name string
		deps Deps
	}{
		{name: "missing logger", deps: Deps{Dashboard: newFakeDashboard()}},
		{name: "missing dashboard", deps: Deps{Logger: testLogger()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() expected error, got nil")
			}
		})
	}
}

func TestNew_ExternalHub(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())
	srv, err := New(Deps{Logger: testLogger(), Dashboard: newFakeDashboard(), ExternalHub: hub})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if srv.Hub() != hub {
		t.Error("Hub() did not return the injected hub")
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decode[map[string]any](t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

func TestHealth_ContentType(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/health", "")
	requestID := w.Header().Get("X-Request-ID")
	if len(requestID) != 36 {
		t.Errorf("X-Request-ID = %q, want a UUID", requestID)
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	srv, _ := testServer(t)
	srv.cfg.CORS.AllowedOrigins = []string{"http://dashboard.local"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty", got)
	}
}

func TestRecovery(t *testing.T) {
	srv, _ := testServer(t)

	handler := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestBodySizeLimit(t *testing.T) {
	srv, dash := testServer(t)

	body := `{"connected_only":true,"pad":"` + strings.Repeat("x", maxRequestBodySize) + `"}`
	w := do(t, srv, http.MethodPut, "/api/v1/filter", body)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if dash.store.ConnectedOnly() {
		t.Error("oversized body applied the filter")
	}
}

func TestStatusWriter_HijackUnsupported(t *testing.T) {
	sw := &statusWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}

	if _, _, err := sw.Hijack(); err == nil {
		t.Error("Hijack() on a recorder should fail")
	}
	if sw.hijacked {
		t.Error("hijacked set after failed Hijack")
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Status and Sensor Tests ───────────────────────────────────────

func TestStatus(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", w.Code)
	}

	view := decode[dashboard.View](t, w)
	if view.Phase != socket.PhaseOpen || view.StatusMessage != socket.MessageConnected {
		t.Errorf("phase = %q %q, want open", view.Phase, view.StatusMessage)
	}
	if view.Total != 2 || view.ConnectedCount != 1 {
		t.Errorf("counts = %d/%d, want 1/2", view.ConnectedCount, view.Total)
	}
	if len(view.Sensors) != 2 || view.Sensors[0].ID != "s1" {
		t.Errorf("sensors = %+v, want s1 then s2", view.Sensors)
	}
}

func TestListSensors(t *testing.T) {
	srv, dash := testServer(t)

	type listResponse struct {
		Sensors []sensor.Record `json:"sensors"`
		Count   int             `json:"count"`
	}

	resp := decode[listResponse](t, do(t, srv, http.MethodGet, "/api/v1/sensors", ""))
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Count)
	}

	dash.SetFilter(true)
	resp = decode[listResponse](t, do(t, srv, http.MethodGet, "/api/v1/sensors", ""))
	if resp.Count != 1 || resp.Sensors[0].ID != "s1" {
		t.Errorf("filtered = %+v, want only s1", resp.Sensors)
	}
}

func TestGetSensor(t *testing.T) {
	srv, _ := testServer(t)

	tests := []struct {
		name       string
		id         string
		wantStatus int
	}{
		{name: "connected", id: "s1", wantStatus: http.StatusOK},
		{name: "disconnected", id: "s2", wantStatus: http.StatusOK},
		{name: "unknown", id: "nope", wantStatus: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, http.MethodGet, "/api/v1/sensors/"+tt.id, "")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			rec := decode[sensor.Record](t, w)
			if rec.ID != tt.id {
				t.Errorf("id = %q, want %q", rec.ID, tt.id)
			}
		})
	}
}

func TestGetSensor_NullFields(t *testing.T) {
	srv, _ := testServer(t)

	body := do(t, srv, http.MethodGet, "/api/v1/sensors/s2", "").Body.String()
	if !strings.Contains(body, `"value":null`) || !strings.Contains(body, `"unit":null`) {
		t.Errorf("body = %s, want explicit nulls", body)
	}
}

// ─── Filter Tests ──────────────────────────────────────────────────

func TestSetFilter(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantOnly   bool
	}{
		{name: "enable", body: `{"connected_only":true}`, wantStatus: http.StatusOK, wantOnly: true},
		{name: "disable", body: `{"connected_only":false}`, wantStatus: http.StatusOK},
		{name: "missing field", body: `{}`, wantStatus: http.StatusBadRequest},
		{name: "invalid json", body: `{"connected_only":`, wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, dash := testServer(t)

			w := do(t, srv, http.MethodPut, "/api/v1/filter", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			view := decode[dashboard.View](t, w)
			if view.ShowConnectedOnly != tt.wantOnly || dash.store.ConnectedOnly() != tt.wantOnly {
				t.Errorf("ShowConnectedOnly = %v, want %v", view.ShowConnectedOnly, tt.wantOnly)
			}
		})
	}
}

// ─── Command Tests ─────────────────────────────────────────────────

func TestToggleSensor(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		wantStatus int
		wantCmd    socket.Command
	}{
		{name: "connected sends disconnect", id: "s1", wantStatus: http.StatusAccepted, wantCmd: socket.Disconnect("s1")},
		{name: "disconnected sends connect", id: "s2", wantStatus: http.StatusAccepted, wantCmd: socket.Connect("s2")},
		{name: "unknown", id: "nope", wantStatus: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, dash := testServer(t)

			w := do(t, srv, http.MethodPost, "/api/v1/sensors/"+tt.id+"/toggle", "")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusAccepted {
				if len(dash.commands()) != 0 {
					t.Error("command sent for failed toggle")
				}
				return
			}
			resp := decode[CommandResponse](t, w)
			if resp.Command != tt.wantCmd || resp.Status != CommandStatusSent {
				t.Errorf("response = %+v, want sent %+v", resp, tt.wantCmd)
			}
			if got := dash.commands(); len(got) != 1 || got[0] != tt.wantCmd {
				t.Errorf("sent = %+v, want [%+v]", got, tt.wantCmd)
			}
		})
	}
}

func TestCommands_DroppedWhileFeedDown(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    string
		wantCmd socket.Command
	}{
		{name: "toggle", path: "/api/v1/sensors/s1/toggle", wantCmd: socket.Disconnect("s1")},
		{name: "command", path: "/api/v1/commands", body: `{"command":"connect","id":"s2"}`, wantCmd: socket.Connect("s2")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, dash := testServer(t)
			dash.mu.Lock()
			dash.phase = socket.PhaseConnecting
			dash.mu.Unlock()

			w := do(t, srv, http.MethodPost, tt.path, tt.body)
			if w.Code != http.StatusAccepted {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
			}
			resp := decode[CommandResponse](t, w)
			if resp.Status != CommandStatusDropped || resp.Command != tt.wantCmd {
				t.Errorf("response = %+v, want dropped %+v", resp, tt.wantCmd)
			}
			if got := dash.commands(); len(got) != 0 {
				t.Errorf("sent = %+v, want none", got)
			}
		})
	}
}

func TestSendCommand(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		sendErr    error
		wantStatus int
	}{
		{name: "connect", body: `{"command":"connect","id":"sensor-123"}`, wantStatus: http.StatusAccepted},
		{name: "unknown sensor passes through", body: `{"command":"disconnect","id":"ghost"}`, wantStatus: http.StatusAccepted},
		{name: "unknown verb", body: `{"command":"reboot","id":"s1"}`, wantStatus: http.StatusUnprocessableEntity},
		{name: "missing id", body: `{"command":"connect"}`, wantStatus: http.StatusUnprocessableEntity},
		{name: "invalid json", body: `not json`, wantStatus: http.StatusBadRequest},
		{
			name:       "transport failure",
			body:       `{"command":"connect","id":"s1"}`,
			sendErr:    fmt.Errorf("%w: broken pipe", socket.ErrSendFailed),
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "unexpected failure",
			body:       `{"command":"connect","id":"s1"}`,
			sendErr:    errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, dash := testServer(t)
			dash.sendErr = tt.sendErr

			w := do(t, srv, http.MethodPost, "/api/v1/commands", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

// ─── History Tests ─────────────────────────────────────────────────

func TestSensorHistory(t *testing.T) {
	srv, dash := testServer(t)
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		dash.history["s1"] = append(dash.history["s1"], history.Entry{
			ID:         int64(3 - i),
			Record:     sensor.Record{ID: "s1", Name: "Kitchen", Connected: true},
			RecordedAt: now.Add(-time.Duration(i) * time.Minute),
		})
	}

	type historyResponse struct {
		SensorID string          `json:"sensor_id"`
		Entries  []history.Entry `json:"entries"`
		Count    int             `json:"count"`
	}

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantCount  int
	}{
		{name: "default limit", path: "/api/v1/sensors/s1/history", wantStatus: http.StatusOK, wantCount: 3},
		{name: "limited", path: "/api/v1/sensors/s1/history?limit=2", wantStatus: http.StatusOK, wantCount: 2},
		{name: "no entries", path: "/api/v1/sensors/s2/history", wantStatus: http.StatusOK, wantCount: 0},
		{name: "bad limit", path: "/api/v1/sensors/s1/history?limit=abc", wantStatus: http.StatusBadRequest},
		{name: "zero limit", path: "/api/v1/sensors/s1/history?limit=0", wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, http.MethodGet, tt.path, "")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			resp := decode[historyResponse](t, w)
			if resp.Count != tt.wantCount || len(resp.Entries) != tt.wantCount {
				t.Errorf("count = %d (%d entries), want %d", resp.Count, len(resp.Entries), tt.wantCount)
			}
			if resp.Entries == nil {
				t.Error("entries = null, want []")
			}
		})
	}
}

func TestSensorHistory_Disabled(t *testing.T) {
	srv, dash := testServer(t)
	dash.noHistory = true

	w := do(t, srv, http.MethodGet, "/api/v1/sensors/s1/history", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if resp := decode[Error](t, w); resp.Code != ErrCodeUnavailable {
		t.Errorf("code = %q, want %q", resp.Code, ErrCodeUnavailable)
	}
}

// ─── Metrics and System Tests ──────────────────────────────────────

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "sensorlink_store_sensors 2") {
		t.Errorf("metrics body missing store gauge:\n%s", w.Body.String())
	}
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	srv, _ := testServer(t)
	srv.metricsCfg.Enabled = false

	if w := do(t, srv, http.MethodGet, "/metrics", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestSystem(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/system", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	resp := decode[SystemMetrics](t, w)
	if resp.Version != "test" {
		t.Errorf("version = %q, want test", resp.Version)
	}
	if resp.Feed.Phase != socket.PhaseOpen {
		t.Errorf("feed phase = %q, want open", resp.Feed.Phase)
	}
	if resp.Sensors.Total != 2 || resp.Sensors.Connected != 1 {
		t.Errorf("sensors = %+v, want 2 total 1 connected", resp.Sensors)
	}
	if resp.Runtime.Goroutines == 0 {
		t.Error("goroutines = 0")
	}
}

// ─── Lifecycle Tests ───────────────────────────────────────────────

func TestServer_StartClose(t *testing.T) {
	srv, _ := testServer(t)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start expected error")
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() expected error")
	}

	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := srv.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() with cancelled context expected error")
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestServer_StartPortInUse(t *testing.T) {
	first, _ := testServer(t)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = first.Close() })

	second, _ := testServer(t)
	host, port, _ := strings.Cut(first.Addr(), ":")
	second.cfg.Host = host
	fmt.Sscanf(port, "%d", &second.cfg.Port) //nolint:errcheck // port comes from a bound listener

	if err := second.Start(context.Background()); err == nil {
		_ = second.Close()
		t.Error("Start() on a bound port expected error")
	}
}
