package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/leonorpan/iot-fe/internal/history"
	"github.com/leonorpan/iot-fe/internal/infrastructure/clock"
	"github.com/leonorpan/iot-fe/internal/infrastructure/logging"
	"github.com/leonorpan/iot-fe/internal/infrastructure/mqtt"
	"github.com/leonorpan/iot-fe/internal/sensor"
	"github.com/leonorpan/iot-fe/internal/socket"
)

const (
	// fanoutBufferSize is the capacity of the sink queue.
	fanoutBufferSize = 256

	// journalTimeout bounds one history append.
	journalTimeout = 2 * time.Second

	// ChannelView is the broadcast channel carrying View snapshots.
	ChannelView = "view"
)

// Deps holds the collaborators of a Service. Store, Manager and Logger
// default when nil; every sink is optional.
type Deps struct {
	Endpoint string
	Store    *sensor.Store
	Manager  *socket.Manager[sensor.Record]
	Logger   *logging.Logger
	Clock    clock.Clock

	Mirror      StatePublisher
	Commands    CommandSource
	CommandQoS  byte
	Telemetry   TelemetryWriter
	Journal     Journal
	Broadcaster Broadcaster
	Metrics     Metrics
}

// View is everything a renderer needs, read at one point in time.
type View struct {
	Phase             socket.Phase    `json:"phase"`
	StatusMessage     string          `json:"status_message"`
	Attempt           int             `json:"attempt"`
	Endpoint          string          `json:"endpoint"`
	ConnectedCount    int             `json:"connected_count"`
	Total             int             `json:"total"`
	ShowConnectedOnly bool            `json:"show_connected_only"`
	Sensors           []sensor.Record `json:"sensors"`
}

// Service connects the sensor feed, the store and the sinks.
type Service struct {
	endpoint string
	store    *sensor.Store
	manager  *socket.Manager[sensor.Record]
	logger   *logging.Logger
	clock    clock.Clock

	mirror      StatePublisher
	commands    CommandSource
	commandQoS  byte
	telemetry   TelemetryWriter
	journal     Journal
	broadcaster Broadcaster
	metrics     Metrics

	topics mqtt.Topics

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	jobs        chan func(context.Context)
	fanoutDone  chan struct{}
	unsubscribe func()
}

// New creates a Service. Nothing connects until Start.
func New(deps Deps) (*Service, error) {
	endpoint := strings.TrimSpace(deps.Endpoint)
	if endpoint == "" {
		return nil, socket.ErrInvalidEndpoint
	}

	s := &Service{
		endpoint:    endpoint,
		store:       deps.Store,
		manager:     deps.Manager,
		logger:      deps.Logger,
		clock:       deps.Clock,
		mirror:      deps.Mirror,
		commands:    deps.Commands,
		commandQoS:  deps.CommandQoS,
		telemetry:   deps.Telemetry,
		journal:     deps.Journal,
		broadcaster: deps.Broadcaster,
		metrics:     deps.Metrics,
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.store == nil {
		s.store = sensor.NewStore()
		s.store.SetLogger(s.logger.Component("store"))
	}
	if s.manager == nil {
		s.manager = socket.NewManager[sensor.Record](socket.Config{Clock: s.clock})
		s.manager.SetLogger(s.logger.Component("socket"))
	}
	s.manager.SetMetrics(s.metrics)

	return s, nil
}

// Start subscribes the sinks to the store, listens for MQTT commands and
// begins connecting to the sensor server. The service stops when ctx is
// cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.ctx = runCtx
	s.cancel = cancel
	s.jobs = make(chan func(context.Context), fanoutBufferSize)
	s.fanoutDone = make(chan struct{})
	s.unsubscribe = s.store.Subscribe(s.onStoreEvent)
	jobs, done := s.jobs, s.fanoutDone
	s.mu.Unlock()

	go s.fanout(runCtx, jobs, done)

	if s.commands != nil {
		if err := s.commands.Subscribe(s.topics.AllSensorCommands(), s.commandQoS, s.handleMQTTCommand); err != nil {
			s.logger.Warn("subscribing to sensor commands failed", "error", err)
		}
	}

	err := s.manager.Start(runCtx, s.endpoint, socket.Callbacks[sensor.Record]{
		OnMessage: s.onMessage,
		OnOpen:    s.onOpen,
		OnError:   s.onError,
		OnClose:   s.onClose,
		OnPhase:   s.onPhase,
	})
	if err != nil {
		_ = s.Stop() //nolint:errcheck // returning the start error
		return fmt.Errorf("starting sensor feed: %w", err)
	}

	s.logger.Info("dashboard started", "endpoint", s.endpoint)
	return nil
}

// Stop closes the sensor feed, drains pending sink jobs and detaches from
// the store. Safe to call more than once.
func (s *Service) Stop() error {
	s.mu.Lock()
	cancel, unsubscribe, done := s.cancel, s.unsubscribe, s.fanoutDone
	s.cancel, s.unsubscribe = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}

	err := s.manager.Stop()
	unsubscribe()
	cancel()
	<-done

	s.logger.Info("dashboard stopped")
	return err
}

// Dispatch is the outcome of a command handed to the sensor feed.
type Dispatch struct {
	Command socket.Command

	// Sent is false when the feed was not open and the command was dropped.
	Sent bool
}

// Toggle sends disconnect for a connected sensor and connect otherwise.
func (s *Service) Toggle(id string) (Dispatch, error) {
	rec, ok := s.store.Get(id)
	if !ok {
		return Dispatch{}, fmt.Errorf("%w: %s", ErrSensorNotFound, id)
	}

	cmd := socket.Connect(id)
	if rec.Connected {
		cmd = socket.Disconnect(id)
	}
	return s.SendCommand(cmd)
}

// SendCommand validates cmd and forwards it to the sensor server. A command
// issued while the feed is not open is dropped with a warning; the returned
// Dispatch says so and the error is nil.
func (s *Service) SendCommand(cmd socket.Command) (Dispatch, error) {
	if err := cmd.Validate(); err != nil {
		return Dispatch{}, err
	}
	sent, err := s.manager.TrySend(cmd)
	if err != nil {
		return Dispatch{}, err
	}
	return Dispatch{Command: cmd, Sent: sent}, nil
}

// SetFilter toggles the connected-only view.
func (s *Service) SetFilter(connectedOnly bool) {
	s.store.SetFilter(connectedOnly)
}

// View returns the current connection status and visible sensors.
func (s *Service) View() View {
	state := s.manager.State()
	snap := s.store.Snapshot()
	endpoint := state.Endpoint
	if endpoint == "" {
		endpoint = s.endpoint
	}

	return View{
		Phase:             state.Phase,
		StatusMessage:     state.Phase.Message(),
		Attempt:           state.Attempt,
		Endpoint:          endpoint,
		ConnectedCount:    snap.ConnectedCount,
		Total:             snap.Total,
		ShowConnectedOnly: snap.ConnectedOnly,
		Sensors:           snap.Records,
	}
}

// Sensor returns one stored record regardless of the filter.
func (s *Service) Sensor(id string) (sensor.Record, error) {
	rec, ok := s.store.Get(id)
	if !ok {
		return sensor.Record{}, fmt.Errorf("%w: %s", ErrSensorNotFound, id)
	}
	return rec, nil
}

// Sensors returns the records visible under the current filter.
func (s *Service) Sensors() []sensor.Record {
	return s.store.VisibleRecords()
}

// History returns journal entries for id, newest first.
func (s *Service) History(ctx context.Context, id string, limit int) ([]history.Entry, error) {
	if s.journal == nil {
		return nil, ErrHistoryDisabled
	}
	return s.journal.Recent(ctx, id, limit)
}

// State returns the sensor feed's connection state.
func (s *Service) State() socket.State {
	return s.manager.State()
}

func (s *Service) onMessage(rec sensor.Record) {
	changed := s.store.Upsert(rec)
	s.metrics.UpsertApplied(changed)
}

func (s *Service) onOpen() {
	s.logger.Info("sensor feed connected", "endpoint", s.endpoint)
}

func (s *Service) onError(err error) {
	s.logger.Warn("sensor feed error", "error", err)
}

func (s *Service) onClose(code int, reason string) {
	s.logger.Info("sensor feed closed", "code", code, "reason", reason)
}

// onPhase runs on the manager's event loop.
func (s *Service) onPhase(phase socket.Phase) {
	state := s.manager.State()
	now := s.clock.Now()

	s.enqueue(func(context.Context) {
		if s.telemetry != nil {
			s.telemetry.WriteSocketPhase(state.Endpoint, string(phase), state.Attempt, now)
		}
		if s.mirror != nil {
			status := SocketStatus{
				Phase:     phase,
				Message:   phase.Message(),
				Attempt:   state.Attempt,
				Endpoint:  state.Endpoint,
				Timestamp: now.UTC().Format(time.RFC3339),
			}
			if err := s.mirror.PublishJSON(s.topics.SocketStatus(), status); err != nil {
				s.metrics.MirrorFailed()
				s.logger.Debug("mirroring socket status failed", "error", err)
			}
		}
		s.broadcastView()
	})
}

// onStoreEvent runs synchronously inside Upsert or SetFilter.
func (s *Service) onStoreEvent(ev sensor.Event) {
	s.metrics.ObserveStore(s.store.Len(), s.store.ConnectedCount())

	if ev.Kind != sensor.EventUpserted {
		s.enqueue(func(context.Context) { s.broadcastView() })
		return
	}

	rec := ev.Record
	now := s.clock.Now()
	s.enqueue(func(ctx context.Context) {
		if s.mirror != nil {
			if err := s.mirror.PublishJSON(s.topics.SensorState(rec.ID), rec); err != nil {
				s.metrics.MirrorFailed()
				s.logger.Debug("mirroring sensor state failed", "sensor_id", rec.ID, "error", err)
			}
		}
		if s.telemetry != nil {
			s.telemetry.WriteSensorReading(rec, now)
		}
		if s.journal != nil {
			jctx, cancel := context.WithTimeout(ctx, journalTimeout)
			if err := s.journal.Append(jctx, rec); err != nil {
				s.logger.Warn("journaling sensor record failed", "sensor_id", rec.ID, "error", err)
			}
			cancel()
		}
		s.broadcastView()
	})
}

func (s *Service) broadcastView() {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(ChannelView, s.View())
	}
}

// enqueue hands job to the fan-out goroutine without blocking.
func (s *Service) enqueue(job func(context.Context)) {
	s.mu.Lock()
	jobs, ctx := s.jobs, s.ctx
	s.mu.Unlock()
	if jobs == nil || ctx.Err() != nil {
		return
	}

	select {
	case jobs <- job:
	default:
		s.logger.Warn("sink queue full, dropping update", "capacity", fanoutBufferSize)
	}
}

// fanout runs sink jobs in order until ctx is cancelled, then runs what is
// already queued.
func (s *Service) fanout(ctx context.Context, jobs chan func(context.Context), done chan struct{}) {
	defer close(done)

	for {
		select {
		case job := <-jobs:
			job(ctx)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), journalTimeout)
			defer cancel()
			for {
				select {
				case job := <-jobs:
					job(drainCtx)
				default:
					return
				}
			}
		}
	}
}

// commandPayload is the body accepted on sensorlink/command/{id}. The ID
// always comes from the topic.
type commandPayload struct {
	Command string `json:"command"`
}

// handleMQTTCommand accepts {"command":"connect"} or a bare verb.
func (s *Service) handleMQTTCommand(topic string, payload []byte) error {
	id, ok := mqtt.SensorIDFromTopic(topic)
	if !ok {
		return fmt.Errorf("%w: %s", mqtt.ErrInvalidTopic, topic)
	}

	verb := strings.TrimSpace(string(payload))
	if strings.HasPrefix(verb, "{") {
		var body commandPayload
		if err := json.Unmarshal(payload, &body); err != nil {
			return fmt.Errorf("decoding command: %w", err)
		}
		verb = body.Command
	}

	d, err := s.SendCommand(socket.Command{Command: verb, ID: id})
	if err != nil {
		return err
	}
	s.logger.Debug("mqtt command handled", "command", verb, "sensor_id", id, "sent", d.Sent)
	return nil
}
