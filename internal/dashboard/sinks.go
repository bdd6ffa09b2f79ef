package dashboard

import (
	"context"
	"time"

	"github.com/leonorpan/iot-fe/internal/history"
	"github.com/leonorpan/iot-fe/internal/infrastructure/mqtt"
	"github.com/leonorpan/iot-fe/internal/sensor"
	"github.com/leonorpan/iot-fe/internal/socket"
)

// StatePublisher mirrors state to a broker. *mqtt.GuardedPublisher
// satisfies it.
type StatePublisher interface {
	PublishJSON(topic string, v any) error
}

// CommandSource delivers inbound commands. *mqtt.Client satisfies it.
type CommandSource interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// TelemetryWriter records time series. *influxdb.Client satisfies it.
type TelemetryWriter interface {
	WriteSensorReading(rec sensor.Record, at time.Time) bool
	WriteSocketPhase(endpoint, phase string, attempt int, at time.Time)
}

// Journal appends applied records. history.Repository satisfies it.
type Journal interface {
	Append(ctx context.Context, rec sensor.Record) error
	Recent(ctx context.Context, sensorID string, limit int) ([]history.Entry, error)
}

// Broadcaster pushes events to live clients. *api.Hub satisfies it.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Metrics receives socket counters and store observations.
// *metrics.Collector satisfies it.
type Metrics interface {
	socket.Metrics
	UpsertApplied(changed bool)
	ObserveStore(total, connected int)
	MirrorFailed()
}

type noopMetrics struct{}

func (noopMetrics) PhaseChanged(socket.Phase) {}
func (noopMetrics) Reconnecting()             {}
func (noopMetrics) FrameReceived()            {}
func (noopMetrics) FrameDropped()             {}
func (noopMetrics) CommandSent()              {}
func (noopMetrics) CommandDropped()           {}
func (noopMetrics) UpsertApplied(bool)        {}
func (noopMetrics) ObserveStore(int, int)     {}
func (noopMetrics) MirrorFailed()             {}

// SocketStatus is the payload mirrored to the socket status topic.
type SocketStatus struct {
	Phase     socket.Phase `json:"phase"`
	Message   string       `json:"message"`
	Attempt   int          `json:"attempt"`
	Endpoint  string       `json:"endpoint"`
	Timestamp string       `json:"timestamp"`
}
