package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/leonorpan/iot-fe/internal/infrastructure/config"
)

// Publisher publishes raw payloads. *Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// GuardedPublisher puts a circuit breaker in front of a Publisher so that a
// dead broker costs one fast error per message instead of a publish timeout.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type GuardedPublisher struct {
	pub Publisher
	qos byte
	cb  *gobreaker.CircuitBreaker
}

// NewGuardedPublisher wraps pub. Retained JSON publishes use qos.
// logger may be nil.
func NewGuardedPublisher(pub Publisher, qos byte, cfg config.BreakerConfig, logger Logger) *GuardedPublisher {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openTimeout := time.Duration(cfg.OpenTimeout) * time.Second
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	return &GuardedPublisher{
		pub: pub,
		qos: qos,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "mqtt-publish",
			MaxRequests: 1,
			Timeout:     openTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				if logger != nil {
					logger.Warn("circuit breaker state changed",
						"breaker", name,
						"from", from.String(),
						"to", to.String(),
					)
				}
			},
		}),
	}
}

// Publish forwards to the wrapped Publisher unless the breaker is open.
func (g *GuardedPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	_, err := g.cb.Execute(func() (any, error) {
		return nil, g.pub.Publish(topic, payload, qos, retained)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrBreakerOpen, err)
	}
	return err
}

// PublishJSON marshals v and publishes it retained.
func (g *GuardedPublisher) PublishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %w", ErrPublishFailed, err)
	}
	return g.Publish(topic, payload, g.qos, true)
}

// State returns the breaker state: "closed", "half-open" or "open".
func (g *GuardedPublisher) State() string {
	return g.cb.State().String()
}
