package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/felixgeelhaar/imagery/pkg/observability"
)

// ErrPublisherUnavailable is returned while the breaker is open.
var ErrPublisherUnavailable = errors.New("publisher unavailable")

// BreakerConfig configures the circuit breaker around a publisher.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// BreakerPublisher stops calling a failing broker until it recovers.
// While open, Publish fails fast and the outbox schedules a retry.
type BreakerPublisher struct {
	next    Publisher
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// NewBreakerPublisher wraps next with a circuit breaker.
func NewBreakerPublisher(next Publisher, cfg BreakerConfig, logger *slog.Logger, metrics observability.Metrics) *BreakerPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}

	settings := gobreaker.Settings{
		Name:        "publisher",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			metrics.Counter(observability.MetricBreakerStateChanges, 1, observability.T("to", to.String()))
		},
	}

	return &BreakerPublisher{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		logger:  logger,
	}
}

// Publish forwards to the wrapped publisher unless the breaker is open.
func (p *BreakerPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	_, err := p.breaker.Execute(func() (any, error) {
		return nil, p.next.Publish(ctx, routingKey, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(ErrPublisherUnavailable, err)
	}
	return err
}

// State reports the breaker state.
func (p *BreakerPublisher) State() string {
	return p.breaker.State().String()
}

// Close closes the wrapped publisher.
func (p *BreakerPublisher) Close() error {
	return p.next.Close()
}
