package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/felixgeelhaar/imagery/pkg/observability"
)

// ConsumerRegistry routes consumed events to the consumers registered for
// their routing key. A failing consumer never hides the event from the others.
type ConsumerRegistry struct {
	mu      sync.RWMutex
	byKey   map[string][]EventConsumer
	logger  *slog.Logger
	metrics observability.Metrics
}

// NewConsumerRegistry creates an empty registry. logger and metrics may be nil.
func NewConsumerRegistry(logger *slog.Logger, metrics observability.Metrics) *ConsumerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &ConsumerRegistry{
		byKey:   make(map[string][]EventConsumer),
		logger:  logger,
		metrics: metrics,
	}
}

// Register subscribes consumer to each of its event types. A consumer whose
// name is already registered for a type is not added twice.
func (r *ConsumerRegistry) Register(consumer EventConsumer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := consumer.Name()
	for _, key := range consumer.EventTypes() {
		if slices.ContainsFunc(r.byKey[key], func(c EventConsumer) bool { return c.Name() == name }) {
			continue
		}
		r.byKey[key] = append(r.byKey[key], consumer)
		r.logger.Debug("consumer registered", "consumer", name, "routing_key", key)
	}
}

// GetConsumers returns the consumers registered for routingKey.
func (r *ConsumerRegistry) GetConsumers(routingKey string) []EventConsumer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.byKey[routingKey])
}

// GetAllEventTypes returns every subscribed routing key, sorted.
func (r *ConsumerRegistry) GetAllEventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.byKey))
}

// Dispatch hands event to every consumer of its routing key and joins their
// failures.
func (r *ConsumerRegistry) Dispatch(ctx context.Context, event *ConsumedEvent) error {
	consumers := r.GetConsumers(event.RoutingKey)
	if len(consumers) == 0 {
		r.logger.DebugContext(ctx, "no consumers for event", "routing_key", event.RoutingKey)
		return nil
	}

	var errs []error
	for _, consumer := range consumers {
		tag := observability.T("consumer", consumer.Name())
		if err := consumer.Handle(ctx, event); err != nil {
			r.logger.ErrorContext(ctx, "consumer failed",
				"consumer", consumer.Name(),
				"routing_key", event.RoutingKey,
				"event_id", event.EventID,
				observability.ErrorKey, err,
			)
			r.metrics.Counter(observability.MetricConsumerFailed, 1, tag)
			errs = append(errs, fmt.Errorf("%s: %w", consumer.Name(), err))
			continue
		}
		r.metrics.Counter(observability.MetricConsumerHandled, 1, tag)
	}
	return errors.Join(errs...)
}

// HandleDelivery decodes a CloudEvents delivery and dispatches it. Bodies
// that cannot be decoded are dropped, so they are not redelivered forever.
func (r *ConsumerRegistry) HandleDelivery(ctx context.Context, routingKey string, body []byte) error {
	event, err := DecodeConsumedEvent(routingKey, body)
	if err != nil {
		r.logger.ErrorContext(ctx, "dropping undecodable event",
			"routing_key", routingKey,
			observability.ErrorKey, err,
		)
		return nil
	}
	if event.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, event.CorrelationID)
	}
	return r.Dispatch(ctx, event)
}
