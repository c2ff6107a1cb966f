package subscribers

import (
	"context"
	"log/slog"

	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/outbox"
)

// WarmFunc repopulates cached statistics.
type WarmFunc func(ctx context.Context) error

// StatsWarmer consumes published image events and reloads the statistics
// cache that the in-process CacheInvalidator cleared.
type StatsWarmer struct {
	warm    WarmFunc
	logger  *slog.Logger
	enabled bool
}

// NewStatsWarmer creates the consumer.
func NewStatsWarmer(warm WarmFunc, logger *slog.Logger) *StatsWarmer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsWarmer{warm: warm, logger: logger, enabled: true}
}

// SetEnabled enables or disables the consumer.
func (w *StatsWarmer) SetEnabled(enabled bool) {
	w.enabled = enabled
}

func (w *StatsWarmer) Name() string { return "StatsWarmer" }

// EventTypes returns the routing keys this consumer handles.
func (w *StatsWarmer) EventTypes() []string {
	return []string{
		outbox.RoutingKey(gallery.TypeImageUploaded),
		outbox.RoutingKey(gallery.TypeImageTransformed),
		outbox.RoutingKey(gallery.TypeTransformationCountsSynced),
	}
}

// Handle reloads the statistics.
func (w *StatsWarmer) Handle(ctx context.Context, event *eventbus.ConsumedEvent) error {
	if !w.enabled {
		w.logger.Debug("stats warmer disabled, skipping event", "routing_key", event.RoutingKey)
		return nil
	}
	if err := w.warm(ctx); err != nil {
		return err
	}
	w.logger.DebugContext(ctx, "stats cache warmed",
		"routing_key", event.RoutingKey,
		"event_id", event.EventID,
		"image_id", event.AggregateID,
	)
	return nil
}
