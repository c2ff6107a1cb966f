// Package subscribers holds the imaging event handlers.
package subscribers

import (
	"context"
	"log/slog"

	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
	sharedApplication "github.com/felixgeelhaar/imagery/internal/shared/application"
	sharedDomain "github.com/felixgeelhaar/imagery/internal/shared/domain"
)

// Invalidator drops cached statistics.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// CacheInvalidator clears the statistics cache whenever images or their
// counters change.
type CacheInvalidator struct {
	cache  Invalidator
	logger *slog.Logger
}

// NewCacheInvalidator creates the subscriber.
func NewCacheInvalidator(cache Invalidator, logger *slog.Logger) *CacheInvalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheInvalidator{cache: cache, logger: logger}
}

// Handle invalidates the cache. The event content is irrelevant.
func (c *CacheInvalidator) Handle(ctx context.Context, event sharedDomain.Event, _ *sharedApplication.Step) error {
	if err := c.cache.Invalidate(ctx); err != nil {
		return err
	}
	c.logger.DebugContext(ctx, "stats cache invalidated", "event", event.MessageType())
	return nil
}

// Register binds the invalidator to every event that changes statistics.
func (c *CacheInvalidator) Register(h *sharedApplication.Handlers) {
	for _, tag := range []string{
		gallery.TypeImageUploaded,
		gallery.TypeImageTransformed,
		gallery.TypeTransformationCountsSynced,
	} {
		h.Event(tag, "CacheInvalidator", c.Handle)
	}
}
