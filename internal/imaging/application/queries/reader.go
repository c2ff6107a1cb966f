package queries

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
	sharedApplication "github.com/felixgeelhaar/imagery/internal/shared/application"
	"github.com/felixgeelhaar/imagery/pkg/observability"
)

// Cache keys of the statistics projections.
const (
	KeyRankedImages          = "ranked-images"
	KeyLatestTransformations = "latest-transformations"
	KeyTransformationsByType = "transformations-by-type"
)

// StatsCache stores statistics projections between writes.
type StatsCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Invalidate(ctx context.Context) error
}

// reader runs read-only work inside a short-lived unit of work that is
// always rolled back.
type reader struct {
	factory sharedApplication.UnitOfWorkFactory
	cache   StatsCache
	logger  *slog.Logger
	metrics observability.Metrics
}

func newReader(factory sharedApplication.UnitOfWorkFactory, cache StatsCache, logger *slog.Logger, metrics observability.Metrics) reader {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return reader{factory: factory, cache: cache, logger: logger, metrics: metrics}
}

func read[T any](ctx context.Context, r reader, fn func(uow gallery.UnitOfWork) (T, error)) (T, error) {
	var zero T
	uow, err := r.factory(ctx)
	if err != nil {
		return zero, err
	}
	defer func() { _ = uow.Rollback(ctx) }()

	typed, ok := uow.(gallery.UnitOfWork)
	if !ok {
		return zero, fmt.Errorf("unit of work %T does not serve imaging queries", uow)
	}
	return fn(typed)
}

// cached serves key from the cache when possible and stores fresh results.
// Cache failures are logged and fall through to the database.
func cached[T any](ctx context.Context, r reader, key string, fn func(uow gallery.UnitOfWork) (T, error)) (T, error) {
	return observability.TimeOperationResult(ctx, r.logger, r.metrics, "query."+key, func() (T, error) {
		if r.cache == nil {
			return read(ctx, r, fn)
		}

		var hit T
		found, err := r.cache.Get(ctx, key, &hit)
		if err != nil {
			r.logger.WarnContext(ctx, "stats cache read failed", "key", key, "error", err)
		}
		if found {
			r.metrics.Counter(observability.MetricCacheHits, 1, observability.T("key", key))
			return hit, nil
		}
		r.metrics.Counter(observability.MetricCacheMisses, 1, observability.T("key", key))

		value, err := read(ctx, r, fn)
		if err != nil {
			return value, err
		}
		if err := r.cache.Set(ctx, key, value); err != nil {
			r.logger.WarnContext(ctx, "stats cache write failed", "key", key, "error", err)
		}
		return value, nil
	})
}
