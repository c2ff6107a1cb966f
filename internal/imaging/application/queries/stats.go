package queries

import (
	"context"
	"log/slog"

	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
	sharedApplication "github.com/felixgeelhaar/imagery/internal/shared/application"
	"github.com/felixgeelhaar/imagery/pkg/observability"
)

// RankImagesQuery ranks images by transformation count.
type RankImagesQuery struct{}

func (RankImagesQuery) QueryName() string { return "rank-images" }

// RankImagesHandler handles RankImagesQuery.
type RankImagesHandler struct {
	reader
}

// NewRankImagesHandler creates the handler. cache may be nil.
func NewRankImagesHandler(factory sharedApplication.UnitOfWorkFactory, cache StatsCache, logger *slog.Logger, metrics observability.Metrics) *RankImagesHandler {
	return &RankImagesHandler{reader: newReader(factory, cache, logger, metrics)}
}

func (h *RankImagesHandler) Handle(ctx context.Context, _ RankImagesQuery) ([]gallery.RankedImage, error) {
	return cached(ctx, h.reader, KeyRankedImages, func(uow gallery.UnitOfWork) ([]gallery.RankedImage, error) {
		return uow.Images().RankImages(ctx)
	})
}

// LatestTransformationsQuery lists every image with its latest transformation.
type LatestTransformationsQuery struct{}

func (LatestTransformationsQuery) QueryName() string { return "latest-transformations" }

// LatestTransformationsHandler handles LatestTransformationsQuery.
type LatestTransformationsHandler struct {
	reader
}

// NewLatestTransformationsHandler creates the handler. cache may be nil.
func NewLatestTransformationsHandler(factory sharedApplication.UnitOfWorkFactory, cache StatsCache, logger *slog.Logger, metrics observability.Metrics) *LatestTransformationsHandler {
	return &LatestTransformationsHandler{reader: newReader(factory, cache, logger, metrics)}
}

func (h *LatestTransformationsHandler) Handle(ctx context.Context, _ LatestTransformationsQuery) ([]gallery.TransformedImage, error) {
	return cached(ctx, h.reader, KeyLatestTransformations, func(uow gallery.UnitOfWork) ([]gallery.TransformedImage, error) {
		return uow.Images().LatestTransformations(ctx)
	})
}

// CountTransformationsByTypeQuery counts applied transformations per kind.
type CountTransformationsByTypeQuery struct{}

func (CountTransformationsByTypeQuery) QueryName() string { return "transformations-by-type" }

// CountTransformationsByTypeHandler handles CountTransformationsByTypeQuery.
type CountTransformationsByTypeHandler struct {
	reader
}

// NewCountTransformationsByTypeHandler creates the handler. cache may be nil.
func NewCountTransformationsByTypeHandler(factory sharedApplication.UnitOfWorkFactory, cache StatsCache, logger *slog.Logger, metrics observability.Metrics) *CountTransformationsByTypeHandler {
	return &CountTransformationsByTypeHandler{reader: newReader(factory, cache, logger, metrics)}
}

func (h *CountTransformationsByTypeHandler) Handle(ctx context.Context, _ CountTransformationsByTypeQuery) ([]gallery.TransformationByType, error) {
	return cached(ctx, h.reader, KeyTransformationsByType, func(uow gallery.UnitOfWork) ([]gallery.TransformationByType, error) {
		return uow.Transformations().CountByType(ctx)
	})
}

// Warm reloads every statistics projection so the next reader hits the cache.
func Warm(ctx context.Context, rank *RankImagesHandler, latest *LatestTransformationsHandler, byType *CountTransformationsByTypeHandler) error {
	if _, err := rank.Handle(ctx, RankImagesQuery{}); err != nil {
		return err
	}
	if _, err := latest.Handle(ctx, LatestTransformationsQuery{}); err != nil {
		return err
	}
	_, err := byType.Handle(ctx, CountTransformationsByTypeQuery{})
	return err
}
