package commands

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/felixgeelhaar/imagery/internal/imaging/application/transform"
	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
	sharedApplication "github.com/felixgeelhaar/imagery/internal/shared/application"
	"github.com/felixgeelhaar/imagery/pkg/observability"
)

// TransformImageHandler handles gallery.TransformImageCommand.
type TransformImageHandler struct {
	prefix  string
	logger  *slog.Logger
	metrics observability.Metrics
}

// NewTransformImageHandler creates a handler that stores results under prefix.
func NewTransformImageHandler(prefix string, logger *slog.Logger, metrics observability.Metrics) *TransformImageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &TransformImageHandler{prefix: prefix, logger: logger, metrics: metrics}
}

// Handle applies the transformations and stores the result as a new file.
//
// The first commit persists the transformation records, the new file and the
// relocated image. The previous file is removed afterwards, then the image's
// transformation count is recomputed and committed separately.
func (h *TransformImageHandler) Handle(ctx context.Context, cmd gallery.TransformImageCommand, step *sharedApplication.Step) (ImageDTO, error) {
	if err := cmd.Validate(); err != nil {
		return ImageDTO{}, err
	}

	uow, err := sharedApplication.UnitOfWorkAs[gallery.UnitOfWork](ctx, step)
	if err != nil {
		return ImageDTO{}, err
	}

	img, err := uow.Images().Get(ctx, cmd.ImageID)
	if err != nil {
		return ImageDTO{}, err
	}

	payload, err := h.load(ctx, uow.Files(), img.Location())
	if err != nil {
		return ImageDTO{}, err
	}
	img.LoadPayload(payload)

	steps := cmd.Steps()
	transformer, err := transform.NewTransformer(steps...)
	if err != nil {
		return ImageDTO{}, err
	}

	for _, t := range steps {
		rec, err := gallery.NewTransformationRecord(img.ID(), t)
		if err != nil {
			return ImageDTO{}, err
		}
		if err := uow.Transformations().Add(ctx, rec); err != nil {
			return ImageDTO{}, err
		}
		h.metrics.Counter(observability.MetricTransformationsByType, 1, observability.T("type", string(t.Kind())))
	}

	timer := observability.StartTimer(h.metrics, "transform", observability.T("format", payload.Format))
	result := gallery.Payload{Image: transformer.Transform(payload.Image), Format: payload.Format}
	timer.Stop(nil)
	if err := img.ApplyTransformations(result, steps); err != nil {
		return ImageDTO{}, err
	}

	var buf bytes.Buffer
	timer = observability.StartTimer(h.metrics, "encode", observability.T("format", result.Format))
	err = transform.Encode(&buf, result)
	timer.Stop(err)
	if err != nil {
		return ImageDTO{}, err
	}

	location := newLocation(h.prefix, img.Location(), result.Format)
	if err := uow.Files().Add(ctx, location, &buf); err != nil {
		return ImageDTO{}, err
	}
	previous, err := img.Relocate(location)
	if err != nil {
		return ImageDTO{}, err
	}
	if err := uow.Images().Update(ctx, img); err != nil {
		return ImageDTO{}, err
	}
	img.ReleasePayload()

	if err := uow.Commit(ctx); err != nil {
		return ImageDTO{}, err
	}

	if err := uow.Files().Remove(ctx, previous); err != nil {
		h.logger.WarnContext(ctx, "failed to remove previous image file",
			"image_id", img.ID(),
			"location", previous,
			"error", err,
		)
	}

	if err := uow.Images().SyncTransformationCounts(ctx, img.ID()); err != nil {
		return ImageDTO{}, err
	}
	if err := uow.Commit(ctx); err != nil {
		return ImageDTO{}, err
	}

	fresh, err := uow.Images().Get(ctx, img.ID())
	if err != nil {
		return ImageDTO{}, err
	}

	h.metrics.Counter(observability.MetricImagesTransformed, 1)
	h.logger.InfoContext(ctx, "image transformed",
		observability.ImageIDKey, img.ID(),
		"transformations", len(steps),
		"location", location,
	)
	return NewImageDTO(fresh), nil
}

func (h *TransformImageHandler) load(ctx context.Context, files gallery.FileRegistry, location string) (gallery.Payload, error) {
	r, err := files.Open(ctx, location)
	if err != nil {
		return gallery.Payload{}, err
	}
	defer r.Close()
	return transform.Decode(r)
}
