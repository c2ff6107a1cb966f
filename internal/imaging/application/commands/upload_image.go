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

// UploadImageHandler handles gallery.UploadImageCommand.
type UploadImageHandler struct {
	prefix  string
	logger  *slog.Logger
	metrics observability.Metrics
}

// NewUploadImageHandler creates a handler that stores files under prefix.
func NewUploadImageHandler(prefix string, logger *slog.Logger, metrics observability.Metrics) *UploadImageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &UploadImageHandler{prefix: prefix, logger: logger, metrics: metrics}
}

// Handle verifies the upload decodes as an image, stores the file and the
// image row, and commits.
func (h *UploadImageHandler) Handle(ctx context.Context, cmd gallery.UploadImageCommand, step *sharedApplication.Step) (ImageDTO, error) {
	uow, err := sharedApplication.UnitOfWorkAs[gallery.UnitOfWork](ctx, step)
	if err != nil {
		return ImageDTO{}, err
	}

	timer := observability.StartTimer(h.metrics, "decode")
	payload, err := transform.DecodeBytes(cmd.Content)
	timer.Stop(err)
	if err != nil {
		return ImageDTO{}, err
	}

	location := newLocation(h.prefix, cmd.Name, payload.Format)
	img, err := gallery.NewImage(cmd.Name, location, &payload)
	if err != nil {
		return ImageDTO{}, err
	}

	if err := uow.Files().Add(ctx, location, bytes.NewReader(cmd.Content)); err != nil {
		return ImageDTO{}, err
	}
	if err := uow.Images().Add(ctx, img); err != nil {
		return ImageDTO{}, err
	}
	if err := uow.Commit(ctx); err != nil {
		return ImageDTO{}, err
	}

	h.metrics.Counter(observability.MetricImagesUploaded, 1, observability.T("format", payload.Format))
	h.logger.InfoContext(ctx, "image uploaded",
		observability.ImageIDKey, img.ID(),
		"location", location,
		"bytes", len(cmd.Content),
	)
	return NewImageDTO(img), nil
}
