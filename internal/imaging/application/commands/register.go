package commands

import (
	"log/slog"

	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
	sharedApplication "github.com/felixgeelhaar/imagery/internal/shared/application"
	"github.com/felixgeelhaar/imagery/pkg/observability"
)

// Register binds every imaging command handler.
func Register(h *sharedApplication.Handlers, storagePrefix string, logger *slog.Logger, metrics observability.Metrics) {
	sharedApplication.OnCommand(h, "UploadImageHandler", NewUploadImageHandler(storagePrefix, logger, metrics).Handle)
	sharedApplication.OnCommand(h, "TransformImageHandler", NewTransformImageHandler(storagePrefix, logger, metrics).Handle)
	sharedApplication.OnCommand(h, "SyncTransformationCountsHandler", NewSyncTransformationCountsHandler().Handle)
}

// NewCodec returns a codec that knows every imaging command and event tag.
func NewCodec() *sharedApplication.Codec {
	c := sharedApplication.NewCodec()
	sharedApplication.Register[gallery.UploadImageCommand](c)
	sharedApplication.Register[gallery.TransformImageCommand](c)
	sharedApplication.Register[gallery.SyncTransformationCountsCommand](c)
	sharedApplication.Register[gallery.ImageUploaded](c)
	sharedApplication.Register[gallery.ImageTransformed](c)
	sharedApplication.Register[gallery.TransformationCountsSynced](c)
	return c
}
