package commands

import (
	"context"

	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
	sharedApplication "github.com/felixgeelhaar/imagery/internal/shared/application"
)

// SyncTransformationCountsHandler handles gallery.SyncTransformationCountsCommand.
type SyncTransformationCountsHandler struct{}

// NewSyncTransformationCountsHandler creates the handler.
func NewSyncTransformationCountsHandler() *SyncTransformationCountsHandler {
	return &SyncTransformationCountsHandler{}
}

// Handle recomputes the counters, commits and announces which images were
// synced. It returns the requested ids.
func (h *SyncTransformationCountsHandler) Handle(ctx context.Context, cmd gallery.SyncTransformationCountsCommand, step *sharedApplication.Step) ([]int64, error) {
	uow, err := sharedApplication.UnitOfWorkAs[gallery.UnitOfWork](ctx, step)
	if err != nil {
		return nil, err
	}

	if err := uow.Images().SyncTransformationCounts(ctx, cmd.ImageIDs...); err != nil {
		return nil, err
	}
	if err := uow.Commit(ctx); err != nil {
		return nil, err
	}

	uow.Emit(gallery.NewTransformationCountsSynced(cmd.ImageIDs))
	return cmd.ImageIDs, nil
}
