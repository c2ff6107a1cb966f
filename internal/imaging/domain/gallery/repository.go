package gallery

import (
	"context"
	"io"
	"iter"

	"github.com/felixgeelhaar/imagery/internal/shared/domain"
)

// ImageRepository persists images. Every image returned by Get or passed to
// Add or Update is reported to the owning unit of work.
type ImageRepository interface {
	Get(ctx context.Context, id int64) (*Image, error)
	Add(ctx context.Context, img *Image) error
	Update(ctx context.Context, img *Image) error

	RankImages(ctx context.Context) ([]RankedImage, error)
	SyncTransformationCounts(ctx context.Context, ids ...int64) error
	LatestTransformations(ctx context.Context) ([]TransformedImage, error)
}

// TransformationRepository persists applied transformations.
type TransformationRepository interface {
	Get(ctx context.Context, id int64) (*TransformationRecord, error)
	Add(ctx context.Context, rec *TransformationRecord) error

	CountByType(ctx context.Context) ([]TransformationByType, error)
}

// FileRegistry stages file writes until the unit of work commits.
type FileRegistry interface {
	Add(ctx context.Context, location string, r io.Reader) error
	Open(ctx context.Context, location string) (io.ReadCloser, error)
	Remove(ctx context.Context, location string) error
}

// UnitOfWork is the transactional scope of the imaging context.
type UnitOfWork interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	CollectNewEvents() iter.Seq[domain.Message]

	Images() ImageRepository
	Transformations() TransformationRepository
	Files() FileRegistry
	Emit(msgs ...domain.Message)
}
