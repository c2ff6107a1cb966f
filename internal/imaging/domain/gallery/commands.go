package gallery

import (
	"fmt"

	"github.com/felixgeelhaar/imagery/internal/shared/domain"
)

const (
	TypeUploadImage              = "upload-image-command"
	TypeTransformImage           = "transform-image-command"
	TypeSyncTransformationCounts = "sync-transformation-counts-command"
)

// UploadImageCommand stores a new image. Content holds the raw file bytes.
type UploadImageCommand struct {
	domain.BaseCommand
	Name    string `json:"name"`
	Content []byte `json:"content"`
}

func (UploadImageCommand) MessageType() string { return TypeUploadImage }

// TransformImageCommand applies transformations to a stored image, in order.
type TransformImageCommand struct {
	domain.BaseCommand
	ImageID         int64                `json:"image_id"`
	Transformations []TransformationSpec `json:"transformations"`
}

func (TransformImageCommand) MessageType() string { return TypeTransformImage }

// Validate checks the command before it is dispatched.
func (c TransformImageCommand) Validate() error {
	if c.ImageID <= 0 {
		return fmt.Errorf("%w: image_id must be positive", ErrInvalidTransformation)
	}
	if len(c.Transformations) == 0 {
		return fmt.Errorf("%w: at least one transformation is required", ErrInvalidTransformation)
	}
	for _, spec := range c.Transformations {
		if spec.Transformation == nil {
			return fmt.Errorf("%w: empty transformation", ErrInvalidTransformation)
		}
		if err := spec.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Steps returns the requested variants in order.
func (c TransformImageCommand) Steps() []Transformation {
	steps := make([]Transformation, 0, len(c.Transformations))
	for _, spec := range c.Transformations {
		steps = append(steps, spec.Transformation)
	}
	return steps
}

// SyncTransformationCountsCommand recomputes the transformation counter of
// the given images, or of every image when ImageIDs is empty.
type SyncTransformationCountsCommand struct {
	domain.BaseCommand
	ImageIDs []int64 `json:"image_ids,omitempty"`
}

func (SyncTransformationCountsCommand) MessageType() string { return TypeSyncTransformationCounts }
