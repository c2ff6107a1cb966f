package commands

import (
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/imagery/internal/imaging/application/transform"
	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
)

// ImageDTO is the result of the image commands.
type ImageDTO struct {
	ID                  int64     `json:"id"`
	Name                string    `json:"name"`
	Location            string    `json:"location"`
	TransformationCount int       `json:"transformation_count"`
	CreatedAt           time.Time `json:"created_at"`
}

// NewImageDTO copies the image state.
func NewImageDTO(img *gallery.Image) ImageDTO {
	return ImageDTO{
		ID:                  img.ID(),
		Name:                img.Name(),
		Location:            img.Location(),
		TransformationCount: img.TransformationCount(),
		CreatedAt:           img.CreatedAt(),
	}
}

// newLocation returns a fresh storage key under prefix.
func newLocation(prefix, name, format string) string {
	return path.Join(prefix, uuid.NewString()+transform.Extension(name, format))
}
