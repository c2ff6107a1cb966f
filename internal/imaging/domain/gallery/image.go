package gallery

import (
	"image"
	"strings"
	"time"

	"github.com/felixgeelhaar/imagery/internal/shared/domain"
)

// Payload is a decoded image together with the format it was stored in.
type Payload struct {
	Image  image.Image
	Format string
}

// Image is the aggregate root for an uploaded picture and its stored file.
type Image struct {
	domain.BaseAggregateRoot
	name                string
	location            string
	transformationCount int
	payload             *Payload
}

// NewImage creates an unsaved image. The identifier is assigned once the
// repository persists it.
func NewImage(name, location string, payload *Payload) (*Image, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	if strings.TrimSpace(location) == "" {
		return nil, ErrEmptyLocation
	}

	return &Image{
		BaseAggregateRoot: domain.NewBaseAggregateRoot(),
		name:              name,
		location:          location,
		payload:           payload,
	}, nil
}

// RehydrateImage recreates an image from persisted state.
func RehydrateImage(id int64, name, location string, transformationCount int, createdAt time.Time) *Image {
	return &Image{
		BaseAggregateRoot:   domain.RestoreAggregateRoot(id, createdAt),
		name:                name,
		location:            location,
		transformationCount: transformationCount,
	}
}

func (i *Image) Name() string             { return i.name }
func (i *Image) Location() string         { return i.location }
func (i *Image) TransformationCount() int { return i.transformationCount }
func (i *Image) Payload() *Payload        { return i.payload }

// Stored assigns the identifier the store generated. The first assignment
// records ImageUploaded.
func (i *Image) Stored(id int64) {
	wasNew := i.IsNew()
	i.AssignID(id)
	if wasNew {
		i.Record(NewImageUploaded(id, i.name, i.location))
	}
}

// LoadPayload attaches the decoded file contents.
func (i *Image) LoadPayload(p Payload) {
	i.payload = &p
}

// ReleasePayload drops the decoded file contents.
func (i *Image) ReleasePayload() {
	i.payload = nil
}

// ApplyTransformations replaces the payload with its transformed version
// and records ImageTransformed.
func (i *Image) ApplyTransformations(result Payload, applied []Transformation) error {
	if i.payload == nil {
		return ErrNoPayload
	}
	i.payload = &result

	kinds := make([]Kind, 0, len(applied))
	for _, t := range applied {
		kinds = append(kinds, t.Kind())
	}
	i.Record(NewImageTransformed(i.ID(), kinds, i.location))
	return nil
}

// Relocate points the image at a new stored file and returns the previous
// location.
func (i *Image) Relocate(location string) (string, error) {
	if strings.TrimSpace(location) == "" {
		return "", ErrEmptyLocation
	}
	previous := i.location
	i.location = location
	return previous, nil
}

// SetTransformationCount updates the cached number of applied transformations.
func (i *Image) SetTransformationCount(n int) {
	i.transformationCount = n
}
