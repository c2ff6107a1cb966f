package gallery

import (
	"strconv"
	"strings"

	"github.com/felixgeelhaar/imagery/internal/shared/domain"
)

const AggregateType = "Image"

const (
	TypeImageUploaded              = "image-uploaded-event"
	TypeImageTransformed           = "image-transformed-event"
	TypeTransformationCountsSynced = "transformation-counts-synced-event"
)

// ImageUploaded is emitted once a new image has been stored.
type ImageUploaded struct {
	domain.BaseEvent
	ImageID  int64  `json:"image_id"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

func (ImageUploaded) MessageType() string { return TypeImageUploaded }

// NewImageUploaded creates an ImageUploaded event.
func NewImageUploaded(imageID int64, name, location string) ImageUploaded {
	return ImageUploaded{
		BaseEvent: domain.NewBaseEvent(AggregateType, strconv.FormatInt(imageID, 10)),
		ImageID:   imageID,
		Name:      name,
		Location:  location,
	}
}

// ImageTransformed is emitted when transformations were applied to an image.
// Location is where the image was stored before the transformation.
type ImageTransformed struct {
	domain.BaseEvent
	ImageID         int64  `json:"image_id"`
	Transformations []Kind `json:"transformations"`
	Location        string `json:"location"`
}

func (ImageTransformed) MessageType() string { return TypeImageTransformed }

// NewImageTransformed creates an ImageTransformed event.
func NewImageTransformed(imageID int64, kinds []Kind, location string) ImageTransformed {
	return ImageTransformed{
		BaseEvent:       domain.NewBaseEvent(AggregateType, strconv.FormatInt(imageID, 10)),
		ImageID:         imageID,
		Transformations: kinds,
		Location:        location,
	}
}

// TransformationCountsSynced is emitted after the per-image transformation
// counters were recomputed. An empty ImageIDs means every image.
type TransformationCountsSynced struct {
	domain.BaseEvent
	ImageIDs []int64 `json:"image_ids"`
}

func (TransformationCountsSynced) MessageType() string { return TypeTransformationCountsSynced }

// NewTransformationCountsSynced creates a TransformationCountsSynced event.
func NewTransformationCountsSynced(ids []int64) TransformationCountsSynced {
	refs := make([]string, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, strconv.FormatInt(id, 10))
	}
	return TransformationCountsSynced{
		BaseEvent: domain.NewBaseEvent(AggregateType, strings.Join(refs, ",")),
		ImageIDs:  ids,
	}
}
