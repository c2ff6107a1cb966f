package gallery

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/felixgeelhaar/imagery/internal/shared/domain"
)

// Kind is the discriminant of a transformation variant.
type Kind string

const (
	KindRotate    Kind = "rotate-transformation"
	KindGrayScale Kind = "gray-scale-transformation"
	KindResize    Kind = "resize-transformation"
)

const (
	MinAngle     = 1
	MaxAngle     = 360
	MinDimension = 1
	MaxDimension = 4096
)

// Transformation is one of Rotate, Resize or GrayScale.
type Transformation interface {
	Kind() Kind
	Validate() error
}

// Rotate turns the image counter-clockwise by Angle degrees.
type Rotate struct {
	Angle int `json:"angle"`
}

func (Rotate) Kind() Kind { return KindRotate }

func (r Rotate) Validate() error {
	if r.Angle < MinAngle || r.Angle > MaxAngle {
		return fmt.Errorf("%w: angle must be between %d and %d, got %d", ErrInvalidTransformation, MinAngle, MaxAngle, r.Angle)
	}
	return nil
}

// Resize scales the image to exactly Width x Height pixels.
type Resize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (Resize) Kind() Kind { return KindResize }

func (r Resize) Validate() error {
	if r.Width < MinDimension || r.Width > MaxDimension {
		return fmt.Errorf("%w: width must be between %d and %d, got %d", ErrInvalidTransformation, MinDimension, MaxDimension, r.Width)
	}
	if r.Height < MinDimension || r.Height > MaxDimension {
		return fmt.Errorf("%w: height must be between %d and %d, got %d", ErrInvalidTransformation, MinDimension, MaxDimension, r.Height)
	}
	return nil
}

// GrayScale drops the colour information.
type GrayScale struct{}

func (GrayScale) Kind() Kind      { return KindGrayScale }
func (GrayScale) Validate() error { return nil }

// TransformationSpec carries one variant across serialization boundaries as
// {"type": "<kind>", ...variant fields}.
type TransformationSpec struct {
	Transformation
}

// Spec wraps a variant.
func Spec(t Transformation) TransformationSpec {
	return TransformationSpec{Transformation: t}
}

// MarshalJSON writes the variant fields plus its "type" tag.
func (s TransformationSpec) MarshalJSON() ([]byte, error) {
	if s.Transformation == nil {
		return nil, fmt.Errorf("%w: empty transformation", ErrInvalidTransformation)
	}
	switch t := s.Transformation.(type) {
	case Rotate:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Rotate
		}{t.Kind(), t})
	case Resize:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Resize
		}{t.Kind(), t})
	default:
		return json.Marshal(struct {
			Type Kind `json:"type"`
		}{t.Kind()})
	}
}

// UnmarshalJSON selects the variant from the "type" tag and validates it.
func (s *TransformationSpec) UnmarshalJSON(data []byte) error {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransformation, err)
	}

	var t Transformation
	switch head.Type {
	case KindRotate:
		var r Rotate
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTransformation, err)
		}
		t = r
	case KindResize:
		var r Resize
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTransformation, err)
		}
		t = r
	case KindGrayScale:
		t = GrayScale{}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTransformation, head.Type)
	}

	if err := t.Validate(); err != nil {
		return err
	}
	s.Transformation = t
	return nil
}

// TransformationRecord is an applied transformation persisted for an image.
type TransformationRecord struct {
	domain.BaseAggregateRoot
	imageID        int64
	transformation Transformation
}

// NewTransformationRecord records that t was applied to the image.
func NewTransformationRecord(imageID int64, t Transformation) (*TransformationRecord, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: empty transformation", ErrInvalidTransformation)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &TransformationRecord{
		BaseAggregateRoot: domain.NewBaseAggregateRoot(),
		imageID:           imageID,
		transformation:    t,
	}, nil
}

// RehydrateTransformationRecord recreates a record from persisted state.
func RehydrateTransformationRecord(id, imageID int64, t Transformation, createdAt time.Time) *TransformationRecord {
	return &TransformationRecord{
		BaseAggregateRoot: domain.RestoreAggregateRoot(id, createdAt),
		imageID:           imageID,
		transformation:    t,
	}
}

func (r *TransformationRecord) ImageID() int64                 { return r.imageID }
func (r *TransformationRecord) Transformation() Transformation { return r.transformation }
func (r *TransformationRecord) Kind() Kind                     { return r.transformation.Kind() }

// Columns flattens the variant into the single-table shape: every
// kind-specific column is nil unless it belongs to the variant.
func (r *TransformationRecord) Columns() (angle, width, height *int) {
	switch t := r.transformation.(type) {
	case Rotate:
		return &t.Angle, nil, nil
	case Resize:
		return nil, &t.Width, &t.Height
	}
	return nil, nil, nil
}

// TransformationFromColumns is the inverse of Columns.
func TransformationFromColumns(kind Kind, angle, width, height *int) (Transformation, error) {
	switch kind {
	case KindRotate:
		if angle == nil {
			return nil, fmt.Errorf("%w: rotate without angle", ErrInvalidTransformation)
		}
		return Rotate{Angle: *angle}, nil
	case KindResize:
		if width == nil || height == nil {
			return nil, fmt.Errorf("%w: resize without dimensions", ErrInvalidTransformation)
		}
		return Resize{Width: *width, Height: *height}, nil
	case KindGrayScale:
		return GrayScale{}, nil
	}
	return nil, fmt.Errorf("%w: unknown type %q", domain.ErrNotImplemented, kind)
}
