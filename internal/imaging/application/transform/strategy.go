// Package transform applies image transformations.
package transform

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
	"github.com/felixgeelhaar/imagery/internal/shared/domain"
)

// Strategy transforms a decoded image.
type Strategy interface {
	Apply(img image.Image) image.Image
}

// RotateStrategy rotates counter-clockwise. The canvas grows to fit and the
// uncovered corners are transparent.
type RotateStrategy struct {
	Angle int
}

func (s RotateStrategy) Apply(img image.Image) image.Image {
	return imaging.Rotate(img, float64(s.Angle), color.Transparent)
}

// ResizeStrategy scales to exact dimensions with bicubic resampling.
type ResizeStrategy struct {
	Width  int
	Height int
}

func (s ResizeStrategy) Apply(img image.Image) image.Image {
	return imaging.Resize(img, s.Width, s.Height, imaging.CatmullRom)
}

// GrayScaleStrategy converts to shades of gray.
type GrayScaleStrategy struct{}

func (GrayScaleStrategy) Apply(img image.Image) image.Image {
	return imaging.Grayscale(img)
}

// StrategyFor selects the strategy for a transformation variant.
func StrategyFor(t gallery.Transformation) (Strategy, error) {
	switch v := t.(type) {
	case gallery.Rotate:
		return RotateStrategy{Angle: v.Angle}, nil
	case gallery.Resize:
		return ResizeStrategy{Width: v.Width, Height: v.Height}, nil
	case gallery.GrayScale:
		return GrayScaleStrategy{}, nil
	}
	return nil, fmt.Errorf("%w: no strategy for %T", domain.ErrNotImplemented, t)
}

// Transformer applies a sequence of transformations in order.
type Transformer struct {
	strategies []Strategy
}

// NewTransformer resolves a strategy for every transformation up front, so an
// unsupported variant fails before any pixel is touched.
func NewTransformer(ts ...gallery.Transformation) (*Transformer, error) {
	strategies := make([]Strategy, 0, len(ts))
	for _, t := range ts {
		s, err := StrategyFor(t)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, s)
	}
	return &Transformer{strategies: strategies}, nil
}

// Transform runs every strategy over img.
func (t *Transformer) Transform(img image.Image) image.Image {
	for _, s := range t.strategies {
		img = s.Apply(img)
	}
	return img
}
