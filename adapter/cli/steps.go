package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
	sharedDomain "github.com/felixgeelhaar/imagery/internal/shared/domain"
)

// parseSteps turns step arguments such as "rotate=90", "resize=640x480"
// and "gray" into transformation specs, keeping their order.
func parseSteps(args []string) ([]gallery.TransformationSpec, error) {
	specs := make([]gallery.TransformationSpec, 0, len(args))
	for _, arg := range args {
		t, err := parseStep(arg)
		if err != nil {
			return nil, err
		}
		specs = append(specs, gallery.Spec(t))
	}
	return specs, nil
}

func parseStep(arg string) (gallery.Transformation, error) {
	name, value, _ := strings.Cut(arg, "=")
	switch strings.TrimSuffix(strings.ToLower(name), "-transformation") {
	case "rotate":
		angle, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("%w: rotate needs an integer angle, got %q", gallery.ErrInvalidTransformation, value)
		}
		return gallery.Rotate{Angle: angle}, nil
	case "resize":
		w, h, ok := strings.Cut(value, "x")
		width, errW := strconv.Atoi(w)
		height, errH := strconv.Atoi(h)
		if !ok || errW != nil || errH != nil {
			return nil, fmt.Errorf("%w: resize needs WIDTHxHEIGHT, got %q", gallery.ErrInvalidTransformation, value)
		}
		return gallery.Resize{Width: width, Height: height}, nil
	case "gray", "grey", "gray-scale", "grayscale":
		return gallery.GrayScale{}, nil
	}
	return nil, fmt.Errorf("%w: unknown transformation %q", sharedDomain.ErrNotImplemented, name)
}
