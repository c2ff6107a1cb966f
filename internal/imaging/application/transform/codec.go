package transform

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"path"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
)

// Decode reads an image and remembers its format.
func Decode(r io.Reader) (gallery.Payload, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return gallery.Payload{}, fmt.Errorf("%w: %v", gallery.ErrInvalidImage, err)
	}
	return gallery.Payload{Image: img, Format: format}, nil
}

// DecodeBytes verifies that data is a supported image and decodes it.
func DecodeBytes(data []byte) (gallery.Payload, error) {
	if len(data) == 0 {
		return gallery.Payload{}, fmt.Errorf("%w: empty content", gallery.ErrInvalidImage)
	}
	return Decode(bytes.NewReader(data))
}

// Encode writes the payload in its original format.
func Encode(w io.Writer, p gallery.Payload) error {
	format, err := FormatOf(p.Format)
	if err != nil {
		return err
	}
	return imaging.Encode(w, p.Image, format)
}

// FormatOf maps a format name ("png", "jpeg", ...) to an encoder format.
func FormatOf(name string) (imaging.Format, error) {
	format, err := imaging.FormatFromExtension(name)
	if err != nil {
		return 0, fmt.Errorf("%w: unsupported format %q", gallery.ErrInvalidImage, name)
	}
	return format, nil
}

// Extension returns the file extension for a stored file in the decoded
// format. The suffix of name is kept only when it denotes that format.
func Extension(name, format string) string {
	ext := strings.ToLower(path.Ext(name))
	if format == "" {
		return ext
	}
	if ext != "" {
		named, err := imaging.FormatFromExtension(ext)
		detected, derr := FormatOf(format)
		if err == nil && derr == nil && named == detected {
			return ext
		}
	}
	if format == "jpeg" {
		return ".jpg"
	}
	return "." + format
}
