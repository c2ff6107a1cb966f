package gallery

import "errors"

var (
	ErrEmptyName             = errors.New("image name cannot be empty")
	ErrEmptyLocation         = errors.New("image location cannot be empty")
	ErrLocationMissing       = errors.New("image location does not exist in the file store")
	ErrInvalidImage          = errors.New("invalid image")
	ErrInvalidTransformation = errors.New("invalid transformation")
	ErrNoPayload             = errors.New("image payload is not loaded")
)
