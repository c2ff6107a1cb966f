package queries

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
	sharedApplication "github.com/felixgeelhaar/imagery/internal/shared/application"
	"github.com/felixgeelhaar/imagery/pkg/observability"
)

// URLSigner issues expiring URLs for stored files.
type URLSigner interface {
	Sign(method, location string) (string, error)
}

// GetImageURLQuery asks for a download URL of an image.
type GetImageURLQuery struct {
	ImageID int64
}

func (GetImageURLQuery) QueryName() string { return "get-image-url" }

// ImageURL is a signed download URL.
type ImageURL struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

// GetImageURLHandler handles GetImageURLQuery.
type GetImageURLHandler struct {
	reader
	signer URLSigner
}

// NewGetImageURLHandler creates the handler.
func NewGetImageURLHandler(factory sharedApplication.UnitOfWorkFactory, signer URLSigner, logger *slog.Logger, metrics observability.Metrics) *GetImageURLHandler {
	return &GetImageURLHandler{reader: newReader(factory, nil, logger, metrics), signer: signer}
}

func (h *GetImageURLHandler) Handle(ctx context.Context, q GetImageURLQuery) (ImageURL, error) {
	location, err := read(ctx, h.reader, func(uow gallery.UnitOfWork) (string, error) {
		img, err := uow.Images().Get(ctx, q.ImageID)
		if err != nil {
			return "", err
		}
		return img.Location(), nil
	})
	if err != nil {
		return ImageURL{}, err
	}

	url, err := h.signer.Sign(http.MethodGet, location)
	if err != nil {
		return ImageURL{}, err
	}
	return ImageURL{ID: q.ImageID, URL: url}, nil
}
