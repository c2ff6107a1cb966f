package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"

	"github.com/felixgeelhaar/imagery/internal/imaging/application/commands"
	"github.com/felixgeelhaar/imagery/internal/imaging/application/queries"
	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
	"github.com/felixgeelhaar/imagery/internal/imaging/infrastructure/storage"
	sharedDomain "github.com/felixgeelhaar/imagery/internal/shared/domain"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/filestore"
)

// DefaultMaxUploadBytes bounds multipart uploads when no limit is configured.
const DefaultMaxUploadBytes = 20 << 20

// Dispatcher handles a root message within a fresh scope.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg sharedDomain.Message) ([]any, error)
}

// FileVerifier checks the signature of a file request.
type FileVerifier interface {
	Verify(method, location string, query url.Values) error
}

// ImageHandler handles image API requests.
type ImageHandler struct {
	dispatcher     Dispatcher
	rank           queries.RankImages
	latest         queries.LatestTransformations
	byType         queries.TransformationsByType
	imageURL       queries.ImageURLs
	files          filestore.FileSystem
	verifier       FileVerifier
	maxUploadBytes int64
	logger         *slog.Logger
}

// ImageHandlerConfig holds dependencies for the image handler.
type ImageHandlerConfig struct {
	Dispatcher            Dispatcher
	RankImages            queries.RankImages
	LatestTransformations queries.LatestTransformations
	TransformationsByType queries.TransformationsByType
	ImageURL              queries.ImageURLs
	Files                 filestore.FileSystem
	Verifier              FileVerifier
	MaxUploadBytes        int64
	Logger                *slog.Logger
}

// NewImageHandler creates a new image handler.
func NewImageHandler(cfg ImageHandlerConfig) *ImageHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &ImageHandler{
		dispatcher:     cfg.Dispatcher,
		rank:           cfg.RankImages,
		latest:         cfg.LatestTransformations,
		byType:         cfg.TransformationsByType,
		imageURL:       cfg.ImageURL,
		files:          cfg.Files,
		verifier:       cfg.Verifier,
		maxUploadBytes: cfg.MaxUploadBytes,
		logger:         cfg.Logger,
	}
}

// Upload handles POST /api/v1/images
// The image is read from the multipart field "file".
func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxUploadBytes {
		writeError(w, ErrTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, ErrTooLarge)
			return
		}
		writeError(w, ErrBadRequest.withMessage("multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, ErrBadRequest.withMessage("failed to read upload"))
		return
	}

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}

	h.dispatch(w, r, http.StatusCreated, gallery.UploadImageCommand{Name: name, Content: content})
}

// Transform handles POST /api/v1/images/transform
func (h *ImageHandler) Transform(w http.ResponseWriter, r *http.Request) {
	var cmd gallery.TransformImageCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		if errors.Is(err, gallery.ErrInvalidTransformation) {
			h.writeFailure(w, r, err)
			return
		}
		writeError(w, ErrBadRequest.withMessage("invalid JSON body"))
		return
	}

	h.dispatch(w, r, http.StatusOK, cmd)
}

func (h *ImageHandler) dispatch(w http.ResponseWriter, r *http.Request, status int, cmd sharedDomain.Command) {
	results, err := h.dispatcher.Dispatch(r.Context(), cmd)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	if len(results) == 0 {
		writeError(w, ErrInternalServer)
		return
	}
	dto, ok := results[0].(commands.ImageDTO)
	if !ok {
		writeError(w, ErrInternalServer)
		return
	}
	writeJSON(w, status, dto)
}

// Rank handles GET /api/v1/images/rank
func (h *ImageHandler) Rank(w http.ResponseWriter, r *http.Request) {
	ranked, err := h.rank.Handle(r.Context(), queries.RankImagesQuery{})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ranked)
}

// LatestTransformations handles GET /api/v1/images/latest-transformations
func (h *ImageHandler) LatestTransformations(w http.ResponseWriter, r *http.Request) {
	latest, err := h.latest.Handle(r.Context(), queries.LatestTransformationsQuery{})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

// TransformationsByType handles GET /api/v1/transformations/by-type
func (h *ImageHandler) TransformationsByType(w http.ResponseWriter, r *http.Request) {
	counts, err := h.byType.Handle(r.Context(), queries.CountTransformationsByTypeQuery{})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// URL handles GET /api/v1/images/{id}/url
func (h *ImageHandler) URL(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, ErrBadRequest.withMessage("invalid image id"))
		return
	}

	signed, err := h.imageURL.Handle(r.Context(), queries.GetImageURLQuery{ImageID: id})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, signed)
}

// File handles GET /files/{location...}
// The request must carry a valid signature issued by the URL signer.
func (h *ImageHandler) File(w http.ResponseWriter, r *http.Request) {
	location := r.PathValue("location")
	if err := h.verifier.Verify(http.MethodGet, location, r.URL.Query()); err != nil {
		h.writeFailure(w, r, err)
		return
	}

	f, err := h.files.Open(r.Context(), location)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	defer f.Close()

	if ct := mime.TypeByExtension(path.Ext(location)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "private, max-age=300")
	if _, err := io.Copy(w, f); err != nil {
		h.logger.WarnContext(r.Context(), "failed to stream file", "location", location, "error", err)
	}
}

// writeFailure maps err onto an API error and writes it.
func (h *ImageHandler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := toAPIError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeError(w, apiErr)
}

func toAPIError(err error) *APIError {
	switch {
	case errors.Is(err, sharedDomain.ErrNotFound), errors.Is(err, filestore.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, sharedDomain.ErrNotImplemented):
		return ErrNotImplemented.withMessage(err.Error())
	case errors.Is(err, gallery.ErrInvalidImage),
		errors.Is(err, gallery.ErrInvalidTransformation),
		errors.Is(err, gallery.ErrEmptyName):
		return ErrUnprocessable.withMessage(err.Error())
	case errors.Is(err, storage.ErrInvalidSignature), errors.Is(err, storage.ErrExpired):
		return ErrForbidden
	case errors.Is(err, filestore.ErrInvalidLocation):
		return ErrBadRequest.withMessage("invalid file location")
	default:
		return ErrInternalServer
	}
}
