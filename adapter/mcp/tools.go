// Package mcp exposes the imaging operations as MCP tools and resources.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/mcp-go"

	"github.com/felixgeelhaar/imagery/internal/imaging/application/commands"
	"github.com/felixgeelhaar/imagery/internal/imaging/application/queries"
	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
	sharedDomain "github.com/felixgeelhaar/imagery/internal/shared/domain"
)

// Dispatcher handles a root message within a fresh scope.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg sharedDomain.Message) ([]any, error)
}

// ToolDependencies provides handlers for MCP tools.
type ToolDependencies struct {
	Dispatcher            Dispatcher
	RankImages            queries.RankImages
	LatestTransformations queries.LatestTransformations
	TransformationsByType queries.TransformationsByType
	ImageURL              queries.ImageURLs
}

func (d ToolDependencies) validate() error {
	if d.Dispatcher == nil {
		return errors.New("dispatcher is required")
	}
	if d.RankImages == nil || d.LatestTransformations == nil || d.TransformationsByType == nil || d.ImageURL == nil {
		return errors.New("query handlers are required")
	}
	return nil
}

type uploadInput struct {
	Name    string `json:"name" jsonschema:"required"`
	Content []byte `json:"content" jsonschema:"required"`
}

type transformStep struct {
	Type   string `json:"type" jsonschema:"required"`
	Angle  *int   `json:"angle,omitempty"`
	Width  *int   `json:"width,omitempty"`
	Height *int   `json:"height,omitempty"`
}

type transformInput struct {
	ImageID         int64           `json:"image_id" jsonschema:"required"`
	Transformations []transformStep `json:"transformations" jsonschema:"required"`
}

type imageInput struct {
	ImageID int64 `json:"image_id" jsonschema:"required"`
}

type tools struct {
	deps ToolDependencies
}

// RegisterTools registers the imaging tools.
func RegisterTools(srv *mcp.Server, deps ToolDependencies) error {
	if srv == nil {
		return errors.New("server is required")
	}
	if err := deps.validate(); err != nil {
		return err
	}
	t := tools{deps: deps}

	srv.Tool("image.upload").
		Description("Upload an image; content is the base64 encoded file").
		Handler(t.upload)

	srv.Tool("image.transform").
		Description("Apply rotate, resize and gray-scale transformations to an image, in order").
		Handler(t.transform)

	srv.Tool("image.rank").
		Description("Rank images by number of applied transformations").
		Handler(t.rank)

	srv.Tool("image.latest").
		Description("List every image with its most recent transformation").
		Handler(t.latest)

	srv.Tool("transformation.stats").
		Description("Count applied transformations per type").
		Handler(t.stats)

	srv.Tool("image.url").
		Description("Get a signed, expiring download URL for an image").
		Handler(t.url)

	return nil
}

func (t tools) upload(ctx context.Context, input uploadInput) (commands.ImageDTO, error) {
	return t.dispatch(ctx, gallery.UploadImageCommand{Name: input.Name, Content: input.Content})
}

func (t tools) transform(ctx context.Context, input transformInput) (commands.ImageDTO, error) {
	cmd := gallery.TransformImageCommand{ImageID: input.ImageID}
	for i, step := range input.Transformations {
		tr, err := gallery.TransformationFromColumns(gallery.Kind(step.Type), step.Angle, step.Width, step.Height)
		if err != nil {
			return commands.ImageDTO{}, fmt.Errorf("transformation %d: %w", i, err)
		}
		cmd.Transformations = append(cmd.Transformations, gallery.Spec(tr))
	}
	if err := cmd.Validate(); err != nil {
		return commands.ImageDTO{}, err
	}
	return t.dispatch(ctx, cmd)
}

func (t tools) dispatch(ctx context.Context, cmd sharedDomain.Command) (commands.ImageDTO, error) {
	results, err := t.deps.Dispatcher.Dispatch(ctx, cmd)
	if err != nil {
		return commands.ImageDTO{}, err
	}
	if len(results) == 0 {
		return commands.ImageDTO{}, errors.New("command produced no result")
	}
	dto, ok := results[0].(commands.ImageDTO)
	if !ok {
		return commands.ImageDTO{}, fmt.Errorf("unexpected result %T", results[0])
	}
	return dto, nil
}

func (t tools) rank(ctx context.Context, _ struct{}) ([]gallery.RankedImage, error) {
	return t.deps.RankImages.Handle(ctx, queries.RankImagesQuery{})
}

func (t tools) latest(ctx context.Context, _ struct{}) ([]gallery.TransformedImage, error) {
	return t.deps.LatestTransformations.Handle(ctx, queries.LatestTransformationsQuery{})
}

func (t tools) stats(ctx context.Context, _ struct{}) ([]gallery.TransformationByType, error) {
	return t.deps.TransformationsByType.Handle(ctx, queries.CountTransformationsByTypeQuery{})
}

func (t tools) url(ctx context.Context, input imageInput) (queries.ImageURL, error) {
	if input.ImageID <= 0 {
		return queries.ImageURL{}, errors.New("image_id must be positive")
	}
	return t.deps.ImageURL.Handle(ctx, queries.GetImageURLQuery{ImageID: input.ImageID})
}
