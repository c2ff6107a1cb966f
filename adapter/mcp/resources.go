package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/felixgeelhaar/mcp-go"
)

// RegisterResources exposes the statistics projections as read-only resources.
func RegisterResources(srv *mcp.Server, deps ToolDependencies) error {
	if srv == nil {
		return errors.New("server is required")
	}
	if err := deps.validate(); err != nil {
		return err
	}
	t := tools{deps: deps}

	jsonResource(srv, "imagery://stats/rank", "Image ranking",
		"Images ranked by number of applied transformations",
		func(ctx context.Context) (any, error) { return t.rank(ctx, struct{}{}) })

	jsonResource(srv, "imagery://stats/latest", "Latest transformations",
		"Every image with its most recent transformation",
		func(ctx context.Context) (any, error) { return t.latest(ctx, struct{}{}) })

	jsonResource(srv, "imagery://stats/by-type", "Transformations by type",
		"Number of applied transformations per type",
		func(ctx context.Context) (any, error) { return t.stats(ctx, struct{}{}) })

	return nil
}

func jsonResource(srv *mcp.Server, uri, name, description string, load func(ctx context.Context) (any, error)) {
	srv.Resource(uri).
		Name(name).
		Description(description).
		MimeType("application/json").
		Handler(func(ctx context.Context, uri string, params map[string]string) (*mcp.ResourceContent, error) {
			v, err := load(ctx)
			if err != nil {
				return nil, err
			}
			data, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return nil, err
			}
			return &mcp.ResourceContent{
				URI:      uri,
				MimeType: "application/json",
				Text:     string(data),
			}, nil
		})
}
