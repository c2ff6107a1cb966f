package mcp

import (
	mcplocal "github.com/felixgeelhaar/imagery/adapter/mcp"
	"github.com/felixgeelhaar/imagery/internal/app"
)

// NewToolDependencies builds the tool dependencies from the container.
func NewToolDependencies(container *app.Container) mcplocal.ToolDependencies {
	return mcplocal.ToolDependencies{
		Dispatcher:            container,
		RankImages:            container.RankImagesHandler,
		LatestTransformations: container.LatestTransformationsHandler,
		TransformationsByType: container.CountTransformationsByTypeHandler,
		ImageURL:              container.GetImageURLHandler,
	}
}
