package queries

import (
	"github.com/felixgeelhaar/imagery/internal/imaging/domain/gallery"
	sharedApplication "github.com/felixgeelhaar/imagery/internal/shared/application"
)

// Query handler contracts consumed by the adapters.
type (
	RankImages            = sharedApplication.QueryHandler[RankImagesQuery, []gallery.RankedImage]
	LatestTransformations = sharedApplication.QueryHandler[LatestTransformationsQuery, []gallery.TransformedImage]
	TransformationsByType = sharedApplication.QueryHandler[CountTransformationsByTypeQuery, []gallery.TransformationByType]
	ImageURLs             = sharedApplication.QueryHandler[GetImageURLQuery, ImageURL]
)

var (
	_ RankImages            = (*RankImagesHandler)(nil)
	_ LatestTransformations = (*LatestTransformationsHandler)(nil)
	_ TransformationsByType = (*CountTransformationsByTypeHandler)(nil)
	_ ImageURLs             = (*GetImageURLHandler)(nil)
)
