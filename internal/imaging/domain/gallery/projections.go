package gallery

import "time"

// RankedImage orders images by how many transformations they received.
// Ties share a rank.
type RankedImage struct {
	ID               int64  `json:"id"`
	OriginalFilename string `json:"original_filename"`
	Rank             int    `json:"rank"`
}

// TransformedImage is an image with its most recent transformation, if any.
type TransformedImage struct {
	ID                      int64      `json:"id"`
	OriginalFilename        string     `json:"original_filename"`
	TransformationType      *Kind      `json:"transformation_type"`
	TransformationTimestamp *time.Time `json:"transformation_timestamp"`
}

// TransformationByType counts applied transformations per kind.
type TransformationByType struct {
	Type  Kind `json:"type"`
	Count int  `json:"count"`
}
