package database

import "github.com/JaneYeo/llm-lens/internal/article"

// Filter narrows a status batch read to rows still missing an annotation.
type Filter string

const (
	// Unverified selects rows whose analysis has no verification report.
	Unverified Filter = "unverified"
	// Uncritiqued selects rows without a critique.
	Uncritiqued Filter = "uncritiqued"
	// LocalImage selects rows whose image still points at the local feed directory.
	LocalImage Filter = "local_image"
)

// LocalImagePrefix is the image_path prefix of images not yet uploaded.
const LocalImagePrefix = "/feed/"

// FeedQuery selects published articles.
type FeedQuery struct {
	Limit  int
	Offset int
	Source string
}

// SourceCount is one row of the per-source status breakdown.
type SourceCount struct {
	Source string
	Status article.Status
	Count  int
}

// Stats contains aggregate database statistics.
type Stats struct {
	Total    int
	ByStatus map[article.Status]int
}
