// Package publish builds the public feed from distilled and visualized
// articles and writes it as a static index.json.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/yuin/goldmark"

	"github.com/JaneYeo/llm-lens/internal/article"
	"github.com/JaneYeo/llm-lens/internal/database"
)

// IndexFile is the feed file name inside the feed directory.
const IndexFile = "index.json"

var md = goldmark.New()

// Entry is one item of the public feed.
type Entry struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	URL         string            `json:"url"`
	ImageURL    *string           `json:"image_url"`
	Source      string            `json:"source"`
	Published   string            `json:"published"`
	Status      article.Status    `json:"status"`
	FullContent string            `json:"full_content"`
	Facts       EntryFacts        `json:"facts"`
	Analysis    *article.Analysis `json:"analysis"`
	Critique    *article.Critique `json:"critique,omitempty"`
}

// EntryFacts is the display subset of the distilled facts.
type EntryFacts struct {
	Headline              string   `json:"headline"`
	SimpleExplanation     string   `json:"simple_explanation"`
	SimpleExplanationHTML string   `json:"simple_explanation_html"`
	KeyStats              []string `json:"key_stats"`
}

// NewEntry converts a stored article into a feed entry. Missing facts fall
// back to the raw title and summary.
func NewEntry(a article.Article) Entry {
	headline := a.DisplayHeadline()
	explanation := a.Summary
	keyStats := []string{}
	if a.Facts != nil {
		if a.Facts.SimpleExplanation != "" {
			explanation = a.Facts.SimpleExplanation
		}
		if len(a.Facts.KeyStats) > 0 {
			keyStats = a.Facts.KeyStats
		}
	}
	analysis := a.Analysis
	if analysis == nil {
		analysis = &article.Analysis{Category: "General"}
	}

	return Entry{
		ID:          a.ID,
		Title:       headline,
		URL:         a.URL,
		ImageURL:    a.ImagePath,
		Source:      a.Source,
		Published:   a.Published,
		Status:      a.Status,
		FullContent: a.Summary,
		Facts: EntryFacts{
			Headline:              headline,
			SimpleExplanation:     explanation,
			SimpleExplanationHTML: RenderMarkdown(explanation),
			KeyStats:              keyStats,
		},
		Analysis: analysis,
		Critique: a.Critique,
	}
}

// Entries converts articles keeping their order.
func Entries(articles []article.Article) []Entry {
	out := make([]Entry, 0, len(articles))
	for _, a := range articles {
		out = append(out, NewEntry(a))
	}
	return out
}

// RenderMarkdown converts markdown to HTML, or escapes the text when it
// cannot be rendered.
func RenderMarkdown(text string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return html.EscapeString(text)
	}
	return buf.String()
}

// FeedStore reads the articles eligible for the feed.
type FeedStore interface {
	GetFeedArticles(ctx context.Context, q database.FeedQuery) ([]article.Article, error)
}

// Publisher writes the feed index.
type Publisher struct {
	store   FeedStore
	feedDir string
	logger  *slog.Logger
}

// New creates a publisher writing into feedDir.
func New(store FeedStore, feedDir string, logger *slog.Logger) *Publisher {
	return &Publisher{store: store, feedDir: feedDir, logger: logger.With("component", "publish")}
}

// Path returns the location of the index file.
func (p *Publisher) Path() string {
	return filepath.Join(p.feedDir, IndexFile)
}

// Publish regenerates index.json and returns the number of entries.
// Readers never see a partially written file.
func (p *Publisher) Publish(ctx context.Context) (int, error) {
	articles, err := p.store.GetFeedArticles(ctx, database.FeedQuery{})
	if err != nil {
		return 0, fmt.Errorf("reading feed articles: %w", err)
	}

	data, err := json.MarshalIndent(Entries(articles), "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encoding feed: %w", err)
	}

	if err := writeAtomic(p.Path(), data); err != nil {
		return 0, err
	}

	p.logger.Info("feed published", "entries", len(articles), "path", p.Path())
	return len(articles), nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating feed directory: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing feed: %w", err)
	}
	return nil
}
