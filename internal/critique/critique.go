// Package critique reviews generated infographics with a vision model.
package critique

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/JaneYeo/llm-lens/internal/article"
	"github.com/JaneYeo/llm-lens/internal/config"
	"github.com/JaneYeo/llm-lens/internal/database"
	"github.com/JaneYeo/llm-lens/internal/llm"
	"github.com/JaneYeo/llm-lens/internal/stage"
)

const critiquePrompt = `You are a design and fact-checking reviewer for an AI news infographic feed.
Critique the attached infographic against its source facts.

SOURCE FACTS:
- Headline: %s
- Key Stats: %s

Tasks:
1. Read the text in the image. Does it match the facts?
2. Is the text clear, or garbled?
3. Does the style fit a dark, high-tech look?

Respond with ONLY this JSON:
{
    "score": int (0-10),
    "readability": "Good" | "Fair" | "Poor",
    "accuracy_warning": "string" or null,
    "critique_summary": "string",
    "regeneration_required": boolean
}`

// Critic annotates visualized articles with a critique.
type Critic struct {
	vision  llm.VisionProvider
	feedDir string
	logger  *slog.Logger
}

// New creates a critic reading images from feedDir.
func New(vision llm.VisionProvider, feedDir string, logger *slog.Logger) *Critic {
	return &Critic{vision: vision, feedDir: feedDir, logger: logger.With("component", "critique")}
}

// Stage returns the visualized annotation stage over uncritiqued articles.
func (c *Critic) Stage(limits config.StageLimits) stage.Stage {
	return stage.Stage{
		Name:    "critique",
		From:    article.StatusVisualized,
		Limit:   limits.Limit,
		Delay:   limits.Delay,
		Filters: []database.Filter{database.Uncritiqued},
		Agent:   c,
	}
}

type response struct {
	Score                float64 `json:"score"`
	Readability          string  `json:"readability"`
	AccuracyWarning      *string `json:"accuracy_warning"`
	CritiqueSummary      string  `json:"critique_summary"`
	RegenerationRequired bool    `json:"regeneration_required"`
}

// LocalFile maps a stored image path to its file in feedDir. Uploaded
// images keep their file name, so remote URLs resolve too.
func LocalFile(feedDir, imagePath string) string {
	name := path.Base(imagePath)
	if u, err := url.Parse(imagePath); err == nil && u.Scheme != "" {
		name = path.Base(u.Path)
	}
	return filepath.Join(feedDir, name)
}

// Process critiques one article's image.
func (c *Critic) Process(ctx context.Context, a article.Article) stage.Outcome {
	if a.ImagePath == nil || *a.ImagePath == "" {
		return stage.Failure(fmt.Errorf("article %s has no image: %w", a.ID, stage.ErrMissingInput))
	}

	local := LocalFile(c.feedDir, *a.ImagePath)
	data, err := os.ReadFile(local)
	if errors.Is(err, os.ErrNotExist) {
		return stage.Failure(fmt.Errorf("image not found at %s: %w", local, stage.ErrMissingInput))
	}
	if err != nil {
		return stage.Failure(fmt.Errorf("reading image: %w", err))
	}

	headline := a.DisplayHeadline()
	stats := "none"
	if a.Facts != nil && len(a.Facts.KeyStats) > 0 {
		stats = strings.Join(a.Facts.KeyStats, "; ")
	}

	text, err := c.vision.Describe(ctx, fmt.Sprintf(critiquePrompt, headline, stats), data, http.DetectContentType(data), 1024)
	if err != nil {
		return stage.Failure(fmt.Errorf("critiquing: %w", err))
	}

	var r response
	if err := llm.DecodeJSON(text, &r); err != nil {
		return stage.Failure(err)
	}

	crit := &article.Critique{
		Score:                min(max(int(math.Round(r.Score)), 0), 10),
		Readability:          r.Readability,
		CritiqueSummary:      r.CritiqueSummary,
		RegenerationRequired: r.RegenerationRequired,
	}
	if r.AccuracyWarning != nil && strings.TrimSpace(*r.AccuracyWarning) != "" {
		crit.AccuracyWarning = r.AccuracyWarning
	}

	c.logger.Info("critiqued", "id", a.ID, "score", crit.Score, "regenerate", crit.RegenerationRequired)
	return stage.Success(article.Patch{Critique: crit})
}
