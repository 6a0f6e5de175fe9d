// Package visualize renders an infographic for each distilled article.
package visualize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/renameio/v2"

	"github.com/JaneYeo/llm-lens/internal/article"
	"github.com/JaneYeo/llm-lens/internal/config"
	"github.com/JaneYeo/llm-lens/internal/database"
	"github.com/JaneYeo/llm-lens/internal/llm"
	"github.com/JaneYeo/llm-lens/internal/stage"
)

const visualPrompt = `Create a modern, professional infographic for: "%s"

Style:
- Dark background gradient with neon blue and purple accents
- Glassmorphism panels and subtle glow
- Portrait orientation (3:4)

Content:
- Headline in large, bold type at the top
- Key statistics in sleek data cards: %s
- Icons for: %s

Use symbols and abstract shapes rather than photographs.`

// Visualizer generates images into the feed directory.
type Visualizer struct {
	images  llm.ImageProvider
	feedDir string
	logger  *slog.Logger
}

// New creates a visualizer writing to feedDir.
func New(images llm.ImageProvider, feedDir string, logger *slog.Logger) *Visualizer {
	return &Visualizer{images: images, feedDir: feedDir, logger: logger.With("component", "visualize")}
}

// Stage returns the distilled -> visualized stage.
func (v *Visualizer) Stage(limits config.StageLimits) stage.Stage {
	return stage.Stage{
		Name:  "visualize",
		From:  article.StatusDistilled,
		To:    article.StatusVisualized,
		Limit: limits.Limit,
		Delay: limits.Delay,
		Agent: v,
	}
}

// FileName returns the stable image file name for an article.
func FileName(a article.Article) string {
	var sb strings.Builder
	n := 0
	for _, r := range a.Title {
		if n == 30 {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
		n++
	}
	id := a.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return sb.String() + "_" + id + ".png"
}

// Process renders one article, or reuses an image already on disk.
func (v *Visualizer) Process(ctx context.Context, a article.Article) stage.Outcome {
	if a.Facts == nil {
		return stage.Failure(fmt.Errorf("article %s has no facts: %w", a.ID, stage.ErrMissingInput))
	}

	name := FileName(a)
	imagePath := database.LocalImagePrefix + name
	outPath := filepath.Join(v.feedDir, name)

	if _, err := os.Stat(outPath); err == nil {
		v.logger.Info("image already exists", "id", a.ID, "file", name)
		return stage.Success(article.Patch{ImagePath: &imagePath})
	} else if !errors.Is(err, os.ErrNotExist) {
		return stage.Failure(fmt.Errorf("checking image: %w", err))
	}

	data, err := v.images.GenerateImage(ctx, Prompt(a))
	if err != nil {
		return stage.Failure(fmt.Errorf("generating image: %w", err))
	}
	if len(data) == 0 {
		return stage.Failure(llm.ErrEmptyResponse)
	}

	if err := writeFile(outPath, data); err != nil {
		return stage.Failure(err)
	}

	v.logger.Info("image saved", "id", a.ID, "file", name, "bytes", len(data))
	return stage.Success(article.Patch{ImagePath: &imagePath})
}

// Prompt builds the image prompt from the article's facts.
func Prompt(a article.Article) string {
	stats := "key technology metrics"
	concepts := "neural networks, data flow"
	if a.Facts != nil {
		if len(a.Facts.KeyStats) > 0 {
			stats = strings.Join(a.Facts.KeyStats[:min(3, len(a.Facts.KeyStats))], ", ")
		}
		if len(a.Facts.VisualConcepts) > 0 {
			concepts = strings.Join(a.Facts.VisualConcepts, ", ")
		}
	}
	return fmt.Sprintf(visualPrompt, a.DisplayHeadline(), stats, concepts)
}

// writeFile replaces path atomically so a crash never leaves a partial
// image that would later be reused.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating feed directory: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("saving image: %w", err)
	}
	return nil
}
