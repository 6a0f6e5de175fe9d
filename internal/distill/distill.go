// Package distill extracts structured facts from filtered articles.
package distill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JaneYeo/llm-lens/internal/article"
	"github.com/JaneYeo/llm-lens/internal/config"
	"github.com/JaneYeo/llm-lens/internal/llm"
	"github.com/JaneYeo/llm-lens/internal/stage"
)

const distillPrompt = `Extract structured facts from this AI news item for an infographic.
If the text contains technical identifiers such as arXiv ids or announcement
metadata, strip them and summarize.
Focus on: what they built, how it works, and why it matters.

Title: %s
Summary:
%s
Source: %s

Extract:
1. Headline: punchy, at most 10 words, no metadata or ids.
2. Key Stats: 3 or more short strings (e.g. "98.5%% accuracy", "2x lower latency").
3. Entities: authors, institutions, companies.
4. Simple Explanation: 2 sentences for a non-expert. Markdown emphasis is allowed.
5. Visual Concepts: 2 ideas for an icon or symbol.

Respond with ONLY this JSON:
{
    "headline": "string",
    "key_stats": ["string"],
    "entities": ["string"],
    "simple_explanation": "string",
    "visual_concepts": ["string"]
}`

const maxSummaryChars = 6000

// errNoHeadline rejects a response that parsed but carries nothing usable.
var errNoHeadline = errors.New("distilled facts have no headline")

// Distiller turns article text into Facts with an LLM.
type Distiller struct {
	provider llm.Provider
	excluded func(source string) bool
	logger   *slog.Logger
}

// New creates a distiller. Articles whose source matches excluded are
// ignored without calling the provider.
func New(provider llm.Provider, excluded func(source string) bool, logger *slog.Logger) *Distiller {
	if excluded == nil {
		excluded = func(string) bool { return false }
	}
	return &Distiller{provider: provider, excluded: excluded, logger: logger.With("component", "distill")}
}

// Stage returns the filtered -> distilled stage.
func (d *Distiller) Stage(limits config.StageLimits) stage.Stage {
	return stage.Stage{
		Name:  "distill",
		From:  article.StatusFiltered,
		To:    article.StatusDistilled,
		Limit: limits.Limit,
		Delay: limits.Delay,
		Agent: d,
	}
}

// Process distills one article.
func (d *Distiller) Process(ctx context.Context, a article.Article) stage.Outcome {
	if d.excluded(a.Source) {
		d.logger.Info("skipping excluded source", "id", a.ID, "source", a.Source)
		return stage.Skip("excluded source " + a.Source)
	}

	summary := a.Summary
	if summary == "" {
		summary = a.Title
	}
	if r := []rune(summary); len(r) > maxSummaryChars {
		summary = string(r[:maxSummaryChars]) + "..."
	}

	text, err := d.provider.Generate(ctx, fmt.Sprintf(distillPrompt, a.Title, summary, a.Source), 1024)
	if err != nil {
		return stage.Failure(fmt.Errorf("distilling: %w", err))
	}

	var facts article.Facts
	if err := llm.DecodeJSON(text, &facts); err != nil {
		return stage.Failure(err)
	}
	Normalize(&facts)
	if facts.Headline == "" {
		return stage.Failure(errNoHeadline)
	}

	d.logger.Info("distilled", "id", a.ID, "headline", facts.Headline)
	return stage.Success(article.Patch{Facts: &facts, Headline: &facts.Headline})
}

// Normalize trims whitespace and drops empty list entries.
func Normalize(f *article.Facts) {
	f.Headline = strings.TrimSpace(f.Headline)
	f.SimpleExplanation = strings.TrimSpace(f.SimpleExplanation)
	f.KeyStats = compact(f.KeyStats)
	f.Entities = compact(f.Entities)
	f.VisualConcepts = compact(f.VisualConcepts)
}

func compact(items []string) []string {
	out := items[:0]
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{}
	}
	return out
}
