// Package score rates ingested articles for relevance and decides which
// ones continue through the pipeline.
package score

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/JaneYeo/llm-lens/internal/article"
	"github.com/JaneYeo/llm-lens/internal/config"
	"github.com/JaneYeo/llm-lens/internal/llm"
	"github.com/JaneYeo/llm-lens/internal/stage"
)

const scorePrompt = `Analyze the following news item for use in an AI industry infographic feed.

Title: %s
Source: %s
Summary:
%s

Determine:
1. Relevance Score (0-10): How significant is this to the AI/LLM/hardware industry?
2. Category: one of [Model Release, Chip Advancement, Industry Shift, Application, Research, Other]
3. Infographic Worthy: true/false. Is there enough substance or impact for a visual?
4. Reasoning: Brief explanation.

Respond with ONLY this JSON:
{
    "relevance_score": int,
    "category": "string",
    "infographic_worthy": boolean,
    "reasoning": "string"
}`

const maxSummaryChars = 4000

// Scorer assesses relevance with an LLM.
type Scorer struct {
	provider  llm.Provider
	threshold int
	logger    *slog.Logger
}

// New creates a scorer. Articles scoring at least threshold, or flagged
// infographic-worthy, are kept.
func New(provider llm.Provider, threshold int, logger *slog.Logger) *Scorer {
	return &Scorer{provider: provider, threshold: threshold, logger: logger.With("component", "score")}
}

// Stage returns the ingested -> filtered/ignored stage.
func (s *Scorer) Stage(limits config.StageLimits) stage.Stage {
	return stage.Stage{
		Name:  "score",
		From:  article.StatusIngested,
		Limit: limits.Limit,
		Delay: limits.Delay,
		Agent: s,
	}
}

// Relevant reports whether an analysis passes the threshold.
func Relevant(an article.Analysis, threshold int) bool {
	return an.RelevanceScore >= threshold || an.InfographicWorthy
}

type response struct {
	RelevanceScore    float64 `json:"relevance_score"`
	Category          string  `json:"category"`
	InfographicWorthy bool    `json:"infographic_worthy"`
	Reasoning         string  `json:"reasoning"`
}

// Process scores one article. The analysis is stored whether the article
// is kept or ignored.
func (s *Scorer) Process(ctx context.Context, a article.Article) stage.Outcome {
	summary := a.Summary
	if summary == "" {
		summary = a.Title
	}
	if r := []rune(summary); len(r) > maxSummaryChars {
		summary = string(r[:maxSummaryChars]) + "..."
	}
	source := a.Source
	if source == "" {
		source = "Unknown"
	}

	text, err := s.provider.Generate(ctx, fmt.Sprintf(scorePrompt, a.Title, source, summary), 512)
	if err != nil {
		return stage.Failure(fmt.Errorf("scoring: %w", err))
	}

	var resp response
	if err := llm.DecodeJSON(text, &resp); err != nil {
		return stage.Failure(err)
	}

	an := &article.Analysis{
		RelevanceScore:    clamp(int(math.Round(resp.RelevanceScore)), 0, 10),
		Category:          resp.Category,
		InfographicWorthy: resp.InfographicWorthy,
		Reasoning:         resp.Reasoning,
	}
	if an.Category == "" {
		an.Category = "Other"
	}

	patch := article.Patch{Analysis: an}
	if Relevant(*an, s.threshold) {
		s.logger.Info("relevant", "id", a.ID, "score", an.RelevanceScore, "worthy", an.InfographicWorthy)
		return stage.SuccessTo(article.StatusFiltered, patch)
	}
	s.logger.Info("not relevant", "id", a.ID, "score", an.RelevanceScore)
	out := stage.SuccessTo(article.StatusIgnored, patch)
	out.Reason = fmt.Sprintf("relevance score %d below %d", an.RelevanceScore, s.threshold)
	return out
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
