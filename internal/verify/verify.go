// Package verify audits distilled facts against the article text they
// were extracted from.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/JaneYeo/llm-lens/internal/article"
	"github.com/JaneYeo/llm-lens/internal/config"
	"github.com/JaneYeo/llm-lens/internal/database"
	"github.com/JaneYeo/llm-lens/internal/distill"
	"github.com/JaneYeo/llm-lens/internal/llm"
	"github.com/JaneYeo/llm-lens/internal/stage"
)

const verifyPrompt = `You are a fact verification agent. Audit the AI-distilled facts
against the original source text.

Technical originality matters: research sources often describe results
found nowhere else yet. Do not penalize a claim for being unique. If the
source text says it, it is the ground truth.

ORIGINAL SOURCE (%s):
Title: %s
Full Text:
%s

DISTILLED FACTS (to be audited):
%s

Audit tasks:
1. Fidelity: are the key_stats and claims supported by the source text?
2. Transcription: were numbers (e.g. "7B", "98%%", "$2.5M") copied correctly?
3. Hallucination: were any entities or outcomes invented?
4. Nuance: has the summary distorted a niche technical concept?

Only provide corrected_facts for minor errors, using the same shape as the
distilled facts. Set verified=false only if the facts are disconnected from
the source text.

Respond with ONLY this JSON:
{
    "verified": boolean,
    "confidence_score": int (0-100),
    "technical_originality": "High" | "Medium" | "Standard",
    "issues_found": ["string"],
    "corrected_facts": { ... } or null
}`

// Verifier annotates distilled articles with a verification report.
type Verifier struct {
	provider llm.Provider
	logger   *slog.Logger
}

// New creates a verifier.
func New(provider llm.Provider, logger *slog.Logger) *Verifier {
	return &Verifier{provider: provider, logger: logger.With("component", "verify")}
}

// Stage returns the distilled -> distilled annotation stage over articles
// that carry no verification yet.
func (v *Verifier) Stage(limits config.StageLimits) stage.Stage {
	return stage.Stage{
		Name:    "verify",
		From:    article.StatusDistilled,
		Limit:   limits.Limit,
		Delay:   limits.Delay,
		Filters: []database.Filter{database.Unverified},
		Agent:   v,
	}
}

type report struct {
	Verified             bool           `json:"verified"`
	ConfidenceScore      float64        `json:"confidence_score"`
	TechnicalOriginality string         `json:"technical_originality"`
	IssuesFound          []*string      `json:"issues_found"`
	CorrectedFacts       *article.Facts `json:"corrected_facts"`
}

// Process verifies one article. Corrected facts replace the stored facts;
// any image or critique made from the old facts is cleared with them.
func (v *Verifier) Process(ctx context.Context, a article.Article) stage.Outcome {
	if a.IsVerified() {
		return stage.Success(article.Patch{})
	}
	if a.Facts == nil {
		return stage.Failure(fmt.Errorf("article %s has no facts: %w", a.ID, stage.ErrMissingInput))
	}

	factsJSON, err := json.MarshalIndent(a.Facts, "", "  ")
	if err != nil {
		return stage.Failure(fmt.Errorf("encoding facts: %w", err))
	}
	source := a.Source
	if source == "" {
		source = "Unknown"
	}
	text := a.Summary
	if text == "" {
		text = a.Title
	}

	resp, err := v.provider.Generate(ctx, fmt.Sprintf(verifyPrompt, source, a.Title, text, factsJSON), 1024)
	if err != nil {
		return stage.Failure(fmt.Errorf("verifying: %w", err))
	}

	var r report
	if err := llm.DecodeJSON(resp, &r); err != nil {
		return stage.Failure(err)
	}

	ver := &article.Verification{
		Verified:             r.Verified,
		ConfidenceScore:      min(max(int(math.Round(r.ConfidenceScore)), 0), 100),
		TechnicalOriginality: r.TechnicalOriginality,
	}
	for _, issue := range r.IssuesFound {
		if issue != nil && *issue != "" {
			ver.IssuesFound = append(ver.IssuesFound, *issue)
		}
	}

	analysis := a.Analysis.Clone()
	if analysis == nil {
		analysis = &article.Analysis{}
	}
	analysis.Verification = ver
	patch := article.Patch{Analysis: analysis}

	if corrected := mergeCorrections(a.Facts, r.CorrectedFacts); corrected != nil {
		ver.CorrectedFacts = corrected.Clone()
		patch.Facts = corrected
		patch.Headline = &corrected.Headline
		patch.ClearImage = a.ImagePath != nil
		patch.ClearCritique = a.Critique != nil
		v.logger.Info("facts corrected", "id", a.ID, "originality", ver.TechnicalOriginality)
	}

	v.logger.Info("verified", "id", a.ID, "verified", ver.Verified, "confidence", ver.ConfidenceScore)
	return stage.Success(patch)
}

// mergeCorrections overlays the non-empty corrected fields on the current
// facts. It returns nil when there is nothing to correct.
func mergeCorrections(current, corrected *article.Facts) *article.Facts {
	if corrected == nil {
		return nil
	}
	distill.Normalize(corrected)
	out := current.Clone()
	changed := false
	if corrected.Headline != "" && corrected.Headline != out.Headline {
		out.Headline = corrected.Headline
		changed = true
	}
	if corrected.SimpleExplanation != "" && corrected.SimpleExplanation != out.SimpleExplanation {
		out.SimpleExplanation = corrected.SimpleExplanation
		changed = true
	}
	for _, pair := range []struct {
		dst *[]string
		src []string
	}{
		{&out.KeyStats, corrected.KeyStats},
		{&out.Entities, corrected.Entities},
		{&out.VisualConcepts, corrected.VisualConcepts},
	} {
		if len(pair.src) > 0 && !slices.Equal(*pair.dst, pair.src) {
			*pair.dst = pair.src
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return out
}
