// Package article defines the article record that moves through the pipeline
// and the status machine governing it.
package article

import (
	"slices"
	"time"
)

// Article is one news item tracked through the pipeline. Optional fields are
// pointers and may be nil regardless of Status.
type Article struct {
	ID        string
	Title     string
	URL       string
	Source    string
	Summary   string
	Published string
	FetchedAt string

	Status   Status
	Headline string

	Analysis  *Analysis
	Facts     *Facts
	ImagePath *string
	Critique  *Critique

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Analysis is the relevance assessment, later annotated by the verifier.
type Analysis struct {
	RelevanceScore    int           `json:"relevance_score"`
	Category          string        `json:"category"`
	InfographicWorthy bool          `json:"infographic_worthy"`
	Reasoning         string        `json:"reasoning"`
	Verification      *Verification `json:"verification,omitempty"`
}

// Verification is the fidelity audit of distilled facts against the source.
type Verification struct {
	Verified             bool     `json:"verified"`
	ConfidenceScore      int      `json:"confidence_score"`
	TechnicalOriginality string   `json:"technical_originality,omitempty"`
	IssuesFound          []string `json:"issues_found,omitempty"`
	CorrectedFacts       *Facts   `json:"corrected_facts,omitempty"`
}

// Facts are the structured facts distilled from an article.
type Facts struct {
	Headline          string   `json:"headline"`
	KeyStats          []string `json:"key_stats"`
	Entities          []string `json:"entities"`
	SimpleExplanation string   `json:"simple_explanation"`
	VisualConcepts    []string `json:"visual_concepts"`
}

// Critique is the review of a generated visual.
type Critique struct {
	Score                int     `json:"score"`
	Readability          string  `json:"readability"`
	AccuracyWarning      *string `json:"accuracy_warning"`
	CritiqueSummary      string  `json:"critique_summary"`
	RegenerationRequired bool    `json:"regeneration_required"`
}

// Patch is the set of fields a stage attaches alongside a status change.
// Each non-nil field replaces the stored value as a whole.
type Patch struct {
	Headline  *string
	Analysis  *Analysis
	Facts     *Facts
	ImagePath *string
	Critique  *Critique

	// ClearImage and ClearCritique null the columns. They lose to a
	// non-nil ImagePath or Critique in the same patch.
	ClearImage    bool
	ClearCritique bool
}

// IsEmpty reports whether the patch changes nothing beyond status.
func (p Patch) IsEmpty() bool {
	return p.Headline == nil && p.Analysis == nil && p.Facts == nil &&
		p.ImagePath == nil && p.Critique == nil && !p.ClearImage && !p.ClearCritique
}

// IsVerified reports whether the article already carries a verification report.
func (a *Article) IsVerified() bool {
	return a.Analysis != nil && a.Analysis.Verification != nil
}

// DisplayHeadline prefers the distilled headline over the raw title.
func (a *Article) DisplayHeadline() string {
	if a.Headline != "" {
		return a.Headline
	}
	if a.Facts != nil && a.Facts.Headline != "" {
		return a.Facts.Headline
	}
	return a.Title
}

// Clone returns a deep copy so callers cannot observe later mutations.
func (a Article) Clone() Article {
	out := a
	out.Analysis = a.Analysis.Clone()
	out.Facts = a.Facts.Clone()
	out.Critique = a.Critique.Clone()
	if a.ImagePath != nil {
		p := *a.ImagePath
		out.ImagePath = &p
	}
	return out
}

// Clone returns a deep copy of the analysis, or nil.
func (an *Analysis) Clone() *Analysis {
	if an == nil {
		return nil
	}
	out := *an
	out.Verification = an.Verification.Clone()
	return &out
}

// Clone returns a deep copy of the verification report, or nil.
func (v *Verification) Clone() *Verification {
	if v == nil {
		return nil
	}
	out := *v
	out.IssuesFound = slices.Clone(v.IssuesFound)
	out.CorrectedFacts = v.CorrectedFacts.Clone()
	return &out
}

// Clone returns a deep copy of the facts, or nil.
func (f *Facts) Clone() *Facts {
	if f == nil {
		return nil
	}
	out := *f
	out.KeyStats = slices.Clone(f.KeyStats)
	out.Entities = slices.Clone(f.Entities)
	out.VisualConcepts = slices.Clone(f.VisualConcepts)
	return &out
}

// Clone returns a deep copy of the critique, or nil.
func (c *Critique) Clone() *Critique {
	if c == nil {
		return nil
	}
	out := *c
	if c.AccuracyWarning != nil {
		w := *c.AccuracyWarning
		out.AccuracyWarning = &w
	}
	return &out
}
