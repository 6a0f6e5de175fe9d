package stage

import (
	"context"
	"errors"

	"github.com/JaneYeo/llm-lens/internal/article"
)

// ErrMissingInput marks a record that lacks data an agent depends on, such
// as facts before visualization. The record is left unchanged and counted
// as deferred.
var ErrMissingInput = errors.New("missing input")

// Kind tags an Outcome.
type Kind int

const (
	KindSuccess Kind = iota
	KindSkip
	KindFailure
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindSkip:
		return "skip"
	case KindFailure:
		return "failure"
	}
	return "unknown"
}

// Outcome is what an agent reports for one record.
type Outcome struct {
	Kind   Kind
	To     article.Status
	Patch  article.Patch
	Reason string
	Err    error
}

// Success advances the record to the stage's target status with patch.
func Success(patch article.Patch) Outcome {
	return Outcome{Kind: KindSuccess, Patch: patch}
}

// SuccessTo advances the record to an explicit status with patch.
func SuccessTo(to article.Status, patch article.Patch) Outcome {
	return Outcome{Kind: KindSuccess, To: to, Patch: patch}
}

// Skip reports that the record does not belong in the pipeline.
func Skip(reason string) Outcome {
	return Outcome{Kind: KindSkip, Reason: reason}
}

// Failure reports that processing failed and the record must stay put.
func Failure(err error) Outcome {
	if err == nil {
		err = errors.New("agent failed without an error")
	}
	return Outcome{Kind: KindFailure, Err: err}
}

// Agent processes one record. It receives a copy and never writes to the store.
type Agent interface {
	Process(ctx context.Context, a article.Article) Outcome
}

// AgentFunc adapts a function to Agent.
type AgentFunc func(ctx context.Context, a article.Article) Outcome

func (f AgentFunc) Process(ctx context.Context, a article.Article) Outcome {
	return f(ctx, a)
}
