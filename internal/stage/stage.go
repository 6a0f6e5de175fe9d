// Package stage runs one pipeline stage: pull a batch of records in a
// status, hand each to an agent, and apply the outcome to the store.
package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JaneYeo/llm-lens/internal/article"
	"github.com/JaneYeo/llm-lens/internal/database"
	"github.com/JaneYeo/llm-lens/internal/logging"
	"github.com/JaneYeo/llm-lens/internal/retry"
)

// Store is the part of the record store a stage needs.
type Store interface {
	GetByStatus(ctx context.Context, status article.Status, limit int, filters ...database.Filter) ([]article.Article, error)
	UpdateStatus(ctx context.Context, id string, status article.Status, patch article.Patch) error
}

// TransitionFunc maps an outcome for a record to the status and patch to
// persist.
type TransitionFunc func(a article.Article, out Outcome) (article.Status, article.Patch)

// Stage describes one batch step. An empty To keeps the current status,
// which is how annotation-only stages are expressed.
type Stage struct {
	Name       string
	From       article.Status
	To         article.Status
	Limit      int
	Filters    []database.Filter
	Agent      Agent
	Transition TransitionFunc
	Delay      time.Duration
}

func (s Stage) transition(a article.Article, out Outcome) (article.Status, article.Patch) {
	if s.Transition != nil {
		return s.Transition(a, out)
	}
	if out.Kind == KindSkip {
		return article.StatusIgnored, article.Patch{}
	}
	if out.To != "" {
		return out.To, out.Patch
	}
	if s.To != "" {
		return s.To, out.Patch
	}
	return a.Status, out.Patch
}

// Report counts what happened to one batch.
type Report struct {
	Stage     string
	Processed int
	Succeeded int
	Ignored   int
	Failed    int
	Deferred  int
}

func (r Report) String() string {
	return fmt.Sprintf("%s: processed=%d succeeded=%d ignored=%d failed=%d deferred=%d",
		r.Stage, r.Processed, r.Succeeded, r.Ignored, r.Failed, r.Deferred)
}

// Runner executes stages against a store.
type Runner struct {
	store  Store
	policy retry.Policy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option configures a Runner.
type Option func(*Runner)

// WithSleep replaces the politeness sleep, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) { r.sleep = sleep }
}

// NewRunner creates a runner. The policy decides which agent failures are
// retried and how long to wait between attempts.
func NewRunner(store Store, policy retry.Policy, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		store:  store,
		policy: policy,
		logger: logger.With("component", "stage"),
		sleep:  retry.Sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes one batch. A store failure aborts the batch and is
// returned together with the counts so far. Agent failures are counted and
// the batch continues.
func (r *Runner) Run(ctx context.Context, st Stage) (Report, error) {
	rep := Report{Stage: st.Name}
	if st.Agent == nil {
		return rep, fmt.Errorf("stage %s has no agent", st.Name)
	}
	log := r.logger.With("stage", st.Name)

	batch, err := r.store.GetByStatus(ctx, st.From, st.Limit, st.Filters...)
	if err != nil {
		return rep, fmt.Errorf("fetching %s batch: %w", st.From, err)
	}
	log.Info("batch fetched", "status", st.From, "count", len(batch))

	for i, a := range batch {
		if err := ctx.Err(); err != nil {
			log.Warn("batch interrupted", "remaining", len(batch)-i)
			return rep, err
		}
		if i > 0 && st.Delay > 0 {
			if err := r.sleep(ctx, st.Delay); err != nil {
				log.Warn("batch interrupted", "remaining", len(batch)-i)
				return rep, err
			}
		}

		log.Info("processing", "n", i+1, "of", len(batch), "id", a.ID, "title", logging.Truncate(a.Title, 60))
		rep.Processed++
		out := r.invoke(ctx, st.Agent, a)

		if out.Kind == KindFailure {
			if errors.Is(out.Err, ErrMissingInput) {
				rep.Deferred++
				log.Warn("deferred", "id", a.ID, "reason", out.Err)
			} else {
				rep.Failed++
				log.Error("agent failed", "id", a.ID, "error", out.Err)
			}
			continue
		}

		to, patch := st.transition(a, out)
		if !article.CanTransition(a.Status, to) {
			rep.Failed++
			log.Error("illegal transition refused", "id", a.ID, "from", a.Status, "to", to)
			continue
		}

		// A record update is never split by an interrupt.
		if err := r.store.UpdateStatus(context.WithoutCancel(ctx), a.ID, to, patch); err != nil {
			log.Error("store update failed, aborting batch", "id", a.ID, "error", err)
			return rep, fmt.Errorf("updating %s: %w", a.ID, err)
		}

		if to == article.StatusIgnored {
			rep.Ignored++
			log.Info("ignored", "id", a.ID, "reason", out.Reason)
		} else {
			rep.Succeeded++
			log.Debug("advanced", "id", a.ID, "to", to)
		}
	}

	log.Info("stage complete", "processed", rep.Processed, "succeeded", rep.Succeeded,
		"ignored", rep.Ignored, "failed", rep.Failed, "deferred", rep.Deferred)
	return rep, nil
}

// invoke calls the agent on a copy of the record through the retry policy.
func (r *Runner) invoke(ctx context.Context, agent Agent, a article.Article) Outcome {
	var out Outcome
	policy := r.policy
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		r.logger.Warn("rate limited, backing off", "id", a.ID, "attempt", attempt, "wait", wait, "error", err)
	}

	err := policy.Do(ctx, func(ctx context.Context) error {
		out = safeProcess(ctx, agent, a.Clone())
		if out.Kind == KindFailure {
			return out.Err
		}
		return nil
	})
	if err != nil && out.Kind != KindFailure {
		return Failure(err)
	}
	return out
}

func safeProcess(ctx context.Context, agent Agent, a article.Article) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			out = Failure(fmt.Errorf("agent panic: %v", rec))
		}
	}()
	return agent.Process(ctx, a)
}
