// Package pipeline sequences the ingestion, stage and publish steps into
// cycles and runs them once or continuously.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JaneYeo/llm-lens/internal/collect"
	"github.com/JaneYeo/llm-lens/internal/config"
	"github.com/JaneYeo/llm-lens/internal/critique"
	"github.com/JaneYeo/llm-lens/internal/database"
	"github.com/JaneYeo/llm-lens/internal/distill"
	"github.com/JaneYeo/llm-lens/internal/llm"
	"github.com/JaneYeo/llm-lens/internal/logging"
	"github.com/JaneYeo/llm-lens/internal/publish"
	"github.com/JaneYeo/llm-lens/internal/retry"
	"github.com/JaneYeo/llm-lens/internal/score"
	"github.com/JaneYeo/llm-lens/internal/stage"
	"github.com/JaneYeo/llm-lens/internal/upload"
	"github.com/JaneYeo/llm-lens/internal/verify"
	"github.com/JaneYeo/llm-lens/internal/visualize"
)

const maxErrorLen = 300

// Step is one unit of a cycle. Run returns a one-line summary.
type Step struct {
	Name string
	Run  func(ctx context.Context) (string, error)
}

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name     string
	Summary  string
	Err      error
	Duration time.Duration
}

// CycleResult holds the results of one full cycle.
type CycleResult struct {
	Started  time.Time
	Duration time.Duration
	Steps    []StepResult
}

// Failed returns the number of steps that ended with an error.
func (r *CycleResult) Failed() int {
	n := 0
	for _, s := range r.Steps {
		if s.Err != nil {
			n++
		}
	}
	return n
}

// Pipeline runs its steps in a fixed order.
type Pipeline struct {
	steps    []Step
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

type options struct {
	steps         []Step
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
	collectorOpts []collect.Option
}

// Option customises a Pipeline.
type Option func(*options)

// WithClock replaces the clock used to time cycles.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSleep replaces every sleep: the inter-cycle wait, stage delays,
// rate-limit backoff and feed politeness pauses.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = fn }
}

// WithSteps replaces the configured steps.
func WithSteps(steps ...Step) Option {
	return func(o *options) { o.steps = steps }
}

// WithCollectorOptions passes options to the ingestion collector.
func WithCollectorOptions(opts ...collect.Option) Option {
	return func(o *options) { o.collectorOpts = append(o.collectorOpts, opts...) }
}

// New creates a pipeline over db using the given model providers. Stages
// whose provider or uploader is unavailable are left out of the cycle.
func New(cfg *config.Config, db *database.DB, providers *llm.Providers, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	o := options{now: time.Now, sleep: retry.Sleep}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Pipeline{
		interval: cfg.Pipeline.CycleInterval,
		logger:   logger.With("component", "pipeline"),
		now:      o.now,
		sleep:    o.sleep,
	}
	if o.steps != nil {
		p.steps = o.steps
		return p, nil
	}

	steps, err := buildSteps(cfg, db, providers, logger, o)
	if err != nil {
		return nil, err
	}
	p.steps = steps
	return p, nil
}

func buildSteps(cfg *config.Config, db *database.DB, providers *llm.Providers, logger *slog.Logger, o options) ([]Step, error) {
	if providers == nil || providers.Text == nil {
		return nil, llm.ErrNotConfigured
	}

	policy := retry.Policy{
		MaxAttempts: cfg.Pipeline.Retry.MaxAttempts,
		BaseDelay:   cfg.Pipeline.Retry.BaseDelay,
		Retryable:   llm.IsRateLimit,
		Sleep:       o.sleep,
	}
	runner := stage.NewRunner(db, policy, logger, stage.WithSleep(o.sleep))
	feedDir := cfg.GetFeedDir()
	limits := cfg.Pipeline.Stages

	collectorOpts := append([]collect.Option{collect.WithSleep(o.sleep)}, o.collectorOpts...)
	collector := collect.NewCollector(cfg, db, logger, collectorOpts...)

	stages := []stage.Stage{
		score.New(providers.Text, cfg.Pipeline.RelevanceThreshold, logger).Stage(limits.Score),
		distill.New(providers.Text, cfg.Pipeline.IsExcludedSource, logger).Stage(limits.Distill),
		verify.New(providers.Text, logger).Stage(limits.Verify),
	}

	if providers.Image != nil {
		stages = append(stages, visualize.New(providers.Image, feedDir, logger).Stage(limits.Visualize))
	} else {
		logger.Warn("no image provider, visualize step disabled")
	}

	if cfg.Upload.CloudinaryURL != "" {
		cld, err := upload.NewCloudinary(cfg.Upload.CloudinaryURL, cfg.Upload.Folder)
		if err != nil {
			return nil, err
		}
		stages = append(stages, upload.New(cld, feedDir, logger).Stage(limits.Upload))
	} else {
		logger.Info("CLOUDINARY_URL not set, upload step disabled")
	}

	if providers.Vision != nil {
		stages = append(stages, critique.New(providers.Vision, feedDir, logger).Stage(limits.Critique))
	} else {
		logger.Warn("no vision provider, critique step disabled")
	}

	steps := []Step{{
		Name: "fetch",
		Run: func(ctx context.Context) (string, error) {
			r, err := collector.Collect(ctx)
			if r == nil {
				return "", err
			}
			return r.String(), err
		},
	}}
	for _, st := range stages {
		steps = append(steps, StageStep(runner, st))
	}

	publisher := publish.New(db, feedDir, logger)
	steps = append(steps, Step{
		Name: "publish",
		Run: func(ctx context.Context) (string, error) {
			n, err := publisher.Publish(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("entries=%d", n), nil
		},
	})

	return steps, nil
}

// StageStep wraps a stage batch as a cycle step.
func StageStep(runner *stage.Runner, st stage.Stage) Step {
	return Step{
		Name: st.Name,
		Run: func(ctx context.Context) (string, error) {
			rep, err := runner.Run(ctx, st)
			return rep.String(), err
		},
	}
}

// Steps returns the names of the steps in cycle order.
func (p *Pipeline) Steps() []string {
	names := make([]string, 0, len(p.steps))
	for _, s := range p.steps {
		names = append(names, s.Name)
	}
	return names
}

// RunCycle runs every step once. A failing or panicking step is recorded
// and the cycle moves on. Cancellation is checked between steps.
func (p *Pipeline) RunCycle(ctx context.Context) *CycleResult {
	r := &CycleResult{Started: p.now()}
	p.logger.Info("cycle started", "steps", len(p.steps))

	for i, step := range p.steps {
		if ctx.Err() != nil {
			p.logger.Info("cycle interrupted", "before", step.Name)
			break
		}

		p.logger.Info("step started", "step", step.Name, "n", i+1, "of", len(p.steps))
		res := p.runStep(ctx, step)
		r.Steps = append(r.Steps, res)

		if res.Err != nil {
			p.logger.Error("step failed", "step", step.Name, "duration", res.Duration,
				"error", logging.Truncate(res.Err.Error(), maxErrorLen))
		} else {
			p.logger.Info("step complete", "step", step.Name, "duration", res.Duration,
				"summary", logging.Truncate(res.Summary, maxErrorLen))
		}
	}

	r.Duration = p.now().Sub(r.Started)
	p.logger.Info("cycle complete", "duration", r.Duration, "failed_steps", r.Failed())
	return r
}

func (p *Pipeline) runStep(ctx context.Context, step Step) (res StepResult) {
	start := p.now()
	res.Name = step.Name
	defer func() {
		if rec := recover(); rec != nil {
			res.Err = fmt.Errorf("step %s panicked: %v", step.Name, rec)
		}
		res.Duration = p.now().Sub(start)
	}()

	res.Summary, res.Err = step.Run(ctx)
	return res
}

// Run executes a single cycle when once is set, otherwise cycles until ctx
// is cancelled, sleeping for the rest of the interval between cycles.
// It returns nil on a clean stop.
func (p *Pipeline) Run(ctx context.Context, once bool) error {
	for {
		res := p.RunCycle(ctx)
		if once || ctx.Err() != nil {
			return nil
		}

		wait := p.NextSleep(res.Duration)
		p.logger.Info("sleeping until next cycle", "cycle_duration", res.Duration, "sleep", wait)
		if err := p.sleep(ctx, wait); err != nil {
			if ctx.Err() != nil {
				p.logger.Info("pipeline stopped")
				return nil
			}
			return err
		}
	}
}

// NextSleep returns the wait after a cycle that took elapsed, never
// negative.
func (p *Pipeline) NextSleep(elapsed time.Duration) time.Duration {
	return max(0, p.interval-elapsed)
}
