// Package collect ingests candidate articles from RSS feeds, subreddits and
// NewsAPI into the record store.
package collect

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/JaneYeo/llm-lens/internal/article"
	"github.com/JaneYeo/llm-lens/internal/config"
	"github.com/JaneYeo/llm-lens/internal/retry"
)

const (
	userAgent       = "LLMLens/1.0 (news aggregator)"
	redditBaseURL   = "https://www.reddit.com"
	defaultTimeout  = 20 * time.Second
	feedDelay       = time.Second
	redditDelay     = 2 * time.Second
	newsAPIPageSize = 100
)

// Inserter stores new candidate articles.
type Inserter interface {
	URLExists(ctx context.Context, url string) (bool, error)
	InsertArticle(ctx context.Context, a article.Article) (bool, error)
}

// Result holds the results of a collection run.
type Result struct {
	TotalFound    int
	NewArticles   int
	Duplicates    int
	Enriched      int
	FailedSources int
	Sources       map[string]int
}

func (r *Result) String() string {
	return fmt.Sprintf("found=%d new=%d duplicates=%d enriched=%d failed_sources=%d",
		r.TotalFound, r.NewArticles, r.Duplicates, r.Enriched, r.FailedSources)
}

// source is one feed to read during a run.
type source struct {
	name  string
	url   string
	limit int
	delay time.Duration
}

// Collector orchestrates article collection from all configured sources.
type Collector struct {
	store    Inserter
	parser   *FeedParser
	sources  []source
	news     *NewsAPIClient
	newsQry  string
	enricher *Enricher
	minChars int
	lookback int
	logger   *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

type options struct {
	client        *http.Client
	redditBaseURL string
	newsAPIURL    string
	sleep         func(ctx context.Context, d time.Duration) error
	now           func() time.Time
}

// Option customises a Collector.
type Option func(*options)

// WithHTTPClient replaces the HTTP client used for every source.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithRedditBaseURL points subreddit feeds at another host.
func WithRedditBaseURL(u string) Option {
	return func(o *options) { o.redditBaseURL = u }
}

// WithNewsAPIURL points the NewsAPI client at another endpoint.
func WithNewsAPIURL(u string) Option {
	return func(o *options) { o.newsAPIURL = u }
}

// WithSleep replaces the politeness sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = fn }
}

// WithClock replaces the clock used for the lookback window.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewCollector creates a new article collector.
func NewCollector(cfg *config.Config, store Inserter, logger *slog.Logger, opts ...Option) *Collector {
	o := options{
		client:        &http.Client{Timeout: defaultTimeout},
		redditBaseURL: redditBaseURL,
		newsAPIURL:    newsAPIBaseURL,
		sleep:         retry.Sleep,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Collector{
		store:    store,
		parser:   NewFeedParser(o.client, userAgent),
		lookback: cfg.Pipeline.LookbackDays,
		logger:   logger.With("component", "collect"),
		sleep:    o.sleep,
		now:      o.now,
	}

	for _, f := range cfg.Sources.Feeds {
		name := f.Name
		if name == "" {
			name = extractSourceName(f.URL)
		}
		c.sources = append(c.sources, source{name: name, url: f.URL, limit: f.Limit, delay: feedDelay})
	}

	if rc := cfg.Sources.Reddit; rc.Enabled {
		for _, sub := range rc.Subreddits {
			c.sources = append(c.sources, source{
				name:  "r/" + sub,
				url:   redditFeedURL(o.redditBaseURL, sub, rc.Filter),
				delay: redditDelay,
			})
		}
	}

	if apiCfg := cfg.Sources.APIs.NewsAPI; apiCfg.Enabled {
		c.news = NewNewsAPIClient(apiCfg.APIKey, o.client)
		c.news.baseURL = o.newsAPIURL
		c.newsQry = apiCfg.Query
	}

	if ec := cfg.Sources.Enrich; ec.Enabled && ec.MinSummaryChars > 0 {
		c.enricher = NewEnricher(o.client, userAgent)
		c.minChars = ec.MinSummaryChars
	}

	return c
}

// Collect reads every source once and inserts the new candidates as
// ingested articles. A failing source is logged and skipped; a store error
// ends the run.
func (c *Collector) Collect(ctx context.Context) (*Result, error) {
	r := &Result{Sources: make(map[string]int)}
	now := c.now()
	cutoff := now.AddDate(0, 0, -c.lookback)
	if c.enricher != nil {
		c.enricher.Reset()
	}

	for i, src := range c.sources {
		if i > 0 {
			if err := c.sleep(ctx, src.delay); err != nil {
				return r, err
			}
		}

		entries, err := c.parser.Parse(ctx, src.url, src.name, src.limit, cutoff)
		if err != nil {
			if ctx.Err() != nil {
				return r, ctx.Err()
			}
			c.logger.Warn("feed failed", "source", src.name, "url", src.url, "error", err)
			r.FailedSources++
			continue
		}
		c.logger.Info("feed parsed", "source", src.name, "entries", len(entries), "lookback_days", c.lookback)

		if err := c.save(ctx, r, entries, now); err != nil {
			return r, err
		}
	}

	if c.news != nil {
		if !c.news.IsConfigured() {
			c.logger.Warn("newsapi enabled but no API key set")
		} else {
			entries, err := c.news.Search(ctx, c.newsQry, cutoff, now, newsAPIPageSize)
			if err != nil {
				if ctx.Err() != nil {
					return r, ctx.Err()
				}
				c.logger.Warn("newsapi failed", "error", err)
				r.FailedSources++
			} else {
				c.logger.Info("newsapi searched", "entries", len(entries))
				if err := c.save(ctx, r, entries, now); err != nil {
					return r, err
				}
			}
		}
	}

	c.logger.Info("collection complete", "found", r.TotalFound, "new", r.NewArticles, "duplicates", r.Duplicates)
	return r, nil
}

func (c *Collector) save(ctx context.Context, r *Result, entries []Entry, now time.Time) error {
	for _, entry := range entries {
		r.TotalFound++

		exists, err := c.store.URLExists(ctx, entry.URL)
		if err != nil {
			return fmt.Errorf("checking %s: %w", entry.URL, err)
		}
		if exists {
			r.Duplicates++
			continue
		}
		c.enrich(ctx, r, &entry)

		published := entry.Published
		if published.IsZero() {
			published = now
		}

		inserted, err := c.store.InsertArticle(ctx, article.Article{
			ID:        uuid.NewString(),
			Title:     entry.Title,
			URL:       entry.URL,
			Source:    entry.Source,
			Summary:   entry.Summary,
			Published: published.UTC().Format(time.RFC3339),
			FetchedAt: now.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return fmt.Errorf("storing %s: %w", entry.URL, err)
		}
		if inserted {
			r.NewArticles++
			r.Sources[entry.Source]++
		} else {
			r.Duplicates++
		}
	}
	return nil
}

// enrich replaces a short summary with the readable page text.
func (c *Collector) enrich(ctx context.Context, r *Result, entry *Entry) {
	if c.enricher == nil || utf8.RuneCountInString(entry.Summary) >= c.minChars {
		return
	}
	text, err := c.enricher.Extract(ctx, entry.URL)
	if err != nil {
		c.logger.Debug("enrichment failed", "url", entry.URL, "error", err)
		return
	}
	if utf8.RuneCountInString(text) > utf8.RuneCountInString(entry.Summary) {
		entry.Summary = text
		r.Enriched++
	}
}
