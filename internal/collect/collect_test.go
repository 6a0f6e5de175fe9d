package collect

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaneYeo/llm-lens/internal/article"
	"github.com/JaneYeo/llm-lens/internal/config"
	"github.com/JaneYeo/llm-lens/internal/database"
	"github.com/JaneYeo/llm-lens/internal/logging"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

const techRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>Tech</title><link>https://tech.example</link><description>Tech news</description>
<item><title>Fresh AI news</title><link>https://tech.example/fresh</link>
<pubDate>Mon, 09 Mar 2026 10:00:00 +0000</pubDate>
<description>&lt;p&gt;A &lt;b&gt;new&lt;/b&gt; model &amp;amp; more&lt;/p&gt;</description></item>
<item><title>Old news</title><link>https://tech.example/old</link>
<pubDate>Sun, 01 Feb 2026 10:00:00 +0000</pubDate></item>
<item><title>Undated</title><link>https://tech.example/undated</link></item>
<item><title>   </title><link>https://tech.example/untitled</link></item>
</channel></rss>`

const arxivAtom = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"><title>ArXiv</title>
<entry><title>Paper one</title><link href="https://arxiv.example/1"/><id>1</id><updated>2026-03-09T08:00:00Z</updated></entry>
<entry><title>Paper two</title><link href="https://arxiv.example/2"/><id>2</id><updated>2026-03-08T08:00:00Z</updated></entry>
<entry><title>Paper three</title><link href="https://arxiv.example/3"/><id>3</id><updated>2026-03-07T08:00:00Z</updated></entry>
</feed>`

const redditAtom = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"><title>r/LocalLLaMA</title>
<entry><title>New 3B model beats 7B</title>
<link href="https://www.reddit.com/r/LocalLLaMA/comments/abc/new_3b/"/><id>t3_abc</id>
<updated>2026-03-09T08:00:00+00:00</updated><published>2026-03-09T08:00:00+00:00</published>
<content type="html">&lt;p&gt;Benchmarks inside&lt;/p&gt;</content></entry>
</feed>`

const newsAPIResponse = `{"status":"ok","articles":[
{"url":"https://news.example/a","title":"Agents everywhere","publishedAt":"2026-03-08T09:00:00Z","content":"Agents are here.","source":{"name":"Example News"}},
{"url":"https://removed.com","title":"[Removed]","publishedAt":"2026-03-08T09:00:00Z"},
{"url":"https://tech.example/fresh","title":"Fresh AI news","publishedAt":"2026-03-09T10:00:00Z","description":"Same story"}
]}`

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newSourceServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	serve := func(body, contentType string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", contentType)
			fmt.Fprint(w, body)
		}
	}
	mux.HandleFunc("/tech.xml", serve(techRSS, "application/rss+xml"))
	mux.HandleFunc("/arxiv.xml", serve(arxivAtom, "application/atom+xml"))
	mux.HandleFunc("/r/LocalLLaMA/hot/.rss", func(w http.ResponseWriter, r *http.Request) {
		if r.UserAgent() != userAgent {
			http.Error(w, "blocked", http.StatusTooManyRequests)
			return
		}
		serve(redditAtom, "application/atom+xml")(w, r)
	})
	mux.HandleFunc("/broken.xml", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/v2/everything", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "news-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("from") != "2026-03-03" || r.URL.Query().Get("to") != "2026-03-10" {
			http.Error(w, "bad window", http.StatusBadRequest)
			return
		}
		serve(newsAPIResponse, "application/json")(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(base string) *config.Config {
	cfg := &config.Config{}
	cfg.Pipeline.LookbackDays = 7
	cfg.Sources.Feeds = []config.Feed{
		{Name: "Tech", URL: base + "/tech.xml"},
		{Name: "ArXiv", URL: base + "/arxiv.xml", Limit: 2},
		{Name: "Broken", URL: base + "/broken.xml"},
	}
	cfg.Sources.Reddit = config.RedditConfig{Enabled: true, Filter: "hot", Subreddits: []string{"LocalLLaMA"}}
	cfg.Sources.APIs.NewsAPI = config.NewsAPIConfig{Enabled: true, APIKey: "news-key"}
	return cfg
}

func newTestCollector(t *testing.T, cfg *config.Config, store Inserter, base string, sleeps *[]time.Duration) *Collector {
	t.Helper()
	return NewCollector(cfg, store, logging.Discard(),
		WithRedditBaseURL(base),
		WithNewsAPIURL(base+"/v2/everything"),
		WithClock(func() time.Time { return testNow }),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return ctx.Err()
		}),
	)
}

func TestCollectAllSources(t *testing.T) {
	srv := newSourceServer(t)
	db := openTestDB(t)
	var sleeps []time.Duration
	c := newTestCollector(t, testConfig(srv.URL), db, srv.URL, &sleeps)

	r, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7, r.TotalFound)
	assert.Equal(t, 6, r.NewArticles)
	assert.Equal(t, 1, r.Duplicates)
	assert.Equal(t, 1, r.FailedSources)
	assert.Equal(t, map[string]int{"Tech": 2, "ArXiv": 2, "r/LocalLLaMA": 1, "Example News": 1}, r.Sources)
	assert.Equal(t, []time.Duration{feedDelay, feedDelay, redditDelay}, sleeps)

	stored, err := db.GetByStatus(context.Background(), article.StatusIngested, 100)
	require.NoError(t, err)
	require.Len(t, stored, 6)

	byURL := make(map[string]article.Article)
	for _, a := range stored {
		assert.NotEmpty(t, a.ID)
		byURL[a.URL] = a
	}
	fresh := byURL["https://tech.example/fresh"]
	assert.Equal(t, "A new model & more", fresh.Summary)
	assert.Equal(t, "2026-03-09T10:00:00Z", fresh.Published)
	assert.Equal(t, "Tech", fresh.Source)
	assert.Equal(t, testNow.Format(time.RFC3339), byURL["https://tech.example/undated"].Published)
	assert.Equal(t, "Benchmarks inside", byURL["https://www.reddit.com/r/LocalLLaMA/comments/abc/new_3b/"].Summary)
	assert.NotContains(t, byURL, "https://tech.example/old")
	assert.NotContains(t, byURL, "https://arxiv.example/3")
}

func TestCollectIsIdempotent(t *testing.T) {
	srv := newSourceServer(t)
	db := openTestDB(t)
	var sleeps []time.Duration
	c := newTestCollector(t, testConfig(srv.URL), db, srv.URL, &sleeps)

	_, err := c.Collect(context.Background())
	require.NoError(t, err)

	r, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, r.NewArticles)
	assert.Equal(t, 7, r.Duplicates)

	stats, err := db.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Total)
}

func TestCollectStopsOnCancel(t *testing.T) {
	srv := newSourceServer(t)
	var sleeps []time.Duration
	c := newTestCollector(t, testConfig(srv.URL), openTestDB(t), srv.URL, &sleeps)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Collect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollectSkipsNewsAPIWithoutKey(t *testing.T) {
	srv := newSourceServer(t)
	cfg := testConfig(srv.URL)
	cfg.Sources.Feeds = nil
	cfg.Sources.Reddit.Enabled = false
	cfg.Sources.APIs.NewsAPI.APIKey = ""
	var sleeps []time.Duration
	c := newTestCollector(t, cfg, openTestDB(t), srv.URL, &sleeps)

	r, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, r.TotalFound)
	assert.Equal(t, 0, r.FailedSources)
}

type failingInserter struct{}

func (failingInserter) URLExists(context.Context, string) (bool, error) { return false, nil }

func (failingInserter) InsertArticle(context.Context, article.Article) (bool, error) {
	return false, fmt.Errorf("disk full")
}

func TestCollectStoreErrorEndsRun(t *testing.T) {
	srv := newSourceServer(t)
	var sleeps []time.Duration
	c := newTestCollector(t, testConfig(srv.URL), failingInserter{}, srv.URL, &sleeps)

	_, err := c.Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, sleeps)
}

const articlePage = `<!DOCTYPE html>
<html><head><title>Small models, big results</title></head>
<body>
<nav><a href="/">Home</a></nav>
<article>
<h1>Small models, big results</h1>
<p>Researchers released a three billion parameter language model that outperforms several seven billion parameter models on reasoning benchmarks while running on a laptop.</p>
<p>The team credits a curated synthetic training set and a longer training schedule, and says the weights are available under a permissive license for commercial use.</p>
<p>Independent testers confirmed the headline numbers on math and coding tasks, although they noted weaker performance on long-context retrieval compared with larger models.</p>
</article>
</body></html>`

func TestCollectEnrichesShortSummaries(t *testing.T) {
	mux := http.NewServeMux()
	var base string
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>Blog</title>
<item><title>Small models</title><link>%s/post</link><description>Short teaser</description></item>
</channel></rss>`, base)
	})
	mux.HandleFunc("/post", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, articlePage)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	base = srv.URL

	cfg := &config.Config{}
	cfg.Pipeline.LookbackDays = 7
	cfg.Sources.Feeds = []config.Feed{{Name: "Blog", URL: srv.URL + "/feed.xml"}}
	cfg.Sources.Enrich = config.EnrichConfig{Enabled: true, MinSummaryChars: 200}
	db := openTestDB(t)
	var sleeps []time.Duration
	c := newTestCollector(t, cfg, db, srv.URL, &sleeps)

	r, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, r.Enriched)

	stored, err := db.GetByStatus(context.Background(), article.StatusIngested, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Contains(t, stored[0].Summary, "curated synthetic training set")
}

func TestEnricherSkipsFailedDomain(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	})
	mux.HandleFunc("/post", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, articlePage)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e := NewEnricher(srv.Client(), userAgent)
	ctx := context.Background()

	_, err := e.Extract(ctx, srv.URL+"/missing")
	require.Error(t, err)

	text, err := e.Extract(ctx, srv.URL+"/post")
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.Equal(t, int32(1), hits.Load())

	e.Reset()
	text, err = e.Extract(ctx, srv.URL+"/post")
	require.NoError(t, err)
	assert.Contains(t, text, "three billion parameter")
	assert.Equal(t, int32(2), hits.Load())
}

func TestHTMLToText(t *testing.T) {
	got := htmlToText("<p>Hello <b>world</b></p><script>track()</script><p>Second&nbsp;line &amp; more</p>")
	assert.Equal(t, "Hello world Second line & more", got)
	assert.Equal(t, "plain text", htmlToText("  plain \n text "))
}

func TestIsWithinWindow(t *testing.T) {
	cutoff := testNow.AddDate(0, 0, -7)
	assert.True(t, isWithinWindow(time.Time{}, cutoff))
	assert.True(t, isWithinWindow(cutoff, cutoff))
	assert.False(t, isWithinWindow(cutoff.Add(-time.Second), cutoff))
}

func TestExtractSourceName(t *testing.T) {
	assert.Equal(t, "Openai", extractSourceName("https://blog.openai.com/rss"))
	assert.Equal(t, "Arxiv", extractSourceName("http://export.arxiv.org/api/query"))
	assert.Equal(t, "not a url", extractSourceName("not a url"))
}

func TestRedditFeedURL(t *testing.T) {
	assert.Equal(t, "https://www.reddit.com/r/LocalLLaMA/hot/.rss", redditFeedURL("https://www.reddit.com/", "LocalLLaMA", ""))
	assert.Equal(t, "https://www.reddit.com/r/OpenAI/top/.rss", redditFeedURL("https://www.reddit.com", "OpenAI", "top"))
}

func TestResultString(t *testing.T) {
	r := &Result{TotalFound: 4, NewArticles: 2, Duplicates: 1, FailedSources: 1}
	assert.True(t, strings.HasPrefix(r.String(), "found=4 new=2 duplicates=1"))
}
