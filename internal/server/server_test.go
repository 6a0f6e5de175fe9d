package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JaneYeo/llm-lens/internal/article"
	"github.com/JaneYeo/llm-lens/internal/database"
	"github.com/JaneYeo/llm-lens/internal/logging"
	"github.com/JaneYeo/llm-lens/internal/publish"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seed inserts articles and moves them to the given status.
func seed(t *testing.T, db *database.DB, status article.Status, articles ...article.Article) {
	t.Helper()
	ctx := context.Background()
	for _, a := range articles {
		if _, err := db.InsertArticle(ctx, a); err != nil {
			t.Fatalf("insert %s: %v", a.ID, err)
		}
		if status == article.StatusIngested {
			continue
		}
		if err := db.UpdateStatus(ctx, a.ID, status, article.Patch{}); err != nil {
			t.Fatalf("update %s: %v", a.ID, err)
		}
	}
}

func newTestServer(t *testing.T, store Store, feedDir string) *Server {
	t.Helper()
	srv, err := New(store, feedDir, logging.Discard())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func get(t *testing.T, srv *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decodeFeed(t *testing.T, rec *httptest.ResponseRecorder) []publish.Entry {
	t.Helper()
	var entries []publish.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decoding feed: %v (%s)", err, rec.Body.String())
	}
	return entries
}

func TestFeedAPI(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, article.StatusVisualized,
		article.Article{ID: "v1", URL: "https://a.com/1", Title: "One", Source: "Wired AI", Published: "2026-02-01"},
		article.Article{ID: "v2", URL: "https://a.com/2", Title: "Two", Source: "r/OpenAI", Published: "2026-02-03"},
	)
	seed(t, db, article.StatusDistilled,
		article.Article{ID: "d1", URL: "https://a.com/3", Title: "Three", Source: "Wired AI", Published: "2026-02-02"},
	)
	seed(t, db, article.StatusIngested,
		article.Article{ID: "i1", URL: "https://a.com/4", Title: "Four", Source: "Wired AI", Published: "2026-02-04"},
	)
	srv := newTestServer(t, db, t.TempDir())

	rec := get(t, srv, "/api/feed")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}
	entries := decodeFeed(t, rec)
	var got []string
	for _, e := range entries {
		got = append(got, e.ID)
	}
	if strings.Join(got, ",") != "v2,d1,v1" {
		t.Errorf("expected v2,d1,v1, got %v", got)
	}

	entries = decodeFeed(t, get(t, srv, "/api/feed?source=Wired+AI"))
	if len(entries) != 2 {
		t.Errorf("expected 2 Wired AI entries, got %d", len(entries))
	}

	entries = decodeFeed(t, get(t, srv, "/api/feed?source=All&offset=1&limit=1"))
	if len(entries) != 1 || entries[0].ID != "d1" {
		t.Errorf("expected d1 at offset 1, got %+v", entries)
	}
}

func TestFeedAPIRejectsBadPaging(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), t.TempDir())

	for _, target := range []string{"/api/feed?offset=-1", "/api/feed?limit=abc", "/api/feed?limit=0"} {
		rec := get(t, srv, target)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestFeedQueryDefaults(t *testing.T) {
	q, err := feedQuery(httptest.NewRequest(http.MethodGet, "/api/feed", nil))
	if err != nil {
		t.Fatal(err)
	}
	if q.Limit != defaultLimit || q.Offset != 0 || q.Source != "" {
		t.Errorf("unexpected defaults: %+v", q)
	}

	q, err = feedQuery(httptest.NewRequest(http.MethodGet, "/api/feed?limit=100000", nil))
	if err != nil {
		t.Fatal(err)
	}
	if q.Limit != maxLimit {
		t.Errorf("expected limit capped at %d, got %d", maxLimit, q.Limit)
	}
}

func TestStatsAPI(t *testing.T) {
	db := openTestDB(t)
	seed(t, db, article.StatusIngested,
		article.Article{ID: "a", URL: "https://a.com", Title: "A", Source: "Guardian AI"},
		article.Article{ID: "b", URL: "https://b.com", Title: "B", Source: "Guardian AI"},
	)
	seed(t, db, article.StatusIgnored,
		article.Article{ID: "c", URL: "https://c.com", Title: "C", Source: "ArXiv CS.AI"},
	)
	srv := newTestServer(t, db, t.TempDir())

	rec := get(t, srv, "/api/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 3 {
		t.Errorf("expected 3 total, got %d", resp.Total)
	}
	if resp.ByStatus[article.StatusIngested] != 2 || resp.ByStatus[article.StatusIgnored] != 1 {
		t.Errorf("unexpected status counts: %v", resp.ByStatus)
	}
	if len(resp.BySource) != 2 {
		t.Errorf("expected 2 source rows, got %+v", resp.BySource)
	}
}

type failingStore struct{}

func (failingStore) GetFeedArticles(context.Context, database.FeedQuery) ([]article.Article, error) {
	return nil, errors.New("disk on fire")
}

func (failingStore) GetStats(context.Context) (*database.Stats, error) {
	return nil, errors.New("disk on fire")
}

func (failingStore) GetSourceStats(context.Context) ([]database.SourceCount, error) {
	return nil, errors.New("disk on fire")
}

func TestStoreErrors(t *testing.T) {
	srv := newTestServer(t, failingStore{}, t.TempDir())

	for _, target := range []string{"/api/feed", "/api/stats", "/"} {
		rec := get(t, srv, target)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("%s: expected 500, got %d", target, rec.Code)
		}
		if strings.Contains(rec.Body.String(), "disk on fire") {
			t.Errorf("%s: internal error leaked to client", target)
		}
	}
}

func TestIndexPage(t *testing.T) {
	db := openTestDB(t)
	img := "/feed/one.png"
	seed(t, db, article.StatusDistilled,
		article.Article{ID: "v1", URL: "https://a.com/1", Title: "One", Source: "Wired AI", Published: "2026-02-01"},
	)
	err := db.UpdateStatus(context.Background(), "v1", article.StatusVisualized, article.Patch{
		ImagePath: &img,
		Facts:     &article.Facts{Headline: "One", SimpleExplanation: "Models got **smaller**.", KeyStats: []string{"3B params"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	srv := newTestServer(t, db, t.TempDir())

	rec := get(t, srv, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"LLM Lens", "<strong>smaller</strong>", "3B params", `src="/feed/one.png"`, "Wired AI"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in index page", want)
		}
	}

	if rec := get(t, srv, "/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown path, got %d", rec.Code)
	}
}

func TestIndexPageEmpty(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), t.TempDir())

	rec := get(t, srv, "/")
	if !strings.Contains(rec.Body.String(), "No articles published yet") {
		t.Error("expected empty feed message")
	}
}

func TestServesFeedImages(t *testing.T) {
	feedDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(feedDir, "x.png"), []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	srv := newTestServer(t, openTestDB(t), feedDir)

	rec := get(t, srv, "/feed/x.png")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "png-bytes" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}

	if rec := get(t, srv, "/feed/none.png"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing image, got %d", rec.Code)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := srv.Serve(ctx, "127.0.0.1:0"); err != nil {
		t.Errorf("expected clean shutdown, got %v", err)
	}
}
