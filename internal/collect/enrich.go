package collect

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
)

const (
	minExtractedChars = 100
	maxExtractedChars = 8000
	maxPageBytes      = 5 << 20
)

// Enricher fetches full article text via HTTP + readability extraction.
// A domain answering with an HTTP error is not retried for the rest of
// the run.
type Enricher struct {
	client    *http.Client
	userAgent string
	failed    map[string]struct{}
}

// NewEnricher creates a new content enricher.
func NewEnricher(client *http.Client, userAgent string) *Enricher {
	return &Enricher{client: client, userAgent: userAgent, failed: make(map[string]struct{})}
}

// Reset forgets the domains that failed during a previous run.
func (e *Enricher) Reset() {
	clear(e.failed)
}

// Extract returns the readable text of the page at articleURL, or "" when
// nothing useful could be extracted.
func (e *Enricher) Extract(ctx context.Context, articleURL string) (string, error) {
	u, err := url.Parse(articleURL)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	domain := strings.ToLower(u.Host)
	if _, failed := e.failed[domain]; failed {
		return "", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", articleURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		e.failed[domain] = struct{}{}
		return "", fmt.Errorf("fetching %s: HTTP %d", articleURL, resp.StatusCode)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, maxPageBytes), u)
	if err != nil {
		return "", fmt.Errorf("extracting %s: %w", articleURL, err)
	}

	text := strings.Join(strings.Fields(article.TextContent), " ")
	if len(text) <= minExtractedChars {
		return "", nil
	}
	return truncateRunes(text, maxExtractedChars), nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
