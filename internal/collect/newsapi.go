package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	newsAPIBaseURL      = "https://newsapi.org/v2/everything"
	defaultNewsAPIQuery = "artificial intelligence large language models"
)

// NewsAPIClient fetches articles from NewsAPI.
type NewsAPIClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewNewsAPIClient creates a new NewsAPI client.
func NewNewsAPIClient(apiKey string, client *http.Client) *NewsAPIClient {
	return &NewsAPIClient{apiKey: apiKey, baseURL: newsAPIBaseURL, client: client}
}

// IsConfigured returns whether the API key is available.
func (c *NewsAPIClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Search returns English articles matching query published since from.
func (c *NewsAPIClient) Search(ctx context.Context, query string, from, to time.Time, pageSize int) ([]Entry, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("newsapi: no API key")
	}
	if query == "" {
		query = defaultNewsAPIQuery
	}
	pageSize = min(max(pageSize, 1), 100)

	params := url.Values{
		"q":        {query},
		"from":     {from.Format("2006-01-02")},
		"to":       {to.Format("2006-01-02")},
		"language": {"en"},
		"pageSize": {strconv.Itoa(pageSize)},
		"sortBy":   {"relevancy"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("newsapi: building request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("newsapi: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("newsapi: HTTP %d", resp.StatusCode)
	}

	var result struct {
		Status   string `json:"status"`
		Message  string `json:"message"`
		Articles []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			PublishedAt string `json:"publishedAt"`
			Content     string `json:"content"`
			Description string `json:"description"`
			Source      struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("newsapi: decoding response: %w", err)
	}
	if result.Status != "ok" {
		return nil, fmt.Errorf("newsapi: status %q: %s", result.Status, result.Message)
	}

	var entries []Entry
	for _, a := range result.Articles {
		if a.URL == "" || a.Title == "" {
			continue
		}
		if a.Title == "[Removed]" || a.URL == "https://removed.com" {
			continue
		}

		var published time.Time
		if t, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
			published = t.UTC()
		}

		summary := a.Content
		if summary == "" {
			summary = a.Description
		}

		source := "NewsAPI"
		if a.Source.Name != "" {
			source = a.Source.Name
		}

		entries = append(entries, Entry{
			URL:       a.URL,
			Title:     strings.TrimSpace(a.Title),
			Published: published,
			Summary:   htmlToText(summary),
			Source:    source,
		})
	}

	return entries, nil
}
