package collect

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
)

// Entry is one candidate item read from a source.
type Entry struct {
	URL       string
	Title     string
	Published time.Time // zero when the source gives no usable date
	Summary   string
	Source    string
}

// FeedParser parses RSS/Atom feeds.
type FeedParser struct {
	parser *gofeed.Parser
}

// NewFeedParser creates a FeedParser sending requests through client.
func NewFeedParser(client *http.Client, userAgent string) *FeedParser {
	p := gofeed.NewParser()
	p.Client = client
	p.UserAgent = userAgent
	return &FeedParser{parser: p}
}

// Parse reads one feed and returns entries published after cutoff, in feed
// order, capped at limit when limit is positive.
func (fp *FeedParser) Parse(ctx context.Context, feedURL, source string, limit int, cutoff time.Time) ([]Entry, error) {
	feed, err := fp.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, item := range feed.Items {
		if limit > 0 && len(entries) >= limit {
			break
		}

		entry := parseItem(item, source)
		if entry == nil {
			continue
		}
		if isWithinWindow(entry.Published, cutoff) {
			entries = append(entries, *entry)
		}
	}

	return entries, nil
}

func parseItem(item *gofeed.Item, source string) *Entry {
	itemURL := item.Link
	if itemURL == "" {
		itemURL = item.GUID
	}
	if itemURL == "" {
		return nil
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		return nil
	}

	var published time.Time
	if item.PublishedParsed != nil {
		published = item.PublishedParsed.UTC()
	} else if item.UpdatedParsed != nil {
		published = item.UpdatedParsed.UTC()
	}

	var summary string
	if item.Content != "" {
		summary = htmlToText(item.Content)
	} else if item.Description != "" {
		summary = htmlToText(item.Description)
	}

	return &Entry{
		URL:       itemURL,
		Title:     title,
		Published: published,
		Summary:   summary,
		Source:    source,
	}
}

// isWithinWindow gives undated entries the benefit of the doubt.
func isWithinWindow(published, cutoff time.Time) bool {
	if published.IsZero() {
		return true
	}
	return !published.Before(cutoff)
}

// htmlToText flattens an HTML fragment into single-spaced plain text.
func htmlToText(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc.Find("script, style").Remove()

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// extractSourceName derives a display name from a feed URL, for feeds
// configured without one.
func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds.", "export."} {
		host = strings.TrimPrefix(host, prefix)
	}

	name := host
	if parts := strings.Split(host, "."); len(parts) >= 2 {
		name = parts[len(parts)-2]
	}
	if name == "" {
		return feedURL
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// redditFeedURL builds the public RSS listing of a subreddit.
func redditFeedURL(base, subreddit, filter string) string {
	if filter == "" {
		filter = "hot"
	}
	return strings.TrimRight(base, "/") + "/r/" + url.PathEscape(subreddit) + "/" + url.PathEscape(filter) + "/.rss"
}
