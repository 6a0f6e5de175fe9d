package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/JaneYeo/llm-lens/internal/article"
)

// timeLayout sorts lexicographically and matches SQLite's CURRENT_TIMESTAMP.
const timeLayout = "2006-01-02 15:04:05.000000"

var articleColumns = []string{
	"id", "title", "url", "source", "summary", "published", "fetched_at", "status",
	"headline", "analysis_json", "facts_json", "image_path", "critique_json",
	"created_at", "updated_at",
}

// InsertArticle stores a newly ingested article with status ingested.
// It returns false without error when the url or id already exists.
func (db *DB) InsertArticle(ctx context.Context, a article.Article) (bool, error) {
	if a.ID == "" {
		return false, errors.New("article id is required")
	}
	if a.URL == "" {
		return false, errors.New("article url is required")
	}

	now := formatTime(time.Now())
	fetchedAt := a.FetchedAt
	if fetchedAt == "" {
		fetchedAt = time.Now().UTC().Format(time.RFC3339)
	}

	query, args, err := db.qb.Insert("articles").
		Columns("id", "title", "url", "source", "summary", "published", "fetched_at", "status", "created_at", "updated_at").
		Values(a.ID, a.Title, a.URL, nullable(a.Source), nullable(a.Summary), nullable(a.Published),
			fetchedAt, string(article.StatusIngested), now, now).
		Suffix("ON CONFLICT DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building insert: %w", err)
	}

	result, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("inserting article: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n > 0, nil
}

// GetByStatus returns up to limit articles in exactly the given status,
// most recently created first.
func (db *DB) GetByStatus(ctx context.Context, status article.Status, limit int, filters ...Filter) ([]article.Article, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", article.ErrUnknownStatus, status)
	}

	q := db.qb.Select(articleColumns...).
		From("articles").
		Where(sq.Eq{"status": string(status)}).
		OrderBy("created_at DESC", "rowid DESC")
	for _, f := range filters {
		cond, err := filterCondition(f)
		if err != nil {
			return nil, err
		}
		q = q.Where(cond)
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	return db.queryArticles(ctx, q)
}

func filterCondition(f Filter) (sq.Sqlizer, error) {
	switch f {
	case Unverified:
		return sq.Expr("(analysis_json IS NULL OR json_extract(analysis_json, '$.verification') IS NULL)"), nil
	case Uncritiqued:
		return sq.Eq{"critique_json": nil}, nil
	case LocalImage:
		return sq.Like{"image_path": LocalImagePrefix + "%"}, nil
	}
	return nil, fmt.Errorf("unknown filter %q", f)
}

// GetArticle returns a single article by id.
func (db *DB) GetArticle(ctx context.Context, id string) (*article.Article, error) {
	q := db.qb.Select(articleColumns...).From("articles").Where(sq.Eq{"id": id})
	articles, err := db.queryArticles(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(articles) == 0 {
		return nil, ErrNotFound
	}
	return &articles[0], nil
}

// URLExists reports whether an article with this URL is already stored.
func (db *DB) URLExists(ctx context.Context, url string) (bool, error) {
	query, args, err := db.qb.Select("1").From("articles").Where(sq.Eq{"url": url}).Limit(1).ToSql()
	if err != nil {
		return false, fmt.Errorf("building url query: %w", err)
	}
	var one int
	err = db.conn.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking url: %w", err)
	}
	return true, nil
}

// UpdateStatus sets the status of one article and applies the patch in a
// single statement. Patch fields overwrite their columns as a whole.
func (db *DB) UpdateStatus(ctx context.Context, id string, status article.Status, patch article.Patch) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", article.ErrUnknownStatus, status)
	}

	q := db.qb.Update("articles").
		Set("status", string(status)).
		Set("updated_at", formatTime(time.Now())).
		Where(sq.Eq{"id": id})

	if patch.Headline != nil {
		q = q.Set("headline", *patch.Headline)
	}
	if patch.Analysis != nil {
		data, err := json.Marshal(patch.Analysis)
		if err != nil {
			return fmt.Errorf("encoding analysis: %w", err)
		}
		q = q.Set("analysis_json", string(data))
	}
	if patch.Facts != nil {
		data, err := json.Marshal(patch.Facts)
		if err != nil {
			return fmt.Errorf("encoding facts: %w", err)
		}
		q = q.Set("facts_json", string(data))
	}
	switch {
	case patch.ImagePath != nil:
		q = q.Set("image_path", *patch.ImagePath)
	case patch.ClearImage:
		q = q.Set("image_path", nil)
	}
	switch {
	case patch.Critique != nil:
		data, err := json.Marshal(patch.Critique)
		if err != nil {
			return fmt.Errorf("encoding critique: %w", err)
		}
		q = q.Set("critique_json", string(data))
	case patch.ClearCritique:
		q = q.Set("critique_json", nil)
	}

	return db.execUpdate(ctx, q)
}

// Requeue forces an article back into a status, bypassing the transition
// table. It is a maintenance operation and never used by the pipeline.
func (db *DB) Requeue(ctx context.Context, id string, status article.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", article.ErrUnknownStatus, status)
	}
	q := db.qb.Update("articles").
		Set("status", string(status)).
		Set("updated_at", formatTime(time.Now())).
		Where(sq.Eq{"id": id})
	return db.execUpdate(ctx, q)
}

func (db *DB) execUpdate(ctx context.Context, q sq.UpdateBuilder) error {
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	result, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating article: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetFeedArticles returns distilled and visualized articles, newest
// publication first.
func (db *DB) GetFeedArticles(ctx context.Context, fq FeedQuery) ([]article.Article, error) {
	q := db.qb.Select(articleColumns...).
		From("articles").
		Where(sq.Eq{"status": []string{string(article.StatusVisualized), string(article.StatusDistilled)}}).
		OrderBy("published DESC", "created_at DESC")
	if fq.Source != "" && !strings.EqualFold(fq.Source, "all") {
		q = q.Where(sq.Eq{"source": fq.Source})
	}
	if fq.Limit > 0 {
		q = q.Limit(uint64(fq.Limit))
	}
	if fq.Offset > 0 {
		if fq.Limit <= 0 {
			// SQLite requires LIMIT before OFFSET.
			q = q.Limit(uint64(1 << 62))
		}
		q = q.Offset(uint64(fq.Offset))
	}
	return db.queryArticles(ctx, q)
}

// GetStats returns the number of articles per status.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT status, COUNT(*) FROM articles GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	defer rows.Close()

	s := &Stats{ByStatus: make(map[article.Status]int)}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		s.ByStatus[article.Status(status)] = count
		s.Total += count
	}
	return s, rows.Err()
}

// GetSourceStats returns article counts grouped by source and status.
func (db *DB) GetSourceStats(ctx context.Context) ([]SourceCount, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT COALESCE(source, ''), status, COUNT(*) FROM articles
		GROUP BY source, status ORDER BY source, status`)
	if err != nil {
		return nil, fmt.Errorf("querying source stats: %w", err)
	}
	defer rows.Close()

	var out []SourceCount
	for rows.Next() {
		var c SourceCount
		var status string
		if err := rows.Scan(&c.Source, &status, &c.Count); err != nil {
			return nil, err
		}
		c.Status = article.Status(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (db *DB) queryArticles(ctx context.Context, q sq.SelectBuilder) ([]article.Article, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying articles: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

func scanArticles(rows *sql.Rows) ([]article.Article, error) {
	var articles []article.Article
	for rows.Next() {
		var (
			a                                     article.Article
			source, summary, published, fetchedAt *string
			status                                string
			headline, analysisJSON, factsJSON     *string
			imagePath, critiqueJSON               *string
			createdAt, updatedAt                  *string
		)
		if err := rows.Scan(&a.ID, &a.Title, &a.URL, &source, &summary, &published, &fetchedAt,
			&status, &headline, &analysisJSON, &factsJSON, &imagePath, &critiqueJSON,
			&createdAt, &updatedAt); err != nil {
			return nil, err
		}

		a.Source = deref(source)
		a.Summary = deref(summary)
		a.Published = deref(published)
		a.FetchedAt = deref(fetchedAt)
		a.Status = article.Status(status)
		a.Headline = deref(headline)
		if imagePath != nil && *imagePath != "" {
			a.ImagePath = imagePath
		}
		a.Analysis = decodeJSON[article.Analysis](a.ID, "analysis_json", analysisJSON)
		a.Facts = decodeJSON[article.Facts](a.ID, "facts_json", factsJSON)
		a.Critique = decodeJSON[article.Critique](a.ID, "critique_json", critiqueJSON)
		a.CreatedAt = parseTime(deref(createdAt))
		a.UpdatedAt = parseTime(deref(updatedAt))

		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// decodeJSON treats a malformed column like a missing one.
func decodeJSON[T any](id, column string, raw *string) *T {
	if raw == nil || *raw == "" || *raw == "null" {
		return nil
	}
	var v T
	if err := json.Unmarshal([]byte(*raw), &v); err != nil {
		slog.Warn("ignoring malformed column", "id", id, "column", column, "error", err)
		return nil
	}
	return &v
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	for _, layout := range []string{timeLayout, "2006-01-02 15:04:05", time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
