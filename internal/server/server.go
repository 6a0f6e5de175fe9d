// Package server serves the published feed over HTTP.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/JaneYeo/llm-lens/internal/article"
	"github.com/JaneYeo/llm-lens/internal/database"
	"github.com/JaneYeo/llm-lens/internal/publish"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	defaultLimit = 30
	maxLimit     = 200
)

// Store is the read side of the record store used by the server.
type Store interface {
	publish.FeedStore
	GetStats(ctx context.Context) (*database.Stats, error)
	GetSourceStats(ctx context.Context) ([]database.SourceCount, error)
}

// Server is the HTTP server for the feed API and the feed page.
type Server struct {
	store   Store
	feedDir string
	index   *template.Template
	mux     *http.ServeMux
	logger  *slog.Logger
}

// New creates a new Server. Images are served from feedDir under /feed/.
func New(store Store, feedDir string, logger *slog.Logger) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": func(text string) template.HTML {
			return template.HTML(publish.RenderMarkdown(text)) //nolint: gosec
		},
	}

	index, err := template.New("index.html").Funcs(funcMap).ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parsing index template: %w", err)
	}

	s := &Server{
		store:   store,
		feedDir: feedDir,
		index:   index,
		mux:     http.NewServeMux(),
		logger:  logger.With("component", "server"),
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.Handle("GET "+database.LocalImagePrefix, http.StripPrefix(database.LocalImagePrefix, http.FileServer(http.Dir(s.feedDir))))
	s.mux.HandleFunc("GET /api/feed", s.handleFeed)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	q, err := feedQuery(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	articles, err := s.store.GetFeedArticles(r.Context(), q)
	if err != nil {
		s.logger.Error("reading feed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "feed unavailable"})
		return
	}
	s.writeJSON(w, http.StatusOK, publish.Entries(articles))
}

type sourceStat struct {
	Source string         `json:"source"`
	Status article.Status `json:"status"`
	Count  int            `json:"count"`
}

type statsResponse struct {
	Total    int                    `json:"total"`
	ByStatus map[article.Status]int `json:"by_status"`
	BySource []sourceStat           `json:"by_source"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.logger.Error("reading stats", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "stats unavailable"})
		return
	}
	counts, err := s.store.GetSourceStats(r.Context())
	if err != nil {
		s.logger.Error("reading source stats", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "stats unavailable"})
		return
	}

	resp := statsResponse{Total: stats.Total, ByStatus: stats.ByStatus, BySource: make([]sourceStat, 0, len(counts))}
	for _, c := range counts {
		resp.BySource = append(resp.BySource, sourceStat(c))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	q, err := feedQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	articles, err := s.store.GetFeedArticles(r.Context(), q)
	if err != nil {
		s.logger.Error("reading feed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	counts, err := s.store.GetSourceStats(r.Context())
	if err != nil {
		s.logger.Error("reading source stats", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var sources []string
	seen := make(map[string]bool)
	for _, c := range counts {
		if c.Source == "" || seen[c.Source] || !c.Status.IsFeedEligible() {
			continue
		}
		seen[c.Source] = true
		sources = append(sources, c.Source)
	}

	next := 0
	if len(articles) == q.Limit {
		next = q.Offset + q.Limit
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.index.Execute(w, map[string]any{
		"Entries": publish.Entries(articles),
		"Sources": sources,
		"Source":  q.Source,
		"Next":    next,
	}); err != nil {
		s.logger.Error("rendering index", "error", err)
	}
}

// feedQuery reads offset, limit and source from the query string.
func feedQuery(r *http.Request) (database.FeedQuery, error) {
	q := database.FeedQuery{Limit: defaultLimit, Source: r.URL.Query().Get("source")}

	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid offset %q", v)
		}
		q.Offset = n
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return q, fmt.Errorf("invalid limit %q", v)
		}
		q.Limit = min(n, maxLimit)
	}
	return q, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response", "error", err)
	}
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "url", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
