package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseDefaultConfig(t *testing.T) {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		t.Fatalf("failed to parse default config: %v", err)
	}

	if len(cfg.Sources.Feeds) != 7 {
		t.Errorf("expected 7 feeds, got %d", len(cfg.Sources.Feeds))
	}
	arxiv := cfg.Sources.Feeds[len(cfg.Sources.Feeds)-1]
	if arxiv.Limit != 5 {
		t.Errorf("expected arxiv feed limit 5, got %d", arxiv.Limit)
	}
	if len(cfg.Sources.Reddit.Subreddits) != 4 {
		t.Errorf("expected 4 subreddits, got %d", len(cfg.Sources.Reddit.Subreddits))
	}
	if cfg.Sources.APIs.NewsAPI.Enabled {
		t.Error("expected newsapi disabled by default")
	}

	p := cfg.Pipeline
	if p.LookbackDays != 7 || p.RelevanceThreshold != 3 {
		t.Errorf("unexpected pipeline defaults: %+v", p)
	}
	if p.CycleInterval != 1800*time.Second {
		t.Errorf("expected 30m cycle interval, got %v", p.CycleInterval)
	}
	if p.Retry.MaxAttempts != 3 || p.Retry.BaseDelay != 10*time.Second {
		t.Errorf("unexpected retry defaults: %+v", p.Retry)
	}
	if p.Stages.Score.Limit != 50 || p.Stages.Score.Delay != time.Second {
		t.Errorf("unexpected score stage: %+v", p.Stages.Score)
	}
	if p.Stages.Visualize.Limit != 10 || p.Stages.Visualize.Delay != 3*time.Second {
		t.Errorf("unexpected visualize stage: %+v", p.Stages.Visualize)
	}
	if p.Stages.Upload.Limit != 100 || p.Stages.Critique.Limit != 50 {
		t.Error("unexpected upload/critique limits")
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestParseMinimalConfig(t *testing.T) {
	data := []byte(`
llm:
  provider: openai
pipeline:
  relevance_threshold: 6
server:
  port: 9000
`)
	cfg, err := parse(data)
	if err != nil {
		t.Fatalf("failed to parse minimal config: %v", err)
	}

	if cfg.LLM.Provider != "openai" {
		t.Errorf("expected provider 'openai', got %q", cfg.LLM.Provider)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Pipeline.RelevanceThreshold != 6 {
		t.Errorf("expected threshold 6, got %d", cfg.Pipeline.RelevanceThreshold)
	}
	// Defaults should still be set for unspecified fields
	if cfg.LLM.OllamaURL != "http://localhost:11434" {
		t.Errorf("expected default ollama_url, got %q", cfg.LLM.OllamaURL)
	}
	if cfg.Pipeline.Stages.Distill.Limit != 30 {
		t.Errorf("expected default distill limit, got %d", cfg.Pipeline.Stages.Distill.Limit)
	}
	if len(cfg.Pipeline.ExcludedSources) != 1 || cfg.Pipeline.ExcludedSources[0] != "arxiv" {
		t.Errorf("expected default exclusions, got %v", cfg.Pipeline.ExcludedSources)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "google-key")
	t.Setenv("OPENAI_API_KEY", "openai-key")
	t.Setenv("CLOUDINARY_URL", "cloudinary://k:s@cloud")
	t.Setenv("NEWSAPI_KEY", "news-key")

	cfg, err := parse([]byte("{}"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.LLM.GeminiAPIKey != "google-key" {
		t.Errorf("expected GOOGLE_API_KEY fallback, got %q", cfg.LLM.GeminiAPIKey)
	}
	if cfg.LLM.OpenAIAPIKey != "openai-key" {
		t.Errorf("expected openai key, got %q", cfg.LLM.OpenAIAPIKey)
	}
	if cfg.Upload.CloudinaryURL != "cloudinary://k:s@cloud" {
		t.Errorf("expected cloudinary url, got %q", cfg.Upload.CloudinaryURL)
	}
	if cfg.Sources.APIs.NewsAPI.APIKey != "news-key" {
		t.Errorf("expected newsapi key, got %q", cfg.Sources.APIs.NewsAPI.APIKey)
	}

	t.Setenv("GEMINI_API_KEY", "gemini-key")
	cfg, _ = parse([]byte("{}"))
	if cfg.LLM.GeminiAPIKey != "gemini-key" {
		t.Errorf("expected GEMINI_API_KEY to win, got %q", cfg.LLM.GeminiAPIKey)
	}
}

func TestValidate(t *testing.T) {
	cfg, err := parse([]byte(`
llm:
  provider: claude
pipeline:
  lookback_days: 0
  retry:
    max_attempts: 0
  stages:
    verify:
      limit: 0
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"llm.provider", "lookback_days", "max_attempts", "stages.verify.limit"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %q, got %v", want, err)
		}
	}
}

func TestIsExcludedSource(t *testing.T) {
	p := Pipeline{ExcludedSources: []string{"arxiv", " "}}
	if !p.IsExcludedSource("ArXiv CS.AI") {
		t.Error("expected case-insensitive substring match")
	}
	if p.IsExcludedSource("TechCrunch AI") {
		t.Error("did not expect TechCrunch to be excluded")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, DefaultConfigYAML, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if len(cfg.Sources.Feeds) == 0 {
		t.Error("expected feeds to be populated from file")
	}

	if _, err := ResolveConfigPath(path); err != nil {
		t.Errorf("explicit path should resolve: %v", err)
	}
	if _, err := ResolveConfigPath(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit path")
	}
}

func TestDirectories(t *testing.T) {
	cfg := &Config{}
	if cfg.GetDataDir() == "" {
		t.Error("expected non-empty default data dir")
	}

	cfg.Output.DataDir = "/custom/path"
	if cfg.GetDataDir() != "/custom/path" {
		t.Errorf("expected '/custom/path', got %q", cfg.GetDataDir())
	}
	if cfg.GetFeedDir() != filepath.Join("/custom/path", "feed") {
		t.Errorf("unexpected feed dir %q", cfg.GetFeedDir())
	}
	if cfg.DatabasePath() != filepath.Join("/custom/path", "llmlens.db") {
		t.Errorf("unexpected db path %q", cfg.DatabasePath())
	}

	cfg.Output.FeedDir = "/srv/feed"
	if cfg.GetFeedDir() != "/srv/feed" {
		t.Errorf("expected explicit feed dir, got %q", cfg.GetFeedDir())
	}
}
