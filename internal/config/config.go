package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

const (
	geminiKeyEnv      = "GEMINI_API_KEY"
	googleKeyEnv      = "GOOGLE_API_KEY"
	openAIKeyEnv      = "OPENAI_API_KEY"
	cloudinaryURLEnv  = "CLOUDINARY_URL"
	defaultNewsAPIEnv = "NEWSAPI_KEY"
)

type Config struct {
	Sources  Sources  `yaml:"sources"`
	LLM      LLM      `yaml:"llm"`
	Pipeline Pipeline `yaml:"pipeline"`
	Upload   Upload   `yaml:"upload"`
	Output   Output   `yaml:"output"`
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
}

type Sources struct {
	Feeds  []Feed       `yaml:"feeds"`
	Reddit RedditConfig `yaml:"reddit"`
	APIs   APIsConfig   `yaml:"apis"`
	Enrich EnrichConfig `yaml:"enrich"`
}

// Feed is one RSS or Atom source. Limit caps the entries taken per run;
// zero means no cap.
type Feed struct {
	URL   string `yaml:"url"`
	Name  string `yaml:"name"`
	Limit int    `yaml:"limit"`
}

type RedditConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Filter     string   `yaml:"filter"`
	Subreddits []string `yaml:"subreddits"`
}

type APIsConfig struct {
	NewsAPI NewsAPIConfig `yaml:"newsapi"`
}

type NewsAPIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKeyEnv string `yaml:"api_key_env"`
	Query     string `yaml:"query"`
	APIKey    string `yaml:"-"`
}

// EnrichConfig controls fetching full article text for candidates whose
// feed summary is shorter than MinSummaryChars.
type EnrichConfig struct {
	Enabled         bool `yaml:"enabled"`
	MinSummaryChars int  `yaml:"min_summary_chars"`
}

type LLM struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	VisionModel string        `yaml:"vision_model"`
	ImageModel  string        `yaml:"image_model"`
	OllamaURL   string        `yaml:"ollama_url"`
	OpenAIModel string        `yaml:"openai_model"`
	Timeout     time.Duration `yaml:"timeout"`

	GeminiAPIKey string `yaml:"-"`
	OpenAIAPIKey string `yaml:"-"`
}

type Pipeline struct {
	LookbackDays       int           `yaml:"lookback_days"`
	CycleInterval      time.Duration `yaml:"cycle_interval"`
	RelevanceThreshold int           `yaml:"relevance_threshold"`
	ExcludedSources    []string      `yaml:"excluded_sources"`
	Retry              Retry         `yaml:"retry"`
	Stages             Stages        `yaml:"stages"`
}

type Retry struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

type Stages struct {
	Score     StageLimits `yaml:"score"`
	Distill   StageLimits `yaml:"distill"`
	Verify    StageLimits `yaml:"verify"`
	Visualize StageLimits `yaml:"visualize"`
	Upload    StageLimits `yaml:"upload"`
	Critique  StageLimits `yaml:"critique"`
}

// StageLimits bounds one stage run: Limit records per batch and a Delay
// between agent calls.
type StageLimits struct {
	Limit int           `yaml:"limit"`
	Delay time.Duration `yaml:"delay"`
}

type Upload struct {
	Folder        string `yaml:"folder"`
	CloudinaryURL string `yaml:"-"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
	FeedDir string `yaml:"feed_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for llmlens.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "llmlens")
}

// DataDir returns the XDG data directory for llmlens.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "llmlens")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/llmlens/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'llmlens init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// defaults mirrors default.yaml minus the source lists, so a sparse user
// file still yields a runnable pipeline.
func defaults() *Config {
	return &Config{
		Sources: Sources{
			Reddit: RedditConfig{Filter: "hot"},
			APIs: APIsConfig{
				NewsAPI: NewsAPIConfig{
					APIKeyEnv: defaultNewsAPIEnv,
					Query:     "artificial intelligence",
				},
			},
			Enrich: EnrichConfig{Enabled: true, MinSummaryChars: 200},
		},
		LLM: LLM{
			Provider:    "gemini",
			Model:       "gemini-2.5-flash",
			VisionModel: "gemini-2.5-flash",
			ImageModel:  "gemini-2.5-flash-image",
			OllamaURL:   "http://localhost:11434",
			OpenAIModel: "gpt-4o-mini",
			Timeout:     120 * time.Second,
		},
		Pipeline: Pipeline{
			LookbackDays:       7,
			CycleInterval:      30 * time.Minute,
			RelevanceThreshold: 3,
			ExcludedSources:    []string{"arxiv"},
			Retry:              Retry{MaxAttempts: 3, BaseDelay: 10 * time.Second},
			Stages: Stages{
				Score:     StageLimits{Limit: 50, Delay: time.Second},
				Distill:   StageLimits{Limit: 30},
				Verify:    StageLimits{Limit: 15, Delay: time.Second},
				Visualize: StageLimits{Limit: 10, Delay: 3 * time.Second},
				Upload:    StageLimits{Limit: 100},
				Critique:  StageLimits{Limit: 50},
			},
		},
		Upload:  Upload{Folder: "llm_lens_feed"},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}
}

// parse parses YAML bytes into a Config, applying defaults and then
// secrets from the environment.
func parse(data []byte) (*Config, error) {
	cfg := defaults()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(geminiKeyEnv); v != "" {
		c.LLM.GeminiAPIKey = v
	} else if v := os.Getenv(googleKeyEnv); v != "" {
		c.LLM.GeminiAPIKey = v
	}

	if v := os.Getenv(openAIKeyEnv); v != "" {
		c.LLM.OpenAIAPIKey = v
	}

	if v := os.Getenv(cloudinaryURLEnv); v != "" {
		c.Upload.CloudinaryURL = v
	}

	keyEnv := c.Sources.APIs.NewsAPI.APIKeyEnv
	if keyEnv == "" {
		keyEnv = defaultNewsAPIEnv
	}
	if v := os.Getenv(keyEnv); v != "" {
		c.Sources.APIs.NewsAPI.APIKey = v
	}
}

// Validate reports values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.LLM.Provider) {
	case "gemini", "openai", "ollama":
	default:
		errs = append(errs, fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider))
	}
	if c.Pipeline.LookbackDays <= 0 {
		errs = append(errs, errors.New("pipeline.lookback_days must be positive"))
	}
	if c.Pipeline.CycleInterval < 0 {
		errs = append(errs, errors.New("pipeline.cycle_interval must not be negative"))
	}
	if c.Pipeline.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("pipeline.retry.max_attempts must be at least 1"))
	}
	if c.Pipeline.Retry.BaseDelay < 0 {
		errs = append(errs, errors.New("pipeline.retry.base_delay must not be negative"))
	}
	for name, s := range c.Pipeline.Stages.byName() {
		if s.Limit <= 0 {
			errs = append(errs, fmt.Errorf("pipeline.stages.%s.limit must be positive", name))
		}
		if s.Delay < 0 {
			errs = append(errs, fmt.Errorf("pipeline.stages.%s.delay must not be negative", name))
		}
	}
	for i, f := range c.Sources.Feeds {
		if f.URL == "" {
			errs = append(errs, fmt.Errorf("sources.feeds[%d]: url is required", i))
		}
	}

	return errors.Join(errs...)
}

func (s Stages) byName() map[string]StageLimits {
	return map[string]StageLimits{
		"score":     s.Score,
		"distill":   s.Distill,
		"verify":    s.Verify,
		"visualize": s.Visualize,
		"upload":    s.Upload,
		"critique":  s.Critique,
	}
}

// IsExcludedSource reports whether articles from source skip distillation.
// Rules match as case-insensitive substrings.
func (p Pipeline) IsExcludedSource(source string) bool {
	src := strings.ToLower(source)
	for _, rule := range p.ExcludedSources {
		rule = strings.ToLower(strings.TrimSpace(rule))
		if rule != "" && strings.Contains(src, rule) {
			return true
		}
	}
	return false
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return expandHome(c.Output.DataDir)
	}
	return DataDir()
}

// GetFeedDir returns the directory holding generated images and index.json.
func (c *Config) GetFeedDir() string {
	if c.Output.FeedDir != "" {
		return expandHome(c.Output.FeedDir)
	}
	return filepath.Join(c.GetDataDir(), "feed")
}

// DatabasePath returns the SQLite file location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.GetDataDir(), "llmlens.db")
}

func expandHome(p string) string {
	if p == "~" {
		return homeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir(), p[2:])
	}
	return p
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
