package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JaneYeo/llm-lens/internal/article"
	"github.com/JaneYeo/llm-lens/internal/collect"
	"github.com/JaneYeo/llm-lens/internal/config"
	"github.com/JaneYeo/llm-lens/internal/database"
	"github.com/JaneYeo/llm-lens/internal/llm"
	"github.com/JaneYeo/llm-lens/internal/logging"
	"github.com/JaneYeo/llm-lens/internal/pipeline"
	"github.com/JaneYeo/llm-lens/internal/publish"
	"github.com/JaneYeo/llm-lens/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "llmlens",
	Short:   "AI news infographic pipeline",
	Long:    "llmlens ingests AI news, scores and distills it with an LLM, verifies the facts, renders infographics and publishes a feed.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "INFO"
		if verbose {
			level = "DEBUG"
		}
		logger = logging.New(level)

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config %s:\n%w", path, err)
		}
		if !verbose {
			logger = logging.New(cfg.Logging.Level)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(requeueCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("llmlens", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/llmlens/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Set GEMINI_API_KEY (or OPENAI_API_KEY) and optionally CLOUDINARY_URL, then run 'llmlens run'.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show article counts by status and source",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s\n\n", cfg.DatabasePath())
		fmt.Printf("Articles: %d\n", stats.Total)
		for _, s := range article.Statuses() {
			fmt.Printf("  %-11s %d\n", s, stats.ByStatus[s])
		}

		counts, err := db.GetSourceStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("getting source stats: %w", err)
		}
		if len(counts) > 0 {
			fmt.Println("\nBy source:")
			for _, c := range counts {
				source := c.Source
				if source == "" {
					source = "(none)"
				}
				fmt.Printf("  %-28s %-11s %d\n", source, c.Status, c.Count)
			}
		}
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Collect articles from configured sources without running the stages",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		fmt.Println("Collecting articles from sources...")
		result, err := collect.NewCollector(cfg, db, logger).Collect(cmd.Context())
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		fmt.Println("\nCollection complete:")
		fmt.Printf("  Total found: %d\n", result.TotalFound)
		fmt.Printf("  New articles: %d\n", result.NewArticles)
		fmt.Printf("  Duplicates skipped: %d\n", result.Duplicates)
		fmt.Printf("  Enriched: %d\n", result.Enriched)
		if result.FailedSources > 0 {
			fmt.Printf("  Failed sources: %d\n", result.FailedSources)
		}

		if len(result.Sources) > 0 {
			fmt.Println("\nNew articles by source:")
			type kv struct {
				key string
				val int
			}
			var sorted []kv
			for k, v := range result.Sources {
				sorted = append(sorted, kv{k, v})
			}
			sort.Slice(sorted, func(i, j int) bool { return sorted[i].val > sorted[j].val })
			for _, s := range sorted {
				fmt.Printf("  %s: %d\n", s.key, s.val)
			}
		}
		return nil
	},
}

var once bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline: fetch -> score -> distill -> verify -> visualize -> upload -> critique -> publish",
	RunE: func(cmd *cobra.Command, args []string) error {
		providers, err := llm.NewProviders(cfg.LLM, logger)
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe, err := pipeline.New(cfg, db, providers, logger)
		if err != nil {
			return err
		}

		if !once {
			fmt.Printf("Running every %s. Press Ctrl+C to stop.\n", cfg.Pipeline.CycleInterval)
			return pipe.Run(cmd.Context(), false)
		}

		result := pipe.RunCycle(cmd.Context())
		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/%d: %s (%s)\n", i+1, len(pipe.Steps()), step.Name, step.Duration.Round(time.Millisecond))
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}
		fmt.Printf("\nCycle complete in %s. Run 'llmlens serve' to browse the feed.\n", result.Duration.Round(time.Millisecond))
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&once, "once", false, "Run a single cycle and exit")
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Regenerate the feed index.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		p := publish.New(db, cfg.GetFeedDir(), logger)
		n, err := p.Publish(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Published %d entries to %s\n", n, p.Path())
		return nil
	},
}

var requeueCmd = &cobra.Command{
	Use:   "requeue [id] [status]",
	Short: "Force an article back into a status so the stages pick it up again",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := article.ParseStatus(args[1])
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Requeue(cmd.Context(), args[0], status); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return fmt.Errorf("article %s not found", args[0])
			}
			return err
		}
		fmt.Printf("Article %s requeued as %s\n", args[0], status)
		return nil
	},
}

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the feed API and page",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		srv, err := server.New(db, cfg.GetFeedDir(), logger)
		if err != nil {
			return err
		}

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return srv.Serve(cmd.Context(), fmt.Sprintf("127.0.0.1:%d", port))
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

func openDB() (*database.DB, error) {
	if err := os.MkdirAll(cfg.GetDataDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(cfg.DatabasePath())
}
