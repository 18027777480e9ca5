package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/AIDigest/internal/analyze"
	"github.com/TobiSchelling/AIDigest/internal/cache"
	"github.com/TobiSchelling/AIDigest/internal/collector"
	"github.com/TobiSchelling/AIDigest/internal/config"
	"github.com/TobiSchelling/AIDigest/internal/database"
	"github.com/TobiSchelling/AIDigest/internal/filter"
	"github.com/TobiSchelling/AIDigest/internal/llm"
	"github.com/TobiSchelling/AIDigest/internal/notify"
	"github.com/TobiSchelling/AIDigest/internal/orchestrator"
	"github.com/TobiSchelling/AIDigest/internal/runner"
	"github.com/TobiSchelling/AIDigest/internal/server"
	"github.com/TobiSchelling/AIDigest/internal/summarize"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "aidigest",
	Short:   "Daily AI news digests",
	Long:    "AIDigest collects AI news from feeds, arXiv, GitHub, and Bluesky, and distills them into a daily digest with LLM analysis.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

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
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cleanupCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("aidigest", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/aidigest/",
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
		fmt.Println("Edit it to configure feeds, API keys, and LLM provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		today := database.Today()
		fmt.Printf("Today: %s\n\n", today)
		fmt.Println("Runs:")
		fmt.Printf("  Total: %d\n", stats.TotalRuns)
		fmt.Printf("  Completed: %d\n", stats.CompletedRuns)
		fmt.Printf("  Failed: %d\n", stats.FailedRuns)
		fmt.Println("\nCache:")
		fmt.Printf("  Collector rows: %d\n", stats.CollectorRows)
		fmt.Printf("  Fetch rows: %d\n", stats.FetchCacheRows)
		fmt.Printf("  Analysis rows: %d\n", stats.AnalysisCacheRows)

		if run, err := db.GetRunByDate(today); err == nil && run != nil {
			fmt.Printf("\nToday's run: %s (%d items)\n", run.Status, run.TotalItems)
		}
		return nil
	},
}

// --- run command ---

var (
	runDate  string
	runForce bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the digest pipeline: collect -> analyze",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		date := runDate
		if date == "" {
			date = database.Today()
		}

		if runForce {
			if err := db.DeleteRunByDate(date); err != nil {
				return err
			}
			fmt.Printf("Discarded existing run for %s.\n", date)
		}

		provider := createProvider()
		if provider == nil {
			return fmt.Errorf("no LLM provider available")
		}

		orch := buildOrchestrator(db, provider, "")

		claim, err := orch.Claim(date)
		if err != nil {
			return err
		}
		if !claim.Claimed {
			fmt.Printf("Run for %s already exists (status: %s).\n", date, claim.Status)
			fmt.Println("Use --force to discard it and run again.")
			return nil
		}

		fmt.Printf("Running digest pipeline for %s...\n", date)
		orch.RunCollectPhase(context.Background(), claim.RunID, date)

		run, err := db.GetRun(claim.RunID)
		if err != nil || run == nil {
			return fmt.Errorf("reading run result: %v", err)
		}

		fmt.Printf("\nRun finished with status: %s\n", run.Status)
		printSourceHealth(run.SourceHealth)
		if run.Status == database.StatusCompleted {
			fmt.Printf("\n%d items analyzed. Run 'aidigest serve' to view the digest.\n", run.TotalItems)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runDate, "date", "", "Run date (YYYY-MM-DD, default today)")
	runCmd.Flags().BoolVar(&runForce, "force", false, "Discard any existing run for the date first")
}

func printSourceHealth(health map[string]string) {
	if len(health) == 0 {
		return
	}
	sources := make([]string, 0, len(health))
	for s := range health {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	fmt.Println("\nSource health:")
	for _, s := range sources {
		fmt.Printf("  %s: %s\n", s, health[s])
	}
}

// --- analyze command ---

var (
	analyzeQuery string
	analyzeRange string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a topic across sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		if analyzeQuery == "" {
			return fmt.Errorf("--query is required")
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		provider := createProvider()
		if provider == nil {
			return fmt.Errorf("no LLM provider available")
		}

		analyzer := buildAnalyzer(db, provider)

		fmt.Printf("Analyzing %q over the last %s...\n\n", analyzeQuery, analyzeRange)
		report, err := analyzer.Analyze(context.Background(), analyzeQuery, analyzeRange)
		if err == analyze.ErrNoResults {
			fmt.Println("No relevant results found.")
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Println(report.Summary)
		fmt.Printf("\nBased on %d items:\n", len(report.Items))
		for _, item := range report.Items {
			fmt.Printf("  [%s] %s\n    %s\n", item.Source, item.Title, item.URL)
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeQuery, "query", "q", "", "Topic to analyze")
	analyzeCmd.Flags().StringVarP(&analyzeRange, "range", "r", cache.RangeWeek, "Time range: day, week, month, or year")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the digest web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		provider := createProvider()

		var analyzer *analyze.Analyzer
		if provider != nil {
			analyzer = buildAnalyzer(db, provider)
		}
		orch := buildOrchestrator(db, provider, cfg.Server.AppURL)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, orch, analyzer, cfg.InternalSecret(), port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

// --- cleanup command ---

var cleanupDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove old runs and expired cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		days := cleanupDays
		if days == 0 {
			days = cfg.Retention.Days
		}

		now := time.Now()
		result, err := db.SweepOlderThan(now.AddDate(0, 0, -days), now)
		if err != nil {
			return err
		}

		fmt.Printf("Removed %d runs and %d collector rows older than %d days.\n",
			result.Runs, result.CollectorRows, days)
		fmt.Printf("Removed %d expired fetch rows and %d expired analysis rows.\n",
			result.FetchRows, result.AnalysisRows)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "Retention window in days (default from config)")
}

// --- wiring ---

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "aidigest.db")
	return database.Open(dbPath)
}

func createProvider() llm.Provider {
	s := cfg.Summarization
	return llm.CreateProvider(s.Provider, s.Model, s.OllamaURL, s.OpenAIModel, s.APIKeyEnv)
}

func buildOrchestrator(db *database.DB, provider llm.Provider, appURL string) *orchestrator.Orchestrator {
	var summarizer summarize.Summarizer
	var modelUsed string
	if provider != nil {
		summarizer = summarize.NewDigestSummarizer(provider, cfg.Summarization.MaxTokens)
		modelUsed = llm.ModelName(provider)
	}

	opts := orchestrator.Options{
		AppURL:        appURL,
		Secret:        cfg.InternalSecret(),
		ModelUsed:     modelUsed,
		RetentionDays: cfg.Retention.Days,
	}
	if cfg.Notify.Telegram.Enabled {
		if tn := notify.NewTelegram(cfg.Notify.Telegram.BotTokenEnv, cfg.Notify.Telegram.ChatID); tn != nil {
			opts.Notifier = tn
		}
	}

	collectors := collector.FromConfig(cfg)
	return orchestrator.New(db, runner.New(db, 0), collectors, summarizer, opts)
}

func buildAnalyzer(db *database.DB, provider llm.Provider) *analyze.Analyzer {
	searchers := []analyze.Searcher{
		analyze.GitHubSearcher{Client: collector.NewGitHubClient(cfg.Sources.GitHub.TokenEnv, cfg.Sources.GitHub.Topics)},
		analyze.HNSearcher{Client: collector.NewHNClient()},
		analyze.BlueskySearcher{Client: collector.NewBlueskyClient(cfg.Sources.Bluesky.Handles)},
	}

	loop := filter.NewLoop(filter.NewLLMClassifier(provider, 0))
	trends := summarize.NewTrendSummarizer(provider, cfg.Summarization.MaxTokens)
	return analyze.New(searchers, cache.New(db), loop, trends)
}
