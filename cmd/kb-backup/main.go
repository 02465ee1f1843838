package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/kb-backup/backup"
	"github.com/aluiziolira/kb-backup/config"
	"github.com/aluiziolira/kb-backup/models"
	"github.com/aluiziolira/kb-backup/pipeline"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	configFile  string
	outputRoot  string
	manifest    string
	format      string
	metricsAddr string
	markdown    bool
	timeout     time.Duration
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "kb-backup",
	Short: "Back up a Zendesk Help Center knowledge base to disk",
	Long: `Exports every help center article into a browsable directory tree
(category/section/state/title) with downloaded attachments, extracted video
links and a manifest of everything written.

Credentials come from ZENDESK_SUBDOMAIN, ZENDESK_EMAIL and ZENDESK_API_TOKEN,
read from the environment or a .env file in the working directory.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return run(cfg)
	},
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "Path to a YAML config file")
	rootCmd.Flags().StringVar(&outputRoot, "output", "", "Backup root directory (default KB_Backup)")
	rootCmd.Flags().StringVar(&manifest, "manifest", "", "Manifest file path (default KB_Backup/manifest.csv)")
	rootCmd.Flags().StringVar(&format, "format", "", "Manifest format: csv, json, or dual")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	rootCmd.Flags().BoolVar(&markdown, "markdown", false, "Also write index.md next to each index.html")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-request timeout, 0 waits forever")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// errRunFailed marks failures that have already been logged.
var errRunFailed = errors.New("backup failed")

// loadConfig layers defaults, the YAML file, .env, the environment and
// explicitly set flags, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		if err := cfg.LoadFile(configFile); err != nil {
			return nil, err
		}
	}
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.OutputRoot = outputRoot
	}
	if flags.Changed("manifest") {
		cfg.ManifestFile = manifest
	}
	if flags.Changed("format") {
		cfg.ManifestFormat = strings.ToLower(format)
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
	if flags.Changed("markdown") {
		cfg.Markdown = markdown
	}
	if flags.Changed("timeout") {
		cfg.Timeout = timeout
	}
	if flags.Changed("verbose") {
		cfg.Verbose = verbose
	}
	return cfg, nil
}

func run(cfg *config.Config) error {
	logger, level := newLogger(cfg.Verbose)
	logger = logger.With(slog.String("run_id", uuid.NewString()))
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		return errRunFailed
	}
	if missing := cfg.MissingCredentials(); len(missing) > 0 {
		slog.Warn("credentials not set, upstream calls will likely fail",
			slog.String("missing", strings.Join(missing, ",")),
		)
	}

	slog.Info("starting backup",
		slog.String("help_center", cfg.HelpCenterURL()),
		slog.String("locale", cfg.Locale),
		slog.String("output", cfg.OutputRoot),
	)

	runner, err := backup.NewRunner(cfg)
	if err != nil {
		slog.Error("initialising backup", slog.Any("error", err))
		return errRunFailed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			slog.Info("shutdown signal received, stopping after the current article")
		case <-finished:
		}
	}()

	// The previous manifest is only replaced once the help center answers.
	if err := runner.Prepare(ctx); err != nil {
		slog.Error("backup failed", slog.Any("error", err))
		return errRunFailed
	}

	writer, manifestPath, err := createWriter(cfg.ManifestFormat, cfg.ManifestFile)
	if err != nil {
		slog.Error("creating manifest writer", slog.Any("error", err))
		return errRunFailed
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && runner.Metrics != nil {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(runner.Metrics.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start()
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	result, runErr := runner.Run(ctx, p)

	// Rows exported before a failure are still flushed.
	if err := p.Close(); err != nil {
		slog.Error("manifest shutdown failed", slog.Any("error", err))
		return errRunFailed
	}

	if runErr != nil {
		slog.Error("backup failed", slog.Any("error", runErr))
		return errRunFailed
	}

	printSummary(result, manifestPath, p.GetMetrics())
	return nil
}

// createWriter opens the manifest writer for format. JSON lines never land in
// a .csv file: the companion .jsonl path is used instead.
func createWriter(format, filename string) (pipeline.OutputWriter, string, error) {
	switch format {
	case "json":
		if strings.EqualFold(filepath.Ext(filename), ".csv") {
			filename = pipeline.CompanionPath(filename)
		}
		w, err := pipeline.NewJSONWriter(filename)
		return w, filename, err
	case "csv":
		w, err := pipeline.NewCSVWriter(filename)
		return w, filename, err
	case "dual":
		w, err := pipeline.NewDualWriter(filename, pipeline.CompanionPath(filename))
		return w, filename, err
	default:
		return nil, "", fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(result *models.BackupResult, manifestPath string, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Backup complete")

	rows := int64(0)
	if processed, ok := metrics["processed_records"].(int64); ok {
		rows = processed
	}

	duration := result.EndTime.Sub(result.StartTime)
	fmt.Printf("  Pages:         %d\n", result.PageCount)
	fmt.Printf("  Articles:      %d\n", result.ArticleCount)
	fmt.Printf("  Attachments:   %d saved, %d skipped\n", result.AttachmentsSaved, result.AttachmentsSkipped)
	fmt.Printf("  Videos:        %d\n", result.VideoCount)
	if result.PathCollisions > 0 {
		fmt.Printf("  Collisions:    %d\n", result.PathCollisions)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	fmt.Printf("  API requests:  %d\n", result.RequestCount)
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Printf("  Manifest:      %s (%d rows)\n", manifestPath, rows)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
