package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ytarchive/go-yt-archive/archiver"
	"github.com/ytarchive/go-yt-archive/config"
	"github.com/ytarchive/go-yt-archive/feed"
	"github.com/ytarchive/go-yt-archive/models"
	"github.com/ytarchive/go-yt-archive/pipeline"
	"github.com/ytarchive/go-yt-archive/ytdlp"
)

func main() {
	defaultCfg := config.DefaultConfig()
	concurrentDefault := defaultCfg.MaxConcurrent
	if value, ok, err := config.EnvInt("ARCHIVER_MAX_CONCURRENT"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid ARCHIVER_MAX_CONCURRENT: %v\n", err)
		os.Exit(1)
	} else if ok {
		concurrentDefault = value
	}
	rateLimitDefault := int(defaultCfg.RateLimit / time.Second)
	if value, ok, err := config.EnvInt("ARCHIVER_RATE_LIMIT"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid ARCHIVER_RATE_LIMIT: %v\n", err)
		os.Exit(1)
	} else if ok {
		rateLimitDefault = value
	}
	manifestDefault := defaultCfg.ManifestFile
	if value, ok := config.EnvString("ARCHIVER_MANIFEST"); ok {
		manifestDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("ARCHIVER_METRICS_ADDR"); ok {
		metricsDefault = value
	}

	configPath := flag.String("config", "", "Path to the JSON configuration file (required)")
	maxConcurrent := flag.Int("max-concurrent", concurrentDefault, "Maximum concurrent downloads across all channels")
	rateLimitSec := flag.Int("rate-limit", rateLimitDefault, "Seconds to pause after each successful download (0 disables)")
	retryLimit := flag.Int("retry-limit", defaultCfg.RetryLimit, "Download attempts per video before giving up")
	probeTimeoutSec := flag.Int("probe-timeout", int(defaultCfg.ProbeTimeout/time.Second), "Metadata probe timeout (seconds)")
	fetchTimeoutSec := flag.Int("fetch-timeout", 0, "Per-attempt download timeout (seconds, 0 disables)")
	listerKind := flag.String("lister", defaultCfg.ListerKind, "Channel lister: ytdlp or feed")
	manifestFile := flag.String("manifest", manifestDefault, "Manifest output file path")
	manifestFormat := flag.String("format", defaultCfg.ManifestFormat, "Manifest format: csv, json, or dual")
	cookiesFile := flag.String("cookies", "", "Cookies file passed to yt-dlp (overrides config)")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "a configuration file is required (-config)")
		flag.Usage()
		os.Exit(1)
	}

	cfg := defaultCfg
	cfg.MaxConcurrent = *maxConcurrent
	cfg.RateLimit = time.Duration(*rateLimitSec) * time.Second
	cfg.RetryLimit = *retryLimit
	cfg.ProbeTimeout = time.Duration(*probeTimeoutSec) * time.Second
	cfg.FetchTimeout = time.Duration(*fetchTimeoutSec) * time.Second
	cfg.ListerKind = strings.ToLower(*listerKind)
	cfg.ManifestFile = *manifestFile
	cfg.ManifestFormat = strings.ToLower(*manifestFormat)
	cfg.MetricsAddr = *metricsAddr
	cfg.Verbose = *verbose

	if err := config.LoadFile(*configPath, cfg); err != nil {
		slog.Error("loading configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if *cookiesFile != "" {
		cfg.CookiesFile = *cookiesFile
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	client := &ytdlp.Client{}
	if err := client.CheckDependencies(); err != nil {
		slog.Error("dependency check failed", slog.Any("error", err))
		os.Exit(1)
	}

	var lister archiver.Lister = client
	if cfg.ListerKind == "feed" {
		lister = &feed.Lister{
			Timeout:   cfg.ProbeTimeout,
			UserAgent: cfg.UserAgent,
		}
	}

	writer, err := createWriter(cfg.ManifestFormat, cfg.ManifestFile)
	if err != nil {
		slog.Error("creating manifest writer", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close manifest writer", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight downloads to finish")
	}()

	// The manifest pipeline drains on its own schedule so terminal
	// outcomes recorded during shutdown still land in the manifest.
	p := pipeline.NewPipeline(context.Background(), writer, cfg)
	p.Start(2)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	runner, err := archiver.NewRunner(cfg, lister, client, client, p)
	if err != nil {
		slog.Error("initialising archiver", slog.Any("error", err))
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(runner.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	slog.Info("starting archive run",
		slog.Int("channels", len(cfg.Channels)),
		slog.Int("max_concurrent", cfg.MaxConcurrent),
		slog.Duration("rate_limit", cfg.RateLimit),
	)

	summary, err := runner.Run(ctx)
	if err != nil {
		slog.Error("archive run failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := p.Close(); err != nil {
		slog.Error("manifest pipeline shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := writer.Validate(); err != nil {
		slog.Error("manifest validation failed", slog.Any("error", err))
		os.Exit(1)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(summary, cfg.ManifestFile)
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".jsonl"
		return pipeline.NewDualWriter(filename, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(summary *models.RunSummary, manifestFile string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Archive run complete")

	for _, ch := range summary.Channels {
		fmt.Printf("  %s\n", ch.Identifier)
		if ch.Err != "" {
			fmt.Printf("    error:     %s\n", ch.Err)
			continue
		}
		fmt.Printf("    listing:   %s\n", ch.ListingURL)
		fmt.Printf("    items:     %d\n", ch.ItemCount)
		fmt.Printf("    success:   %d\n", ch.Succeeded)
		fmt.Printf("    skipped:   %d\n", ch.Skipped)
		fmt.Printf("    failed:    %d\n", ch.Failed)
	}

	duration := summary.EndTime.Sub(summary.StartTime)
	itemsPerSec := 0.0
	if duration.Seconds() > 0 {
		itemsPerSec = float64(summary.Completed) / duration.Seconds()
	}

	fmt.Printf("  Total items:   %d\n", summary.TotalItems)
	fmt.Printf("  Completed:     %d\n", summary.Completed)
	fmt.Printf("  Success:       %d\n", summary.Succeeded())
	fmt.Printf("  Skipped:       %d\n", summary.SkippedItems())
	fmt.Printf("  Failed:        %d\n", summary.FailedItems())
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Items/sec:     %.2f\n", itemsPerSec)
	fmt.Printf("  Manifest:      %s\n", manifestFile)
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
