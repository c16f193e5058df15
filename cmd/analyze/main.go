package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"

	"github.com/cratedig/cratedig/config"
	"github.com/cratedig/cratedig/internal/analysis"
	"github.com/cratedig/cratedig/internal/domain"
	"github.com/cratedig/cratedig/internal/scanner"
	"github.com/cratedig/cratedig/internal/store"
	"github.com/cratedig/cratedig/internal/worker"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", config.DefaultPath, "Path to the YAML config file")
	workers := flag.Int("workers", 0, "Override the configured worker count")
	overwrite := flag.Bool("overwrite", false, "Re-analyse files that are already cached")
	recursive := flag.Bool("recursive", true, "Descend into subdirectories")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <directory>...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}
	if *workers > 0 {
		cfg.MaxWorkers = *workers
	}

	// Logs go to stderr so the progress bar owns stdout.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	dirs := flag.Args()
	if len(dirs) == 0 {
		if cfg.MusicLibraryPath == "" {
			fmt.Fprintln(os.Stderr, "no directories given and no music library configured")
			flag.Usage()
			return 1
		}
		dirs = []string{cfg.MusicLibraryPath}
	}

	st := store.New(cfg.CacheDir(), cfg.CacheTTL())
	if err := st.Init(); err != nil {
		slog.Error("Failed to initialise cache store", "dir", cfg.CacheDir(), "error", err)
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sc := scanner.New(cfg.MinFileSizeBytes(), cfg.MaxFileSizeBytes(), 0)
	res, err := sc.Scan(ctx, scanner.Request{Directories: dirs, Recursive: *recursive})
	if err != nil {
		slog.Error("Scan failed", "error", err)
		return 2
	}
	for _, w := range res.Warnings {
		slog.Warn("Skipped during scan", "path", w.Path, "code", w.Code, "reason", w.Message)
	}
	if len(res.Files) == 0 {
		fmt.Println("No audio files found.")
		return 0
	}
	fmt.Printf("Found %d audio files (%d skipped)\n", len(res.Files), res.InvalidFiles)

	bar := progressbar.NewOptions(
		len(res.Files),
		progressbar.OptionSetWriter(ansi.NewAnsiStdout()),
		progressbar.OptionEnableColorCodes(true),
		// progressbar v3.15.0 (newest release building on go1.21) predates the
		// named ThemeASCII variable; this literal is its exact upstream definition.
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: ".",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionFullWidth(),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan]Analysing tracks...[reset]"),
	)

	pool := worker.New(st, analysis.NewLibraryExtractor(), cfg.MaxWorkers, cfg.AnalysisTimeout())
	summary, fileErrs, err := pool.Run(ctx, res.Files, *overwrite, func(p domain.AnalysisProgress) {
		_ = bar.Set(p.ProcessedFiles)
	})
	_ = bar.Finish()
	fmt.Println()

	for _, fe := range fileErrs {
		slog.Error("File failed", "path", fe.Path, "code", fe.Code, "error", fe.Message)
	}
	if err != nil {
		slog.Error("Analysis aborted", "error", err)
		_ = st.Shutdown()
		return 1
	}

	if err := st.Shutdown(); err != nil {
		slog.Error("Cache index flush failed", "error", err)
		return 2
	}

	fmt.Printf("Analysed %d/%d files in %.1fs (%d cached, %d failed)\n",
		summary.Analysed, summary.TotalFiles, summary.ElapsedSeconds,
		summary.CacheHits, summary.FailedFiles)
	if summary.FailedFiles > 0 {
		return 1
	}
	return 0
}
