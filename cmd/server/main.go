package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cratedig/cratedig/config"
	"github.com/cratedig/cratedig/internal/analysis"
	"github.com/cratedig/cratedig/internal/export"
	"github.com/cratedig/cratedig/internal/playlist"
	"github.com/cratedig/cratedig/internal/scanner"
	"github.com/cratedig/cratedig/internal/server"
	"github.com/cratedig/cratedig/internal/store"
	"github.com/cratedig/cratedig/internal/task"
)

const (
	exitOK     = 0
	exitConfig = 1
	exitData   = 2
	exitBind   = 3
)

// shutdownGrace bounds request draining and the final index flush.
const shutdownGrace = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", config.DefaultPath, "Path to the YAML config file")
	port := flag.Int("port", 0, "Override the configured port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return exitConfig
	}
	if *port > 0 {
		cfg.Port = *port
		if err := cfg.Validate(); err != nil {
			slog.Error("Invalid port override", "error", err)
			return exitConfig
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	st := store.New(cfg.CacheDir(), cfg.CacheTTL())
	if err := st.Init(); err != nil {
		slog.Error("Failed to initialise cache store", "dir", cfg.CacheDir(), "error", err)
		return exitData
	}

	presets, err := playlist.NewLibrary(cfg.PresetsDir())
	if err != nil {
		slog.Error("Failed to initialise preset library", "dir", cfg.PresetsDir(), "error", err)
		return exitData
	}
	defer presets.Close()

	exports, err := export.NewStore(cfg.ExportsDir())
	if err != nil {
		slog.Error("Failed to initialise exports store", "dir", cfg.ExportsDir(), "error", err)
		return exitData
	}

	tasks := task.New(task.Options{MaxActive: cfg.MaxConcurrentTasks})
	defer tasks.Close()

	srv := server.New(cfg, server.Options{
		Store:     st,
		Scanner:   scanner.New(cfg.MinFileSizeBytes(), cfg.MaxFileSizeBytes(), 0),
		Extractor: analysis.NewLibraryExtractor(),
		Tasks:     tasks,
		Presets:   presets,
		Exports:   exports,
	})

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		slog.Error("Failed to bind", "addr", cfg.Addr(), "error", err)
		return exitBind
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		slog.Info("Shutting down", "signal", sig.String())
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			return exitConfig
		}
		return exitOK
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("Shutdown incomplete, some requests were dropped", "error", err)
	}
	if err := st.Shutdown(); err != nil {
		slog.Error("Cache index flush failed", "error", err)
		return exitData
	}
	slog.Info("Shutdown complete")
	return exitOK
}
