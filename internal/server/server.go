package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cratedig/cratedig/config"
	"github.com/cratedig/cratedig/internal/analysis"
	"github.com/cratedig/cratedig/internal/export"
	"github.com/cratedig/cratedig/internal/playlist"
	"github.com/cratedig/cratedig/internal/scanner"
	"github.com/cratedig/cratedig/internal/store"
	"github.com/cratedig/cratedig/internal/task"
)

// Version is reported by the health endpoint.
const Version = "2.0.0"

// Server owns the REST surface over the analysis pipeline, the feature
// store and the playlist engine.
type Server struct {
	cfg    *config.Config
	router *gin.Engine
	http   *http.Server

	store     *store.Store
	scanner   *scanner.Scanner
	extractor analysis.Extractor
	tasks     *task.Manager
	presets   *playlist.Library
	engine    *playlist.Engine
	exports   *export.Store
}

// Options bundles the components the server routes requests to.
type Options struct {
	Store     *store.Store
	Scanner   *scanner.Scanner
	Extractor analysis.Extractor
	Tasks     *task.Manager
	Presets   *playlist.Library
	Exports   *export.Store
}

// New wires the router. Components come in constructed; the server owns
// none of their lifecycles.
func New(cfg *config.Config, opts Options) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	// Track paths travel as one URL-encoded segment; matching must see
	// the raw form or the encoded slashes explode into segments.
	router.UseRawPath = true
	router.UnescapePathValues = true

	s := &Server{
		cfg:       cfg,
		router:    router,
		store:     opts.Store,
		scanner:   opts.Scanner,
		extractor: opts.Extractor,
		tasks:     opts.Tasks,
		presets:   opts.Presets,
		engine:    playlist.NewEngine(),
		exports:   opts.Exports,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	s.router.GET("/health", s.health)

	api := s.router.Group("/api")

	an := api.Group("/analysis")
	{
		an.POST("/start", s.startAnalysis)
		an.GET("/:id/status", s.analysisStatus)
		an.POST("/:id/cancel", s.cancelAnalysis)
		an.GET("/cache/stats", s.cacheStats)
		an.POST("/cache/cleanup", s.cacheCleanup)
		an.POST("/cache/clear", s.cacheClear)
		an.GET("/formats", s.supportedFormats)
	}

	tr := api.Group("/tracks")
	{
		tr.GET("", s.listTracks)
		tr.GET("/stats/overview", s.trackStats)
		tr.GET("/search/similar", s.similarTracks)
		tr.GET("/:path", s.getTrack)
	}

	pl := api.Group("/playlists")
	{
		pl.GET("/presets", s.listPresets)
		pl.GET("/presets/:name", s.getPreset)
		pl.POST("/presets", s.createPreset)
		pl.DELETE("/presets/:name", s.deletePreset)

		pl.POST("/generate", s.startGeneration)
		pl.GET("/generate/:id/status", s.generationStatus)
		pl.GET("/generate/:id/result", s.generationResult)

		pl.POST("/export", s.exportPlaylist)
		pl.GET("/exports", s.listExports)
		pl.DELETE("/exports/:filename", s.deleteExport)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ln)
}

// Serve runs HTTP on an existing listener. The caller owns the bind, so
// bind failures stay distinguishable from serve failures.
func (s *Server) Serve(ln net.Listener) error {
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("server listening", "addr", ln.Addr().String())
	return s.http.Serve(ln)
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": Version,
		"components": gin.H{
			"cache":    "ok",
			"analyzer": "ok",
		},
	})
}
