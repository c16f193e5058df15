package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cratedig/cratedig/internal/analysis"
	"github.com/cratedig/cratedig/internal/domain"
	"github.com/cratedig/cratedig/internal/scanner"
	"github.com/cratedig/cratedig/internal/task"
	"github.com/cratedig/cratedig/internal/worker"
)

// startAnalysis scans the requested roots synchronously, then submits
// the extraction run as a background task. The response carries the scan
// outcome so the client knows the workload size up front.
func (s *Server) startAnalysis(c *gin.Context) {
	var req analysisStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.CodeInvalidArgument, "invalid request body: "+err.Error(), nil)
		return
	}

	dirs := req.Directories
	if len(dirs) == 0 && len(req.FilePaths) == 0 {
		if s.cfg.MusicLibraryPath == "" {
			fail(c, domain.CodeInvalidArgument,
				"no directories or file paths given and no music library configured", nil)
			return
		}
		dirs = []string{s.cfg.MusicLibraryPath}
	}

	res, err := s.scanner.Scan(c.Request.Context(), scanner.Request{
		Directories:     dirs,
		FilePaths:       req.FilePaths,
		Recursive:       req.recursive(),
		IncludePatterns: req.IncludePatterns,
		ExcludePatterns: req.ExcludePatterns,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	if len(res.Files) == 0 {
		fail(c, domain.CodeInvalidArgument, "no audio files found", gin.H{
			"invalid_files": res.InvalidFiles,
			"warnings":      res.Warnings,
		})
		return
	}

	files := res.Files
	warnings := res.Warnings
	overwrite := req.OverwriteCache

	id, err := s.tasks.Submit(task.KindAnalysis, func(ctx context.Context, h *task.Handle) (any, error) {
		for _, w := range warnings {
			h.RecordError(w)
		}
		h.SetCounts(0, len(files))
		h.SetStage("analyzing", fmt.Sprintf("analyzing %d files", len(files)))

		pool := worker.New(s.store, s.extractor, s.cfg.MaxWorkers, s.cfg.AnalysisTimeout())
		summary, fileErrs, err := pool.Run(ctx, files, overwrite, func(p domain.AnalysisProgress) {
			h.SetProgress(p.Percent())
			h.SetCounts(p.ProcessedFiles, p.TotalFiles)
			if p.CurrentFile != "" {
				h.SetCurrentFile(p.CurrentFile)
			}
		})
		for _, fe := range fileErrs {
			h.RecordError(fe)
		}
		if err != nil {
			return nil, err
		}
		if err := s.store.Flush(); err != nil {
			slog.Warn("cache index flush failed", "error", err)
		}
		// Partial failure is a completed run with errors attached. Only a
		// run where nothing survived counts as failed.
		if summary.TotalFiles > 0 && summary.FailedFiles == summary.TotalFiles {
			return nil, &task.CodedError{
				Code: domain.CodeIOError,
				Err:  fmt.Errorf("all %d files failed analysis", summary.TotalFiles),
			}
		}
		return summary, nil
	})
	if err != nil {
		failErr(c, err)
		return
	}

	c.JSON(http.StatusAccepted, analysisStartResponse{
		TaskID:             id,
		Status:             "started",
		Message:            fmt.Sprintf("analysis of %d files started", len(files)),
		TotalFiles:         len(files),
		InvalidFiles:       res.InvalidFiles,
		DirectoriesScanned: len(dirs),
		StatusURL:          "/api/analysis/" + id + "/status",
		OverwriteCache:     overwrite,
	})
}

// analysisStatus reports a task snapshot: state, progress, stage trail
// and accumulated file errors.
func (s *Server) analysisStatus(c *gin.Context) {
	id := c.Param("id")
	v, err := s.tasks.Status(id)
	if err != nil {
		failErr(c, err)
		return
	}
	if v.Kind != task.KindAnalysis {
		fail(c, domain.CodeNotFound, "analysis task not found: "+id, nil)
		return
	}
	c.JSON(http.StatusOK, v)
}

// cancelAnalysis requests cooperative cancellation. Cancelling a task
// that already finished is a no-op, not an error.
func (s *Server) cancelAnalysis(c *gin.Context) {
	id := c.Param("id")
	v, err := s.tasks.Status(id)
	if err != nil {
		failErr(c, err)
		return
	}
	if v.Kind != task.KindAnalysis {
		fail(c, domain.CodeNotFound, "analysis task not found: "+id, nil)
		return
	}
	if err := s.tasks.Cancel(id); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "cancellation requested",
		"task_id": id,
	})
}

func (s *Server) cacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Stats())
}

// cacheCleanup evicts stale or excess cache entries. Both knobs are
// optional; a missing body means "use the configured TTL only".
func (s *Server) cacheCleanup(c *gin.Context) {
	var req cacheCleanupRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, domain.CodeInvalidArgument, "invalid request body: "+err.Error(), nil)
			return
		}
	}
	if req.OlderThanDays < 0 || req.MaxSizeGB < 0 {
		fail(c, domain.CodeInvalidArgument, "cleanup bounds must be non-negative", nil)
		return
	}

	olderThan := time.Duration(req.OlderThanDays * 24 * float64(time.Hour))
	if olderThan == 0 {
		olderThan = s.cfg.CacheTTL()
	}
	maxBytes := int64(req.MaxSizeGB * (1 << 30))

	result, err := s.store.Cleanup(olderThan, maxBytes)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) cacheClear(c *gin.Context) {
	result, err := s.store.Clear()
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) supportedFormats(c *gin.Context) {
	formats := analysis.SupportedFormats()
	c.JSON(http.StatusOK, gin.H{
		"supported_formats": formats,
		"count":             len(formats),
	})
}
