package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cratedig/cratedig/internal/domain"
	"github.com/cratedig/cratedig/internal/export"
	"github.com/cratedig/cratedig/internal/playlist"
	"github.com/cratedig/cratedig/internal/task"
)

// defaultPreset applies when a generation request names none.
const defaultPreset = "harmonic_flow"

func (s *Server) listPresets(c *gin.Context) {
	presets := s.presets.List()
	c.JSON(http.StatusOK, gin.H{
		"presets":     presets,
		"total_count": len(presets),
	})
}

func (s *Server) getPreset(c *gin.Context) {
	p, err := s.presets.Get(c.Param("name"))
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"preset": p})
}

func (s *Server) createPreset(c *gin.Context) {
	var p domain.Preset
	if err := c.ShouldBindJSON(&p); err != nil {
		fail(c, domain.CodeInvalidArgument, "invalid request body: "+err.Error(), nil)
		return
	}
	if err := s.presets.Create(p); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": fmt.Sprintf("preset %q created", p.Name),
		"name":    p.Name,
	})
}

func (s *Server) deletePreset(c *gin.Context) {
	name := c.Param("name")
	if err := s.presets.Delete(name); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("preset %q deleted", name)})
}

// startGeneration resolves the candidate pool and the effective preset
// up front, then runs the beam search as a background task. An empty
// track list means "use the whole analysed library".
func (s *Server) startGeneration(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.CodeInvalidArgument, "invalid request body: "+err.Error(), nil)
		return
	}
	if req.Surprise < 0 || req.Surprise > 1 {
		fail(c, domain.CodeInvalidArgument, "surprise must be in [0,1]", nil)
		return
	}
	if req.TargetDurationMinutes < 0 || req.TargetDurationMinutes > 480 {
		fail(c, domain.CodeInvalidArgument, "target_duration_minutes must be between 0 and 480", nil)
		return
	}

	name := req.PresetName
	if name == "" {
		name = defaultPreset
	}
	preset, err := s.presets.Get(name)
	if err != nil {
		failErr(c, err)
		return
	}
	req.CustomRules.apply(&preset)

	var pool []domain.Track
	if len(req.TrackFilePaths) > 0 {
		for _, path := range req.TrackFilePaths {
			t, err := s.store.GetByPath(path)
			if err != nil {
				// Unanalysed paths are skipped, not fatal.
				continue
			}
			pool = append(pool, t)
		}
		if len(pool) < 3 {
			fail(c, domain.CodeInvalidArgument,
				fmt.Sprintf("at least 3 analysed tracks required, got %d of %d requested",
					len(pool), len(req.TrackFilePaths)), nil)
			return
		}
	} else {
		pool = s.store.All()
		if len(pool) < 3 {
			fail(c, domain.CodeInvalidArgument,
				fmt.Sprintf("library has %d analysed tracks, need at least 3", len(pool)), nil)
			return
		}
	}

	engReq := playlist.Request{
		Preset:   preset,
		SeedPath: req.Seed,
		Surprise: req.Surprise,
	}
	if req.TargetDurationMinutes > 0 {
		engReq.TargetDuration = time.Duration(req.TargetDurationMinutes * float64(time.Minute))
	}

	id, err := s.tasks.Submit(task.KindPlaylistGeneration, func(ctx context.Context, h *task.Handle) (any, error) {
		// The task id seeds the surprise stream, so reruns of the same
		// request still differ while one task's result stays stable.
		engReq.Seed = h.ID()

		h.SetStage("loading_tracks", fmt.Sprintf("%d candidate tracks", len(pool)))
		h.SetProgress(20)
		h.SetStage("generating", "running beam search")
		h.SetProgress(40)

		ctx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout())
		defer cancel()
		return s.engine.Generate(ctx, pool, engReq)
	})
	if err != nil {
		failErr(c, err)
		return
	}

	totalRequested := len(req.TrackFilePaths)
	if totalRequested == 0 {
		totalRequested = len(pool)
	}
	c.JSON(http.StatusAccepted, generateStartResponse{
		TaskID:           id,
		Status:           "started",
		Message:          "playlist generation started",
		ValidTracksCount: len(pool),
		TotalRequested:   totalRequested,
		StatusURL:        "/api/playlists/generate/" + id + "/status",
	})
}

func (s *Server) generationStatus(c *gin.Context) {
	id := c.Param("id")
	v, err := s.tasks.Status(id)
	if err != nil {
		failErr(c, err)
		return
	}
	if v.Kind != task.KindPlaylistGeneration {
		fail(c, domain.CodeNotFound, "generation task not found: "+id, nil)
		return
	}
	c.JSON(http.StatusOK, v)
}

// generationResult returns the finished playlist, or 202 while the task
// is still running.
func (s *Server) generationResult(c *gin.Context) {
	id := c.Param("id")
	v, err := s.tasks.Status(id)
	if err != nil {
		failErr(c, err)
		return
	}
	if v.Kind != task.KindPlaylistGeneration {
		fail(c, domain.CodeNotFound, "generation task not found: "+id, nil)
		return
	}

	switch v.State {
	case task.StateCompleted:
		elapsed := 0.0
		if v.StartedAt != nil && v.EndedAt != nil {
			elapsed = v.EndedAt.Sub(*v.StartedAt).Seconds()
		}
		c.JSON(http.StatusOK, gin.H{
			"success":                 true,
			"playlist":                v.Result,
			"generation_time_seconds": round3(elapsed),
		})
	case task.StateFailed:
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"error":   v.Error,
		})
	case task.StateCancelled:
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"error":   "generation cancelled",
		})
	default:
		c.JSON(http.StatusAccepted, gin.H{
			"success": false,
			"status":  v.State,
			"message": v.Message,
		})
	}
}

// exportPlaylist renders a playlist to disk under the exports directory.
// Track details resolve from the cache; entries that fell out of it
// export with path-only information.
func (s *Server) exportPlaylist(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.CodeInvalidArgument, "invalid request body: "+err.Error(), nil)
		return
	}
	format, err := export.ParseFormat(req.FormatType)
	if err != nil {
		failErr(c, err)
		return
	}
	p := req.Playlist

	tracks := make([]domain.Track, len(p.Tracks))
	for i, entry := range p.Tracks {
		t, err := s.store.GetByPath(entry.Path)
		if err != nil {
			t = domain.Track{Path: entry.Path}
		}
		tracks[i] = t
	}

	data, err := export.Render(p, tracks, format, req.includeMetadata())
	if err != nil {
		failErr(c, err)
		return
	}

	filename := req.Filename
	if filename == "" {
		filename = export.DefaultFilename(p.Metadata.Preset, format, time.Now())
	} else if !strings.HasSuffix(strings.ToLower(filename), "."+format.Ext()) {
		filename += "." + format.Ext()
	}

	entry, err := s.exports.Write(filename, data)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, exportResponse{
		Success:       true,
		OutputPath:    entry.Path,
		Filename:      entry.Filename,
		FormatType:    string(format),
		TrackCount:    len(p.Tracks),
		FileSizeBytes: entry.SizeBytes,
	})
}

func (s *Server) listExports(c *gin.Context) {
	entries, err := s.exports.List()
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"exports":           entries,
		"total_count":       len(entries),
		"supported_formats": export.Formats(),
	})
}

func (s *Server) deleteExport(c *gin.Context) {
	filename := c.Param("filename")
	if err := s.exports.Delete(filename); err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("export %q deleted", filename)})
}
