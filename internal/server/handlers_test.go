package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cratedig/cratedig/internal/domain"
	"github.com/cratedig/cratedig/internal/export"
	"github.com/cratedig/cratedig/internal/task"
)

func (e *env) seedAndAnalyze(t *testing.T) []string {
	t.Helper()
	paths := e.seedFiles(t, "one.mp3", "two.mp3", "three.flac")
	e.analyze(t, false)
	return paths
}

func TestListTracksFilteringAndSorting(t *testing.T) {
	e := newEnv(t)
	e.seedAndAnalyze(t)

	cases := []struct {
		name  string
		query string
		want  int
	}{
		{"min bpm", "?min_bpm=125", 1},
		{"bpm window", "?min_bpm=121&max_bpm=125", 2},
		{"camelot list", "?camelot=8A,9A", 2},
		{"mood", "?mood=energetic", 1},
		{"search artist", "?search=two", 1},
		{"energy floor", "?min_energy=0.58", 1},
		{"no match", "?search=zzz", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := e.do(t, http.MethodGet, "/api/tracks"+tc.query, nil)
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			var list tracksListResponse
			unmarshal(t, rr, &list)
			assert.Equal(t, tc.want, list.TotalCount)
		})
	}

	rr := e.do(t, http.MethodGet, "/api/tracks?sort_by=bpm&sort_order=desc", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list tracksListResponse
	unmarshal(t, rr, &list)
	require.Len(t, list.Tracks, 3)
	assert.Equal(t, 126.0, list.Tracks[0].BPM)
	assert.Equal(t, 122.0, list.Tracks[2].BPM)
	assert.Equal(t, "medium", list.Tracks[1].EnergyLevel)
	assert.Equal(t, "fast", list.Tracks[0].TempoClass)

	// Both spellings resolve to the same sort field.
	rr = e.do(t, http.MethodGet, "/api/tracks?sort_by=analyzed_at", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestListTracksPagination(t *testing.T) {
	e := newEnv(t)
	e.seedAndAnalyze(t)

	rr := e.do(t, http.MethodGet, "/api/tracks?per_page=2", nil)
	var first tracksListResponse
	unmarshal(t, rr, &first)
	assert.Len(t, first.Tracks, 2)
	assert.Equal(t, 3, first.TotalCount)
	assert.Equal(t, 2, first.TotalPages)
	assert.True(t, first.HasNext)
	assert.False(t, first.HasPrev)

	rr = e.do(t, http.MethodGet, "/api/tracks?per_page=2&page=2", nil)
	var second tracksListResponse
	unmarshal(t, rr, &second)
	assert.Len(t, second.Tracks, 1)
	assert.False(t, second.HasNext)
	assert.True(t, second.HasPrev)

	// Oversized pages clamp instead of failing.
	rr = e.do(t, http.MethodGet, "/api/tracks?per_page=5000", nil)
	var clamped tracksListResponse
	unmarshal(t, rr, &clamped)
	assert.Equal(t, 200, clamped.PerPage)
}

func TestListTracksValidation(t *testing.T) {
	e := newEnv(t)

	for _, query := range []string{
		"?sort_by=height",
		"?sort_order=sideways",
		"?min_bpm=abc",
		"?min_bpm=130&max_bpm=120",
		"?page=0",
		"?per_page=-1",
	} {
		rr := e.do(t, http.MethodGet, "/api/tracks"+query, nil)
		require.Equal(t, http.StatusBadRequest, rr.Code, query)
		assert.Equal(t, string(domain.CodeInvalidArgument), decodeError(t, rr).Error.Code, query)
	}
}

func TestTrackDetail(t *testing.T) {
	e := newEnv(t)
	paths := e.seedAndAnalyze(t)

	rr := e.do(t, http.MethodGet, "/api/tracks/"+url.PathEscape(paths[0]), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Track domain.Track `json:"track"`
	}
	unmarshal(t, rr, &resp)
	assert.Equal(t, paths[0], resp.Track.Path)
	assert.Equal(t, "Opening", resp.Track.Title)
	assert.Equal(t, 320, resp.Track.Bitrate)
	require.NotNil(t, resp.Track.Features)
	assert.Equal(t, 124.0, resp.Track.Features.BPM)
	assert.Equal(t, "8A", resp.Track.Features.Camelot)
	assert.False(t, resp.Track.AnalysedAt.IsZero())

	rr = e.do(t, http.MethodGet, "/api/tracks/"+url.PathEscape("/nope/missing.mp3"), nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, string(domain.CodeNotFound), decodeError(t, rr).Error.Code)
}

func TestTrackStatsOverview(t *testing.T) {
	e := newEnv(t)

	rr := e.do(t, http.MethodGet, "/api/tracks/stats/overview", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var empty struct {
		TotalTracks int `json:"total_tracks"`
	}
	unmarshal(t, rr, &empty)
	assert.Zero(t, empty.TotalTracks)

	e.seedAndAnalyze(t)

	rr = e.do(t, http.MethodGet, "/api/tracks/stats/overview", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		TotalTracks int     `json:"total_tracks"`
		TotalHours  float64 `json:"total_duration_hours"`
		Statistics  struct {
			AverageBPM    float64      `json:"average_bpm"`
			AverageEnergy float64      `json:"average_energy"`
			BPMRange      domain.Range `json:"bpm_range"`
			EnergyRange   domain.Range `json:"energy_range"`
		} `json:"statistics"`
		Distributions struct {
			Keys  map[string]int `json:"keys"`
			Moods map[string]int `json:"moods"`
		} `json:"distributions"`
	}
	unmarshal(t, rr, &resp)

	assert.Equal(t, 3, resp.TotalTracks)
	assert.InDelta(t, 0.25, resp.TotalHours, 1e-9) // 900s
	assert.InDelta(t, 124.0, resp.Statistics.AverageBPM, 1e-9)
	assert.InDelta(t, 0.55, resp.Statistics.AverageEnergy, 1e-9)
	assert.Equal(t, 122.0, resp.Statistics.BPMRange.Min)
	assert.Equal(t, 126.0, resp.Statistics.BPMRange.Max)
	assert.Equal(t, map[string]int{"8A": 1, "9A": 1, "8B": 1}, resp.Distributions.Keys)
	assert.Equal(t, map[string]int{"driving": 2, "energetic": 1}, resp.Distributions.Moods)
}

func TestSimilarTracks(t *testing.T) {
	e := newEnv(t)
	paths := e.seedAndAnalyze(t)

	rr := e.do(t, http.MethodGet,
		"/api/tracks/search/similar?similarity_threshold=0&track_path="+url.QueryEscape(paths[0]), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp similarTracksResponse
	unmarshal(t, rr, &resp)
	assert.Equal(t, paths[0], resp.Reference)
	assert.Equal(t, 2, resp.TotalCount)
	require.Len(t, resp.Tracks, 2)
	assert.GreaterOrEqual(t, resp.Tracks[0].Similarity, resp.Tracks[1].Similarity)
	for _, m := range resp.Tracks {
		assert.NotEqual(t, paths[0], m.Track.FilePath)
		assert.GreaterOrEqual(t, m.Similarity, 0.0)
		assert.LessOrEqual(t, m.Similarity, 1.0)
	}

	rr = e.do(t, http.MethodGet, "/api/tracks/search/similar", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.do(t, http.MethodGet, "/api/tracks/search/similar?track_path=/nope.mp3", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	for _, query := range []string{"limit=0", "limit=99", "similarity_threshold=2"} {
		rr = e.do(t, http.MethodGet,
			"/api/tracks/search/similar?"+query+"&track_path="+url.QueryEscape(paths[0]), nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, query)
	}
}

func TestPresetCRUD(t *testing.T) {
	e := newEnv(t)

	rr := e.do(t, http.MethodGet, "/api/playlists/presets", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Presets    []domain.Preset `json:"presets"`
		TotalCount int             `json:"total_count"`
	}
	unmarshal(t, rr, &list)
	assert.Equal(t, 5, list.TotalCount)
	names := make(map[string]bool)
	for _, p := range list.Presets {
		names[p.Name] = true
		assert.True(t, p.Builtin, p.Name)
	}
	assert.True(t, names["harmonic_flow"])
	assert.True(t, names["peak_time"])

	custom := gin.H{
		"name":               "late_night",
		"description":        "slow close-out",
		"bpm_range":          gin.H{"min": 118, "max": 126},
		"energy_range":       gin.H{"min": 0.2, "max": 0.6},
		"harmony_strictness": 0.6,
		"mood_consistency":   0.8,
	}
	rr = e.do(t, http.MethodPost, "/api/playlists/presets", custom)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = e.do(t, http.MethodGet, "/api/playlists/presets/late_night", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var got struct {
		Preset domain.Preset `json:"preset"`
	}
	unmarshal(t, rr, &got)
	assert.Equal(t, "late_night", got.Preset.Name)
	assert.False(t, got.Preset.Builtin)
	assert.Equal(t, 118.0, got.Preset.BPMRange.Min)

	// Builtin names are reserved.
	rr = e.do(t, http.MethodPost, "/api/playlists/presets", gin.H{"name": "peak_time"})
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, string(domain.CodeConflict), decodeError(t, rr).Error.Code)

	rr = e.do(t, http.MethodPost, "/api/playlists/presets", gin.H{"name": "Bad Name!"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.do(t, http.MethodDelete, "/api/playlists/presets/peak_time", nil)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = e.do(t, http.MethodDelete, "/api/playlists/presets/late_night", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = e.do(t, http.MethodGet, "/api/playlists/presets/late_night", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = e.do(t, http.MethodDelete, "/api/playlists/presets/late_night", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

type generateResult struct {
	Success  bool             `json:"success"`
	Playlist *domain.Playlist `json:"playlist"`
	Seconds  float64          `json:"generation_time_seconds"`
	Error    string           `json:"error"`
}

func TestGenerationFlow(t *testing.T) {
	e := newEnv(t)
	paths := e.seedAndAnalyze(t)

	rr := e.do(t, http.MethodPost, "/api/playlists/generate", gin.H{})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var start generateStartResponse
	unmarshal(t, rr, &start)
	assert.Equal(t, "started", start.Status)
	assert.Equal(t, 3, start.ValidTracksCount)
	assert.Equal(t, 3, start.TotalRequested)
	assert.Equal(t, "/api/playlists/generate/"+start.TaskID+"/status", start.StatusURL)

	st := e.waitTask(t, start.StatusURL, task.StateCompleted)
	assert.Equal(t, string(task.KindPlaylistGeneration), st.Kind)
	assert.Equal(t, float64(100), st.Progress)

	rr = e.do(t, http.MethodGet, "/api/playlists/generate/"+start.TaskID+"/result", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var res generateResult
	unmarshal(t, rr, &res)
	require.True(t, res.Success)
	require.NotNil(t, res.Playlist)
	assert.GreaterOrEqual(t, res.Seconds, 0.0)

	p := res.Playlist
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "harmonic_flow", p.Metadata.Preset)
	require.NotEmpty(t, p.Tracks)
	assert.Zero(t, p.Tracks[0].TransitionScore)

	known := map[string]bool{}
	for _, path := range paths {
		known[path] = true
	}
	seen := map[string]bool{}
	for _, entry := range p.Tracks {
		assert.True(t, known[entry.Path], entry.Path)
		assert.False(t, seen[entry.Path], "duplicate %s", entry.Path)
		seen[entry.Path] = true
	}

	// Generation ids are invisible to the analysis endpoints.
	rr = e.do(t, http.MethodGet, "/api/analysis/"+start.TaskID+"/status", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGenerationSeedTrack(t *testing.T) {
	e := newEnv(t)
	paths := e.seedAndAnalyze(t)

	rr := e.do(t, http.MethodPost, "/api/playlists/generate", gin.H{"seed": paths[1]})
	require.Equal(t, http.StatusAccepted, rr.Code)
	var start generateStartResponse
	unmarshal(t, rr, &start)
	e.waitTask(t, start.StatusURL, task.StateCompleted)

	rr = e.do(t, http.MethodGet, "/api/playlists/generate/"+start.TaskID+"/result", nil)
	var res generateResult
	unmarshal(t, rr, &res)
	require.True(t, res.Success)
	require.NotEmpty(t, res.Playlist.Tracks)
	assert.Equal(t, paths[1], res.Playlist.Tracks[0].Path)
}

func TestGenerationExplicitTracks(t *testing.T) {
	e := newEnv(t)
	paths := e.seedAndAnalyze(t)

	body := gin.H{"track_file_paths": append(paths, "/nope/phantom.mp3")}
	rr := e.do(t, http.MethodPost, "/api/playlists/generate", body)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var start generateStartResponse
	unmarshal(t, rr, &start)
	assert.Equal(t, 3, start.ValidTracksCount)
	assert.Equal(t, 4, start.TotalRequested)
	e.waitTask(t, start.StatusURL, task.StateCompleted)
}

func TestGenerationValidation(t *testing.T) {
	e := newEnv(t)
	paths := e.seedAndAnalyze(t)

	// Thin pools are rejected up front.
	rr := e.do(t, http.MethodPost, "/api/playlists/generate", gin.H{
		"track_file_paths": []string{paths[0], paths[1]},
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(domain.CodeInvalidArgument), decodeError(t, rr).Error.Code)

	rr = e.do(t, http.MethodPost, "/api/playlists/generate", gin.H{
		"track_file_paths": []string{paths[0], paths[1], "/nope.mp3"},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.do(t, http.MethodPost, "/api/playlists/generate", gin.H{"preset_name": "nope"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = e.do(t, http.MethodPost, "/api/playlists/generate", gin.H{"surprise": 1.5})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.do(t, http.MethodPost, "/api/playlists/generate", gin.H{"target_duration_minutes": 1000})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGenerationEmptyLibrary(t *testing.T) {
	e := newEnv(t)
	rr := e.do(t, http.MethodPost, "/api/playlists/generate", gin.H{})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGenerationCustomRulesFilterOut(t *testing.T) {
	e := newEnv(t)
	e.seedAndAnalyze(t)

	rr := e.do(t, http.MethodPost, "/api/playlists/generate", gin.H{
		"custom_rules": gin.H{"energy_range": gin.H{"min": 0.9, "max": 1.0}},
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var start generateStartResponse
	unmarshal(t, rr, &start)
	e.waitTask(t, start.StatusURL, task.StateCompleted)

	rr = e.do(t, http.MethodGet, "/api/playlists/generate/"+start.TaskID+"/result", nil)
	var res generateResult
	unmarshal(t, rr, &res)
	require.True(t, res.Success)
	assert.Empty(t, res.Playlist.Tracks)
	assert.True(t, res.Playlist.Metadata.Empty)
}

func TestGenerationResultStates(t *testing.T) {
	e := newEnv(t)

	release := make(chan struct{})
	id, err := e.srv.tasks.Submit(task.KindPlaylistGeneration, func(ctx context.Context, h *task.Handle) (any, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &domain.Playlist{ID: "p1", CreatedAt: time.Now(), Tracks: []domain.PlaylistEntry{}}, nil
	})
	require.NoError(t, err)

	resultURL := "/api/playlists/generate/" + id + "/result"
	rr := e.do(t, http.MethodGet, resultURL, nil)
	assert.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	close(release)
	e.waitTask(t, "/api/playlists/generate/"+id+"/status", task.StateCompleted)
	rr = e.do(t, http.MethodGet, resultURL, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var res generateResult
	unmarshal(t, rr, &res)
	assert.True(t, res.Success)

	// A failed run reports success=false with the error message.
	failID, err := e.srv.tasks.Submit(task.KindPlaylistGeneration, func(ctx context.Context, h *task.Handle) (any, error) {
		return nil, errors.New("beam collapsed")
	})
	require.NoError(t, err)
	e.waitTask(t, "/api/playlists/generate/"+failID+"/status", task.StateFailed)
	rr = e.do(t, http.MethodGet, "/api/playlists/generate/"+failID+"/result", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	unmarshal(t, rr, &res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "beam collapsed")

	rr = e.do(t, http.MethodGet, "/api/playlists/generate/nope/result", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestExportFlow(t *testing.T) {
	e := newEnv(t)
	paths := e.seedAndAnalyze(t)

	p := domain.Playlist{
		ID:        "export-test",
		CreatedAt: time.Now().UTC(),
		Tracks: []domain.PlaylistEntry{
			{Path: paths[0]},
			{Path: paths[1], TransitionScore: 0.8},
		},
		Metadata: domain.PlaylistMetadata{Preset: "harmonic_flow", TotalDuration: 610},
	}

	rr := e.do(t, http.MethodPost, "/api/playlists/export", gin.H{
		"playlist_data": p,
		"format_type":   "m3u",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var exp exportResponse
	unmarshal(t, rr, &exp)
	assert.True(t, exp.Success)
	assert.Equal(t, "m3u", exp.FormatType)
	assert.Equal(t, 2, exp.TrackCount)
	assert.Greater(t, exp.FileSizeBytes, int64(0))
	assert.True(t, strings.HasPrefix(exp.Filename, "harmonic_flow_"), exp.Filename)
	assert.True(t, strings.HasSuffix(exp.Filename, ".m3u"), exp.Filename)

	data, err := os.ReadFile(filepath.Join(e.cfg.ExportsDir(), exp.Filename))
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.HasPrefix(content, "#EXTM3U"))
	assert.Contains(t, content, paths[0])
	assert.Contains(t, content, "Artist One - Opening")

	// Explicit filenames gain the format extension.
	rr = e.do(t, http.MethodPost, "/api/playlists/export", gin.H{
		"playlist_data": p,
		"format_type":   "rekordbox",
		"filename":      "myset",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	unmarshal(t, rr, &exp)
	assert.Equal(t, "myset.xml", exp.Filename)

	rr = e.do(t, http.MethodGet, "/api/playlists/exports", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Exports    []export.Entry `json:"exports"`
		TotalCount int            `json:"total_count"`
		Formats    []string       `json:"supported_formats"`
	}
	unmarshal(t, rr, &list)
	assert.Equal(t, 2, list.TotalCount)
	assert.Len(t, list.Formats, 4)

	rr = e.do(t, http.MethodDelete, "/api/playlists/exports/myset.xml", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = e.do(t, http.MethodDelete, "/api/playlists/exports/myset.xml", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, string(domain.CodeNotFound), decodeError(t, rr).Error.Code)
}

func TestExportValidation(t *testing.T) {
	e := newEnv(t)
	p := domain.Playlist{
		ID:        "v",
		CreatedAt: time.Now(),
		Tracks:    []domain.PlaylistEntry{{Path: "/a.mp3"}},
	}

	rr := e.do(t, http.MethodPost, "/api/playlists/export", gin.H{
		"playlist_data": p,
		"format_type":   "tango",
	})
	require.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
	assert.Equal(t, string(domain.CodeUnsupportedFormat), decodeError(t, rr).Error.Code)

	rr = e.do(t, http.MethodPost, "/api/playlists/export", gin.H{"format_type": "m3u"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.do(t, http.MethodPost, "/api/playlists/export", gin.H{
		"playlist_data": p,
		"format_type":   "m3u",
		"filename":      "../escape.m3u",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, string(domain.CodeInvalidArgument), decodeError(t, rr).Error.Code)
}
