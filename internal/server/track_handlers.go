package server

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cratedig/cratedig/internal/domain"
	"github.com/cratedig/cratedig/internal/store"
)

// sortFields maps accepted sort_by values to the store's field names.
// Both spellings of analysed_at are accepted.
var sortFields = map[string]string{
	"":            "",
	"artist":      "artist",
	"title":       "title",
	"filename":    "filename",
	"path":        "path",
	"bpm":         "bpm",
	"energy":      "energy",
	"key":         "key",
	"duration":    "duration",
	"analysed_at": "analysed_at",
	"analyzed_at": "analysed_at",
}

// queryList collects a multi-value query parameter, splitting each value
// on commas so both ?key=8A&key=9A and ?key=8A,9A work.
func queryList(c *gin.Context, name string) []string {
	var out []string
	for _, raw := range c.QueryArray(name) {
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func queryFloat(c *gin.Context, name string) (float64, bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s must be a number", name)
	}
	return v, true, nil
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return v, nil
}

// queryRange builds a filter range from optional min/max parameters. A
// min without a max leaves the range open-ended upward.
func queryRange(c *gin.Context, minName, maxName string) (domain.Range, error) {
	lo, hasLo, err := queryFloat(c, minName)
	if err != nil {
		return domain.Range{}, err
	}
	hi, hasHi, err := queryFloat(c, maxName)
	if err != nil {
		return domain.Range{}, err
	}
	if hasLo && hasHi && lo > hi {
		return domain.Range{}, fmt.Errorf("%s must not exceed %s", minName, maxName)
	}
	if hasLo && !hasHi {
		hi = math.MaxFloat64
	}
	return domain.Range{Min: lo, Max: hi}, nil
}

// listTracks serves the filtered, sorted, paginated library view.
func (s *Server) listTracks(c *gin.Context) {
	page, err := queryInt(c, "page", 1)
	if err == nil && page < 1 {
		err = fmt.Errorf("page must be positive")
	}
	if err != nil {
		fail(c, domain.CodeInvalidArgument, err.Error(), nil)
		return
	}
	perPage, err := queryInt(c, "per_page", store.DefaultPerPage)
	if err == nil && perPage < 1 {
		err = fmt.Errorf("per_page must be positive")
	}
	if err != nil {
		fail(c, domain.CodeInvalidArgument, err.Error(), nil)
		return
	}
	if perPage > store.MaxPerPage {
		perPage = store.MaxPerPage
	}

	bpmRange, err := queryRange(c, "min_bpm", "max_bpm")
	if err != nil {
		fail(c, domain.CodeInvalidArgument, err.Error(), nil)
		return
	}
	energyRange, err := queryRange(c, "min_energy", "max_energy")
	if err != nil {
		fail(c, domain.CodeInvalidArgument, err.Error(), nil)
		return
	}

	field, ok := sortFields[strings.ToLower(c.Query("sort_by"))]
	if !ok {
		fail(c, domain.CodeInvalidArgument, "unknown sort_by field: "+c.Query("sort_by"), nil)
		return
	}
	order := strings.ToLower(c.Query("sort_order"))
	switch order {
	case "", "asc", "desc":
	default:
		fail(c, domain.CodeInvalidArgument, "sort_order must be asc or desc", nil)
		return
	}

	filter := store.Filter{
		Search:   c.Query("search"),
		Keys:     queryList(c, "key"),
		Camelots: queryList(c, "camelot"),
		Moods:    queryList(c, "mood"),
		BPM:      bpmRange,
		Energy:   energyRange,
	}
	tracks, total := s.store.List(filter,
		store.SortSpec{By: field, Desc: order == "desc"},
		store.Page{Number: page, PerPage: perPage})

	totalPages := 0
	if total > 0 {
		totalPages = (total + perPage - 1) / perPage
	}
	out := make([]trackSummary, len(tracks))
	for i, t := range tracks {
		out[i] = summarize(t)
	}
	c.JSON(http.StatusOK, tracksListResponse{
		Tracks:     out,
		TotalCount: total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	})
}

// trackStats aggregates the whole library: counts, averages, ranges and
// key/mood distributions.
func (s *Server) trackStats(c *gin.Context) {
	tracks := s.store.All()
	if len(tracks) == 0 {
		c.JSON(http.StatusOK, gin.H{
			"total_tracks":         0,
			"total_duration_hours": 0.0,
			"statistics":           gin.H{},
			"distributions":        gin.H{},
		})
		return
	}

	var (
		totalDur, bpmSum, energySum float64
		counted                     int
	)
	bpmMin, bpmMax := math.MaxFloat64, -math.MaxFloat64
	energyMin, energyMax := math.MaxFloat64, -math.MaxFloat64
	keys := map[string]int{}
	moods := map[string]int{}

	for _, t := range tracks {
		totalDur += t.Duration
		f := t.Features
		if f == nil {
			continue
		}
		counted++
		bpmSum += f.BPM
		energySum += f.Energy
		bpmMin = math.Min(bpmMin, f.BPM)
		bpmMax = math.Max(bpmMax, f.BPM)
		energyMin = math.Min(energyMin, f.Energy)
		energyMax = math.Max(energyMax, f.Energy)
		if f.Camelot != "" {
			keys[f.Camelot]++
		}
		if f.Mood != "" {
			moods[string(f.Mood)]++
		}
	}

	stats := gin.H{}
	if counted > 0 {
		n := float64(counted)
		stats = gin.H{
			"average_bpm":    round1(bpmSum / n),
			"average_energy": round3(energySum / n),
			"bpm_range":      domain.Range{Min: bpmMin, Max: bpmMax},
			"energy_range":   domain.Range{Min: energyMin, Max: energyMax},
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"total_tracks":         len(tracks),
		"total_duration_hours": round2(totalDur / 3600),
		"statistics":           stats,
		"distributions": gin.H{
			"keys":  keys,
			"moods": moods,
		},
	})
}

// similarTracks ranks the library by feature similarity to a reference
// track.
func (s *Server) similarTracks(c *gin.Context) {
	path := c.Query("track_path")
	if path == "" {
		fail(c, domain.CodeInvalidArgument, "track_path is required", nil)
		return
	}
	limit, err := queryInt(c, "limit", 10)
	if err != nil {
		fail(c, domain.CodeInvalidArgument, err.Error(), nil)
		return
	}
	if limit < 1 || limit > 50 {
		fail(c, domain.CodeInvalidArgument, "limit must be between 1 and 50", nil)
		return
	}
	threshold := 0.7
	if v, ok, err := queryFloat(c, "similarity_threshold"); err != nil {
		fail(c, domain.CodeInvalidArgument, err.Error(), nil)
		return
	} else if ok {
		if v < 0 || v > 1 {
			fail(c, domain.CodeInvalidArgument, "similarity_threshold must be in [0,1]", nil)
			return
		}
		threshold = v
	}

	matches, err := s.store.Similar(path, limit, threshold)
	if err != nil {
		failErr(c, err)
		return
	}
	entries := make([]similarTrackEntry, len(matches))
	for i, m := range matches {
		entries[i] = similarTrackEntry{Track: summarize(m.Track), Similarity: m.Similarity}
	}
	c.JSON(http.StatusOK, similarTracksResponse{
		Reference:  path,
		Threshold:  threshold,
		Tracks:     entries,
		TotalCount: len(entries),
	})
}

// getTrack returns the full record for one track, timeseries included.
// The path arrives URL-encoded as a single segment.
func (s *Server) getTrack(c *gin.Context) {
	t, err := s.store.GetByPath(c.Param("path"))
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"track": t})
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
