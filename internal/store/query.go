package store

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/cratedig/cratedig/internal/camelot"
	"github.com/cratedig/cratedig/internal/domain"
)

const (
	DefaultPerPage = 50
	MaxPerPage     = 200
)

// Filter narrows a track listing. Zero values match everything.
type Filter struct {
	Search   string
	Keys     []string
	Camelots []string
	Moods    []string
	BPM      domain.Range
	Energy   domain.Range
}

// SortSpec orders a listing. By is one of artist, title, bpm, energy,
// duration, analysed_at, path; empty means artist.
type SortSpec struct {
	By   string
	Desc bool
}

// Page selects one page of results. Number starts at 1.
type Page struct {
	Number  int
	PerPage int
}

func (p Page) normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.PerPage <= 0 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

// List returns one page of the library view plus the total match count.
// Ordering is total and deterministic: the requested sort key first, then
// (artist, title, path) to break ties.
func (s *Store) List(f Filter, spec SortSpec, page Page) ([]domain.Track, int) {
	tracks := s.snapshot()

	matched := tracks[:0]
	for _, t := range tracks {
		if matchesFilter(t, f) {
			matched = append(matched, t)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return lessTracks(matched[i], matched[j], spec)
	})

	total := len(matched)
	page = page.normalize()
	start := (page.Number - 1) * page.PerPage
	if start >= total {
		return []domain.Track{}, total
	}
	end := start + page.PerPage
	if end > total {
		end = total
	}
	return matched[start:end], total
}

// All returns the whole library view unpaged, for consumers that need
// the full candidate pool rather than a page of it.
func (s *Store) All() []domain.Track {
	return s.snapshot()
}

// snapshot materialises the current library view: every indexed path with
// a valid, unexpired entry. No disk access.
func (s *Store) snapshot() []domain.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Track, 0, len(s.index))
	for path, ie := range s.index {
		entry, ok := s.entries[ie.ContentID]
		if !ok || entry.AnalysisVersion < domain.AnalysisVersion || s.expired(entry) {
			continue
		}
		out = append(out, entry.track(path, ie.FileSize, ie.MTime))
	}
	return out
}

func matchesFilter(t domain.Track, f Filter) bool {
	if t.Features == nil {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(t.Artist), needle) &&
			!strings.Contains(strings.ToLower(t.Title), needle) &&
			!strings.Contains(strings.ToLower(t.Filename()), needle) {
			return false
		}
	}
	if len(f.Keys) > 0 && !containsFold(f.Keys, t.Features.Key, camelot.NormalizeKey) {
		return false
	}
	if len(f.Camelots) > 0 && !containsFold(f.Camelots, t.Features.Camelot, strings.ToUpper) {
		return false
	}
	if len(f.Moods) > 0 && !containsFold(f.Moods, string(t.Features.Mood), strings.ToLower) {
		return false
	}
	if !f.BPM.Contains(t.Features.BPM) {
		return false
	}
	if !f.Energy.Contains(t.Features.Energy) {
		return false
	}
	return true
}

func containsFold(haystack []string, want string, canon func(string) string) bool {
	want = canon(want)
	for _, h := range haystack {
		if canon(h) == want {
			return true
		}
	}
	return false
}

func lessTracks(a, b domain.Track, spec SortSpec) bool {
	c := 0
	switch spec.By {
	case "bpm":
		c = cmpFloat(a.Features.BPM, b.Features.BPM)
	case "energy":
		c = cmpFloat(a.Features.Energy, b.Features.Energy)
	case "duration":
		c = cmpFloat(a.Duration, b.Duration)
	case "filename":
		c = strings.Compare(strings.ToLower(a.Filename()), strings.ToLower(b.Filename()))
	case "key":
		c = cmpWheel(a.Features.Camelot, b.Features.Camelot)
	case "analysed_at":
		switch {
		case a.AnalysedAt.Before(b.AnalysedAt):
			c = -1
		case a.AnalysedAt.After(b.AnalysedAt):
			c = 1
		}
	case "title":
		c = strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
	case "path":
		c = strings.Compare(a.Path, b.Path)
	default:
		c = strings.Compare(strings.ToLower(a.Artist), strings.ToLower(b.Artist))
	}
	if spec.Desc {
		c = -c
	}
	if c != 0 {
		return c < 0
	}
	if c := strings.Compare(strings.ToLower(a.Artist), strings.ToLower(b.Artist)); c != 0 {
		return c < 0
	}
	if c := strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)); c != 0 {
		return c < 0
	}
	return a.Path < b.Path
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// cmpWheel orders camelot notations around the wheel (1A..12A, 1B..12B).
// Unparseable keys sort after valid ones, then by string.
func cmpWheel(a, b string) int {
	ka, errA := camelot.Parse(a)
	kb, errB := camelot.Parse(b)
	switch {
	case errA == nil && errB != nil:
		return -1
	case errA != nil && errB == nil:
		return 1
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	}
	if ka.Letter != kb.Letter {
		return strings.Compare(ka.Letter, kb.Letter)
	}
	return cmpFloat(float64(ka.Number), float64(kb.Number))
}

// SimilarTrack pairs a track with its similarity to the query track.
type SimilarTrack struct {
	Track      domain.Track `json:"track"`
	Similarity float64      `json:"similarity"`
}

// Similar finds the k nearest tracks to the one at path by a weighted
// distance over (bpm, energy, valence, danceability, mode, wheel
// position).
func (s *Store) Similar(path string, k int, threshold float64) ([]SimilarTrack, error) {
	target, err := s.GetByPath(path)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 10
	}

	var out []SimilarTrack
	for _, t := range s.snapshot() {
		if t.Path == target.Path {
			continue
		}
		sim := Similarity(target, t)
		if sim >= threshold {
			out = append(out, SimilarTrack{Track: t, Similarity: sim})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Track.Path < out[j].Track.Path
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// similarity component weights; they sum to 1.
const (
	wBPM     = 0.30
	wEnergy  = 0.25
	wValence = 0.15
	wDance   = 0.10
	wMode    = 0.05
	wKey     = 0.15

	bpmSpan = 40.0
)

// Similarity scores two analysed tracks in [0,1].
func Similarity(a, b domain.Track) float64 {
	if a.Features == nil || b.Features == nil {
		return 0
	}
	fa, fb := a.Features, b.Features

	dBPM := math.Abs(fa.BPM-fb.BPM) / bpmSpan
	if dBPM > 1 {
		dBPM = 1
	}
	dMode := 0.0
	ka, errA := camelot.Parse(fa.Camelot)
	kb, errB := camelot.Parse(fb.Camelot)
	if errA != nil || errB != nil || ka.Letter != kb.Letter {
		dMode = 1
	}

	dist := wBPM*dBPM +
		wEnergy*math.Abs(fa.Energy-fb.Energy) +
		wValence*math.Abs(fa.Valence-fb.Valence) +
		wDance*math.Abs(fa.Danceability-fb.Danceability) +
		wMode*dMode +
		wKey*camelot.WheelDistance(fa.Camelot, fb.Camelot)

	return 1 - dist
}

// Stats aggregates the library and the cache's effectiveness counters.
type Stats struct {
	TotalTracks   int            `json:"total_tracks"`
	Entries       int            `json:"entries"`
	SizeBytes     int64          `json:"size_bytes"`
	TotalDuration float64        `json:"total_duration_seconds"`
	AvgDuration   float64        `json:"avg_duration_seconds"`
	BPMHistogram  map[int]int    `json:"bpm_histogram"`
	MoodHistogram map[string]int `json:"mood_histogram"`
	Hits          int64          `json:"hits"`
	Misses        int64          `json:"misses"`
	HitRate       float64        `json:"hit_rate"`
	OldestEntry   *time.Time     `json:"oldest_entry,omitempty"`
	NewestEntry   *time.Time     `json:"newest_entry,omitempty"`
}

func (s *Store) Stats() Stats {
	tracks := s.snapshot()

	st := Stats{
		TotalTracks:   len(tracks),
		BPMHistogram:  make(map[int]int),
		MoodHistogram: make(map[string]int),
		Hits:          s.hits.Load(),
		Misses:        s.misses.Load(),
		SizeBytes:     s.sizeBytes.Load(),
	}
	s.mu.RLock()
	st.Entries = len(s.entries)
	for _, e := range s.entries {
		at := e.AnalysedAt
		if st.OldestEntry == nil || at.Before(*st.OldestEntry) {
			st.OldestEntry = &at
		}
		if st.NewestEntry == nil || at.After(*st.NewestEntry) {
			st.NewestEntry = &at
		}
	}
	s.mu.RUnlock()

	for _, t := range tracks {
		st.TotalDuration += t.Duration
		st.BPMHistogram[int(t.Features.BPM)]++
		st.MoodHistogram[string(t.Features.Mood)]++
	}
	if st.TotalTracks > 0 {
		st.AvgDuration = st.TotalDuration / float64(st.TotalTracks)
	}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	return st
}

// String summarises stats for logs.
func (st Stats) String() string {
	return fmt.Sprintf("%d tracks, %d entries, %.0f%% hit rate",
		st.TotalTracks, st.Entries, st.HitRate*100)
}
