package server

import (
	"time"

	"github.com/cratedig/cratedig/internal/domain"
)

type analysisStartRequest struct {
	Directories     []string `json:"directories"`
	FilePaths       []string `json:"file_paths"`
	Recursive       *bool    `json:"recursive"`
	IncludePatterns []string `json:"include_patterns"`
	ExcludePatterns []string `json:"exclude_patterns"`
	OverwriteCache  bool     `json:"overwrite_cache"`
}

func (r analysisStartRequest) recursive() bool {
	return r.Recursive == nil || *r.Recursive
}

type analysisStartResponse struct {
	TaskID             string `json:"task_id"`
	Status             string `json:"status"`
	Message            string `json:"message"`
	TotalFiles         int    `json:"total_files"`
	InvalidFiles       int    `json:"invalid_files"`
	DirectoriesScanned int    `json:"directories_scanned"`
	StatusURL          string `json:"status_url"`
	OverwriteCache     bool   `json:"overwrite_cache"`
}

type cacheCleanupRequest struct {
	OlderThanDays float64 `json:"older_than_days"`
	MaxSizeGB     float64 `json:"max_size_gb"`
}

type generateRequest struct {
	TrackFilePaths        []string     `json:"track_file_paths"`
	PresetName            string       `json:"preset_name"`
	CustomRules           *customRules `json:"custom_rules"`
	TargetDurationMinutes float64      `json:"target_duration_minutes"`
	Seed                  string       `json:"seed"`
	Surprise              float64      `json:"surprise"`
}

// customRules overrides individual preset knobs for one request.
// Pointer fields distinguish "leave the preset value alone" from an
// explicit zero.
type customRules struct {
	BPMRange              *domain.Range        `json:"bpm_range"`
	EnergyRange           *domain.Range        `json:"energy_range"`
	EnergyCurve           *string              `json:"energy_curve"`
	TargetEnergyCurve     []float64            `json:"target_energy_curve"`
	HarmonyStrictness     *float64             `json:"harmony_strictness"`
	MoodConsistency       *float64             `json:"mood_consistency"`
	MaxBPMJump            *float64             `json:"max_bpm_jump"`
	AvoidSameArtistWindow *int                 `json:"avoid_same_artist_window"`
	MinTrackDuration      *float64             `json:"min_track_duration_seconds"`
	MaxTrackDuration      *float64             `json:"max_track_duration_seconds"`
	Weights               *domain.ScoreWeights `json:"weights"`
}

func (r *customRules) apply(p *domain.Preset) {
	if r == nil {
		return
	}
	if r.BPMRange != nil {
		p.BPMRange = *r.BPMRange
	}
	if r.EnergyRange != nil {
		p.EnergyRange = *r.EnergyRange
	}
	if r.EnergyCurve != nil {
		p.EnergyCurve = *r.EnergyCurve
	}
	if r.TargetEnergyCurve != nil {
		p.TargetEnergyCurve = r.TargetEnergyCurve
		p.EnergyCurve = ""
	}
	if r.HarmonyStrictness != nil {
		p.HarmonyStrictness = *r.HarmonyStrictness
	}
	if r.MoodConsistency != nil {
		p.MoodConsistency = *r.MoodConsistency
	}
	if r.MaxBPMJump != nil {
		p.MaxBPMJump = *r.MaxBPMJump
	}
	if r.AvoidSameArtistWindow != nil {
		p.AvoidSameArtistWindow = *r.AvoidSameArtistWindow
	}
	if r.MinTrackDuration != nil {
		p.MinTrackDuration = *r.MinTrackDuration
	}
	if r.MaxTrackDuration != nil {
		p.MaxTrackDuration = *r.MaxTrackDuration
	}
	if r.Weights != nil {
		w := *r.Weights
		p.Weights = &w
	}
}

type generateStartResponse struct {
	TaskID           string `json:"task_id"`
	Status           string `json:"status"`
	Message          string `json:"message"`
	ValidTracksCount int    `json:"valid_tracks_count"`
	TotalRequested   int    `json:"total_requested"`
	StatusURL        string `json:"status_url"`
}

type exportRequest struct {
	Playlist        *domain.Playlist `json:"playlist_data" binding:"required"`
	FormatType      string           `json:"format_type" binding:"required"`
	Filename        string           `json:"filename"`
	IncludeMetadata *bool            `json:"include_metadata"`
}

func (r exportRequest) includeMetadata() bool {
	return r.IncludeMetadata == nil || *r.IncludeMetadata
}

type exportResponse struct {
	Success       bool   `json:"success"`
	OutputPath    string `json:"output_path"`
	Filename      string `json:"filename"`
	FormatType    string `json:"format_type"`
	TrackCount    int    `json:"track_count"`
	FileSizeBytes int64  `json:"file_size_bytes"`
}

// trackSummary is the list-surface view of a track: tags plus the
// headline features, without timeseries payloads.
type trackSummary struct {
	FilePath    string    `json:"file_path"`
	Filename    string    `json:"filename"`
	Title       string    `json:"title,omitempty"`
	Artist      string    `json:"artist,omitempty"`
	Duration    float64   `json:"duration_seconds"`
	BPM         float64   `json:"bpm"`
	Key         string    `json:"key"`
	Camelot     string    `json:"camelot"`
	Energy      float64   `json:"energy"`
	Mood        string    `json:"mood,omitempty"`
	EnergyLevel string    `json:"energy_level"`
	TempoClass  string    `json:"tempo_class"`
	AnalysedAt  time.Time `json:"analysed_at"`
}

func summarize(t domain.Track) trackSummary {
	s := trackSummary{
		FilePath:   t.Path,
		Filename:   t.Filename(),
		Title:      t.Title,
		Artist:     t.Artist,
		Duration:   t.Duration,
		AnalysedAt: t.AnalysedAt,
	}
	if f := t.Features; f != nil {
		s.BPM = f.BPM
		s.Key = f.Key
		s.Camelot = f.Camelot
		s.Energy = f.Energy
		s.Mood = string(f.Mood)
		s.EnergyLevel = domain.EnergyLevel(f.Energy)
		s.TempoClass = domain.TempoClass(f.BPM)
	}
	return s
}

type tracksListResponse struct {
	Tracks     []trackSummary `json:"tracks"`
	TotalCount int            `json:"total_count"`
	Page       int            `json:"page"`
	PerPage    int            `json:"per_page"`
	TotalPages int            `json:"total_pages"`
	HasNext    bool           `json:"has_next"`
	HasPrev    bool           `json:"has_prev"`
}

type similarTrackEntry struct {
	Track      trackSummary `json:"track"`
	Similarity float64      `json:"similarity"`
}

type similarTracksResponse struct {
	Reference  string              `json:"reference"`
	Threshold  float64             `json:"threshold"`
	Tracks     []similarTrackEntry `json:"tracks"`
	TotalCount int                 `json:"total_count"`
}
