package domain

import "time"

// PlaylistEntry is one position in a generated playlist. TransitionScore
// rates the transition from the previous track and is 0 for the first one.
type PlaylistEntry struct {
	Path            string  `json:"path"`
	TransitionScore float64 `json:"transition_score"`
}

// PlaylistMetadata carries the aggregates computed at generation time.
type PlaylistMetadata struct {
	TotalDuration float64   `json:"total_duration_seconds"`
	AvgBPM        float64   `json:"avg_bpm"`
	EnergyCurve   []float64 `json:"energy_curve"` // resampled to 16 points
	Preset        string    `json:"preset,omitempty"`
	Parameters    *Preset   `json:"parameters,omitempty"` // effective rules after overrides
	Truncated     bool      `json:"truncated,omitempty"`
	Empty         bool      `json:"empty,omitempty"`
}

// Playlist is an immutable ordered sequence of track references.
// Re-generation produces a new id.
type Playlist struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	Tracks    []PlaylistEntry  `json:"tracks"`
	Metadata  PlaylistMetadata `json:"metadata"`
}

// Range is a closed numeric interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v falls inside the range. A zero range (both
// bounds 0) matches everything.
func (r Range) Contains(v float64) bool {
	if r.Min == 0 && r.Max == 0 {
		return true
	}
	return v >= r.Min && v <= r.Max
}

// ScoreWeights are the transition scorer weights. They are normalised
// before use, so only their ratios matter.
type ScoreWeights struct {
	Harmony   float64 `json:"harmony"`
	BPM       float64 `json:"bpm"`
	Energy    float64 `json:"energy"`
	Mood      float64 `json:"mood"`
	Freshness float64 `json:"freshness"`
}

// DefaultScoreWeights returns the stock scorer weights.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{Harmony: 0.30, BPM: 0.20, Energy: 0.30, Mood: 0.15, Freshness: 0.05}
}

// Sum returns the total weight mass.
func (w ScoreWeights) Sum() float64 {
	return w.Harmony + w.BPM + w.Energy + w.Mood + w.Freshness
}

// Preset is a declarative set of generation rules.
type Preset struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	BPMRange    Range `json:"bpm_range"`
	EnergyRange Range `json:"energy_range"`

	// Either a named curve or an explicit 16-point target vector.
	EnergyCurve       string    `json:"energy_curve,omitempty"`
	TargetEnergyCurve []float64 `json:"target_energy_curve,omitempty"`

	HarmonyStrictness float64 `json:"harmony_strictness"`
	MoodConsistency   float64 `json:"mood_consistency"`

	MaxBPMJump            float64       `json:"max_bpm_jump"`
	AvoidSameArtistWindow int           `json:"avoid_same_artist_window"`
	MinTrackDuration      float64       `json:"min_track_duration_seconds,omitempty"`
	MaxTrackDuration      float64       `json:"max_track_duration_seconds,omitempty"`
	TargetDurationMinutes float64       `json:"target_duration_minutes,omitempty"`
	Weights               *ScoreWeights `json:"weights,omitempty"`

	Builtin bool `json:"builtin"`
}

// Named energy curve descriptors.
const (
	CurveFlat       = "flat"
	CurveBuildup    = "buildup"
	CurvePeakValley = "peak_valley"
	CurveWave       = "wave"
	CurveCooldown   = "cooldown"
)

// EnergyCurveLength is the fixed sampling resolution for target and
// reported energy curves.
const EnergyCurveLength = 16
