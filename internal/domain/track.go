package domain

import "time"

// AnalysisVersion is the current feature schema version. Cache entries
// written with a lower version are treated as misses and re-analysed.
const AnalysisVersion = 1

// Track is the unit of the library: one audio file plus its extracted
// features. Path is the canonical absolute path and the primary identity
// for external references; ContentID is the cache identity.
type Track struct {
	Path       string  `json:"path"`
	ContentID  string  `json:"content_id,omitempty"`
	FileSize   int64   `json:"file_size"`
	MTime      int64   `json:"mtime"`
	Format     string  `json:"format"`
	Bitrate    int     `json:"bitrate,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Duration   float64 `json:"duration_seconds"`

	// Embedded tags; absent tags are omitted, never empty strings.
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
	Year   int    `json:"year,omitempty"`

	Features   *Features `json:"features,omitempty"`
	AnalysedAt time.Time `json:"analysed_at,omitempty"`
}

// Filename returns the base name of the track path.
func (t *Track) Filename() string {
	for i := len(t.Path) - 1; i >= 0; i-- {
		if t.Path[i] == '/' || t.Path[i] == '\\' {
			return t.Path[i+1:]
		}
	}
	return t.Path
}

// Features holds the extracted audio features. Immutable once written.
type Features struct {
	BPM              float64       `json:"bpm"`
	Key              string        `json:"key"`
	Camelot          string        `json:"camelot"`
	Energy           float64       `json:"energy"`
	Valence          float64       `json:"valence"`
	Danceability     float64       `json:"danceability"`
	Acousticness     float64       `json:"acousticness"`
	Instrumentalness float64       `json:"instrumentalness"`
	Mood             Mood          `json:"mood"`
	MoodScores       MoodScores    `json:"mood_scores"`
	EnergyTimeseries []EnergyPoint `json:"energy_timeseries"`
	Confidence       Confidence    `json:"confidence"`
}

// EnergyPoint is one sample of the energy curve over track time.
type EnergyPoint struct {
	T float64 `json:"t"` // seconds from track start
	V float64 `json:"v"` // energy in [0,1]
}

// Confidence carries per-field extraction confidence in [0,1].
type Confidence struct {
	BPM    float64 `json:"bpm"`
	Key    float64 `json:"key"`
	Energy float64 `json:"energy"`
	Mood   float64 `json:"mood"`
}

// EnergyLevel buckets an energy score into low/medium/high.
func EnergyLevel(energy float64) string {
	switch {
	case energy < 0.4:
		return "low"
	case energy < 0.7:
		return "medium"
	default:
		return "high"
	}
}

// TempoClass buckets a BPM value into slow/moderate/fast/very_fast.
func TempoClass(bpm float64) string {
	switch {
	case bpm < 90:
		return "slow"
	case bpm < 120:
		return "moderate"
	case bpm < 140:
		return "fast"
	default:
		return "very_fast"
	}
}
