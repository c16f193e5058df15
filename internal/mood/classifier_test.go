package mood

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cratedig/cratedig/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		in         Input
		want       domain.Mood
		confidence float64
	}{
		{
			name:       "euphoric peak",
			in:         Input{Energy: 0.85, Valence: 0.8, BPM: 128, Mode: "major"},
			want:       domain.MoodEuphoric,
			confidence: 0.25,
		},
		{
			name:       "aggressive low valence",
			in:         Input{Energy: 0.9, Valence: 0.1, BPM: 100, Mode: "minor"},
			want:       domain.MoodAggressive,
			confidence: 0.5,
		},
		{
			name:       "driving mid groove",
			in:         Input{Energy: 0.6, Valence: 0.5, BPM: 124, Acousticness: 0.1, Mode: "major"},
			want:       domain.MoodDriving,
			confidence: 0.25,
		},
		{
			name:       "energetic fast",
			in:         Input{Energy: 0.8, Valence: 0.4, BPM: 160, Mode: "major"},
			want:       domain.MoodEnergetic,
			confidence: 0.5,
		},
		{
			name:       "happy mid energy",
			in:         Input{Energy: 0.55, Valence: 0.8, BPM: 105, Acousticness: 0.3, Mode: "major"},
			want:       domain.MoodHappy,
			confidence: 0.5,
		},
		{
			name:       "dark minor",
			in:         Input{Energy: 0.6, Valence: 0.2, BPM: 95, Mode: "minor"},
			want:       domain.MoodDark,
			confidence: 0.5,
		},
		{
			name:       "melancholic quiet minor",
			in:         Input{Energy: 0.3, Valence: 0.2, BPM: 90, Acousticness: 0.5, Mode: "minor"},
			want:       domain.MoodMelancholic,
			confidence: 0.75,
		},
		{
			name:       "calm acoustic",
			in:         Input{Energy: 0.2, Valence: 0.6, BPM: 80, Acousticness: 0.7, Mode: "major"},
			want:       domain.MoodCalm,
			confidence: 1.0,
		},
		{
			name:       "no rule clears the bar",
			in:         Input{Energy: 0.5, Valence: 0.45, BPM: 100, Acousticness: 0.2, Mode: "major"},
			want:       domain.MoodNeutral,
			confidence: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, conf, scores := Classify(tt.in)
			assert.Equal(t, tt.want, got)
			assert.InDelta(t, tt.confidence, conf, 1e-9)
			assert.InDelta(t, 1.0, scores.Sum(), 1e-9, "scores must sum to one")
		})
	}
}

func TestClassifyScoreVector(t *testing.T) {
	_, _, scores := Classify(Input{Energy: 0.85, Valence: 0.8, BPM: 128, Mode: "major"})
	// Raw rule scores are euphoric 1.0, energetic 0.75, driving 0.5,
	// happy 0.25; the vector is that, normalised.
	assert.InDelta(t, 0.4, scores.Euphoric, 1e-9)
	assert.InDelta(t, 0.3, scores.Energetic, 1e-9)
	assert.InDelta(t, 0.2, scores.Driving, 1e-9)
	assert.InDelta(t, 0.1, scores.Happy, 1e-9)
	assert.Zero(t, scores.Neutral)
}

func TestClassifyClampsInput(t *testing.T) {
	got, conf, _ := Classify(Input{Energy: 1.5, Valence: -0.2, BPM: 300, Mode: "minor"})
	assert.Equal(t, domain.MoodAggressive, got)
	assert.InDelta(t, 1.0, conf, 1e-9)
}

func TestClassifyNaNInput(t *testing.T) {
	got, conf, scores := Classify(Input{Energy: math.NaN(), Valence: 0.5, BPM: 120})
	assert.Equal(t, domain.MoodNeutral, got)
	assert.Zero(t, conf)
	assert.Equal(t, 1.0, scores.Neutral)
}

func TestDistanceTable(t *testing.T) {
	moods := domain.Moods()
	for _, a := range moods {
		assert.Zero(t, Distance(a, a), "distance to self for %s", a)
		for _, b := range moods {
			d := Distance(a, b)
			assert.Equal(t, d, Distance(b, a), "%s/%s must be symmetric", a, b)
			assert.GreaterOrEqual(t, d, 0.0)
			assert.LessOrEqual(t, d, 1.0)
		}
	}

	assert.Equal(t, 0.2, Distance(domain.MoodEnergetic, domain.MoodDriving))
	assert.Equal(t, 1.0, Distance(domain.MoodCalm, domain.MoodAggressive))
}

func TestDistanceUnknownMood(t *testing.T) {
	assert.Equal(t, Distance(domain.MoodNeutral, domain.MoodCalm), Distance(domain.Mood("bogus"), domain.MoodCalm))
}

func TestCompatibility(t *testing.T) {
	assert.InDelta(t, 0.8, Compatibility(domain.MoodEnergetic, domain.MoodDriving), 1e-9)
	assert.InDelta(t, 1.0, Compatibility(domain.MoodHappy, domain.MoodHappy), 1e-9)
}
