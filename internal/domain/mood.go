package domain

// Mood is one tag from the fixed mood vocabulary.
type Mood string

const (
	MoodEnergetic   Mood = "energetic"
	MoodHappy       Mood = "happy"
	MoodCalm        Mood = "calm"
	MoodMelancholic Mood = "melancholic"
	MoodAggressive  Mood = "aggressive"
	MoodEuphoric    Mood = "euphoric"
	MoodDark        Mood = "dark"
	MoodDriving     Mood = "driving"
	MoodNeutral     Mood = "neutral"
)

// Moods returns the full vocabulary in a fixed order.
func Moods() []Mood {
	return []Mood{
		MoodEnergetic, MoodHappy, MoodCalm, MoodMelancholic,
		MoodAggressive, MoodEuphoric, MoodDark, MoodDriving, MoodNeutral,
	}
}

// Valid reports whether m is part of the vocabulary.
func (m Mood) Valid() bool {
	switch m {
	case MoodEnergetic, MoodHappy, MoodCalm, MoodMelancholic,
		MoodAggressive, MoodEuphoric, MoodDark, MoodDriving, MoodNeutral:
		return true
	}
	return false
}

// MoodScores maps every mood tag to a score. The key set is closed, so the
// scores are a struct rather than an open map.
type MoodScores struct {
	Energetic   float64 `json:"energetic"`
	Happy       float64 `json:"happy"`
	Calm        float64 `json:"calm"`
	Melancholic float64 `json:"melancholic"`
	Aggressive  float64 `json:"aggressive"`
	Euphoric    float64 `json:"euphoric"`
	Dark        float64 `json:"dark"`
	Driving     float64 `json:"driving"`
	Neutral     float64 `json:"neutral"`
}

// Get returns the score for a mood tag.
func (s MoodScores) Get(m Mood) float64 {
	switch m {
	case MoodEnergetic:
		return s.Energetic
	case MoodHappy:
		return s.Happy
	case MoodCalm:
		return s.Calm
	case MoodMelancholic:
		return s.Melancholic
	case MoodAggressive:
		return s.Aggressive
	case MoodEuphoric:
		return s.Euphoric
	case MoodDark:
		return s.Dark
	case MoodDriving:
		return s.Driving
	case MoodNeutral:
		return s.Neutral
	}
	return 0
}

// Set assigns the score for a mood tag.
func (s *MoodScores) Set(m Mood, v float64) {
	switch m {
	case MoodEnergetic:
		s.Energetic = v
	case MoodHappy:
		s.Happy = v
	case MoodCalm:
		s.Calm = v
	case MoodMelancholic:
		s.Melancholic = v
	case MoodAggressive:
		s.Aggressive = v
	case MoodEuphoric:
		s.Euphoric = v
	case MoodDark:
		s.Dark = v
	case MoodDriving:
		s.Driving = v
	case MoodNeutral:
		s.Neutral = v
	}
}

// Sum returns the total of all scores.
func (s MoodScores) Sum() float64 {
	return s.Energetic + s.Happy + s.Calm + s.Melancholic +
		s.Aggressive + s.Euphoric + s.Dark + s.Driving + s.Neutral
}

// Normalize scales the scores so they sum to 1.0. A zero vector becomes
// all-neutral.
func (s *MoodScores) Normalize() {
	sum := s.Sum()
	if sum <= 0 {
		*s = MoodScores{Neutral: 1}
		return
	}
	s.Energetic /= sum
	s.Happy /= sum
	s.Calm /= sum
	s.Melancholic /= sum
	s.Aggressive /= sum
	s.Euphoric /= sum
	s.Dark /= sum
	s.Driving /= sum
	s.Neutral /= sum
}
