package mood

import "github.com/cratedig/cratedig/internal/domain"

// distanceTable is symmetric with a zero diagonal, indexed by the order
// of domain.Moods(). Values near 0 mean the moods sit well next to each
// other in a set; values near 1 mean a jarring jump.
var distanceTable = [9][9]float64{
	// energetic, happy, calm, melancholic, aggressive, euphoric, dark, driving, neutral
	{0.0, 0.3, 0.8, 0.9, 0.4, 0.2, 0.6, 0.2, 0.4}, // energetic
	{0.3, 0.0, 0.4, 0.8, 0.8, 0.2, 0.9, 0.5, 0.4}, // happy
	{0.8, 0.4, 0.0, 0.3, 1.0, 0.7, 0.6, 0.8, 0.3}, // calm
	{0.9, 0.8, 0.3, 0.0, 0.7, 0.9, 0.3, 0.8, 0.4}, // melancholic
	{0.4, 0.8, 1.0, 0.7, 0.0, 0.6, 0.3, 0.4, 0.6}, // aggressive
	{0.2, 0.2, 0.7, 0.9, 0.6, 0.0, 0.8, 0.3, 0.5}, // euphoric
	{0.6, 0.9, 0.6, 0.3, 0.3, 0.8, 0.0, 0.4, 0.5}, // dark
	{0.2, 0.5, 0.8, 0.8, 0.4, 0.3, 0.4, 0.0, 0.4}, // driving
	{0.4, 0.4, 0.3, 0.4, 0.6, 0.5, 0.5, 0.4, 0.0}, // neutral
}

var moodIndex = func() map[domain.Mood]int {
	m := make(map[domain.Mood]int, len(domain.Moods()))
	for i, mood := range domain.Moods() {
		m[mood] = i
	}
	return m
}()

// Distance returns how far apart two moods feel, in [0,1]. Unknown moods
// are treated as neutral.
func Distance(a, b domain.Mood) float64 {
	ia, ok := moodIndex[a]
	if !ok {
		ia = moodIndex[domain.MoodNeutral]
	}
	ib, ok := moodIndex[b]
	if !ok {
		ib = moodIndex[domain.MoodNeutral]
	}
	return distanceTable[ia][ib]
}

// Compatibility is the inverse of Distance, handy for scoring.
func Compatibility(a, b domain.Mood) float64 {
	return 1 - Distance(a, b)
}
