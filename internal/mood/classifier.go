package mood

import (
	"math"

	"github.com/cratedig/cratedig/internal/domain"
)

// Input carries the feature slice the classifier looks at. Score fields
// outside [0,1] are clamped; BPM is clamped to the analyzable range.
type Input struct {
	Energy       float64
	Valence      float64
	BPM          float64
	Acousticness float64
	Mode         string // "major" or "minor"
}

// confidenceThreshold is the minimum rule score for a mood to win at all;
// below it the track is neutral.
const confidenceThreshold = 0.5

// fuzzyWidth is how far outside a range a value may sit while still
// scoring partially.
const fuzzyWidth = 0.2

type condition struct {
	field string // "energy", "valence", "bpm", "acousticness", "mode"
	lo    float64
	hi    float64
	mode  string
}

type rule struct {
	mood       domain.Mood
	conditions []condition
}

// rules is the prioritised list; the first rule whose score clears the
// threshold names the dominant mood.
var rules = []rule{
	{domain.MoodEuphoric, []condition{
		{field: "energy", lo: 0.7, hi: 1.0},
		{field: "valence", lo: 0.6, hi: 1.0},
		{field: "bpm", lo: 118, hi: 150},
	}},
	{domain.MoodAggressive, []condition{
		{field: "energy", lo: 0.7, hi: 1.0},
		{field: "valence", lo: 0.0, hi: 0.3},
	}},
	{domain.MoodDriving, []condition{
		{field: "energy", lo: 0.55, hi: 0.85},
		{field: "valence", lo: 0.3, hi: 0.7},
		{field: "bpm", lo: 110, hi: 140},
	}},
	{domain.MoodEnergetic, []condition{
		{field: "energy", lo: 0.65, hi: 1.0},
		{field: "valence", lo: 0.0, hi: 0.75},
		{field: "bpm", lo: 120, hi: 200},
	}},
	{domain.MoodHappy, []condition{
		{field: "valence", lo: 0.65, hi: 1.0},
		{field: "energy", lo: 0.4, hi: 0.7},
	}},
	{domain.MoodDark, []condition{
		{field: "valence", lo: 0.0, hi: 0.35},
		{field: "energy", lo: 0.45, hi: 0.8},
		{field: "mode", mode: "minor"},
	}},
	{domain.MoodMelancholic, []condition{
		{field: "valence", lo: 0.0, hi: 0.35},
		{field: "energy", lo: 0.0, hi: 0.45},
		{field: "mode", mode: "minor"},
	}},
	{domain.MoodCalm, []condition{
		{field: "energy", lo: 0.0, hi: 0.4},
		{field: "valence", lo: 0.35, hi: 0.85},
		{field: "acousticness", lo: 0.25, hi: 1.0},
	}},
}

// Classify maps a feature slice to its dominant mood, a confidence value,
// and the full normalised score vector. Impossible input yields neutral
// with confidence 0.
func Classify(in Input) (domain.Mood, float64, domain.MoodScores) {
	in = clamp(in)
	if math.IsNaN(in.Energy) || math.IsNaN(in.Valence) || math.IsNaN(in.BPM) || math.IsNaN(in.Acousticness) {
		var s domain.MoodScores
		s.Neutral = 1
		return domain.MoodNeutral, 0, s
	}

	var scores domain.MoodScores
	ruleScores := make([]float64, len(rules))
	winner := -1
	for i, r := range rules {
		s := scoreRule(r, in)
		ruleScores[i] = s
		scores.Set(r.mood, s)
		if winner < 0 && s > confidenceThreshold {
			winner = i
		}
	}

	best := domain.MoodNeutral
	confidence := 0.0
	maxScore := 0.0
	if winner >= 0 {
		best = rules[winner].mood
		runnerUp := 0.0
		for i, s := range ruleScores {
			if i != winner && s > runnerUp {
				runnerUp = s
			}
		}
		confidence = ruleScores[winner] - runnerUp
		if confidence < 0 {
			confidence = 0
		}
	}
	for _, s := range ruleScores {
		if s > maxScore {
			maxScore = s
		}
	}

	scores.Neutral = 1 - maxScore
	if scores.Neutral < 0 {
		scores.Neutral = 0
	}
	scores.Normalize()
	return best, confidence, scores
}

// scoreRule ANDs the rule's conditions: the weakest condition bounds the
// rule score.
func scoreRule(r rule, in Input) float64 {
	score := 1.0
	for _, c := range r.conditions {
		s := scoreCondition(c, in)
		if s < score {
			score = s
		}
	}
	return score
}

func scoreCondition(c condition, in Input) float64 {
	if c.field == "mode" {
		if in.Mode == c.mode {
			return 1
		}
		return 0
	}

	var v, width float64
	switch c.field {
	case "energy":
		v, width = in.Energy, fuzzyWidth
	case "valence":
		v, width = in.Valence, fuzzyWidth
	case "acousticness":
		v, width = in.Acousticness, fuzzyWidth
	case "bpm":
		// BPM ranges are absolute, so the falloff band scales with them.
		v, width = in.BPM, 20
	default:
		return 0
	}

	switch {
	case v >= c.lo && v <= c.hi:
		return 1
	case v < c.lo:
		return math.Max(0, 1-(c.lo-v)/width)
	default:
		return math.Max(0, 1-(v-c.hi)/width)
	}
}

func clamp(in Input) Input {
	in.Energy = clamp01(in.Energy)
	in.Valence = clamp01(in.Valence)
	in.Acousticness = clamp01(in.Acousticness)
	if in.BPM < 40 {
		in.BPM = 40
	}
	if in.BPM > 240 {
		in.BPM = 240
	}
	if in.Mode != "minor" {
		in.Mode = "major"
	}
	return in
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
