package playlist

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cratedig/cratedig/internal/camelot"
	"github.com/cratedig/cratedig/internal/domain"
	"github.com/cratedig/cratedig/internal/mood"
)

const (
	// DefaultBeamWidth bounds the number of partial playlists kept alive
	// at each search step.
	DefaultBeamWidth = 8

	// DefaultTargetDuration applies when neither the request nor the
	// preset names a target.
	DefaultTargetDuration = 60 * time.Minute

	// defaultBPMTolerance zeroes the tempo term at this Δbpm when a
	// preset declares no max_bpm_jump. Without a declared jump there is
	// no hard bound, only the soft scoring falloff.
	defaultBPMTolerance = 8.0

	// fallbackTrackDuration stands in for tracks with no known duration
	// when estimating how many positions the playlist will have.
	fallbackTrackDuration = 300.0
)

// Request carries the generation inputs on top of the effective preset.
type Request struct {
	Preset domain.Preset

	// SeedPath pins the first position to this track.
	SeedPath string

	// TargetDuration overrides the preset target when positive.
	TargetDuration time.Duration

	// Surprise in [0,1] mixes the scorer with a seeded uniform
	// perturbation of the same magnitude.
	Surprise float64

	// Seed namespaces the surprise random stream: the task id in
	// production, a fixed string in tests. The stream for step i is
	// derived from (Seed, i) so runs repeat exactly.
	Seed string

	BeamWidth int
}

// Engine produces ordered playlists from a candidate pool by bounded
// beam search over the transition scorer.
type Engine struct{}

func NewEngine() *Engine { return &Engine{} }

// state is one partial playlist in the beam.
type state struct {
	picks    []int
	scores   []float64 // unperturbed per-transition scores, scores[0] == 0
	score    float64   // cumulative beam score, surprise included
	duration float64

	// Last transition stats, for deterministic tie-breaking.
	lastDelta   float64
	lastHarmony float64

	// key is the \x00-joined path sequence, the final tie-break.
	key string
}

// Generate runs the beam search. The only error conditions are context
// cancellation and deadline; an unsatisfiable request yields an empty
// playlist, not an error.
func (e *Engine) Generate(ctx context.Context, pool []domain.Track, req Request) (*domain.Playlist, error) {
	preset := req.Preset
	width := req.BeamWidth
	if width <= 0 {
		width = DefaultBeamWidth
	}
	target := req.TargetDuration
	if target <= 0 && preset.TargetDurationMinutes > 0 {
		target = time.Duration(preset.TargetDurationMinutes * float64(time.Minute))
	}
	if target <= 0 {
		target = DefaultTargetDuration
	}
	targetSec := target.Seconds()

	cands := filterPool(pool, preset)
	if len(cands) == 0 {
		return e.assemble(nil, nil, preset, targetSec), nil
	}

	sc := newScorer(preset, cands, targetSec)

	// First position: either the pinned seed or the best curve fits.
	beam := e.initialBeam(cands, req, sc, width)
	if len(beam) == 0 {
		return e.assemble(nil, nil, preset, targetSec), nil
	}

	var finals []*state
	for step := 1; len(beam) > 0; step++ {
		// Cancellation is observed between beam extensions, so abort
		// latency is bounded by one step.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		r := stepRand(req.Seed, step)
		var next []*state
		for _, st := range beam {
			if st.duration >= targetSec {
				finals = append(finals, st)
				continue
			}
			u := cands[st.picks[len(st.picks)-1]]
			extended := false
			for vi := range cands {
				if !st.fresh(vi, cands, preset.AvoidSameArtistWindow) {
					continue
				}
				v := cands[vi]
				delta := math.Abs(u.Features.BPM - v.Features.BPM)
				if preset.MaxBPMJump > 0 && delta > preset.MaxBPMJump {
					continue
				}
				harmony := sc.harmony(u, v)
				if harmony <= 0 {
					continue
				}
				pure := sc.transition(u, v, harmony, delta, len(st.picks))
				ranked := pure
				if req.Surprise > 0 {
					ranked = (1-req.Surprise)*pure + req.Surprise*r.Float64()
				}
				next = append(next, st.extend(vi, v, pure, ranked, delta, harmony))
				extended = true
			}
			if !extended {
				finals = append(finals, st)
			}
		}
		if len(next) == 0 {
			break
		}
		sortStates(next)
		if len(next) > width {
			next = next[:width]
		}
		beam = next
	}

	if len(finals) == 0 {
		return e.assemble(nil, nil, preset, targetSec), nil
	}
	sortStates(finals)
	return e.assemble(finals[0], cands, preset, targetSec), nil
}

// initialBeam ranks first-position candidates by fit against the start
// of the target curve, or pins the seed track when one is given.
func (e *Engine) initialBeam(cands []domain.Track, req Request, sc *scorer, width int) []*state {
	r := stepRand(req.Seed, 0)

	if req.SeedPath != "" {
		for i, c := range cands {
			if c.Path == req.SeedPath {
				return []*state{newState(i, c, sc)}
			}
		}
		// Seed filtered out by the preset: nothing satisfies the first
		// position.
		return nil
	}

	states := make([]*state, 0, len(cands))
	for i, c := range cands {
		st := newState(i, c, sc)
		if req.Surprise > 0 {
			st.score = (1-req.Surprise)*st.score + req.Surprise*r.Float64()
		}
		states = append(states, st)
	}
	sortStates(states)
	if len(states) > width {
		states = states[:width]
	}
	return states
}

func newState(idx int, c domain.Track, sc *scorer) *state {
	return &state{
		picks:    []int{idx},
		scores:   []float64{0},
		score:    sc.opening(c),
		duration: c.Duration,
		key:      c.Path,
	}
}

// fresh applies the freshness filter: a candidate already in the partial
// or whose artist appeared within the avoid window is out.
func (s *state) fresh(vi int, cands []domain.Track, window int) bool {
	for _, p := range s.picks {
		if p == vi {
			return false
		}
	}
	artist := cands[vi].Artist
	if window <= 0 || artist == "" {
		return true
	}
	start := len(s.picks) - window
	if start < 0 {
		start = 0
	}
	for _, p := range s.picks[start:] {
		if cands[p].Artist == artist {
			return false
		}
	}
	return true
}

func (s *state) extend(vi int, v domain.Track, pure, ranked, delta, harmony float64) *state {
	picks := make([]int, len(s.picks)+1)
	copy(picks, s.picks)
	picks[len(s.picks)] = vi
	scores := make([]float64, len(s.scores)+1)
	copy(scores, s.scores)
	scores[len(s.scores)] = pure
	return &state{
		picks:       picks,
		scores:      scores,
		score:       s.score + ranked,
		duration:    s.duration + v.Duration,
		lastDelta:   delta,
		lastHarmony: harmony,
		key:         s.key + "\x00" + v.Path,
	}
}

// sortStates orders by cumulative score, breaking ties by the last
// transition's Δbpm, then its harmony, then the lexicographic path
// sequence. The order is total, so results are reproducible.
func sortStates(states []*state) {
	sort.Slice(states, func(i, j int) bool {
		a, b := states[i], states[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.lastDelta != b.lastDelta {
			return a.lastDelta < b.lastDelta
		}
		if a.lastHarmony != b.lastHarmony {
			return a.lastHarmony > b.lastHarmony
		}
		return a.key < b.key
	})
}

// filterPool keeps analysed tracks inside the preset's BPM, energy and
// duration bounds, ordered by path for determinism.
func filterPool(pool []domain.Track, preset domain.Preset) []domain.Track {
	seen := make(map[string]bool, len(pool))
	out := make([]domain.Track, 0, len(pool))
	for _, t := range pool {
		if t.Features == nil || seen[t.Path] {
			continue
		}
		f := t.Features
		if !preset.BPMRange.Contains(f.BPM) || !preset.EnergyRange.Contains(f.Energy) {
			continue
		}
		if preset.MinTrackDuration > 0 && t.Duration < preset.MinTrackDuration {
			continue
		}
		if preset.MaxTrackDuration > 0 && t.Duration > preset.MaxTrackDuration {
			continue
		}
		seen[t.Path] = true
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// scorer evaluates one transition under a preset.
type scorer struct {
	weights   domain.ScoreWeights
	curve     []float64
	strict    float64
	moodCons  float64
	tolerance float64
	positions int
}

func newScorer(preset domain.Preset, cands []domain.Track, targetSec float64) *scorer {
	w := domain.DefaultScoreWeights()
	if preset.Weights != nil && preset.Weights.Sum() > 0 {
		w = *preset.Weights
	}
	sum := w.Sum()
	w = domain.ScoreWeights{
		Harmony:   w.Harmony / sum,
		BPM:       w.BPM / sum,
		Energy:    w.Energy / sum,
		Mood:      w.Mood / sum,
		Freshness: w.Freshness / sum,
	}

	tolerance := preset.MaxBPMJump
	if tolerance <= 0 {
		tolerance = defaultBPMTolerance
	}

	return &scorer{
		weights:   w,
		curve:     targetCurve(preset),
		strict:    preset.HarmonyStrictness,
		moodCons:  preset.MoodConsistency,
		tolerance: tolerance,
		positions: estimatePositions(cands, targetSec),
	}
}

// estimatePositions guesses the playlist length from the target duration
// and the mean candidate duration, for indexing into the target curve.
func estimatePositions(cands []domain.Track, targetSec float64) int {
	if len(cands) == 0 {
		return 1
	}
	var total float64
	var counted int
	for _, c := range cands {
		if c.Duration > 0 {
			total += c.Duration
			counted++
		}
	}
	mean := fallbackTrackDuration
	if counted > 0 {
		mean = total / float64(counted)
	}
	n := int(math.Round(targetSec / mean))
	if n < 1 {
		n = 1
	}
	if n > len(cands) {
		n = len(cands)
	}
	return n
}

// curveAt maps a playlist position to its target energy.
func (sc *scorer) curveAt(position int) float64 {
	idx := position * domain.EnergyCurveLength / sc.positions
	if idx >= domain.EnergyCurveLength {
		idx = domain.EnergyCurveLength - 1
	}
	return sc.curve[idx]
}

// harmony returns the strictness-scaled harmony term. At strictness 1 a
// non-compatible key scores 0 and the transition is infeasible; lower
// strictness floors the term above 0.
func (sc *scorer) harmony(u, v domain.Track) float64 {
	h := camelot.HarmonyScore(u.Features.Camelot, v.Features.Camelot)
	return 1 - sc.strict*(1-h)
}

// opening scores a first-position candidate: fit against the start of
// the target curve plus the trivially-satisfied freshness mass.
func (sc *scorer) opening(c domain.Track) float64 {
	energy := 1 - math.Abs(c.Features.Energy-sc.curveAt(0))
	return sc.weights.Energy*energy + sc.weights.Freshness
}

// transition scores u → v at the given position. Freshness is already
// filtered, so it contributes its full weight.
func (sc *scorer) transition(u, v domain.Track, harmony, delta float64, position int) float64 {
	bpm := 1 - delta/sc.tolerance
	if bpm < 0 {
		bpm = 0
	}
	energy := 1 - math.Abs(v.Features.Energy-sc.curveAt(position))
	md := 1.0
	if u.Features.Mood != v.Features.Mood {
		md = 1 - sc.moodCons*mood.Distance(u.Features.Mood, v.Features.Mood)
	}
	w := sc.weights
	return w.Harmony*harmony + w.BPM*bpm + w.Energy*energy + w.Mood*md + w.Freshness
}

// assemble builds the Playlist value. A nil best state yields the empty
// result; a best state short of the target is marked truncated.
func (e *Engine) assemble(best *state, cands []domain.Track, preset domain.Preset, targetSec float64) *domain.Playlist {
	params := preset
	if preset.Weights != nil {
		w := *preset.Weights
		params.Weights = &w
	}

	p := &domain.Playlist{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Tracks:    []domain.PlaylistEntry{},
		Metadata: domain.PlaylistMetadata{
			Preset:     preset.Name,
			Parameters: &params,
		},
	}
	if best == nil || len(best.picks) == 0 {
		p.Metadata.Empty = true
		p.Metadata.EnergyCurve = []float64{}
		return p
	}

	var bpmSum float64
	energies := make([]float64, len(best.picks))
	for i, idx := range best.picks {
		t := cands[idx]
		p.Tracks = append(p.Tracks, domain.PlaylistEntry{
			Path:            t.Path,
			TransitionScore: round3(best.scores[i]),
		})
		bpmSum += t.Features.BPM
		energies[i] = t.Features.Energy
	}
	p.Metadata.TotalDuration = best.duration
	p.Metadata.AvgBPM = round3(bpmSum / float64(len(best.picks)))
	p.Metadata.EnergyCurve = resample(energies, domain.EnergyCurveLength)
	p.Metadata.Truncated = best.duration < targetSec
	return p
}

// resample stretches or shrinks the energy sequence to n points.
func resample(values []float64, n int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		j := i * len(values) / n
		out[i] = values[j]
	}
	return out
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// stepRand derives the deterministic surprise stream for one step.
func stepRand(seed string, step int) *rand.Rand {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%d", seed, step)
	return rand.New(rand.NewSource(int64(h.Sum64())))
}
