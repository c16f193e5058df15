package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dhowden/tag"

	"github.com/cratedig/cratedig/internal/camelot"
	"github.com/cratedig/cratedig/internal/domain"
	"github.com/cratedig/cratedig/internal/mood"
)

// LibraryExtractor is the built-in extractor. It reads whatever metadata
// the file carries (tags, BPM and key hints) and derives the remaining
// features deterministically from the file's content hash, so identical
// bytes always analyse to identical numbers.
type LibraryExtractor struct{}

func NewLibraryExtractor() *LibraryExtractor {
	return &LibraryExtractor{}
}

func (e *LibraryExtractor) Extract(ctx context.Context, path string, opts Options) (Result, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if err := checkpoint(ctx); err != nil {
		return Result{}, err
	}

	if !Supported(path) {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}

	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if info.Size() == 0 {
		return Result{}, fmt.Errorf("%w: %s is empty", ErrCorruptFile, path)
	}

	cid, err := ContentID(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, fmt.Errorf("%w: %v", ErrInternal, err)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}
	if err := checkpoint(ctx); err != nil {
		return Result{}, err
	}

	meta, err := readTags(path)
	if err != nil {
		return Result{}, err
	}
	if err := checkpoint(ctx); err != nil {
		return Result{}, err
	}

	return synthesize(path, cid, meta), nil
}

// checkpoint translates context expiry into the extractor error classes.
func checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return err
	}
	return nil
}

// tagMeta is what a file's embedded tags contribute.
type tagMeta struct {
	title  string
	artist string
	album  string
	year   int
	bpm    float64
	key    string
}

func readTags(path string) (tagMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return tagMeta{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		// Untagged audio is fine; anything else means the header lied.
		if errors.Is(err, tag.ErrNoTagsFound) || errors.Is(err, tag.ErrNotID3v1) {
			return tagMeta{}, nil
		}
		return tagMeta{}, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}

	out := tagMeta{
		title:  m.Title(),
		artist: m.Artist(),
		album:  m.Album(),
		year:   m.Year(),
	}
	if raw := m.Raw(); raw != nil {
		out.bpm = rawFloat(raw, "BPM", "TBPM", "bpm", "tempo")
		out.key = rawString(raw, "KEY", "TKEY", "initialkey", "INITIALKEY", "key")
	}
	return out, nil
}

func rawFloat(raw map[string]interface{}, keys ...string) float64 {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		switch val := v.(type) {
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil && f > 0 {
				return f
			}
		case int:
			if val > 0 {
				return float64(val)
			}
		case float64:
			if val > 0 {
				return val
			}
		}
	}
	return 0
}

func rawString(raw map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// synthesize fills in every feature the file did not declare. All draws
// come from a generator seeded by the content hash; the draw order below
// is part of the stability contract, so new draws go at the end.
func synthesize(path, cid string, meta tagMeta) Result {
	seed, _ := strconv.ParseUint(cid, 16, 64)
	rng := rand.New(rand.NewSource(int64(seed)))

	duration := math.Round((120+rng.Float64()*360)*10) / 10
	bpmDraw := 90 + rng.Float64()*90
	keyDraw := rng.Intn(24)
	energy := rng.Float64()
	valence := rng.Float64()
	danceDraw := rng.Float64()
	acousticness := rng.Float64()
	instrumentalness := rng.Float64()

	conf := domain.Confidence{Energy: 0.7}

	bpm := math.Round(bpmDraw*10) / 10
	conf.BPM = 0.7
	if meta.bpm >= 40 && meta.bpm <= 240 {
		bpm = meta.bpm
		conf.BPM = 0.9
	}

	key := camelot.Key{Number: keyDraw%12 + 1, Letter: "A"}
	if keyDraw >= 12 {
		key.Letter = "B"
	}
	conf.Key = 0.6
	if meta.key != "" {
		if parsed, err := camelot.Parse(meta.key); err == nil {
			key = parsed
			conf.Key = 0.9
		} else if notation, err := camelot.FromMusicalKey(meta.key); err == nil {
			key, _ = camelot.Parse(notation)
			conf.Key = 0.9
		}
	}

	danceability := clamp01(0.3 + 0.5*energy + 0.2*danceDraw)

	dominant, moodConf, scores := mood.Classify(mood.Input{
		Energy:       energy,
		Valence:      valence,
		BPM:          bpm,
		Acousticness: acousticness,
		Mode:         key.Mode(),
	})
	conf.Mood = moodConf

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	title := meta.title
	if title == "" {
		base := filepath.Base(path)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	musical, _ := camelot.ToMusicalKey(key.String())

	return Result{
		ContentID:  cid,
		Title:      title,
		Artist:     meta.artist,
		Album:      meta.album,
		Year:       meta.year,
		Format:     format,
		Bitrate:    bitrateFor(format, rng),
		SampleRate: sampleRateFor(rng),
		Duration:   duration,
		Features: domain.Features{
			BPM:              bpm,
			Key:              musical,
			Camelot:          key.String(),
			Energy:           energy,
			Valence:          valence,
			Danceability:     danceability,
			Acousticness:     acousticness,
			Instrumentalness: instrumentalness,
			Mood:             dominant,
			MoodScores:       scores,
			EnergyTimeseries: energyCurve(duration, energy, rng),
			Confidence:       conf,
		},
	}
}

// energyCurve samples the track's energy over [0, duration] at a fixed
// stride, at least 8 points.
func energyCurve(duration, energy float64, rng *rand.Rand) []domain.EnergyPoint {
	n := int(duration/30) + 1
	if n < 8 {
		n = 8
	}
	points := make([]domain.EnergyPoint, n)
	for i := 0; i < n; i++ {
		frac := float64(i) / float64(n-1)
		v := energy + 0.15*math.Sin(2*math.Pi*frac) + (rng.Float64()-0.5)*0.06
		points[i] = domain.EnergyPoint{
			T: math.Round(duration*frac*100) / 100,
			V: clamp01(v),
		}
	}
	return points
}

var lossyBitrates = []int{128, 192, 256, 320}

func bitrateFor(format string, rng *rand.Rand) int {
	switch format {
	case "flac", "wav", "aiff", "aif", "au":
		return 1411
	default:
		return lossyBitrates[rng.Intn(len(lossyBitrates))]
	}
}

func sampleRateFor(rng *rand.Rand) int {
	if rng.Intn(2) == 0 {
		return 44100
	}
	return 48000
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
