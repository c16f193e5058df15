package playlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cratedig/cratedig/internal/domain"
)

var (
	ErrPresetNotFound = errors.New("preset not found")
	ErrPresetBuiltin  = errors.New("preset is builtin")
	ErrInvalidPreset  = errors.New("invalid preset")
)

// presetName restricts names to filename-safe identifiers: custom
// presets are persisted as <name>.json and addressed by name in URLs.
var presetName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// Builtins returns fresh copies of the stock presets, in canonical order.
func Builtins() []domain.Preset {
	return []domain.Preset{
		{
			Name:                  "harmonic_flow",
			Description:           "DJ Set - Harmonic Flow: smooth key-compatible transitions",
			EnergyCurve:           domain.CurveBuildup,
			HarmonyStrictness:     0.8,
			MoodConsistency:       0.7,
			MaxBPMJump:            5,
			AvoidSameArtistWindow: 3,
			Weights:               &domain.ScoreWeights{Harmony: 0.45, BPM: 0.20, Energy: 0.15, Mood: 0.15, Freshness: 0.05},
			Builtin:               true,
		},
		{
			Name:                  "energy_build",
			Description:           "Party Mix - Energy Build: continuous energy ramp",
			EnergyRange:           domain.Range{Min: 0.4, Max: 1.0},
			EnergyCurve:           domain.CurveBuildup,
			HarmonyStrictness:     0.4,
			MoodConsistency:       0.4,
			MaxBPMJump:            8,
			AvoidSameArtistWindow: 2,
			TargetDurationMinutes: 60,
			Weights:               &domain.ScoreWeights{Harmony: 0.15, BPM: 0.20, Energy: 0.45, Mood: 0.10, Freshness: 0.10},
			Builtin:               true,
		},
		{
			Name:                  "chill_session",
			Description:           "Chill Session: relaxed tracks, stable tempo",
			EnergyRange:           domain.Range{Min: 0.0, Max: 0.5},
			EnergyCurve:           domain.CurveFlat,
			HarmonyStrictness:     0.5,
			MoodConsistency:       0.9,
			MaxBPMJump:            3,
			AvoidSameArtistWindow: 2,
			TargetDurationMinutes: 45,
			Weights:               &domain.ScoreWeights{Harmony: 0.20, BPM: 0.25, Energy: 0.20, Mood: 0.30, Freshness: 0.05},
			Builtin:               true,
		},
		{
			Name:                  "peak_time",
			Description:           "Peak Time: high-energy prime time set",
			BPMRange:              domain.Range{Min: 125, Max: 135},
			EnergyRange:           domain.Range{Min: 0.7, Max: 1.0},
			EnergyCurve:           domain.CurvePeakValley,
			HarmonyStrictness:     0.6,
			MoodConsistency:       0.5,
			MaxBPMJump:            4,
			AvoidSameArtistWindow: 3,
			TargetDurationMinutes: 90,
			Builtin:               true,
		},
		{
			Name:                  "warm_up",
			Description:           "Warm-Up Set: gentle opener with a gradual build",
			BPMRange:              domain.Range{Min: 115, Max: 125},
			EnergyRange:           domain.Range{Min: 0.2, Max: 0.7},
			EnergyCurve:           domain.CurveBuildup,
			HarmonyStrictness:     0.5,
			MoodConsistency:       0.6,
			MaxBPMJump:            6,
			AvoidSameArtistWindow: 2,
			TargetDurationMinutes: 30,
			Weights:               &domain.ScoreWeights{Harmony: 0.25, BPM: 0.30, Energy: 0.25, Mood: 0.15, Freshness: 0.05},
			Builtin:               true,
		},
	}
}

// Library resolves presets by name: the fixed builtins plus custom
// presets persisted as <dir>/<name>.json. The directory is watched so
// hand-edited files are picked up without a restart.
type Library struct {
	dir string

	mu     sync.RWMutex
	custom map[string]domain.Preset

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewLibrary loads the custom presets under dir, creating it when
// missing, and starts the directory watcher.
func NewLibrary(dir string) (*Library, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create presets dir: %w", err)
	}
	l := &Library{
		dir:    dir,
		custom: make(map[string]domain.Preset),
		done:   make(chan struct{}),
	}
	l.reload()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create preset watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch presets dir: %w", err)
	}
	l.watcher = watcher
	go l.watch()
	return l, nil
}

// Close stops the watcher.
func (l *Library) Close() error {
	close(l.done)
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// List returns builtins in canonical order followed by custom presets
// sorted by name.
func (l *Library) List() []domain.Preset {
	out := Builtins()

	l.mu.RLock()
	names := make([]string, 0, len(l.custom))
	for name := range l.custom {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, l.custom[name])
	}
	l.mu.RUnlock()
	return out
}

// Get resolves a preset by name, builtins first.
func (l *Library) Get(name string) (domain.Preset, error) {
	for _, p := range Builtins() {
		if p.Name == name {
			return p, nil
		}
	}
	l.mu.RLock()
	p, ok := l.custom[name]
	l.mu.RUnlock()
	if !ok {
		return domain.Preset{}, fmt.Errorf("%w: %s", ErrPresetNotFound, name)
	}
	return p, nil
}

// Create persists a custom preset. Reusing a builtin name is a
// conflict; overwriting an existing custom preset is allowed.
func (l *Library) Create(p domain.Preset) error {
	if err := Validate(p); err != nil {
		return err
	}
	for _, b := range Builtins() {
		if b.Name == p.Name {
			return fmt.Errorf("%w: %s", ErrPresetBuiltin, p.Name)
		}
	}
	p.Builtin = false

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode preset: %w", err)
	}
	path := filepath.Join(l.dir, p.Name+".json")
	tmp, err := os.CreateTemp(l.dir, ".preset-*")
	if err != nil {
		return fmt.Errorf("write preset: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write preset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write preset: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write preset: %w", err)
	}

	l.mu.Lock()
	l.custom[p.Name] = p
	l.mu.Unlock()
	return nil
}

// Delete removes a custom preset. Builtins cannot be deleted.
func (l *Library) Delete(name string) error {
	for _, b := range Builtins() {
		if b.Name == name {
			return fmt.Errorf("%w: %s", ErrPresetBuiltin, name)
		}
	}
	l.mu.Lock()
	_, ok := l.custom[name]
	if ok {
		delete(l.custom, name)
	}
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPresetNotFound, name)
	}
	if err := os.Remove(filepath.Join(l.dir, name+".json")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete preset: %w", err)
	}
	return nil
}

// Validate checks a preset for structural problems.
func Validate(p domain.Preset) error {
	if !presetName.MatchString(p.Name) {
		return fmt.Errorf("%w: name must match %s", ErrInvalidPreset, presetName.String())
	}
	if p.BPMRange.Min > p.BPMRange.Max {
		return fmt.Errorf("%w: bpm_range min > max", ErrInvalidPreset)
	}
	if p.EnergyRange.Min > p.EnergyRange.Max {
		return fmt.Errorf("%w: energy_range min > max", ErrInvalidPreset)
	}
	if p.HarmonyStrictness < 0 || p.HarmonyStrictness > 1 {
		return fmt.Errorf("%w: harmony_strictness outside [0,1]", ErrInvalidPreset)
	}
	if p.MoodConsistency < 0 || p.MoodConsistency > 1 {
		return fmt.Errorf("%w: mood_consistency outside [0,1]", ErrInvalidPreset)
	}
	if p.MaxBPMJump < 0 || p.AvoidSameArtistWindow < 0 {
		return fmt.Errorf("%w: negative rule knob", ErrInvalidPreset)
	}
	if p.EnergyCurve != "" {
		if _, ok := namedCurves[p.EnergyCurve]; !ok {
			return fmt.Errorf("%w: unknown energy curve %q", ErrInvalidPreset, p.EnergyCurve)
		}
	}
	if len(p.TargetEnergyCurve) > 0 {
		if len(p.TargetEnergyCurve) != domain.EnergyCurveLength {
			return fmt.Errorf("%w: target_energy_curve must have %d points", ErrInvalidPreset, domain.EnergyCurveLength)
		}
		for _, v := range p.TargetEnergyCurve {
			if v < 0 || v > 1 {
				return fmt.Errorf("%w: target_energy_curve value outside [0,1]", ErrInvalidPreset)
			}
		}
	}
	if p.Weights != nil {
		w := *p.Weights
		if w.Harmony < 0 || w.BPM < 0 || w.Energy < 0 || w.Mood < 0 || w.Freshness < 0 {
			return fmt.Errorf("%w: negative score weight", ErrInvalidPreset)
		}
		if w.Sum() <= 0 {
			return fmt.Errorf("%w: score weights sum to zero", ErrInvalidPreset)
		}
	}
	return nil
}

// reload rescans the directory, replacing the custom preset map.
func (l *Library) reload() {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		slog.Warn("presets dir unreadable", "dir", l.dir, "error", err)
		return
	}

	custom := make(map[string]domain.Preset)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(l.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("preset unreadable, skipping", "path", path, "error", err)
			continue
		}
		var p domain.Preset
		if err := json.Unmarshal(data, &p); err != nil {
			slog.Warn("preset malformed, skipping", "path", path, "error", err)
			continue
		}
		// The filename is the identity; the embedded name is advisory.
		p.Name = strings.TrimSuffix(name, ".json")
		p.Builtin = false
		if err := Validate(p); err != nil {
			slog.Warn("preset invalid, skipping", "path", path, "error", err)
			continue
		}
		custom[p.Name] = p
	}

	l.mu.Lock()
	l.custom = custom
	l.mu.Unlock()
}

// watch reloads the library when preset files change on disk.
func (l *Library) watch() {
	for {
		select {
		case <-l.done:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// Brief pause so atomic temp+rename writes settle.
			time.Sleep(50 * time.Millisecond)
			l.reload()
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("preset watcher error", "error", err)
		}
	}
}
