package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cratedig/cratedig/internal/domain"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrTrackMismatch     = errors.New("track list does not match playlist")
)

// Format is one of the closed set of export targets.
type Format string

const (
	FormatM3U       Format = "m3u"
	FormatJSON      Format = "json"
	FormatCSV       Format = "csv"
	FormatRekordbox Format = "rekordbox"
)

// Formats lists the supported formats in canonical order.
func Formats() []Format {
	return []Format{FormatM3U, FormatJSON, FormatCSV, FormatRekordbox}
}

// Ext returns the file extension for the format, without the dot.
// Rekordbox exports are XML documents.
func (f Format) Ext() string {
	if f == FormatRekordbox {
		return "xml"
	}
	return string(f)
}

// ParseFormat validates a user-supplied format string.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats() {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// DefaultFilename builds the conventional export name
// <preset>_<timestamp>.<format>.
func DefaultFilename(preset string, format Format, at time.Time) string {
	if preset == "" {
		preset = "playlist"
	}
	return fmt.Sprintf("%s_%s.%s", preset, at.Format("20060102_150405"), format.Ext())
}

// Render serialises a playlist without touching the filesystem. The
// tracks slice must be the playlist's entries resolved in order; the
// caller owns that lookup.
func Render(p *domain.Playlist, tracks []domain.Track, format Format, includeMetadata bool) ([]byte, error) {
	if len(tracks) != len(p.Tracks) {
		return nil, fmt.Errorf("%w: %d tracks for %d entries", ErrTrackMismatch, len(tracks), len(p.Tracks))
	}
	switch format {
	case FormatM3U:
		return renderM3U(p, tracks, includeMetadata), nil
	case FormatJSON:
		return renderJSON(p, tracks, includeMetadata)
	case FormatCSV:
		return renderCSV(tracks)
	case FormatRekordbox:
		return renderRekordbox(p, tracks)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// renderM3U writes the extended M3U dialect: one EXTINF line plus one
// path line per track, optionally preceded by a comment header.
func renderM3U(p *domain.Playlist, tracks []domain.Track, includeMetadata bool) []byte {
	var b bytes.Buffer
	b.WriteString("#EXTM3U\n")

	if includeMetadata {
		name := p.Metadata.Preset
		if name == "" {
			name = "playlist"
		}
		fmt.Fprintf(&b, "# Playlist: %s\n", name)
		fmt.Fprintf(&b, "# Created: %s\n", p.CreatedAt.UTC().Format(time.RFC3339))
		fmt.Fprintf(&b, "# Total Duration: %.1f minutes\n", p.Metadata.TotalDuration/60)
		fmt.Fprintf(&b, "# Track Count: %d\n", len(tracks))
		b.WriteString("#\n")
	}

	for _, t := range tracks {
		title := t.Title
		if title == "" {
			title = t.Filename()
		}
		artist := t.Artist
		if artist == "" {
			artist = "Unknown"
		}
		fmt.Fprintf(&b, "#EXTINF:%d,%s - %s\n", int(t.Duration), artist, title)
		b.WriteString(t.Path)
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// ParseM3U extracts the path lines from an M3U document, ignoring the
// directive and comment lines. The inverse of renderM3U for round-trips.
func ParseM3U(data []byte) []string {
	var paths []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	return paths
}

type jsonTrack struct {
	Index           int              `json:"index"`
	FilePath        string           `json:"file_path"`
	Filename        string           `json:"filename"`
	Title           string           `json:"title,omitempty"`
	Artist          string           `json:"artist,omitempty"`
	Album           string           `json:"album,omitempty"`
	DurationSeconds float64          `json:"duration_seconds"`
	TransitionScore float64          `json:"transition_score"`
	Features        *domain.Features `json:"features,omitempty"`
}

type jsonDocument struct {
	Version    string                   `json:"version"`
	Format     string                   `json:"format"`
	CreatedAt  time.Time                `json:"created_at"`
	Metadata   *domain.PlaylistMetadata `json:"metadata,omitempty"`
	TrackCount int                      `json:"track_count"`
	Tracks     []jsonTrack              `json:"tracks"`
}

func renderJSON(p *domain.Playlist, tracks []domain.Track, includeMetadata bool) ([]byte, error) {
	doc := jsonDocument{
		Version:    "2.0",
		Format:     "cratedig playlist",
		CreatedAt:  p.CreatedAt.UTC(),
		TrackCount: len(tracks),
		Tracks:     make([]jsonTrack, 0, len(tracks)),
	}
	if includeMetadata {
		meta := p.Metadata
		doc.Metadata = &meta
	}
	for i, t := range tracks {
		jt := jsonTrack{
			Index:           i + 1,
			FilePath:        t.Path,
			Filename:        t.Filename(),
			Title:           t.Title,
			Artist:          t.Artist,
			Album:           t.Album,
			DurationSeconds: t.Duration,
			TransitionScore: p.Tracks[i].TransitionScore,
		}
		if includeMetadata {
			jt.Features = t.Features
		}
		doc.Tracks = append(doc.Tracks, jt)
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode playlist json: %w", err)
	}
	return append(out, '\n'), nil
}

// csvHeader is the fixed column set; importers depend on the order.
var csvHeader = []string{
	"index", "filename", "file_path", "title", "artist", "album",
	"duration_seconds", "bpm", "key", "camelot", "energy",
	"valence", "danceability", "mood", "energy_level",
}

func renderCSV(tracks []domain.Track) ([]byte, error) {
	var b bytes.Buffer
	w := csv.NewWriter(&b)
	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for i, t := range tracks {
		var f domain.Features
		if t.Features != nil {
			f = *t.Features
		}
		row := []string{
			strconv.Itoa(i + 1),
			t.Filename(),
			t.Path,
			t.Title,
			t.Artist,
			t.Album,
			formatFloat(t.Duration),
			formatFloat(f.BPM),
			f.Key,
			f.Camelot,
			formatFloat(round3(f.Energy)),
			formatFloat(round3(f.Valence)),
			formatFloat(round3(f.Danceability)),
			string(f.Mood),
			domain.EnergyLevel(f.Energy),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return b.Bytes(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
