package export

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/cratedig/cratedig/internal/domain"
)

// Rekordbox collection XML. The COLLECTION block carries the full track
// attributes; the PLAYLISTS tree references them by TrackID. Absent
// values (year, tonality) omit the attribute rather than writing zeros.
type rekordboxDocument struct {
	XMLName    xml.Name            `xml:"DJ_PLAYLISTS"`
	Version    string              `xml:"Version,attr"`
	Product    rekordboxProduct    `xml:"PRODUCT"`
	Collection rekordboxCollection `xml:"COLLECTION"`
	Playlists  rekordboxPlaylists  `xml:"PLAYLISTS"`
}

type rekordboxProduct struct {
	Name    string `xml:"Name,attr"`
	Version string `xml:"Version,attr"`
}

type rekordboxCollection struct {
	Entries int              `xml:"Entries,attr"`
	Tracks  []rekordboxTrack `xml:"TRACK"`
}

type rekordboxTrack struct {
	TrackID     int    `xml:"TrackID,attr"`
	Name        string `xml:"Name,attr"`
	Artist      string `xml:"Artist,attr"`
	Album       string `xml:"Album,attr,omitempty"`
	Kind        string `xml:"Kind,attr"`
	Size        int64  `xml:"Size,attr"`
	TotalTime   int    `xml:"TotalTime,attr"`
	DiscNumber  int    `xml:"DiscNumber,attr"`
	TrackNumber int    `xml:"TrackNumber,attr"`
	Year        int    `xml:"Year,attr,omitempty"`
	AverageBpm  string `xml:"AverageBpm,attr"`
	DateCreated string `xml:"DateCreated,attr"`
	BitRate     int    `xml:"BitRate,attr"`
	SampleRate  int    `xml:"SampleRate,attr"`
	Comments    string `xml:"Comments,attr"`
	PlayCount   int    `xml:"PlayCount,attr"`
	Rating      int    `xml:"Rating,attr"`
	Tonality    string `xml:"Tonality,attr,omitempty"`
	Location    string `xml:"Location,attr"`
}

type rekordboxPlaylists struct {
	Root rekordboxNode `xml:"NODE"`
}

type rekordboxNode struct {
	Type     int             `xml:"Type,attr"`
	Name     string          `xml:"Name,attr"`
	Count    int             `xml:"Count,attr,omitempty"`
	Entries  int             `xml:"Entries,attr,omitempty"`
	KeyType  string          `xml:"KeyType,attr,omitempty"`
	Children []rekordboxNode `xml:"NODE,omitempty"`
	Keys     []rekordboxKey  `xml:"TRACK,omitempty"`
}

type rekordboxKey struct {
	Key int `xml:"Key,attr"`
}

func renderRekordbox(p *domain.Playlist, tracks []domain.Track) ([]byte, error) {
	collection := make([]rekordboxTrack, 0, len(tracks))
	keys := make([]rekordboxKey, 0, len(tracks))

	for i, t := range tracks {
		var f domain.Features
		if t.Features != nil {
			f = *t.Features
		}

		title := t.Title
		if title == "" {
			title = t.Filename()
		}
		kind := "MP3 File"
		if t.Format != "" {
			kind = strings.ToUpper(t.Format) + " File"
		}
		bitrate := t.Bitrate
		if bitrate == 0 {
			bitrate = 320
		}
		sampleRate := t.SampleRate
		if sampleRate == 0 {
			sampleRate = 44100
		}

		collection = append(collection, rekordboxTrack{
			TrackID:     i + 1,
			Name:        title,
			Artist:      t.Artist,
			Album:       t.Album,
			Kind:        kind,
			Size:        t.FileSize,
			TotalTime:   int(t.Duration),
			DiscNumber:  1,
			TrackNumber: 1,
			Year:        t.Year,
			AverageBpm:  fmt.Sprintf("%.2f", f.BPM),
			DateCreated: p.CreatedAt.UTC().Format("2006-01-02"),
			BitRate:     bitrate,
			SampleRate:  sampleRate,
			Comments:    fmt.Sprintf("Energy: %.2f, Valence: %.2f", f.Energy, f.Valence),
			Tonality:    f.Key,
			Location:    fileLocation(t.Path),
		})
		keys = append(keys, rekordboxKey{Key: i + 1})
	}

	playlistName := p.Metadata.Preset
	if playlistName == "" {
		playlistName = "Generated Playlist"
	}

	doc := rekordboxDocument{
		Version: "1.0.0",
		Product: rekordboxProduct{Name: "cratedig", Version: "2.0"},
		Collection: rekordboxCollection{
			Entries: len(collection),
			Tracks:  collection,
		},
		Playlists: rekordboxPlaylists{
			Root: rekordboxNode{
				Type:  0,
				Name:  "ROOT",
				Count: 1,
				Children: []rekordboxNode{{
					Type:    1,
					Name:    playlistName,
					Entries: len(keys),
					KeyType: "0",
					Keys:    keys,
				}},
			},
		},
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode rekordbox xml: %w", err)
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}

// fileLocation renders the rekordbox file URI for an absolute path.
func fileLocation(path string) string {
	path = strings.ReplaceAll(path, `\`, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "file://localhost" + path
}
