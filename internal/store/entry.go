package store

import (
	"os"
	"time"

	"github.com/cratedig/cratedig/internal/analysis"
	"github.com/cratedig/cratedig/internal/domain"
)

// indexEntry is one row of index.json: the path's content pointer plus
// the (size, mtime) pair used for fast-reject validation.
type indexEntry struct {
	ContentID       string `json:"content_id"`
	FileSize        int64  `json:"file_size"`
	MTime           int64  `json:"mtime"`
	AnalysisVersion int    `json:"analysis_version"`
}

// cacheEntry is the on-disk materialisation of one analysed content id,
// stored under by_content/<cid[0:2]>/<cid>.json.
type cacheEntry struct {
	ContentID       string          `json:"content_id"`
	PathAtWrite     string          `json:"path_at_write"`
	FileSize        int64           `json:"file_size"`
	MTime           int64           `json:"mtime"`
	AnalysisVersion int             `json:"analysis_version"`
	AnalysedAt      time.Time       `json:"analysed_at"`
	Features        domain.Features `json:"features"`
	Track           trackMeta       `json:"track"`

	diskSize int64
}

// trackMeta carries what the file said about itself, so listing and
// search work without re-opening audio files.
type trackMeta struct {
	Title      string  `json:"title,omitempty"`
	Artist     string  `json:"artist,omitempty"`
	Album      string  `json:"album,omitempty"`
	Year       int     `json:"year,omitempty"`
	Format     string  `json:"format"`
	Bitrate    int     `json:"bitrate,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Duration   float64 `json:"duration_seconds"`
}

func newCacheEntry(path, cid string, fi os.FileInfo, res analysis.Result) *cacheEntry {
	return &cacheEntry{
		ContentID:       cid,
		PathAtWrite:     path,
		FileSize:        fi.Size(),
		MTime:           fi.ModTime().Unix(),
		AnalysisVersion: domain.AnalysisVersion,
		AnalysedAt:      time.Now().UTC(),
		Features:        res.Features,
		Track: trackMeta{
			Title:      res.Title,
			Artist:     res.Artist,
			Album:      res.Album,
			Year:       res.Year,
			Format:     res.Format,
			Bitrate:    res.Bitrate,
			SampleRate: res.SampleRate,
			Duration:   res.Duration,
		},
	}
}

// track materialises the entry as a Track at the given live path.
func (e *cacheEntry) track(path string, size, mtime int64) domain.Track {
	features := e.Features
	return domain.Track{
		Path:       path,
		ContentID:  e.ContentID,
		FileSize:   size,
		MTime:      mtime,
		Format:     e.Track.Format,
		Bitrate:    e.Track.Bitrate,
		SampleRate: e.Track.SampleRate,
		Duration:   e.Track.Duration,
		Title:      e.Track.Title,
		Artist:     e.Track.Artist,
		Album:      e.Track.Album,
		Year:       e.Track.Year,
		Features:   &features,
		AnalysedAt: e.AnalysedAt,
	}
}
