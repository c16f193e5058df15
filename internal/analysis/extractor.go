package analysis

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cratedig/cratedig/internal/domain"
)

// Options tune a single extraction call.
type Options struct {
	// Timeout bounds one file; zero means no per-call ceiling beyond ctx.
	Timeout time.Duration
}

// Result is one successful extraction: the feature vector plus whatever
// the file itself said about the track.
type Result struct {
	ContentID  string
	Features   domain.Features
	Title      string
	Artist     string
	Album      string
	Year       int
	Format     string
	Bitrate    int
	SampleRate int
	Duration   float64
}

// Extractor turns an audio file into features. Implementations must be
// safe for concurrent use and stable: two calls over identical bytes
// return the same numbers.
type Extractor interface {
	Extract(ctx context.Context, path string, opts Options) (Result, error)
}

var supportedExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".flac": true, ".aac": true, ".ogg": true,
	".m4a": true, ".aiff": true, ".aif": true, ".au": true, ".wma": true,
	".mp4": true, ".3gp": true, ".amr": true, ".opus": true, ".webm": true,
	".mkv": true,
}

// Supported reports whether the path's extension is an analyzable format.
func Supported(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// SupportedFormats lists the analyzable extensions in sorted order.
func SupportedFormats() []string {
	out := make([]string, 0, len(supportedExtensions))
	for ext := range supportedExtensions {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
