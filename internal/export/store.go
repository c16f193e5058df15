package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	ErrExportNotFound  = errors.New("export not found")
	ErrInvalidFilename = errors.New("invalid export filename")
)

// Entry describes one file in the exports directory.
type Entry struct {
	Filename   string    `json:"filename"`
	Path       string    `json:"path"`
	Format     string    `json:"format"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Store manages the exports directory: rendered playlists land here and
// are listed and deleted by bare filename, never by caller-supplied path.
type Store struct {
	dir string
}

// NewStore creates the exports directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create exports directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the exports directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Write saves a rendered playlist under the given filename. The write is
// atomic: data goes to a temp file first and is renamed into place.
func (s *Store) Write(filename string, data []byte) (Entry, error) {
	if err := checkFilename(filename); err != nil {
		return Entry{}, err
	}

	tmp, err := os.CreateTemp(s.dir, ".export-*")
	if err != nil {
		return Entry{}, fmt.Errorf("create temp export: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return Entry{}, fmt.Errorf("write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return Entry{}, fmt.Errorf("close export: %w", err)
	}

	dest := filepath.Join(s.dir, filename)
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return Entry{}, fmt.Errorf("finalise export %s: %w", filename, err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return Entry{}, fmt.Errorf("stat export %s: %w", filename, err)
	}
	return s.entry(filename, info), nil
}

// List returns all exports sorted newest first.
func (s *Store) List() ([]Entry, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read exports directory: %w", err)
	}

	entries := make([]Entry, 0, len(files))
	for _, file := range files {
		if file.IsDir() || strings.HasPrefix(file.Name(), ".") {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		entries = append(entries, s.entry(file.Name(), info))
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].ModifiedAt.Equal(entries[j].ModifiedAt) {
			return entries[i].ModifiedAt.After(entries[j].ModifiedAt)
		}
		return entries[i].Filename < entries[j].Filename
	})
	return entries, nil
}

// Delete removes one export by filename.
func (s *Store) Delete(filename string) error {
	if err := checkFilename(filename); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, filename)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrExportNotFound, filename)
		}
		return fmt.Errorf("delete export %s: %w", filename, err)
	}
	return nil
}

func (s *Store) entry(filename string, info os.FileInfo) Entry {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	return Entry{
		Filename:   filename,
		Path:       filepath.Join(s.dir, filename),
		Format:     format,
		SizeBytes:  info.Size(),
		CreatedAt:  info.ModTime().UTC(),
		ModifiedAt: info.ModTime().UTC(),
	}
}

// checkFilename rejects anything that could escape the exports directory.
func checkFilename(filename string) error {
	if filename == "" || filename == "." || filename == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	if strings.ContainsAny(filename, `/\`) || strings.Contains(filename, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return nil
}
