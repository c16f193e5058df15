package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cratedig/cratedig/internal/analysis"
	"github.com/cratedig/cratedig/internal/domain"
)

var ErrNotFound = errors.New("track not found")

// DefaultTTL is how long a cache entry stays valid after analysis.
const DefaultTTL = 30 * 24 * time.Hour

const indexFile = "index.json"

// Store persists features keyed by content and answers track queries.
// The canonical key is the content id; a path index carrying (size, mtime)
// makes the common lookup-by-path cheap and detects changed files.
type Store struct {
	dir string
	ttl time.Duration

	mu      sync.RWMutex
	index   map[string]indexEntry // canonical path → content pointer
	entries map[string]*cacheEntry
	dirty   bool

	keysMu   sync.Mutex
	keyLocks map[string]*refLock

	hits      atomic.Int64
	misses    atomic.Int64
	sizeBytes atomic.Int64
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

// New builds a store rooted at dir (the cache directory itself). A zero
// ttl means DefaultTTL; a negative ttl disables expiry.
func New(dir string, ttl time.Duration) *Store {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Store{
		dir:      dir,
		ttl:      ttl,
		index:    make(map[string]indexEntry),
		entries:  make(map[string]*cacheEntry),
		keyLocks: make(map[string]*refLock),
	}
}

// Init creates the on-disk layout and loads the index and every current
// cache entry into memory. Entries written by an older analysis version
// stay on disk (Cleanup reaps them) but are not served.
func (s *Store) Init() error {
	if err := os.MkdirAll(filepath.Join(s.dir, "by_content"), 0o755); err != nil {
		return fmt.Errorf("init cache dir: %w", err)
	}

	if err := s.loadIndex(); err != nil {
		return err
	}
	if err := s.loadEntries(); err != nil {
		return err
	}

	// Index rows pointing at entries we did not load are dead weight.
	s.mu.Lock()
	for path, ie := range s.index {
		if _, ok := s.entries[ie.ContentID]; !ok {
			delete(s.index, path)
			s.dirty = true
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.dir, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cache index: %w", err)
	}
	index := make(map[string]indexEntry)
	if err := json.Unmarshal(data, &index); err != nil {
		slog.Warn("cache index unreadable, rebuilding", "error", err)
		return nil
	}
	s.mu.Lock()
	s.index = index
	s.mu.Unlock()
	return nil
}

func (s *Store) loadEntries() error {
	root := filepath.Join(s.dir, "by_content")
	shards, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read cache entries: %w", err)
	}
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, shard.Name()))
		if err != nil {
			slog.Warn("cache shard unreadable", "shard", shard.Name(), "error", err)
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			path := filepath.Join(root, shard.Name(), f.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				slog.Warn("cache entry unreadable", "path", path, "error", err)
				continue
			}
			var e cacheEntry
			if err := json.Unmarshal(data, &e); err != nil {
				slog.Warn("cache entry corrupt, skipping", "path", path, "error", err)
				continue
			}
			// Stale-version entries stay loaded so Cleanup can reap
			// them; the serving paths filter on version.
			e.diskSize = int64(len(data))
			s.sizeBytes.Add(e.diskSize)
			s.mu.Lock()
			s.entries[e.ContentID] = &e
			s.mu.Unlock()
		}
	}
	return nil
}

// Lookup is the pipeline's cache check. A hit requires the file to exist,
// the path index to validate against (size, mtime) or the re-hashed
// content to match a stored entry, the analysis version to be current and
// the entry to be inside its TTL.
func (s *Store) Lookup(path string) (domain.Track, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		s.misses.Add(1)
		return domain.Track{}, false
	}

	s.mu.RLock()
	ie, ok := s.index[path]
	s.mu.RUnlock()

	cid := ""
	if ok && ie.FileSize == fi.Size() && ie.MTime == fi.ModTime().Unix() && ie.AnalysisVersion >= domain.AnalysisVersion {
		cid = ie.ContentID
	} else {
		// Fast-reject failed: the bytes decide.
		cid, err = analysis.ContentID(path)
		if err != nil {
			s.misses.Add(1)
			return domain.Track{}, false
		}
	}

	s.mu.RLock()
	entry, ok := s.entries[cid]
	s.mu.RUnlock()
	if !ok || entry.AnalysisVersion < domain.AnalysisVersion || s.expired(entry) {
		s.misses.Add(1)
		return domain.Track{}, false
	}

	// Re-point the index when the content was found by re-hashing
	// (renamed or touched file).
	if ie.ContentID != cid || ie.FileSize != fi.Size() || ie.MTime != fi.ModTime().Unix() {
		s.mu.Lock()
		s.index[path] = indexEntry{
			ContentID:       cid,
			FileSize:        fi.Size(),
			MTime:           fi.ModTime().Unix(),
			AnalysisVersion: entry.AnalysisVersion,
		}
		s.dirty = true
		s.mu.Unlock()
	}

	s.hits.Add(1)
	return entry.track(path, fi.Size(), fi.ModTime().Unix()), true
}

// Put persists one extraction result. The entry file is written under a
// per-content-id lock via temp file and rename; the in-memory indexes are
// updated in one critical section.
func (s *Store) Put(path string, res analysis.Result) (domain.Track, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return domain.Track{}, fmt.Errorf("stat %s: %w", path, err)
	}

	cid := res.ContentID
	if cid == "" {
		if cid, err = analysis.ContentID(path); err != nil {
			return domain.Track{}, err
		}
	}

	entry := newCacheEntry(path, cid, fi, res)

	unlock := s.lockContent(cid)
	defer unlock()

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return domain.Track{}, fmt.Errorf("encode cache entry: %w", err)
	}
	dir := filepath.Join(s.dir, "by_content", cid[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.Track{}, fmt.Errorf("create cache shard: %w", err)
	}
	target := filepath.Join(dir, cid+".json")
	tempPath := target + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return domain.Track{}, fmt.Errorf("write cache entry: %w", err)
	}
	if err := os.Rename(tempPath, target); err != nil {
		return domain.Track{}, fmt.Errorf("commit cache entry: %w", err)
	}

	s.mu.Lock()
	if old, ok := s.entries[cid]; ok {
		s.sizeBytes.Add(-old.diskSize)
	}
	entry.diskSize = int64(len(data))
	s.entries[cid] = entry
	s.index[path] = indexEntry{
		ContentID:       cid,
		FileSize:        fi.Size(),
		MTime:           fi.ModTime().Unix(),
		AnalysisVersion: entry.AnalysisVersion,
	}
	s.dirty = true
	s.mu.Unlock()
	s.sizeBytes.Add(int64(len(data)))

	return entry.track(path, fi.Size(), fi.ModTime().Unix()), nil
}

// GetByPath returns the stored track for a path, re-validating against
// the file on disk.
func (s *Store) GetByPath(path string) (domain.Track, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return domain.Track{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	s.mu.RLock()
	ie, ok := s.index[path]
	var entry *cacheEntry
	if ok {
		entry = s.entries[ie.ContentID]
	}
	s.mu.RUnlock()

	if entry == nil || entry.AnalysisVersion < domain.AnalysisVersion || s.expired(entry) {
		return domain.Track{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return entry.track(path, fi.Size(), fi.ModTime().Unix()), nil
}

// PruneMissing drops index rows under the given roots whose path is not
// in the found set. Content entries stay for the retention window.
func (s *Store) PruneMissing(roots []string, found map[string]struct{}) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for path := range s.index {
		if _, ok := found[path]; ok {
			continue
		}
		for _, root := range roots {
			if strings.HasPrefix(path, root+string(filepath.Separator)) || path == root {
				delete(s.index, path)
				removed++
				s.dirty = true
				break
			}
		}
	}
	return removed
}

// Flush writes the path index to disk if it changed. Safe to call at any
// time; the write is atomic.
func (s *Store) Flush() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("encode cache index: %w", err)
	}
	s.dirty = false
	s.mu.Unlock()

	target := filepath.Join(s.dir, indexFile)
	tempPath := target + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("write cache index: %w", err)
	}
	return os.Rename(tempPath, target)
}

// Shutdown flushes the index; the caller owns the deadline.
func (s *Store) Shutdown() error {
	return s.Flush()
}

func (s *Store) expired(e *cacheEntry) bool {
	if s.ttl < 0 {
		return false
	}
	return time.Since(e.AnalysedAt) > s.ttl
}

func (s *Store) lockContent(cid string) func() {
	s.keysMu.Lock()
	l, ok := s.keyLocks[cid]
	if !ok {
		l = &refLock{}
		s.keyLocks[cid] = l
	}
	l.refs++
	s.keysMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.keysMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.keyLocks, cid)
		}
		s.keysMu.Unlock()
	}
}
