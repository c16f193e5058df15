package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cratedig/cratedig/internal/domain"
)

// CleanupResult reports what a cleanup pass removed.
type CleanupResult struct {
	RemovedEntries int   `json:"removed_entries"`
	FreedBytes     int64 `json:"freed_bytes"`
}

// Cleanup removes stale-version and expired entries, entries older than
// olderThan (when positive), and then evicts oldest-first until the cache
// fits maxSizeBytes (when positive). The index is flushed afterwards.
func (s *Store) Cleanup(olderThan time.Duration, maxSizeBytes int64) (CleanupResult, error) {
	now := time.Now()

	s.mu.Lock()
	victims := make(map[string]bool)
	for cid, e := range s.entries {
		switch {
		case e.AnalysisVersion < domain.AnalysisVersion:
			victims[cid] = true
		case s.ttl >= 0 && now.Sub(e.AnalysedAt) > s.ttl:
			victims[cid] = true
		case olderThan > 0 && now.Sub(e.AnalysedAt) > olderThan:
			victims[cid] = true
		}
	}

	if maxSizeBytes > 0 {
		remaining := make([]*cacheEntry, 0, len(s.entries))
		size := int64(0)
		for cid, e := range s.entries {
			if victims[cid] {
				continue
			}
			remaining = append(remaining, e)
			size += e.diskSize
		}
		sort.Slice(remaining, func(i, j int) bool {
			return remaining[i].AnalysedAt.Before(remaining[j].AnalysedAt)
		})
		for _, e := range remaining {
			if size <= maxSizeBytes {
				break
			}
			victims[e.ContentID] = true
			size -= e.diskSize
		}
	}

	res := CleanupResult{}
	for cid := range victims {
		e := s.entries[cid]
		res.RemovedEntries++
		res.FreedBytes += e.diskSize
		s.sizeBytes.Add(-e.diskSize)
		delete(s.entries, cid)
		if err := os.Remove(s.entryPath(cid)); err != nil && !os.IsNotExist(err) {
			s.mu.Unlock()
			return res, fmt.Errorf("remove cache entry %s: %w", cid, err)
		}
	}
	for path, ie := range s.index {
		if victims[ie.ContentID] {
			delete(s.index, path)
		}
	}
	if len(victims) > 0 {
		s.dirty = true
	}
	s.mu.Unlock()

	return res, s.Flush()
}

// Clear empties the cache entirely.
func (s *Store) Clear() (CleanupResult, error) {
	s.mu.Lock()
	res := CleanupResult{
		RemovedEntries: len(s.entries),
		FreedBytes:     s.sizeBytes.Load(),
	}
	s.entries = make(map[string]*cacheEntry)
	s.index = make(map[string]indexEntry)
	s.dirty = true
	s.sizeBytes.Store(0)

	root := filepath.Join(s.dir, "by_content")
	if err := os.RemoveAll(root); err != nil {
		s.mu.Unlock()
		return res, fmt.Errorf("clear cache: %w", err)
	}
	err := os.MkdirAll(root, 0o755)
	s.mu.Unlock()
	if err != nil {
		return res, fmt.Errorf("clear cache: %w", err)
	}

	return res, s.Flush()
}

func (s *Store) entryPath(cid string) string {
	return filepath.Join(s.dir, "by_content", cid[:2], cid+".json")
}
