package analysis

import (
	"fmt"
	"hash/fnv"
	"io"
	"os"
)

// ContentID hashes a file's bytes into the 16-char hex key the cache is
// addressed by. Identical bytes always produce the same id.
func ContentID(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	defer f.Close()
	return ContentIDFromReader(f)
}

// ContentIDFromReader hashes an arbitrary byte stream.
func ContentIDFromReader(r io.Reader) (string, error) {
	h := fnv.New64a()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
