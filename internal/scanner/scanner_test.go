package scanner

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cratedig/cratedig/internal/domain"
)

// testTree lays out a small library with files on both sides of the size
// bounds and one unsupported extension.
//
//	a.mp3  b.flac  small.mp3  big.mp3  cover.jpg
//	sub/c.mp3
//	sub/deep/d.wav
func testTree(t *testing.T) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	write := func(rel string, size int) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0x42}, size), 0o644))
	}
	write("a.mp3", 1024)
	write("b.flac", 1024)
	write("small.mp3", 10)
	write("big.mp3", 5000)
	write("cover.jpg", 1024)
	write(filepath.Join("sub", "c.mp3"), 1024)
	write(filepath.Join("sub", "deep", "d.wav"), 1024)
	return root
}

func testScanner() *Scanner {
	return New(100, 4000, 0)
}

func TestScanRecursive(t *testing.T) {
	root := testTree(t)

	res, err := testScanner().Scan(context.Background(), Request{
		Directories: []string{root},
		Recursive:   true,
	})
	require.NoError(t, err)

	want := []string{
		filepath.Join(root, "a.mp3"),
		filepath.Join(root, "b.flac"),
		filepath.Join(root, "sub", "c.mp3"),
		filepath.Join(root, "sub", "deep", "d.wav"),
	}
	assert.Equal(t, want, res.Files, "sorted, size-filtered, supported formats only")
	assert.Empty(t, res.Warnings)
	assert.Zero(t, res.InvalidFiles)
}

func TestScanNonRecursive(t *testing.T) {
	root := testTree(t)

	res, err := testScanner().Scan(context.Background(), Request{
		Directories: []string{root},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.mp3"),
		filepath.Join(root, "b.flac"),
	}, res.Files)
}

func TestScanPatterns(t *testing.T) {
	root := testTree(t)
	s := testScanner()

	res, err := s.Scan(context.Background(), Request{
		Directories:     []string{root},
		Recursive:       true,
		IncludePatterns: []string{"*.mp3"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.mp3"),
		filepath.Join(root, "sub", "c.mp3"),
	}, res.Files)

	res, err = s.Scan(context.Background(), Request{
		Directories:     []string{root},
		Recursive:       true,
		IncludePatterns: []string{"*.mp3"},
		ExcludePatterns: []string{"c*"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "a.mp3")}, res.Files)
}

func TestScanDedupesOverlappingRoots(t *testing.T) {
	root := testTree(t)

	res, err := testScanner().Scan(context.Background(), Request{
		Directories: []string{root, filepath.Join(root, "sub")},
		Recursive:   true,
	})
	require.NoError(t, err)
	assert.Len(t, res.Files, 4, "overlapping roots must not duplicate candidates")
}

func TestScanMissingRoot(t *testing.T) {
	_, err := testScanner().Scan(context.Background(), Request{
		Directories: []string{filepath.Join(os.TempDir(), "definitely-not-here-xyz")},
	})
	assert.ErrorIs(t, err, ErrRootNotFound)
}

func TestScanTooDeep(t *testing.T) {
	root := testTree(t)
	s := New(100, 4000, 1)

	_, err := s.Scan(context.Background(), Request{
		Directories: []string{root},
		Recursive:   true,
	})
	assert.ErrorIs(t, err, ErrTooDeep)
}

func TestScanExplicitFiles(t *testing.T) {
	root := testTree(t)

	res, err := testScanner().Scan(context.Background(), Request{
		FilePaths: []string{
			filepath.Join(root, "a.mp3"),
			filepath.Join(root, "missing.mp3"),
			filepath.Join(root, "cover.jpg"),
			filepath.Join(root, "small.mp3"),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(root, "a.mp3")}, res.Files)
	assert.Equal(t, 3, res.InvalidFiles)
	require.Len(t, res.Warnings, 3)
	assert.Equal(t, domain.CodeNotFound, res.Warnings[0].Code)
	assert.Equal(t, domain.CodeUnsupportedFormat, res.Warnings[1].Code)
	assert.Equal(t, domain.CodeInvalidArgument, res.Warnings[2].Code)
}

func TestScanBadPattern(t *testing.T) {
	root := testTree(t)

	_, err := testScanner().Scan(context.Background(), Request{
		Directories:     []string{root},
		IncludePatterns: []string{"["},
	})
	assert.ErrorIs(t, err, ErrBadPattern)
}

func TestScanCancelled(t *testing.T) {
	root := testTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testScanner().Scan(ctx, Request{Directories: []string{root}, Recursive: true})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanIgnoresSymlinks(t *testing.T) {
	root := testTree(t)
	require.NoError(t, os.Symlink(filepath.Join(root, "sub"), filepath.Join(root, "link")))

	res, err := testScanner().Scan(context.Background(), Request{
		Directories: []string{root},
		Recursive:   true,
	})
	require.NoError(t, err)
	assert.Len(t, res.Files, 4, "symlinked directories are not followed")
}
