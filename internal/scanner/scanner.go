package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cratedig/cratedig/internal/analysis"
	"github.com/cratedig/cratedig/internal/domain"
)

var (
	ErrTooDeep      = errors.New("directory tree too deep")
	ErrRootNotFound = errors.New("scan root not found")
	ErrBadPattern   = errors.New("invalid pattern")
)

// DefaultMaxDepth bounds recursion below a scan root.
const DefaultMaxDepth = 32

// Request names what to scan. Directories are walked; FilePaths are taken
// as-is and only validated.
type Request struct {
	Directories     []string
	FilePaths       []string
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string
}

// Result is the finished scan: candidate files in canonical sorted order,
// plus non-fatal warnings and the count of explicit paths rejected.
type Result struct {
	Files        []string
	Warnings     []domain.FileError
	InvalidFiles int
}

// Scanner walks directories and filters candidates by extension, size and
// patterns. Size bounds are in bytes.
type Scanner struct {
	MinFileSize int64
	MaxFileSize int64
	MaxDepth    int
}

func New(minFileSize, maxFileSize int64, maxDepth int) *Scanner {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Scanner{MinFileSize: minFileSize, MaxFileSize: maxFileSize, MaxDepth: maxDepth}
}

// Scan produces the deduplicated candidate list for a request. Roots are
// canonicalised once; symlinks below them are not followed, which keeps
// cycles impossible. Unreadable directories become warnings; a missing
// root fails the scan.
func (s *Scanner) Scan(ctx context.Context, req Request) (Result, error) {
	if err := validatePatterns(req.IncludePatterns); err != nil {
		return Result{}, err
	}
	if err := validatePatterns(req.ExcludePatterns); err != nil {
		return Result{}, err
	}

	res := Result{}
	seen := make(map[string]struct{})

	for _, dir := range req.Directories {
		if err := s.scanRoot(ctx, dir, req, seen, &res); err != nil {
			return Result{}, err
		}
	}
	for _, path := range req.FilePaths {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		s.addExplicit(path, seen, &res)
	}

	sort.Strings(res.Files)
	return res, nil
}

func (s *Scanner) scanRoot(ctx context.Context, root string, req Request, seen map[string]struct{}, res *Result) error {
	canon, err := canonicalize(root)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrRootNotFound, root)
	}
	info, err := os.Stat(canon)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrRootNotFound, root)
	}

	return filepath.WalkDir(canon, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			res.Warnings = append(res.Warnings, domain.FileError{
				Path:    path,
				Code:    domain.CodeIOError,
				Message: walkErr.Error(),
			})
			return nil
		}
		if d.IsDir() {
			if path == canon {
				return nil
			}
			if !req.Recursive {
				return fs.SkipDir
			}
			if depthBelow(canon, path) > s.MaxDepth {
				return fmt.Errorf("%w: %s", ErrTooDeep, path)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !analysis.Supported(path) {
			return nil
		}
		if !matches(filepath.Base(path), req.IncludePatterns, req.ExcludePatterns) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			res.Warnings = append(res.Warnings, domain.FileError{
				Path:    path,
				Code:    domain.CodeIOError,
				Message: err.Error(),
			})
			return nil
		}
		if !s.sizeOK(fi.Size()) {
			return nil
		}
		if _, dup := seen[path]; !dup {
			seen[path] = struct{}{}
			res.Files = append(res.Files, path)
		}
		return nil
	})
}

// addExplicit validates one user-named file. Rejections are counted and
// reported, never fatal.
func (s *Scanner) addExplicit(path string, seen map[string]struct{}, res *Result) {
	reject := func(code domain.Code, msg string) {
		res.InvalidFiles++
		res.Warnings = append(res.Warnings, domain.FileError{Path: path, Code: code, Message: msg})
	}

	canon, err := canonicalize(path)
	if err != nil {
		reject(domain.CodeNotFound, "file does not exist")
		return
	}
	fi, err := os.Stat(canon)
	if err != nil || fi.IsDir() {
		reject(domain.CodeNotFound, "file does not exist")
		return
	}
	if !analysis.Supported(canon) {
		reject(domain.CodeUnsupportedFormat, fmt.Sprintf("extension %s is not analyzable", filepath.Ext(canon)))
		return
	}
	if !s.sizeOK(fi.Size()) {
		reject(domain.CodeInvalidArgument, fmt.Sprintf("file size %d outside configured bounds", fi.Size()))
		return
	}
	if _, dup := seen[canon]; !dup {
		seen[canon] = struct{}{}
		res.Files = append(res.Files, canon)
	}
}

func (s *Scanner) sizeOK(size int64) bool {
	if s.MinFileSize > 0 && size < s.MinFileSize {
		return false
	}
	if s.MaxFileSize > 0 && size > s.MaxFileSize {
		return false
	}
	return true
}

func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func depthBelow(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

func validatePatterns(patterns []string) error {
	for _, p := range patterns {
		if _, err := filepath.Match(p, "probe"); err != nil {
			return fmt.Errorf("%w: %q", ErrBadPattern, p)
		}
	}
	return nil
}

func matches(name string, include, exclude []string) bool {
	ok := len(include) == 0
	for _, p := range include {
		if m, _ := filepath.Match(p, name); m {
			ok = true
			break
		}
	}
	if !ok {
		return false
	}
	for _, p := range exclude {
		if m, _ := filepath.Match(p, name); m {
			return false
		}
	}
	return true
}
