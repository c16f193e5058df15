package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cratedig/cratedig/internal/analysis"
	"github.com/cratedig/cratedig/internal/domain"
)

const (
	maxAttempts  = 3
	retryBase    = 200 * time.Millisecond
	retryCeiling = 3 * time.Second
)

// Cache is the slice of the store the pool needs: a validated lookup and
// a write.
type Cache interface {
	Lookup(path string) (domain.Track, bool)
	Put(path string, res analysis.Result) (domain.Track, error)
}

// Pool fans a file list out over a bounded set of workers, each running
// cache-check, extract, write for one file at a time.
type Pool struct {
	cache     Cache
	extractor analysis.Extractor
	workers   int
	timeout   time.Duration
}

func New(cache Cache, extractor analysis.Extractor, workers int, timeout time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{cache: cache, extractor: extractor, workers: workers, timeout: timeout}
}

// Run processes every file and blocks until all workers drain. The
// returned error is non-nil only when the run as a whole must fail:
// cancellation, or a panicking extractor. Per-file failures land in the
// error list instead.
func (p *Pool) Run(ctx context.Context, files []string, overwrite bool, onProgress func(domain.AnalysisProgress)) (domain.AnalysisSummary, []domain.FileError, error) {
	start := time.Now()
	total := len(files)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		processed atomic.Int64
		cacheHits atomic.Int64
		analysed  atomic.Int64
		failed    atomic.Int64

		fileErrs []domain.FileError
		errsMu   sync.Mutex

		panicOnce sync.Once
		panicErr  error
	)

	report := func(path string) {
		if onProgress == nil {
			return
		}
		onProgress(domain.AnalysisProgress{
			TotalFiles:     total,
			ProcessedFiles: int(processed.Load()),
			CurrentFile:    path,
			CacheHits:      int(cacheHits.Load()),
			Analysed:       int(analysed.Load()),
			Failed:         int(failed.Load()),
		})
	}
	fail := func(path string, code domain.Code, err error) {
		failed.Add(1)
		errsMu.Lock()
		fileErrs = append(fileErrs, domain.FileError{Path: path, Code: code, Message: err.Error()})
		errsMu.Unlock()
	}

	queue := make(chan string, 2*p.workers)
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case path, ok := <-queue:
					if !ok {
						return
					}
					done := p.processFile(ctx, path, overwrite, &cacheHits, &analysed, fail, func(r interface{}) {
						panicOnce.Do(func() {
							panicErr = fmt.Errorf("extractor panic on %s: %v", path, r)
							cancel()
						})
					})
					if done {
						processed.Add(1)
						report(path)
					}
				}
			}
		}()
	}

feed:
	for _, f := range files {
		select {
		case queue <- f:
		case <-ctx.Done():
			break feed
		}
	}
	close(queue)
	wg.Wait()

	summary := domain.AnalysisSummary{
		TotalFiles:     total,
		ProcessedFiles: int(processed.Load()),
		CacheHits:      int(cacheHits.Load()),
		Analysed:       int(analysed.Load()),
		FailedFiles:    int(failed.Load()),
		ElapsedSeconds: time.Since(start).Seconds(),
	}
	if panicErr != nil {
		return summary, fileErrs, panicErr
	}
	if err := ctx.Err(); err != nil {
		return summary, fileErrs, err
	}
	return summary, fileErrs, nil
}

// processFile runs one file to a terminal state. It reports true when the
// file finished (success or final failure) and false when the run was
// cancelled mid-file, in which case the partial result is discarded.
func (p *Pool) processFile(ctx context.Context, path string, overwrite bool, cacheHits, analysed *atomic.Int64, fail func(string, domain.Code, error), onPanic func(interface{})) (done bool) {
	defer func() {
		if r := recover(); r != nil {
			fail(path, domain.CodeInternal, fmt.Errorf("panic: %v", r))
			done = true
			onPanic(r)
		}
	}()

	if !overwrite {
		if _, ok := p.cache.Lookup(path); ok {
			cacheHits.Add(1)
			return true
		}
	}

	if ctx.Err() != nil {
		return false
	}
	res, err := p.extractWithRetry(ctx, path)
	if err != nil {
		if isContextErr(err) {
			return false
		}
		fail(path, analysis.ClassifyErr(err), err)
		return true
	}

	if ctx.Err() != nil {
		return false
	}
	if _, err := p.cache.Put(path, res); err != nil {
		fail(path, domain.CodeIOError, err)
		return true
	}
	analysed.Add(1)
	return true
}

func (p *Pool) extractWithRetry(ctx context.Context, path string) (analysis.Result, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := retryBase << uint(attempt-2)
			if backoff > retryCeiling {
				backoff = retryCeiling
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return analysis.Result{}, ctx.Err()
			}
		}

		res, err := p.extractor.Extract(ctx, path, analysis.Options{Timeout: p.timeout})
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !transient(err) {
			return analysis.Result{}, err
		}
	}
	return analysis.Result{}, fmt.Errorf("%w (after %d attempts)", lastErr, maxAttempts)
}

// transient reports whether an extraction error is worth retrying:
// filesystem contention, not contract violations.
func transient(err error) bool {
	if isContextErr(err) {
		return false
	}
	if errors.Is(err, analysis.ErrUnsupportedFormat) || errors.Is(err, analysis.ErrCorruptFile) ||
		errors.Is(err, analysis.ErrTimeout) || errors.Is(err, analysis.ErrInternal) {
		return false
	}
	return os.IsTimeout(err) ||
		errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EINTR)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
