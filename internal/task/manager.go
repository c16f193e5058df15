package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cratedig/cratedig/internal/domain"
)

// Runner is the body of a task. It receives a context that is cancelled
// when the task is cancelled and a Handle for publishing progress. The
// returned value becomes the task result on success.
type Runner func(ctx context.Context, h *Handle) (any, error)

// CodedError attaches an API error class to a runner failure. Runners
// that return a plain error are classified as internal.
type CodedError struct {
	Code domain.Code
	Err  error
}

func (e *CodedError) Error() string { return e.Err.Error() }
func (e *CodedError) Unwrap() error { return e.Err }

const (
	DefaultMaxActive       = 4
	DefaultRetainCompleted = 24 * time.Hour
	DefaultRetainFailed    = time.Hour

	defaultSweepInterval = time.Minute
)

// Options configures a Manager. Zero values take the defaults above.
type Options struct {
	MaxActive       int
	RetainCompleted time.Duration
	RetainFailed    time.Duration
	SweepInterval   time.Duration
}

// Manager owns the map of background tasks and mediates between API
// callers and the per-task goroutines. Each task is mutated only by its
// owning goroutine through a Handle; callers observe snapshots.
type Manager struct {
	mu    sync.RWMutex
	tasks map[string]*task

	maxActive       int
	retainCompleted time.Duration
	retainFailed    time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a Manager and starts its background sweeper.
func New(opts Options) *Manager {
	if opts.MaxActive <= 0 {
		opts.MaxActive = DefaultMaxActive
	}
	if opts.RetainCompleted <= 0 {
		opts.RetainCompleted = DefaultRetainCompleted
	}
	if opts.RetainFailed <= 0 {
		opts.RetainFailed = DefaultRetainFailed
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	m := &Manager{
		tasks:           make(map[string]*task),
		maxActive:       opts.MaxActive,
		retainCompleted: opts.RetainCompleted,
		retainFailed:    opts.RetainFailed,
		stop:            make(chan struct{}),
	}
	go m.sweep(opts.SweepInterval)
	return m
}

// newID builds a sortable task id: millisecond timestamp, zero-padded so
// lexicographic and chronological order agree, plus a random suffix.
func newID() string {
	return fmt.Sprintf("%013d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// Submit registers a task and starts its goroutine. It never blocks:
// when the active-task ceiling is reached it fails with ErrBusy.
func (m *Manager) Submit(kind Kind, run Runner) (string, error) {
	m.mu.Lock()
	active := 0
	for _, t := range m.tasks {
		if t.active() {
			active++
		}
	}
	if active >= m.maxActive {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %d tasks already active", ErrBusy, active)
	}
	t := newTask(newID(), kind)
	m.tasks[t.id] = t
	m.mu.Unlock()

	go m.run(t, run)
	return t.id, nil
}

// Status returns a snapshot of the task.
func (m *Manager) Status(id string) (View, error) {
	t, err := m.lookup(id)
	if err != nil {
		return View{}, err
	}
	return t.snapshot(), nil
}

// Cancel signals cooperative cancellation. Cancelling a task that is
// already terminal is a no-op, not an error.
func (m *Manager) Cancel(id string) error {
	t, err := m.lookup(id)
	if err != nil {
		return err
	}
	t.markCancelled()
	return nil
}

// Result returns the task result, discriminating the non-result states:
// ErrPending while the task is still live, ErrFailed (wrapping the task
// error message) after a failure, ErrCancelled after cancellation.
func (m *Manager) Result(id string) (any, error) {
	v, err := m.Status(id)
	if err != nil {
		return nil, err
	}
	switch v.State {
	case StateCompleted:
		return v.Result, nil
	case StateFailed:
		return nil, fmt.Errorf("%w: %s", ErrFailed, v.Error)
	case StateCancelled:
		return nil, ErrCancelled
	default:
		return nil, ErrPending
	}
}

// Close stops the sweeper and cancels every task that is still active.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.RLock()
	live := make([]*task, 0, len(m.tasks))
	for _, t := range m.tasks {
		live = append(live, t)
	}
	m.mu.RUnlock()

	for _, t := range live {
		t.markCancelled()
	}
}

func (m *Manager) lookup(id string) (*task, error) {
	m.mu.RLock()
	t, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, nil
}

// run drives one task to a terminal state. A panic in the runner fails
// the task without taking down the process or other tasks.
func (m *Manager) run(t *task, run Runner) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task runner panicked", "task_id", t.id, "kind", t.kind, "panic", r)
			t.fail(fmt.Sprintf("internal error: %v", r), domain.CodeInternal)
		}
	}()

	if !t.markRunning() {
		// Cancelled before the goroutine was scheduled.
		return
	}

	result, err := run(t.ctx, &Handle{t: t})
	if err != nil {
		t.fail(err.Error(), failureCode(err))
		return
	}
	t.complete(result)
}

func failureCode(err error) domain.Code {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.CodeTimeout
	}
	return domain.CodeInternal
}

func (m *Manager) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.mu.Lock()
			for id, t := range m.tasks {
				if t.expired(now, m.retainCompleted, m.retainFailed) {
					delete(m.tasks, id)
				}
			}
			m.mu.Unlock()
		}
	}
}
