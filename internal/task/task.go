package task

import (
	"context"
	"sync"
	"time"

	"github.com/cratedig/cratedig/internal/domain"
)

// Kind identifies what a task does.
type Kind string

const (
	KindAnalysis           Kind = "analysis"
	KindPlaylistGeneration Kind = "playlist_generation"
)

// State is the lifecycle state of a task. Valid transitions are
// pending → running → (completed|failed|cancelled) and pending → cancelled.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Event records a stage change in a task's history.
type Event struct {
	Stage     string    `json:"stage"`
	Progress  float64   `json:"progress"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// View is an immutable snapshot of a task, safe to serialise.
type View struct {
	ID        string      `json:"id"`
	Kind      Kind        `json:"kind"`
	State     State       `json:"state"`
	Progress  float64     `json:"progress"`
	Message   string      `json:"message"`
	Error     string      `json:"error,omitempty"`
	ErrorCode domain.Code `json:"error_code,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	TotalFiles     int    `json:"total_files,omitempty"`
	ProcessedFiles int    `json:"processed_files,omitempty"`
	CurrentFile    string `json:"current_file,omitempty"`

	ErrorCount int                `json:"error_count"`
	Errors     []domain.FileError `json:"errors,omitempty"`
	Events     []Event            `json:"events"`

	// Result is set iff State == StateCompleted.
	Result any `json:"result,omitempty"`
}

// MaxErrors bounds the per-task error list; older entries are dropped.
const MaxErrors = 50

// task is the mutable record behind a View. All fields below mu are
// guarded by it; the manager map holds the only reference.
type task struct {
	id   string
	kind Kind

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          State
	progress       float64
	message        string
	err            string
	errCode        domain.Code
	createdAt      time.Time
	startedAt      *time.Time
	updatedAt      time.Time
	endedAt        *time.Time
	totalFiles     int
	processedFiles int
	currentFile    string
	errorCount     int
	fileErrors     []domain.FileError
	events         []Event
	result         any
}

func newTask(id string, kind Kind) *task {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	t := &task{
		id:        id,
		kind:      kind,
		ctx:       ctx,
		cancel:    cancel,
		state:     StatePending,
		message:   "task created",
		createdAt: now,
		updatedAt: now,
	}
	t.events = append(t.events, Event{Stage: string(StatePending), Message: t.message, Timestamp: now})
	return t
}

// snapshot deep-copies the mutable slices so callers can hold the View
// after the lock is released.
func (t *task) snapshot() View {
	t.mu.Lock()
	defer t.mu.Unlock()

	v := View{
		ID:             t.id,
		Kind:           t.kind,
		State:          t.state,
		Progress:       t.progress,
		Message:        t.message,
		Error:          t.err,
		ErrorCode:      t.errCode,
		CreatedAt:      t.createdAt,
		UpdatedAt:      t.updatedAt,
		TotalFiles:     t.totalFiles,
		ProcessedFiles: t.processedFiles,
		CurrentFile:    t.currentFile,
		ErrorCount:     t.errorCount,
		Events:         make([]Event, len(t.events)),
	}
	copy(v.Events, t.events)
	if t.startedAt != nil {
		s := *t.startedAt
		v.StartedAt = &s
	}
	if t.endedAt != nil {
		e := *t.endedAt
		v.EndedAt = &e
	}
	if len(t.fileErrors) > 0 {
		v.Errors = make([]domain.FileError, len(t.fileErrors))
		copy(v.Errors, t.fileErrors)
	}
	if t.state == StateCompleted {
		v.Result = t.result
	}
	return v
}

// markRunning performs pending → running. It reports false when the task
// was cancelled before its goroutine got scheduled.
func (t *task) markRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StatePending {
		return false
	}
	now := time.Now()
	t.state = StateRunning
	t.startedAt = &now
	t.updatedAt = now
	t.message = "task started"
	t.events = append(t.events, Event{Stage: string(StateRunning), Message: t.message, Timestamp: now})
	return true
}

// complete performs running → completed. A no-op when the task was
// cancelled meanwhile; the result is discarded in that case.
func (t *task) complete(result any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRunning {
		return
	}
	now := time.Now()
	t.state = StateCompleted
	t.progress = 100
	t.result = result
	t.message = "task completed"
	t.updatedAt = now
	t.endedAt = &now
	t.events = append(t.events, Event{Stage: string(StateCompleted), Progress: 100, Message: t.message, Timestamp: now})
}

// fail performs running → failed. A no-op when the task was cancelled.
func (t *task) fail(msg string, code domain.Code) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRunning {
		return
	}
	now := time.Now()
	t.state = StateFailed
	t.err = msg
	t.errCode = code
	t.message = "task failed"
	t.updatedAt = now
	t.endedAt = &now
	t.events = append(t.events, Event{Stage: string(StateFailed), Progress: t.progress, Message: msg, Timestamp: now})
}

// markCancelled performs pending|running → cancelled and fires the
// context. Safe to call repeatedly and in any state.
func (t *task) markCancelled() {
	t.mu.Lock()
	if t.state == StatePending || t.state == StateRunning {
		now := time.Now()
		t.state = StateCancelled
		t.message = "task cancelled by user"
		t.updatedAt = now
		t.endedAt = &now
		t.events = append(t.events, Event{Stage: string(StateCancelled), Progress: t.progress, Message: t.message, Timestamp: now})
	}
	t.mu.Unlock()
	t.cancel()
}

func (t *task) active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.state.Terminal()
}

// expired reports whether a terminal task is older than its retention
// window at the given instant.
func (t *task) expired(now time.Time, retainCompleted, retainFailed time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.Terminal() || t.endedAt == nil {
		return false
	}
	retain := retainFailed
	if t.state == StateCompleted {
		retain = retainCompleted
	}
	return now.Sub(*t.endedAt) > retain
}

// Handle is the single-writer surface a Runner uses to publish progress.
// Mutations apply only while the task is running; late updates from a
// cancelled runner are dropped.
type Handle struct {
	t *task
}

// ID returns the task id, usable as a deterministic seed component.
func (h *Handle) ID() string { return h.t.id }

// SetStage appends a stage-change event and updates the message.
func (h *Handle) SetStage(stage, message string) {
	t := h.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRunning {
		return
	}
	now := time.Now()
	t.message = message
	t.updatedAt = now
	t.events = append(t.events, Event{Stage: stage, Progress: t.progress, Message: message, Timestamp: now})
}

// SetProgress raises progress towards 100. Values below the current
// progress or outside [0,100] are clamped; progress never moves backwards.
func (h *Handle) SetProgress(progress float64) {
	t := h.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRunning {
		return
	}
	if progress > 100 {
		progress = 100
	}
	if progress > t.progress {
		t.progress = progress
		t.updatedAt = time.Now()
	}
}

// SetMessage replaces the human-readable status line.
func (h *Handle) SetMessage(message string) {
	t := h.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRunning {
		return
	}
	t.message = message
	t.updatedAt = time.Now()
}

// SetCounts publishes file counters for analysis tasks.
func (h *Handle) SetCounts(processed, total int) {
	t := h.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRunning {
		return
	}
	t.processedFiles = processed
	t.totalFiles = total
	t.updatedAt = time.Now()
}

// SetCurrentFile publishes one of the files in flight. Informational only.
func (h *Handle) SetCurrentFile(path string) {
	t := h.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRunning {
		return
	}
	t.currentFile = path
	t.updatedAt = time.Now()
}

// RecordError appends to the bounded error list, keeping the most
// recent MaxErrors entries. The total count is not bounded.
func (h *Handle) RecordError(fe domain.FileError) {
	t := h.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRunning {
		return
	}
	t.errorCount++
	t.fileErrors = append(t.fileErrors, fe)
	if len(t.fileErrors) > MaxErrors {
		t.fileErrors = t.fileErrors[len(t.fileErrors)-MaxErrors:]
	}
	t.updatedAt = time.Now()
}
