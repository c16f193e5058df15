package task

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cratedig/cratedig/internal/domain"
)

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	if opts.SweepInterval == 0 {
		opts.SweepInterval = time.Hour
	}
	m := New(opts)
	t.Cleanup(m.Close)
	return m
}

func waitForState(t *testing.T, m *Manager, id string, want State) View {
	t.Helper()
	var v View
	require.Eventually(t, func() bool {
		got, err := m.Status(id)
		if err != nil {
			return false
		}
		v = got
		return got.State == want
	}, 2*time.Second, 5*time.Millisecond, "task never reached state %s", want)
	return v
}

func TestSubmitAndComplete(t *testing.T) {
	m := newTestManager(t, Options{})

	id, err := m.Submit(KindAnalysis, func(ctx context.Context, h *Handle) (any, error) {
		h.SetCounts(0, 10)
		h.SetStage("scanning", "scanning directories")
		h.SetProgress(40)
		h.SetCurrentFile("/music/a.mp3")
		h.SetCounts(10, 10)
		return domain.AnalysisSummary{TotalFiles: 10, ProcessedFiles: 10}, nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	v := waitForState(t, m, id, StateCompleted)
	assert.Equal(t, KindAnalysis, v.Kind)
	assert.Equal(t, 100.0, v.Progress)
	assert.Equal(t, 10, v.TotalFiles)
	assert.Equal(t, 10, v.ProcessedFiles)
	assert.NotNil(t, v.StartedAt)
	assert.NotNil(t, v.EndedAt)

	res, err := m.Result(id)
	require.NoError(t, err)
	summary, ok := res.(domain.AnalysisSummary)
	require.True(t, ok)
	assert.Equal(t, 10, summary.ProcessedFiles)

	// Stage history captures lifecycle plus explicit stages, in order.
	stages := make([]string, 0, len(v.Events))
	for _, e := range v.Events {
		stages = append(stages, e.Stage)
	}
	assert.Equal(t, []string{"pending", "running", "scanning", "completed"}, stages)
}

func TestTaskIDsSortable(t *testing.T) {
	first := newID()
	time.Sleep(2 * time.Millisecond)
	second := newID()
	assert.Less(t, first, second)
	assert.Len(t, first, 13+1+8)
}

func TestSubmitBusyCeiling(t *testing.T) {
	m := newTestManager(t, Options{MaxActive: 1})

	release := make(chan struct{})
	id, err := m.Submit(KindAnalysis, func(ctx context.Context, h *Handle) (any, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	_, err = m.Submit(KindAnalysis, func(ctx context.Context, h *Handle) (any, error) {
		return nil, nil
	})
	require.ErrorIs(t, err, ErrBusy)

	close(release)
	waitForState(t, m, id, StateCompleted)

	// Slot freed once the first task is terminal.
	_, err = m.Submit(KindAnalysis, func(ctx context.Context, h *Handle) (any, error) {
		return nil, nil
	})
	assert.NoError(t, err)
}

func TestCancelRunning(t *testing.T) {
	m := newTestManager(t, Options{})

	started := make(chan struct{})
	id, err := m.Submit(KindAnalysis, func(ctx context.Context, h *Handle) (any, error) {
		close(started)
		<-ctx.Done()
		// Late result after cancellation must be discarded.
		return domain.AnalysisSummary{ProcessedFiles: 99}, nil
	})
	require.NoError(t, err)
	<-started

	require.NoError(t, m.Cancel(id))
	v := waitForState(t, m, id, StateCancelled)
	assert.NotNil(t, v.EndedAt)
	assert.Nil(t, v.Result)

	_, err = m.Result(id)
	assert.ErrorIs(t, err, ErrCancelled)

	// Idempotent on a terminal task.
	assert.NoError(t, m.Cancel(id))
	again, err := m.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, again.State)
}

func TestCancelBeforeStart(t *testing.T) {
	tk := newTask(newID(), KindAnalysis)
	tk.markCancelled()

	assert.False(t, tk.markRunning(), "a cancelled task must not start")
	v := tk.snapshot()
	assert.Equal(t, StateCancelled, v.State)
	assert.NotNil(t, v.EndedAt)
	assert.Nil(t, v.StartedAt)
}

func TestProgressMonotonic(t *testing.T) {
	tk := newTask(newID(), KindAnalysis)
	require.True(t, tk.markRunning())
	h := &Handle{t: tk}

	h.SetProgress(50)
	assert.Equal(t, 50.0, tk.snapshot().Progress)

	h.SetProgress(30)
	assert.Equal(t, 50.0, tk.snapshot().Progress, "progress must never move backwards")

	h.SetProgress(250)
	assert.Equal(t, 100.0, tk.snapshot().Progress, "progress is clamped to 100")
}

func TestErrorListBounded(t *testing.T) {
	tk := newTask(newID(), KindAnalysis)
	require.True(t, tk.markRunning())
	h := &Handle{t: tk}

	for i := 0; i < MaxErrors+10; i++ {
		h.RecordError(domain.FileError{
			Path:    fmt.Sprintf("/music/%03d.mp3", i),
			Code:    domain.CodeCorruptFile,
			Message: "truncated frame",
		})
	}

	v := tk.snapshot()
	assert.Equal(t, MaxErrors+10, v.ErrorCount)
	require.Len(t, v.Errors, MaxErrors)
	// Oldest entries dropped, most recent retained.
	assert.Equal(t, "/music/010.mp3", v.Errors[0].Path)
	assert.Equal(t, fmt.Sprintf("/music/%03d.mp3", MaxErrors+9), v.Errors[MaxErrors-1].Path)
}

func TestFailedTask(t *testing.T) {
	m := newTestManager(t, Options{})

	id, err := m.Submit(KindAnalysis, func(ctx context.Context, h *Handle) (any, error) {
		return nil, errors.New("extractor exploded")
	})
	require.NoError(t, err)

	v := waitForState(t, m, id, StateFailed)
	assert.Equal(t, "extractor exploded", v.Error)
	assert.Equal(t, domain.CodeInternal, v.ErrorCode)

	_, err = m.Result(id)
	require.ErrorIs(t, err, ErrFailed)
	assert.Contains(t, err.Error(), "extractor exploded")
}

func TestFailureCodePropagation(t *testing.T) {
	m := newTestManager(t, Options{})

	id, err := m.Submit(KindPlaylistGeneration, func(ctx context.Context, h *Handle) (any, error) {
		return nil, &CodedError{Code: domain.CodeTimeout, Err: errors.New("generation timed out")}
	})
	require.NoError(t, err)

	v := waitForState(t, m, id, StateFailed)
	assert.Equal(t, domain.CodeTimeout, v.ErrorCode)
	assert.Equal(t, "generation timed out", v.Error)
}

func TestDeadlineClassifiedAsTimeout(t *testing.T) {
	m := newTestManager(t, Options{})

	id, err := m.Submit(KindPlaylistGeneration, func(ctx context.Context, h *Handle) (any, error) {
		inner, cancel := context.WithTimeout(ctx, time.Millisecond)
		defer cancel()
		<-inner.Done()
		return nil, inner.Err()
	})
	require.NoError(t, err)

	v := waitForState(t, m, id, StateFailed)
	assert.Equal(t, domain.CodeTimeout, v.ErrorCode)
}

func TestPanicRecovery(t *testing.T) {
	m := newTestManager(t, Options{})

	id, err := m.Submit(KindAnalysis, func(ctx context.Context, h *Handle) (any, error) {
		panic("boom")
	})
	require.NoError(t, err)

	v := waitForState(t, m, id, StateFailed)
	assert.Equal(t, domain.CodeInternal, v.ErrorCode)
	assert.Contains(t, v.Error, "boom")

	// The manager survives.
	id2, err := m.Submit(KindAnalysis, func(ctx context.Context, h *Handle) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	waitForState(t, m, id2, StateCompleted)
}

func TestResultWhileRunning(t *testing.T) {
	m := newTestManager(t, Options{})

	release := make(chan struct{})
	id, err := m.Submit(KindAnalysis, func(ctx context.Context, h *Handle) (any, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	_, err = m.Result(id)
	assert.ErrorIs(t, err, ErrPending)
	close(release)
	waitForState(t, m, id, StateCompleted)
}

func TestUnknownTask(t *testing.T) {
	m := newTestManager(t, Options{})

	_, err := m.Status("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Cancel("nope"), ErrNotFound)
	_, err = m.Result("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSweeperRemovesExpired(t *testing.T) {
	m := newTestManager(t, Options{
		RetainCompleted: 10 * time.Millisecond,
		RetainFailed:    10 * time.Millisecond,
		SweepInterval:   10 * time.Millisecond,
	})

	id, err := m.Submit(KindAnalysis, func(ctx context.Context, h *Handle) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)
	waitForState(t, m, id, StateCompleted)

	require.Eventually(t, func() bool {
		_, err := m.Status(id)
		return errors.Is(err, ErrNotFound)
	}, 2*time.Second, 5*time.Millisecond, "sweeper never collected the task")
}

func TestLateUpdatesDropped(t *testing.T) {
	tk := newTask(newID(), KindAnalysis)
	require.True(t, tk.markRunning())
	h := &Handle{t: tk}
	h.SetProgress(30)
	tk.markCancelled()

	h.SetProgress(90)
	h.SetMessage("late")
	h.RecordError(domain.FileError{Path: "/x", Code: domain.CodeIOError})

	v := tk.snapshot()
	assert.Equal(t, StateCancelled, v.State)
	assert.Equal(t, 30.0, v.Progress)
	assert.Zero(t, v.ErrorCount)
	assert.NotEqual(t, "late", v.Message)
}
