package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	c := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.Start()
	t.Cleanup(func() { _ = c.Stop(2 * time.Second) })
	return c
}

func TestSubmit_RequiresNameAndFunc(t *testing.T) {
	c := newTestCoordinator(t)
	assert.Error(t, c.Submit(Task{Name: "no-func"}))
	assert.Error(t, c.Submit(Task{Func: func(context.Context) error { return nil }}))
}

func TestSubmit_NotStarted(t *testing.T) {
	c := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := c.Submit(Task{Name: "x", Func: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestSubmit_DuplicateName(t *testing.T) {
	c := newTestCoordinator(t)

	var runs atomic.Int32
	task := Task{Name: "dup", Func: func(context.Context) error { runs.Add(1); return nil }}

	require.NoError(t, c.Submit(task))
	_, err := c.WaitFor("dup", 2*time.Second)
	require.NoError(t, err)

	// el duplicado es un no-op: no falla y no vuelve a encolar
	require.NoError(t, c.Submit(task))
	assert.Equal(t, 1, c.Stats().Submitted)
	assert.Equal(t, int32(1), runs.Load())
}

func TestExecution_CompletesTask(t *testing.T) {
	c := newTestCoordinator(t)

	var ran atomic.Bool
	require.NoError(t, c.Submit(Task{
		Name: "simple",
		Func: func(context.Context) error { ran.Store(true); return nil },
	}))

	res, err := c.WaitFor("simple", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.True(t, ran.Load())
	assert.NoError(t, res.Err)
}

func TestDependencies_RunAfterDependency(t *testing.T) {
	c := newTestCoordinator(t)

	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	// el dependiente entra primero a la cola pero debe esperar
	require.NoError(t, c.Submit(Task{
		Name:         "dependent",
		Priority:     PriorityCritical,
		Dependencies: []string{"dep"},
		Func:         func(context.Context) error { record("dependent"); return nil },
	}))
	require.NoError(t, c.Submit(Task{
		Name:     "dep",
		Priority: PriorityLow,
		Func: func(context.Context) error {
			time.Sleep(50 * time.Millisecond)
			record("dep")
			return nil
		},
	}))

	_, err := c.WaitFor("dependent", 2*time.Second)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"dep", "dependent"}, order)
}

func TestDependencies_FailedDependencyCancels(t *testing.T) {
	c := newTestCoordinator(t)

	require.NoError(t, c.Submit(Task{
		Name: "failing",
		Func: func(context.Context) error { return errors.New("boom") },
	}))
	require.NoError(t, c.Submit(Task{
		Name:         "dependent",
		Dependencies: []string{"failing"},
		Func:         func(context.Context) error { t.Error("should not run"); return nil },
	}))

	res, err := c.WaitFor("dependent", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, res.Status)

	failed, err := c.WaitFor("failing", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Error(t, failed.Err)
}

func TestBlocksCategory_SerializesExecutions(t *testing.T) {
	c := newTestCoordinator(t)

	var concurrent, peak atomic.Int32
	exec := func(context.Context) error {
		n := concurrent.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(30 * time.Millisecond)
		concurrent.Add(-1)
		return nil
	}

	for _, name := range []string{"exec-1", "exec-2", "exec-3"} {
		require.NoError(t, c.Submit(Task{
			Name:           name,
			Category:       "execution",
			BlocksCategory: "execution",
			Func:           exec,
		}))
	}

	for _, name := range []string{"exec-1", "exec-2", "exec-3"} {
		res, err := c.WaitFor(name, 5*time.Second)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, res.Status)
	}
	assert.Equal(t, int32(1), peak.Load(), "executions must never overlap")
}

func TestPriority_HigherRunsFirst(t *testing.T) {
	c := newTestCoordinator(t)

	var mu sync.Mutex
	var order []string

	// un task largo ocupa el worker mientras encolamos el resto
	require.NoError(t, c.Submit(Task{
		Name: "warmup",
		Func: func(context.Context) error { time.Sleep(150 * time.Millisecond); return nil },
	}))
	time.Sleep(30 * time.Millisecond)

	for _, tc := range []struct {
		name string
		prio Priority
	}{
		{"low", PriorityLow},
		{"critical", PriorityCritical},
		{"normal", PriorityNormal},
	} {
		name := tc.name
		require.NoError(t, c.Submit(Task{
			Name:     name,
			Priority: tc.prio,
			Func: func(context.Context) error {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return nil
			},
		}))
	}

	for _, name := range []string{"low", "critical", "normal"} {
		_, err := c.WaitFor(name, 3*time.Second)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"critical", "normal", "low"}, order)
}

func TestRetry_RequeuesUntilMaxRetries(t *testing.T) {
	c := newTestCoordinator(t)

	var attempts atomic.Int32
	require.NoError(t, c.Submit(Task{
		Name:       "flaky",
		MaxRetries: 2,
		Func: func(context.Context) error {
			if attempts.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
	}))

	res, err := c.WaitFor("flaky", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 2, res.Retries)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestPanic_CountsAsFailure(t *testing.T) {
	c := newTestCoordinator(t)

	require.NoError(t, c.Submit(Task{
		Name: "panicky",
		Func: func(context.Context) error { panic("oops") },
	}))

	res, err := c.WaitFor("panicky", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorContains(t, res.Err, "panicked")
}

func TestWaitFor_Timeout(t *testing.T) {
	c := newTestCoordinator(t)
	_, err := c.WaitFor("never-submitted", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrWaitTimeout)
}

func TestStats_TracksPerCategory(t *testing.T) {
	c := newTestCoordinator(t)

	require.NoError(t, c.Submit(Task{
		Name: "ok", Category: "trade",
		Func: func(context.Context) error { return nil },
	}))
	require.NoError(t, c.Submit(Task{
		Name: "bad", Category: "trade",
		Func: func(context.Context) error { return errors.New("boom") },
	}))

	for _, name := range []string{"ok", "bad"} {
		_, err := c.WaitFor(name, 2*time.Second)
		require.NoError(t, err)
	}

	stats := c.Stats()
	assert.Equal(t, 2, stats.Submitted)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Failed)

	trade := stats.ByCategory["trade"]
	assert.Equal(t, 2, trade.Submitted)
	assert.Equal(t, 1, trade.Completed)
	assert.Equal(t, 1, trade.Failed)
}

func TestClearCompleted_FreesNames(t *testing.T) {
	c := newTestCoordinator(t)

	require.NoError(t, c.Submit(Task{Name: "once", Func: func(context.Context) error { return nil }}))
	_, err := c.WaitFor("once", 2*time.Second)
	require.NoError(t, err)

	assert.Equal(t, 1, c.ClearCompleted(0))
	assert.NoError(t, c.Submit(Task{Name: "once", Func: func(context.Context) error { return nil }}))
}

func TestStatus_UnknownTask(t *testing.T) {
	c := newTestCoordinator(t)
	_, ok := c.Status("ghost")
	assert.False(t, ok)
}
