package coordinator

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrNotStarted se devuelve al encolar con el worker parado.
	ErrNotStarted = errors.New("coordinator: not started")
	// ErrWaitTimeout se devuelve cuando WaitFor agota el timeout.
	ErrWaitTimeout = errors.New("coordinator: wait timeout")
)

const (
	pollInterval = 100 * time.Millisecond
	waitInterval = 10 * time.Millisecond
)

// CategoryStats acumula contadores por categoría de task.
type CategoryStats struct {
	Submitted int
	Completed int
	Failed    int
	TotalTime time.Duration
}

// Stats es el resumen de ejecución del coordinator.
type Stats struct {
	Submitted  int
	Completed  int
	Failed     int
	Cancelled  int
	TotalTime  time.Duration
	ByCategory map[string]CategoryStats
}

// Coordinator serializa tasks con prioridades, dependencias y exclusión por
// categoría sobre un único worker. Evita que dos ejecuciones de trades
// corran a la vez y que una validación corra antes que su análisis.
type Coordinator struct {
	log *slog.Logger

	mu      sync.Mutex
	queue   taskHeap
	running map[string]*taskState
	done    map[string]*taskState
	blocked map[string]struct{}
	stats   Stats
	seq     uint64
	started bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New crea un Coordinator parado. Llamar Start antes de Submit.
func New(log *slog.Logger) *Coordinator {
	return &Coordinator{
		log:     log.With("component", "coordinator"),
		running: make(map[string]*taskState),
		done:    make(map[string]*taskState),
		blocked: make(map[string]struct{}),
		stats:   Stats{ByCategory: make(map[string]CategoryStats)},
	}
}

// Start lanza el worker. Llamarlo con el worker ya corriendo no hace nada.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		c.log.Warn("coordinator already running")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.started = true
	c.wg.Add(1)
	go c.loop(ctx)
	c.log.Info("coordinator started")
}

// Stop detiene el worker y espera hasta timeout a que el task en curso
// termine. Devuelve error si no paró a tiempo.
func (c *Coordinator) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	c.cancel()
	c.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(timeout):
		return fmt.Errorf("coordinator.Stop: worker did not stop within %s", timeout)
	}

	c.logStats()
	return nil
}

// Submit encola un task. Un name duplicado mientras el original siga
// encolado, corriendo o terminado sin limpiar es un no-op con warning.
func (c *Coordinator) Submit(t Task) error {
	if t.Name == "" || t.Func == nil {
		return errors.New("coordinator.Submit: task needs a name and a func")
	}
	if t.Category == "" {
		t.Category = "general"
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return ErrNotStarted
	}
	if _, ok := c.running[t.Name]; ok {
		c.log.Warn("duplicate task name, ignoring submit", "task", t.Name, "state", "running")
		return nil
	}
	if _, ok := c.done[t.Name]; ok {
		c.log.Warn("duplicate task name, ignoring submit", "task", t.Name, "state", "finished")
		return nil
	}
	for _, st := range c.queue {
		if st.task.Name == t.Name {
			c.log.Warn("duplicate task name, ignoring submit", "task", t.Name, "state", "queued")
			return nil
		}
	}

	c.seq++
	st := &taskState{task: t, status: StatusPending, createdAt: time.Now(), seq: c.seq}
	heap.Push(&c.queue, st)

	c.stats.Submitted++
	cat := c.stats.ByCategory[t.Category]
	cat.Submitted++
	c.stats.ByCategory[t.Category] = cat

	c.log.Info("task submitted", "task", t.Name, "priority", t.Priority, "category", t.Category)
	return nil
}

// Status devuelve el estado actual del task, ok=false si no se conoce.
func (c *Coordinator) Status(name string) (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.running[name]; ok {
		return st.status, true
	}
	if st, ok := c.done[name]; ok {
		return st.status, true
	}
	for _, st := range c.queue {
		if st.task.Name == name {
			return st.status, true
		}
	}
	return "", false
}

// WaitFor bloquea hasta que el task alcance un estado terminal o se agote
// el timeout.
func (c *Coordinator) WaitFor(name string, timeout time.Duration) (Result, error) {
	deadline := time.Now().Add(timeout)
	for {
		c.mu.Lock()
		st, ok := c.done[name]
		c.mu.Unlock()
		if ok {
			return st.result(), nil
		}
		if time.Now().After(deadline) {
			return Result{}, fmt.Errorf("coordinator.WaitFor: %w: %s", ErrWaitTimeout, name)
		}
		time.Sleep(waitInterval)
	}
}

// Stats devuelve una copia de las estadísticas acumuladas.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.stats
	out.ByCategory = make(map[string]CategoryStats, len(c.stats.ByCategory))
	for k, v := range c.stats.ByCategory {
		out.ByCategory[k] = v
	}
	return out
}

// ClearCompleted libera tasks terminados hace más de olderThan, para que
// sus names puedan reutilizarse. Devuelve cuántos limpió.
func (c *Coordinator) ClearCompleted(olderThan time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	n := 0
	for name, st := range c.done {
		if !st.completedAt.IsZero() && st.completedAt.Before(cutoff) {
			delete(c.done, name)
			n++
		}
	}
	if n > 0 {
		c.log.Info("cleared finished tasks", "count", n)
	}
	return n
}

// loop es el worker único: saca el task listo de mayor prioridad y lo
// ejecuta. Si nada está listo duerme un poco y reintenta.
func (c *Coordinator) loop(ctx context.Context) {
	defer c.wg.Done()
	for {
		st := c.nextRunnable()
		if st == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}

		c.run(ctx, st)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// nextRunnable busca en orden de prioridad el primer task cuyas
// dependencias están satisfechas y cuya categoría no está bloqueada.
// Los tasks con dependencia fallida o cancelada se cancelan acá mismo.
func (c *Coordinator) nextRunnable() *taskState {
	c.mu.Lock()
	defer c.mu.Unlock()

	var skipped []*taskState
	var picked *taskState

	for c.queue.Len() > 0 {
		st := heap.Pop(&c.queue).(*taskState)

		switch c.runnability(st) {
		case canRun:
			picked = st
		case depFailed:
			st.status = StatusCancelled
			st.completedAt = time.Now()
			c.done[st.task.Name] = st
			c.stats.Cancelled++
			c.log.Warn("task cancelled, dependency failed", "task", st.task.Name)
			continue
		case mustWait:
			st.status = StatusWaiting
			skipped = append(skipped, st)
			continue
		}
		break
	}

	for _, st := range skipped {
		heap.Push(&c.queue, st)
	}

	if picked != nil {
		picked.status = StatusRunning
		picked.startedAt = time.Now()
		c.running[picked.task.Name] = picked
		if picked.task.BlocksCategory != "" {
			c.blocked[picked.task.BlocksCategory] = struct{}{}
		}
	}
	return picked
}

type runnability int

const (
	canRun runnability = iota
	mustWait
	depFailed
)

func (c *Coordinator) runnability(st *taskState) runnability {
	if _, blocked := c.blocked[st.task.Category]; blocked {
		return mustWait
	}
	for _, dep := range st.task.Dependencies {
		depState, ok := c.done[dep]
		if !ok {
			if _, running := c.running[dep]; running {
				return mustWait
			}
			// aún encolado o nunca enviado: esperar
			return mustWait
		}
		if depState.status != StatusCompleted {
			return depFailed
		}
	}
	return canRun
}

// run ejecuta el task fuera del lock, con recover: un panic en un task no
// puede tumbar el worker.
func (c *Coordinator) run(ctx context.Context, st *taskState) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("coordinator: task %s panicked: %v", st.task.Name, r)
			}
		}()
		return st.task.Func(ctx)
	}()
	duration := time.Since(start)

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.running, st.task.Name)
	if st.task.BlocksCategory != "" {
		delete(c.blocked, st.task.BlocksCategory)
	}

	if err != nil && st.retries < st.task.MaxRetries && ctx.Err() == nil {
		st.retries++
		st.status = StatusPending
		c.seq++
		st.seq = c.seq
		heap.Push(&c.queue, st)
		c.log.Warn("task failed, requeued",
			"task", st.task.Name, "attempt", st.retries, "max_retries", st.task.MaxRetries, "err", err)
		return
	}

	st.completedAt = time.Now()
	st.err = err
	cat := c.stats.ByCategory[st.task.Category]

	if err != nil {
		st.status = StatusFailed
		c.stats.Failed++
		cat.Failed++
		c.log.Error("task failed", "task", st.task.Name, "duration", duration, "err", err)
	} else {
		st.status = StatusCompleted
		c.stats.Completed++
		c.stats.TotalTime += duration
		cat.Completed++
		cat.TotalTime += duration
		c.log.Debug("task completed", "task", st.task.Name, "duration", duration)
	}

	c.stats.ByCategory[st.task.Category] = cat
	c.done[st.task.Name] = st
}

func (c *Coordinator) logStats() {
	s := c.Stats()
	c.log.Info("coordinator statistics",
		"submitted", s.Submitted,
		"completed", s.Completed,
		"failed", s.Failed,
		"cancelled", s.Cancelled,
		"total_time", s.TotalTime,
	)
	for category, cs := range s.ByCategory {
		var avg time.Duration
		if cs.Completed > 0 {
			avg = cs.TotalTime / time.Duration(cs.Completed)
		}
		c.log.Info("category statistics",
			"category", category,
			"completed", cs.Completed,
			"submitted", cs.Submitted,
			"failed", cs.Failed,
			"avg_time", avg,
		)
	}
}
