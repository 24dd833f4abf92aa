package coordinator

import (
	"context"
	"time"
)

// Priority ordena los tasks: menor número = mayor prioridad.
type Priority int

const (
	PriorityCritical Priority = iota // acciones del usuario
	PriorityHigh                     // ejecuciones de trades
	PriorityNormal                   // generación de señales
	PriorityLow                      // estadísticas
	PriorityIdle                     // cuando no hay nada más
)

// Status es el estado de ejecución de un task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusWaiting   Status = "waiting_for_dependencies"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal devuelve true si el task ya no va a cambiar de estado.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task es una unidad de trabajo encolable. Name debe ser único mientras el
// task esté vivo; Dependencies refiere a names de otros tasks.
type Task struct {
	Name     string
	Priority Priority
	Category string // default "general"

	// BlocksCategory impide que arranquen tasks de esa categoría mientras
	// éste corre. Un task de ejecución se bloquea a sí mismo para
	// serializar las ejecuciones.
	BlocksCategory string

	Dependencies []string
	MaxRetries   int

	Func func(ctx context.Context) error
}

// Result es el estado observable de un task terminado o en curso.
type Result struct {
	Name        string
	Status      Status
	Err         error
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Retries     int
}

// Duration devuelve cuánto tardó la ejecución, 0 si no terminó.
func (r Result) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// taskState es el estado interno mutable de un task encolado.
type taskState struct {
	task        Task
	status      Status
	err         error
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
	retries     int
	seq         uint64 // desempate FIFO dentro de la misma prioridad
}

func (s *taskState) result() Result {
	return Result{
		Name:        s.task.Name,
		Status:      s.status,
		Err:         s.err,
		CreatedAt:   s.createdAt,
		StartedAt:   s.startedAt,
		CompletedAt: s.completedAt,
		Retries:     s.retries,
	}
}

// taskHeap implementa container/heap ordenado por (prioridad, orden de
// llegada).
type taskHeap []*taskState

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority < h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*taskState)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
