package ports

import (
	"time"

	"github.com/alejandrodnm/flipbot/internal/domain"
)

// CycleResult resume un ciclo completo de monitoreo.
type CycleResult struct {
	StartedAt time.Time
	Duration  time.Duration
	Analyzed  int
	Validated int
	Executed  []domain.FlipRecord
	Failed    int
	PausedAll bool // se pausaron todos los trades por falta de fees
	Errors    []string
}

// Notifier publica el resultado de cada ciclo con ejecuciones.
type Notifier interface {
	CycleReport(result CycleResult)
}
