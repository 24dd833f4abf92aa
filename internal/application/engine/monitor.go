package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/flipbot/config"
	"github.com/alejandrodnm/flipbot/internal/coordinator"
	"github.com/alejandrodnm/flipbot/internal/domain"
	"github.com/alejandrodnm/flipbot/internal/ports"
)

// Monitor corre el ciclo completo: analizar señales, validar contra quotes
// frescas y ejecutar en el ledger.
type Monitor struct {
	log       *slog.Logger
	cfg       *config.Config
	storage   ports.Storage
	prices    ports.PriceProvider
	signals   *SignalGenerator
	validator *Validator
	ledger    ports.LedgerClient
	notifier  ports.Notifier
	coord     *coordinator.Coordinator // opcional: serializa las ejecuciones
}

// NewMonitor arma el monitor. coord y notifier pueden ser nil.
func NewMonitor(
	log *slog.Logger,
	cfg *config.Config,
	storage ports.Storage,
	prices ports.PriceProvider,
	signals *SignalGenerator,
	validator *Validator,
	ledger ports.LedgerClient,
	notifier ports.Notifier,
	coord *coordinator.Coordinator,
) *Monitor {
	return &Monitor{
		log:       log.With("component", "monitor"),
		cfg:       cfg,
		storage:   storage,
		prices:    prices,
		signals:   signals,
		validator: validator,
		ledger:    ledger,
		notifier:  notifier,
		coord:     coord,
	}
}

// RunCycle ejecuta las tres fases de un ciclo de monitoreo y devuelve el
// resumen. Los errores por trade se acumulan en el resultado; sólo un fallo
// que impida arrancar el ciclo se devuelve como error.
func (m *Monitor) RunCycle(ctx context.Context) (ports.CycleResult, error) {
	start := time.Now()
	res := ports.CycleResult{StartedAt: start}
	owner := m.cfg.Monitor.OwnerAddress

	trades, err := m.storage.ActiveTrades(ctx, owner)
	if err != nil {
		return res, fmt.Errorf("engine.RunCycle: load active trades: %w", err)
	}
	m.log.Info("cycle started", "active_trades", len(trades))

	// fase 1: análisis de señales
	for _, tr := range trades {
		if err := m.analyzeTrade(ctx, tr); err != nil {
			m.log.Warn("trade analysis failed", "trade", tr.ID, "err", err)
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		res.Analyzed++
	}

	// fase 2: validación de los que piden ejecutar
	pending, err := m.storage.TradesBySignal(ctx, owner, domain.SignalExecute)
	if err != nil {
		return res, fmt.Errorf("engine.RunCycle: load executable trades: %w", err)
	}
	validations := m.validator.ValidateBatch(ctx, pending)
	res.Validated = len(validations)

	// fase 3: ejecución serializada
	if len(validations) > 0 {
		m.execute(ctx, validations, &res)
	}

	res.Duration = time.Since(start)
	m.log.Info("cycle finished",
		"analyzed", res.Analyzed,
		"validated", res.Validated,
		"executed", len(res.Executed),
		"failed", res.Failed,
		"duration", res.Duration,
	)

	if m.notifier != nil && (len(res.Executed) > 0 || res.PausedAll) {
		m.notifier.CycleReport(res)
	}
	return res, nil
}

// analyzeTrade calcula la señal de un trade y la persiste sólo si cambió.
func (m *Monitor) analyzeTrade(ctx context.Context, tr domain.Trade) error {
	price, err := m.prices.PairPrice(ctx, tr.Pair.Base.Address, tr.Pair.Quote.Address)
	if err != nil {
		return fmt.Errorf("pair price %s: %w", tr.Pair.Symbol(), err)
	}

	stop := domain.SignalHold
	var lastFlipAt time.Time

	last, hasFlip, err := m.storage.LastFlip(ctx, tr.ID)
	if err != nil {
		return fmt.Errorf("last flip %s: %w", tr.ID, err)
	}
	if hasFlip {
		lastFlipAt = last.ExecutedAt
		if tr.HoldsRiskToken() {
			decision := EvaluateStops(tr, last.Price, price)
			if decision.NewPeak > tr.PeakProfit {
				if err := m.storage.UpdatePeakProfit(ctx, tr.ID, decision.NewPeak); err != nil {
					return fmt.Errorf("update peak %s: %w", tr.ID, err)
				}
				tr.PeakProfit = decision.NewPeak
			}
			if decision.Signal == domain.SignalExecute {
				m.log.Info("stop triggered",
					"trade", tr.ID, "reason", decision.Reason,
					"profit_pct", decision.ProfitPct, "peak_pct", decision.NewPeak)
			}
			stop = decision.Signal
		}
	}

	signal, err := m.signals.Generate(ctx, SignalInput{
		Trade:      tr,
		Price:      price,
		Stop:       stop,
		LastFlipAt: lastFlipAt,
	})
	if err != nil {
		return err
	}

	if signal != tr.CurrentSignal {
		m.log.Info("signal changed",
			"trade", tr.ID, "pair", tr.Pair.Symbol(), "from", tr.CurrentSignal, "to", signal)
		if err := m.storage.UpdateSignal(ctx, tr.ID, signal, time.Now()); err != nil {
			return fmt.Errorf("update signal %s: %w", tr.ID, err)
		}
	}
	return nil
}

// execute corre el batch por el coordinator cuando hay uno, serializado en
// la categoría execution; si el submit falla ejecuta directo.
func (m *Monitor) execute(ctx context.Context, validations []domain.Validation, res *ports.CycleResult) {
	if m.coord == nil {
		m.executeBatch(ctx, validations, res)
		return
	}

	// el task escribe en su propio resultado y se mezcla recién cuando
	// terminó: si el WaitFor expira, el closure puede seguir corriendo y
	// res no se puede tocar desde los dos lados.
	var taskRes ports.CycleResult
	name := "trade-execution-" + uuid.NewString()[:8]
	err := m.coord.Submit(coordinator.Task{
		Name:           name,
		Priority:       coordinator.PriorityHigh,
		Category:       "execution",
		BlocksCategory: "execution",
		Func: func(taskCtx context.Context) error {
			m.executeBatch(taskCtx, validations, &taskRes)
			return nil
		},
	})
	if err != nil {
		m.log.Warn("coordinator submit failed, executing directly", "err", err)
		m.executeBatch(ctx, validations, res)
		return
	}

	if _, err := m.coord.WaitFor(name, 10*time.Minute); err != nil {
		m.log.Error("execution task did not finish in time", "task", name, "err", err)
		res.Errors = append(res.Errors, err.Error())
		return
	}

	res.Executed = append(res.Executed, taskRes.Executed...)
	res.Failed += taskRes.Failed
	res.PausedAll = res.PausedAll || taskRes.PausedAll
	res.Errors = append(res.Errors, taskRes.Errors...)
}
