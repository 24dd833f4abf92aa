package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/flipbot/internal/domain"
	"github.com/alejandrodnm/flipbot/internal/ports"
)

var (
	// ErrBackoffActive se devuelve sin llamar al agregador mientras dura
	// la ventana de backoff tras fallos consecutivos.
	ErrBackoffActive = errors.New("engine: aggregator backoff active")
	// ErrPriceImpact marca quotes con impacto de precio sobre el máximo.
	ErrPriceImpact = errors.New("engine: price impact above maximum")
	// ErrThresholdNotMet marca quotes cuyo precio realizado ya no cumple
	// el umbral ping-pong.
	ErrThresholdNotMet = errors.New("engine: realized price no longer meets threshold")
	// ErrDustAmount marca cantidades que truncadas quedan en cero.
	ErrDustAmount = errors.New("engine: amount truncates to zero")
)

const (
	quoteSpacing = 500 * time.Millisecond
	backoffCap   = 300 * time.Second
)

// Validator revalida trades con señal execute contra quotes frescas antes
// de dejarlas pasar a ejecución.
type Validator struct {
	log     *slog.Logger
	quotes  ports.QuoteProvider
	storage ports.Storage

	maxImpactPct float64
	kelly        domain.KellyParams

	limiter *rate.Limiter

	mu           sync.Mutex
	failures     int
	backoffUntil time.Time
}

// NewValidator crea el validador. maxImpactPct en puntos porcentuales.
func NewValidator(
	log *slog.Logger,
	quotes ports.QuoteProvider,
	storage ports.Storage,
	maxImpactPct float64,
	kelly domain.KellyParams,
) *Validator {
	return &Validator{
		log:          log.With("component", "validator"),
		quotes:       quotes,
		storage:      storage,
		maxImpactPct: maxImpactPct,
		kelly:        kelly,
		limiter:      rate.NewLimiter(rate.Every(quoteSpacing), 1),
	}
}

// Validate corre la validación completa de un trade: sizing, truncado,
// quote fresca, impacto de precio y re-chequeo de umbral.
func (v *Validator) Validate(ctx context.Context, trade domain.Trade) (domain.Validation, error) {
	amount, err := v.sizePosition(ctx, trade)
	if err != nil {
		return domain.Validation{}, err
	}

	held := trade.HeldToken()
	amount = domain.TruncateAmount(amount, held.Divisibility)
	if amount <= 0 {
		return domain.Validation{}, fmt.Errorf("engine.Validate: trade %s: %w", trade.ID, ErrDustAmount)
	}
	trade.Amount = amount

	quote, err := v.FetchQuote(ctx, ports.SwapRequest{
		InputToken:  held.Address,
		OutputToken: trade.CounterToken().Address,
		Amount:      domain.FormatAmount(amount, held.Divisibility),
		Owner:       trade.OwnerAddress,
	})
	if err != nil {
		return domain.Validation{}, fmt.Errorf("engine.Validate: trade %s: %w", trade.ID, err)
	}

	if err := v.CheckQuote(trade, quote); err != nil {
		return domain.Validation{}, fmt.Errorf("engine.Validate: trade %s: %w", trade.ID, err)
	}

	return domain.Validation{Trade: trade, Quote: quote}, nil
}

// ValidateBatch valida cada trade y devuelve sólo los que pasaron. Los
// fallos se loguean y no frenan al resto.
func (v *Validator) ValidateBatch(ctx context.Context, trades []domain.Trade) []domain.Validation {
	var out []domain.Validation
	for _, tr := range trades {
		val, err := v.Validate(ctx, tr)
		if err != nil {
			v.log.Warn("trade failed validation", "trade", tr.ID, "pair", tr.Pair.Symbol(), "err", err)
			continue
		}
		out = append(out, val)
	}
	return out
}

// FetchQuote pide una quote al agregador respetando el espaciado mínimo
// entre llamadas y el backoff exponencial. Mientras el backoff está activo
// la llamada se rechaza de entrada, sin gastar el request.
func (v *Validator) FetchQuote(ctx context.Context, req ports.SwapRequest) (domain.Quote, error) {
	v.mu.Lock()
	if until := v.backoffUntil; time.Now().Before(until) {
		v.mu.Unlock()
		return domain.Quote{}, fmt.Errorf("%w until %s", ErrBackoffActive, until.Format(time.TimeOnly))
	}
	v.mu.Unlock()

	if err := v.limiter.Wait(ctx); err != nil {
		return domain.Quote{}, fmt.Errorf("engine.FetchQuote: rate limit wait: %w", err)
	}

	quote, err := v.quotes.Swap(ctx, req)

	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		v.failures++
		delay := backoffDelay(v.failures)
		v.backoffUntil = time.Now().Add(delay)
		v.log.Warn("quote fetch failed, backing off",
			"failures", v.failures, "backoff", delay, "err", err)
		return domain.Quote{}, fmt.Errorf("engine.FetchQuote: %w", err)
	}
	if v.failures > 0 {
		v.log.Info("aggregator recovered", "after_failures", v.failures)
	}
	v.failures = 0
	v.backoffUntil = time.Time{}
	return quote, nil
}

// CheckQuote aplica las reglas que no necesitan red: impacto de precio y
// re-chequeo de umbral ping-pong con el precio realizado de la quote.
func (v *Validator) CheckQuote(trade domain.Trade, quote domain.Quote) error {
	if quote.PriceImpactPct > v.maxImpactPct {
		return fmt.Errorf("%w: %.2f%% > %.2f%%", ErrPriceImpact, quote.PriceImpactPct, v.maxImpactPct)
	}

	// el precio spot con el que se generó la señal puede haberse movido:
	// lo que importa es el precio al que de verdad saldría el swap
	if trade.Strategy == domain.StrategyPingPong && trade.Settings.PingPong != nil {
		realized := quote.RealizedPrice(trade.HoldingBase())
		if trade.Settings.PingPong.Decide(realized, trade.HoldingBase()) != domain.SignalExecute {
			return fmt.Errorf("%w: realized price %.6f", ErrThresholdNotMet, realized)
		}
	}
	return nil
}

// sizePosition aplica Kelly a la estrategia AI. El remanente queda
// apartado en ReservedAmount y vuelve al trade en el próximo ciclo.
func (v *Validator) sizePosition(ctx context.Context, trade domain.Trade) (float64, error) {
	if trade.Strategy != domain.StrategyAI {
		return trade.Amount, nil
	}

	outcomes, err := v.storage.RecentOutcomes(ctx, trade.ID, v.kelly.Lookback)
	if err != nil {
		return 0, fmt.Errorf("engine.sizePosition: trade %s outcomes: %w", trade.ID, err)
	}

	fraction := domain.KellyFraction(outcomes, v.kelly)
	sized := trade.Amount * fraction
	reserved := trade.Amount - sized

	if reserved > 0 {
		if err := v.storage.SetReservedAmount(ctx, trade.ID, trade.TradeToken, reserved); err != nil {
			return 0, fmt.Errorf("engine.sizePosition: trade %s reserve: %w", trade.ID, err)
		}
		v.log.Info("kelly sizing applied",
			"trade", trade.ID, "fraction", fraction, "sized", sized, "reserved", reserved)
	}
	return sized, nil
}

// backoffDelay devuelve min(2^failures, 300s).
func backoffDelay(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	secs := math.Pow(2, float64(failures))
	if secs > backoffCap.Seconds() {
		return backoffCap
	}
	return time.Duration(secs * float64(time.Second))
}
