package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/flipbot/internal/domain"
	"github.com/alejandrodnm/flipbot/internal/ports"
)

var (
	// ErrSignalGone marca trades cuya señal persistida ya no es execute al
	// momento de ejecutar: otro ciclo se adelantó.
	ErrSignalGone = errors.New("engine: persisted signal is no longer execute")
	// ErrFeeIntegrity marca manifests sin el componente de fee esperado.
	ErrFeeIntegrity = errors.New("engine: manifest missing fee component")
	// ErrInsufficientFees indica que la wallet no puede cubrir el fee de
	// red; todos los trades del owner quedan pausados.
	ErrInsufficientFees = errors.New("engine: insufficient native balance for fees")
)

// executeBatch ejecuta las validaciones en orden. Si una ejecución anterior
// del batch tocó el mismo par, el precio se movió: ese trade se revalida
// entero (señal y quote fresca) antes de intentar.
func (m *Monitor) executeBatch(ctx context.Context, validations []domain.Validation, res *ports.CycleResult) {
	touched := make(map[string]bool)

	for _, val := range validations {
		pair := val.Trade.Pair.Base.Address + "/" + val.Trade.Pair.Quote.Address

		if touched[pair] {
			fresh, ok := m.revalidate(ctx, val.Trade)
			if !ok {
				m.log.Info("trade skipped after same-pair execution", "trade", val.Trade.ID)
				continue
			}
			val = fresh
		}

		rec, err := m.executeOne(ctx, val)
		if err != nil {
			if errors.Is(err, ErrInsufficientFees) {
				res.PausedAll = true
				res.Errors = append(res.Errors, err.Error())
				m.log.Error("fee funds exhausted, cycle aborted", "err", err)
				return
			}
			if errors.Is(err, ErrSignalGone) {
				m.log.Info("trade already taken by another cycle", "trade", val.Trade.ID)
				continue
			}
			res.Failed++
			res.Errors = append(res.Errors, err.Error())
			m.log.Error("trade execution failed", "trade", val.Trade.ID, "err", err)
			continue
		}

		touched[pair] = true
		res.Executed = append(res.Executed, rec)
	}
}

// revalidate rehace señal y validación para un trade cuyo par ya fue
// tocado en este ciclo.
func (m *Monitor) revalidate(ctx context.Context, tr domain.Trade) (domain.Validation, bool) {
	price, err := m.prices.PairPrice(ctx, tr.Pair.Base.Address, tr.Pair.Quote.Address)
	if err != nil {
		m.log.Warn("revalidation price fetch failed", "trade", tr.ID, "err", err)
		return domain.Validation{}, false
	}

	signal, err := m.signals.Generate(ctx, SignalInput{Trade: tr, Price: price, Stop: domain.SignalHold})
	if err != nil || signal != domain.SignalExecute {
		if err != nil {
			m.log.Warn("revalidation signal failed", "trade", tr.ID, "err", err)
		}
		return domain.Validation{}, false
	}

	val, err := m.validator.Validate(ctx, tr)
	if err != nil {
		m.log.Warn("revalidation failed", "trade", tr.ID, "err", err)
		return domain.Validation{}, false
	}
	return val, true
}

// executeOne lleva una validación hasta el ledger. El orden importa:
// snapshot, señal a hold (guard contra dobles ejecuciones), chequeos de
// fee, submit, y rollback si el ledger no la comitea.
func (m *Monitor) executeOne(ctx context.Context, val domain.Validation) (domain.FlipRecord, error) {
	tr := val.Trade
	quote := val.Quote

	// releer el estado persistido: otro ciclo pudo habérselo llevado
	// durante la ventana de validación
	stored, err := m.storage.GetTrade(ctx, tr.ID)
	if err != nil {
		return domain.FlipRecord{}, fmt.Errorf("engine.executeOne: reload trade %s: %w", tr.ID, err)
	}
	if stored.CurrentSignal != domain.SignalExecute {
		return domain.FlipRecord{}, fmt.Errorf("%w: trade %s", ErrSignalGone, tr.ID)
	}

	if !tr.Compounding {
		tr, quote = m.capNonCompounding(ctx, tr, quote)
	}

	snapshot := stored.Snapshot()

	// la señal baja a hold ANTES de enviar: la verificación en el ledger
	// tarda varios segundos y otro ciclo no debe volver a tomar el trade
	if err := m.storage.UpdateSignal(ctx, tr.ID, domain.SignalHold, time.Now()); err != nil {
		return domain.FlipRecord{}, fmt.Errorf("engine.executeOne: pre-submit hold %s: %w", tr.ID, err)
	}

	rollback := func() {
		if err := m.storage.Rollback(ctx, tr.ID, snapshot); err != nil {
			m.log.Error("rollback failed", "trade", tr.ID, "err", err)
		}
	}

	if err := m.checkFeeIntegrity(quote.Manifest); err != nil {
		rollback()
		return domain.FlipRecord{}, fmt.Errorf("engine.executeOne: trade %s: %w", tr.ID, err)
	}

	feeLock, err := m.resolveFeeLock(ctx, quote.Manifest)
	if err != nil {
		if errors.Is(err, ErrInsufficientFees) {
			m.pauseAll(ctx)
			rollback()
			return domain.FlipRecord{}, err
		}
		rollback()
		return domain.FlipRecord{}, fmt.Errorf("engine.executeOne: trade %s: %w", tr.ID, err)
	}

	manifest := m.prependFeeLock(quote.Manifest, feeLock)

	intentHash, err := m.ledger.SubmitManifest(ctx, manifest)
	if err != nil {
		rollback()
		return domain.FlipRecord{}, fmt.Errorf("engine.executeOne: submit %s: %w", tr.ID, err)
	}
	m.log.Info("transaction submitted", "trade", tr.ID, "intent", intentHash, "fee_lock", feeLock)

	status, err := m.ledger.WaitForCommit(ctx, intentHash)
	if err != nil {
		rollback()
		return domain.FlipRecord{}, fmt.Errorf("engine.executeOne: wait commit %s: %w", tr.ID, err)
	}
	if status != ports.IntentCommittedSuccess {
		rollback()
		return domain.FlipRecord{}, fmt.Errorf("engine.executeOne: trade %s not committed: status %s, intent %s", tr.ID, status, intentHash)
	}

	return m.settle(ctx, tr, quote, intentHash)
}

// capNonCompounding recorta el input cuando la salida volvería al token de
// inicio con más de lo que arrancó: el profit queda en la wallet, no en el
// trade. Requiere una sola re-cotización; si falla se sigue con la quote
// original y el tope se aplica igual al persistir.
func (m *Monitor) capNonCompounding(ctx context.Context, tr domain.Trade, quote domain.Quote) (domain.Trade, domain.Quote) {
	if tr.CounterToken().Address != tr.StartToken || tr.AccumulationToken != tr.StartToken {
		return tr, quote
	}
	if quote.OutputTokens <= tr.StartAmount || quote.OutputTokens <= 0 {
		return tr, quote
	}

	held := tr.HeldToken()
	shrunk := domain.TruncateAmount(tr.Amount*tr.StartAmount/quote.OutputTokens, held.Divisibility)
	if shrunk <= 0 {
		return tr, quote
	}

	requote, err := m.validator.FetchQuote(ctx, ports.SwapRequest{
		InputToken:  held.Address,
		OutputToken: tr.CounterToken().Address,
		Amount:      domain.FormatAmount(shrunk, held.Divisibility),
		Owner:       tr.OwnerAddress,
	})
	if err != nil {
		m.log.Warn("non-compounding requote failed, using original", "trade", tr.ID, "err", err)
		return tr, quote
	}
	if err := m.validator.CheckQuote(tr, requote); err != nil {
		m.log.Warn("non-compounding requote invalid, using original", "trade", tr.ID, "err", err)
		return tr, quote
	}

	m.log.Info("non-compounding input capped",
		"trade", tr.ID, "from", tr.Amount, "to", shrunk, "start_amount", tr.StartAmount)
	tr.Amount = shrunk
	return tr, requote
}

// checkFeeIntegrity verifica que el manifest del agregador deposite en
// nuestro componente de fee antes de firmarlo. Fatal por trade.
func (m *Monitor) checkFeeIntegrity(manifest string) error {
	component := m.cfg.Fees.Component
	if component == "" {
		return nil
	}
	pos := strings.Index(manifest, component)
	if pos < 0 {
		return ErrFeeIntegrity
	}

	// el componente tiene que aparecer en una instrucción de depósito
	start := pos - 200
	if start < 0 {
		start = 0
	}
	end := pos + 200
	if end > len(manifest) {
		end = len(manifest)
	}
	window := strings.ToLower(manifest[start:end])
	for _, op := range []string{"deposit", "try_deposit", "call_method"} {
		if strings.Contains(window, op) {
			return nil
		}
	}
	return fmt.Errorf("%w: component present but no deposit instruction", ErrFeeIntegrity)
}

// resolveFeeLock decide cuánto nativo lockear: preview con multiplicador de
// seguridad, o el lock estático si el preview falla. Si la wallet no llega
// a cubrirlo devuelve ErrInsufficientFees.
func (m *Monitor) resolveFeeLock(ctx context.Context, manifest string) (float64, error) {
	available, err := m.availableNative(ctx)
	if err != nil {
		return 0, err
	}

	fee, err := m.ledger.PreviewFee(ctx, manifest)
	if err != nil {
		m.log.Warn("fee preview failed, using static lock", "err", err)
		fee = m.cfg.Fees.StaticLock
	} else {
		fee *= m.cfg.Fees.PreviewFactor
	}

	if fee > available {
		return 0, fmt.Errorf("%w: need %.4f, available %.4f", ErrInsufficientFees, fee, available)
	}
	return fee, nil
}

// availableNative devuelve el nativo de la wallet que no está comprometido
// en trades ni en el buffer mínimo.
func (m *Monitor) availableNative(ctx context.Context) (float64, error) {
	owner := m.cfg.Monitor.OwnerAddress

	balance, err := m.prices.NativeBalance(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("native balance: %w", err)
	}
	locked, err := m.storage.LockedNative(ctx, owner, m.cfg.Fees.NativeToken)
	if err != nil {
		return 0, fmt.Errorf("locked native: %w", err)
	}
	return balance - locked - m.cfg.Fees.NativeBuffer, nil
}

func (m *Monitor) prependFeeLock(manifest string, amount float64) string {
	return fmt.Sprintf(
		"CALL_METHOD\n\tAddress(%q)\n\t\"lock_fee\"\n\tDecimal(\"%.4f\")\n;\n%s",
		m.cfg.Monitor.OwnerAddress, amount, manifest,
	)
}

func (m *Monitor) pauseAll(ctx context.Context) {
	n, err := m.storage.PauseAll(ctx, m.cfg.Monitor.OwnerAddress)
	if err != nil {
		m.log.Error("pause all failed", "err", err)
		return
	}
	m.log.Error("all trades paused: wallet cannot cover network fees", "paused", n)
}

// settle persiste el flip comiteado: token y cantidad nuevos, historial y,
// si el trade volvió al token de acumulación, el outcome para Kelly.
func (m *Monitor) settle(ctx context.Context, tr domain.Trade, quote domain.Quote, intentHash string) (domain.FlipRecord, error) {
	now := time.Now()
	newToken := tr.CounterToken()

	// la entrada del round trip es el flip anterior; leerlo antes de
	// registrar el nuevo
	entry, hasEntry, err := m.storage.LastFlip(ctx, tr.ID)
	if err != nil {
		m.log.Warn("entry flip lookup failed", "trade", tr.ID, "err", err)
		hasEntry = false
	}

	if err := m.storage.UpdateAfterExecution(ctx, tr.ID, newToken.Address, quote.OutputTokens, now); err != nil {
		return domain.FlipRecord{}, fmt.Errorf("engine.settle: update trade %s: %w", tr.ID, err)
	}

	rec := domain.FlipRecord{
		ID:         uuid.NewString(),
		TradeID:    tr.ID,
		Owner:      tr.OwnerAddress,
		PairSymbol: tr.Pair.Symbol(),
		Side:       tr.Side(),
		TokenIn:    tr.TradeToken,
		TokenOut:   newToken.Address,
		AmountIn:   tr.Amount,
		AmountOut:  quote.OutputTokens,
		Price:      quote.RealizedPrice(tr.HoldingBase()),
		IntentHash: intentHash,
		Strategy:   tr.Strategy,
		ExecutedAt: now,
	}
	if err := m.storage.RecordFlip(ctx, rec); err != nil {
		return domain.FlipRecord{}, fmt.Errorf("engine.settle: record flip %s: %w", tr.ID, err)
	}

	// un trade que salió del token de riesgo cerró un round trip: ese es
	// el resultado que alimenta el sizing de Kelly
	if tr.HoldsRiskToken() && hasEntry && entry.Price > 0 {
		profitPct := profitAgainstEntry(tr, entry.Price, rec.Price)
		out := domain.Outcome{
			TradeID:   tr.ID,
			ProfitPct: profitPct,
			Win:       profitPct > 0,
			ClosedAt:  now,
		}
		if err := m.storage.RecordOutcome(ctx, out); err != nil {
			m.log.Warn("outcome record failed", "trade", tr.ID, "err", err)
		}
	}

	m.log.Info("trade flipped",
		"trade", tr.ID, "pair", rec.PairSymbol, "side", rec.Side,
		"amount_in", rec.AmountIn, "amount_out", rec.AmountOut,
		"price", rec.Price, "intent", intentHash)
	return rec, nil
}

// profitAgainstEntry mide el profit % del round trip en términos del token
// de acumulación, igual que los stops.
func profitAgainstEntry(tr domain.Trade, entryPrice, exitPrice float64) float64 {
	if entryPrice <= 0 {
		return 0
	}
	if tr.HoldingBase() {
		return (exitPrice - entryPrice) / entryPrice * 100
	}
	return (entryPrice - exitPrice) / entryPrice * 100
}
