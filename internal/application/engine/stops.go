package engine

import "github.com/alejandrodnm/flipbot/internal/domain"

// StopDecision es el resultado del chequeo de stops de un trade.
type StopDecision struct {
	Signal    domain.Signal
	ProfitPct float64
	NewPeak   float64 // peak actualizado, persistir si creció
	Reason    string  // "stop_loss" | "trailing_stop" | ""
}

// EvaluateStops calcula stop-loss y trailing-stop para un trade que
// sostiene el token de riesgo. entryPrice es el precio quote-por-base del
// último flip; sin historial (entryPrice 0) no hay referencia y no se
// dispara nada.
//
// El profit se mide en términos del token de acumulación: sosteniendo base
// se gana cuando el precio sube, sosteniendo quote cuando baja. El peak
// sólo crece; el trailing dispara cuando el profit retrocede el porcentaje
// configurado desde el peak.
func EvaluateStops(trade domain.Trade, entryPrice, currentPrice float64) StopDecision {
	decision := StopDecision{Signal: domain.SignalHold, NewPeak: trade.PeakProfit}

	stopLoss, trailing := trade.Settings.Stops()
	if stopLoss <= 0 && trailing <= 0 {
		return decision
	}
	if !trade.HoldsRiskToken() || entryPrice <= 0 || currentPrice <= 0 {
		return decision
	}

	var profitPct float64
	if trade.HoldingBase() {
		profitPct = (currentPrice - entryPrice) / entryPrice * 100
	} else {
		profitPct = (entryPrice - currentPrice) / entryPrice * 100
	}
	decision.ProfitPct = profitPct

	if profitPct > decision.NewPeak {
		decision.NewPeak = profitPct
	}

	if stopLoss > 0 && profitPct <= -stopLoss {
		decision.Signal = domain.SignalExecute
		decision.Reason = "stop_loss"
		return decision
	}

	if trailing > 0 && decision.NewPeak > 0 && decision.NewPeak-profitPct >= trailing {
		decision.Signal = domain.SignalExecute
		decision.Reason = "trailing_stop"
	}
	return decision
}
