package domain

import "math"

// KellyParams acota la fracción de posición del criterio de Kelly.
type KellyParams struct {
	Fractional float64 // multiplicador conservador sobre el Kelly pleno
	Min        float64 // fracción mínima del balance
	Max        float64 // fracción máxima del balance
	MinTrades  int     // historial mínimo antes de aplicar sizing
	Lookback   int     // cuántos resultados recientes considerar
}

// KellyFraction devuelve la fracción del balance a arriesgar según el
// criterio de Kelly fraccional: K = (W·R − L) / R, con W la tasa de
// aciertos, L = 1−W y R el ratio ganancia/pérdida promedio.
//
// Los outcomes vienen ordenados del más reciente al más antiguo. Con menos
// historial que MinTrades no hay evidencia para reducir la posición y se
// devuelve Max. Un historial sin pérdidas devuelve 0.8·Max y uno sin
// ganancias devuelve Min.
func KellyFraction(outcomes []Outcome, p KellyParams) float64 {
	if p.Lookback > 0 && len(outcomes) > p.Lookback {
		outcomes = outcomes[:p.Lookback]
	}
	if len(outcomes) < p.MinTrades {
		return p.Max
	}

	var wins, losses int
	var winSum, lossSum float64
	for _, o := range outcomes {
		if o.Win {
			wins++
			winSum += math.Abs(o.ProfitPct)
		} else {
			losses++
			lossSum += math.Abs(o.ProfitPct)
		}
	}

	if losses == 0 || lossSum == 0 {
		return 0.8 * p.Max
	}
	if wins == 0 {
		return p.Min
	}

	winRate := float64(wins) / float64(len(outcomes))
	lossRate := 1 - winRate
	ratio := (winSum / float64(wins)) / (lossSum / float64(losses))

	kelly := (winRate*ratio - lossRate) / ratio * p.Fractional

	return math.Max(p.Min, math.Min(p.Max, kelly))
}
