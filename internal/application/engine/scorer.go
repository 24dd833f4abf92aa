package engine

import (
	"math"

	"github.com/alejandrodnm/flipbot/internal/domain"
	"github.com/alejandrodnm/flipbot/internal/ports"
)

// minScoringCandles es el historial mínimo para que el score compuesto sea
// confiable; con menos velas el scorer se abstiene.
const minScoringCandles = 100

// regimeWeights pondera cada indicador según el régimen detectado: en
// tendencia pesan los de momentum (MACD, cruce de medias), en rango los de
// reversión (RSI, Bollinger).
var regimeWeights = map[string]map[string]float64{
	domain.RegimeTrendingUp:     {"rsi": 0.8, "macd": 1.5, "bb": 0.7, "ma_cross": 1.4},
	domain.RegimeTrendingDown:   {"rsi": 0.8, "macd": 1.5, "bb": 0.7, "ma_cross": 1.4},
	domain.RegimeRanging:        {"rsi": 1.4, "macd": 0.7, "bb": 1.5, "ma_cross": 0.6},
	domain.RegimeHighVolatility: {"rsi": 1.0, "macd": 1.0, "bb": 1.2, "ma_cross": 0.8},
	domain.RegimeUnknown:        {"rsi": 1.0, "macd": 1.0, "bb": 1.0, "ma_cross": 1.0},
}

// RegimeScorer es el CompositeScorer por defecto: combina los scores de los
// indicadores con pesos ajustados al régimen de mercado, y mide la confianza
// por el acuerdo entre indicadores (menos dispersión, más confianza).
type RegimeScorer struct {
	manual domain.ManualSettings // parámetros de los indicadores; vacío usa defaults
}

// NewRegimeScorer arma el scorer con los parámetros de indicadores dados.
func NewRegimeScorer(manual domain.ManualSettings) *RegimeScorer {
	return &RegimeScorer{manual: manual}
}

// Score implementa ports.CompositeScorer.
func (s *RegimeScorer) Score(candles []ports.Candle) (float64, float64, string) {
	if len(candles) < minScoringCandles {
		return 0, 0, domain.RegimeUnknown
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	current := closes[len(closes)-1]

	regime := domain.DetectRegime(closes)
	weights := regimeWeights[regime]

	scores := map[string]float64{
		"rsi":      domain.RSIScore(closes, s.rsiParams()),
		"macd":     domain.MACDScore(closes, s.macdParams()),
		"bb":       domain.BollingerScore(closes, current, s.bollingerParams()),
		"ma_cross": domain.MACrossScore(closes, s.maCrossParams()),
	}

	var weighted, totalWeight float64
	for name, w := range weights {
		weighted += scores[name] * w
		totalWeight += w
	}
	composite := 0.0
	if totalWeight > 0 {
		composite = weighted / totalWeight
	}

	return composite, agreementConfidence(scores), regime
}

// agreementConfidence: 1 menos el desvío estándar de los scores (acotado);
// indicadores que apuntan al mismo lado dan confianza alta.
func agreementConfidence(scores map[string]float64) float64 {
	if len(scores) < 2 {
		return 0
	}
	var sum float64
	for _, v := range scores {
		sum += v
	}
	m := sum / float64(len(scores))

	var variance float64
	for _, v := range scores {
		variance += (v - m) * (v - m)
	}
	std := math.Sqrt(variance / float64(len(scores)))

	return 1 - math.Min(std/2, 1)
}

func (s *RegimeScorer) rsiParams() domain.RSIParams {
	if s.manual.RSI != nil {
		return *s.manual.RSI
	}
	return domain.RSIParams{}
}

func (s *RegimeScorer) macdParams() domain.MACDParams {
	if s.manual.MACD != nil {
		return *s.manual.MACD
	}
	return domain.MACDParams{}
}

func (s *RegimeScorer) maCrossParams() domain.MACrossParams {
	if s.manual.MACross != nil {
		return *s.manual.MACross
	}
	return domain.MACrossParams{}
}

func (s *RegimeScorer) bollingerParams() domain.BollingerParams {
	if s.manual.Bollinger != nil {
		return *s.manual.Bollinger
	}
	return domain.BollingerParams{}
}
