package domain

import "math"

// Regímenes de mercado que ajustan los pesos del score compuesto.
const (
	RegimeTrendingUp     = "trending_up"
	RegimeTrendingDown   = "trending_down"
	RegimeRanging        = "ranging"
	RegimeHighVolatility = "high_volatility"
	RegimeUnknown        = "unknown"
)

// RegimeLookback es la cantidad de cierres que mira la detección de régimen.
const RegimeLookback = 50

// DetectRegime clasifica el mercado según los últimos cierres. La prioridad
// es volatilidad > tendencia > rango; con señales mixtas una tendencia débil
// alcanza para clasificar como trending.
func DetectRegime(closes []float64) string {
	if len(closes) < RegimeLookback {
		return RegimeUnknown
	}
	recent := closes[len(closes)-RegimeLookback:]

	trend := trendStrength(recent)
	vol := normalizedVolatility(recent)
	tightness := rangeTightness(recent)

	switch {
	case vol > 0.7:
		return RegimeHighVolatility
	case math.Abs(trend) > 0.6:
		return trendingRegime(trend)
	case tightness > 0.6:
		return RegimeRanging
	case math.Abs(trend) > 0.3:
		return trendingRegime(trend)
	default:
		return RegimeRanging
	}
}

func trendingRegime(trend float64) string {
	if trend > 0 {
		return RegimeTrendingUp
	}
	return RegimeTrendingDown
}

// trendStrength ajusta una regresión lineal sobre la serie y devuelve la
// pendiente porcentual saturada con tanh, escalada por el R² del ajuste.
func trendStrength(closes []float64) float64 {
	n := len(closes)
	if n < 10 {
		return 0
	}

	var xMean float64
	for i := range closes {
		xMean += float64(i)
	}
	xMean /= float64(n)
	yMean := mean(closes)

	var num, den float64
	for i, y := range closes {
		dx := float64(i) - xMean
		num += dx * (y - yMean)
		den += dx * dx
	}
	if den == 0 || yMean == 0 {
		return 0
	}
	slope := num / den

	var ssRes, ssTot float64
	for i, y := range closes {
		pred := slope*float64(i) + (yMean - slope*xMean)
		ssRes += (y - pred) * (y - pred)
		ssTot += (y - yMean) * (y - yMean)
	}
	rSquared := 0.0
	if ssTot != 0 {
		rSquared = 1 - ssRes/ssTot
	}

	slopePct := slope / yMean * 100
	return clampScore(math.Tanh(slopePct) * rSquared)
}

// normalizedVolatility es el desvío estándar de los retornos, normalizado
// contra el 10% típico de cripto y acotado a [0, 1].
func normalizedVolatility(closes []float64) float64 {
	var returns []float64
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
	}
	if len(returns) < 2 {
		return 0
	}

	m := mean(returns)
	var variance float64
	for _, r := range returns {
		variance += (r - m) * (r - m)
	}
	std := math.Sqrt(variance / float64(len(returns)))

	return math.Min(std/0.10, 1)
}

// rangeTightness combina cuántas veces el precio cruza el medio del rango
// (60%) con qué tan angosto es el rango relativo a la media (40%).
func rangeTightness(closes []float64) float64 {
	if len(closes) < 10 {
		return 0
	}

	high := maxOf(closes)
	low := minOf(closes)
	m := mean(closes)
	if m == 0 {
		return 0
	}

	middle := (high + low) / 2
	crosses := 0
	for i := 1; i < len(closes); i++ {
		if (closes[i] > middle) != (closes[i-1] > middle) {
			crosses++
		}
	}
	crossScore := math.Min(float64(crosses)/float64(len(closes)), 1)

	rangePct := (high - low) / m * 100
	rangeScore := 1 - math.Min(rangePct/15, 1)

	tightness := crossScore*0.6 + rangeScore*0.4
	return math.Max(0, math.Min(tightness, 1))
}
