package domain

import "math"

// Scores de indicadores técnicos. Todas las funciones son puras: reciben la
// serie de precios (el más reciente al final) y devuelven un score en
// [-1, 1] donde positivo = comprar y negativo = vender. Datos insuficientes
// devuelven 0 (neutro), nunca error.

// EMA calcula la media móvil exponencial del período sobre la serie.
// Con menos datos que el período devuelve la media simple disponible.
func EMA(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if len(prices) < period {
		return mean(prices)
	}
	multiplier := 2.0 / float64(period+1)
	ema := mean(prices[:period])
	for _, p := range prices[period:] {
		ema = p*multiplier + ema*(1-multiplier)
	}
	return ema
}

// RSIScore calcula el RSI y lo mapea a score. RSI bajo el umbral de compra
// puntúa positivo, sobre el de venta negativo, y la zona intermedia escala
// linealmente hasta ±0.5.
func RSIScore(prices []float64, params RSIParams) float64 {
	p := params.withDefaults()
	if len(prices) < p.Period+1 {
		return 0
	}

	var gains, losses []float64
	for i := 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		gains = append(gains, math.Max(change, 0))
		losses = append(losses, math.Abs(math.Min(change, 0)))
	}

	avgGain := mean(gains[len(gains)-p.Period:])
	avgLoss := mean(losses[len(losses)-p.Period:])

	var rsi float64
	if avgLoss == 0 {
		if avgGain > 0 {
			rsi = 100
		} else {
			rsi = 50
		}
	} else {
		rs := avgGain / avgLoss
		rsi = 100 - 100/(1+rs)
	}

	switch {
	case rsi <= p.BuyThreshold:
		return math.Min((p.BuyThreshold-rsi)/p.BuyThreshold, 1)
	case rsi >= p.SellThreshold:
		return math.Max(-(rsi-p.SellThreshold)/(100-p.SellThreshold), -1)
	case rsi < 50:
		return (rsi - p.BuyThreshold) / (50 - p.BuyThreshold) * 0.5
	default:
		return -(rsi - 50) / (p.SellThreshold - 50) * 0.5
	}
}

// MACDScore calcula el histograma MACD (línea MACD menos su señal,
// aproximada con la media de los MACD recientes) normalizado por el rango
// de precios de las últimas 20 velas.
func MACDScore(prices []float64, params MACDParams) float64 {
	p := params.withDefaults()
	n := len(prices)
	if n < p.SlowPeriod {
		return 0
	}

	macdLine := EMA(prices, p.FastPeriod) - EMA(prices, p.SlowPeriod)

	recentLen := p.SignalPeriod
	if recentLen > n {
		recentLen = n
	}
	recentMACD := make([]float64, 0, recentLen)
	for i := n - recentLen; i < n; i++ {
		recentMACD = append(recentMACD, EMA(prices[:i+1], p.FastPeriod)-EMA(prices[:i+1], p.SlowPeriod))
	}
	signalLine := mean(recentMACD)

	histogram := macdLine - signalLine

	tail := prices
	if n > 20 {
		tail = prices[n-20:]
	}
	priceRange := maxOf(tail) - minOf(tail)
	if priceRange <= 0 {
		return 0
	}
	return clampScore(histogram / priceRange * 10)
}

// MACrossScore compara la media corta contra la larga; ±2% de separación
// satura el score.
func MACrossScore(prices []float64, params MACrossParams) float64 {
	p := params.withDefaults()
	if len(prices) < p.LongPeriod {
		return 0
	}
	shortMA := mean(prices[len(prices)-p.ShortPeriod:])
	longMA := mean(prices[len(prices)-p.LongPeriod:])
	if longMA == 0 {
		return 0
	}
	diffPct := (shortMA - longMA) / longMA * 100
	return clampScore(diffPct / 2)
}

// BollingerScore puntúa la posición del precio actual dentro de las bandas:
// en o bajo la banda inferior +1, en o sobre la superior -1, lineal entre
// la media y cada banda.
func BollingerScore(prices []float64, current float64, params BollingerParams) float64 {
	p := params.withDefaults()
	if len(prices) < p.Period {
		return 0
	}
	recent := prices[len(prices)-p.Period:]

	middle := mean(recent)
	var variance float64
	for _, v := range recent {
		variance += (v - middle) * (v - middle)
	}
	std := math.Sqrt(variance / float64(p.Period))
	if std == 0 {
		return 0
	}

	upper := middle + std*p.StdDev
	lower := middle - std*p.StdDev

	switch {
	case current <= lower:
		return 1
	case current >= upper:
		return -1
	case current < middle:
		return (middle - current) / (middle - lower)
	default:
		return -(current - middle) / (upper - middle)
	}
}

// ADX calcula el Average Directional Index aproximado sobre precios de
// cierre. ok=false significa que no hay datos suficientes para calcularlo.
func ADX(prices []float64, period int) (adx float64, ok bool) {
	if period <= 0 {
		period = 14
	}
	if len(prices) < period*2 {
		return 0, false
	}

	n := len(prices) - 1
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	trueRange := make([]float64, n)
	for i := 1; i < len(prices); i++ {
		up := prices[i] - prices[i-1]
		down := prices[i-1] - prices[i]
		switch {
		case up > down && up > 0:
			plusDM[i-1] = up
		case down > up && down > 0:
			minusDM[i-1] = down
		}
		trueRange[i-1] = math.Abs(up)
	}

	atr := mean(trueRange[n-period:])
	if atr == 0 {
		// sin movimiento no hay tendencia
		return 0, true
	}

	// DX por ventana deslizante, luego suavizado de Wilder
	var dxValues []float64
	for i := period; i <= n; i++ {
		windowTR := mean(trueRange[i-period : i])
		if windowTR == 0 {
			continue
		}
		plusDI := mean(plusDM[i-period:i]) / windowTR * 100
		minusDI := mean(minusDM[i-period:i]) / windowTR * 100
		diSum := plusDI + minusDI
		if diSum > 0 {
			dxValues = append(dxValues, math.Abs(plusDI-minusDI)/diSum*100)
		}
	}
	if len(dxValues) < period {
		return 0, false
	}

	adx = mean(dxValues[:period])
	for _, dx := range dxValues[period:] {
		adx = (adx*float64(period-1) + dx) / float64(period)
	}
	return adx, true
}

// MarketTrending devuelve true si el ADX alcanza el umbral. Si el ADX no se
// puede calcular el chequeo falla abierto y deja pasar el trade.
func MarketTrending(prices []float64, period int, threshold float64) bool {
	adx, ok := ADX(prices, period)
	if !ok {
		return true
	}
	return adx >= threshold
}

// ScoreConfidence mide cuánto acuerdan los indicadores entre sí: ratio de
// acuerdo direccional ponderado por la fuerza media de los scores.
func ScoreConfidence(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var positive, negative int
	var strength float64
	for _, s := range scores {
		if s > 0.1 {
			positive++
		} else if s < -0.1 {
			negative++
		}
		strength += math.Abs(s)
	}
	agreement := float64(max(positive, negative)) / float64(len(scores))
	confidence := agreement * strength / float64(len(scores))
	return math.Min(confidence, 1)
}

func clampScore(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func minOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
