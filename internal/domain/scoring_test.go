package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func risingPrices(n int) []float64 {
	prices := make([]float64, n)
	for i := range prices {
		prices[i] = 100 + float64(i)
	}
	return prices
}

func fallingPrices(n int) []float64 {
	prices := make([]float64, n)
	for i := range prices {
		prices[i] = 100 - float64(i)
	}
	return prices
}

func flatPrices(n int) []float64 {
	prices := make([]float64, n)
	for i := range prices {
		prices[i] = 100
	}
	return prices
}

// --- RSIScore ---

func TestRSIScore_AllGains(t *testing.T) {
	// subida monótona: RSI=100 → score -1 (sobrecomprado)
	score := RSIScore(risingPrices(30), RSIParams{})
	assert.Equal(t, -1.0, score)
}

func TestRSIScore_AllLosses(t *testing.T) {
	// caída monótona: RSI=0 → score +1 (sobrevendido)
	score := RSIScore(fallingPrices(30), RSIParams{})
	assert.Equal(t, 1.0, score)
}

func TestRSIScore_Flat(t *testing.T) {
	assert.Equal(t, 0.0, RSIScore(flatPrices(30), RSIParams{}))
}

func TestRSIScore_InsufficientData(t *testing.T) {
	assert.Equal(t, 0.0, RSIScore(risingPrices(10), RSIParams{}))
}

// --- MACDScore ---

func TestMACDScore_Bullish(t *testing.T) {
	// aceleración alcista al final: histograma positivo
	prices := flatPrices(40)
	for i := 30; i < 40; i++ {
		prices[i] = 100 + float64(i-29)*2
	}
	assert.Greater(t, MACDScore(prices, MACDParams{}), 0.0)
}

func TestMACDScore_FlatMarket(t *testing.T) {
	// sin rango de precios no hay nada que normalizar
	assert.Equal(t, 0.0, MACDScore(flatPrices(40), MACDParams{}))
}

func TestMACDScore_InsufficientData(t *testing.T) {
	assert.Equal(t, 0.0, MACDScore(risingPrices(10), MACDParams{}))
}

// --- MACrossScore ---

func TestMACrossScore_GoldenCross(t *testing.T) {
	// últimas 20 velas en 110 sobre fondo de 100:
	// shortMA=110, longMA=104 → diff 5.77% → satura a 1
	prices := flatPrices(60)
	for i := 40; i < 60; i++ {
		prices[i] = 110
	}
	assert.Equal(t, 1.0, MACrossScore(prices, MACrossParams{}))
}

func TestMACrossScore_SmallSeparation(t *testing.T) {
	// shortMA=101, longMA=100.4 → diff 0.5976% → score 0.2988
	prices := flatPrices(60)
	for i := 40; i < 60; i++ {
		prices[i] = 101
	}
	assert.InDelta(t, 0.2988, MACrossScore(prices, MACrossParams{}), 0.001)
}

func TestMACrossScore_Flat(t *testing.T) {
	assert.Equal(t, 0.0, MACrossScore(flatPrices(60), MACrossParams{}))
}

// --- BollingerScore ---

func alternatingPrices(n int) []float64 {
	// media 100, desviación estándar 10
	prices := make([]float64, n)
	for i := range prices {
		if i%2 == 0 {
			prices[i] = 90
		} else {
			prices[i] = 110
		}
	}
	return prices
}

func TestBollingerScore_AtLowerBand(t *testing.T) {
	// bandas en [80, 120] con std 10 y multiplicador 2
	assert.Equal(t, 1.0, BollingerScore(alternatingPrices(20), 80, BollingerParams{}))
}

func TestBollingerScore_AtUpperBand(t *testing.T) {
	assert.Equal(t, -1.0, BollingerScore(alternatingPrices(20), 120, BollingerParams{}))
}

func TestBollingerScore_Middle(t *testing.T) {
	assert.Equal(t, 0.0, BollingerScore(alternatingPrices(20), 100, BollingerParams{}))
}

func TestBollingerScore_PartialBuy(t *testing.T) {
	// a mitad de camino entre la media y la banda inferior
	assert.InDelta(t, 0.5, BollingerScore(alternatingPrices(20), 90, BollingerParams{}), 0.0001)
}

func TestBollingerScore_CollapsedBands(t *testing.T) {
	assert.Equal(t, 0.0, BollingerScore(flatPrices(20), 100, BollingerParams{}))
}

// --- ADX / MarketTrending ---

func TestADX_StrongTrend(t *testing.T) {
	adx, ok := ADX(risingPrices(60), 14)
	assert.True(t, ok)
	// subida monótona: todo el movimiento es direccional
	assert.Greater(t, adx, 90.0)
}

func TestADX_InsufficientData(t *testing.T) {
	_, ok := ADX(risingPrices(10), 14)
	assert.False(t, ok)
}

func TestADX_NoMovement(t *testing.T) {
	adx, ok := ADX(flatPrices(60), 14)
	assert.True(t, ok)
	assert.Equal(t, 0.0, adx)
}

func TestMarketTrending_FailsOpen(t *testing.T) {
	// sin datos suficientes el chequeo deja pasar
	assert.True(t, MarketTrending(risingPrices(5), 14, 25))
}

func TestMarketTrending_RangingMarket(t *testing.T) {
	assert.False(t, MarketTrending(flatPrices(60), 14, 25))
}

func TestMarketTrending_TrendingMarket(t *testing.T) {
	assert.True(t, MarketTrending(risingPrices(60), 14, 25))
}

// --- EMA ---

func TestEMA_ShortSeries(t *testing.T) {
	// menos datos que el período → media simple
	assert.InDelta(t, 2.0, EMA([]float64{1, 2, 3}, 10), 0.0001)
}

func TestEMA_ConvergesToPrice(t *testing.T) {
	prices := flatPrices(50)
	assert.InDelta(t, 100.0, EMA(prices, 12), 0.0001)
}

// --- ScoreConfidence ---

func TestScoreConfidence_FullAgreement(t *testing.T) {
	// todos a favor con fuerza 0.8 → 1.0 × 0.8
	c := ScoreConfidence([]float64{0.8, 0.8, 0.8, 0.8})
	assert.InDelta(t, 0.8, c, 0.0001)
}

func TestScoreConfidence_Split(t *testing.T) {
	// mitad y mitad: acuerdo 0.5, fuerza 0.8 → 0.4
	c := ScoreConfidence([]float64{0.8, -0.8, 0.8, -0.8})
	assert.InDelta(t, 0.4, c, 0.0001)
}

func TestScoreConfidence_Empty(t *testing.T) {
	assert.Equal(t, 0.0, ScoreConfidence(nil))
}
