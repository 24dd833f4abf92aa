package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectRegime_ShortSeries(t *testing.T) {
	assert.Equal(t, RegimeUnknown, DetectRegime(make([]float64, RegimeLookback-1)))
}

func TestDetectRegime_TrendingUp(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	assert.Equal(t, RegimeTrendingUp, DetectRegime(closes))
}

func TestDetectRegime_TrendingDown(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 200 - float64(i)
	}
	assert.Equal(t, RegimeTrendingDown, DetectRegime(closes))
}

func TestDetectRegime_Ranging(t *testing.T) {
	// oscilación angosta alrededor de 100: cruza el medio en cada vela
	closes := make([]float64, 60)
	for i := range closes {
		if i%2 == 0 {
			closes[i] = 100
		} else {
			closes[i] = 101
		}
	}
	assert.Equal(t, RegimeRanging, DetectRegime(closes))
}

func TestDetectRegime_HighVolatility(t *testing.T) {
	// swings del 40% por vela
	closes := make([]float64, 60)
	for i := range closes {
		if i%2 == 0 {
			closes[i] = 100
		} else {
			closes[i] = 60
		}
	}
	assert.Equal(t, RegimeHighVolatility, DetectRegime(closes))
}

func TestTrendStrength_FlatIsZero(t *testing.T) {
	closes := make([]float64, 50)
	for i := range closes {
		closes[i] = 100
	}
	assert.InDelta(t, 0, trendStrength(closes), 0.0001)
}

func TestRangeTightness_WideRange(t *testing.T) {
	// un solo viaje de 100 a 200: pocos cruces, rango enorme
	closes := make([]float64, 50)
	for i := range closes {
		closes[i] = 100 + float64(i)*2
	}
	assert.Less(t, rangeTightness(closes), 0.3)
}
