package ports

import (
	"context"

	"github.com/alejandrodnm/flipbot/internal/domain"
)

// Candle es una vela OHLC del historial de precios.
type Candle struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// PriceProvider obtiene precios spot e históricos de pares.
type PriceProvider interface {
	// PairPrice devuelve el precio spot quote-por-base del par.
	PairPrice(ctx context.Context, base, quote string) (float64, error)

	// History devuelve los últimos n cierres, el más reciente al final.
	History(ctx context.Context, base, quote string, n int) ([]float64, error)

	// Candles devuelve las últimas n velas para el scorer compuesto.
	Candles(ctx context.Context, base, quote string, n int) ([]Candle, error)

	// NativeBalance devuelve el balance del token nativo de la wallet,
	// para el chequeo de cobertura de fees.
	NativeBalance(ctx context.Context, owner string) (float64, error)
}

// CompositeScorer combina indicadores en un score direccional. Lo usa la
// estrategia AI; implementaciones alternativas pueden envolver un modelo.
type CompositeScorer interface {
	// Score devuelve (score, confidence, regime) para las velas dadas.
	// score ∈ [-1, 1] (positivo = comprar), confidence ∈ [0, 1].
	Score(candles []Candle) (score, confidence float64, regime string)
}

// LearningRecorder registra entradas de la estrategia AI para ajustar el
// modelo después. Sólo escritura; los errores se loguean y se ignoran.
type LearningRecorder interface {
	RecordEntry(ctx context.Context, tradeID string, score, confidence float64, signal domain.Signal) error
}
