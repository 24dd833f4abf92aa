package astro

import (
	"sync"
	"time"

	"github.com/alejandrodnm/flipbot/internal/ports"
)

const (
	// candleInterval agrupa las observaciones en velas de 10 minutos, la
	// misma frecuencia con la que el agregador actualiza sus precios.
	candleInterval = 10 * time.Minute

	maxCandles = 1000
)

// candleSeries acumula precios observados en velas OHLC por intervalo. El
// historial arranca vacío y se llena ciclo a ciclo; los indicadores toleran
// series cortas devolviendo neutro.
type candleSeries struct {
	mu      sync.Mutex
	candles []ports.Candle
	bucket  int64 // timestamp del intervalo de la última vela
}

// observe suma un precio a la vela del intervalo actual, o abre una nueva.
func (s *candleSeries) observe(price float64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := at.Unix() - at.Unix()%int64(candleInterval.Seconds())
	if len(s.candles) > 0 && bucket == s.bucket {
		last := &s.candles[len(s.candles)-1]
		if price > last.High {
			last.High = price
		}
		if price < last.Low {
			last.Low = price
		}
		last.Close = price
		return
	}

	open := price
	if len(s.candles) > 0 {
		open = s.candles[len(s.candles)-1].Close
	}
	s.candles = append(s.candles, ports.Candle{
		Open:  open,
		High:  price,
		Low:   price,
		Close: price,
	})
	s.bucket = bucket

	if len(s.candles) > maxCandles {
		s.candles = s.candles[len(s.candles)-maxCandles:]
	}
}

// closes devuelve los últimos n cierres, el más reciente al final.
func (s *candleSeries) closes(n int) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if len(s.candles) > n {
		start = len(s.candles) - n
	}
	out := make([]float64, 0, len(s.candles)-start)
	for _, c := range s.candles[start:] {
		out = append(out, c.Close)
	}
	return out
}

// tail devuelve las últimas n velas.
func (s *candleSeries) tail(n int) []ports.Candle {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if len(s.candles) > n {
		start = len(s.candles) - n
	}
	out := make([]ports.Candle, len(s.candles)-start)
	copy(out, s.candles[start:])
	return out
}
