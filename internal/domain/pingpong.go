package domain

import "strings"

// PingPongSettings son los umbrales fijos de la estrategia ping-pong.
// El usuario elige en qué token del par expresó los precios.
type PingPongSettings struct {
	BuyPrice     float64 `json:"buy_price"`
	SellPrice    float64 `json:"sell_price"`
	PricingToken string  `json:"pricing_token,omitempty"` // "base" | "quote" (default)
}

// PricedInBase devuelve true si los umbrales están expresados en
// base-por-quote en vez del quote-por-base interno.
func (s PingPongSettings) PricedInBase() bool {
	return strings.EqualFold(s.PricingToken, "base")
}

// EffectiveThresholds normaliza los umbrales a quote-por-base.
// Cuando los precios vienen en términos del token base, invertir el precio
// también intercambia los roles: el "sell" del usuario pasa a ser el umbral
// de compra interno y viceversa.
func (s PingPongSettings) EffectiveThresholds() (buy, sell float64) {
	if s.PricedInBase() {
		if s.SellPrice > 0 {
			buy = 1 / s.SellPrice
		}
		if s.BuyPrice > 0 {
			sell = 1 / s.BuyPrice
		}
		return buy, sell
	}
	return s.BuyPrice, s.SellPrice
}

// Decide devuelve la señal ping-pong para el precio actual quote-por-base.
// Sosteniendo quote se compra base cuando el precio cae al umbral de compra;
// sosteniendo base se vende cuando sube al de venta.
func (s PingPongSettings) Decide(price float64, holdingBase bool) Signal {
	if price <= 0 {
		return SignalHold
	}
	buy, sell := s.EffectiveThresholds()
	if holdingBase {
		if sell > 0 && price >= sell {
			return SignalExecute
		}
		return SignalHold
	}
	if buy > 0 && price <= buy {
		return SignalExecute
	}
	return SignalHold
}
