package domain

// Settings es la configuración por-trade. Exactamente un variante está
// poblado según Trade.Strategy; se decodifica una sola vez en el storage.
type Settings struct {
	PingPong *PingPongSettings `json:"pingpong,omitempty"`
	Manual   *ManualSettings   `json:"manual,omitempty"`
	AI       *AISettings       `json:"ai,omitempty"`
}

// Stops devuelve los porcentajes de stop-loss y trailing-stop del variante
// activo. PingPong no usa stops: devuelve (0, 0).
func (s Settings) Stops() (stopLoss, trailing float64) {
	switch {
	case s.Manual != nil:
		return s.Manual.StopLossPct, s.Manual.TrailingStopPct
	case s.AI != nil:
		return s.AI.StopLossPct, s.AI.TrailingStopPct
	}
	return 0, 0
}

// ManualSettings habilita indicadores técnicos individualmente. Un puntero
// nil significa que ese indicador no vota.
type ManualSettings struct {
	RSI       *RSIParams       `json:"rsi,omitempty"`
	MACD      *MACDParams      `json:"macd,omitempty"`
	MACross   *MACrossParams   `json:"ma_cross,omitempty"`
	Bollinger *BollingerParams `json:"bollinger,omitempty"`

	StopLossPct     float64 `json:"stop_loss_pct,omitempty"`     // 0 = deshabilitado
	TrailingStopPct float64 `json:"trailing_stop_pct,omitempty"` // 0 = deshabilitado
}

// Enabled devuelve cuántos indicadores están habilitados.
func (s ManualSettings) Enabled() int {
	n := 0
	if s.RSI != nil {
		n++
	}
	if s.MACD != nil {
		n++
	}
	if s.MACross != nil {
		n++
	}
	if s.Bollinger != nil {
		n++
	}
	return n
}

// AISettings gobierna la estrategia compuesta con scorer inyectado.
type AISettings struct {
	ExecutionThreshold  float64 `json:"execution_threshold,omitempty"`
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`
	CooldownMinutes     int     `json:"cooldown_minutes,omitempty"`

	StopLossPct     float64 `json:"stop_loss_pct,omitempty"`
	TrailingStopPct float64 `json:"trailing_stop_pct,omitempty"`
}

// RSIParams parametriza el score RSI.
type RSIParams struct {
	Period        int     `json:"period,omitempty"`
	BuyThreshold  float64 `json:"buy_threshold,omitempty"`
	SellThreshold float64 `json:"sell_threshold,omitempty"`
}

func (p RSIParams) withDefaults() RSIParams {
	if p.Period <= 0 {
		p.Period = 14
	}
	if p.BuyThreshold <= 0 {
		p.BuyThreshold = 30
	}
	if p.SellThreshold <= 0 {
		p.SellThreshold = 70
	}
	return p
}

// MACDParams parametriza el score MACD.
type MACDParams struct {
	FastPeriod   int `json:"fast_period,omitempty"`
	SlowPeriod   int `json:"slow_period,omitempty"`
	SignalPeriod int `json:"signal_period,omitempty"`
}

func (p MACDParams) withDefaults() MACDParams {
	if p.FastPeriod <= 0 {
		p.FastPeriod = 12
	}
	if p.SlowPeriod <= 0 {
		p.SlowPeriod = 26
	}
	if p.SignalPeriod <= 0 {
		p.SignalPeriod = 9
	}
	return p
}

// MACrossParams parametriza el crossover de medias móviles.
type MACrossParams struct {
	ShortPeriod int `json:"short_period,omitempty"`
	LongPeriod  int `json:"long_period,omitempty"`
}

func (p MACrossParams) withDefaults() MACrossParams {
	if p.ShortPeriod <= 0 {
		p.ShortPeriod = 20
	}
	if p.LongPeriod <= 0 {
		p.LongPeriod = 50
	}
	return p
}

// BollingerParams parametriza las bandas de Bollinger.
type BollingerParams struct {
	Period int     `json:"period,omitempty"`
	StdDev float64 `json:"std_dev,omitempty"`
}

func (p BollingerParams) withDefaults() BollingerParams {
	if p.Period <= 0 {
		p.Period = 20
	}
	if p.StdDev <= 0 {
		p.StdDev = 2.0
	}
	return p
}
