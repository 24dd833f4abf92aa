package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Strategy identifica la estrategia que gobierna un trade.
type Strategy string

const (
	StrategyPingPong Strategy = "pingpong"
	StrategyManual   Strategy = "manual"
	StrategyAI       Strategy = "ai"
)

// ParseStrategy normaliza un nombre de estrategia (case-insensitive).
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pingpong", "ping-pong", "ping_pong":
		return StrategyPingPong, nil
	case "manual":
		return StrategyManual, nil
	case "ai":
		return StrategyAI, nil
	}
	return "", fmt.Errorf("domain.ParseStrategy: unknown strategy %q", s)
}

// Signal es la decisión vigente de un trade.
type Signal string

const (
	SignalHold    Signal = "hold"
	SignalExecute Signal = "execute"
)

// Token es uno de los dos lados de un par.
type Token struct {
	Address      string
	Symbol       string
	Divisibility int // decimales que acepta el ledger para este recurso
}

// TradePair es el par base/quote sobre el que flipea un trade.
type TradePair struct {
	Base  Token
	Quote Token
}

// Symbol devuelve el par en formato "BASE/QUOTE".
func (p TradePair) Symbol() string {
	return p.Base.Symbol + "/" + p.Quote.Symbol
}

// TokenByAddress devuelve el token del par con esa address.
func (p TradePair) TokenByAddress(addr string) (Token, bool) {
	switch addr {
	case p.Base.Address:
		return p.Base, true
	case p.Quote.Address:
		return p.Quote, true
	}
	return Token{}, false
}

// Other devuelve el token opuesto del par.
func (p TradePair) Other(addr string) Token {
	if addr == p.Base.Address {
		return p.Quote
	}
	return p.Base
}

// Trade es una posición ping-pong persistida: siempre sostiene uno de los
// dos tokens del par y flipea al otro cuando la estrategia lo ordena.
type Trade struct {
	ID           string
	OwnerAddress string
	Pair         TradePair
	Strategy     Strategy
	Settings     Settings

	TradeToken        string  // address del token que se sostiene ahora
	Amount            float64 // cantidad del token sostenido
	StartToken        string  // token con el que arrancó el trade
	StartAmount       float64
	AccumulationToken string  // token cuyo balance se quiere acumular
	ReservedAmount    float64 // remanente apartado por el sizing de Kelly
	ReservedToken     string  // token en el que está denominado el remanente
	Compounding       bool    // false = al volver al start token se recorta al StartAmount

	CurrentSignal Signal
	LastSignalAt  time.Time
	PeakProfit    float64 // mejor profit % visto sosteniendo el token de riesgo
	IsActive      bool
	CreatedAt     time.Time
}

// HoldingBase devuelve true si el trade sostiene el token base del par.
func (t Trade) HoldingBase() bool {
	return t.TradeToken == t.Pair.Base.Address
}

// HeldToken devuelve el token que el trade sostiene ahora.
func (t Trade) HeldToken() Token {
	if tok, ok := t.Pair.TokenByAddress(t.TradeToken); ok {
		return tok
	}
	return Token{Address: t.TradeToken}
}

// CounterToken devuelve el token al que flipearía la próxima ejecución.
func (t Trade) CounterToken() Token {
	return t.Pair.Other(t.TradeToken)
}

// HoldsRiskToken devuelve true si el trade sostiene el token que NO quiere
// acumular. Los stops sólo aplican en esta mitad del ciclo.
func (t Trade) HoldsRiskToken() bool {
	return t.AccumulationToken != "" && t.TradeToken != t.AccumulationToken
}

// Side devuelve el lado de la próxima ejecución respecto al token base.
func (t Trade) Side() string {
	if t.HoldingBase() {
		return "SELL"
	}
	return "BUY"
}

// TradeSnapshot captura el estado mutable de un trade antes de ejecutar,
// para poder revertirlo si el ledger rechaza la transacción.
type TradeSnapshot struct {
	TradeToken     string
	Amount         float64
	ReservedAmount float64
	ReservedToken  string
	PeakProfit     float64
	CurrentSignal  Signal
	LastSignalAt   time.Time
}

// Snapshot captura el estado mutable actual del trade.
func (t Trade) Snapshot() TradeSnapshot {
	return TradeSnapshot{
		TradeToken:     t.TradeToken,
		Amount:         t.Amount,
		ReservedAmount: t.ReservedAmount,
		ReservedToken:  t.ReservedToken,
		PeakProfit:     t.PeakProfit,
		CurrentSignal:  t.CurrentSignal,
		LastSignalAt:   t.LastSignalAt,
	}
}

// Quote es la respuesta del agregador para un swap concreto.
type Quote struct {
	Manifest       string  // manifest de transacción listo para firmar
	InputTokens    float64 // cantidad que entra al swap
	OutputTokens   float64 // cantidad estimada que sale
	PriceImpactPct float64 // impacto de precio en %
}

// RealizedPrice devuelve el precio efectivo quote-por-base implícito en la
// quote. sellingBase indica la dirección del swap.
func (q Quote) RealizedPrice(sellingBase bool) float64 {
	if q.InputTokens <= 0 || q.OutputTokens <= 0 {
		return 0
	}
	if sellingBase {
		return q.OutputTokens / q.InputTokens
	}
	return q.InputTokens / q.OutputTokens
}

// Validation es un trade que pasó la validación junto con la quote fresca
// con la que se validó.
type Validation struct {
	Trade Trade
	Quote Quote
}

// FlipRecord es una entrada del historial de ejecuciones.
type FlipRecord struct {
	ID         string
	TradeID    string
	Owner      string
	PairSymbol string
	Side       string // BUY | SELL respecto al token base
	TokenIn    string
	TokenOut   string
	AmountIn   float64
	AmountOut  float64
	Price      float64 // quote-por-base realizado
	IntentHash string
	Strategy   Strategy
	ExecutedAt time.Time
}

// Outcome es el resultado de un flip cerrado, usado por el sizing de Kelly.
type Outcome struct {
	TradeID   string
	ProfitPct float64
	Win       bool
	ClosedAt  time.Time
}

// TruncateAmount trunca una cantidad a los decimales que acepta el token.
// Trunca sobre la representación decimal, nunca redondea: pedir de más al
// ledger falla la transacción entera.
func TruncateAmount(amount float64, divisibility int) float64 {
	if amount <= 0 {
		return 0
	}
	if divisibility < 0 {
		divisibility = 0
	}
	s := strconv.FormatFloat(amount, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		if divisibility == 0 {
			s = s[:i]
		} else if len(s) > i+1+divisibility {
			s = s[:i+1+divisibility]
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// FormatAmount devuelve la cantidad como string decimal truncado a la
// divisibilidad del token, listo para el API del agregador.
func FormatAmount(amount float64, divisibility int) string {
	if divisibility < 0 {
		divisibility = 0
	}
	s := strconv.FormatFloat(amount, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		if divisibility == 0 {
			s = s[:i]
		} else if len(s) > i+1+divisibility {
			s = s[:i+1+divisibility]
		}
	}
	return s
}
