package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/flipbot/config"
	"github.com/alejandrodnm/flipbot/internal/domain"
	"github.com/alejandrodnm/flipbot/internal/ports"
)

const (
	// voteDeadband es la zona muerta de los scores: un indicador sólo vota
	// buy/sell si su score sale de ±0.65.
	voteDeadband = 0.65

	// historyLen son las velas/cierres que se piden para los indicadores.
	historyLen = 100

	adxPeriod = 14
)

// SignalGenerator decide hold/execute por trade según su estrategia.
// No toca storage: recibe todo lo que necesita y devuelve la señal.
type SignalGenerator struct {
	log     *slog.Logger
	prices  ports.PriceProvider
	scorer  ports.CompositeScorer
	learner ports.LearningRecorder // opcional
	cfg     config.StrategiesConfig
}

// NewSignalGenerator crea el generador. learner puede ser nil.
func NewSignalGenerator(
	log *slog.Logger,
	prices ports.PriceProvider,
	scorer ports.CompositeScorer,
	learner ports.LearningRecorder,
	cfg config.StrategiesConfig,
) *SignalGenerator {
	return &SignalGenerator{
		log:     log.With("component", "signal_generator"),
		prices:  prices,
		scorer:  scorer,
		learner: learner,
		cfg:     cfg,
	}
}

// SignalInput es todo lo que el generador necesita para decidir.
type SignalInput struct {
	Trade domain.Trade
	Price float64 // precio spot quote-por-base

	// Stop es la señal de stop-loss/trailing-stop ya calculada por el
	// monitor. Execute acá fuerza la salida en Manual y AI; PingPong
	// la ignora, sus umbrales son la única verdad.
	Stop domain.Signal

	// LastFlipAt es cuándo ejecutó por última vez, cero si nunca.
	// Lo usa el cooldown de la estrategia AI.
	LastFlipAt time.Time
}

// Generate devuelve la señal para el trade.
func (g *SignalGenerator) Generate(ctx context.Context, in SignalInput) (domain.Signal, error) {
	switch in.Trade.Strategy {
	case domain.StrategyPingPong:
		return g.pingPong(in), nil
	case domain.StrategyManual:
		return g.manual(ctx, in)
	case domain.StrategyAI:
		return g.ai(ctx, in)
	}
	return domain.SignalHold, fmt.Errorf("engine.Generate: trade %s has unknown strategy %q", in.Trade.ID, in.Trade.Strategy)
}

func (g *SignalGenerator) pingPong(in SignalInput) domain.Signal {
	s := in.Trade.Settings.PingPong
	if s == nil {
		g.log.Warn("pingpong trade without settings", "trade", in.Trade.ID)
		return domain.SignalHold
	}
	return s.Decide(in.Price, in.Trade.HoldingBase())
}

// manual corre la votación de indicadores habilitados. Primero el filtro de
// tendencia: en mercado lateral (ADX bajo el umbral) no se opera.
func (g *SignalGenerator) manual(ctx context.Context, in SignalInput) (domain.Signal, error) {
	s := in.Trade.Settings.Manual
	if s == nil {
		g.log.Warn("manual trade without settings", "trade", in.Trade.ID)
		return domain.SignalHold, nil
	}
	if in.Stop == domain.SignalExecute {
		g.log.Info("stop triggered, overriding indicators", "trade", in.Trade.ID)
		return domain.SignalExecute, nil
	}
	if s.Enabled() == 0 {
		return domain.SignalHold, nil
	}

	tr := in.Trade
	history, err := g.prices.History(ctx, tr.Pair.Base.Address, tr.Pair.Quote.Address, historyLen)
	if err != nil {
		return domain.SignalHold, fmt.Errorf("engine.manual: fetch history for %s: %w", tr.Pair.Symbol(), err)
	}

	if !domain.MarketTrending(history, adxPeriod, g.cfg.ADXThreshold) {
		g.log.Debug("market ranging, holding", "trade", tr.ID, "pair", tr.Pair.Symbol())
		return domain.SignalHold, nil
	}

	var scores []float64
	collect := func(name string, score float64) {
		scores = append(scores, score)
		g.log.Debug("indicator score", "trade", tr.ID, "indicator", name, "score", score)
	}

	if s.RSI != nil {
		collect("rsi", domain.RSIScore(history, *s.RSI))
	}
	if s.MACD != nil {
		collect("macd", domain.MACDScore(history, *s.MACD))
	}
	if s.MACross != nil {
		collect("ma_cross", domain.MACrossScore(history, *s.MACross))
	}
	if s.Bollinger != nil {
		collect("bollinger", domain.BollingerScore(history, in.Price, *s.Bollinger))
	}

	return manualDecision(scores, tr.HoldingBase()), nil
}

// manualDecision aplica la votación: cada score fuera de ±0.65 vota
// buy/sell, el resto se abstiene. Ejecuta con mayoría simple (≥50% de los
// indicadores habilitados) alineada con la posición: sosteniendo quote sólo
// interesan los votos de compra, sosteniendo base los de venta.
func manualDecision(scores []float64, holdingBase bool) domain.Signal {
	if len(scores) == 0 {
		return domain.SignalHold
	}

	var buyVotes, sellVotes int
	for _, score := range scores {
		switch {
		case score > voteDeadband:
			buyVotes++
		case score < -voteDeadband:
			sellVotes++
		}
	}

	votes := buyVotes
	if holdingBase {
		votes = sellVotes
	}
	if float64(votes)/float64(len(scores)) >= 0.5 {
		return domain.SignalExecute
	}
	return domain.SignalHold
}

// ai delega en el scorer compuesto y aplica los umbrales de ejecución,
// confianza y cooldown.
func (g *SignalGenerator) ai(ctx context.Context, in SignalInput) (domain.Signal, error) {
	s := in.Trade.Settings.AI
	if s == nil {
		g.log.Warn("ai trade without settings", "trade", in.Trade.ID)
		return domain.SignalHold, nil
	}
	if in.Stop == domain.SignalExecute {
		g.log.Info("stop triggered, overriding scorer", "trade", in.Trade.ID)
		return domain.SignalExecute, nil
	}
	if g.scorer == nil {
		return domain.SignalHold, nil
	}

	execThreshold := s.ExecutionThreshold
	if execThreshold <= 0 {
		execThreshold = g.cfg.AI.ExecutionThreshold
	}
	confThreshold := s.ConfidenceThreshold
	if confThreshold <= 0 {
		confThreshold = g.cfg.AI.ConfidenceThreshold
	}
	cooldown := time.Duration(s.CooldownMinutes) * time.Minute
	if cooldown <= 0 {
		cooldown = time.Duration(g.cfg.AI.CooldownMinutes) * time.Minute
	}

	tr := in.Trade
	candles, err := g.prices.Candles(ctx, tr.Pair.Base.Address, tr.Pair.Quote.Address, historyLen)
	if err != nil {
		return domain.SignalHold, fmt.Errorf("engine.ai: fetch candles for %s: %w", tr.Pair.Symbol(), err)
	}

	score, confidence, regime := g.scorer.Score(candles)
	g.log.Debug("composite score",
		"trade", tr.ID, "score", score, "confidence", confidence, "regime", regime)

	if score == 0 || absFloat(score) < execThreshold || confidence < confThreshold {
		return domain.SignalHold, nil
	}

	// la entrada se registra apenas los umbrales dan, aunque después la
	// suprima el cooldown o la alineación: también son muestras del modelo
	if g.learner != nil {
		if err := g.learner.RecordEntry(ctx, tr.ID, score, confidence, domain.SignalExecute); err != nil {
			g.log.Warn("learning record failed", "trade", tr.ID, "err", err)
		}
	}

	// el cooldown corre desde la última actividad: el último cambio de
	// señal persistido o el último flip ejecutado, lo que sea más reciente.
	// Una señal reciente que no pasó la validación no se reintenta cada ciclo.
	lastActivity := in.LastFlipAt
	if tr.LastSignalAt.After(lastActivity) {
		lastActivity = tr.LastSignalAt
	}
	if !lastActivity.IsZero() && time.Since(lastActivity) < cooldown {
		g.log.Debug("ai cooldown active", "trade", tr.ID, "since_last_activity", time.Since(lastActivity))
		return domain.SignalHold, nil
	}

	// alineación con la posición: score positivo pide comprar base
	wantBuy := score > 0
	if wantBuy == tr.HoldingBase() {
		return domain.SignalHold, nil
	}
	return domain.SignalExecute, nil
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
