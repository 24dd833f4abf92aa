package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/alejandrodnm/flipbot/config"
	"github.com/alejandrodnm/flipbot/internal/domain"
	"github.com/alejandrodnm/flipbot/internal/ports"
)

// Fakes in-memory de los ports, para probar el engine sin red ni sqlite.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Monitor: config.MonitorConfig{
			IntervalMinutes:   10,
			MaxPriceImpactPct: 5.0,
			OwnerAddress:      "account_rdx1owner",
		},
		Strategies: config.StrategiesConfig{
			ADXThreshold: 25,
			Kelly: config.KellyConfig{
				FractionalMultiplier: 0.25,
				MinPositionSize:      0.10,
				MaxPositionSize:      1.0,
				MinTradesRequired:    10,
				LookbackTrades:       20,
			},
			AI: config.AIConfig{
				ExecutionThreshold:  0.6,
				ConfidenceThreshold: 0.7,
				CooldownMinutes:     60,
			},
		},
		Fees: config.FeeConfig{
			Component:     "component_rdx1fee",
			StaticLock:    5.0,
			PreviewFactor: 2.5,
			NativeToken:   "resource_rdx1xrd",
			NativeBuffer:  10.0,
		},
	}
}

func pingPongTrade() domain.Trade {
	return domain.Trade{
		ID:           "trade-1",
		OwnerAddress: "account_rdx1owner",
		Pair: domain.TradePair{
			Base:  domain.Token{Address: "resource_rdx1base", Symbol: "EARLY", Divisibility: 18},
			Quote: domain.Token{Address: "resource_rdx1xrd", Symbol: "XRD", Divisibility: 18},
		},
		Strategy: domain.StrategyPingPong,
		Settings: domain.Settings{
			PingPong: &domain.PingPongSettings{BuyPrice: 0.98, SellPrice: 1.02},
		},
		TradeToken:        "resource_rdx1xrd",
		Amount:            1000,
		StartToken:        "resource_rdx1xrd",
		StartAmount:       1000,
		AccumulationToken: "resource_rdx1xrd",
		Compounding:       true,
		CurrentSignal:     domain.SignalHold,
		IsActive:          true,
	}
}

// --- storage ---

type fakeStorage struct {
	trades   map[string]*domain.Trade
	flips    map[string][]domain.FlipRecord
	outcomes map[string][]domain.Outcome

	locked     float64
	pauseCalls int
	rollbacks  int

	failGet bool
}

func newFakeStorage(trades ...domain.Trade) *fakeStorage {
	s := &fakeStorage{
		trades:   make(map[string]*domain.Trade),
		flips:    make(map[string][]domain.FlipRecord),
		outcomes: make(map[string][]domain.Outcome),
	}
	for _, tr := range trades {
		cp := tr
		s.trades[tr.ID] = &cp
	}
	return s
}

func (s *fakeStorage) ApplySchema(context.Context) error { return nil }

func (s *fakeStorage) SaveTrade(_ context.Context, tr domain.Trade) error {
	cp := tr
	s.trades[tr.ID] = &cp
	return nil
}

func (s *fakeStorage) GetTrade(_ context.Context, id string) (domain.Trade, error) {
	if s.failGet {
		return domain.Trade{}, errors.New("storage down")
	}
	tr, ok := s.trades[id]
	if !ok {
		return domain.Trade{}, errors.New("not found")
	}
	return *tr, nil
}

func (s *fakeStorage) ActiveTrades(_ context.Context, owner string) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, tr := range s.trades {
		if tr.IsActive && tr.OwnerAddress == owner {
			out = append(out, *tr)
		}
	}
	return out, nil
}

func (s *fakeStorage) TradesBySignal(_ context.Context, owner string, sig domain.Signal) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, tr := range s.trades {
		if tr.IsActive && tr.OwnerAddress == owner && tr.CurrentSignal == sig {
			out = append(out, *tr)
		}
	}
	return out, nil
}

func (s *fakeStorage) UpdateSignal(_ context.Context, id string, sig domain.Signal, at time.Time) error {
	tr, ok := s.trades[id]
	if !ok {
		return errors.New("not found")
	}
	tr.CurrentSignal = sig
	tr.LastSignalAt = at
	return nil
}

func (s *fakeStorage) UpdatePeakProfit(_ context.Context, id string, peak float64) error {
	if tr, ok := s.trades[id]; ok {
		tr.PeakProfit = peak
	}
	return nil
}

func (s *fakeStorage) SetReservedAmount(_ context.Context, id, token string, reserved float64) error {
	if tr, ok := s.trades[id]; ok {
		tr.ReservedAmount = reserved
		tr.ReservedToken = token
	}
	return nil
}

func (s *fakeStorage) UpdateAfterExecution(_ context.Context, id, tradeToken string, amount float64, at time.Time) error {
	tr, ok := s.trades[id]
	if !ok {
		return errors.New("not found")
	}
	if tr.ReservedAmount > 0 && tr.ReservedToken == tradeToken {
		amount += tr.ReservedAmount
		tr.ReservedAmount = 0
		tr.ReservedToken = ""
	}
	tr.TradeToken = tradeToken
	tr.Amount = amount
	tr.CurrentSignal = domain.SignalHold
	tr.LastSignalAt = at
	return nil
}

func (s *fakeStorage) Rollback(_ context.Context, id string, snap domain.TradeSnapshot) error {
	tr, ok := s.trades[id]
	if !ok {
		return errors.New("not found")
	}
	s.rollbacks++
	tr.TradeToken = snap.TradeToken
	tr.Amount = snap.Amount
	tr.ReservedAmount = snap.ReservedAmount
	tr.ReservedToken = snap.ReservedToken
	tr.PeakProfit = snap.PeakProfit
	tr.CurrentSignal = snap.CurrentSignal
	tr.LastSignalAt = snap.LastSignalAt
	return nil
}

func (s *fakeStorage) PauseAll(_ context.Context, owner string) (int, error) {
	n := 0
	for _, tr := range s.trades {
		if tr.IsActive && tr.OwnerAddress == owner {
			tr.IsActive = false
			n++
		}
	}
	s.pauseCalls++
	return n, nil
}

func (s *fakeStorage) LockedNative(context.Context, string, string) (float64, error) {
	return s.locked, nil
}

func (s *fakeStorage) RecordFlip(_ context.Context, rec domain.FlipRecord) error {
	s.flips[rec.TradeID] = append(s.flips[rec.TradeID], rec)
	return nil
}

func (s *fakeStorage) LastFlip(_ context.Context, tradeID string) (domain.FlipRecord, bool, error) {
	flips := s.flips[tradeID]
	if len(flips) == 0 {
		return domain.FlipRecord{}, false, nil
	}
	return flips[len(flips)-1], true, nil
}

func (s *fakeStorage) FlipsByOwner(_ context.Context, owner string, limit int) ([]domain.FlipRecord, error) {
	var out []domain.FlipRecord
	for _, flips := range s.flips {
		out = append(out, flips...)
	}
	return out, nil
}

func (s *fakeStorage) RecordOutcome(_ context.Context, out domain.Outcome) error {
	s.outcomes[out.TradeID] = append(s.outcomes[out.TradeID], out)
	return nil
}

func (s *fakeStorage) RecentOutcomes(_ context.Context, tradeID string, limit int) ([]domain.Outcome, error) {
	outs := s.outcomes[tradeID]
	// más reciente primero
	var rev []domain.Outcome
	for i := len(outs) - 1; i >= 0; i-- {
		rev = append(rev, outs[i])
	}
	if limit > 0 && len(rev) > limit {
		rev = rev[:limit]
	}
	return rev, nil
}

func (s *fakeStorage) Close() error { return nil }

// --- prices ---

type fakePrices struct {
	price   float64
	history []float64
	candles []ports.Candle
	native  float64

	priceErr error
}

func (p *fakePrices) PairPrice(context.Context, string, string) (float64, error) {
	if p.priceErr != nil {
		return 0, p.priceErr
	}
	return p.price, nil
}

func (p *fakePrices) History(_ context.Context, _, _ string, n int) ([]float64, error) {
	return p.history, nil
}

func (p *fakePrices) Candles(_ context.Context, _, _ string, n int) ([]ports.Candle, error) {
	return p.candles, nil
}

func (p *fakePrices) NativeBalance(context.Context, string) (float64, error) {
	return p.native, nil
}

// --- quotes ---

type fakeQuotes struct {
	quote domain.Quote
	err   error
	calls int
}

func (q *fakeQuotes) Swap(context.Context, ports.SwapRequest) (domain.Quote, error) {
	q.calls++
	if q.err != nil {
		return domain.Quote{}, q.err
	}
	return q.quote, nil
}

// --- ledger ---

type fakeLedger struct {
	intentHash string
	status     ports.IntentStatus
	fee        float64

	submitErr  error
	previewErr error

	submits int
}

func (l *fakeLedger) SubmitManifest(context.Context, string) (string, error) {
	l.submits++
	if l.submitErr != nil {
		return "", l.submitErr
	}
	return l.intentHash, nil
}

func (l *fakeLedger) WaitForCommit(context.Context, string) (ports.IntentStatus, error) {
	return l.status, nil
}

func (l *fakeLedger) PreviewFee(context.Context, string) (float64, error) {
	if l.previewErr != nil {
		return 0, l.previewErr
	}
	return l.fee, nil
}

// --- scorer ---

type fakeScorer struct {
	score      float64
	confidence float64
	regime     string
}

func (s *fakeScorer) Score([]ports.Candle) (float64, float64, string) {
	return s.score, s.confidence, s.regime
}

// --- notifier ---

type fakeNotifier struct {
	reports []ports.CycleResult
}

func (n *fakeNotifier) CycleReport(res ports.CycleResult) {
	n.reports = append(n.reports, res)
}
