package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/flipbot/internal/domain"
	"github.com/alejandrodnm/flipbot/internal/ports"
)

var _ ports.Storage = (*SQLiteStorage)(nil)
var _ ports.LearningRecorder = (*SQLiteStorage)(nil)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.ApplySchema(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTrade(id string) domain.Trade {
	return domain.Trade{
		ID:           id,
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

func TestSaveTrade_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tr := sampleTrade("trade-1")
	tr.Settings.PingPong.PricingToken = "base"
	require.NoError(t, s.SaveTrade(ctx, tr))

	got, err := s.GetTrade(ctx, "trade-1")
	require.NoError(t, err)

	assert.Equal(t, tr.OwnerAddress, got.OwnerAddress)
	assert.Equal(t, "EARLY/XRD", got.Pair.Symbol())
	assert.Equal(t, 18, got.Pair.Base.Divisibility)
	assert.Equal(t, domain.StrategyPingPong, got.Strategy)
	assert.True(t, got.Compounding)
	assert.True(t, got.IsActive)
	assert.False(t, got.CreatedAt.IsZero())

	// los settings se decodifican al variante correcto
	require.NotNil(t, got.Settings.PingPong)
	assert.InDelta(t, 0.98, got.Settings.PingPong.BuyPrice, 0.0001)
	assert.True(t, got.Settings.PingPong.PricedInBase())
	assert.Nil(t, got.Settings.Manual)
}

func TestSaveTrade_UpsertKeepsID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tr := sampleTrade("trade-1")
	require.NoError(t, s.SaveTrade(ctx, tr))
	tr.Amount = 555
	require.NoError(t, s.SaveTrade(ctx, tr))

	got, err := s.GetTrade(ctx, "trade-1")
	require.NoError(t, err)
	assert.InDelta(t, 555, got.Amount, 0.0001)

	trades, err := s.ActiveTrades(ctx, tr.OwnerAddress)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestGetTrade_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTrade(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrTradeNotFound)
}

func TestTradesBySignal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hold := sampleTrade("trade-hold")
	exec := sampleTrade("trade-exec")
	exec.CurrentSignal = domain.SignalExecute
	paused := sampleTrade("trade-paused")
	paused.CurrentSignal = domain.SignalExecute
	paused.IsActive = false

	require.NoError(t, s.SaveTrade(ctx, hold))
	require.NoError(t, s.SaveTrade(ctx, exec))
	require.NoError(t, s.SaveTrade(ctx, paused))

	got, err := s.TradesBySignal(ctx, "account_rdx1owner", domain.SignalExecute)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "trade-exec", got[0].ID)
}

func TestUpdateSignal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveTrade(ctx, sampleTrade("trade-1")))

	at := time.Now().Truncate(time.Second)
	require.NoError(t, s.UpdateSignal(ctx, "trade-1", domain.SignalExecute, at))

	got, err := s.GetTrade(ctx, "trade-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SignalExecute, got.CurrentSignal)
	assert.Equal(t, at.Unix(), got.LastSignalAt.Unix())

	assert.ErrorIs(t, s.UpdateSignal(ctx, "nope", domain.SignalHold, at), ErrTradeNotFound)
}

func TestUpdateAfterExecution_RecoversReserve(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tr := sampleTrade("trade-1")
	require.NoError(t, s.SaveTrade(ctx, tr))
	require.NoError(t, s.SetReservedAmount(ctx, "trade-1", "resource_rdx1xrd", 900))

	// el trade vuelve al token en que está denominada la reserva
	require.NoError(t, s.UpdateAfterExecution(ctx, "trade-1", "resource_rdx1xrd", 110, time.Now()))

	got, err := s.GetTrade(ctx, "trade-1")
	require.NoError(t, err)
	assert.InDelta(t, 1010, got.Amount, 0.0001)
	assert.Equal(t, 0.0, got.ReservedAmount)
	assert.Equal(t, "", got.ReservedToken)
	assert.Equal(t, domain.SignalHold, got.CurrentSignal)
}

func TestUpdateAfterExecution_ReserveInOtherTokenStays(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tr := sampleTrade("trade-1")
	require.NoError(t, s.SaveTrade(ctx, tr))
	require.NoError(t, s.SetReservedAmount(ctx, "trade-1", "resource_rdx1xrd", 900))

	// flip hacia el token base: la reserva en XRD queda apartada
	require.NoError(t, s.UpdateAfterExecution(ctx, "trade-1", "resource_rdx1base", 102, time.Now()))

	got, err := s.GetTrade(ctx, "trade-1")
	require.NoError(t, err)
	assert.InDelta(t, 102, got.Amount, 0.0001)
	assert.InDelta(t, 900, got.ReservedAmount, 0.0001)
	assert.Equal(t, "resource_rdx1xrd", got.ReservedToken)
}

func TestUpdateAfterExecution_NonCompoundingCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tr := sampleTrade("trade-1")
	tr.Compounding = false
	tr.TradeToken = "resource_rdx1base"
	tr.Amount = 1030
	require.NoError(t, s.SaveTrade(ctx, tr))

	// volvió al start token con más de lo que arrancó: se recorta
	require.NoError(t, s.UpdateAfterExecution(ctx, "trade-1", "resource_rdx1xrd", 1100, time.Now()))

	got, err := s.GetTrade(ctx, "trade-1")
	require.NoError(t, err)
	assert.InDelta(t, 1000, got.Amount, 0.0001)
}

func TestRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tr := sampleTrade("trade-1")
	tr.CurrentSignal = domain.SignalExecute
	tr.PeakProfit = 4.5
	require.NoError(t, s.SaveTrade(ctx, tr))
	snap := tr.Snapshot()

	require.NoError(t, s.UpdateAfterExecution(ctx, "trade-1", "resource_rdx1base", 50, time.Now()))
	require.NoError(t, s.Rollback(ctx, "trade-1", snap))

	got, err := s.GetTrade(ctx, "trade-1")
	require.NoError(t, err)
	assert.Equal(t, "resource_rdx1xrd", got.TradeToken)
	assert.InDelta(t, 1000, got.Amount, 0.0001)
	assert.Equal(t, domain.SignalExecute, got.CurrentSignal)
	assert.InDelta(t, 4.5, got.PeakProfit, 0.0001)
}

func TestPauseAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveTrade(ctx, sampleTrade("trade-1")))
	require.NoError(t, s.SaveTrade(ctx, sampleTrade("trade-2")))
	other := sampleTrade("trade-other")
	other.OwnerAddress = "account_rdx1other"
	require.NoError(t, s.SaveTrade(ctx, other))

	n, err := s.PauseAll(ctx, "account_rdx1owner")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	trades, err := s.ActiveTrades(ctx, "account_rdx1owner")
	require.NoError(t, err)
	assert.Empty(t, trades)

	// el otro owner no se toca
	trades, err = s.ActiveTrades(ctx, "account_rdx1other")
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestLockedNative(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// sostiene 1000 XRD
	require.NoError(t, s.SaveTrade(ctx, sampleTrade("trade-1")))

	// sostiene base pero tiene 900 XRD reservados, y está pausado
	reserved := sampleTrade("trade-2")
	reserved.TradeToken = "resource_rdx1base"
	reserved.Amount = 50
	reserved.ReservedAmount = 900
	reserved.ReservedToken = "resource_rdx1xrd"
	reserved.IsActive = false
	require.NoError(t, s.SaveTrade(ctx, reserved))

	locked, err := s.LockedNative(ctx, "account_rdx1owner", "resource_rdx1xrd")
	require.NoError(t, err)
	assert.InDelta(t, 1900, locked, 0.0001)
}

func TestFlips_LastAndByOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, found, err := s.LastFlip(ctx, "trade-1")
	require.NoError(t, err)
	assert.False(t, found)

	older := domain.FlipRecord{
		ID: "flip-1", TradeID: "trade-1", Owner: "account_rdx1owner",
		Side: "BUY", Price: 0.97, ExecutedAt: time.Now().Add(-time.Hour),
	}
	newer := domain.FlipRecord{
		ID: "flip-2", TradeID: "trade-1", Owner: "account_rdx1owner",
		Side: "SELL", Price: 1.03, ExecutedAt: time.Now(),
	}
	require.NoError(t, s.RecordFlip(ctx, older))
	require.NoError(t, s.RecordFlip(ctx, newer))

	last, found, err := s.LastFlip(ctx, "trade-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "flip-2", last.ID)
	assert.Equal(t, "SELL", last.Side)

	flips, err := s.FlipsByOwner(ctx, "account_rdx1owner", 1)
	require.NoError(t, err)
	require.Len(t, flips, 1)
	assert.Equal(t, "flip-2", flips[0].ID)
}

func TestRecordEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordEntry(ctx, "trade-1", 0.72, 0.85, domain.SignalExecute))

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ai_entries WHERE trade_id = ? AND signal = 'execute'`, "trade-1").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOutcomes_RecentFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordOutcome(ctx, domain.Outcome{
			TradeID:   "trade-1",
			ProfitPct: float64(i),
			Win:       i%2 == 0,
			ClosedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	outs, err := s.RecentOutcomes(ctx, "trade-1", 3)
	require.NoError(t, err)
	require.Len(t, outs, 3)
	assert.InDelta(t, 4, outs[0].ProfitPct, 0.0001)
	assert.InDelta(t, 2, outs[2].ProfitPct, 0.0001)
	assert.True(t, outs[0].Win)
}
