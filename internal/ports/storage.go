package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/flipbot/internal/domain"
)

// Storage persiste los trades, su historial y los resultados.
type Storage interface {
	ApplySchema(ctx context.Context) error

	// Trades
	SaveTrade(ctx context.Context, trade domain.Trade) error
	GetTrade(ctx context.Context, id string) (domain.Trade, error)
	ActiveTrades(ctx context.Context, owner string) ([]domain.Trade, error)
	TradesBySignal(ctx context.Context, owner string, signal domain.Signal) ([]domain.Trade, error)
	UpdateSignal(ctx context.Context, id string, signal domain.Signal, at time.Time) error
	UpdatePeakProfit(ctx context.Context, id string, peak float64) error
	// SetReservedAmount aparta un remanente de Kelly denominado en token.
	SetReservedAmount(ctx context.Context, id, token string, reserved float64) error

	// UpdateAfterExecution aplica el flip: nuevo token sostenido y cantidad,
	// señal de vuelta a hold.
	UpdateAfterExecution(ctx context.Context, id, tradeToken string, amount float64, at time.Time) error

	// Rollback revierte el estado mutable de un trade al snapshot tomado
	// antes de enviar la transacción.
	Rollback(ctx context.Context, id string, snap domain.TradeSnapshot) error

	// PauseAll desactiva todos los trades activos del owner. Se usa cuando
	// la wallet no puede cubrir los fees de red.
	PauseAll(ctx context.Context, owner string) (int, error)

	// LockedNative suma el token nativo comprometido en trades del owner,
	// activos o pausados: fondos que no se pueden gastar en fees.
	LockedNative(ctx context.Context, owner, nativeToken string) (float64, error)

	// Historial
	RecordFlip(ctx context.Context, rec domain.FlipRecord) error
	LastFlip(ctx context.Context, tradeID string) (domain.FlipRecord, bool, error)
	FlipsByOwner(ctx context.Context, owner string, limit int) ([]domain.FlipRecord, error)

	// Outcomes para el sizing de Kelly, del más reciente al más antiguo.
	RecordOutcome(ctx context.Context, out domain.Outcome) error
	RecentOutcomes(ctx context.Context, tradeID string, limit int) ([]domain.Outcome, error)

	Close() error
}
