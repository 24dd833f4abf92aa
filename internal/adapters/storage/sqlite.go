package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/flipbot/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
-- Posiciones ping-pong: una fila por trade, settings como JSON del variante
CREATE TABLE IF NOT EXISTS trades (
    id                 TEXT PRIMARY KEY,
    owner_address      TEXT    NOT NULL,
    base_address       TEXT    NOT NULL,
    base_symbol        TEXT    NOT NULL DEFAULT '',
    base_divisibility  INTEGER NOT NULL DEFAULT 18,
    quote_address      TEXT    NOT NULL,
    quote_symbol       TEXT    NOT NULL DEFAULT '',
    quote_divisibility INTEGER NOT NULL DEFAULT 18,
    strategy           TEXT    NOT NULL,
    settings           TEXT    NOT NULL DEFAULT '{}',
    trade_token        TEXT    NOT NULL,
    amount             REAL    NOT NULL DEFAULT 0,
    start_token        TEXT    NOT NULL,
    start_amount       REAL    NOT NULL DEFAULT 0,
    accumulation_token TEXT    NOT NULL DEFAULT '',
    reserved_amount    REAL    NOT NULL DEFAULT 0,
    reserved_token     TEXT    NOT NULL DEFAULT '',
    compounding        INTEGER NOT NULL DEFAULT 1,
    current_signal     TEXT    NOT NULL DEFAULT 'hold',
    last_signal_at     INTEGER NOT NULL DEFAULT 0,
    peak_profit        REAL    NOT NULL DEFAULT 0,
    is_active          INTEGER NOT NULL DEFAULT 1,
    created_at         INTEGER NOT NULL DEFAULT 0
);

-- Historial de ejecuciones comiteadas
CREATE TABLE IF NOT EXISTS flips (
    id          TEXT PRIMARY KEY,
    trade_id    TEXT NOT NULL,
    owner       TEXT NOT NULL,
    pair_symbol TEXT NOT NULL DEFAULT '',
    side        TEXT NOT NULL DEFAULT '',
    token_in    TEXT NOT NULL DEFAULT '',
    token_out   TEXT NOT NULL DEFAULT '',
    amount_in   REAL NOT NULL DEFAULT 0,
    amount_out  REAL NOT NULL DEFAULT 0,
    price       REAL NOT NULL DEFAULT 0,
    intent_hash TEXT NOT NULL DEFAULT '',
    strategy    TEXT NOT NULL DEFAULT '',
    executed_at INTEGER NOT NULL
);

-- Round trips cerrados, insumo del sizing de Kelly
CREATE TABLE IF NOT EXISTS outcomes (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    trade_id   TEXT    NOT NULL,
    profit_pct REAL    NOT NULL DEFAULT 0,
    win        INTEGER NOT NULL DEFAULT 0,
    closed_at  INTEGER NOT NULL
);

-- Entradas de la estrategia AI, solo escritura, para calibrar el modelo
CREATE TABLE IF NOT EXISTS ai_entries (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    trade_id   TEXT    NOT NULL,
    score      REAL    NOT NULL DEFAULT 0,
    confidence REAL    NOT NULL DEFAULT 0,
    signal     TEXT    NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_owner    ON trades(owner_address, is_active);
CREATE INDEX IF NOT EXISTS idx_trades_signal   ON trades(owner_address, current_signal);
CREATE INDEX IF NOT EXISTS idx_flips_trade     ON flips(trade_id, executed_at DESC);
CREATE INDEX IF NOT EXISTS idx_flips_owner     ON flips(owner, executed_at DESC);
CREATE INDEX IF NOT EXISTS idx_outcomes_trade  ON outcomes(trade_id, closed_at DESC);
`

// ErrTradeNotFound se devuelve cuando el trade pedido no existe.
var ErrTradeNotFound = errors.New("storage: trade not found")

// SQLiteStorage implementa ports.Storage usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	return &SQLiteStorage{db: db}, nil
}

// ApplySchema crea las tablas e índices si no existen.
func (s *SQLiteStorage) ApplySchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("storage.ApplySchema: %w", err)
	}
	return nil
}

// SaveTrade inserta o reemplaza el trade completo.
func (s *SQLiteStorage) SaveTrade(ctx context.Context, tr domain.Trade) error {
	settings, err := json.Marshal(tr.Settings)
	if err != nil {
		return fmt.Errorf("storage.SaveTrade: marshal settings: %w", err)
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trades
			(id, owner_address, base_address, base_symbol, base_divisibility,
			 quote_address, quote_symbol, quote_divisibility, strategy, settings,
			 trade_token, amount, start_token, start_amount, accumulation_token,
			 reserved_amount, reserved_token, compounding, current_signal,
			 last_signal_at, peak_profit, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_address      = excluded.owner_address,
			base_address       = excluded.base_address,
			base_symbol        = excluded.base_symbol,
			base_divisibility  = excluded.base_divisibility,
			quote_address      = excluded.quote_address,
			quote_symbol       = excluded.quote_symbol,
			quote_divisibility = excluded.quote_divisibility,
			strategy           = excluded.strategy,
			settings           = excluded.settings,
			trade_token        = excluded.trade_token,
			amount             = excluded.amount,
			start_token        = excluded.start_token,
			start_amount       = excluded.start_amount,
			accumulation_token = excluded.accumulation_token,
			reserved_amount    = excluded.reserved_amount,
			reserved_token     = excluded.reserved_token,
			compounding        = excluded.compounding,
			current_signal     = excluded.current_signal,
			last_signal_at     = excluded.last_signal_at,
			peak_profit        = excluded.peak_profit,
			is_active          = excluded.is_active
	`,
		tr.ID, tr.OwnerAddress,
		tr.Pair.Base.Address, tr.Pair.Base.Symbol, tr.Pair.Base.Divisibility,
		tr.Pair.Quote.Address, tr.Pair.Quote.Symbol, tr.Pair.Quote.Divisibility,
		string(tr.Strategy), string(settings),
		tr.TradeToken, tr.Amount, tr.StartToken, tr.StartAmount, tr.AccumulationToken,
		tr.ReservedAmount, tr.ReservedToken, boolInt(tr.Compounding), string(tr.CurrentSignal),
		unixOrZero(tr.LastSignalAt), tr.PeakProfit, boolInt(tr.IsActive), tr.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveTrade: upsert %s: %w", tr.ID, err)
	}
	return nil
}

const tradeColumns = `
	id, owner_address, base_address, base_symbol, base_divisibility,
	quote_address, quote_symbol, quote_divisibility, strategy, settings,
	trade_token, amount, start_token, start_amount, accumulation_token,
	reserved_amount, reserved_token, compounding, current_signal,
	last_signal_at, peak_profit, is_active, created_at`

// GetTrade devuelve el trade por id, o ErrTradeNotFound.
func (s *SQLiteStorage) GetTrade(ctx context.Context, id string) (domain.Trade, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+tradeColumns+` FROM trades WHERE id = ?`, id)
	tr, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Trade{}, fmt.Errorf("storage.GetTrade: %s: %w", id, ErrTradeNotFound)
	}
	if err != nil {
		return domain.Trade{}, fmt.Errorf("storage.GetTrade: %s: %w", id, err)
	}
	return tr, nil
}

// ActiveTrades devuelve los trades activos del owner.
func (s *SQLiteStorage) ActiveTrades(ctx context.Context, owner string) ([]domain.Trade, error) {
	return s.queryTrades(ctx,
		`SELECT`+tradeColumns+` FROM trades WHERE owner_address = ? AND is_active = 1 ORDER BY created_at`,
		owner)
}

// TradesBySignal devuelve los trades activos del owner con esa señal.
func (s *SQLiteStorage) TradesBySignal(ctx context.Context, owner string, signal domain.Signal) ([]domain.Trade, error) {
	return s.queryTrades(ctx,
		`SELECT`+tradeColumns+` FROM trades
		 WHERE owner_address = ? AND is_active = 1 AND current_signal = ? ORDER BY created_at`,
		owner, string(signal))
}

// UpdateSignal persiste la señal vigente del trade.
func (s *SQLiteStorage) UpdateSignal(ctx context.Context, id string, signal domain.Signal, at time.Time) error {
	return s.execOne(ctx, "storage.UpdateSignal", id,
		`UPDATE trades SET current_signal = ?, last_signal_at = ? WHERE id = ?`,
		string(signal), at.Unix(), id)
}

// UpdatePeakProfit persiste el mejor profit visto en este lado del ciclo.
func (s *SQLiteStorage) UpdatePeakProfit(ctx context.Context, id string, peak float64) error {
	return s.execOne(ctx, "storage.UpdatePeakProfit", id,
		`UPDATE trades SET peak_profit = ? WHERE id = ?`, peak, id)
}

// SetReservedAmount aparta el remanente de Kelly denominado en token.
func (s *SQLiteStorage) SetReservedAmount(ctx context.Context, id, token string, reserved float64) error {
	return s.execOne(ctx, "storage.SetReservedAmount", id,
		`UPDATE trades SET reserved_amount = ?, reserved_token = ? WHERE id = ?`,
		reserved, token, id)
}

// UpdateAfterExecution aplica el flip comiteado: nuevo token y cantidad,
// señal a hold y peak a cero. El remanente de Kelly se recupera si quedó
// denominado en el token al que se vuelve, y los trades sin compounding se
// recortan al monto inicial al volver al token de inicio.
func (s *SQLiteStorage) UpdateAfterExecution(ctx context.Context, id, tradeToken string, amount float64, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.UpdateAfterExecution: begin tx: %w", err)
	}
	defer tx.Rollback()

	var startToken, accumulation, reservedToken string
	var startAmount, reserved float64
	var compounding int
	err = tx.QueryRowContext(ctx,
		`SELECT start_token, start_amount, accumulation_token, reserved_amount, reserved_token, compounding
		 FROM trades WHERE id = ?`, id,
	).Scan(&startToken, &startAmount, &accumulation, &reserved, &reservedToken, &compounding)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("storage.UpdateAfterExecution: %s: %w", id, ErrTradeNotFound)
	}
	if err != nil {
		return fmt.Errorf("storage.UpdateAfterExecution: load %s: %w", id, err)
	}

	if reserved > 0 && reservedToken == tradeToken {
		amount += reserved
		reserved = 0
		reservedToken = ""
	}
	if compounding == 0 && tradeToken == startToken && accumulation == startToken && amount > startAmount {
		// el excedente queda en la wallet, fuera del trade
		amount = startAmount
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE trades SET
			trade_token = ?, amount = ?, reserved_amount = ?, reserved_token = ?,
			current_signal = ?, last_signal_at = ?, peak_profit = 0
		WHERE id = ?`,
		tradeToken, amount, reserved, reservedToken,
		string(domain.SignalHold), at.Unix(), id,
	); err != nil {
		return fmt.Errorf("storage.UpdateAfterExecution: update %s: %w", id, err)
	}
	return tx.Commit()
}

// Rollback revierte el estado mutable al snapshot pre-ejecución.
func (s *SQLiteStorage) Rollback(ctx context.Context, id string, snap domain.TradeSnapshot) error {
	return s.execOne(ctx, "storage.Rollback", id, `
		UPDATE trades SET
			trade_token = ?, amount = ?, reserved_amount = ?, reserved_token = ?,
			peak_profit = ?, current_signal = ?, last_signal_at = ?
		WHERE id = ?`,
		snap.TradeToken, snap.Amount, snap.ReservedAmount, snap.ReservedToken,
		snap.PeakProfit, string(snap.CurrentSignal), unixOrZero(snap.LastSignalAt), id)
}

// PauseAll desactiva todos los trades activos del owner y devuelve cuántos.
func (s *SQLiteStorage) PauseAll(ctx context.Context, owner string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE trades SET is_active = 0 WHERE owner_address = ? AND is_active = 1`, owner)
	if err != nil {
		return 0, fmt.Errorf("storage.PauseAll: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage.PauseAll: rows affected: %w", err)
	}
	return int(n), nil
}

// LockedNative suma el token nativo comprometido en trades del owner,
// activos o pausados: posiciones sostenidas en nativo más remanentes de
// Kelly denominados en nativo.
func (s *SQLiteStorage) LockedNative(ctx context.Context, owner, nativeToken string) (float64, error) {
	var locked float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(
			CASE WHEN trade_token = ? THEN amount ELSE 0 END +
			CASE WHEN reserved_token = ? THEN reserved_amount ELSE 0 END
		), 0)
		FROM trades WHERE owner_address = ?`,
		nativeToken, nativeToken, owner,
	).Scan(&locked)
	if err != nil {
		return 0, fmt.Errorf("storage.LockedNative: %w", err)
	}
	return locked, nil
}

// RecordFlip agrega una entrada al historial de ejecuciones.
func (s *SQLiteStorage) RecordFlip(ctx context.Context, rec domain.FlipRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO flips
			(id, trade_id, owner, pair_symbol, side, token_in, token_out,
			 amount_in, amount_out, price, intent_hash, strategy, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TradeID, rec.Owner, rec.PairSymbol, rec.Side, rec.TokenIn, rec.TokenOut,
		rec.AmountIn, rec.AmountOut, rec.Price, rec.IntentHash, string(rec.Strategy),
		rec.ExecutedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("storage.RecordFlip: %s: %w", rec.TradeID, err)
	}
	return nil
}

// LastFlip devuelve la ejecución más reciente del trade, si existe.
func (s *SQLiteStorage) LastFlip(ctx context.Context, tradeID string) (domain.FlipRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, trade_id, owner, pair_symbol, side, token_in, token_out,
		       amount_in, amount_out, price, intent_hash, strategy, executed_at
		FROM flips WHERE trade_id = ?
		ORDER BY executed_at DESC, rowid DESC LIMIT 1`, tradeID)

	rec, err := scanFlip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FlipRecord{}, false, nil
	}
	if err != nil {
		return domain.FlipRecord{}, false, fmt.Errorf("storage.LastFlip: %s: %w", tradeID, err)
	}
	return rec, true, nil
}

// FlipsByOwner devuelve el historial del owner, el más reciente primero.
func (s *SQLiteStorage) FlipsByOwner(ctx context.Context, owner string, limit int) ([]domain.FlipRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trade_id, owner, pair_symbol, side, token_in, token_out,
		       amount_in, amount_out, price, intent_hash, strategy, executed_at
		FROM flips WHERE owner = ?
		ORDER BY executed_at DESC, rowid DESC LIMIT ?`, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.FlipsByOwner: query: %w", err)
	}
	defer rows.Close()

	var out []domain.FlipRecord
	for rows.Next() {
		rec, err := scanFlip(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.FlipsByOwner: scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordOutcome guarda el resultado de un round trip cerrado.
func (s *SQLiteStorage) RecordOutcome(ctx context.Context, out domain.Outcome) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes (trade_id, profit_pct, win, closed_at) VALUES (?, ?, ?, ?)`,
		out.TradeID, out.ProfitPct, boolInt(out.Win), out.ClosedAt.Unix())
	if err != nil {
		return fmt.Errorf("storage.RecordOutcome: %s: %w", out.TradeID, err)
	}
	return nil
}

// RecordEntry implementa ports.LearningRecorder. Guarda la entrada de la
// estrategia AI para revisarla offline; nunca se lee durante el ciclo.
func (s *SQLiteStorage) RecordEntry(ctx context.Context, tradeID string, score, confidence float64, signal domain.Signal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_entries (trade_id, score, confidence, signal, created_at) VALUES (?, ?, ?, ?, ?)`,
		tradeID, score, confidence, string(signal), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("storage.RecordEntry: %s: %w", tradeID, err)
	}
	return nil
}

// RecentOutcomes devuelve los últimos resultados del trade, el más reciente
// primero.
func (s *SQLiteStorage) RecentOutcomes(ctx context.Context, tradeID string, limit int) ([]domain.Outcome, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, profit_pct, win, closed_at
		FROM outcomes WHERE trade_id = ?
		ORDER BY closed_at DESC, id DESC LIMIT ?`, tradeID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentOutcomes: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Outcome
	for rows.Next() {
		var o domain.Outcome
		var win int
		var closedAt int64
		if err := rows.Scan(&o.TradeID, &o.ProfitPct, &win, &closedAt); err != nil {
			return nil, fmt.Errorf("storage.RecentOutcomes: scan: %w", err)
		}
		o.Win = win == 1
		o.ClosedAt = time.Unix(closedAt, 0)
		out = append(out, o)
	}
	return out, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

func (s *SQLiteStorage) queryTrades(ctx context.Context, query string, args ...any) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.queryTrades: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		tr, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.queryTrades: scan: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// execOne ejecuta un UPDATE que debe tocar exactamente un trade.
func (s *SQLiteStorage) execOne(ctx context.Context, op, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", op, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %s: %w", op, id, ErrTradeNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (domain.Trade, error) {
	var tr domain.Trade
	var strategy, signal, settingsJSON string
	var compounding, active int
	var lastSignalAt, createdAt int64
	err := row.Scan(
		&tr.ID, &tr.OwnerAddress,
		&tr.Pair.Base.Address, &tr.Pair.Base.Symbol, &tr.Pair.Base.Divisibility,
		&tr.Pair.Quote.Address, &tr.Pair.Quote.Symbol, &tr.Pair.Quote.Divisibility,
		&strategy, &settingsJSON,
		&tr.TradeToken, &tr.Amount, &tr.StartToken, &tr.StartAmount, &tr.AccumulationToken,
		&tr.ReservedAmount, &tr.ReservedToken, &compounding, &signal,
		&lastSignalAt, &tr.PeakProfit, &active, &createdAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}

	if err := json.Unmarshal([]byte(settingsJSON), &tr.Settings); err != nil {
		return domain.Trade{}, fmt.Errorf("decode settings for %s: %w", tr.ID, err)
	}
	tr.Strategy = domain.Strategy(strategy)
	tr.CurrentSignal = domain.Signal(signal)
	tr.Compounding = compounding == 1
	tr.IsActive = active == 1
	if lastSignalAt > 0 {
		tr.LastSignalAt = time.Unix(lastSignalAt, 0)
	}
	if createdAt > 0 {
		tr.CreatedAt = time.Unix(createdAt, 0)
	}
	return tr, nil
}

func scanFlip(row rowScanner) (domain.FlipRecord, error) {
	var rec domain.FlipRecord
	var strategy string
	var executedAt int64
	err := row.Scan(
		&rec.ID, &rec.TradeID, &rec.Owner, &rec.PairSymbol, &rec.Side,
		&rec.TokenIn, &rec.TokenOut, &rec.AmountIn, &rec.AmountOut,
		&rec.Price, &rec.IntentHash, &strategy, &executedAt,
	)
	if err != nil {
		return domain.FlipRecord{}, err
	}
	rec.Strategy = domain.Strategy(strategy)
	rec.ExecutedAt = time.Unix(executedAt, 0)
	return rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
