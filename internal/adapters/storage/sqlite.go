package storage

// sqlite.go: un fichero SQLite por experimento.
//
// Tablas:
//   - `meta`: schema_version, spec del experimento y último resultado (JSON).
//   - `account`: una sola fila con bankroll inicial y cash.
//   - `runs`: una fila por scan.
//   - `trades`: una fila por fill simulado; se cierra al resolver el mercado.
//
// Los timestamps se guardan como texto UTC de ancho fijo para que el orden
// lexicográfico en SQL coincida con el cronológico.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// SchemaVersion se guarda en meta para detectar ficheros de otra versión.
const SchemaVersion = "1"

const tsLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS account (
    id                INTEGER PRIMARY KEY CHECK (id = 1),
    starting_bankroll REAL NOT NULL,
    cash              REAL NOT NULL,
    updated_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
    id              TEXT PRIMARY KEY,
    experiment_tag  TEXT    NOT NULL,
    started_at      TEXT    NOT NULL,
    finished_at     TEXT    NOT NULL,
    model           TEXT    NOT NULL,
    sizer           TEXT    NOT NULL,
    query           TEXT    NOT NULL DEFAULT '',
    status          TEXT    NOT NULL,
    markets_seen    INTEGER NOT NULL DEFAULT 0,
    markets_scanned INTEGER NOT NULL DEFAULT 0,
    signal_count    INTEGER NOT NULL DEFAULT 0,
    fill_count      INTEGER NOT NULL DEFAULT 0,
    cash_before     REAL    NOT NULL DEFAULT 0,
    cash_after      REAL    NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS trades (
    seq            INTEGER PRIMARY KEY AUTOINCREMENT,
    id             TEXT    NOT NULL UNIQUE,
    run_id         TEXT    NOT NULL,
    experiment_tag TEXT    NOT NULL,
    opened_at      TEXT    NOT NULL,
    market_id      TEXT    NOT NULL,
    slug           TEXT    NOT NULL DEFAULT '',
    question       TEXT    NOT NULL DEFAULT '',
    side           TEXT    NOT NULL,
    token_id       TEXT    NOT NULL,
    requested_usd  REAL    NOT NULL,
    filled_usd     REAL    NOT NULL,
    shares         REAL    NOT NULL,
    avg_price      REAL    NOT NULL,
    levels_used    INTEGER NOT NULL,
    fully_filled   INTEGER NOT NULL,
    min_price      REAL    NOT NULL DEFAULT 0,
    max_price      REAL    NOT NULL DEFAULT 0,
    slippage_bps   REAL    NOT NULL DEFAULT 0,
    model_price    REAL    NOT NULL DEFAULT 0,
    market_price   REAL    NOT NULL DEFAULT 0,
    edge           REAL    NOT NULL DEFAULT 0,
    confidence     REAL    NOT NULL DEFAULT 0,
    status         TEXT    NOT NULL DEFAULT 'open',
    closed_at      TEXT,
    exit_price     REAL    NOT NULL DEFAULT 0,
    realized_pnl   REAL    NOT NULL DEFAULT 0,
    notes          TEXT    NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_runs_started   ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_trades_opened  ON trades(experiment_tag, opened_at);
CREATE INDEX IF NOT EXISTS idx_trades_status  ON trades(status);
CREATE INDEX IF NOT EXISTS idx_trades_slug    ON trades(slug);
`

// ErrNotInitialized indica que el store no tiene cuenta todavía (falta Init).
var ErrNotInitialized = errors.New("experiment store not initialized")

// SQLiteStore implementa ports.ExperimentStore usando SQLite (pure Go, sin CGo).
type SQLiteStore struct {
	db      *sql.DB
	path    string
	now     func() time.Time
	release func()
}

// NewSQLiteStore abre (o crea) la base de datos en la ruta dada y aplica el schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}

	var version string
	err = db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.Exec(`INSERT INTO meta (key, value) VALUES ('schema_version', ?)`, SchemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage.NewSQLiteStore: write schema version: %w", err)
		}
	case err != nil:
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: read schema version: %w", err)
	case version != SchemaVersion:
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: %q has schema version %s, want %s", path, version, SchemaVersion)
	}

	return &SQLiteStore{db: db, path: path, now: time.Now}, nil
}

// Path devuelve la ruta del fichero.
func (s *SQLiteStore) Path() string { return s.path }

// Close cierra la conexión a la base de datos.
func (s *SQLiteStore) Close() error {
	if s.release != nil {
		s.release()
		s.release = nil
	}
	return s.db.Close()
}

// Init crea la cuenta con el bankroll del spec si no existe y guarda el spec.
func (s *SQLiteStore) Init(ctx context.Context, spec domain.ExperimentSpec) (domain.Account, error) {
	raw, err := json.Marshal(spec)
	if err != nil {
		return domain.Account{}, fmt.Errorf("storage.Init: marshal spec: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Account{}, fmt.Errorf("storage.Init: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := formatTS(s.now())
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO account (id, starting_bankroll, cash, updated_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		spec.InitBankroll, spec.InitBankroll, now,
	); err != nil {
		return domain.Account{}, fmt.Errorf("storage.Init: insert account: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('spec', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		string(raw),
	); err != nil {
		return domain.Account{}, fmt.Errorf("storage.Init: save spec: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Account{}, fmt.Errorf("storage.Init: commit: %w", err)
	}
	return s.Account(ctx)
}

// Account devuelve el estado de caja.
func (s *SQLiteStore) Account(ctx context.Context) (domain.Account, error) {
	var a domain.Account
	var updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT starting_bankroll, cash, updated_at FROM account WHERE id = 1`,
	).Scan(&a.StartingBankroll, &a.Cash, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, fmt.Errorf("storage.Account: %s: %w", s.path, ErrNotInitialized)
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("storage.Account: %w", err)
	}
	a.UpdatedAt = parseTS(updated)
	return a, nil
}

// UpdateCash fija el cash de la cuenta.
func (s *SQLiteStore) UpdateCash(ctx context.Context, cash float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE account SET cash = ?, updated_at = ? WHERE id = 1`, cash, formatTS(s.now()))
	if err != nil {
		return fmt.Errorf("storage.UpdateCash: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.UpdateCash: %w", ErrNotInitialized)
	}
	return nil
}

// SaveRun persiste la fila de un scan.
func (s *SQLiteStore) SaveRun(ctx context.Context, r domain.ScanRun) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
			(id, experiment_tag, started_at, finished_at, model, sizer, query, status,
			 markets_seen, markets_scanned, signal_count, fill_count, cash_before, cash_after)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ExperimentTag, formatTS(r.StartedAt), formatTS(r.FinishedAt),
		r.Model, r.Sizer, r.Query, string(r.Status),
		r.MarketsSeen, r.MarketsScanned, r.SignalCount, r.FillCount, r.CashBefore, r.CashAfter,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveRun: %w", err)
	}
	return nil
}

// ListRuns devuelve los últimos runs, más recientes primero. limit <= 0 = todos.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.ScanRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, experiment_tag, started_at, finished_at, model, sizer, query, status,
		       markets_seen, markets_scanned, signal_count, fill_count, cash_before, cash_after
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.ListRuns: query: %w", err)
	}
	defer rows.Close()

	var out []domain.ScanRun
	for rows.Next() {
		var r domain.ScanRun
		var started, finished, status string
		if err := rows.Scan(&r.ID, &r.ExperimentTag, &started, &finished, &r.Model, &r.Sizer, &r.Query, &status,
			&r.MarketsSeen, &r.MarketsScanned, &r.SignalCount, &r.FillCount, &r.CashBefore, &r.CashAfter); err != nil {
			return nil, fmt.Errorf("storage.ListRuns: scan row: %w", err)
		}
		r.StartedAt, r.FinishedAt = parseTS(started), parseTS(finished)
		r.Status = domain.ScanStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordFill inserta el trade y actualiza el cash en una transacción.
func (s *SQLiteStore) RecordFill(ctx context.Context, t domain.PaperTrade, cashAfter float64) (domain.PaperTrade, error) {
	if err := t.Fill.Validate(); err != nil {
		return domain.PaperTrade{}, fmt.Errorf("storage.RecordFill: %w", err)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = domain.TradeOpen
	}
	notes, err := json.Marshal(t.Notes)
	if err != nil {
		return domain.PaperTrade{}, fmt.Errorf("storage.RecordFill: marshal notes: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.PaperTrade{}, fmt.Errorf("storage.RecordFill: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO trades
			(id, run_id, experiment_tag, opened_at, market_id, slug, question, side, token_id,
			 requested_usd, filled_usd, shares, avg_price, levels_used, fully_filled,
			 min_price, max_price, slippage_bps, model_price, market_price, edge, confidence,
			 status, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.RunID, t.ExperimentTag, formatTS(t.OpenedAt), t.MarketID, t.Slug, t.Question,
		string(t.Side), t.TokenID,
		t.Fill.RequestedUSD, t.Fill.FilledUSD, t.Fill.Shares, t.Fill.AvgPrice, t.Fill.LevelsUsed,
		boolToInt(t.Fill.FullyFilled), t.Fill.MinPrice, t.Fill.MaxPrice, t.Fill.SlippageBps,
		t.ModelPrice, t.MarketPrice, t.Edge, t.Confidence, string(t.Status), string(notes),
	); err != nil {
		return domain.PaperTrade{}, fmt.Errorf("storage.RecordFill: insert trade: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE account SET cash = ?, updated_at = ? WHERE id = 1`,
		cashAfter, formatTS(s.now()))
	if err != nil {
		return domain.PaperTrade{}, fmt.Errorf("storage.RecordFill: update cash: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.PaperTrade{}, fmt.Errorf("storage.RecordFill: %w", ErrNotInitialized)
	}

	if err := tx.Commit(); err != nil {
		return domain.PaperTrade{}, fmt.Errorf("storage.RecordFill: commit: %w", err)
	}
	return t, nil
}

const tradeColumns = `
	id, run_id, experiment_tag, opened_at, market_id, slug, question, side, token_id,
	requested_usd, filled_usd, shares, avg_price, levels_used, fully_filled,
	min_price, max_price, slippage_bps, model_price, market_price, edge, confidence,
	status, closed_at, exit_price, realized_pnl, notes`

// LoadFills devuelve los fills de tag con opened_at en [w.Start, w.End), en orden cronológico.
func (s *SQLiteStore) LoadFills(ctx context.Context, tag string, w domain.TimeWindow) ([]domain.PaperTrade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE experiment_tag = ?`
	args := []any{tag}
	if !w.Start.IsZero() {
		query += ` AND opened_at >= ?`
		args = append(args, formatTS(w.Start))
	}
	if !w.End.IsZero() {
		query += ` AND opened_at < ?`
		args = append(args, formatTS(w.End))
	}
	query += ` ORDER BY opened_at ASC, seq ASC`

	trades, err := s.queryTrades(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadFills: %w", err)
	}
	return trades, nil
}

// OpenTrades devuelve las posiciones abiertas en orden de apertura.
func (s *SQLiteStore) OpenTrades(ctx context.Context) ([]domain.PaperTrade, error) {
	trades, err := s.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE status = ? ORDER BY opened_at ASC, seq ASC`, string(domain.TradeOpen))
	if err != nil {
		return nil, fmt.Errorf("storage.OpenTrades: %w", err)
	}
	return trades, nil
}

// ClosedTrades devuelve los trades cerrados, los más recientes primero.
func (s *SQLiteStore) ClosedTrades(ctx context.Context) ([]domain.PaperTrade, error) {
	trades, err := s.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE status = ? ORDER BY closed_at DESC, seq DESC`, string(domain.TradeClosed))
	if err != nil {
		return nil, fmt.Errorf("storage.ClosedTrades: %w", err)
	}
	return trades, nil
}

// ResolveMarket liquida los trades abiertos del mercado: cada share paga 1 o 0
// según el lado, y el payout se acredita al cash.
func (s *SQLiteStore) ResolveMarket(ctx context.Context, slug string, outcomeYes bool, at time.Time) ([]domain.PaperTrade, error) {
	open, err := s.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE status = ? AND slug = ? ORDER BY opened_at ASC, seq ASC`,
		string(domain.TradeOpen), slug)
	if err != nil {
		return nil, fmt.Errorf("storage.ResolveMarket: load open: %w", err)
	}
	if len(open) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("storage.ResolveMarket: begin tx: %w", err)
	}
	defer tx.Rollback()

	settled := make([]domain.PaperTrade, 0, len(open))
	payout := 0.0
	for _, t := range open {
		closed := t.Settle(outcomeYes, at)
		payout += closed.Fill.Shares * closed.ExitPrice
		if _, err := tx.ExecContext(ctx,
			`UPDATE trades SET status = ?, closed_at = ?, exit_price = ?, realized_pnl = ? WHERE id = ?`,
			string(closed.Status), formatTS(*closed.ClosedAt), closed.ExitPrice, closed.RealizedPnL, closed.ID,
		); err != nil {
			return nil, fmt.Errorf("storage.ResolveMarket: close %s: %w", t.ID, err)
		}
		settled = append(settled, closed)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE account SET cash = cash + ?, updated_at = ? WHERE id = 1`, payout, formatTS(s.now()),
	); err != nil {
		return nil, fmt.Errorf("storage.ResolveMarket: credit payout: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("storage.ResolveMarket: commit: %w", err)
	}
	return settled, nil
}

// LoadSpec devuelve el spec guardado por Init.
func (s *SQLiteStore) LoadSpec(ctx context.Context) (domain.ExperimentSpec, bool, error) {
	var spec domain.ExperimentSpec
	ok, err := s.loadMeta(ctx, "spec", &spec)
	if err != nil {
		return domain.ExperimentSpec{}, false, fmt.Errorf("storage.LoadSpec: %w", err)
	}
	return spec, ok, nil
}

// SaveResult guarda el último resultado del experimento.
func (s *SQLiteStore) SaveResult(ctx context.Context, r domain.ExperimentResult) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("storage.SaveResult: marshal: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('result', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, string(raw),
	); err != nil {
		return fmt.Errorf("storage.SaveResult: %w", err)
	}
	return nil
}

// LoadResult devuelve el último resultado guardado.
func (s *SQLiteStore) LoadResult(ctx context.Context) (domain.ExperimentResult, bool, error) {
	var r domain.ExperimentResult
	ok, err := s.loadMeta(ctx, "result", &r)
	if err != nil {
		return domain.ExperimentResult{}, false, fmt.Errorf("storage.LoadResult: %w", err)
	}
	return r, ok, nil
}

// --- helpers internos ---

func (s *SQLiteStore) loadMeta(ctx context.Context, key string, dst any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *SQLiteStore) queryTrades(ctx context.Context, query string, args ...any) ([]domain.PaperTrade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []domain.PaperTrade
	for rows.Next() {
		var t domain.PaperTrade
		var opened, side, status, notes string
		var closedAt sql.NullString
		var fully int
		if err := rows.Scan(
			&t.ID, &t.RunID, &t.ExperimentTag, &opened, &t.MarketID, &t.Slug, &t.Question, &side, &t.TokenID,
			&t.Fill.RequestedUSD, &t.Fill.FilledUSD, &t.Fill.Shares, &t.Fill.AvgPrice, &t.Fill.LevelsUsed, &fully,
			&t.Fill.MinPrice, &t.Fill.MaxPrice, &t.Fill.SlippageBps,
			&t.ModelPrice, &t.MarketPrice, &t.Edge, &t.Confidence,
			&status, &closedAt, &t.ExitPrice, &t.RealizedPnL, &notes,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		t.OpenedAt = parseTS(opened)
		t.Side = domain.Side(side)
		t.Status = domain.TradeStatus(status)
		t.Fill.FullyFilled = fully == 1
		if closedAt.Valid {
			ts := parseTS(closedAt.String)
			t.ClosedAt = &ts
		}
		if notes != "" && notes != "null" {
			if err := json.Unmarshal([]byte(notes), &t.Notes); err != nil {
				return nil, fmt.Errorf("decode notes of trade %s: %w", t.ID, err)
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
