package storage

// sqlite.go — archivo histórico de trades y ciclos de analytics.
//
// Estrategia:
//   - `trades`: espejo del trade log JSON. Una fila por salida, INSERT OR IGNORE
//     por id, así que re-archivar el log entero en cada ciclo es idempotente.
//   - `analytics_cycles`: una fila ligera por ciclo (trades, win rate, net P&L,
//     expectancy, señales). Sirve para ver la evolución de la estrategia.
//   - Cache en memoria de ids ya archivados: evita tocar la DB si el log no creció.
//   - Prune automático al arrancar: ciclos > 30d. Los trades no se borran nunca.
//   - Timestamps como unix ms (INTEGER) para que los rangos comparen bien.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/alejandrodnm/snipebot/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
    id            TEXT PRIMARY KEY,
    position_id   TEXT    NOT NULL,
    strategy      TEXT    NOT NULL DEFAULT '',
    token_address TEXT    NOT NULL,
    token_name    TEXT,
    token_symbol  TEXT,
    entry_price   REAL    NOT NULL DEFAULT 0,
    exit_price    REAL    NOT NULL DEFAULT 0,
    entry_time    INTEGER NOT NULL,
    exit_time     INTEGER NOT NULL,
    reason        TEXT    NOT NULL,
    fraction      REAL    NOT NULL DEFAULT 0,
    amount_sold   REAL    NOT NULL DEFAULT 0,
    realized_pnl  REAL    NOT NULL DEFAULT 0,
    realized_pct  REAL    NOT NULL DEFAULT 0,
    exit_tx       TEXT,
    stage         INTEGER NOT NULL DEFAULT 0,
    score         REAL    NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS analytics_cycles (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    computed_at INTEGER NOT NULL,
    trades      INTEGER NOT NULL DEFAULT 0,
    win_rate    REAL    NOT NULL DEFAULT 0,
    net_pnl     REAL    NOT NULL DEFAULT 0,
    expectancy  REAL    NOT NULL DEFAULT 0,
    payoff      REAL    NOT NULL DEFAULT 0,
    open_swing  INTEGER NOT NULL DEFAULT 0,
    open_scalp  INTEGER NOT NULL DEFAULT 0,
    signals     TEXT    NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_trades_exit   ON trades(exit_time DESC);
CREATE INDEX IF NOT EXISTS idx_trades_pos    ON trades(position_id);
CREATE INDEX IF NOT EXISTS idx_cycles_at     ON analytics_cycles(computed_at DESC);
`

const retentionCycles = 30 * 24 * time.Hour

// SQLiteArchive implementa ports.Archive usando SQLite (pure Go, sin CGo).
type SQLiteArchive struct {
	db       *sql.DB
	archived map[string]struct{} // ids de trades ya en la DB
	mu       sync.Mutex
}

// NewSQLiteArchive abre (o crea) la base de datos en la ruta dada.
// Aplica el schema, limpia ciclos antiguos y precarga la cache de ids.
func NewSQLiteArchive(path string) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteArchive: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteArchive: apply schema: %w", err)
	}

	a := &SQLiteArchive{
		db:       db,
		archived: make(map[string]struct{}),
	}
	a.pruneOld(context.Background())
	a.warmCache(context.Background())
	return a, nil
}

// SaveTrades archiva las entradas del trade log que todavía no estén en la DB.
// Devuelve cuántas se insertaron.
func (a *SQLiteArchive) SaveTrades(ctx context.Context, trades []domain.TradeLogEntry) (int, error) {
	toWrite := a.filterNew(trades)
	if len(toWrite) == 0 {
		return 0, nil // el log no creció: la mayoría de ciclos terminan aquí
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("storage.SaveTrades: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO trades
			(id, position_id, strategy, token_address, token_name, token_symbol,
			 entry_price, exit_price, entry_time, exit_time, reason, fraction,
			 amount_sold, realized_pnl, realized_pct, exit_tx, stage, score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("storage.SaveTrades: prepare: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, t := range toWrite {
		res, err := stmt.ExecContext(ctx,
			t.ID,
			t.PositionID,
			string(t.Strategy),
			t.TokenAddress,
			t.TokenName,
			t.TokenSymbol,
			t.EntryPrice,
			t.ExitPrice,
			t.EntryTime.UnixMilli(),
			t.ExitTime.UnixMilli(),
			string(t.Reason),
			t.Fraction,
			t.AmountSold,
			t.RealizedPnL,
			t.RealizedPct,
			t.ExitTx,
			t.Stage,
			t.Score,
		)
		if err != nil {
			return 0, fmt.Errorf("storage.SaveTrades: insert %s: %w", t.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("storage.SaveTrades: commit: %w", err)
	}

	a.mu.Lock()
	for _, t := range toWrite {
		a.archived[t.ID] = struct{}{}
	}
	a.mu.Unlock()
	return inserted, nil
}

// SaveCycle persiste el resumen de un ciclo de analytics.
func (a *SQLiteArchive) SaveCycle(ctx context.Context, snap domain.AnalyticsSnapshot) error {
	signals, err := json.Marshal(snap.Signals)
	if err != nil {
		return fmt.Errorf("storage.SaveCycle: marshal signals: %w", err)
	}
	if snap.Signals == nil {
		signals = []byte("[]")
	}
	if _, err := a.db.ExecContext(ctx, `
		INSERT INTO analytics_cycles
			(computed_at, trades, win_rate, net_pnl, expectancy, payoff, open_swing, open_scalp, signals)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ComputedAt.UnixMilli(),
		snap.Overall.Trades,
		snap.Overall.WinRate,
		snap.Overall.NetPnL,
		snap.Expectancy,
		snap.PayoffRatio,
		snap.OpenSwing,
		snap.OpenScalp,
		string(signals),
	); err != nil {
		return fmt.Errorf("storage.SaveCycle: insert: %w", err)
	}
	return nil
}

// History devuelve los trades archivados con exit_time en el rango dado,
// en orden cronológico de salida.
func (a *SQLiteArchive) History(ctx context.Context, from, to time.Time) ([]domain.TradeLogEntry, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, position_id, strategy, token_address, token_name, token_symbol,
		       entry_price, exit_price, entry_time, exit_time, reason, fraction,
		       amount_sold, realized_pnl, realized_pct, exit_tx, stage, score
		FROM trades
		WHERE exit_time BETWEEN ? AND ?
		ORDER BY exit_time ASC, id ASC
	`, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("storage.History: query: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeLogEntry
	for rows.Next() {
		var t domain.TradeLogEntry
		var strategy, reason string
		var name, symbol, exitTx sql.NullString
		var entryMs, exitMs int64

		if err := rows.Scan(
			&t.ID,
			&t.PositionID,
			&strategy,
			&t.TokenAddress,
			&name,
			&symbol,
			&t.EntryPrice,
			&t.ExitPrice,
			&entryMs,
			&exitMs,
			&reason,
			&t.Fraction,
			&t.AmountSold,
			&t.RealizedPnL,
			&t.RealizedPct,
			&exitTx,
			&t.Stage,
			&t.Score,
		); err != nil {
			return nil, fmt.Errorf("storage.History: scan row: %w", err)
		}

		t.Strategy = domain.Strategy(strategy)
		t.Reason = domain.ExitReason(reason)
		t.TokenName = name.String
		t.TokenSymbol = symbol.String
		t.ExitTx = exitTx.String
		t.EntryTime = time.UnixMilli(entryMs).UTC()
		t.ExitTime = time.UnixMilli(exitMs).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// CycleCount devuelve cuántos ciclos de analytics hay archivados.
func (a *SQLiteArchive) CycleCount(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analytics_cycles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage.CycleCount: %w", err)
	}
	return n, nil
}

// Close cierra la conexión a la base de datos.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}

// --- helpers internos ---

// filterNew devuelve las entradas cuyo id no está en la cache.
func (a *SQLiteArchive) filterNew(trades []domain.TradeLogEntry) []domain.TradeLogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []domain.TradeLogEntry
	for _, t := range trades {
		if t.ID == "" {
			continue
		}
		if _, ok := a.archived[t.ID]; ok {
			continue
		}
		out = append(out, t)
	}
	return out
}

// pruneOld elimina ciclos antiguos para mantener la DB ligera.
func (a *SQLiteArchive) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retentionCycles).UnixMilli()
	a.db.ExecContext(ctx, `DELETE FROM analytics_cycles WHERE computed_at < ?`, cutoff)
}

// warmCache precarga los ids archivados, evitando reinserciones tras un reinicio.
func (a *SQLiteArchive) warmCache(ctx context.Context) {
	rows, err := a.db.QueryContext(ctx, `SELECT id FROM trades`)
	if err != nil {
		return
	}
	defer rows.Close()

	a.mu.Lock()
	defer a.mu.Unlock()
	for rows.Next() {
		var id string
		if rows.Scan(&id) == nil {
			a.archived[id] = struct{}{}
		}
	}
}
