package storage

// Durable engine state in a single local file.
//
// Layout:
//   - `positions`: one row per open position (UPSERT by id). Legs are a
//     JSON column: they are read and written as a unit, never queried.
//   - `closed_trades`: append-only audit log, one row per close.
//   - `decisions`: one row per decision with the full trace as JSON.
//     Pruned on a retention window; the engine calls PruneDecisions once
//     per cycle.
//   - `risk_state`: a single row holding the persisted risk snapshot, so
//     a restart resumes halts, anchors and the breaker streak exactly.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stargazecap/optimus/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
    id                TEXT PRIMARY KEY,
    underlying        TEXT    NOT NULL,
    tier              TEXT    NOT NULL,
    legs              TEXT    NOT NULL,
    contracts         INTEGER NOT NULL,
    entry_credit      REAL    NOT NULL,
    entry_date        TEXT    NOT NULL,
    entry_price       REAL    NOT NULL,
    entry_trend_score REAL    NOT NULL DEFAULT 0,
    entry_regime      TEXT    NOT NULL DEFAULT '',
    entry_iv_rank     REAL    NOT NULL DEFAULT 0,
    point_value       REAL    NOT NULL,
    max_loss          REAL    NOT NULL DEFAULT 0,
    roll_count        INTEGER NOT NULL DEFAULT 0,
    last_roll_date    TEXT    NOT NULL DEFAULT '',
    status            TEXT    NOT NULL,
    current_value     REAL    NOT NULL DEFAULT 0,
    remaining_dte     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS closed_trades (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    position_id       TEXT    NOT NULL,
    underlying        TEXT    NOT NULL,
    tier              TEXT    NOT NULL,
    contracts         INTEGER NOT NULL,
    entry_date        TEXT    NOT NULL,
    exit_date         TEXT    NOT NULL,
    entry_credit      REAL    NOT NULL,
    exit_value        REAL    NOT NULL,
    realized_pnl      REAL    NOT NULL,
    reason            TEXT    NOT NULL,
    roll_count        INTEGER NOT NULL DEFAULT 0,
    entry_trend_score REAL    NOT NULL DEFAULT 0,
    entry_regime      TEXT    NOT NULL DEFAULT '',
    entry_iv_rank     REAL    NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS decisions (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    decided_at TEXT NOT NULL,
    kind       TEXT NOT NULL,
    asset      TEXT NOT NULL,
    payload    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_state (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    payload    TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_positions_underlying ON positions(underlying);
CREATE INDEX IF NOT EXISTS idx_trades_exit          ON closed_trades(exit_date DESC);
CREATE INDEX IF NOT EXISTS idx_decisions_at         ON decisions(decided_at);
`

// SQLiteStore implements ports.StateStore on SQLite (pure Go, no CGo).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at the given path and
// applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// SavePosition inserts or updates one position by id.
func (s *SQLiteStore) SavePosition(ctx context.Context, p domain.Position) error {
	legs, err := json.Marshal(p.Legs)
	if err != nil {
		return fmt.Errorf("storage.SavePosition: marshal legs for %s: %w", p.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO positions
			(id, underlying, tier, legs, contracts, entry_credit, entry_date,
			 entry_price, entry_trend_score, entry_regime, entry_iv_rank,
			 point_value, max_loss, roll_count, last_roll_date, status,
			 current_value, remaining_dte)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			legs           = excluded.legs,
			contracts      = excluded.contracts,
			entry_credit   = excluded.entry_credit,
			roll_count     = excluded.roll_count,
			last_roll_date = excluded.last_roll_date,
			status         = excluded.status,
			current_value  = excluded.current_value,
			remaining_dte  = excluded.remaining_dte
	`,
		p.ID, p.Underlying, p.Tier.String(), string(legs), p.Contracts,
		p.EntryCredit, encodeTime(p.EntryDate), p.EntryPrice,
		p.EntryTrendScore, p.EntryRegime.String(), p.EntryIVRank,
		p.PointValue, p.MaxLoss, p.RollCount, encodeTime(p.LastRollDate),
		string(p.Status), p.CurrentValue, p.RemainingDTE,
	)
	if err != nil {
		return fmt.Errorf("storage.SavePosition: upsert %s: %w", p.ID, err)
	}
	return nil
}

// OpenPositions returns every persisted position, orphans included. The
// engine decides what to do with non-active statuses on restart.
func (s *SQLiteStore) OpenPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, underlying, tier, legs, contracts, entry_credit, entry_date,
		       entry_price, entry_trend_score, entry_regime, entry_iv_rank,
		       point_value, max_loss, roll_count, last_roll_date, status,
		       current_value, remaining_dte
		FROM positions
		ORDER BY underlying, entry_date
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.OpenPositions: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var tier, legs, entryDate, regime, lastRoll, status string
		if err := rows.Scan(
			&p.ID, &p.Underlying, &tier, &legs, &p.Contracts,
			&p.EntryCredit, &entryDate, &p.EntryPrice,
			&p.EntryTrendScore, &regime, &p.EntryIVRank,
			&p.PointValue, &p.MaxLoss, &p.RollCount, &lastRoll, &status,
			&p.CurrentValue, &p.RemainingDTE,
		); err != nil {
			return nil, fmt.Errorf("storage.OpenPositions: scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(legs), &p.Legs); err != nil {
			return nil, fmt.Errorf("storage.OpenPositions: legs for %s: %w", p.ID, err)
		}
		p.Tier = domain.TierFromString(tier)
		p.EntryRegime = domain.RegimeFromString(regime)
		p.Status = domain.PositionStatus(status)
		p.EntryDate = decodeTime(entryDate)
		p.LastRollDate = decodeTime(lastRoll)
		out = append(out, p)
	}
	return out, rows.Err()
}

// CloseTrade removes the position and appends its audit record in one
// transaction, so a crash between the two cannot double-count.
func (s *SQLiteStore) CloseTrade(ctx context.Context, id string, trade domain.ClosedTrade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.CloseTrade: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("storage.CloseTrade: delete %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO closed_trades
			(position_id, underlying, tier, contracts, entry_date, exit_date,
			 entry_credit, exit_value, realized_pnl, reason, roll_count,
			 entry_trend_score, entry_regime, entry_iv_rank)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		trade.PositionID, trade.Underlying, trade.Tier.String(), trade.Contracts,
		encodeTime(trade.EntryDate), encodeTime(trade.ExitDate),
		trade.EntryCredit, trade.ExitValue, trade.RealizedPnL, string(trade.Reason),
		trade.RollCount, trade.EntryTrendScore, trade.EntryRegime.String(), trade.EntryIVRank,
	); err != nil {
		return fmt.Errorf("storage.CloseTrade: insert trade %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.CloseTrade: commit: %w", err)
	}
	return nil
}

// ClosedTrades returns the most recent closed trades, newest first.
// limit <= 0 means no limit.
func (s *SQLiteStore) ClosedTrades(ctx context.Context, limit int) ([]domain.ClosedTrade, error) {
	q := `
		SELECT position_id, underlying, tier, contracts, entry_date, exit_date,
		       entry_credit, exit_value, realized_pnl, reason, roll_count,
		       entry_trend_score, entry_regime, entry_iv_rank
		FROM closed_trades
		ORDER BY exit_date DESC, id DESC
	`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.ClosedTrades: query: %w", err)
	}
	defer rows.Close()

	var out []domain.ClosedTrade
	for rows.Next() {
		var t domain.ClosedTrade
		var tier, entryDate, exitDate, reason, regime string
		if err := rows.Scan(
			&t.PositionID, &t.Underlying, &tier, &t.Contracts,
			&entryDate, &exitDate, &t.EntryCredit, &t.ExitValue,
			&t.RealizedPnL, &reason, &t.RollCount,
			&t.EntryTrendScore, &regime, &t.EntryIVRank,
		); err != nil {
			return nil, fmt.Errorf("storage.ClosedTrades: scan row: %w", err)
		}
		t.Tier = domain.TierFromString(tier)
		t.Reason = domain.ExitReason(reason)
		t.EntryRegime = domain.RegimeFromString(regime)
		t.EntryDate = decodeTime(entryDate)
		t.ExitDate = decodeTime(exitDate)
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveDecision appends one decision with its full trace as JSON.
func (s *SQLiteStore) SaveDecision(ctx context.Context, d domain.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("storage.SaveDecision: marshal: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (decided_at, kind, asset, payload) VALUES (?, ?, ?, ?)
	`, encodeTime(d.At), d.Kind.String(), d.Asset, string(payload)); err != nil {
		return fmt.Errorf("storage.SaveDecision: insert: %w", err)
	}
	return nil
}

// SaveRiskState overwrites the single risk snapshot row.
func (s *SQLiteStore) SaveRiskState(ctx context.Context, snap domain.RiskSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("storage.SaveRiskState: marshal: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_state (id, payload, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload    = excluded.payload,
			updated_at = excluded.updated_at
	`, string(payload), encodeTime(snap.UpdatedAt)); err != nil {
		return fmt.Errorf("storage.SaveRiskState: upsert: %w", err)
	}
	return nil
}

// LoadRiskState returns the persisted snapshot, or ok=false on a fresh
// database.
func (s *SQLiteStore) LoadRiskState(ctx context.Context) (domain.RiskSnapshot, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM risk_state WHERE id = 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return domain.RiskSnapshot{}, false, nil
	}
	if err != nil {
		return domain.RiskSnapshot{}, false, fmt.Errorf("storage.LoadRiskState: query: %w", err)
	}

	var snap domain.RiskSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return domain.RiskSnapshot{}, false, fmt.Errorf("storage.LoadRiskState: unmarshal: %w", err)
	}
	return snap, true, nil
}

// PruneDecisions deletes decision rows older than the cutoff.
func (s *SQLiteStore) PruneDecisions(ctx context.Context, cutoff time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM decisions WHERE decided_at < ?`, encodeTime(cutoff),
	); err != nil {
		return fmt.Errorf("storage.PruneDecisions: delete: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Times are stored as fixed-width RFC3339 UTC strings: lexicographic
// order matches chronological order, which the prune and the index rely
// on. RFC3339Nano would drop trailing zeros and break that.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func decodeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
