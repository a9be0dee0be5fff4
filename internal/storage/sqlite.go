package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eddiefleurent/schrute_scalper/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS positions (
	id             TEXT PRIMARY KEY,
	ticker         TEXT NOT NULL,
	option_type    TEXT NOT NULL,
	option_symbol  TEXT NOT NULL,
	strike         REAL NOT NULL,
	expiration     TIMESTAMP NOT NULL,
	contracts      INTEGER NOT NULL,
	entry_price    REAL NOT NULL,
	entry_credit   REAL NOT NULL,
	status         TEXT NOT NULL,
	current_price  REAL NOT NULL DEFAULT 0,
	unrealized_pnl REAL NOT NULL DEFAULT 0,
	realized_pnl   REAL NOT NULL DEFAULT 0,
	entry_order_id TEXT NOT NULL DEFAULT '',
	exit_order_id  TEXT NOT NULL DEFAULT '',
	exit_reason    TEXT NOT NULL DEFAULT '',
	entry_time     TIMESTAMP NOT NULL,
	exit_time      TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_open_ticker
	ON positions(ticker) WHERE status = 'open';

CREATE TABLE IF NOT EXISTS trades (
	id          TEXT PRIMARY KEY,
	position_id TEXT NOT NULL,
	action      TEXT NOT NULL,
	contracts   INTEGER NOT NULL,
	price       REAL NOT NULL,
	timestamp   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_position ON trades(position_id);
`

// SQLiteStorage persists state in a SQLite database. The partial unique
// index on open positions enforces one open position per ticker at the
// database level as well.
type SQLiteStorage struct {
	db *sql.DB
}

// Ensure SQLiteStorage implements the storage interface at compile time.
var _ Interface = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens (creating if needed) a SQLite store at path.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

const positionColumns = `id, ticker, option_type, option_symbol, strike, expiration,
	contracts, entry_price, entry_credit, status, current_price, unrealized_pnl,
	realized_pnl, entry_order_id, exit_order_id, exit_reason, entry_time, exit_time`

func scanPosition(row interface{ Scan(...any) error }) (*models.Position, error) {
	var pos models.Position
	var exitTime sql.NullTime
	err := row.Scan(
		&pos.ID, &pos.Ticker, &pos.OptionType, &pos.OptionSymbol, &pos.Strike,
		&pos.Expiration, &pos.Contracts, &pos.EntryPrice, &pos.EntryCredit,
		&pos.Status, &pos.CurrentPrice, &pos.UnrealizedPnL, &pos.RealizedPnL,
		&pos.EntryOrderID, &pos.ExitOrderID, &pos.ExitReason, &pos.EntryTime,
		&exitTime,
	)
	if err != nil {
		return nil, err
	}
	if exitTime.Valid {
		pos.ExitTime = exitTime.Time
	}
	return &pos, nil
}

// GetOpenPosition returns the open position for a ticker, or nil.
func (s *SQLiteStorage) GetOpenPosition(ticker string) (*models.Position, error) {
	row := s.db.QueryRow(
		`SELECT `+positionColumns+` FROM positions WHERE ticker = ? AND status = 'open'`,
		ticker,
	)
	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query open position: %w", err)
	}
	return pos, nil
}

// GetOpenPositions returns all open positions.
func (s *SQLiteStorage) GetOpenPositions() ([]models.Position, error) {
	rows, err := s.db.Query(
		`SELECT ` + positionColumns + ` FROM positions WHERE status = 'open' ORDER BY ticker`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	var out []models.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		out = append(out, *pos)
	}
	return out, rows.Err()
}

// AddPosition inserts a new open position.
func (s *SQLiteStorage) AddPosition(pos *models.Position) error {
	if err := pos.Validate(); err != nil {
		return fmt.Errorf("invalid position: %w", err)
	}

	existing, err := s.GetOpenPosition(pos.Ticker)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrPositionExists, pos.Ticker)
	}

	_, err = s.db.Exec(
		`INSERT INTO positions (`+positionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pos.ID, pos.Ticker, pos.OptionType, pos.OptionSymbol, pos.Strike,
		pos.Expiration, pos.Contracts, pos.EntryPrice, pos.EntryCredit,
		pos.Status, pos.CurrentPrice, pos.UnrealizedPnL, pos.RealizedPnL,
		pos.EntryOrderID, pos.ExitOrderID, pos.ExitReason, pos.EntryTime,
		nullableTime(pos.ExitTime),
	)
	if err != nil {
		return fmt.Errorf("failed to insert position: %w", err)
	}
	return nil
}

// UpdatePosition overwrites a stored open position.
func (s *SQLiteStorage) UpdatePosition(pos *models.Position) error {
	res, err := s.db.Exec(
		`UPDATE positions SET current_price = ?, unrealized_pnl = ?,
		 entry_order_id = ?, exit_order_id = ? WHERE id = ? AND status = 'open'`,
		pos.CurrentPrice, pos.UnrealizedPnL, pos.EntryOrderID, pos.ExitOrderID, pos.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update position: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, pos.ID)
	}
	return nil
}

// ClosePosition marks an open position closed with its final P&L.
func (s *SQLiteStorage) ClosePosition(id string, finalPnL float64, reason string, closedAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE positions SET status = 'closed', realized_pnl = ?, exit_reason = ?,
		 exit_time = ?, unrealized_pnl = 0 WHERE id = ? AND status = 'open'`,
		finalPnL, reason, closedAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to close position: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	return nil
}

// AppendTrade records one executed fill.
func (s *SQLiteStorage) AppendTrade(trade models.Trade) error {
	_, err := s.db.Exec(
		`INSERT INTO trades (id, position_id, action, contracts, price, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		trade.ID, trade.PositionID, trade.Action, trade.Contracts, trade.Price, trade.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

// GetTradesByPosition returns the fills recorded against a position.
func (s *SQLiteStorage) GetTradesByPosition(positionID string) ([]models.Trade, error) {
	rows, err := s.db.Query(
		`SELECT id, position_id, action, contracts, price, timestamp
		 FROM trades WHERE position_id = ? ORDER BY timestamp`,
		positionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var out []models.Trade
	for rows.Next() {
		var tr models.Trade
		if err := rows.Scan(&tr.ID, &tr.PositionID, &tr.Action, &tr.Contracts, &tr.Price, &tr.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// GetHistory returns closed positions, oldest exit first.
func (s *SQLiteStorage) GetHistory() ([]models.Position, error) {
	rows, err := s.db.Query(
		`SELECT ` + positionColumns + ` FROM positions WHERE status = 'closed' ORDER BY exit_time`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []models.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		out = append(out, *pos)
	}
	return out, rows.Err()
}

// GetStatistics aggregates closed-position performance.
func (s *SQLiteStorage) GetStatistics() (*Statistics, error) {
	row := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN realized_pnl >= 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN realized_pnl < 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(realized_pnl), 0),
		       COALESCE(MAX(realized_pnl), 0),
		       COALESCE(MIN(realized_pnl), 0)
		FROM positions WHERE status = 'closed'`)

	var stats Statistics
	var largestWin, largestLoss float64
	if err := row.Scan(&stats.TotalPositions, &stats.WinningPositions,
		&stats.LosingPositions, &stats.TotalPnL, &largestWin, &largestLoss); err != nil {
		return nil, fmt.Errorf("failed to aggregate statistics: %w", err)
	}
	if largestWin > 0 {
		stats.LargestWin = largestWin
	}
	if largestLoss < 0 {
		stats.LargestLoss = largestLoss
	}
	if stats.TotalPositions > 0 {
		stats.WinRate = float64(stats.WinningPositions) / float64(stats.TotalPositions)
	}
	stats.LastUpdated = time.Now().UTC()
	return &stats, nil
}

// GetDailyPnL returns realized P&L for positions closed on a calendar date.
func (s *SQLiteStorage) GetDailyPnL(date time.Time) (float64, error) {
	row := s.db.QueryRow(
		`SELECT COALESCE(SUM(realized_pnl), 0) FROM positions
		 WHERE status = 'closed' AND date(exit_time) = ?`,
		dateKey(date),
	)
	var pnl float64
	if err := row.Scan(&pnl); err != nil {
		return 0, fmt.Errorf("failed to query daily pnl: %w", err)
	}
	return pnl, nil
}

// Save is a no-op: SQLite writes are durable per statement.
func (s *SQLiteStorage) Save() error {
	return nil
}

// Close closes the database handle.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
