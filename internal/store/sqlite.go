package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"hot-crypto/internal/models"
)

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB

	// freshness caches the newest candle timestamp per symbol/interval so the
	// engine's staleness checks do not hit the database every loop.
	mu        sync.RWMutex
	freshness map[string]time.Time
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{
		db:        db,
		freshness: make(map[string]time.Time),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS candles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		interval TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, interval, timestamp)
	);

	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		mode TEXT NOT NULL,
		symbols TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		initial_cash REAL NOT NULL,
		final_equity REAL,
		status TEXT NOT NULL DEFAULT 'running'
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		level TEXT NOT NULL,
		symbol TEXT,
		strategy TEXT,
		event_type TEXT NOT NULL,
		message TEXT NOT NULL,
		payload TEXT,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		strategy TEXT NOT NULL,
		side TEXT NOT NULL,
		qty REAL NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		pnl REAL NOT NULL,
		win INTEGER NOT NULL,
		opened_at DATETIME NOT NULL,
		closed_at DATETIME NOT NULL,
		reason TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_candles_symbol_interval ON candles(symbol, interval);
	CREATE INDEX IF NOT EXISTS idx_candles_timestamp ON candles(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
	CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Candles
// ============================================================================

// SaveCandles upserts candles keyed on (symbol, interval, timestamp).
func (s *SQLiteStore) SaveCandles(ctx context.Context, symbol, interval string, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, interval, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare candle insert: %w", err)
	}
	defer stmt.Close()

	newest := time.Time{}
	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, symbol, interval, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return fmt.Errorf("insert candle: %w", err)
		}
		if c.Timestamp.After(newest) {
			newest = c.Timestamp
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit candles: %w", err)
	}

	s.mu.Lock()
	key := symbol + "/" + interval
	if newest.After(s.freshness[key]) {
		s.freshness[key] = newest
	}
	s.mu.Unlock()

	return nil
}

// GetCandles returns candles in [from, to] ordered oldest first.
func (s *SQLiteStore) GetCandles(ctx context.Context, symbol, interval string, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND interval = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, symbol, interval, from, to)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candles: %w", err)
	}

	return candles, nil
}

// GetLastCandleTime returns the newest stored candle timestamp, or the zero
// time when nothing is stored for the pair.
func (s *SQLiteStore) GetLastCandleTime(ctx context.Context, symbol, interval string) (time.Time, error) {
	s.mu.RLock()
	cached, ok := s.freshness[symbol+"/"+interval]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	var ts sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(timestamp) FROM candles WHERE symbol = ? AND interval = ?
	`, symbol, interval).Scan(&ts)
	if err != nil && err != sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("query candle freshness: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}

	s.mu.Lock()
	s.freshness[symbol+"/"+interval] = ts.Time
	s.mu.Unlock()

	return ts.Time, nil
}

// ============================================================================
// Runs
// ============================================================================

// CreateRun inserts a new run row and returns its ID.
func (s *SQLiteStore) CreateRun(ctx context.Context, mode string, symbols []string, timeframe string, initialCash float64, at time.Time) (int64, error) {
	symbolsJSON, err := json.Marshal(symbols)
	if err != nil {
		return 0, fmt.Errorf("marshal symbols: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (started_at, mode, symbols, timeframe, initial_cash, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, at, mode, string(symbolsJSON), timeframe, initialCash, RunRunning)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("run insert id: %w", err)
	}
	return id, nil
}

// EndRun stamps the run with its final equity and terminal status.
func (s *SQLiteStore) EndRun(ctx context.Context, runID int64, finalEquity float64, status string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET ended_at = ?, final_equity = ?, status = ? WHERE id = ?
	`, at, finalEquity, status, runID)
	if err != nil {
		return fmt.Errorf("update run %d: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run %d: %w", runID, err)
	}
	if n == 0 {
		return fmt.Errorf("run %d not found", runID)
	}
	return nil
}

// GetRun returns the run with the given ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID int64) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, ended_at, mode, symbols, timeframe, initial_cash, final_equity, status
		FROM runs WHERE id = ?
	`, runID)
	return scanRun(row)
}

// GetLastRun returns the most recently started run.
func (s *SQLiteStore) GetLastRun(ctx context.Context) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, ended_at, mode, symbols, timeframe, initial_cash, final_equity, status
		FROM runs ORDER BY id DESC LIMIT 1
	`)
	return scanRun(row)
}

func scanRun(row *sql.Row) (Run, error) {
	var (
		r           Run
		endedAt     sql.NullTime
		symbolsJSON string
		finalEquity sql.NullFloat64
	)
	err := row.Scan(&r.ID, &r.StartedAt, &endedAt, &r.Mode, &symbolsJSON, &r.Timeframe, &r.InitialCash, &finalEquity, &r.Status)
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	if endedAt.Valid {
		r.EndedAt = endedAt.Time
	}
	if finalEquity.Valid {
		r.FinalEquity = finalEquity.Float64
	}
	if err := json.Unmarshal([]byte(symbolsJSON), &r.Symbols); err != nil {
		return Run{}, fmt.Errorf("unmarshal run symbols: %w", err)
	}
	return r, nil
}

// ============================================================================
// Event journal
// ============================================================================

// LogEvent appends one event to the journal.
func (s *SQLiteStore) LogEvent(ctx context.Context, e Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (run_id, timestamp, level, symbol, strategy, event_type, message, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.RunID, e.At, e.Level, e.Symbol, e.Strategy, string(e.Type), e.Message, e.Payload)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetEvents returns journal rows matching the filter, newest first.
func (s *SQLiteStore) GetEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	query := "SELECT id, run_id, timestamp, level, symbol, strategy, event_type, message, payload FROM events WHERE 1=1"
	args := []interface{}{}

	if filter.RunID > 0 {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Type != "" {
		query += " AND event_type = ?"
		args = append(args, string(filter.Type))
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since)
	}

	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e                         Event
			symbol, strategy, payload sql.NullString
			eventType                 string
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.At, &e.Level, &symbol, &strategy, &eventType, &e.Message, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Symbol = symbol.String
		e.Strategy = strategy.String
		e.Payload = payload.String
		e.Type = EventType(eventType)
		events = append(events, e)
	}

	return events, rows.Err()
}

// ============================================================================
// Trades
// ============================================================================

// LogTrade records one closed trade under the given run.
func (s *SQLiteStore) LogTrade(ctx context.Context, runID int64, result models.TradeResult) error {
	win := 0
	if result.Win {
		win = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (run_id, symbol, strategy, side, qty, entry_price, exit_price, pnl, win, opened_at, closed_at, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, result.Symbol, string(result.Strategy), string(result.Side), result.Qty,
		result.EntryPrice, result.ExitPrice, result.PnL, win, result.OpenedAt, result.ClosedAt, result.Reason)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetTrades returns closed trades matching the filter, newest close first.
func (s *SQLiteStore) GetTrades(ctx context.Context, filter TradeFilter) ([]models.TradeResult, error) {
	query := "SELECT symbol, strategy, side, qty, entry_price, exit_price, pnl, win, opened_at, closed_at, reason FROM trades WHERE 1=1"
	args := []interface{}{}

	if filter.RunID > 0 {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Strategy != "" {
		query += " AND strategy = ?"
		args = append(args, filter.Strategy)
	}
	if !filter.Since.IsZero() {
		query += " AND closed_at >= ?"
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		query += " AND closed_at <= ?"
		args = append(args, filter.Until)
	}

	query += " ORDER BY closed_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.TradeResult
	for rows.Next() {
		var (
			t              models.TradeResult
			strategy, side string
			win            int
		)
		if err := rows.Scan(&t.Symbol, &strategy, &side, &t.Qty, &t.EntryPrice, &t.ExitPrice, &t.PnL, &win, &t.OpenedAt, &t.ClosedAt, &t.Reason); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Strategy = models.StrategyID(strategy)
		t.Side = models.PositionSide(side)
		t.Win = win == 1
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

var _ Store = (*SQLiteStore)(nil)
