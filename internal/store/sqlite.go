package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	trerrors "signal-tracker/internal/errors"
	"signal-tracker/internal/models"
)

// SQLiteStore implements PositionStore and WatchlistStore using SQLite.
// Write transactions are opened IMMEDIATE so concurrent transitions on the
// same symbol serialize on the database lock.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Tracked positions (Active and Suspended partitions)
	CREATE TABLE IF NOT EXISTS positions (
		symbol TEXT PRIMARY KEY,
		direction TEXT NOT NULL,
		entry_price REAL NOT NULL,
		stop_loss REAL NOT NULL,
		tp1 REAL NOT NULL,
		tp2 REAL NOT NULL,
		tp3 REAL NOT NULL,
		message_ref TEXT NOT NULL,
		state TEXT NOT NULL,
		exit_price REAL,
		opened_at DATETIME NOT NULL,
		suspended_at DATETIME
	);

	-- Closed positions, append-only
	CREATE TABLE IF NOT EXISTS history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		symbol TEXT NOT NULL,
		direction TEXT NOT NULL,
		entry_price REAL NOT NULL,
		stop_loss REAL NOT NULL,
		tp1 REAL NOT NULL,
		tp2 REAL NOT NULL,
		tp3 REAL NOT NULL,
		message_ref TEXT NOT NULL,
		outcome TEXT NOT NULL,
		exit_price REAL,
		opened_at DATETIME NOT NULL,
		suspended_at DATETIME,
		closed_at DATETIME NOT NULL
	);

	-- Watchlist table
	CREATE TABLE IF NOT EXISTS watchlist (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		list_name TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, list_name)
	);

	CREATE INDEX IF NOT EXISTS idx_positions_state ON positions(state);
	CREATE INDEX IF NOT EXISTS idx_history_symbol ON history(symbol);
	CREATE INDEX IF NOT EXISTS idx_watchlist_list ON watchlist(list_name);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Position Methods
// ============================================================================

const selectTracked = `
	SELECT symbol, direction, entry_price, stop_loss, tp1, tp2, tp3, message_ref,
		state, exit_price, opened_at, suspended_at
	FROM positions`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTracked(row rowScanner) (models.Position, error) {
	var p models.Position
	var exitPrice sql.NullFloat64
	var suspendedAt sql.NullTime
	err := row.Scan(&p.Symbol, &p.Direction, &p.EntryPrice, &p.StopLoss,
		&p.TakeProfits[0], &p.TakeProfits[1], &p.TakeProfits[2], &p.MessageRef,
		&p.State, &exitPrice, &p.OpenedAt, &suspendedAt)
	if err != nil {
		return p, err
	}
	p.ExitPrice = exitPrice.Float64
	if suspendedAt.Valid {
		p.SuspendedAt = suspendedAt.Time
	}
	return p, nil
}

// Create inserts a new Active position.
func (s *SQLiteStore) Create(ctx context.Context, p *models.Position) error {
	if err := checkCreate(p); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var state string
	err = tx.QueryRowContext(ctx, `SELECT state FROM positions WHERE symbol = ?`, p.Symbol).Scan(&state)
	switch {
	case err == nil:
		return trerrors.NewConflictError(p.Symbol, "untracked", state)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to check position: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO positions (symbol, direction, entry_price, stop_loss, tp1, tp2, tp3, message_ref, state, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.Symbol, p.Direction, p.EntryPrice, p.StopLoss, p.TakeProfits[0], p.TakeProfits[1], p.TakeProfits[2],
		p.MessageRef, models.StateActive, p.OpenedAt.UTC())
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
			return trerrors.NewConflictError(p.Symbol, "untracked", "")
		}
		return fmt.Errorf("failed to insert position: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	p.State = models.StateActive
	return nil
}

// Get returns the tracked position for symbol.
func (s *SQLiteStore) Get(ctx context.Context, symbol string) (*models.Position, error) {
	p, err := scanTracked(s.db.QueryRowContext(ctx, selectTracked+` WHERE symbol = ?`, symbol))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, trerrors.ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return &p, nil
}

// Transition atomically moves symbol between states.
func (s *SQLiteStore) Transition(ctx context.Context, symbol string, from, to models.State, mutate Mutation) (*models.Position, error) {
	if err := checkTransition(symbol, from, to); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cur, err := scanTracked(tx.QueryRowContext(ctx, selectTracked+` WHERE symbol = ?`, symbol))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, trerrors.NewConflictError(symbol, string(from), "")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load position: %w", err)
	}
	if cur.State != from {
		return nil, trerrors.NewConflictError(symbol, string(from), string(cur.State))
	}

	next := applyMutation(cur, to, mutate)

	if to == models.StateClosed {
		if next.ID == "" {
			next.ID = uuid.NewString()
		}
		if next.ClosedAt.IsZero() {
			next.ClosedAt = time.Now()
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ? AND state = ?`, symbol, from)
		if err != nil {
			return nil, fmt.Errorf("failed to delete position: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return nil, trerrors.NewConflictError(symbol, string(from), "")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO history (id, symbol, direction, entry_price, stop_loss, tp1, tp2, tp3, message_ref, outcome, exit_price, opened_at, suspended_at, closed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, next.ID, next.Symbol, next.Direction, next.EntryPrice, next.StopLoss,
			next.TakeProfits[0], next.TakeProfits[1], next.TakeProfits[2], next.MessageRef,
			next.Outcome, next.ExitPrice, next.OpenedAt.UTC(), nullTime(next.SuspendedAt), next.ClosedAt.UTC())
		if err != nil {
			return nil, fmt.Errorf("failed to append history: %w", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE positions SET state = ?, exit_price = ?, suspended_at = ?
			WHERE symbol = ? AND state = ?
		`, to, next.ExitPrice, nullTime(next.SuspendedAt), symbol, from)
		if err != nil {
			return nil, fmt.Errorf("failed to update position: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return nil, trerrors.NewConflictError(symbol, string(from), "")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &next, nil
}

// List returns the positions in a partition.
func (s *SQLiteStore) List(ctx context.Context, state models.State) ([]models.Position, error) {
	if state == models.StateClosed {
		return s.listHistory(ctx)
	}

	rows, err := s.db.QueryContext(ctx, selectTracked+` WHERE state = ? ORDER BY rowid ASC`, state)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []models.Position
	for rows.Next() {
		p, err := scanTracked(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *SQLiteStore) listHistory(ctx context.Context) ([]models.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, direction, entry_price, stop_loss, tp1, tp2, tp3, message_ref,
			outcome, exit_price, opened_at, suspended_at, closed_at
		FROM history ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var positions []models.Position
	for rows.Next() {
		var p models.Position
		var exitPrice sql.NullFloat64
		var suspendedAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.Symbol, &p.Direction, &p.EntryPrice, &p.StopLoss,
			&p.TakeProfits[0], &p.TakeProfits[1], &p.TakeProfits[2], &p.MessageRef,
			&p.Outcome, &exitPrice, &p.OpenedAt, &suspendedAt, &p.ClosedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		p.State = models.StateClosed
		p.ExitPrice = exitPrice.Float64
		if suspendedAt.Valid {
			p.SuspendedAt = suspendedAt.Time
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Remove drops a tracked position.
func (s *SQLiteStore) Remove(ctx context.Context, symbol string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, symbol)
	if err != nil {
		return fmt.Errorf("failed to remove position: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return trerrors.ErrPositionNotFound
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// ============================================================================
// Watchlist Methods
// ============================================================================

// AddToWatchlist adds a symbol to a watchlist.
func (s *SQLiteStore) AddToWatchlist(ctx context.Context, symbol, listName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO watchlist (symbol, list_name) VALUES (?, ?)
	`, symbol, listName)
	if err != nil {
		return fmt.Errorf("failed to add to watchlist: %w", err)
	}
	return nil
}

// RemoveFromWatchlist removes a symbol from a watchlist.
func (s *SQLiteStore) RemoveFromWatchlist(ctx context.Context, symbol, listName string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM watchlist WHERE symbol = ? AND list_name = ?
	`, symbol, listName)
	if err != nil {
		return fmt.Errorf("failed to remove from watchlist: %w", err)
	}
	return nil
}

// GetWatchlist retrieves symbols from a watchlist in insertion order.
func (s *SQLiteStore) GetWatchlist(ctx context.Context, listName string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol FROM watchlist WHERE list_name = ? ORDER BY id ASC
	`, listName)
	if err != nil {
		return nil, fmt.Errorf("failed to query watchlist: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, fmt.Errorf("failed to scan watchlist: %w", err)
		}
		symbols = append(symbols, symbol)
	}
	return symbols, rows.Err()
}

var (
	_ PositionStore  = (*SQLiteStore)(nil)
	_ WatchlistStore = (*SQLiteStore)(nil)
)

// Ping verifies the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
