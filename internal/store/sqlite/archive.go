// Package sqlite archives closed candles to a local database. Write-only:
// live state is always rebuilt from the exchange, the archive exists for
// offline analysis. Batched transactions keep the WAL commit rate low.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"cryptoscreener/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// ArchiveConfig configures the SQLite archive.
type ArchiveConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/candles.db"
}

// Archive is a single-goroutine SQLite writer with transaction batching.
type Archive struct {
	db *sql.DB

	// Optional hook, observes batch commit latency.
	OnCommit func(rows int, elapsed time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (a *Archive) DB() *sql.DB { return a.db }

// New opens the database, enables WAL mode, and ensures the schema.
func New(cfg ArchiveConfig) (*Archive, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer, no connection churn
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Archive{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol    TEXT    NOT NULL,
			timeframe TEXT    NOT NULL,
			ts        INTEGER NOT NULL,
			open      REAL    NOT NULL,
			high      REAL    NOT NULL,
			low       REAL    NOT NULL,
			close     REAL    NOT NULL,
			volume    REAL,
			PRIMARY KEY (symbol, timeframe, ts)
		);

		CREATE TABLE IF NOT EXISTS signals (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			ts         INTEGER NOT NULL,
			symbol     TEXT    NOT NULL,
			direction  TEXT    NOT NULL,
			ratio      REAL    NOT NULL,
			last_delta REAL    NOT NULL,
			avg_delta  REAL    NOT NULL
		);
	`)
	return err
}

// Run reads closed candles from candleCh and inserts them in batched
// transactions. Flushes every batchSize candles OR every flushDelay,
// whichever first. Blocks until ctx is cancelled or candleCh is closed.
func (a *Archive) Run(ctx context.Context, candleCh <-chan model.Candle) {
	batch := make([]model.Candle, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := a.insertBatch(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else if a.OnCommit != nil {
			a.OnCommit(len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case candle, ok := <-candleCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, candle)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertBatch inserts a batch of candles in a single transaction.
func (a *Archive) insertBatch(candles []model.Candle) error {
	tx, err := a.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles (symbol, timeframe, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.Exec(c.Symbol, string(c.Timeframe), c.OpenTime.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// SaveSignal appends one fired signal. Signals are rare, no batching.
func (a *Archive) SaveSignal(sig model.Signal) error {
	_, err := a.db.Exec(
		`INSERT INTO signals (ts, symbol, direction, ratio, last_delta, avg_delta) VALUES (?, ?, ?, ?, ?, ?)`,
		sig.TS.Unix(), sig.Symbol, sig.Direction, sig.Ratio, sig.LastDelta, sig.AvgDelta,
	)
	if err != nil {
		return fmt.Errorf("sqlite insert signal: %w", err)
	}
	return nil
}

// LastCandleTime returns the newest archived candle timestamp for a
// (symbol, timeframe), or zero when none exist.
func (a *Archive) LastCandleTime(symbol string, tf model.Timeframe) (time.Time, error) {
	var ts sql.NullInt64
	err := a.db.QueryRow(
		`SELECT MAX(ts) FROM candles WHERE symbol = ? AND timeframe = ?`,
		symbol, string(tf),
	).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64, 0).UTC(), nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}
