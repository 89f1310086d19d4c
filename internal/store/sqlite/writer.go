package sqlite

import (
	"context"
	"database/sql"
	"log"
	"time"

	"ta-enginev1/internal/model"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
	keepSnapshots     = 10
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // e.g. "data/candles.db"
}

// Writer is a single-connection SQLite writer. Candle inserts are batched
// into transactions; snapshots are written immediately. It satisfies
// model.CandleWriter and model.SnapshotStore.
type Writer struct {
	db *sql.DB
}

var (
	_ model.CandleWriter  = (*Writer)(nil)
	_ model.SnapshotStore = (*Writer)(nil)
)

// DB exposes the underlying handle for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens the database in WAL mode and ensures the schema exists.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "sqlite open")
	}

	// Single writer; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, errors.Wrap(err, "sqlite schema")
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles_1s (
			token       TEXT    NOT NULL,
			exchange    TEXT    NOT NULL,
			ts          INTEGER NOT NULL,
			open        INTEGER NOT NULL,
			high        INTEGER NOT NULL,
			low         INTEGER NOT NULL,
			close       INTEGER NOT NULL,
			volume      INTEGER,
			ticks_count INTEGER,
			PRIMARY KEY (exchange, token, ts)
		);

		CREATE TABLE IF NOT EXISTS candles_tf (
			token    TEXT    NOT NULL,
			exchange TEXT    NOT NULL,
			tf       INTEGER NOT NULL,
			ts       INTEGER NOT NULL,
			open     INTEGER NOT NULL,
			high     INTEGER NOT NULL,
			low      INTEGER NOT NULL,
			close    INTEGER NOT NULL,
			volume   INTEGER,
			count    INTEGER,
			PRIMARY KEY (exchange, token, tf, ts)
		);

		CREATE TABLE IF NOT EXISTS ind_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (CAST(strftime('%s','now') AS INTEGER))
		);
	`)
	return err
}

// runBatched drains ch into insert, flushing every defaultBatchSize items
// or defaultFlushDelay, whichever comes first. Returns when ctx is
// cancelled or ch closes; the final partial batch is always flushed.
func runBatched[T any](ctx context.Context, ch <-chan T, what string, insert func([]T) error) {
	batch := make([]T, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := insert(batch); err != nil {
			log.Printf("[sqlite] %s batch insert error: %v", what, err)
		} else {
			log.Printf("[sqlite] committed %d %s in %v", len(batch), what, time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case item, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, item)
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

// Run drains 1s candles from candleCh into batched transactions.
func (w *Writer) Run(ctx context.Context, candleCh <-chan model.Candle) {
	runBatched(ctx, candleCh, "candles", w.insertBatch)
}

// RunTFCandles drains TF candles the same way.
func (w *Writer) RunTFCandles(ctx context.Context, tfCandleCh <-chan model.TFCandle) {
	runBatched(ctx, tfCandleCh, "TF candles", w.insertTFBatch)
}

func (w *Writer) insertBatch(candles []model.Candle) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles_1s (token, exchange, ts, open, high, low, close, volume, ticks_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.Exec(c.Token, c.Exchange, c.TS.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume, c.TicksCount); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func (w *Writer) insertTFBatch(candles []model.TFCandle) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles_tf (token, exchange, tf, ts, open, high, low, close, volume, count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.Exec(c.Token, c.Exchange, c.TF, c.TS.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume, c.Count); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// GetLastTimestamp returns the newest stored 1s candle timestamp for an
// instrument, or 0 when none exist.
func (w *Writer) GetLastTimestamp(exchange, token string) (int64, error) {
	var ts sql.NullInt64
	err := w.db.QueryRow(
		`SELECT MAX(ts) FROM candles_1s WHERE exchange = ? AND token = ?`,
		exchange, token,
	).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// SaveSnapshotJSON stores an engine snapshot, keeping only the most recent
// few rows.
func (w *Writer) SaveSnapshotJSON(data []byte) error {
	if _, err := w.db.Exec(`INSERT INTO ind_snapshots (data) VALUES (?)`, string(data)); err != nil {
		return errors.Wrap(err, "sqlite insert snapshot")
	}

	_, err := w.db.Exec(
		`DELETE FROM ind_snapshots WHERE id NOT IN
			(SELECT id FROM ind_snapshots ORDER BY created_at DESC, id DESC LIMIT ?)`,
		keepSnapshots,
	)
	if err != nil {
		log.Printf("[sqlite] prune snapshots warning: %v", err)
	}
	return nil
}

// ReadLatestSnapshotJSON returns the most recent snapshot payload, or
// nil, nil when none exist.
func (w *Writer) ReadLatestSnapshotJSON() ([]byte, error) {
	return readLatestSnapshot(w.db)
}

func readLatestSnapshot(db *sql.DB) ([]byte, error) {
	var data string
	err := db.QueryRow(
		`SELECT data FROM ind_snapshots ORDER BY created_at DESC, id DESC LIMIT 1`,
	).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrap(err, "sqlite read snapshot")
	}
	return []byte(data), nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
