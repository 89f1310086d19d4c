package sqlite

import (
	"database/sql"
	"log"
	"time"

	"ta-enginev1/internal/model"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Reader provides read-only access for backfill and snapshot restore.
// It satisfies model.CandleReader.
type Reader struct {
	db *sql.DB
}

var _ model.CandleReader = (*Reader)(nil)

// NewReader opens a read connection to an existing database.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "sqlite open reader")
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

const selectTFCandles = `
	SELECT token, exchange, tf, ts, open, high, low, close, volume, count
	FROM candles_tf
`

func scanTFCandles(rows *sql.Rows) ([]model.TFCandle, error) {
	defer rows.Close()

	var candles []model.TFCandle
	for rows.Next() {
		var c model.TFCandle
		var tsUnix int64
		if err := rows.Scan(&c.Token, &c.Exchange, &c.TF, &tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Count); err != nil {
			return nil, errors.Wrap(err, "sqlite scan candles_tf")
		}
		c.TS = time.Unix(tsUnix, 0).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// ReadTFCandles returns one instrument's TF candles after afterTS, ordered
// by timestamp so replay preserves stream order.
func (r *Reader) ReadTFCandles(exchange, token string, tf int, afterTS int64) ([]model.TFCandle, error) {
	rows, err := r.db.Query(
		selectTFCandles+`WHERE exchange = ? AND token = ? AND tf = ? AND ts > ? ORDER BY ts ASC`,
		exchange, token, tf, afterTS,
	)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite query candles_tf")
	}
	return scanTFCandles(rows)
}

// ReadAllTFCandles returns every token's candles for one TF after afterTS.
func (r *Reader) ReadAllTFCandles(tf int, afterTS int64) ([]model.TFCandle, error) {
	rows, err := r.db.Query(
		selectTFCandles+`WHERE tf = ? AND ts > ? ORDER BY ts ASC`,
		tf, afterTS,
	)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite query all candles_tf")
	}
	return scanTFCandles(rows)
}

// ReadLatestSnapshotJSON returns the most recent engine snapshot payload,
// or nil, nil when none exist.
func (r *Reader) ReadLatestSnapshotJSON() ([]byte, error) {
	return readLatestSnapshot(r.db)
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
