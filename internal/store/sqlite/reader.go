package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"ta-systemv1/internal/indicator"
	"ta-systemv1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader serves the warm-up paths: candle history for indicator
// backfill, archived engine snapshots, and confirmed indicator history
// for the REST surface. Read-only; the single Writer owns all inserts.
type Reader struct {
	db *sql.DB
}

// NewReader opens the database with the same WAL pragmas as the writer
// so concurrent reads never block the insert path.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

const candleColumns = "token, exchange, tf, ts, open, high, low, close, volume, count"

// scanCandles drains a candles_tf result set. Timestamps are stored as
// unix seconds and come back UTC.
func scanCandles(rows *sql.Rows) ([]model.TFCandle, error) {
	defer rows.Close()
	var out []model.TFCandle
	for rows.Next() {
		var c model.TFCandle
		var ts int64
		if err := rows.Scan(&c.Token, &c.Exchange, &c.TF, &ts,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Count); err != nil {
			return nil, fmt.Errorf("sqlite scan candles_tf: %w", err)
		}
		c.TS = time.Unix(ts, 0).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReadTFCandles returns one instrument's candles for a TF after afterTS,
// oldest first (replay order).
func (r *Reader) ReadTFCandles(exchange, token string, tf int, afterTS int64) ([]model.TFCandle, error) {
	rows, err := r.db.Query(
		"SELECT "+candleColumns+" FROM candles_tf WHERE exchange = ? AND token = ? AND tf = ? AND ts > ? ORDER BY ts ASC",
		exchange, token, tf, afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles_tf: %w", err)
	}
	return scanCandles(rows)
}

// ReadAllTFCandles returns every instrument's candles for a TF after
// afterTS, oldest first. This is the indicator warm-up feed.
func (r *Reader) ReadAllTFCandles(tf int, afterTS int64) ([]model.TFCandle, error) {
	rows, err := r.db.Query(
		"SELECT "+candleColumns+" FROM candles_tf WHERE tf = ? AND ts > ? ORDER BY ts ASC",
		tf, afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query all candles_tf: %w", err)
	}
	return scanCandles(rows)
}

// ReadIndicatorHistory returns confirmed values for one indicator on one
// instrument and TF, oldest first. Only confirmed results are stored, so
// every row reads back Ready.
func (r *Reader) ReadIndicatorHistory(exchange, token string, tf int, name string, afterTS int64, limit int) ([]model.IndicatorResult, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.Query(
		"SELECT name, token, exchange, tf, ts, value, fired FROM indicator_results WHERE exchange = ? AND token = ? AND tf = ? AND name = ? AND ts > ? ORDER BY ts ASC LIMIT ?",
		exchange, token, tf, name, afterTS, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query indicator_results: %w", err)
	}
	defer rows.Close()

	var out []model.IndicatorResult
	for rows.Next() {
		var res model.IndicatorResult
		var ts int64
		var fired int
		if err := rows.Scan(&res.Name, &res.Token, &res.Exchange, &res.TF, &ts, &res.Value, &fired); err != nil {
			return nil, fmt.Errorf("sqlite scan indicator_results: %w", err)
		}
		res.TS = time.Unix(ts, 0).UTC()
		res.Fired = fired != 0
		res.Ready = true
		out = append(out, res)
	}
	return out, rows.Err()
}

// ReadLatestSnapshot returns the newest archived engine snapshot, or
// nil with no error when the archive is empty.
func (r *Reader) ReadLatestSnapshot() (*indicator.EngineSnapshot, error) {
	var raw string
	err := r.db.QueryRow("SELECT data FROM indicator_snapshots ORDER BY created_at DESC LIMIT 1").Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}

	var snap indicator.EngineSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Close closes the database handle.
func (r *Reader) Close() error {
	return r.db.Close()
}
