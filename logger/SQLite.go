package logger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// EventsFile is the name of the database a SQLiteWriter writes to in
// its log directory
const EventsFile = "events.sqlite"

// flushEvery is the number of pending scalars which triggers a flush
const flushEvery = 256

// Scalar is a single logged value
type Scalar struct {
	Step     int
	Value    float64
	WallTime time.Time
}

type pending struct {
	tag string
	Scalar
}

// SQLiteWriter is a Writer which stores scalars in a SQLite database.
// Each SQLiteWriter is a separate run, so several runs may log to the
// same directory.
type SQLiteWriter struct {
	mu      sync.Mutex
	db      *sql.DB
	path    string
	runID   string
	pending []pending
}

// NewSQLiteWriter returns a new SQLiteWriter which writes to the
// events file in dir, creating dir if needed
func NewSQLiteWriter(dir string) (*SQLiteWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("newsqlitewriter: could not create log "+
			"directory: %w", err)
	}

	path := filepath.Join(dir, EventsFile)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("newsqlitewriter: could not open "+
			"database: %w", err)
	}
	db.SetMaxOpenConns(1)

	w := &SQLiteWriter{db: db, path: path, runID: uuid.NewString()}
	if err := w.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("newsqlitewriter: %w", err)
	}
	return w, nil
}

func (w *SQLiteWriter) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS scalars (
		run_id TEXT NOT NULL,
		tag TEXT NOT NULL,
		step INTEGER NOT NULL,
		value REAL NOT NULL,
		wall_time INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_scalars_tag ON scalars(run_id, tag, step);
	`
	if _, err := w.db.Exec(schema); err != nil {
		return fmt.Errorf("could not create tables: %w", err)
	}

	_, err := w.db.Exec("INSERT INTO runs (run_id, started_at) VALUES (?, ?)",
		w.runID, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("could not register run: %w", err)
	}
	return nil
}

// RunID returns the id of the run the writer logs
func (w *SQLiteWriter) RunID() string {
	return w.runID
}

// Path returns the path of the database
func (w *SQLiteWriter) Path() string {
	return w.path
}

// AddScalar logs value under tag at step. Scalars are written in
// batches, call Flush to write them immediately.
func (w *SQLiteWriter) AddScalar(tag string, value float64, step int) error {
	w.mu.Lock()
	w.pending = append(w.pending, pending{tag, Scalar{step, value, time.Now()}})
	full := len(w.pending) >= flushEvery
	w.mu.Unlock()

	if full {
		return w.Flush()
	}
	return nil
}

// Flush writes all pending scalars
func (w *SQLiteWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	stmt, err := tx.Prepare("INSERT INTO scalars (run_id, tag, step, value, " +
		"wall_time) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("flush: %w", err)
	}
	defer stmt.Close()

	for _, p := range w.pending {
		_, err := stmt.Exec(w.runID, p.tag, p.Step, p.Value,
			p.WallTime.UnixNano())
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("flush: could not write %v: %w", p.tag, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	w.pending = w.pending[:0]
	return nil
}

// Scalars returns the flushed scalars logged under tag by this run,
// ordered by step
func (w *SQLiteWriter) Scalars(tag string) ([]Scalar, error) {
	rows, err := w.db.Query("SELECT step, value, wall_time FROM scalars "+
		"WHERE run_id = ? AND tag = ? ORDER BY step, rowid", w.runID, tag)
	if err != nil {
		return nil, fmt.Errorf("scalars: %w", err)
	}
	defer rows.Close()

	var scalars []Scalar
	for rows.Next() {
		var s Scalar
		var wall int64
		if err := rows.Scan(&s.Step, &s.Value, &wall); err != nil {
			return nil, fmt.Errorf("scalars: %w", err)
		}
		s.WallTime = time.Unix(0, wall)
		scalars = append(scalars, s)
	}
	return scalars, rows.Err()
}

// Close flushes pending scalars and closes the database
func (w *SQLiteWriter) Close() error {
	flushErr := w.Flush()
	if err := w.db.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return flushErr
}
