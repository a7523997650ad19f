// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: trace/recorder.go
// Summary: SQLite-backed recorder for graphics protocol events.
//
// Mirrors the engine's event stream into a small on-disk trace for
// after-the-fact debugging:
//   - Async batch writes keep Record safe to call under the engine lock
//   - Query helpers slice the trace by image, by outcome, or by time
//
// The trace is diagnostic output, never engine state: deleting the
// database loses history, not images.

package trace

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/framegrace/texelgfx/graphics"
)

// Config holds tuning for the recorder.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// BatchSize is the number of events to accumulate before a write.
	// Default: 64
	BatchSize int

	// FlushInterval is how long a partial batch may sit before it is
	// written anyway. Default: 2s
	FlushInterval time.Duration

	// ChannelBuffer is the size of the async event channel.
	// Default: 1024
	ChannelBuffer int
}

// DefaultConfig returns sensible defaults for the given database path.
func DefaultConfig(dbPath string) Config {
	return Config{
		DBPath:        dbPath,
		BatchSize:     64,
		FlushInterval: 2 * time.Second,
		ChannelBuffer: 1024,
	}
}

// Bump when the events table changes shape. Old traces are disposable,
// so a version mismatch drops the table instead of migrating it.
const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    at INTEGER NOT NULL,              -- UnixNano
    protocol TEXT NOT NULL,
    action TEXT NOT NULL DEFAULT '',
    image_id INTEGER NOT NULL DEFAULT 0,
    code TEXT NOT NULL DEFAULT '',    -- response code, empty on success
    detail TEXT NOT NULL DEFAULT '',
    bytes INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_events_at ON events(at);
CREATE INDEX IF NOT EXISTS idx_events_image ON events(image_id) WHERE image_id != 0;
CREATE INDEX IF NOT EXISTS idx_events_code ON events(code) WHERE code != '';
`

const eventColumns = "at, protocol, action, image_id, code, detail, bytes"

// Recorder mirrors engine events into SQLite. Record never blocks: when
// the queue is full the event is counted and dropped, so disk latency
// stays out of the session's critical path.
type Recorder struct {
	config Config
	db     *sql.DB

	eventCh chan graphics.Event
	stopCh  chan struct{}
	doneCh  chan struct{}
	flushCh chan chan struct{}

	dropped atomic.Uint64

	mu sync.RWMutex
}

// Open creates or reopens a trace database at dbPath.
func Open(dbPath string) (*Recorder, error) {
	return OpenWithConfig(DefaultConfig(dbPath))
}

// OpenWithConfig creates a recorder with custom batching parameters.
func OpenWithConfig(config Config) (*Recorder, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 2 * time.Second
	}
	if config.ChannelBuffer <= 0 {
		config.ChannelBuffer = 1024
	}

	if err := os.MkdirAll(filepath.Dir(config.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	dsn := config.DBPath +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=temp_store(MEMORY)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	r := &Recorder{
		config:  config,
		db:      db,
		eventCh: make(chan graphics.Event, config.ChannelBuffer),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		flushCh: make(chan chan struct{}),
	}

	go r.batchWriter()

	return r, nil
}

func initSchema(db *sql.DB) error {
	var current int
	if err := db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&current); err != nil {
		// Table missing or empty, treat as a fresh database.
		current = 0
	}

	if current != 0 && current != schemaVersion {
		log.Printf("[TRACE] Schema version changed (%d -> %d), dropping old trace", current, schemaVersion)
		if _, err := db.Exec("DROP TABLE IF EXISTS events"); err != nil {
			return fmt.Errorf("failed to drop stale events table: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if _, err := db.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return nil
}

// Record queues an event for the background writer. It never blocks:
// the engine calls it while holding its lock, so a full queue drops the
// event instead of stalling the session.
func (r *Recorder) Record(ev graphics.Event) {
	select {
	case r.eventCh <- ev:
	default:
		r.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded because the queue was
// full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// batchWriter runs in a background goroutine, batching events and
// flushing them periodically.
func (r *Recorder) batchWriter() {
	defer close(r.doneCh)

	batch := make([]graphics.Event, 0, r.config.BatchSize)
	timer := time.NewTimer(r.config.FlushInterval)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.writeBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-r.eventCh:
			batch = append(batch, ev)
			if len(batch) >= r.config.BatchSize {
				flush()
				timer.Reset(r.config.FlushInterval)
			}

		case <-timer.C:
			flush()
			timer.Reset(r.config.FlushInterval)

		case done := <-r.flushCh:
			// Manual flush request - drain the queue first
			draining := true
			for draining {
				select {
				case ev := <-r.eventCh:
					batch = append(batch, ev)
				default:
					draining = false
				}
			}
			flush()
			close(done)

		case <-r.stopCh:
			// Drain the queue and flush before exit
			for {
				select {
				case ev := <-r.eventCh:
					batch = append(batch, ev)
				default:
					flush()
					return
				}
			}
		}
	}
}

// writeBatch writes a batch of events in a single transaction.
func (r *Recorder) writeBatch(batch []graphics.Event) {
	if len(batch) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		log.Printf("[TRACE] Failed to begin transaction: %v", err)
		return
	}

	stmt, err := tx.Prepare("INSERT INTO events (" + eventColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		log.Printf("[TRACE] Failed to prepare statement: %v", err)
		tx.Rollback()
		return
	}
	defer stmt.Close()

	for _, ev := range batch {
		if _, err := stmt.Exec(ev.Time.UnixNano(), ev.Protocol, ev.Action, ev.ImageID, ev.Code, ev.Detail, ev.Bytes); err != nil {
			log.Printf("[TRACE] Failed to insert event: %v", err)
			tx.Rollback()
			return
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[TRACE] Failed to commit batch: %v", err)
	}
}

// Recent returns the newest events, most recent first.
func (r *Recorder) Recent(limit int) ([]graphics.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.Query(`
		SELECT `+eventColumns+`
		FROM events
		ORDER BY at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("trace query failed: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ByImage returns the events touching one image id, most recent first.
func (r *Recorder) ByImage(imageID uint32, limit int) ([]graphics.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.Query(`
		SELECT `+eventColumns+`
		FROM events
		WHERE image_id = ?
		ORDER BY at DESC, id DESC
		LIMIT ?
	`, imageID, limit)
	if err != nil {
		return nil, fmt.Errorf("trace query failed: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Errors returns the events that carried a response code, most recent
// first. Successful commands record an empty code and are skipped.
func (r *Recorder) Errors(limit int) ([]graphics.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.Query(`
		SELECT `+eventColumns+`
		FROM events
		WHERE code != ''
		ORDER BY at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("trace query failed: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// InRange returns the events between start and end inclusive, in
// chronological order so a window of activity replays forward.
func (r *Recorder) InRange(start, end time.Time, limit int) ([]graphics.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.Query(`
		SELECT `+eventColumns+`
		FROM events
		WHERE at >= ? AND at <= ?
		ORDER BY at ASC, id ASC
		LIMIT ?
	`, start.UnixNano(), end.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("trace query failed: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Summary returns per-action event counts.
func (r *Recorder) Summary() (map[string]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.Query("SELECT action, COUNT(*) FROM events GROUP BY action")
	if err != nil {
		return nil, fmt.Errorf("trace query failed: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var action string
		var n int64
		if err := rows.Scan(&action, &n); err != nil {
			continue
		}
		counts[action] = n
	}

	return counts, rows.Err()
}

// Prune deletes events older than the cutoff and reports how many rows
// went away. Keeps long-lived traces from growing without bound.
func (r *Recorder) Prune(before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.Exec("DELETE FROM events WHERE at < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("trace prune failed: %w", err)
	}
	return res.RowsAffected()
}

// scanEvents parses query rows back into events.
func scanEvents(rows *sql.Rows) ([]graphics.Event, error) {
	var events []graphics.Event

	for rows.Next() {
		var ev graphics.Event
		var atNano int64

		if err := rows.Scan(&atNano, &ev.Protocol, &ev.Action, &ev.ImageID, &ev.Code, &ev.Detail, &ev.Bytes); err != nil {
			continue // Skip malformed rows
		}

		ev.Time = time.Unix(0, atNano)
		events = append(events, ev)
	}

	return events, rows.Err()
}

// Flush blocks until every queued event is on disk.
func (r *Recorder) Flush() error {
	done := make(chan struct{})
	select {
	case r.flushCh <- done:
		<-done
	case <-r.stopCh:
		// Already stopped
	}
	return nil
}

// Close flushes pending events and closes the database.
func (r *Recorder) Close() error {
	close(r.stopCh)
	<-r.doneCh

	return r.db.Close()
}

// Compile-time interface check
var _ graphics.EventRecorder = (*Recorder)(nil)
