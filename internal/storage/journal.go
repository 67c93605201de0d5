package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/podwatch/podwatch/internal/metrics"
)

const (
	journalBatchSize     = 512
	journalFlushInterval = 5 * time.Second
	journalBufferSize    = 2000
)

// Entry is one journaled pod event row.
type Entry struct {
	Pod        string    `json:"pod"`
	Action     string    `json:"action"`
	ObservedAt time.Time `json:"observed_at"`
}

// Journal is an append-only DuckDB log of observed pod events. It sits off
// the watch loop's hot path: Append is a non-blocking send into a buffered
// channel and a background goroutine batches rows into the database. When
// the buffer is full the event is dropped from the journal, never from the
// metrics registry.
type Journal struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool

	eventCh  chan metrics.PodEvent
	closeCh  chan struct{}
	wg       sync.WaitGroup
	flushErr error

	log *logrus.Entry
}

// Open creates (or reopens) the journal database at path and starts the
// batch inserter.
func Open(path string, log *logrus.Entry) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	// Leftover WAL files can fail DuckDB crash recovery.
	os.Remove(path + ".wal")

	db, err := sql.Open("duckdb", path+"?access_mode=READ_WRITE")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	if _, err := db.Exec(sqlCreateJournalTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal table: %w", err)
	}

	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	j := &Journal{
		db:      db,
		path:    path,
		eventCh: make(chan metrics.PodEvent, journalBufferSize),
		closeCh: make(chan struct{}),
		log:     log,
	}

	j.wg.Add(1)
	go j.runBatchInserter()

	return j, nil
}

// Append queues one event for insertion. It never blocks: a full buffer or a
// closed journal returns an error immediately.
func (j *Journal) Append(ev metrics.PodEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return fmt.Errorf("journal is closed")
	}

	select {
	case j.eventCh <- ev:
		return nil
	default:
		return fmt.Errorf("journal buffer is full")
	}
}

// runBatchInserter collects events from the channel and periodically flushes
// them into the database.
func (j *Journal) runBatchInserter() {
	defer j.wg.Done()

	ticker := time.NewTicker(journalFlushInterval)
	defer ticker.Stop()

	batch := make([]metrics.PodEvent, 0, journalBatchSize)

	for {
		select {
		case <-j.closeCh:
			for len(j.eventCh) > 0 {
				batch = append(batch, <-j.eventCh)
			}
			if err := j.insert(batch); err != nil {
				j.flushErr = fmt.Errorf("failed to flush journal on close: %w", err)
			}
			return
		case ev := <-j.eventCh:
			batch = append(batch, ev)
			if len(batch) >= journalBatchSize {
				if err := j.insert(batch); err != nil {
					j.log.WithError(err).Error("journal: failed to insert batch")
				}
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				if err := j.insert(batch); err != nil {
					j.log.WithError(err).Error("journal: failed to insert batch on tick")
				}
				batch = batch[:0]
			}
		}
	}
}

// insert writes a batch of rows within a single transaction.
func (j *Journal) insert(events []metrics.PodEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(sqlInsertJournalRow)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.Exec(ev.Pod, string(ev.Action), ev.ObservedAt); err != nil {
			return fmt.Errorf("failed to execute insert statement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	j.log.WithField("rows", len(events)).Debug("journal: inserted batch")
	return nil
}

// Recent returns up to limit rows, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := j.db.QueryContext(ctx, sqlSelectRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Pod, &e.Action, &e.ObservedAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of journaled rows.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, sqlCountJournalRows).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count journal rows: %w", err)
	}
	return n, nil
}

// Stats returns operational statistics about the journal.
func (j *Journal) Stats() map[string]any {
	return map[string]any{
		"path":              j.path,
		"event_channel_len": len(j.eventCh),
		"db_stats":          j.db.Stats(),
	}
}

// Close flushes pending rows and closes the database. Further Appends fail.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.closeCh)
	j.mu.Unlock()

	j.wg.Wait()
	j.log.Info("journal: closed")
	return multierr.Combine(j.flushErr, j.db.Close())
}
