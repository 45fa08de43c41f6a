package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	archiveQueueSize = 1024
	archiveBatchSize = 64
)

// Archiver writes call records to a SQLite archive in the background so
// that recording a call never waits on disk I/O. Records are grouped under
// a run id that identifies this process.
type Archiver struct {
	db     *DB
	runID  string
	logger *slog.Logger

	queue chan CallRecord
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewArchiver starts a background writer for db
func NewArchiver(db *DB, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Archiver{
		db:     db,
		runID:  uuid.New().String(),
		logger: logger,
		queue:  make(chan CallRecord, archiveQueueSize),
		done:   make(chan struct{}),
	}
	go a.loop()
	return a
}

// RunID returns the id under which this archiver stores records
func (a *Archiver) RunID() string {
	return a.runID
}

// Archive queues a record. If the queue is full the record is dropped and
// counted; the in-memory ledger still has it.
func (a *Archiver) Archive(rec CallRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	select {
	case a.queue <- rec:
	default:
		a.dropped++
	}
}

// Dropped returns how many records were discarded because the queue was full
func (a *Archiver) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Close flushes queued records and stops the writer
func (a *Archiver) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
}

func (a *Archiver) loop() {
	defer close(a.done)

	batch := make([]CallRecord, 0, archiveBatchSize)
	for rec := range a.queue {
		batch = append(batch, rec)
		// Drain whatever is already waiting before hitting the database
	drain:
		for len(batch) < archiveBatchSize {
			select {
			case next, ok := <-a.queue:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		a.flush(batch)
		batch = batch[:0]
	}
}

func (a *Archiver) flush(batch []CallRecord) {
	ctx := context.Background()
	if err := a.db.InsertCalls(ctx, a.runID, batch); err != nil {
		a.logger.Error("failed to archive calls", "run_id", a.runID, "count", len(batch), "error", err)
		return
	}
	if err := a.db.SetLastArchiveTime(ctx, a.runID, time.Now()); err != nil {
		a.logger.Warn("failed to update archive metadata", "error", err)
	}
	a.logger.Debug("archived calls", "run_id", a.runID, "count", len(batch))
}

// ExportSnapshot writes every record currently in the ledger to db under a
// fresh run id and returns that id
func ExportSnapshot(ctx context.Context, l *Ledger, db *DB) (string, error) {
	if db == nil {
		return "", ErrNoArchive
	}
	runID := uuid.New().String()
	records := l.Snapshot()
	if err := db.InsertCalls(ctx, runID, records); err != nil {
		return "", fmt.Errorf("failed to export snapshot: %w", err)
	}
	if err := db.SetLastArchiveTime(ctx, runID, time.Now()); err != nil {
		return "", err
	}
	return runID, nil
}

// LoadArchive imports archived calls recorded at or after since into the ledger
func LoadArchive(ctx context.Context, l *Ledger, db *DB, since time.Time) (int, error) {
	if db == nil {
		return 0, ErrNoArchive
	}
	calls, err := db.GetCalls(ctx, since)
	if err != nil {
		return 0, err
	}
	l.Import(calls...)
	return len(calls), nil
}
