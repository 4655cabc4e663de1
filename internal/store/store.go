// Package store persists scan and scrape tasks in Badger so that task
// history and the pending scrape queue survive a restart.
//
// The comic index itself lives in the sqlite subpackage.
package store

import (
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/shelfsync/shelfsync/internal/domain"
)

const (
	scanTaskPrefix   = "scan:"
	scrapeTaskPrefix = "scrape:"
)

// Store wraps a Badger database holding the task journal.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	ScanTasks   *Entity[domain.ScanTask]
	ScrapeTasks *Entity[domain.ScrapeTask]
}

// New opens (or creates) the journal at path.
func New(path string, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil            // Badger's own logging is too chatty
	opts.SyncWrites = true       // a crash must not lose a task transition
	opts.CompactL0OnClose = true // faster startup

	return open(opts, logger)
}

// OpenReadOnly opens an existing journal for inspection. It fails while
// the daemon holds the directory lock.
func OpenReadOnly(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithReadOnly(true)
	opts.Logger = nil
	return open(opts, nil)
}

// NewInMemory opens a journal that is discarded on Close.
func NewInMemory(logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts, logger)
}

func open(opts badger.Options, logger *slog.Logger) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}

	s := &Store{db: db, logger: logger}
	s.ScanTasks = NewEntity(s, scanTaskPrefix, func(t *domain.ScanTask) string { return t.ID }).
		WithIndex("root", func(t *domain.ScanTask) string { return t.RootID }).
		WithIndex("status", func(t *domain.ScanTask) string { return string(t.Status) })
	s.ScrapeTasks = NewEntity(s, scrapeTaskPrefix, func(t *domain.ScrapeTask) string { return t.ID }).
		WithIndex("root", func(t *domain.ScrapeTask) string { return t.RootID }).
		WithIndex("status", func(t *domain.ScrapeTask) string { return string(t.Status) })

	if logger != nil {
		logger.Info("task journal opened", "path", opts.Dir, "in_memory", opts.InMemory)
	}
	return s, nil
}

// Close gracefully closes the database.
func (s *Store) Close() error {
	if s.logger != nil {
		s.logger.Info("closing task journal")
	}
	return s.db.Close()
}

// Ping reports whether the journal is open and readable.
func (s *Store) Ping() error {
	if s.db.IsClosed() {
		return ErrClosed
	}
	return s.db.View(func(*badger.Txn) error { return nil })
}
