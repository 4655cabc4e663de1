package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfsync/shelfsync/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "index.db")
	s, err := Open(dbPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type recordingIndexer struct {
	mu      sync.Mutex
	indexed map[string]domain.Comic
	deleted []string
}

func newRecordingIndexer() *recordingIndexer {
	return &recordingIndexer{indexed: make(map[string]domain.Comic)}
}

func (r *recordingIndexer) IndexComics(_ context.Context, comics []domain.Comic) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range comics {
		r.indexed[c.ID] = c
	}
	return nil
}

func (r *recordingIndexer) DeleteComics(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, ids...)
	return nil
}

func seedRoot(t *testing.T, s *Store, id string) *domain.LibraryRoot {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	r := &domain.LibraryRoot{
		ID:         id,
		Name:       "Manga",
		URI:        "file:///library/" + id,
		SourceKind: domain.SourceImportedInternal,
		Permission: domain.Permission{
			CanRead:    true,
			Persisted:  true,
			GrantedAt:  now,
			VerifiedAt: now,
		},
		AutoSyncEnabled: true,
		SortKey:         "manga",
		CreatedAt:       now,
	}
	require.NoError(t, s.CreateRoot(context.Background(), r))
	return r
}

func TestOpen(t *testing.T) {
	s := newTestStore(t)

	var journalMode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	// Every pooled connection must enforce foreign keys.
	ctx := context.Background()
	conns := make([]interface{ Close() error }, 0, 3)
	for range 3 {
		conn, err := s.db.Conn(ctx)
		require.NoError(t, err)
		conns = append(conns, conn)

		var fk int
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
		assert.Equal(t, 1, fk)
	}
	for _, c := range conns {
		c.Close()
	}

	for _, table := range []string{"library_roots", "comics", "chapters", "pages"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %s", table)
	}
}

func TestOpen_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := Open(dbPath, logger)
	require.NoError(t, err)
	seedRoot(t, s, "root-1")
	require.NoError(t, s.Close())

	s, err = Open(dbPath, logger)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.GetRoot(context.Background(), "root-1")
	assert.NoError(t, err)
}
