package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shelfsync/shelfsync/internal/domain"
	"github.com/shelfsync/shelfsync/internal/store"
)

// rootColumns must match the scan order in scanRoot.
const rootColumns = `id, name, uri, source_kind, can_read, can_write, persisted,
	granted_at, verified_at, last_scanned_at, comic_count, auto_sync_enabled, sort_key, created_at`

func scanRoot(scanner interface{ Scan(dest ...any) error }) (*domain.LibraryRoot, error) {
	var (
		r           domain.LibraryRoot
		sourceKind  string
		canRead     int
		canWrite    int
		persisted   int
		grantedAt   sql.NullString
		verifiedAt  sql.NullString
		lastScanned sql.NullString
		autoSync    int
		createdAt   string
	)

	err := scanner.Scan(
		&r.ID,
		&r.Name,
		&r.URI,
		&sourceKind,
		&canRead,
		&canWrite,
		&persisted,
		&grantedAt,
		&verifiedAt,
		&lastScanned,
		&r.ComicCount,
		&autoSync,
		&r.SortKey,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	r.SourceKind = domain.SourceKind(sourceKind)
	r.Permission.CanRead = canRead != 0
	r.Permission.CanWrite = canWrite != 0
	r.Permission.Persisted = persisted != 0
	r.AutoSyncEnabled = autoSync != 0

	if r.Permission.GrantedAt, err = parseNullTime(grantedAt); err != nil {
		return nil, err
	}
	if r.Permission.VerifiedAt, err = parseNullTime(verifiedAt); err != nil {
		return nil, err
	}
	if r.LastScannedAt, err = parseNullTime(lastScanned); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRoot inserts a new root.
// Returns store.ErrAlreadyExists if the ID or URI is taken.
func (s *Store) CreateRoot(ctx context.Context, r *domain.LibraryRoot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO library_roots (`+rootColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		r.Name,
		r.URI,
		string(r.SourceKind),
		boolToInt(r.Permission.CanRead),
		boolToInt(r.Permission.CanWrite),
		boolToInt(r.Permission.Persisted),
		nullTime(r.Permission.GrantedAt),
		nullTime(r.Permission.VerifiedAt),
		nullTime(r.LastScannedAt),
		r.ComicCount,
		boolToInt(r.AutoSyncEnabled),
		r.SortKey,
		formatTime(r.CreatedAt),
	)
	if isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

// GetRoot retrieves a root by ID.
// Returns store.ErrNotFound if it does not exist.
func (s *Store) GetRoot(ctx context.Context, id string) (*domain.LibraryRoot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+rootColumns+` FROM library_roots WHERE id = ?`, id)

	r, err := scanRoot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListRoots returns every root in display order.
func (s *Store) ListRoots(ctx context.Context) ([]*domain.LibraryRoot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rootColumns+` FROM library_roots ORDER BY sort_key, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roots []*domain.LibraryRoot
	for rows.Next() {
		r, err := scanRoot(rows)
		if err != nil {
			return nil, err
		}
		roots = append(roots, r)
	}
	return roots, rows.Err()
}

// UpdateRoot rewrites the user-editable fields of a root.
// Returns store.ErrNotFound if it does not exist.
func (s *Store) UpdateRoot(ctx context.Context, r *domain.LibraryRoot) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE library_roots SET
			name = ?,
			source_kind = ?,
			auto_sync_enabled = ?,
			sort_key = ?
		WHERE id = ?`,
		r.Name,
		string(r.SourceKind),
		boolToInt(r.AutoSyncEnabled),
		r.SortKey,
		r.ID,
	)
	return requireAffected(res, err)
}

// UpdateRootPermission records a fresh permission probe.
func (s *Store) UpdateRootPermission(ctx context.Context, id string, p domain.Permission) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE library_roots SET
			can_read = ?,
			can_write = ?,
			persisted = ?,
			granted_at = ?,
			verified_at = ?
		WHERE id = ?`,
		boolToInt(p.CanRead),
		boolToInt(p.CanWrite),
		boolToInt(p.Persisted),
		nullTime(p.GrantedAt),
		nullTime(p.VerifiedAt),
		id,
	)
	return requireAffected(res, err)
}

// UpdateRootScanStats stamps a successful sync and recounts the root's comics.
func (s *Store) UpdateRootScanStats(ctx context.Context, id string, scannedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE library_roots SET
			last_scanned_at = ?,
			comic_count = (SELECT COUNT(*) FROM comics WHERE root_id = ?)
		WHERE id = ?`,
		formatTime(scannedAt), id, id,
	)
	return requireAffected(res, err)
}

// DeleteRoot removes a root and, through cascades, its whole comic tree.
// It returns the IDs of the removed comics.
func (s *Store) DeleteRoot(ctx context.Context, id string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	comicIDs, err := queryStrings(ctx, tx, `SELECT id FROM comics WHERE root_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM library_roots WHERE id = ?`, id)
	if err := requireAffected(res, err); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	if len(comicIDs) > 0 {
		if err := s.searchIndexer.DeleteComics(ctx, comicIDs); err != nil {
			s.logger.Warn("failed to remove comics from search index", "root_id", id, "error", err)
		}
	}
	return comicIDs, nil
}

func requireAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryStrings(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
