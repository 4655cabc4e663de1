package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/shelfsync/shelfsync/internal/domain"
	"github.com/shelfsync/shelfsync/internal/store"
)

const comicColumns = `id, root_id, uri, title, cover_uri, chapter_count, sort_key, updated_at,
	synopsis, cover_blurhash, remote_cover_url, metadata_source, scraped_at`

const chapterColumns = `id, comic_id, root_id, uri, title, page_count, sort_key, updated_at`

const pageColumns = `id, chapter_id, root_id, uri, page_index, mime_type, size_bytes, sort_key, updated_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanComic(scanner rowScanner) (domain.Comic, error) {
	var (
		c                                                   domain.Comic
		coverURI, synopsis, blurHash, remoteCover, metaSrc sql.NullString
		updatedAt                                           string
		scrapedAt                                           sql.NullString
	)
	err := scanner.Scan(
		&c.ID, &c.RootID, &c.URI, &c.Title, &coverURI, &c.ChapterCount, &c.SortKey, &updatedAt,
		&synopsis, &blurHash, &remoteCover, &metaSrc, &scrapedAt,
	)
	if err != nil {
		return c, err
	}
	c.CoverURI = coverURI.String
	c.Synopsis = synopsis.String
	c.CoverBlurHash = blurHash.String
	c.RemoteCoverURL = remoteCover.String
	c.MetadataSource = metaSrc.String
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return c, err
	}
	c.ScrapedAt, err = parseNullTime(scrapedAt)
	return c, err
}

func scanChapter(scanner rowScanner) (domain.Chapter, error) {
	var (
		ch        domain.Chapter
		updatedAt string
	)
	err := scanner.Scan(&ch.ID, &ch.ComicID, &ch.RootID, &ch.URI, &ch.Title, &ch.PageCount, &ch.SortKey, &updatedAt)
	if err != nil {
		return ch, err
	}
	ch.UpdatedAt, err = parseTime(updatedAt)
	return ch, err
}

func scanPage(scanner rowScanner) (domain.Page, error) {
	var (
		p         domain.Page
		updatedAt string
	)
	err := scanner.Scan(&p.ID, &p.ChapterID, &p.RootID, &p.URI, &p.Index, &p.MimeType, &p.SizeBytes, &p.SortKey, &updatedAt)
	if err != nil {
		return p, err
	}
	p.UpdatedAt, err = parseTime(updatedAt)
	return p, err
}

func queryAll[T any](ctx context.Context, q querier, scan func(rowScanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CurrentSnapshot returns everything indexed under a root, read in one
// transaction so the three levels are consistent with each other.
func (s *Store) CurrentSnapshot(ctx context.Context, rootID string) (domain.Snapshot, error) {
	var snap domain.Snapshot

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return snap, err
	}
	defer tx.Rollback()

	if snap.Comics, err = queryAll(ctx, tx, scanComic,
		`SELECT `+comicColumns+` FROM comics WHERE root_id = ? ORDER BY id`, rootID); err != nil {
		return snap, err
	}
	if snap.Chapters, err = queryAll(ctx, tx, scanChapter,
		`SELECT `+chapterColumns+` FROM chapters WHERE root_id = ? ORDER BY id`, rootID); err != nil {
		return snap, err
	}
	if snap.Pages, err = queryAll(ctx, tx, scanPage,
		`SELECT `+pageColumns+` FROM pages WHERE root_id = ? ORDER BY id`, rootID); err != nil {
		return snap, err
	}
	return snap, tx.Commit()
}

// GetComic retrieves a comic by ID.
// Returns store.ErrNotFound if it does not exist.
func (s *Store) GetComic(ctx context.Context, id string) (*domain.Comic, error) {
	c, err := scanComic(s.db.QueryRowContext(ctx,
		`SELECT `+comicColumns+` FROM comics WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetComicsByIDs returns the comics that still exist among ids, in the
// order given.
func (s *Store) GetComicsByIDs(ctx context.Context, ids []string) ([]domain.Comic, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	found, err := queryAll(ctx, s.db, scanComic,
		`SELECT `+comicColumns+` FROM comics WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]domain.Comic, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	out := make([]domain.Comic, 0, len(found))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// ListComics returns a root's comics in natural title order.
func (s *Store) ListComics(ctx context.Context, rootID string) ([]domain.Comic, error) {
	return queryAll(ctx, s.db, scanComic,
		`SELECT `+comicColumns+` FROM comics WHERE root_id = ? ORDER BY sort_key, id`, rootID)
}

// ListChapters returns a comic's chapters in natural order.
func (s *Store) ListChapters(ctx context.Context, comicID string) ([]domain.Chapter, error) {
	return queryAll(ctx, s.db, scanChapter,
		`SELECT `+chapterColumns+` FROM chapters WHERE comic_id = ? ORDER BY sort_key, id`, comicID)
}

// ListPages returns a chapter's pages in reading order.
func (s *Store) ListPages(ctx context.Context, chapterID string) ([]domain.Page, error) {
	return queryAll(ctx, s.db, scanPage,
		`SELECT `+pageColumns+` FROM pages WHERE chapter_id = ? ORDER BY page_index, id`, chapterID)
}

// Enrichment is the scrape-owned part of a comic.
type Enrichment struct {
	Synopsis       string
	CoverBlurHash  string
	RemoteCoverURL string
	MetadataSource string
	ScrapedAt      time.Time
}

// UpdateComicEnrichment stores scrape results without touching scan-owned
// columns. Empty fields keep their current value.
// Returns store.ErrNotFound if the comic was deleted meanwhile.
func (s *Store) UpdateComicEnrichment(ctx context.Context, comicID string, e Enrichment) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE comics SET
			synopsis = COALESCE(?, synopsis),
			cover_blurhash = COALESCE(?, cover_blurhash),
			remote_cover_url = COALESCE(?, remote_cover_url),
			metadata_source = COALESCE(?, metadata_source),
			scraped_at = ?
		WHERE id = ?`,
		nullString(e.Synopsis),
		nullString(e.CoverBlurHash),
		nullString(e.RemoteCoverURL),
		nullString(e.MetadataSource),
		nullTime(e.ScrapedAt),
		comicID,
	)
	if err := requireAffected(res, err); err != nil {
		return err
	}

	if c, err := s.GetComic(ctx, comicID); err == nil {
		if err := s.searchIndexer.IndexComics(ctx, []domain.Comic{*c}); err != nil {
			s.logger.Warn("failed to reindex enriched comic", "comic_id", comicID, "error", err)
		}
	}
	return nil
}
