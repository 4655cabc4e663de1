package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shelfsync/shelfsync/internal/diff"
	"github.com/shelfsync/shelfsync/internal/domain"
)

type opKind int

const (
	opDeletePage opKind = iota
	opDeleteChapter
	opDeleteComic
	opCreateComic
	opUpdateComic
	opRefreshComic
	opCreateChapter
	opUpdateChapter
	opCreatePage
)

type writeOp struct {
	kind    opKind
	id      string
	comic   *domain.Comic
	chapter *domain.Chapter
	page    *domain.Page
}

// plan flattens d into writes ordered so that no batch boundary can leave
// a child without its parent: deletes bottom-up, then inserts top-down.
func plan(d *diff.Diff) []writeOp {
	ops := make([]writeOp, 0, d.Ops())
	for _, id := range d.Pages.Deletes {
		ops = append(ops, writeOp{kind: opDeletePage, id: id})
	}
	for _, id := range d.Chapters.Deletes {
		ops = append(ops, writeOp{kind: opDeleteChapter, id: id})
	}
	for _, id := range d.Comics.Deletes {
		ops = append(ops, writeOp{kind: opDeleteComic, id: id})
	}
	for i := range d.Comics.Creates {
		ops = append(ops, writeOp{kind: opCreateComic, comic: &d.Comics.Creates[i]})
	}
	for i := range d.Comics.Updates {
		ops = append(ops, writeOp{kind: opUpdateComic, comic: &d.Comics.Updates[i]})
	}
	for i := range d.Refreshes {
		ops = append(ops, writeOp{kind: opRefreshComic, comic: &d.Refreshes[i]})
	}
	for i := range d.Chapters.Creates {
		ops = append(ops, writeOp{kind: opCreateChapter, chapter: &d.Chapters.Creates[i]})
	}
	for i := range d.Chapters.Updates {
		ops = append(ops, writeOp{kind: opUpdateChapter, chapter: &d.Chapters.Updates[i]})
	}
	for i := range d.Pages.Creates {
		ops = append(ops, writeOp{kind: opCreatePage, page: &d.Pages.Creates[i]})
	}
	return ops
}

// ApplyDiff writes d to the index of rootID in batches, each in its own
// transaction. ctx is checked between batches; on cancellation or a write
// error the batches already committed stay committed and the returned
// result counts exactly those.
func (s *Store) ApplyDiff(ctx context.Context, rootID string, d *diff.Diff, opts diff.ApplyOptions) (domain.UpdateResult, error) {
	var result domain.UpdateResult

	size := opts.BatchSize
	if size <= 0 {
		size = diff.DefaultBatchSize
	}

	ops := plan(d)
	for start := 0; start < len(ops); start += size {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		batch := ops[start:min(start+size, len(ops))]
		if err := s.applyBatch(ctx, batch); err != nil {
			return result, fmt.Errorf("apply batch at %d of %d: %w", start, len(ops), err)
		}

		result = result.Add(countOps(batch))
		s.reindex(ctx, rootID, batch)

		if opts.OnBatch != nil {
			opts.OnBatch(start+len(batch), len(ops))
		}
	}

	s.logger.Debug("diff applied",
		"root_id", rootID,
		"writes", len(ops),
		"batch_size", size,
	)
	return result, nil
}

func (s *Store) applyBatch(ctx context.Context, batch []writeOp) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, op := range batch {
		if err := execOp(ctx, tx, op); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func execOp(ctx context.Context, tx *sql.Tx, op writeOp) error {
	var err error
	switch op.kind {
	case opDeletePage:
		_, err = tx.ExecContext(ctx, `DELETE FROM pages WHERE id = ?`, op.id)
	case opDeleteChapter:
		_, err = tx.ExecContext(ctx, `DELETE FROM chapters WHERE id = ?`, op.id)
	case opDeleteComic:
		_, err = tx.ExecContext(ctx, `DELETE FROM comics WHERE id = ?`, op.id)

	case opCreateComic:
		c := op.comic
		// Upsert keeps enrichment if the row somehow survived.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO comics (id, root_id, uri, title, cover_uri, chapter_count, sort_key, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				uri = excluded.uri,
				title = excluded.title,
				cover_uri = excluded.cover_uri,
				chapter_count = excluded.chapter_count,
				sort_key = excluded.sort_key,
				updated_at = excluded.updated_at`,
			c.ID, c.RootID, c.URI, c.Title, nullString(c.CoverURI), c.ChapterCount, c.SortKey, formatTime(c.UpdatedAt),
		)
	case opUpdateComic, opRefreshComic:
		c := op.comic
		_, err = tx.ExecContext(ctx, `
			UPDATE comics SET
				uri = ?, title = ?, cover_uri = ?, chapter_count = ?, sort_key = ?, updated_at = ?
			WHERE id = ?`,
			c.URI, c.Title, nullString(c.CoverURI), c.ChapterCount, c.SortKey, formatTime(c.UpdatedAt), c.ID,
		)

	case opCreateChapter:
		ch := op.chapter
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chapters (`+chapterColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				page_count = excluded.page_count,
				sort_key = excluded.sort_key,
				updated_at = excluded.updated_at`,
			ch.ID, ch.ComicID, ch.RootID, ch.URI, ch.Title, ch.PageCount, ch.SortKey, formatTime(ch.UpdatedAt),
		)
	case opUpdateChapter:
		ch := op.chapter
		_, err = tx.ExecContext(ctx, `
			UPDATE chapters SET title = ?, page_count = ?, sort_key = ?, updated_at = ?
			WHERE id = ?`,
			ch.Title, ch.PageCount, ch.SortKey, formatTime(ch.UpdatedAt), ch.ID,
		)

	case opCreatePage:
		p := op.page
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pages (`+pageColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				page_index = excluded.page_index,
				mime_type = excluded.mime_type,
				size_bytes = excluded.size_bytes,
				sort_key = excluded.sort_key,
				updated_at = excluded.updated_at`,
			p.ID, p.ChapterID, p.RootID, p.URI, p.Index, p.MimeType, p.SizeBytes, p.SortKey, formatTime(p.UpdatedAt),
		)
	}
	return err
}

func countOps(batch []writeOp) domain.UpdateResult {
	var r domain.UpdateResult
	for _, op := range batch {
		switch op.kind {
		case opDeletePage:
			r.DeletedPages++
		case opDeleteChapter:
			r.DeletedChapters++
		case opDeleteComic:
			r.DeletedComics++
		case opCreateComic:
			r.NewComics++
		case opUpdateComic:
			r.UpdatedComics++
		case opCreateChapter:
			r.NewChapters++
		case opUpdateChapter:
			r.UpdatedChapters++
		case opCreatePage:
			r.NewPages++
		}
	}
	return r
}

// reindex pushes the comics touched by a committed batch to search.
// Search is derived data; failures are logged and never fail the apply.
func (s *Store) reindex(ctx context.Context, rootID string, batch []writeOp) {
	var (
		touched []string
		deleted []string
	)
	for _, op := range batch {
		switch op.kind {
		case opCreateComic, opUpdateComic, opRefreshComic:
			touched = append(touched, op.comic.ID)
		case opDeleteComic:
			deleted = append(deleted, op.id)
		}
	}

	if len(deleted) > 0 {
		if err := s.searchIndexer.DeleteComics(ctx, deleted); err != nil {
			s.logger.Warn("failed to remove comics from search index", "root_id", rootID, "error", err)
		}
	}
	if len(touched) == 0 {
		return
	}
	// Re-read so enrichment columns are part of the document.
	indexed, err := s.GetComicsByIDs(ctx, touched)
	if err != nil {
		s.logger.Warn("failed to load comics for indexing", "root_id", rootID, "error", err)
		return
	}
	if len(indexed) > 0 {
		if err := s.searchIndexer.IndexComics(ctx, indexed); err != nil {
			s.logger.Warn("failed to index comics", "root_id", rootID, "error", err)
		}
	}
}
