package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RootCheckpoint returns the most recent write to any comic, chapter or page
// of a root, counting scrape enrichment. It is the zero time for an empty root.
//
// Deletions leave no row behind, so a client polling for changes should
// compare the comic total alongside the checkpoint.
func (s *Store) RootCheckpoint(ctx context.Context, rootID string) (time.Time, error) {
	// RFC3339Nano drops trailing zeros, so the strings do not sort
	// lexically; julianday orders them by instant.
	var ts string
	err := s.db.QueryRowContext(ctx, `
		SELECT ts FROM (
			SELECT updated_at AS ts FROM comics WHERE root_id = ?
			UNION ALL
			SELECT scraped_at FROM comics WHERE root_id = ? AND scraped_at IS NOT NULL
			UNION ALL
			SELECT updated_at FROM chapters WHERE root_id = ?
			UNION ALL
			SELECT updated_at FROM pages WHERE root_id = ?
		)
		ORDER BY julianday(ts) DESC
		LIMIT 1`,
		rootID, rootID, rootID, rootID,
	).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("root checkpoint: %w", err)
	}
	return parseTime(ts)
}
