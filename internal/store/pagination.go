package store

import (
	"encoding/base64"
	"fmt"
)

const (
	defaultPageSize = 20
	maxPageSize     = 1000
)

// PaginationParams selects one page of a listing.
type PaginationParams struct {
	Limit  int    // items per page (default 20, at most 1000)
	Cursor string // opaque, from the previous page; empty for the first page
}

// PaginatedResult is one page of a listing.
type PaginatedResult[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"` // empty on the last page
	HasMore    bool   `json:"has_more"`
	Total      int    `json:"total"`
}

// Validate clamps the limit into range.
func (p *PaginationParams) Validate() {
	if p.Limit <= 0 {
		p.Limit = defaultPageSize
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
}

// EncodeCursor turns the id of the last item of a page into a cursor.
func EncodeCursor(id string) string {
	if id == "" {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

// DecodeCursor is the inverse of EncodeCursor.
func DecodeCursor(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("invalid cursor: %w", ErrInvalidInput)
	}
	return string(decoded), nil
}

// paginate cuts one page out of an already ordered listing. The cursor
// names the last item of the previous page; a cursor whose item is gone
// (pruned or deleted) is rejected instead of silently restarting.
func paginate[T any](items []T, params PaginationParams, idOf func(T) string) (PaginatedResult[T], error) {
	params.Validate()

	after, err := DecodeCursor(params.Cursor)
	if err != nil {
		return PaginatedResult[T]{}, err
	}

	start := 0
	if after != "" {
		start = -1
		for i, it := range items {
			if idOf(it) == after {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return PaginatedResult[T]{}, fmt.Errorf("cursor no longer valid: %w", ErrInvalidInput)
		}
	}

	end := min(start+params.Limit, len(items))
	page := PaginatedResult[T]{
		Items:   items[start:end],
		HasMore: end < len(items),
		Total:   len(items),
	}
	if page.HasMore && end > start {
		page.NextCursor = EncodeCursor(idOf(items[end-1]))
	}
	return page, nil
}
