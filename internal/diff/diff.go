// Package diff computes the changes between the indexed state of a root and
// a fresh scan of it.
//
// Compute is pure: the same inputs always give the same Diff, with every
// slice sorted by id. Identity is the URI-derived id, so a renamed or moved
// chapter shows up as a delete plus a create.
package diff

import (
	"cmp"
	"context"
	"log/slog"
	"slices"

	"github.com/shelfsync/shelfsync/internal/domain"
)

// Input is everything Compute needs for one root.
type Input struct {
	Previous domain.Snapshot
	Scanned  domain.Snapshot
	ScanType domain.ScanType
	// Scope lists the comics an incremental scan covered completely.
	// Ignored for full scans. Nothing outside it is ever deleted.
	Scope []string
	// Unverified lists comic and chapter ids the scan could not read
	// completely. A comic id holds back deletes of its chapters, a chapter
	// id holds back deletes of its pages, and neither is updated from the
	// partial scan.
	Unverified []string
}

// Changes holds the classified entities of one level.
type Changes[T any] struct {
	Creates []T      `json:"creates"`
	Updates []T      `json:"updates"`
	Deletes []string `json:"deletes"`
}

// Len returns the number of write operations at this level.
func (c *Changes[T]) Len() int {
	return len(c.Creates) + len(c.Updates) + len(c.Deletes)
}

// Diff is the delta for one root.
type Diff struct {
	ScanType domain.ScanType         `json:"scan_type"`
	Comics   Changes[domain.Comic]   `json:"comics"`
	Chapters Changes[domain.Chapter] `json:"chapters"`
	Pages    Changes[domain.Page]    `json:"pages"` // never has updates
	// Refreshes are comics whose only change is the derived chapter count.
	// They are rewritten but not reported or scraped as updates.
	Refreshes []domain.Comic `json:"refreshes"`
}

// Result derives the summary counts.
func (d *Diff) Result() domain.UpdateResult {
	return domain.UpdateResult{
		NewComics:       len(d.Comics.Creates),
		UpdatedComics:   len(d.Comics.Updates),
		DeletedComics:   len(d.Comics.Deletes),
		NewChapters:     len(d.Chapters.Creates),
		UpdatedChapters: len(d.Chapters.Updates),
		DeletedChapters: len(d.Chapters.Deletes),
		NewPages:        len(d.Pages.Creates),
		DeletedPages:    len(d.Pages.Deletes),
	}
}

// Ops returns the total number of writes needed to apply the diff.
func (d *Diff) Ops() int {
	return d.Comics.Len() + d.Chapters.Len() + d.Pages.Len() + len(d.Refreshes)
}

// Empty reports whether applying the diff would change nothing.
func (d *Diff) Empty() bool {
	return d.Ops() == 0
}

// Compute classifies every entity of in.Previous and in.Scanned.
func Compute(in Input) *Diff {
	full := in.ScanType != domain.ScanIncremental
	scope := make(map[string]bool, len(in.Scope))
	for _, id := range in.Scope {
		scope[id] = true
	}
	covered := func(comicID string) bool { return full || scope[comicID] }
	unverified := make(map[string]bool, len(in.Unverified))
	for _, id := range in.Unverified {
		unverified[id] = true
	}

	prevComics := keyBy(in.Previous.Comics, func(c domain.Comic) string { return c.ID })
	scanComics := keyBy(in.Scanned.Comics, func(c domain.Comic) string { return c.ID })
	prevChapters := keyBy(in.Previous.Chapters, func(c domain.Chapter) string { return c.ID })
	scanChapters := keyBy(in.Scanned.Chapters, func(c domain.Chapter) string { return c.ID })
	prevPages := keyBy(in.Previous.Pages, func(p domain.Page) string { return p.ID })
	scanPages := keyBy(in.Scanned.Pages, func(p domain.Page) string { return p.ID })

	d := &Diff{ScanType: in.ScanType}

	// A comic with any unreadable part keeps its indexed cover and count.
	heldComics := make(map[string]bool)
	for id := range unverified {
		heldComics[id] = true
		if ch, ok := scanChapters[id]; ok {
			heldComics[ch.ComicID] = true
		}
	}

	// Comics.
	deletedComics := make(map[string]bool)
	for id, sc := range scanComics {
		pc, ok := prevComics[id]
		switch {
		case !ok:
			d.Comics.Creates = append(d.Comics.Creates, sc)
		case heldComics[id]:
			continue
		case comicChanged(pc, sc):
			d.Comics.Updates = append(d.Comics.Updates, sc)
		case pc.ChapterCount != sc.ChapterCount:
			d.Refreshes = append(d.Refreshes, sc)
		}
	}
	for id := range prevComics {
		if _, ok := scanComics[id]; !ok && covered(id) && !unverified[id] {
			deletedComics[id] = true
		}
	}
	liveComic := func(id string) bool {
		if deletedComics[id] {
			return false
		}
		_, inPrev := prevComics[id]
		_, inScan := scanComics[id]
		return inPrev || inScan
	}

	// Chapters. A scanned chapter whose comic does not survive is never created.
	deletedChapters := make(map[string]bool)
	for id, sc := range scanChapters {
		if !liveComic(sc.ComicID) {
			continue
		}
		pc, ok := prevChapters[id]
		switch {
		case !ok:
			d.Chapters.Creates = append(d.Chapters.Creates, sc)
		case unverified[id]:
			continue
		case chapterChanged(pc, sc):
			d.Chapters.Updates = append(d.Chapters.Updates, sc)
		}
	}
	for id, pc := range prevChapters {
		_, scanned := scanChapters[id]
		switch {
		case deletedComics[pc.ComicID]:
			deletedChapters[id] = true
		case full && !liveComic(pc.ComicID):
			// orphan: parent vanished without going through a diff
			deletedChapters[id] = true
		case !scanned && covered(pc.ComicID) && !unverified[pc.ComicID]:
			deletedChapters[id] = true
		}
	}
	comicOf := func(chapterID string) (string, bool) {
		if c, ok := scanChapters[chapterID]; ok {
			return c.ComicID, true
		}
		if c, ok := prevChapters[chapterID]; ok {
			return c.ComicID, true
		}
		return "", false
	}
	liveChapter := func(id string) bool {
		if deletedChapters[id] {
			return false
		}
		if _, ok := prevChapters[id]; ok {
			return true
		}
		sc, ok := scanChapters[id]
		return ok && liveComic(sc.ComicID)
	}

	// Pages of a chapter that was not read completely, or that went
	// unseen under a comic that was not listed completely, are kept.
	heldPages := func(chapterID, comicID string) bool {
		if unverified[chapterID] {
			return true
		}
		_, scanned := scanChapters[chapterID]
		return !scanned && unverified[comicID]
	}

	// Pages. No update class: content identity is the URI.
	for id, sp := range scanPages {
		if !liveChapter(sp.ChapterID) {
			continue
		}
		if _, ok := prevPages[id]; !ok {
			d.Pages.Creates = append(d.Pages.Creates, sp)
		}
	}
	for id, pp := range prevPages {
		_, scanned := scanPages[id]
		comicID, known := comicOf(pp.ChapterID)
		switch {
		case deletedChapters[pp.ChapterID]:
			d.Pages.Deletes = append(d.Pages.Deletes, id)
		case full && !liveChapter(pp.ChapterID):
			d.Pages.Deletes = append(d.Pages.Deletes, id)
		case !scanned && known && covered(comicID) && !heldPages(pp.ChapterID, comicID):
			d.Pages.Deletes = append(d.Pages.Deletes, id)
		}
	}

	d.Comics.Deletes = sortedKeys(deletedComics)
	d.Chapters.Deletes = sortedKeys(deletedChapters)

	sortByID(d.Comics.Creates, func(c domain.Comic) string { return c.ID })
	sortByID(d.Comics.Updates, func(c domain.Comic) string { return c.ID })
	sortByID(d.Refreshes, func(c domain.Comic) string { return c.ID })
	sortByID(d.Chapters.Creates, func(c domain.Chapter) string { return c.ID })
	sortByID(d.Chapters.Updates, func(c domain.Chapter) string { return c.ID })
	sortByID(d.Pages.Creates, func(p domain.Page) string { return p.ID })
	slices.Sort(d.Pages.Deletes)
	return d
}

// DefaultBatchSize is the number of writes committed per transaction
// when ApplyOptions.BatchSize is unset.
const DefaultBatchSize = 50

// ApplyOptions tunes how an index store applies a Diff.
type ApplyOptions struct {
	BatchSize int
	// OnBatch is called after each commit with the writes applied so far.
	OnBatch func(applied, total int)
}

// Differ wraps Compute with cancellation and logging for use inside a sync.
type Differ struct {
	logger *slog.Logger
}

// NewDiffer creates a Differ.
func NewDiffer(logger *slog.Logger) *Differ {
	return &Differ{logger: logger}
}

// ComputeDiff runs Compute unless ctx is already done.
func (d *Differ) ComputeDiff(ctx context.Context, rootID string, in Input) (*Diff, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	out := Compute(in)
	r := out.Result()
	d.logger.Info("diff computed",
		"root_id", rootID,
		"scan_type", in.ScanType,
		"new_comics", r.NewComics,
		"updated_comics", r.UpdatedComics,
		"deleted_comics", r.DeletedComics,
		"refreshed_comics", len(out.Refreshes),
		"new_chapters", r.NewChapters,
		"deleted_chapters", r.DeletedChapters,
		"new_pages", r.NewPages,
		"deleted_pages", r.DeletedPages,
	)
	return out, nil
}

func comicChanged(prev, scanned domain.Comic) bool {
	return prev.Title != scanned.Title || prev.CoverURI != scanned.CoverURI
}

func chapterChanged(prev, scanned domain.Chapter) bool {
	return prev.Title != scanned.Title ||
		prev.PageCount != scanned.PageCount ||
		prev.SortKey != scanned.SortKey
}

func keyBy[T any](items []T, key func(T) string) map[string]T {
	m := make(map[string]T, len(items))
	for _, it := range items {
		m[key(it)] = it
	}
	return m
}

func sortByID[T any](items []T, key func(T) string) {
	slices.SortFunc(items, func(a, b T) int { return cmp.Compare(key(a), key(b)) })
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
