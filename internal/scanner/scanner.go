// Package scanner enumerates comics, chapters, and pages under a library root.
//
// The filesystem layout understood by FSScanner is:
//
//	<root>/<comic>/cover.jpg              optional explicit cover
//	<root>/<comic>/<chapter>/<page>.jpg   folder chapter
//	<root>/<comic>/<chapter>.cbz          archive chapter
//	<root>/<comic>/<page>.jpg             loose pages form one chapter
package scanner

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"

	"github.com/shelfsync/shelfsync/internal/domain"
	"github.com/shelfsync/shelfsync/internal/id"
	"github.com/shelfsync/shelfsync/internal/sortkey"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true,
	".gif": true, ".avif": true, ".bmp": true,
}

var archiveExtensions = map[string]bool{".cbz": true, ".zip": true}

// Options configures an FSScanner.
type Options struct {
	Workers int // comics read in parallel (default: 4)
}

// FSScanner scans roots on the local filesystem.
type FSScanner struct {
	walker  *Walker
	logger  *slog.Logger
	workers int
}

// NewFSScanner creates a filesystem scanner.
func NewFSScanner(logger *slog.Logger, opts Options) *FSScanner {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &FSScanner{
		walker:  NewWalker(logger),
		logger:  logger,
		workers: opts.Workers,
	}
}

// comicScan is the scanned subtree of one comic directory.
type comicScan struct {
	comic    domain.Comic
	chapters []domain.Chapter
	pages    []domain.Page
	// unverified holds the ids of parts that could not be read.
	unverified []string
	// unlisted is set when the comic directory itself could not be read.
	unlisted bool
}

// selection is the set of comic directories a scan reads.
type selection struct {
	dirs       []string
	scope      []string
	unverified []string
}

// ScanRoot implements Scanner.
func (s *FSScanner) ScanRoot(ctx context.Context, root *domain.LibraryRoot, req Request, progress ProgressFunc) (*Result, error) {
	started := time.Now()
	tracker := NewProgressTracker(progress)

	rootPath, err := PathFromURI(root.URI)
	if err != nil {
		return nil, err
	}

	tracker.SetPhase(PhaseListing, 0)
	sel, err := s.selectComics(ctx, rootPath, req, tracker)
	if err != nil {
		return nil, err
	}

	tracker.SetPhase(PhaseReading, len(sel.dirs))
	results := make([]*comicScan, len(sel.dirs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, dir := range sel.dirs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cs, err := s.scanComic(gctx, root.ID, dir, started, tracker)
			if err != nil {
				return fmt.Errorf("comic %s: %w", dir, err)
			}
			results[i] = cs
			tracker.Increment(filepath.Base(dir))
			return nil
		})
	}
	walkErr := g.Wait()

	result := &Result{
		Scope:       sel.scope,
		Unverified:  sel.unverified,
		Errors:      tracker.Errors(),
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
	for _, cs := range results {
		if cs == nil {
			continue
		}
		result.Unverified = append(result.Unverified, cs.unverified...)
		if cs.unlisted {
			continue
		}
		result.Snapshot.Comics = append(result.Snapshot.Comics, cs.comic)
		result.Snapshot.Chapters = append(result.Snapshot.Chapters, cs.chapters...)
		result.Snapshot.Pages = append(result.Snapshot.Pages, cs.pages...)
	}
	slices.Sort(result.Unverified)
	result.Unverified = slices.Compact(result.Unverified)

	if walkErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		return nil, walkErr
	}

	tracker.SetPhase(PhaseComplete, 0)
	s.logger.Info("scan complete",
		"root_id", root.ID,
		"scan_type", req.Type,
		"comics", len(result.Snapshot.Comics),
		"chapters", len(result.Snapshot.Chapters),
		"pages", len(result.Snapshot.Pages),
		"errors", len(result.Errors),
		"unverified", len(result.Unverified),
		"duration", result.CompletedAt.Sub(started),
	)
	return result, nil
}

// selectComics returns the comic directories to read and, for incremental
// scans, the ids they cover. A root that cannot be listed fails the scan.
func (s *FSScanner) selectComics(ctx context.Context, rootPath string, req Request, tracker *ProgressTracker) (selection, error) {
	var sel selection
	if req.Type != domain.ScanIncremental {
		entries, err := s.walker.List(ctx, rootPath)
		if err != nil {
			return sel, fmt.Errorf("list root: %w", err)
		}
		sel.dirs = make([]string, 0, len(entries))
		for _, e := range entries {
			switch {
			case e.Err != nil:
				tracker.AddError(ScanError{Path: e.Path, Err: e.Err})
				sel.unverified = append(sel.unverified, id.Comic(URIFromPath(e.Path)))
			case e.IsDir:
				sel.dirs = append(sel.dirs, e.Path)
			}
		}
		return sel, nil
	}

	if _, err := os.Stat(rootPath); err != nil {
		return sel, fmt.Errorf("stat root: %w", err)
	}

	seen := make(map[string]bool)
	for _, p := range req.Paths {
		dir, ok := comicDirFor(rootPath, p)
		if !ok || seen[dir] {
			continue
		}
		seen[dir] = true

		info, err := os.Stat(dir)
		switch {
		case err == nil && info.IsDir():
			sel.dirs = append(sel.dirs, dir)
		case err == nil:
			// a file directly under the root is not a comic
			continue
		case !errors.Is(err, os.ErrNotExist):
			return sel, fmt.Errorf("stat %s: %w", dir, err)
		}
		sel.scope = append(sel.scope, id.Comic(URIFromPath(dir)))
	}
	slices.Sort(sel.dirs)
	slices.Sort(sel.scope)
	return sel, nil
}

// comicDirFor maps a path inside the root to its top-level comic directory.
func comicDirFor(rootPath, p string) (string, bool) {
	rel, err := filepath.Rel(rootPath, filepath.Clean(p))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	if isHidden(first) {
		return "", false
	}
	return filepath.Join(rootPath, first), true
}

// scanComic reads one comic directory. Parts that cannot be read are
// recorded as errors and listed in the comicScan's unverified ids; parts
// that vanished mid-scan are simply absent.
func (s *FSScanner) scanComic(ctx context.Context, rootID, dir string, seen time.Time, tracker *ProgressTracker) (*comicScan, error) {
	comicURI := URIFromPath(dir)
	comicID := id.Comic(comicURI)

	entries, err := s.walker.List(ctx, dir)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, os.ErrNotExist):
		return &comicScan{unlisted: true}, nil
	default:
		tracker.AddError(ScanError{Path: dir, Err: err})
		return &comicScan{unverified: []string{comicID}, unlisted: true}, nil
	}

	title := filepath.Base(dir)
	cs := &comicScan{
		comic: domain.Comic{
			ID:        comicID,
			RootID:    rootID,
			URI:       comicURI,
			Title:     title,
			SortKey:   sortkey.Key(title),
			UpdatedAt: seen,
		},
	}

	var loose []Entry
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name))
		stem := strings.ToLower(strings.TrimSuffix(e.Name, filepath.Ext(e.Name)))
		switch {
		case e.Err != nil:
			tracker.AddError(ScanError{Path: e.Path, Err: e.Err})
			cs.unverified = append(cs.unverified, comicID)
			if !e.IsDir {
				// it may have been a loose page
				cs.unverified = append(cs.unverified, id.Chapter(comicURI))
			}
		case e.IsDir:
			pages, err := s.walker.List(ctx, e.Path)
			switch {
			case err == nil:
				images, complete := filterImages(pages, tracker)
				chID := cs.addFolderChapter(e.Path, e.Name, images, seen)
				if !complete {
					cs.unverified = append(cs.unverified, chID)
				}
			case ctx.Err() != nil:
				return nil, ctx.Err()
			case errors.Is(err, os.ErrNotExist):
				continue
			default:
				tracker.AddError(ScanError{Path: e.Path, Err: err})
				cs.unverified = append(cs.unverified, cs.addFolderChapter(e.Path, e.Name, nil, seen))
			}
		case archiveExtensions[ext]:
			pages, err := readArchive(e.Path)
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			chID := cs.addArchiveChapter(e.Path, e.Name, pages, seen)
			if err != nil {
				tracker.AddError(ScanError{Path: e.Path, Err: err})
				cs.unverified = append(cs.unverified, chID)
			}
		case imageExtensions[ext] && stem == "cover":
			cs.comic.CoverURI = URIFromPath(e.Path)
		case imageExtensions[ext]:
			loose = append(loose, e)
		}
	}
	if len(loose) > 0 {
		images, complete := filterImages(loose, tracker)
		chID := cs.addFolderChapter(dir, title, images, seen)
		if !complete {
			cs.unverified = append(cs.unverified, chID)
		}
	}

	slices.SortFunc(cs.chapters, func(a, b domain.Chapter) int {
		return cmp.Or(cmp.Compare(a.SortKey, b.SortKey), cmp.Compare(a.ID, b.ID))
	})
	cs.comic.ChapterCount = len(cs.chapters)
	if cs.comic.CoverURI == "" {
		cs.comic.CoverURI = cs.firstPageURI()
	}
	return cs, nil
}

type imageFile struct {
	Entry
	mime string
}

// filterImages keeps entries that are images by extension and by content.
// complete is false when some image could not be read.
func filterImages(entries []Entry, tracker *ProgressTracker) (images []imageFile, complete bool) {
	complete = true
	images = make([]imageFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir || !isImageName(e.Name) {
			continue
		}
		if e.Err != nil {
			tracker.AddError(ScanError{Path: e.Path, Err: e.Err})
			complete = false
			continue
		}
		mt, err := mimetype.DetectFile(e.Path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			tracker.AddError(ScanError{Path: e.Path, Err: err})
			complete = false
			continue
		}
		if !strings.HasPrefix(mt.String(), "image/") {
			continue
		}
		images = append(images, imageFile{Entry: e, mime: mt.String()})
	}
	return images, complete
}

// addFolderChapter adds a chapter made of image files in one directory.
// Loose pages use the comic directory itself; the chapter id prefix keeps
// that id distinct from the comic's.
func (cs *comicScan) addFolderChapter(path, title string, images []imageFile, seen time.Time) string {
	ch := cs.newChapter(URIFromPath(path), title, seen)

	slices.SortFunc(images, func(a, b imageFile) int {
		return cmp.Or(cmp.Compare(sortkey.Key(a.Name), sortkey.Key(b.Name)), cmp.Compare(a.Name, b.Name))
	})
	for i, img := range images {
		pageURI := URIFromPath(img.Path)
		cs.pages = append(cs.pages, domain.Page{
			ID:        id.Page(pageURI),
			ChapterID: ch.ID,
			RootID:    cs.comic.RootID,
			URI:       pageURI,
			Index:     i,
			MimeType:  img.mime,
			SizeBytes: img.Size,
			SortKey:   sortkey.Key(img.Name),
			UpdatedAt: seen,
		})
	}
	ch.PageCount = len(images)
	cs.chapters = append(cs.chapters, ch)
	return ch.ID
}

func (cs *comicScan) addArchiveChapter(path, name string, members []archivePage, seen time.Time) string {
	chURI := URIFromPath(path)
	ch := cs.newChapter(chURI, strings.TrimSuffix(name, filepath.Ext(name)), seen)

	slices.SortFunc(members, func(a, b archivePage) int {
		return cmp.Or(cmp.Compare(sortkey.Key(a.Name), sortkey.Key(b.Name)), cmp.Compare(a.Name, b.Name))
	})
	for i, m := range members {
		pageURI := entryURI(chURI, m.Name)
		cs.pages = append(cs.pages, domain.Page{
			ID:        id.Page(pageURI),
			ChapterID: ch.ID,
			RootID:    cs.comic.RootID,
			URI:       pageURI,
			Index:     i,
			MimeType:  m.MimeType,
			SizeBytes: m.Size,
			SortKey:   sortkey.Key(m.Name),
			UpdatedAt: seen,
		})
	}
	ch.PageCount = len(members)
	cs.chapters = append(cs.chapters, ch)
	return ch.ID
}

func (cs *comicScan) newChapter(uri, title string, seen time.Time) domain.Chapter {
	return domain.Chapter{
		ID:        id.Chapter(uri),
		ComicID:   cs.comic.ID,
		RootID:    cs.comic.RootID,
		URI:       uri,
		Title:     title,
		SortKey:   sortkey.Key(title),
		UpdatedAt: seen,
	}
}

// firstPageURI picks the first page of the first non-empty chapter.
func (cs *comicScan) firstPageURI() string {
	for _, ch := range cs.chapters {
		for _, p := range cs.pages {
			if p.ChapterID == ch.ID && p.Index == 0 {
				return p.URI
			}
		}
	}
	return ""
}

func isImageName(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

var _ Scanner = (*FSScanner)(nil)
