package scanner

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Entry is one directory entry seen by the walker.
type Entry struct {
	Path  string
	Name  string
	Size  int64
	IsDir bool
	// Err is set when the entry's info could not be read. Size is then
	// unknown and IsDir comes from the directory listing alone.
	Err error
}

// Walker lists directories, skipping hidden entries.
type Walker struct {
	logger *slog.Logger
}

// NewWalker creates a new walker.
func NewWalker(logger *slog.Logger) *Walker {
	return &Walker{logger: logger}
}

// List returns the visible entries of dir, non-recursively, in directory order.
// Entries whose info cannot be read are returned with Err set.
func (w *Walker) List(ctx context.Context, dir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		select {
		case <-ctx.Done():
			return entries, ctx.Err()
		default:
		}

		if isHidden(de.Name()) {
			continue
		}

		info, err := de.Info()
		if err != nil {
			w.logger.Warn("failed to get file info", "path", filepath.Join(dir, de.Name()), "error", err)
			entries = append(entries, Entry{
				Path:  filepath.Join(dir, de.Name()),
				Name:  de.Name(),
				IsDir: de.IsDir(),
				Err:   err,
			})
			continue
		}

		entries = append(entries, Entry{
			Path:  filepath.Join(dir, de.Name()),
			Name:  de.Name(),
			Size:  info.Size(),
			IsDir: isDirectory(dir, de, info),
		})
	}
	return entries, nil
}

// isDirectory follows symlinks so linked chapter folders are scanned.
func isDirectory(dir string, de fs.DirEntry, info fs.FileInfo) bool {
	if info.Mode()&fs.ModeSymlink == 0 {
		return de.IsDir()
	}
	target, err := os.Stat(filepath.Join(dir, de.Name()))
	return err == nil && target.IsDir()
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") || name == "__MACOSX"
}
