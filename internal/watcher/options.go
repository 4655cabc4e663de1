package watcher

import (
	"cmp"
	"path/filepath"
	"slices"
	"time"
)

// DefaultSettleDelay is used when Options.SettleDelay is unset.
const DefaultSettleDelay = 250 * time.Millisecond

// DefaultIgnorePatterns covers OS litter and files still being downloaded.
var DefaultIgnorePatterns = []string{
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	"*.tmp",
	"*.part",
	"*.crdownload",
	"*.!qB",
}

// Options tunes a Watcher. The zero value is usable.
type Options struct {
	// SettleDelay is how long a file must keep its size and mtime before
	// its event fires.
	SettleDelay time.Duration
	// IgnorePatterns are filepath.Match patterns tested against base names.
	// nil selects DefaultIgnorePatterns and turns IgnoreHidden on; an empty
	// slice ignores nothing.
	IgnorePatterns []string
	// IgnoreHidden drops dot files and skips dot directories below a root.
	// The root itself may live under a dot directory.
	IgnoreHidden bool
}

func (o Options) withDefaults() Options {
	o.SettleDelay = cmp.Or(o.SettleDelay, DefaultSettleDelay)
	if o.IgnorePatterns == nil {
		o.IgnorePatterns = DefaultIgnorePatterns
		o.IgnoreHidden = true
	}
	return o
}

// ignored reports whether a change at path is dropped. Only the base name
// is tested: ignored directories are never watched in the first place.
func (o Options) ignored(path string) bool {
	base := filepath.Base(path)
	if o.IgnoreHidden && len(base) > 1 && base[0] == '.' && base != ".." {
		return true
	}
	return slices.ContainsFunc(o.IgnorePatterns, func(pattern string) bool {
		ok, _ := filepath.Match(pattern, base)
		return ok
	})
}
