package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/shelfsync/shelfsync/internal/domain"
)

// Scanner enumerates the comics of one root.
//
// Implementations must check ctx between filesystem operations. When ctx is
// cancelled they return what they have so far together with ctx.Err().
type Scanner interface {
	ScanRoot(ctx context.Context, root *domain.LibraryRoot, req Request, progress ProgressFunc) (*Result, error)
}

// Request selects what to scan.
type Request struct {
	Type domain.ScanType
	// Paths limits an incremental scan to the comics containing these
	// filesystem paths. Ignored for full scans.
	Paths []string
}

// Result is a scanned snapshot of a root.
type Result struct {
	Snapshot domain.Snapshot
	// Scope lists the ids of comics whose subtree was scanned completely,
	// including comics that turned out to be gone. Empty for full scans.
	Scope []string
	// Unverified lists the ids of comics and chapters that were seen but
	// not read completely. Their indexed content must not be treated as
	// gone.
	Unverified  []string
	Errors      []ScanError
	StartedAt   time.Time
	CompletedAt time.Time
}

// Phase is a coarse scan stage.
type Phase string

const (
	PhaseListing  Phase = "listing"
	PhaseReading  Phase = "reading"
	PhaseComplete Phase = "complete"
)

// Progress is a point-in-time view of a running scan.
type Progress struct {
	Phase       Phase  `json:"phase"`
	CurrentItem string `json:"current_item,omitempty"`
	Current     int    `json:"current"`
	Total       int    `json:"total"`
}

// Percent maps the progress to 0..100.
func (p Progress) Percent() int {
	switch {
	case p.Phase == PhaseComplete:
		return 100
	case p.Phase != PhaseReading || p.Total <= 0:
		return 0
	default:
		return min(p.Current*100/p.Total, 100)
	}
}

// ProgressFunc receives progress updates. It may be called concurrently
// and out of order, and must not block.
type ProgressFunc func(Progress)

// ScanError is a non-fatal problem with one path.
type ScanError struct {
	Path string `json:"path"`
	Err  error  `json:"-"`
}

func (e ScanError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}
