// Package domain holds the library model shared by the sync pipeline:
// roots, comics, chapters, pages and the scan and scrape task lifecycles.
package domain

import "time"

// SourceKind describes how a root's content arrived on the device.
type SourceKind string

const (
	SourceDownloaded       SourceKind = "downloaded"        // app-managed download directory
	SourceImportedInternal SourceKind = "imported-internal" // user-granted folder on internal storage
	SourceImportedExternal SourceKind = "imported-external" // removable or network storage
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceDownloaded, SourceImportedInternal, SourceImportedExternal:
		return true
	}
	return false
}

// Permission is the access grant the host holds for a root.
type Permission struct {
	CanRead    bool      `json:"can_read"`
	CanWrite   bool      `json:"can_write"`
	Persisted  bool      `json:"persisted"`
	GrantedAt  time.Time `json:"granted_at"`
	VerifiedAt time.Time `json:"verified_at"`
}

// IsValid reports whether the root may be scanned.
// A grant that is not readable or did not survive a restart is useless.
func (p Permission) IsValid() bool {
	return p.CanRead && p.Persisted
}

// LibraryRoot is one user-granted storage location containing comics.
// Its ID is derived from URI and never changes.
type LibraryRoot struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	URI             string     `json:"uri"`
	SourceKind      SourceKind `json:"source_kind"`
	Permission      Permission `json:"permission"`
	LastScannedAt   time.Time  `json:"last_scanned_at"`
	ComicCount      int        `json:"comic_count"`
	AutoSyncEnabled bool       `json:"auto_sync_enabled"`
	SortKey         string     `json:"sort_key"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Scannable reports whether the orchestrator may scan this root.
func (r *LibraryRoot) Scannable() bool {
	return r.Permission.IsValid()
}
