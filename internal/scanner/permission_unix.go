//go:build unix

package scanner

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/shelfsync/shelfsync/internal/domain"
)

// ProbePermission checks what the process may do with the root directory.
// Persisted is kept from the previous grant: on a plain filesystem access
// does not expire.
func ProbePermission(root *domain.LibraryRoot) domain.Permission {
	perm := root.Permission
	perm.VerifiedAt = time.Now()

	path, err := PathFromURI(root.URI)
	if err != nil {
		perm.CanRead, perm.CanWrite = false, false
		return perm
	}
	perm.CanRead = unix.Access(path, unix.R_OK|unix.X_OK) == nil
	perm.CanWrite = unix.Access(path, unix.W_OK) == nil
	return perm
}
