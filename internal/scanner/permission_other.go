//go:build !unix

package scanner

import (
	"os"
	"time"

	"github.com/shelfsync/shelfsync/internal/domain"
)

// ProbePermission checks whether the root directory can be listed.
func ProbePermission(root *domain.LibraryRoot) domain.Permission {
	perm := root.Permission
	perm.VerifiedAt = time.Now()

	path, err := PathFromURI(root.URI)
	if err != nil {
		perm.CanRead, perm.CanWrite = false, false
		return perm
	}
	_, err = os.ReadDir(path)
	perm.CanRead = err == nil
	info, err := os.Stat(path)
	perm.CanWrite = err == nil && info.Mode().Perm()&0o200 != 0
	return perm
}
