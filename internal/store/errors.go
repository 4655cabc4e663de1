package store

import (
	"errors"

	domainerrors "github.com/shelfsync/shelfsync/internal/errors"
)

// Sentinel errors returned by both the task journal and the SQLite index.
// They are coded domain errors so the API layer can map them to statuses.
var (
	ErrNotFound      = domainerrors.NotFound("resource not found")
	ErrAlreadyExists = domainerrors.AlreadyExistsf("resource already exists")
	ErrInvalidInput  = domainerrors.Validation("invalid input")
	ErrClosed        = domainerrors.Internalf("task journal closed")
)

// errInterrupted is recorded on scans found running at startup.
var errInterrupted = errors.New("interrupted")
