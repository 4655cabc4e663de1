package trigger

import (
	"context"
	"errors"
	"time"

	"github.com/shelfsync/shelfsync/internal/domain"
	domainerrors "github.com/shelfsync/shelfsync/internal/errors"
)

// Kind tags a Result.
type Kind int

const (
	KindSuccess Kind = iota
	KindFailure      // not worth repeating until something outside changes
	KindRetry        // transient; the source schedules another attempt
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	case KindRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// Origin names what started a run.
type Origin string

const (
	OriginStartup  Origin = "startup"
	OriginPeriodic Origin = "periodic"
	OriginWatch    Origin = "watch"
	OriginRetry    Origin = "retry"
)

// Result is the outcome of one triggered run.
type Result struct {
	Kind   Kind   `json:"kind"`
	Origin Origin `json:"origin"`
	// RootID is set for single-root runs.
	RootID  string               `json:"root_id,omitempty"`
	Results []*domain.SyncResult `json:"results,omitempty"`
	Err     error                `json:"-"`
	At      time.Time            `json:"at"`
}

// Success wraps the results of a run that fully succeeded.
func Success(results ...*domain.SyncResult) Result {
	return Result{Kind: KindSuccess, Results: results, At: time.Now()}
}

// Failure wraps an error that retrying will not fix.
func Failure(err error, results ...*domain.SyncResult) Result {
	return Result{Kind: KindFailure, Err: err, Results: results, At: time.Now()}
}

// Retry wraps a transient error.
func Retry(err error, results ...*domain.SyncResult) Result {
	return Result{Kind: KindRetry, Err: err, Results: results, At: time.Now()}
}

// Error returns the message of Err, or "".
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Classify turns the return values of a sync entry point into a Result.
// Partial results of SyncAllRoots are kept; the run is retried when any of
// the joined root errors is transient.
func Classify(results []*domain.SyncResult, err error) Result {
	if err == nil {
		return Success(results...)
	}
	for _, leaf := range leaves(err) {
		if retryable(leaf) {
			return Retry(err, results...)
		}
	}
	return Failure(err, results...)
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case domainerrors.Is(err, domainerrors.ErrCancelled),
		domainerrors.Is(err, domainerrors.ErrRootUnavailable),
		domainerrors.Is(err, domainerrors.ErrNotFound),
		domainerrors.Is(err, domainerrors.ErrValidation),
		domainerrors.Is(err, domainerrors.ErrInvalidTransition):
		return false
	}
	// Conflict, ScanFailure, IndexApplyFailure and anything unexpected
	return true
}

// leaves flattens errors.Join trees.
func leaves(err error) []error {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []error{err}
	}
	var out []error
	for _, e := range joined.Unwrap() {
		out = append(out, leaves(e)...)
	}
	return out
}
