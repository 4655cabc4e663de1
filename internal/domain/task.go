package domain

import (
	"time"

	domainerrors "github.com/shelfsync/shelfsync/internal/errors"
)

// TaskStatus is the lifecycle state shared by scan and scrape tasks.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// ScanType selects between a complete walk and a subtree walk.
type ScanType string

const (
	// ScanFull walks the whole root; anything not seen is deleted.
	ScanFull ScanType = "full"
	// ScanIncremental walks part of a root; nothing outside its scope is deleted.
	ScanIncremental ScanType = "incremental"
)

// Valid reports whether t is a known scan type.
func (t ScanType) Valid() bool {
	return t == ScanFull || t == ScanIncremental
}

// ScanCounters are the final tallies recorded on a completed scan.
type ScanCounters struct {
	FoundComics int `json:"found_comics"`
	NewChapters int `json:"new_chapters"`
	NewPages    int `json:"new_pages"`
}

// ScanTask tracks one scan invocation of one root.
//
// Transition methods never mutate the receiver. They return the next value
// and leave persisting it to the caller.
type ScanTask struct {
	ID          string       `json:"id"`
	RootID      string       `json:"root_id"`
	ScanType    ScanType     `json:"scan_type"`
	Status      TaskStatus   `json:"status"`
	Progress    int          `json:"progress"`
	Counters    ScanCounters `json:"counters"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// NewScanTask returns a pending scan task.
func NewScanTask(id, rootID string, scanType ScanType) ScanTask {
	return ScanTask{
		ID:        id,
		RootID:    rootID,
		ScanType:  scanType,
		Status:    TaskPending,
		CreatedAt: time.Now(),
	}
}

// MarkStarted moves a pending task to running.
func (t ScanTask) MarkStarted() (ScanTask, error) {
	if t.Status != TaskPending {
		return t, invalidTransition("scan", t.ID, t.Status, TaskRunning)
	}
	now := time.Now()
	t.Status = TaskRunning
	t.StartedAt = &now
	return t, nil
}

// UpdateProgress records progress while running.
// Values are clamped to [0,100] and reports lower than the current value are dropped.
func (t ScanTask) UpdateProgress(percent int) (ScanTask, error) {
	if t.Status != TaskRunning {
		return t, invalidTransition("scan", t.ID, t.Status, TaskRunning)
	}
	t.Progress = max(t.Progress, clampPercent(percent))
	return t, nil
}

// MarkCompleted finishes a running task with its final counters.
func (t ScanTask) MarkCompleted(counters ScanCounters) (ScanTask, error) {
	if t.Status != TaskRunning {
		return t, invalidTransition("scan", t.ID, t.Status, TaskCompleted)
	}
	now := time.Now()
	t.Status = TaskCompleted
	t.Progress = 100
	t.Counters = counters
	t.CompletedAt = &now
	return t, nil
}

// MarkFailed finishes a running task with an error.
func (t ScanTask) MarkFailed(cause error) (ScanTask, error) {
	if t.Status != TaskRunning {
		return t, invalidTransition("scan", t.ID, t.Status, TaskFailed)
	}
	now := time.Now()
	t.Status = TaskFailed
	t.Error = errorString(cause)
	t.CompletedAt = &now
	return t, nil
}

// MarkCancelled finishes a pending or running task.
func (t ScanTask) MarkCancelled() (ScanTask, error) {
	if t.Status != TaskPending && t.Status != TaskRunning {
		return t, invalidTransition("scan", t.ID, t.Status, TaskCancelled)
	}
	now := time.Now()
	t.Status = TaskCancelled
	t.CompletedAt = &now
	return t, nil
}

func clampPercent(p int) int {
	return min(max(p, 0), 100)
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func invalidTransition(kind, id string, from, to TaskStatus) error {
	return domainerrors.InvalidTransitionf("%s task %s: cannot move from %s to %s", kind, id, from, to)
}
