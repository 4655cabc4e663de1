// Package sse implements Server-Sent Events for sync and scrape progress.
package sse

import (
	"time"

	"github.com/shelfsync/shelfsync/internal/domain"
	"github.com/shelfsync/shelfsync/internal/trigger"
)

// EventType represents the type of SSE Event.
type EventType string

const (
	// EventScanStarted is sent when a sync starts walking its root.
	EventScanStarted EventType = "sync.scan_started"
	// EventScanProgress carries the item the scanner is looking at.
	EventScanProgress EventType = "sync.scan_progress"
	// EventIndexingStarted is sent once the diff is known.
	EventIndexingStarted EventType = "sync.indexing_started"
	// EventIndexingProgress is sent after each committed batch.
	EventIndexingProgress EventType = "sync.indexing_progress"
	// EventScrapeStarted reports how many scrape tasks a sync queued.
	EventScrapeStarted EventType = "sync.scrape_started"
	// EventSyncCompleted ends a successful sync.
	EventSyncCompleted EventType = "sync.completed"
	// EventSyncFailed ends a failed or cancelled sync.
	EventSyncFailed EventType = "sync.failed"

	// EventScrapeTask is sent on every scrape task transition.
	EventScrapeTask EventType = "scrape.task"

	// EventTriggerResult reports the outcome of a timer or watcher driven sync.
	EventTriggerResult EventType = "trigger.result"

	// EventHeartbeat represents a connection keepalive event.
	EventHeartbeat EventType = "heartbeat"
)

// Event represents an SSE event to be sent to clients.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Type      EventType `json:"type"`
	// RootID scopes the event; clients filtering on a root only get its events.
	RootID string `json:"root_id,omitempty"`
}

// lifecycle reports whether the event opens or closes a sync.
func (e Event) lifecycle() bool {
	return e.Type == EventScanStarted || e.Type == EventSyncCompleted || e.Type == EventSyncFailed
}

// ScanEventData is the payload of every sync.* event.
type ScanEventData struct {
	TaskID      string            `json:"task_id"`
	RootID      string            `json:"root_id"`
	ScanType    domain.ScanType   `json:"scan_type"`
	Status      domain.TaskStatus `json:"status"`
	Progress    int               `json:"progress"`
	CurrentItem string            `json:"current_item,omitempty"`
	Writes      int               `json:"writes,omitempty"`
	Enqueued    int               `json:"enqueued,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// SyncCompletedEventData is the payload of sync.completed.
type SyncCompletedEventData struct {
	ScanEventData
	Counts              domain.UpdateResult `json:"counts"`
	ScrapeTasks         int                 `json:"scrape_tasks"`
	ScrapeEnqueueErrors int                 `json:"scrape_enqueue_errors,omitempty"`
}

// ScrapeTaskEventData is the payload of scrape.task.
type ScrapeTaskEventData struct {
	TaskID     string            `json:"task_id"`
	ComicID    string            `json:"comic_id"`
	ComicTitle string            `json:"comic_title"`
	ScrapeType domain.ScrapeType `json:"scrape_type"`
	Status     domain.TaskStatus `json:"status"`
	RetryCount int               `json:"retry_count"`
	MaxRetries int               `json:"max_retries"`
	Error      string            `json:"error,omitempty"`
}

// TriggerResultEventData is the payload of trigger.result.
type TriggerResultEventData struct {
	Origin      string `json:"origin"`
	Kind        string `json:"kind"`
	RootID      string `json:"root_id,omitempty"`
	SyncedRoots int    `json:"synced_roots"`
	Error       string `json:"error,omitempty"`
}

// HeartbeatEventData is the payload of heartbeat events.
type HeartbeatEventData struct {
	ServerTime time.Time `json:"server_time"`
}

func scanData(task domain.ScanTask) ScanEventData {
	return ScanEventData{
		TaskID:   task.ID,
		RootID:   task.RootID,
		ScanType: task.ScanType,
		Status:   task.Status,
		Progress: task.Progress,
		Error:    task.Error,
	}
}

func newScanEvent(t EventType, data any, rootID string) Event {
	return Event{
		Type:      t,
		Data:      data,
		RootID:    rootID,
		Timestamp: time.Now(),
	}
}

// NewScanStartedEvent creates a sync.scan_started event.
func NewScanStartedEvent(task domain.ScanTask) Event {
	return newScanEvent(EventScanStarted, scanData(task), task.RootID)
}

// NewScanProgressEvent creates a sync.scan_progress event.
func NewScanProgressEvent(task domain.ScanTask, currentItem string) Event {
	data := scanData(task)
	data.CurrentItem = currentItem
	return newScanEvent(EventScanProgress, data, task.RootID)
}

// NewIndexingStartedEvent creates a sync.indexing_started event.
func NewIndexingStartedEvent(task domain.ScanTask, writes int) Event {
	data := scanData(task)
	data.Writes = writes
	return newScanEvent(EventIndexingStarted, data, task.RootID)
}

// NewIndexingProgressEvent creates a sync.indexing_progress event.
func NewIndexingProgressEvent(task domain.ScanTask) Event {
	return newScanEvent(EventIndexingProgress, scanData(task), task.RootID)
}

// NewScrapeStartedEvent creates a sync.scrape_started event.
func NewScrapeStartedEvent(task domain.ScanTask, enqueued int) Event {
	data := scanData(task)
	data.Enqueued = enqueued
	return newScanEvent(EventScrapeStarted, data, task.RootID)
}

// NewSyncCompletedEvent creates a sync.completed event.
func NewSyncCompletedEvent(result domain.SyncResult) Event {
	data := SyncCompletedEventData{
		ScanEventData:       scanData(result.ScanTask),
		Counts:              result.Counts,
		ScrapeTasks:         len(result.ScrapeTaskIDs),
		ScrapeEnqueueErrors: result.ScrapeEnqueueErrors,
	}
	return newScanEvent(EventSyncCompleted, data, result.ScanTask.RootID)
}

// NewSyncFailedEvent creates a sync.failed event.
func NewSyncFailedEvent(task domain.ScanTask, err error) Event {
	data := scanData(task)
	if data.Error == "" && err != nil {
		data.Error = err.Error()
	}
	return newScanEvent(EventSyncFailed, data, task.RootID)
}

// NewScrapeTaskEvent creates a scrape.task event.
func NewScrapeTaskEvent(task domain.ScrapeTask) Event {
	return newScanEvent(EventScrapeTask, ScrapeTaskEventData{
		TaskID:     task.ID,
		ComicID:    task.ComicID,
		ComicTitle: task.ComicTitle,
		ScrapeType: task.ScrapeType,
		Status:     task.Status,
		RetryCount: task.RetryCount,
		MaxRetries: task.MaxRetries,
		Error:      task.Error,
	}, task.RootID)
}

// NewTriggerResultEvent creates a trigger.result event. Single-root results
// are scoped to their root; SyncAllRoots results go to every client.
func NewTriggerResultEvent(res trigger.Result) Event {
	return newScanEvent(EventTriggerResult, TriggerResultEventData{
		Origin:      string(res.Origin),
		Kind:        res.Kind.String(),
		RootID:      res.RootID,
		SyncedRoots: len(res.Results),
		Error:       res.Error(),
	}, res.RootID)
}

// NewHeartbeatEvent creates a heartbeat event.
func NewHeartbeatEvent() Event {
	now := time.Now()
	return Event{
		Type:      EventHeartbeat,
		Data:      HeartbeatEventData{ServerTime: now},
		Timestamp: now,
	}
}
