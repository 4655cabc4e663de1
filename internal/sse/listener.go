package sse

import (
	"github.com/shelfsync/shelfsync/internal/domain"
	"github.com/shelfsync/shelfsync/internal/orchestrator"
	"github.com/shelfsync/shelfsync/internal/scrape"
	"github.com/shelfsync/shelfsync/internal/trigger"
)

// SyncListener forwards orchestrator callbacks to the Manager.
type SyncListener struct {
	manager *Manager
}

// NewSyncListener returns a listener to register with the orchestrator.
func NewSyncListener(m *Manager) *SyncListener {
	return &SyncListener{manager: m}
}

var _ orchestrator.ProgressListener = (*SyncListener)(nil)

func (l *SyncListener) OnScanStarted(task domain.ScanTask) {
	l.manager.Emit(NewScanStartedEvent(task))
}

func (l *SyncListener) OnScanProgress(task domain.ScanTask, currentItem string) {
	l.manager.Emit(NewScanProgressEvent(task, currentItem))
}

func (l *SyncListener) OnIndexingStarted(task domain.ScanTask, writes int) {
	l.manager.Emit(NewIndexingStartedEvent(task, writes))
}

func (l *SyncListener) OnIndexingProgress(task domain.ScanTask) {
	l.manager.Emit(NewIndexingProgressEvent(task))
}

func (l *SyncListener) OnScrapeStarted(task domain.ScanTask, enqueued int) {
	l.manager.Emit(NewScrapeStartedEvent(task, enqueued))
}

func (l *SyncListener) OnSyncCompleted(result domain.SyncResult) {
	l.manager.Emit(NewSyncCompletedEvent(result))
}

func (l *SyncListener) OnSyncFailed(task domain.ScanTask, err error) {
	l.manager.Emit(NewSyncFailedEvent(task, err))
}

// ScrapeObserver returns a queue observer that broadcasts scrape task transitions.
func ScrapeObserver(m *Manager) scrape.Observer {
	return scrape.ObserverFunc(func(task domain.ScrapeTask) {
		m.Emit(NewScrapeTaskEvent(task))
	})
}

// TriggerObserver returns a callback for trigger.Source.OnResult.
func TriggerObserver(m *Manager) func(trigger.Result) {
	return func(res trigger.Result) {
		m.Emit(NewTriggerResultEvent(res))
	}
}
