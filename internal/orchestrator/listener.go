package orchestrator

import (
	"log/slog"
	"sync"

	"github.com/shelfsync/shelfsync/internal/domain"
)

// ProgressListener observes sync pipelines.
//
// A successful sync produces OnScanStarted, any number of OnScanProgress,
// OnIndexingStarted, any number of OnIndexingProgress, OnScrapeStarted and
// OnSyncCompleted, in that order. A failed or cancelled sync ends with
// OnSyncFailed instead. Calls for one root are never concurrent; calls for
// different roots may interleave.
type ProgressListener interface {
	OnScanStarted(task domain.ScanTask)
	OnScanProgress(task domain.ScanTask, currentItem string)
	OnIndexingStarted(task domain.ScanTask, writes int)
	OnIndexingProgress(task domain.ScanTask)
	OnScrapeStarted(task domain.ScanTask, enqueued int)
	OnSyncCompleted(result domain.SyncResult)
	OnSyncFailed(task domain.ScanTask, err error)
}

// NopListener implements ProgressListener with no-ops. Embed it to
// observe only some callbacks.
type NopListener struct{}

func (NopListener) OnScanStarted(domain.ScanTask) {}
func (NopListener) OnScanProgress(domain.ScanTask, string) {}
func (NopListener) OnIndexingStarted(domain.ScanTask, int) {}
func (NopListener) OnIndexingProgress(domain.ScanTask) {}
func (NopListener) OnScrapeStarted(domain.ScanTask, int) {}
func (NopListener) OnSyncCompleted(domain.SyncResult) {}
func (NopListener) OnSyncFailed(domain.ScanTask, error) {}

// maxPendingProgress bounds the backlog of droppable events. Lifecycle
// events are never dropped.
const maxPendingProgress = 256

type event struct {
	progress bool
	deliver  func(ProgressListener)
}

// dispatcher delivers events to listeners on its own goroutine, in order.
type dispatcher struct {
	mu        sync.Mutex
	listeners []ProgressListener
	pending   []event
	progress  int // progress events in pending
	dropped   int
	wake      chan struct{}
	done      chan struct{}
	closed    bool
	logger    *slog.Logger
}

func newDispatcher(logger *slog.Logger) *dispatcher {
	d := &dispatcher{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	go d.loop()
	return d
}

func (d *dispatcher) add(l ProgressListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// emit queues an event and returns immediately.
func (d *dispatcher) emit(progress bool, deliver func(ProgressListener)) {
	d.mu.Lock()
	if d.closed || len(d.listeners) == 0 {
		d.mu.Unlock()
		return
	}
	if progress {
		if d.progress >= maxPendingProgress {
			d.dropped++
			d.mu.Unlock()
			return
		}
		d.progress++
	}
	d.pending = append(d.pending, event{progress: progress, deliver: deliver})
	select {
	case d.wake <- struct{}{}:
	default:
	}
	d.mu.Unlock()
}

func (d *dispatcher) loop() {
	defer close(d.done)
	for range d.wake {
		for {
			d.mu.Lock()
			if len(d.pending) == 0 {
				d.mu.Unlock()
				break
			}
			batch := d.pending
			d.pending = nil
			d.progress = 0
			listeners := d.listeners
			d.mu.Unlock()

			for _, ev := range batch {
				for _, l := range listeners {
					d.safeDeliver(l, ev)
				}
			}
		}
	}
}

func (d *dispatcher) safeDeliver(l ProgressListener, ev event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("progress listener panicked", "panic", r)
		}
	}()
	ev.deliver(l)
}

// close stops accepting events and waits until queued ones are delivered.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	dropped := d.dropped
	close(d.wake)
	d.mu.Unlock()

	<-d.done
	if dropped > 0 {
		d.logger.Debug("progress events dropped under backpressure", "count", dropped)
	}
}
