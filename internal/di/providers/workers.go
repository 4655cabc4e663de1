package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/shelfsync/shelfsync/internal/config"
	"github.com/shelfsync/shelfsync/internal/logger"
	"github.com/shelfsync/shelfsync/internal/sse"
	"github.com/shelfsync/shelfsync/internal/trigger"
	"github.com/shelfsync/shelfsync/internal/watcher"
)

// FileWatcherHandle wraps the file watcher with shutdown capability.
// Watcher is nil when watching is disabled.
type FileWatcherHandle struct {
	*watcher.Watcher
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *FileWatcherHandle) Shutdown() error {
	if h.Watcher == nil {
		return nil
	}
	h.cancel()
	return h.Watcher.Stop()
}

// ProvideFileWatcher provides the file system watcher. Roots are added to
// the watch set by the trigger source, not here.
func ProvideFileWatcher(i do.Injector) (*FileWatcherHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if !cfg.Sync.Watch {
		log.Info("File watching disabled by configuration")
		return &FileWatcherHandle{}, nil
	}

	w, err := watcher.New(log.ForComponent("watcher"), watcher.Options{IgnoreHidden: true})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := w.Start(ctx); err != nil {
			log.Error("File watcher error", "error", err)
		}
	}()

	log.Info("File watcher started")

	return &FileWatcherHandle{Watcher: w, cancel: cancel}, nil
}

// TriggerSourceHandle runs the sync trigger source in the background.
type TriggerSourceHandle struct {
	*trigger.Source
	cancel context.CancelFunc
	done   chan struct{}
}

// Shutdown implements do.Shutdownable. It waits for syncs the source started.
func (h *TriggerSourceHandle) Shutdown() error {
	h.cancel()
	<-h.done
	return nil
}

// ProvideTriggerSource provides the timer and watcher driven sync trigger.
func ProvideTriggerSource(i do.Injector) (*TriggerSourceHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	orch := do.MustInvoke[*OrchestratorHandle](i)
	journal := do.MustInvoke[*JournalHandle](i)
	watcherHandle := do.MustInvoke[*FileWatcherHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)

	var w trigger.Watcher
	if watcherHandle.Watcher != nil {
		w = watcherHandle.Watcher
	}

	source := trigger.New(orch.Orchestrator, w, journal.Store, trigger.Options{
		Interval:    cfg.Sync.Interval,
		Debounce:    cfg.Sync.WatchSettle,
		RetryDelay:  cfg.Sync.RetryDelay,
		SyncOnStart: cfg.Sync.SyncOnStart,
		Retention:   cfg.Sync.Retention,
	}, log.ForComponent("trigger"))

	source.OnResult(sse.TriggerObserver(sseHandle.Manager))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := source.Run(ctx); err != nil {
			log.Error("Trigger source stopped", "error", err)
		}
	}()

	log.Info("Sync triggers started",
		"interval", cfg.Sync.Interval,
		"watch", watcherHandle.Watcher != nil,
		"sync_on_start", cfg.Sync.SyncOnStart,
	)

	return &TriggerSourceHandle{Source: source, cancel: cancel, done: done}, nil
}
