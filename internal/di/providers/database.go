package providers

import (
	"context"
	"fmt"
	"os"

	"github.com/samber/do/v2"

	"github.com/shelfsync/shelfsync/internal/config"
	"github.com/shelfsync/shelfsync/internal/logger"
	"github.com/shelfsync/shelfsync/internal/sse"
	"github.com/shelfsync/shelfsync/internal/store"
	"github.com/shelfsync/shelfsync/internal/store/sqlite"
)

// SSEManagerHandle wraps the SSE manager with its context for lifecycle management.
type SSEManagerHandle struct {
	*sse.Manager
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *SSEManagerHandle) Shutdown() error {
	h.cancel()
	ctx, cancel := shutdownContext()
	defer cancel()
	return h.Manager.Shutdown(ctx)
}

// ProvideSSEManager provides the server-sent events manager.
func ProvideSSEManager(i do.Injector) (*SSEManagerHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)

	manager := sse.NewManager(log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	go manager.Start(ctx)

	log.Info("SSE manager started")

	return &SSEManagerHandle{
		Manager: manager,
		cancel:  cancel,
	}, nil
}

// IndexHandle wraps the SQLite comic index with shutdown capability.
type IndexHandle struct {
	*sqlite.Store
}

// Shutdown implements do.Shutdownable.
func (h *IndexHandle) Shutdown() error {
	return h.Close()
}

// ProvideIndex provides the SQLite comic index.
func ProvideIndex(i do.Injector) (*IndexHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if err := os.MkdirAll(cfg.Data.BasePath, 0o750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sqlite.Open(cfg.Data.IndexPath(), log.ForComponent("index"))
	if err != nil {
		return nil, err
	}

	log.Info("Comic index opened", "path", cfg.Data.IndexPath())

	return &IndexHandle{Store: db}, nil
}

// JournalHandle wraps the Badger task journal with shutdown capability.
type JournalHandle struct {
	*store.Store
}

// Shutdown implements do.Shutdownable.
func (h *JournalHandle) Shutdown() error {
	return h.Close()
}

// ProvideJournal provides the task journal. Tasks left running by an
// unclean shutdown are repaired by ProvideScrapeQueue.
func ProvideJournal(i do.Injector) (*JournalHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	journal, err := store.New(cfg.Data.TasksPath(), log.ForComponent("journal"))
	if err != nil {
		return nil, err
	}

	log.Info("Task journal opened", "path", cfg.Data.TasksPath())

	return &JournalHandle{Store: journal}, nil
}
