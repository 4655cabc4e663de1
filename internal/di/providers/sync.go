package providers

import (
	"github.com/samber/do/v2"

	"github.com/shelfsync/shelfsync/internal/config"
	"github.com/shelfsync/shelfsync/internal/logger"
	"github.com/shelfsync/shelfsync/internal/orchestrator"
	"github.com/shelfsync/shelfsync/internal/scanner"
	"github.com/shelfsync/shelfsync/internal/sse"
)

// ProvideScanner provides the filesystem scanner.
func ProvideScanner(i do.Injector) (*scanner.FSScanner, error) {
	log := do.MustInvoke[*logger.Logger](i)
	return scanner.NewFSScanner(log.ForComponent("scanner"), scanner.Options{}), nil
}

// OrchestratorHandle wraps the sync orchestrator with shutdown capability.
type OrchestratorHandle struct {
	*orchestrator.Orchestrator
}

// Shutdown implements do.Shutdownable.
// In-flight syncs are cancelled and their tasks journaled as cancelled.
func (h *OrchestratorHandle) Shutdown() error {
	h.Close()
	return nil
}

// ProvideOrchestrator provides the sync orchestrator and forwards its
// progress to SSE clients.
func ProvideOrchestrator(i do.Injector) (*OrchestratorHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	indexHandle := do.MustInvoke[*IndexHandle](i)
	journal := do.MustInvoke[*JournalHandle](i)
	scrapeHandle := do.MustInvoke[*ScrapeHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	fsScanner := do.MustInvoke[*scanner.FSScanner](i)

	deps := orchestrator.Deps{
		Index:   indexHandle.Store,
		Scanner: fsScanner,
		Journal: journal.Store,
	}
	// A nil *scrape.Queue must not become a non-nil interface.
	if scrapeHandle.Enabled() {
		deps.Queue = scrapeHandle.Queue
	}

	syncCfg := orchestrator.SyncConfig{
		BatchSize:          cfg.Sync.BatchSize,
		EnableAutoScrape:   cfg.Sync.EnableAutoScrape,
		ScrapeUpdated:      cfg.Sync.ScrapeUpdated,
		MaxConcurrentRoots: cfg.Sync.MaxConcurrentRoots,
		MaxScrapeRetries:   cfg.Scrape.MaxRetries,
	}

	orch := orchestrator.New(deps, syncCfg, log.ForComponent("sync"))
	orch.AddListener(sse.NewSyncListener(sseHandle.Manager))

	log.Info("Sync orchestrator ready",
		"batch_size", syncCfg.BatchSize,
		"auto_scrape", syncCfg.EnableAutoScrape && scrapeHandle.Enabled(),
		"max_concurrent_roots", syncCfg.MaxConcurrentRoots,
	)

	return &OrchestratorHandle{Orchestrator: orch}, nil
}
