// Package di provides dependency injection configuration for the shelfsync daemon.
package di

import (
	"github.com/samber/do/v2"

	"github.com/shelfsync/shelfsync/internal/config"
	"github.com/shelfsync/shelfsync/internal/di/providers"
	"github.com/shelfsync/shelfsync/internal/logger"
	"github.com/shelfsync/shelfsync/internal/scanner"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideSlogLogger)

	// Storage layer
	do.Provide(injector, providers.ProvideSSEManager)
	do.Provide(injector, providers.ProvideIndex)
	do.Provide(injector, providers.ProvideJournal)
	do.Provide(injector, providers.ProvideSearchIndex)

	// Pipeline
	do.Provide(injector, providers.ProvideScanner)
	do.Provide(injector, providers.ProvideScrapeQueue)
	do.Provide(injector, providers.ProvideOrchestrator)

	// Workers
	do.Provide(injector, providers.ProvideFileWatcher)
	do.Provide(injector, providers.ProvideTriggerSource)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services in dependency order.
// The trigger source starts last among the workers so the first sync
// sees a repaired journal and a requeued scrape pool.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*providers.SSEManagerHandle](injector)

	if _, err := do.Invoke[*providers.IndexHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.JournalHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.SearchIndexHandle](injector); err != nil {
		return err
	}

	_ = do.MustInvoke[*scanner.FSScanner](injector)
	if _, err := do.Invoke[*providers.ScrapeHandle](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*providers.OrchestratorHandle](injector)

	if _, err := do.Invoke[*providers.FileWatcherHandle](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*providers.TriggerSourceHandle](injector)

	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)

	providers.TriggerSearchReindexIfNeeded(injector)

	return nil
}
