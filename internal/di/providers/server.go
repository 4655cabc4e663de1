package providers

import (
	"errors"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/shelfsync/shelfsync/internal/api"
	"github.com/shelfsync/shelfsync/internal/config"
	"github.com/shelfsync/shelfsync/internal/logger"
	"github.com/shelfsync/shelfsync/internal/sse"
)

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
	api *api.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := shutdownContext()
	defer cancel()
	err := h.Server.Shutdown(ctx)
	h.api.Close()
	return err
}

// ProvideHTTPServer provides the HTTP server and starts listening.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	indexHandle := do.MustInvoke[*IndexHandle](i)
	journal := do.MustInvoke[*JournalHandle](i)
	searchHandle := do.MustInvoke[*SearchIndexHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	scrapeHandle := do.MustInvoke[*ScrapeHandle](i)
	orch := do.MustInvoke[*OrchestratorHandle](i)
	triggers := do.MustInvoke[*TriggerSourceHandle](i)

	deps := api.Deps{
		Syncer:      orch.Orchestrator,
		Comics:      indexHandle.Store,
		Tasks:       journal.Store,
		Search:      searchHandle.ComicIndex,
		Triggers:    triggers.Source,
		Events:      sse.NewHandler(sseHandle.Manager, log.ForComponent("sse")),
		Subscribers: sseHandle.Manager,
	}
	if scrapeHandle.Enabled() {
		deps.Queue = scrapeHandle.Queue
	}

	handler := api.NewServer(deps, api.Options{
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		Version:           Version,
	}, log.ForComponent("api"))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
		}
	}()

	return &HTTPServerHandle{Server: srv, api: handler}, nil
}
