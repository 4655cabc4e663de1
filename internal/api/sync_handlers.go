package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/shelfsync/shelfsync/internal/domain"
	domainerrors "github.com/shelfsync/shelfsync/internal/errors"
	"github.com/shelfsync/shelfsync/internal/orchestrator"
)

// acceptWait bounds how long an async sync request waits for the scan task
// id before answering.
const acceptWait = time.Second

func (s *Server) registerSyncRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "syncRoot",
		Method:        http.MethodPost,
		Path:          "/api/v1/roots/{id}/sync",
		Summary:       "Sync root",
		Description:   "Scans the root and updates the index. Returns 202 with the scan task id unless wait is set, in which case the full result is returned once the sync finishes.",
		Tags:          []string{"Sync"},
		DefaultStatus: http.StatusAccepted,
	}, s.handleSyncRoot)

	huma.Register(s.api, huma.Operation{
		OperationID: "getSyncStatus",
		Method:      http.MethodGet,
		Path:        "/api/v1/roots/{id}/sync",
		Summary:     "Get sync status",
		Description: "Returns whether the root is syncing and its most recent scan task",
		Tags:        []string{"Sync"},
	}, s.handleSyncStatus)

	huma.Register(s.api, huma.Operation{
		OperationID: "cancelSync",
		Method:      http.MethodDelete,
		Path:        "/api/v1/roots/{id}/sync",
		Summary:     "Cancel sync",
		Description: "Cancels the running sync of the root and its pending scrape tasks",
		Tags:        []string{"Sync"},
	}, s.handleCancelSync)

	huma.Register(s.api, huma.Operation{
		OperationID: "syncAllRoots",
		Method:      http.MethodPost,
		Path:        "/api/v1/sync",
		Summary:     "Sync all roots",
		Description: "Syncs every auto-sync root and waits for all of them. Roots that fail are reported in errors.",
		Tags:        []string{"Sync"},
	}, s.handleSyncAll)
}

// === DTOs ===

// SyncOptions overrides the server's sync configuration for one request.
type SyncOptions struct {
	BatchSize     int   `json:"batch_size,omitempty" minimum:"0" maximum:"10000" doc:"Index writes per transaction"`
	AutoScrape    *bool `json:"auto_scrape,omitempty" doc:"Enqueue scrape tasks for new comics"`
	ScrapeUpdated *bool `json:"scrape_updated,omitempty" doc:"Also scrape comics whose title or cover changed"`
}

func (o SyncOptions) apply(base orchestrator.SyncConfig) *orchestrator.SyncConfig {
	if o.BatchSize > 0 {
		base.BatchSize = o.BatchSize
	}
	if o.AutoScrape != nil {
		base.EnableAutoScrape = *o.AutoScrape
	}
	if o.ScrapeUpdated != nil {
		base.ScrapeUpdated = *o.ScrapeUpdated
	}
	return &base
}

// SyncRootRequest is the request body for syncing one root.
type SyncRootRequest struct {
	SyncOptions
	Type  string   `json:"type,omitempty" enum:"full,incremental" doc:"Scan type; defaults to full, or incremental when paths are given"`
	Paths []string `json:"paths,omitempty" doc:"Limit an incremental sync to the comics containing these paths"`
	Wait  bool     `json:"wait,omitempty" doc:"Block until the sync finishes"`
}

// SyncRootInput wraps the sync request for Huma.
type SyncRootInput struct {
	ID   string `path:"id" doc:"Root ID"`
	Body *SyncRootRequest `required:"false"`
}

// SyncResponse reports a started or finished sync.
type SyncResponse struct {
	RootID string             `json:"root_id" doc:"Root ID"`
	TaskID string             `json:"task_id,omitempty" doc:"Scan task ID, when known"`
	Done   bool               `json:"done" doc:"Whether the sync already finished"`
	Result *domain.SyncResult `json:"result,omitempty" doc:"Sync result, when done"`
}

// SyncOutput wraps the sync response for Huma. Status is 200 when the
// response carries a finished result.
type SyncOutput struct {
	Status int
	Body   SyncResponse
}

// SyncStatusResponse describes a root's sync state.
type SyncStatusResponse struct {
	RootID   string           `json:"root_id" doc:"Root ID"`
	Syncing  bool             `json:"syncing" doc:"Whether a sync is running"`
	TaskID   string           `json:"task_id,omitempty" doc:"Running scan task ID"`
	LastTask *domain.ScanTask `json:"last_task,omitempty" doc:"Most recent scan task"`
}

// SyncStatusOutput wraps the sync status for Huma.
type SyncStatusOutput struct {
	Body SyncStatusResponse
}

// CancelSyncResponse reports what a cancel request stopped.
type CancelSyncResponse struct {
	SyncCancelled    bool `json:"sync_cancelled" doc:"Whether a running sync was cancelled"`
	ScrapesCancelled int  `json:"scrapes_cancelled" doc:"Number of scrape tasks cancelled"`
}

// CancelSyncOutput wraps the cancel response for Huma.
type CancelSyncOutput struct {
	Body CancelSyncResponse
}

// SyncAllRequest is the request body for syncing every root.
type SyncAllRequest struct {
	SyncOptions
	Type string `json:"type,omitempty" enum:"full,incremental" doc:"Scan type; defaults to full"`
}

// SyncAllInput wraps the sync-all request for Huma.
type SyncAllInput struct {
	Body *SyncAllRequest `required:"false"`
}

// SyncAllResponse lists per-root results and failures.
type SyncAllResponse struct {
	Results []*domain.SyncResult `json:"results" doc:"Results of the roots that synced"`
	Errors  []string             `json:"errors,omitempty" doc:"Failures of the other roots"`
}

// SyncAllOutput wraps the sync-all response for Huma.
type SyncAllOutput struct {
	Body SyncAllResponse
}

type syncOutcome struct {
	result *domain.SyncResult
	err    error
}

// === Handlers ===

func (s *Server) handleSyncRoot(ctx context.Context, input *SyncRootInput) (*SyncOutput, error) {
	req := input.Body
	if req == nil {
		req = &SyncRootRequest{}
	}

	scanType := domain.ScanType(req.Type)
	if scanType == "" {
		scanType = domain.ScanFull
		if len(req.Paths) > 0 {
			scanType = domain.ScanIncremental
		}
	}
	if len(req.Paths) > 0 && scanType != domain.ScanIncremental {
		return nil, toAPIError(domainerrors.Validation("paths require an incremental sync"))
	}
	cfg := req.apply(s.deps.Syncer.Config())

	run := func(ctx context.Context) (*domain.SyncResult, error) {
		if len(req.Paths) > 0 {
			return s.deps.Syncer.SyncPaths(ctx, input.ID, req.Paths, cfg)
		}
		return s.deps.Syncer.SyncRoot(ctx, input.ID, scanType, cfg)
	}

	if req.Wait {
		res, err := run(ctx)
		if err != nil {
			return nil, toAPIError(err)
		}
		return finishedSync(input.ID, res), nil
	}

	if taskID, ok := s.deps.Syncer.RunningTaskID(input.ID); ok {
		return nil, toAPIError(domainerrors.Conflictf("root %s is already syncing", input.ID).
			WithDetails(map[string]string{"task_id": taskID}))
	}

	done := make(chan syncOutcome, 1)
	go func() {
		res, err := run(background(ctx))
		if err != nil {
			s.logger.Warn("background sync failed", "root_id", input.ID, "error", err)
		}
		done <- syncOutcome{result: res, err: err}
	}()

	// Wait for the run to register so the caller gets a task id to follow.
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	timeout := time.NewTimer(acceptWait)
	defer timeout.Stop()
	for {
		select {
		case out := <-done:
			if out.err != nil {
				return nil, toAPIError(out.err)
			}
			return finishedSync(input.ID, out.result), nil
		case <-tick.C:
			if taskID, ok := s.deps.Syncer.RunningTaskID(input.ID); ok {
				return &SyncOutput{
					Status: http.StatusAccepted,
					Body:   SyncResponse{RootID: input.ID, TaskID: taskID},
				}, nil
			}
		case <-timeout.C:
			return &SyncOutput{
				Status: http.StatusAccepted,
				Body:   SyncResponse{RootID: input.ID},
			}, nil
		}
	}
}

func finishedSync(rootID string, res *domain.SyncResult) *SyncOutput {
	return &SyncOutput{
		Status: http.StatusOK,
		Body: SyncResponse{
			RootID: rootID,
			TaskID: res.ScanTask.ID,
			Done:   true,
			Result: res,
		},
	}
}

func (s *Server) handleSyncStatus(ctx context.Context, input *RootIDInput) (*SyncStatusOutput, error) {
	if _, err := s.deps.Syncer.GetRoot(ctx, input.ID); err != nil {
		return nil, toAPIError(err)
	}

	resp := SyncStatusResponse{RootID: input.ID}
	resp.TaskID, resp.Syncing = s.deps.Syncer.RunningTaskID(input.ID)

	if s.deps.Tasks != nil {
		tasks, err := s.deps.Tasks.ListScanTasks(ctx, input.ID)
		if err != nil {
			return nil, toAPIError(err)
		}
		if len(tasks) > 0 {
			resp.LastTask = &tasks[0]
		}
	}
	return &SyncStatusOutput{Body: resp}, nil
}

func (s *Server) handleCancelSync(ctx context.Context, input *RootIDInput) (*CancelSyncOutput, error) {
	if _, err := s.deps.Syncer.GetRoot(ctx, input.ID); err != nil {
		return nil, toAPIError(err)
	}
	cancelled, scrapes := s.deps.Syncer.CancelSync(input.ID)
	return &CancelSyncOutput{Body: CancelSyncResponse{
		SyncCancelled:    cancelled,
		ScrapesCancelled: scrapes,
	}}, nil
}

func (s *Server) handleSyncAll(ctx context.Context, input *SyncAllInput) (*SyncAllOutput, error) {
	req := input.Body
	if req == nil {
		req = &SyncAllRequest{}
	}
	scanType := domain.ScanType(req.Type)
	if scanType == "" {
		scanType = domain.ScanFull
	}

	results, err := s.deps.Syncer.SyncAllRoots(ctx, scanType, req.apply(s.deps.Syncer.Config()))
	resp := SyncAllResponse{Results: results}
	if resp.Results == nil {
		resp.Results = []*domain.SyncResult{}
	}
	for _, leaf := range unwrapJoined(err) {
		resp.Errors = append(resp.Errors, leaf.Error())
	}
	return &SyncAllOutput{Body: resp}, nil
}

// unwrapJoined flattens one level of errors.Join.
func unwrapJoined(err error) []error {
	if err == nil {
		return nil
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
