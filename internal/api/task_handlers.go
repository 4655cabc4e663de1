package api

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/shelfsync/shelfsync/internal/domain"
	domainerrors "github.com/shelfsync/shelfsync/internal/errors"
	"github.com/shelfsync/shelfsync/internal/scrape"
	"github.com/shelfsync/shelfsync/internal/store"
)

func (s *Server) registerTaskRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listScanTasks",
		Method:      http.MethodGet,
		Path:        "/api/v1/roots/{id}/tasks",
		Summary:     "List scan tasks",
		Description: "Returns the scan history of a root, newest first",
		Tags:        []string{"Tasks"},
	}, s.handleListScanTasks)

	huma.Register(s.api, huma.Operation{
		OperationID: "getTask",
		Method:      http.MethodGet,
		Path:        "/api/v1/tasks/{id}",
		Summary:     "Get task",
		Description: "Returns a scan or scrape task by ID",
		Tags:        []string{"Tasks"},
	}, s.handleGetTask)

	huma.Register(s.api, huma.Operation{
		OperationID: "listScrapeTasks",
		Method:      http.MethodGet,
		Path:        "/api/v1/scrape/tasks",
		Summary:     "List scrape tasks",
		Description: "Returns the scrape tasks in one status, oldest first",
		Tags:        []string{"Tasks"},
	}, s.handleListScrapeTasks)

	huma.Register(s.api, huma.Operation{
		OperationID: "getScrapeStats",
		Method:      http.MethodGet,
		Path:        "/api/v1/scrape/stats",
		Summary:     "Scrape queue statistics",
		Description: "Returns counters of the scrape queue since startup",
		Tags:        []string{"Tasks"},
	}, s.handleScrapeStats)

	huma.Register(s.api, huma.Operation{
		OperationID: "listTriggerResults",
		Method:      http.MethodGet,
		Path:        "/api/v1/triggers",
		Summary:     "Trigger results",
		Description: "Returns the latest outcome of each automatic sync trigger",
		Tags:        []string{"Tasks"},
	}, s.handleTriggerResults)
}

// === DTOs ===

// ListScanTasksInput selects a root's scan history.
type ListScanTasksInput struct {
	ID     string `path:"id" doc:"Root ID"`
	Limit  int    `query:"limit" default:"20" minimum:"1" maximum:"1000" doc:"Maximum tasks to return"`
	Cursor string `query:"cursor" doc:"next_cursor of the previous page"`
}

// ListScanTasksOutput wraps the scan history for Huma.
type ListScanTasksOutput struct {
	Body struct {
		Tasks      []domain.ScanTask `json:"tasks" doc:"Scan tasks, newest first"`
		NextCursor string            `json:"next_cursor,omitempty" doc:"Cursor of the next page"`
		HasMore    bool              `json:"has_more" doc:"Whether more tasks follow"`
		Total      int               `json:"total" doc:"Tasks in the root's history"`
	}
}

// GetTaskInput identifies a task.
type GetTaskInput struct {
	ID string `path:"id" doc:"Scan or scrape task ID"`
}

// TaskResponse holds exactly one of Scan and Scrape.
type TaskResponse struct {
	Kind   string             `json:"kind" enum:"scan,scrape" doc:"Task kind"`
	Scan   *domain.ScanTask   `json:"scan,omitempty" doc:"Scan task"`
	Scrape *domain.ScrapeTask `json:"scrape,omitempty" doc:"Scrape task"`
}

// TaskOutput wraps a task for Huma.
type TaskOutput struct {
	Body TaskResponse
}

// ListScrapeTasksInput selects scrape tasks by status.
type ListScrapeTasksInput struct {
	Status string `query:"status" default:"pending" enum:"pending,running,completed,failed,cancelled" doc:"Task status"`
	RootID string `query:"root_id" doc:"Only tasks of this root"`
}

// ListScrapeTasksOutput wraps the scrape task list for Huma.
type ListScrapeTasksOutput struct {
	Body struct {
		Tasks []domain.ScrapeTask `json:"tasks" doc:"Scrape tasks, oldest first"`
	}
}

// ScrapeStatsOutput wraps the queue counters for Huma.
type ScrapeStatsOutput struct {
	Body scrape.Stats
}

// TriggerResultResponse is the latest result of one trigger origin.
type TriggerResultResponse struct {
	Origin  string               `json:"origin" doc:"What started the run"`
	Kind    string               `json:"kind" doc:"success, failure or retry"`
	RootID  string               `json:"root_id,omitempty" doc:"Root of a single-root run"`
	Results []*domain.SyncResult `json:"results,omitempty" doc:"Per-root sync results"`
	Error   string               `json:"error,omitempty" doc:"Failure message"`
	At      time.Time            `json:"at" doc:"When the run finished"`
}

// TriggerResultsOutput wraps the trigger results for Huma.
type TriggerResultsOutput struct {
	Body struct {
		Results []TriggerResultResponse `json:"results" doc:"Latest result per origin"`
	}
}

// === Handlers ===

func (s *Server) handleListScanTasks(ctx context.Context, input *ListScanTasksInput) (*ListScanTasksOutput, error) {
	tasks, err := s.journal()
	if err != nil {
		return nil, err
	}
	if _, err := s.deps.Syncer.GetRoot(ctx, input.ID); err != nil {
		return nil, toAPIError(err)
	}

	page, err := tasks.ListScanTasksPage(ctx, input.ID, store.PaginationParams{
		Limit:  input.Limit,
		Cursor: input.Cursor,
	})
	if err != nil {
		return nil, toAPIError(err)
	}

	out := &ListScanTasksOutput{}
	out.Body.Tasks = nonNil(page.Items)
	out.Body.NextCursor = page.NextCursor
	out.Body.HasMore = page.HasMore
	out.Body.Total = page.Total
	return out, nil
}

func (s *Server) handleGetTask(ctx context.Context, input *GetTaskInput) (*TaskOutput, error) {
	tasks, err := s.journal()
	if err != nil {
		return nil, err
	}

	scan, err := tasks.GetScanTask(ctx, input.ID)
	if err == nil {
		return &TaskOutput{Body: TaskResponse{Kind: "scan", Scan: &scan}}, nil
	}
	if !domainerrors.Is(err, domainerrors.ErrNotFound) {
		return nil, toAPIError(err)
	}

	scr, err := tasks.GetScrapeTask(ctx, input.ID)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &TaskOutput{Body: TaskResponse{Kind: "scrape", Scrape: &scr}}, nil
}

func (s *Server) handleListScrapeTasks(ctx context.Context, input *ListScrapeTasksInput) (*ListScrapeTasksOutput, error) {
	tasks, err := s.journal()
	if err != nil {
		return nil, err
	}

	list, err := tasks.ListScrapeTasks(ctx, domain.TaskStatus(input.Status))
	if err != nil {
		return nil, toAPIError(err)
	}
	if input.RootID != "" {
		list = slices.DeleteFunc(list, func(t domain.ScrapeTask) bool { return t.RootID != input.RootID })
	}

	out := &ListScrapeTasksOutput{}
	out.Body.Tasks = nonNil(list)
	return out, nil
}

func (s *Server) handleScrapeStats(_ context.Context, _ *struct{}) (*ScrapeStatsOutput, error) {
	if s.deps.Queue == nil {
		return &ScrapeStatsOutput{}, nil
	}
	return &ScrapeStatsOutput{Body: s.deps.Queue.Stats()}, nil
}

func (s *Server) handleTriggerResults(_ context.Context, _ *struct{}) (*TriggerResultsOutput, error) {
	out := &TriggerResultsOutput{}
	out.Body.Results = []TriggerResultResponse{}
	if s.deps.Triggers == nil {
		return out, nil
	}

	for _, r := range s.deps.Triggers.LastResults() {
		resp := TriggerResultResponse{
			Origin:  string(r.Origin),
			Kind:    r.Kind.String(),
			RootID:  r.RootID,
			Results: r.Results,
			At:      r.At,
		}
		if r.Err != nil {
			resp.Error = r.Err.Error()
		}
		out.Body.Results = append(out.Body.Results, resp)
	}
	slices.SortFunc(out.Body.Results, func(a, b TriggerResultResponse) int {
		return b.At.Compare(a.At)
	})
	return out, nil
}

func (s *Server) journal() (TaskReader, error) {
	if s.deps.Tasks == nil {
		return nil, &APIError{
			status:  http.StatusServiceUnavailable,
			Code:    string(domainerrors.CodeInternal),
			Message: "task journal not configured",
		}
	}
	return s.deps.Tasks, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
