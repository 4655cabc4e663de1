package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/shelfsync/shelfsync/internal/domain"
	"github.com/shelfsync/shelfsync/internal/orchestrator"
)

func (s *Server) registerRootRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listRoots",
		Method:      http.MethodGet,
		Path:        "/api/v1/roots",
		Summary:     "List roots",
		Description: "Returns every registered library root, ordered by name",
		Tags:        []string{"Roots"},
	}, s.handleListRoots)

	huma.Register(s.api, huma.Operation{
		OperationID:   "registerRoot",
		Method:        http.MethodPost,
		Path:          "/api/v1/roots",
		Summary:       "Register root",
		Description:   "Registers a storage location containing comics. The root ID is derived from its URI.",
		Tags:          []string{"Roots"},
		DefaultStatus: http.StatusCreated,
	}, s.handleRegisterRoot)

	huma.Register(s.api, huma.Operation{
		OperationID: "getRoot",
		Method:      http.MethodGet,
		Path:        "/api/v1/roots/{id}",
		Summary:     "Get root",
		Description: "Returns a library root by ID",
		Tags:        []string{"Roots"},
	}, s.handleGetRoot)

	huma.Register(s.api, huma.Operation{
		OperationID:   "deleteRoot",
		Method:        http.MethodDelete,
		Path:          "/api/v1/roots/{id}",
		Summary:       "Delete root",
		Description:   "Cancels any running sync, then removes the root with its comics and task history",
		Tags:          []string{"Roots"},
		DefaultStatus: http.StatusNoContent,
	}, s.handleDeleteRoot)

	huma.Register(s.api, huma.Operation{
		OperationID: "updateRootPermission",
		Method:      http.MethodPut,
		Path:        "/api/v1/roots/{id}/permission",
		Summary:     "Update root permission",
		Description: "Records a re-verified access grant. A root whose grant is not readable and persisted is skipped by syncs.",
		Tags:        []string{"Roots"},
	}, s.handleUpdatePermission)
}

// === DTOs ===

// PermissionRequest is the access grant held for a root.
type PermissionRequest struct {
	CanRead   bool      `json:"can_read" doc:"Whether the host may read the location"`
	CanWrite  bool      `json:"can_write,omitempty" doc:"Whether the host may write the location"`
	Persisted bool      `json:"persisted" doc:"Whether the grant survives restarts"`
	GrantedAt time.Time `json:"granted_at,omitzero" required:"false" doc:"When the grant was given; defaults to now"`
}

func (p PermissionRequest) toDomain() domain.Permission {
	return domain.Permission{
		CanRead:   p.CanRead,
		CanWrite:  p.CanWrite,
		Persisted: p.Persisted,
		GrantedAt: p.GrantedAt,
	}
}

// RegisterRootRequest is the request body for registering a root.
type RegisterRootRequest struct {
	Name       string            `json:"name" minLength:"1" maxLength:"200" doc:"Display name"`
	URI        string            `json:"uri" minLength:"1" doc:"Location URI, e.g. file:///srv/comics"`
	SourceKind string            `json:"source_kind" enum:"downloaded,imported-internal,imported-external" doc:"How the content arrived"`
	AutoSync   bool              `json:"auto_sync,omitempty" doc:"Watch and periodically sync this root"`
	Permission PermissionRequest `json:"permission" doc:"Access grant"`
}

// RegisterRootInput wraps the register root request for Huma.
type RegisterRootInput struct {
	Body RegisterRootRequest
}

// RootIDInput identifies a root by path.
type RootIDInput struct {
	ID string `path:"id" doc:"Root ID"`
}

// UpdatePermissionInput wraps the permission request for Huma.
type UpdatePermissionInput struct {
	ID   string `path:"id" doc:"Root ID"`
	Body PermissionRequest
}

// RootResponse contains root data in API responses.
type RootResponse struct {
	domain.LibraryRoot
	Scannable bool `json:"scannable" doc:"Whether syncs may scan this root"`
	Syncing   bool `json:"syncing" doc:"Whether a sync is running now"`
}

// RootOutput wraps a single root for Huma.
type RootOutput struct {
	Body RootResponse
}

// ListRootsResponse contains a list of roots.
type ListRootsResponse struct {
	Roots []RootResponse `json:"roots" doc:"Registered roots"`
}

// ListRootsOutput wraps the root list for Huma.
type ListRootsOutput struct {
	Body ListRootsResponse
}

// === Handlers ===

func (s *Server) handleListRoots(ctx context.Context, _ *struct{}) (*ListRootsOutput, error) {
	roots, err := s.deps.Syncer.ListRoots(ctx)
	if err != nil {
		return nil, toAPIError(err)
	}

	resp := make([]RootResponse, len(roots))
	for i, r := range roots {
		resp[i] = s.rootResponse(r)
	}
	return &ListRootsOutput{Body: ListRootsResponse{Roots: resp}}, nil
}

func (s *Server) handleRegisterRoot(ctx context.Context, input *RegisterRootInput) (*RootOutput, error) {
	root, err := s.deps.Syncer.RegisterRoot(ctx, orchestrator.RootInput{
		Name:       input.Body.Name,
		URI:        input.Body.URI,
		SourceKind: domain.SourceKind(input.Body.SourceKind),
		AutoSync:   input.Body.AutoSync,
		Permission: input.Body.Permission.toDomain(),
	})
	if err != nil {
		return nil, toAPIError(err)
	}
	s.refreshTriggers(ctx)
	return &RootOutput{Body: s.rootResponse(root)}, nil
}

func (s *Server) handleGetRoot(ctx context.Context, input *RootIDInput) (*RootOutput, error) {
	root, err := s.deps.Syncer.GetRoot(ctx, input.ID)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &RootOutput{Body: s.rootResponse(root)}, nil
}

func (s *Server) handleDeleteRoot(ctx context.Context, input *RootIDInput) (*struct{}, error) {
	if err := s.deps.Syncer.DeleteRoot(ctx, input.ID); err != nil {
		return nil, toAPIError(err)
	}
	s.refreshTriggers(ctx)
	return nil, nil
}

func (s *Server) handleUpdatePermission(ctx context.Context, input *UpdatePermissionInput) (*RootOutput, error) {
	root, err := s.deps.Syncer.RefreshPermission(ctx, input.ID, input.Body.toDomain())
	if err != nil {
		return nil, toAPIError(err)
	}
	s.refreshTriggers(ctx)
	return &RootOutput{Body: s.rootResponse(root)}, nil
}

func (s *Server) rootResponse(r *domain.LibraryRoot) RootResponse {
	_, running := s.deps.Syncer.RunningTaskID(r.ID)
	return RootResponse{
		LibraryRoot: *r,
		Scannable:   r.Scannable(),
		Syncing:     running,
	}
}

// refreshTriggers brings the watch set in line with the roots.
func (s *Server) refreshTriggers(ctx context.Context) {
	if s.deps.Triggers == nil {
		return
	}
	if err := s.deps.Triggers.Refresh(ctx); err != nil {
		s.logger.Warn("failed to refresh sync triggers", "error", err)
	}
}
