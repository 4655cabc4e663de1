package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

func (s *Server) registerHealthRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "healthCheck",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns server health status with component checks",
		Tags:        []string{"Health"},
	}, s.handleHealthCheck)
}

// ComponentHealth describes the health of a single component.
type ComponentHealth struct {
	Status  string `json:"status" doc:"Component status: healthy, degraded, or unhealthy"`
	Latency string `json:"latency,omitempty" doc:"Response time for this component"`
	Message string `json:"message,omitempty" doc:"Additional status information"`
}

// HealthResponse contains health check data in API responses.
type HealthResponse struct {
	Status     string                     `json:"status" doc:"Overall status: healthy, degraded, or unhealthy"`
	Uptime     string                     `json:"uptime" doc:"Time since the server started"`
	Components map[string]ComponentHealth `json:"components" doc:"Individual component statuses"`
}

// HealthOutput wraps the health response for Huma.
type HealthOutput struct {
	Body HealthResponse
}

func (s *Server) handleHealthCheck(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	checks := map[string]ComponentHealth{
		"index":   s.checkIndex(ctx),
		"journal": s.checkJournal(),
		"search":  s.checkSearch(),
		"sse":     s.checkSSE(),
	}

	overall := statusHealthy
	for name, c := range checks {
		switch {
		case c.Status == statusUnhealthy && name == "index":
			overall = statusUnhealthy
		case c.Status != statusHealthy && overall == statusHealthy:
			overall = statusDegraded
		}
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:     overall,
			Uptime:     time.Since(s.started).Round(time.Second).String(),
			Components: checks,
		},
	}, nil
}

// checkIndex pings the SQLite comic index. Nothing works without it.
func (s *Server) checkIndex(ctx context.Context) ComponentHealth {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.deps.Comics.Ping(ctx); err != nil {
		return ComponentHealth{Status: statusUnhealthy, Message: err.Error()}
	}
	return ComponentHealth{Status: statusHealthy, Latency: time.Since(start).String()}
}

func (s *Server) checkJournal() ComponentHealth {
	if s.deps.Tasks == nil {
		return ComponentHealth{Status: statusDegraded, Message: "task journal not configured"}
	}
	start := time.Now()
	if err := s.deps.Tasks.Ping(); err != nil {
		return ComponentHealth{Status: statusUnhealthy, Message: err.Error()}
	}
	return ComponentHealth{Status: statusHealthy, Latency: time.Since(start).String()}
}

func (s *Server) checkSearch() ComponentHealth {
	if s.deps.Search == nil {
		return ComponentHealth{Status: statusDegraded, Message: "search index not configured"}
	}
	start := time.Now()
	n, err := s.deps.Search.Count()
	if err != nil {
		return ComponentHealth{Status: statusUnhealthy, Message: err.Error()}
	}
	return ComponentHealth{
		Status:  statusHealthy,
		Latency: time.Since(start).String(),
		Message: fmt.Sprintf("%d comics indexed", n),
	}
}

func (s *Server) checkSSE() ComponentHealth {
	if s.deps.Subscribers == nil {
		return ComponentHealth{Status: statusDegraded, Message: "event stream not configured"}
	}
	return ComponentHealth{
		Status:  statusHealthy,
		Message: fmt.Sprintf("%d clients connected", s.deps.Subscribers.ClientCount()),
	}
}
