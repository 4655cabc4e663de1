package providers

import (
	"context"
	"time"
)

// shutdownTimeout bounds the SSE drain and the HTTP server's graceful stop.
const shutdownTimeout = 30 * time.Second

func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), shutdownTimeout)
}
