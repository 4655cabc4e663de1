package sse

import (
	"encoding/json/v2"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultKeepalive = 30 * time.Second
	writeTimeout     = 60 * time.Second
)

// Handler streams events at GET /api/v1/events. The optional root_id query
// parameter restricts the stream to one root.
type Handler struct {
	manager *Manager
	logger  *slog.Logger
	// keepalive is the heartbeat interval of each stream.
	keepalive time.Duration
}

// NewHandler creates a Handler.
func NewHandler(manager *Manager, logger *slog.Logger) *Handler {
	return &Handler{manager: manager, logger: logger, keepalive: defaultKeepalive}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	if ctx.Err() != nil {
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		h.logger.Error("response does not support streaming", slog.String("error", err.Error()))
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	rootID := r.URL.Query().Get("root_id")
	sub, err := h.manager.Subscribe(rootID)
	if err != nil {
		h.logger.Error("subscribe failed", slog.String("error", err.Error()))
		http.Error(w, "failed to open event stream", http.StatusInternalServerError)
		return
	}
	defer h.manager.Unsubscribe(sub.ID())

	log := h.logger.With(slog.String("subscriber_id", sub.ID()))
	send := func(name string, payload any) error {
		if err := writeFrame(w, name, payload); err != nil {
			return err
		}
		if err := rc.Flush(); err != nil {
			return err
		}
		if err := rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			// not every ResponseWriter supports deadlines
			log.Debug("write deadline unsupported", slog.String("error", err.Error()))
		}
		return nil
	}

	if err := send("connected", map[string]string{"client_id": sub.ID(), "root_id": rootID}); err != nil {
		log.Warn("failed to open stream", slog.String("error", err.Error()))
		return
	}

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		var ev Event
		select {
		case next, ok := <-sub.Events():
			if !ok {
				return
			}
			ev = next
		case <-ticker.C:
			ev = NewHeartbeatEvent()
		case <-sub.Closed():
			return
		case <-ctx.Done():
			return
		}

		if err := send(string(ev.Type), ev); err != nil {
			log.Info("stream closed by client", slog.String("event_type", string(ev.Type)))
			return
		}
	}
}

// writeFrame writes one text/event-stream frame with a JSON data line.
func writeFrame(w io.Writer, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
