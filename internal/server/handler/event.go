package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/sentibot/internal/domain"
	"github.com/alanyoungcy/sentibot/internal/feed"
)

// EventPublisher enqueues a news event for the executor.
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.NewsEvent) error
}

// EventHandler accepts scored news events over HTTP.
type EventHandler struct {
	queue  EventPublisher
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler. queue may be nil in monitor-only
// mode.
func NewEventHandler(queue EventPublisher, logger *slog.Logger) *EventHandler {
	return &EventHandler{queue: queue, logger: logHandler(logger, "events")}
}

// IngestEvent validates a news event and queues it.
// POST /api/events
func (h *EventHandler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "trading is disabled in this mode")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	ev, err := feed.DecodeEvent(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.queue.Publish(r.Context(), ev); err != nil {
		if errors.Is(err, feed.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "event queue is full")
			return
		}
		writeServiceError(w, r, h.logger, "enqueue event", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "id": ev.ID})
}
