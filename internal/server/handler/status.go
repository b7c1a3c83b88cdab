package handler

import (
	"net/http"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

// StatusHandler serves process status and the effective configuration.
type StatusHandler struct {
	status func() domain.BotStatus
	config any
}

// NewStatusHandler creates a StatusHandler. config is served as-is and must
// already be redacted.
func NewStatusHandler(status func() domain.BotStatus, config any) *StatusHandler {
	return &StatusHandler{status: status, config: config}
}

// GetStatus responds with the current BotStatus.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

// GetConfig responds with the redacted configuration.
// GET /api/config
func (h *StatusHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.config)
}
