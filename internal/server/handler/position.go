package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

// PositionReader is the read side of the position store.
type PositionReader interface {
	GetByID(ctx context.Context, id string) (domain.Position, error)
	ListOpen(ctx context.Context) ([]domain.Position, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error)
}

// PositionCloser closes a position at market.
type PositionCloser interface {
	ClosePosition(ctx context.Context, id string, reason domain.CloseReason) (domain.Position, error)
}

// StopLossUpdater changes the threshold of a live monitor.
type StopLossUpdater interface {
	UpdateStopLoss(ctx context.Context, id string, price float64) (bool, error)
}

// PositionHandler serves position endpoints.
type PositionHandler struct {
	positions PositionReader
	closer    PositionCloser
	stops     StopLossUpdater
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler. closer and stops may be nil,
// in which case the mutating endpoints answer 503.
func NewPositionHandler(positions PositionReader, closer PositionCloser, stops StopLossUpdater, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		closer:    closer,
		stops:     stops,
		logger:    logHandler(logger, "positions"),
	}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns positions newest first, or only open ones with
// ?status=open.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	var (
		positions []domain.Position
		err       error
	)
	switch r.URL.Query().Get("status") {
	case "":
		opts, perr := parseListOpts(r)
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		positions, err = h.positions.List(r.Context(), opts)
	case string(domain.PositionStatusOpen):
		positions, err = h.positions.ListOpen(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "status must be empty or open")
		return
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns one position.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.positions.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// ClosePosition sells an open position at market.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	if h.closer == nil {
		writeError(w, http.StatusServiceUnavailable, "trading is disabled in this mode")
		return
	}
	id := r.PathValue("id")
	pos, err := h.closer.ClosePosition(r.Context(), id, domain.CloseReasonManual)
	if err != nil {
		writeServiceError(w, r, h.logger, "close position", err)
		return
	}
	h.logger.InfoContext(r.Context(), "position closed manually",
		slog.String("position_id", id),
		slog.String("symbol", pos.Symbol),
	)
	writeJSON(w, http.StatusOK, pos)
}

type updateStopLossRequest struct {
	StopLossPrice float64 `json:"stop_loss_price"`
}

// UpdateStopLoss moves the stop-loss threshold of a monitored position.
// PUT /api/positions/{id}/stop-loss
func (h *PositionHandler) UpdateStopLoss(w http.ResponseWriter, r *http.Request) {
	if h.stops == nil {
		writeError(w, http.StatusServiceUnavailable, "monitoring is disabled in this mode")
		return
	}
	var req updateStopLossRequest
	if err := decodeJSON(r, w, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.StopLossPrice <= 0 {
		writeError(w, http.StatusBadRequest, "stop_loss_price must be positive")
		return
	}

	id := r.PathValue("id")
	ok, err := h.stops.UpdateStopLoss(r.Context(), id, req.StopLossPrice)
	if err != nil {
		writeServiceError(w, r, h.logger, "update stop-loss", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no active monitor for position "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"position_id":     id,
		"stop_loss_price": req.StopLossPrice,
	})
}
