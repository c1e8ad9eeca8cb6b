package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

// PositionReader is what the position endpoints need from the reader.
type PositionReader interface {
	Read(ctx context.Context, managerID string) (domain.PositionSnapshot, error)
	Refresh(ctx context.Context, managerID string) (domain.PositionSnapshot, error)
}

// PositionHandler serves margin position snapshots.
type PositionHandler struct {
	reader PositionReader
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(reader PositionReader, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{reader: reader, logger: logHandler(logger, "position")}
}

// GetPosition returns the latest snapshot of a manager.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "get position", h.reader.Read)
}

// RefreshPosition refetches a manager's state from the indexer.
// POST /api/positions/{id}/refresh
func (h *PositionHandler) RefreshPosition(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "refresh position", h.reader.Refresh)
}

// respond serves a stale snapshot with 200 when the indexer fails but an
// earlier snapshot exists; the body carries the stale flag.
func (h *PositionHandler) respond(w http.ResponseWriter, r *http.Request, op string,
	fetch func(context.Context, string) (domain.PositionSnapshot, error)) {
	id := pathParam(r, "id")
	snap, err := fetch(r.Context(), id)
	if err != nil && !snap.Stale {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTO(snap))
}
