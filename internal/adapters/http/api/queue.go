package api

import (
	"context"
	"net/http"

	"github.com/okian/openplay/internal/domain/model"
)

// QueueDependencies defines the interface for queue operations.
type QueueDependencies interface {
	JoinQueue(ctx context.Context, sessionID, playerID string) (model.QueueEntry, error)
	ListQueue(ctx context.Context, sessionID string) ([]model.QueueEntry, error)
	LeaveQueue(ctx context.Context, sessionID, playerID string) error
}

// QueueHandler handles queue requests.
type QueueHandler struct {
	deps QueueDependencies
}

// NewQueueHandler creates a new queue handler.
func NewQueueHandler(deps QueueDependencies) *QueueHandler {
	return &QueueHandler{deps: deps}
}

type joinRequest struct {
	PlayerID string `json:"player_id"`
}

// HandleJoin handles POST /sessions/{id}/queue requests. The acting player
// comes from the X-Player-ID header, falling back to the body.
func (h *QueueHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	playerID, err := actingPlayer(r, req.PlayerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	entry, err := h.deps.JoinQueue(r.Context(), r.PathValue("id"), playerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// HandleList handles GET /sessions/{id}/queue requests.
func (h *QueueHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.deps.ListQueue(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []model.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleLeave handles DELETE /sessions/{id}/queue/{player} requests.
func (h *QueueHandler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.LeaveQueue(r.Context(), r.PathValue("id"), r.PathValue("player")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
