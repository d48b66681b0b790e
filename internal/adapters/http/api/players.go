package api

import (
	"context"
	"net/http"

	"github.com/okian/openplay/internal/domain/model"
)

// PlayerDependencies defines the interface for player operations.
type PlayerDependencies interface {
	RegisterPlayer(ctx context.Context, name string) (model.Player, error)
	GetPlayer(ctx context.Context, playerID string) (model.Player, error)
	RatingHistory(ctx context.Context, playerID string) ([]model.RatingHistoryEntry, error)
}

// PlayerHandler handles player requests.
type PlayerHandler struct {
	deps PlayerDependencies
}

// NewPlayerHandler creates a new player handler.
func NewPlayerHandler(deps PlayerDependencies) *PlayerHandler {
	return &PlayerHandler{deps: deps}
}

type registerRequest struct {
	Name string `json:"name"`
}

// HandleRegister handles POST /players requests.
func (h *PlayerHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	p, err := h.deps.RegisterPlayer(r.Context(), req.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// HandleGet handles GET /players/{id} requests.
func (h *PlayerHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.deps.GetPlayer(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleHistory handles GET /players/{id}/history requests.
func (h *PlayerHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.deps.RatingHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []model.RatingHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
