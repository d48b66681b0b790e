package api

import (
	"context"
	"net/http"

	"github.com/okian/openplay/internal/domain/model"
)

// SessionDependencies defines the interface for session operations.
type SessionDependencies interface {
	StartSession(ctx context.Context, courts, durationHours int) (model.Session, error)
	ActiveSession(ctx context.Context) (model.Session, error)
	EndSession(ctx context.Context, sessionID string) (model.Session, error)
}

// SessionHandler handles session requests.
type SessionHandler struct {
	deps SessionDependencies
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(deps SessionDependencies) *SessionHandler {
	return &SessionHandler{deps: deps}
}

type startSessionRequest struct {
	Courts        int `json:"courts"`
	DurationHours int `json:"duration_hours"`
}

// HandleStart handles POST /sessions requests.
func (h *SessionHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	s, err := h.deps.StartSession(r.Context(), req.Courts, req.DurationHours)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// HandleActive handles GET /sessions/active requests.
func (h *SessionHandler) HandleActive(w http.ResponseWriter, r *http.Request) {
	s, err := h.deps.ActiveSession(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// HandleEnd handles POST /sessions/{id}/end requests.
func (h *SessionHandler) HandleEnd(w http.ResponseWriter, r *http.Request) {
	s, err := h.deps.EndSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
