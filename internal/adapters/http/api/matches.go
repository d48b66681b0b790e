package api

import (
	"context"
	"net/http"

	"github.com/okian/openplay/internal/domain/model"
)

// MatchDependencies defines the interface for scheduling and result
// operations.
type MatchDependencies interface {
	GenerateMatches(ctx context.Context, sessionID string) ([]model.Match, error)
	ListMatches(ctx context.Context, sessionID string, statuses ...model.MatchStatus) ([]model.Match, error)
	GetMatch(ctx context.Context, matchID string) (model.Match, error)
	StartMatch(ctx context.Context, matchID string) (model.Match, error)
	FinishMatch(ctx context.Context, matchID string, winnerTeam int) (model.Match, error)
}

// MatchHandler handles match requests.
type MatchHandler struct {
	deps MatchDependencies
}

// NewMatchHandler creates a new match handler.
func NewMatchHandler(deps MatchDependencies) *MatchHandler {
	return &MatchHandler{deps: deps}
}

type finishRequest struct {
	WinnerTeam int `json:"winner_team"`
}

// HandleGenerate handles POST /sessions/{id}/generate requests. An empty
// array is a successful result.
func (h *MatchHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	created, err := h.deps.GenerateMatches(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(created))
}

// HandleList handles GET /sessions/{id}/matches?status=... requests.
func (h *MatchHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	statuses, err := parseStatuses(r.URL.Query()["status"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	ms, err := h.deps.ListMatches(r.Context(), r.PathValue("id"), statuses...)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(ms))
}

// HandleGet handles GET /matches/{id} requests.
func (h *MatchHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	m, err := h.deps.GetMatch(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// HandleStart handles POST /matches/{id}/start requests.
func (h *MatchHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	m, err := h.deps.StartMatch(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// HandleFinish handles POST /matches/{id}/finish requests.
func (h *MatchHandler) HandleFinish(w http.ResponseWriter, r *http.Request) {
	var req finishRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	m, err := h.deps.FinishMatch(r.Context(), r.PathValue("id"), req.WinnerTeam)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func nonNil(ms []model.Match) []model.Match {
	if ms == nil {
		return []model.Match{}
	}
	return ms
}
