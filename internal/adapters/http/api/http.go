// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/okian/openplay/internal/domain/errs"
	"github.com/okian/openplay/internal/domain/model"
)

// PlayerHeader carries the acting player identity, already validated by the
// authentication layer in front of this service.
const PlayerHeader = "X-Player-ID"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 16

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	PlayerDependencies
	SessionDependencies
	QueueDependencies
	MatchDependencies
	LeaderboardDependencies
	StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	playerHandler      *PlayerHandler
	sessionHandler     *SessionHandler
	queueHandler       *QueueHandler
	matchHandler       *MatchHandler
	leaderboardHandler *LeaderboardHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps),
		playerHandler:      NewPlayerHandler(deps),
		sessionHandler:     NewSessionHandler(deps),
		queueHandler:       NewQueueHandler(deps),
		matchHandler:       NewMatchHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /players", MetricsMiddleware(s.playerHandler.HandleRegister, "players"))
	mux.HandleFunc("GET /players/{id}", MetricsMiddleware(s.playerHandler.HandleGet, "player"))
	mux.HandleFunc("GET /players/{id}/history", MetricsMiddleware(s.playerHandler.HandleHistory, "player_history"))

	mux.HandleFunc("POST /sessions", MetricsMiddleware(s.sessionHandler.HandleStart, "sessions"))
	mux.HandleFunc("GET /sessions/active", MetricsMiddleware(s.sessionHandler.HandleActive, "session_active"))
	mux.HandleFunc("POST /sessions/{id}/end", MetricsMiddleware(s.sessionHandler.HandleEnd, "session_end"))

	mux.HandleFunc("POST /sessions/{id}/queue", MetricsMiddleware(s.queueHandler.HandleJoin, "queue_join"))
	mux.HandleFunc("GET /sessions/{id}/queue", MetricsMiddleware(s.queueHandler.HandleList, "queue_list"))
	mux.HandleFunc("DELETE /sessions/{id}/queue/{player}", MetricsMiddleware(s.queueHandler.HandleLeave, "queue_leave"))

	mux.HandleFunc("POST /sessions/{id}/generate", MetricsMiddleware(s.matchHandler.HandleGenerate, "generate"))
	mux.HandleFunc("GET /sessions/{id}/matches", MetricsMiddleware(s.matchHandler.HandleList, "matches"))
	mux.HandleFunc("GET /matches/{id}", MetricsMiddleware(s.matchHandler.HandleGet, "match"))
	mux.HandleFunc("POST /matches/{id}/start", MetricsMiddleware(s.matchHandler.HandleStart, "match_start"))
	mux.HandleFunc("POST /matches/{id}/finish", MetricsMiddleware(s.matchHandler.HandleFinish, "match_finish"))

	mux.HandleFunc("GET /leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil && status < http.StatusInternalServerError {
		msg = err.Error()
	}
	tagErrorKind(w, code)
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError translates an engine error kind into a status code.
func writeDomainError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	switch kind {
	case "not_found":
		writeError(w, http.StatusNotFound, kind, err)
	case "invalid_session", "invalid_transition", "conflict":
		writeError(w, http.StatusConflict, kind, err)
	case "validation":
		writeError(w, http.StatusBadRequest, kind, err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

// decodeJSON reads a single JSON object into v. An empty body leaves v
// untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}

// actingPlayer prefers the authenticated header over the body value.
func actingPlayer(r *http.Request, fromBody string) (string, error) {
	if id := strings.TrimSpace(r.Header.Get(PlayerHeader)); id != "" {
		return id, nil
	}
	if id := strings.TrimSpace(fromBody); id != "" {
		return id, nil
	}
	return "", ErrMissingPlayer
}

// parseStatuses reads repeated or comma-separated ?status= values.
func parseStatuses(values []string) ([]model.MatchStatus, error) {
	var out []model.MatchStatus
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			st, err := model.ParseMatchStatus(part)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
			}
			out = append(out, st)
		}
	}
	return out, nil
}
