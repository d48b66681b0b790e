package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	repository "github.com/okian/openplay/internal/adapters/repository"
	"github.com/okian/openplay/internal/domain/model"
)

func reposFor(exec SQLExecutor) repository.Repositories {
	return repository.Repositories{
		Players:  playerRepo{exec},
		Sessions: sessionRepo{exec},
		Matches:  matchRepo{exec},
		Queue:    queueRepo{exec},
		History:  historyRepo{exec},
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

type playerRepo struct{ exec SQLExecutor }

const playerColumns = `id, name, rating, created_at`

func scanPlayer(row rowScanner) (model.Player, error) {
	var p model.Player
	if err := row.Scan(&p.ID, &p.Name, &p.Rating, &p.CreatedAt); err != nil {
		return model.Player{}, err
	}
	return p, nil
}

func (r playerRepo) Create(ctx context.Context, p model.Player) error {
	_, err := r.exec.ExecContext(ctx,
		`INSERT INTO players (`+playerColumns+`) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Name, p.Rating, p.CreatedAt)
	return mapErr(err)
}

func (r playerRepo) Get(ctx context.Context, id string) (model.Player, error) {
	p, err := scanPlayer(r.exec.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE id = $1`, id))
	return p, mapErr(err)
}

func (r playerRepo) GetMany(ctx context.Context, ids []string) (map[string]model.Player, error) {
	rows, err := r.exec.QueryContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := make(map[string]model.Player, len(ids))
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, repository.ErrNotFound
		}
	}
	return out, nil
}

func (r playerRepo) UpdateRating(ctx context.Context, id string, rating float64) error {
	res, err := r.exec.ExecContext(ctx, `UPDATE players SET rating = $2 WHERE id = $1`, id, rating)
	if err != nil {
		return mapErr(err)
	}
	return checkAffectedRows(res)
}

func (r playerRepo) Top(ctx context.Context, limit int) ([]model.Player, error) {
	if limit < 1 {
		return nil, repository.ErrInvalidLimit
	}
	return r.query(ctx,
		`SELECT `+playerColumns+` FROM players ORDER BY rating DESC, name COLLATE "C", id COLLATE "C" LIMIT $1`, limit)
}

func (r playerRepo) List(ctx context.Context) ([]model.Player, error) {
	return r.query(ctx, `SELECT `+playerColumns+` FROM players ORDER BY created_at, id COLLATE "C"`)
}

func (r playerRepo) query(ctx context.Context, q string, args ...any) ([]model.Player, error) {
	rows, err := r.exec.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []model.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type sessionRepo struct{ exec SQLExecutor }

const sessionColumns = `id, starts_at, ends_at, courts, active, created_at`

func scanSession(row rowScanner) (model.Session, error) {
	var s model.Session
	if err := row.Scan(&s.ID, &s.StartsAt, &s.EndsAt, &s.Courts, &s.Active, &s.CreatedAt); err != nil {
		return model.Session{}, err
	}
	return s, nil
}

func (r sessionRepo) Create(ctx context.Context, s model.Session) error {
	_, err := r.exec.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.StartsAt, s.EndsAt, s.Courts, s.Active, s.CreatedAt)
	return mapErr(err)
}

func (r sessionRepo) Get(ctx context.Context, id string) (model.Session, error) {
	s, err := scanSession(r.exec.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	return s, mapErr(err)
}

func (r sessionRepo) Active(ctx context.Context) (model.Session, error) {
	s, err := scanSession(r.exec.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE active ORDER BY created_at DESC, id COLLATE "C" DESC LIMIT 1`))
	return s, mapErr(err)
}

func (r sessionRepo) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.exec.ExecContext(ctx, `UPDATE sessions SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return mapErr(err)
	}
	return checkAffectedRows(res)
}

func (r sessionRepo) DeactivateAll(ctx context.Context) (int, error) {
	res, err := r.exec.ExecContext(ctx, `UPDATE sessions SET active = FALSE WHERE active`)
	if err != nil {
		return 0, mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return int(n), nil
}

type matchRepo struct{ exec SQLExecutor }

const matchColumns = `id, session_id, court, status, team1_p1, team1_p2, team2_p1, team2_p2, winner_team, created_at, started_at, ended_at`

func scanMatch(row rowScanner) (model.Match, error) {
	var (
		m                  model.Match
		status             string
		startedAt, endedAt sql.NullTime
	)
	err := row.Scan(&m.ID, &m.SessionID, &m.Court, &status,
		&m.Team1[0], &m.Team1[1], &m.Team2[0], &m.Team2[1],
		&m.WinnerTeam, &m.CreatedAt, &startedAt, &endedAt)
	if err != nil {
		return model.Match{}, err
	}
	if m.Status, err = model.ParseMatchStatus(status); err != nil {
		return model.Match{}, err
	}
	m.StartedAt = timePtr(startedAt)
	m.EndedAt = timePtr(endedAt)
	return m, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (r matchRepo) Create(ctx context.Context, m model.Match) error {
	_, err := r.exec.ExecContext(ctx,
		`INSERT INTO matches (`+matchColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.SessionID, m.Court, m.Status.String(),
		m.Team1[0], m.Team1[1], m.Team2[0], m.Team2[1],
		m.WinnerTeam, m.CreatedAt, nullTime(m.StartedAt), nullTime(m.EndedAt))
	return mapErr(err)
}

func (r matchRepo) Get(ctx context.Context, id string) (model.Match, error) {
	m, err := scanMatch(r.exec.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE id = $1`, id))
	return m, mapErr(err)
}

func (r matchRepo) Update(ctx context.Context, m model.Match) error {
	res, err := r.exec.ExecContext(ctx,
		`UPDATE matches SET court = $2, status = $3, winner_team = $4, started_at = $5, ended_at = $6 WHERE id = $1`,
		m.ID, m.Court, m.Status.String(), m.WinnerTeam, nullTime(m.StartedAt), nullTime(m.EndedAt))
	if err != nil {
		return mapErr(err)
	}
	return checkAffectedRows(res)
}

func statusArgs(statuses []model.MatchStatus) []string {
	if len(statuses) == 0 {
		statuses = []model.MatchStatus{model.StatusScheduled, model.StatusOngoing, model.StatusFinished}
	}
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = s.String()
	}
	return out
}

func (r matchRepo) ListBySession(ctx context.Context, sessionID string, statuses ...model.MatchStatus) ([]model.Match, error) {
	return r.query(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE session_id = $1 AND status = ANY($2)
		 ORDER BY created_at, court, id COLLATE "C"`,
		sessionID, pq.Array(statusArgs(statuses)))
}

func (r matchRepo) CountBySession(ctx context.Context, sessionID string, statuses ...model.MatchStatus) (int, error) {
	var n int
	err := r.exec.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM matches WHERE session_id = $1 AND status = ANY($2)`,
		sessionID, pq.Array(statusArgs(statuses))).Scan(&n)
	return n, mapErr(err)
}

func (r matchRepo) List(ctx context.Context) ([]model.Match, error) {
	return r.query(ctx, `SELECT `+matchColumns+` FROM matches ORDER BY created_at, court, id COLLATE "C"`)
}

func (r matchRepo) query(ctx context.Context, q string, args ...any) ([]model.Match, error) {
	rows, err := r.exec.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []model.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type queueRepo struct{ exec SQLExecutor }

const queueColumns = `session_id, player_id, position, joined_at`

func scanEntry(row rowScanner) (model.QueueEntry, error) {
	var e model.QueueEntry
	if err := row.Scan(&e.SessionID, &e.PlayerID, &e.Position, &e.JoinedAt); err != nil {
		return model.QueueEntry{}, err
	}
	return e, nil
}

func (r queueRepo) Get(ctx context.Context, sessionID, playerID string) (model.QueueEntry, error) {
	e, err := scanEntry(r.exec.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM queue_entries WHERE session_id = $1 AND player_id = $2`,
		sessionID, playerID))
	return e, mapErr(err)
}

func (r queueRepo) MaxPosition(ctx context.Context, sessionID string) (int64, error) {
	var pos int64
	err := r.exec.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), 0) FROM queue_entries WHERE session_id = $1`, sessionID).Scan(&pos)
	return pos, mapErr(err)
}

func (r queueRepo) Insert(ctx context.Context, e model.QueueEntry) error {
	_, err := r.exec.ExecContext(ctx,
		`INSERT INTO queue_entries (`+queueColumns+`) VALUES ($1, $2, $3, $4)`,
		e.SessionID, e.PlayerID, e.Position, e.JoinedAt)
	return mapErr(err)
}

func (r queueRepo) List(ctx context.Context, sessionID string) ([]model.QueueEntry, error) {
	rows, err := r.exec.QueryContext(ctx,
		`SELECT `+queueColumns+` FROM queue_entries WHERE session_id = $1
		 ORDER BY position, joined_at, player_id COLLATE "C"`, sessionID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []model.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r queueRepo) Delete(ctx context.Context, sessionID string, playerIDs ...string) (int, error) {
	if len(playerIDs) == 0 {
		return 0, nil
	}
	res, err := r.exec.ExecContext(ctx,
		`DELETE FROM queue_entries WHERE session_id = $1 AND player_id = ANY($2)`,
		sessionID, pq.Array(playerIDs))
	if err != nil {
		return 0, mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return int(n), nil
}

type historyRepo struct{ exec SQLExecutor }

const historyColumns = `id, player_id, match_id, delta, rating, created_at`

func (r historyRepo) Append(ctx context.Context, entries ...model.RatingHistoryEntry) error {
	for _, e := range entries {
		_, err := r.exec.ExecContext(ctx,
			`INSERT INTO rating_history (`+historyColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ID, e.PlayerID, e.MatchID, e.Delta, e.Rating, e.CreatedAt)
		if err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (r historyRepo) ListByPlayer(ctx context.Context, playerID string) ([]model.RatingHistoryEntry, error) {
	return r.query(ctx, `SELECT `+historyColumns+` FROM rating_history WHERE player_id = $1 ORDER BY seq`, playerID)
}

func (r historyRepo) ListByMatch(ctx context.Context, matchID string) ([]model.RatingHistoryEntry, error) {
	return r.query(ctx, `SELECT `+historyColumns+` FROM rating_history WHERE match_id = $1 ORDER BY seq`, matchID)
}

func (r historyRepo) query(ctx context.Context, q string, args ...any) ([]model.RatingHistoryEntry, error) {
	rows, err := r.exec.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []model.RatingHistoryEntry
	for rows.Next() {
		var e model.RatingHistoryEntry
		if err := rows.Scan(&e.ID, &e.PlayerID, &e.MatchID, &e.Delta, &e.Rating, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
