package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okian/openplay/internal/adapters/http/api"
	"github.com/okian/openplay/internal/adapters/lock"
	repository "github.com/okian/openplay/internal/adapters/repository"
	service "github.com/okian/openplay/internal/app"
	"github.com/okian/openplay/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type testServer struct {
	mux *http.ServeMux
}

func newTestServer() *testServer {
	svc := service.New(repository.NewMemoryStore(), lock.NewLocal(),
		service.WithSwapProbability(0),
		service.WithMaxLeaderboardLimit(50))
	mux := http.NewServeMux()
	api.NewServer(svc).Register(context.Background(), mux)
	return &testServer{mux: mux}
}

func (s *testServer) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	var rd io.Reader = http.NoBody
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	return w
}

func decode[T any](w *httptest.ResponseRecorder) T {
	var v T
	So(json.Unmarshal(w.Body.Bytes(), &v), ShouldBeNil)
	return v
}

func errorCode(w *httptest.ResponseRecorder) string {
	var body struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return body.Code
}

func (s *testServer) registerPlayers(n int) []model.Player {
	out := make([]model.Player, n)
	for i := range out {
		w := s.do("POST", "/players", fmt.Sprintf(`{"name":"player-%02d"}`, i))
		So(w.Code, ShouldEqual, http.StatusCreated)
		out[i] = decode[model.Player](w)
	}
	return out
}

func TestServer_Routes(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		s := newTestServer()

		Convey("Then health serves Prometheus metrics", func() {
			w := s.do("GET", "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "openplay_")
		})

		Convey("Then stats are served as JSON", func() {
			w := s.do("GET", "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			stats := decode[map[string]any](w)
			So(stats, ShouldContainKey, "started")
		})

		Convey("Then unknown routes and wrong methods are rejected", func() {
			So(s.do("GET", "/unknown", "").Code, ShouldEqual, http.StatusNotFound)
			So(s.do("DELETE", "/players", "").Code, ShouldEqual, http.StatusMethodNotAllowed)
		})

		Convey("Then there is no active session yet", func() {
			w := s.do("GET", "/sessions/active", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(errorCode(w), ShouldEqual, "not_found")
		})
	})
}

func TestServer_PlayerFlow(t *testing.T) {
	Convey("Given a registered player", t, func() {
		s := newTestServer()
		p := s.registerPlayers(1)[0]

		Convey("When fetching the player", func() {
			w := s.do("GET", "/players/"+p.ID, "")

			Convey("Then the default rating is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				got := decode[model.Player](w)
				So(got.Rating, ShouldEqual, model.DefaultRating)
			})
		})

		Convey("When fetching an empty history", func() {
			w := s.do("GET", "/players/"+p.ID+"/history", "")

			Convey("Then an empty array is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(strings.TrimSpace(w.Body.String()), ShouldEqual, "[]")
			})
		})

		Convey("When registering with a blank name or a malformed body", func() {
			blank := s.do("POST", "/players", `{"name":" "}`)
			malformed := s.do("POST", "/players", `{"name":`)
			unknown := s.do("POST", "/players", `{"nick":"x"}`)

			Convey("Then the request is rejected", func() {
				So(blank.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(blank), ShouldEqual, "validation")
				So(malformed.Code, ShouldEqual, http.StatusBadRequest)
				So(unknown.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When fetching an unknown player", func() {
			w := s.do("GET", "/players/nobody", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestServer_SessionFlow(t *testing.T) {
	Convey("Given an open session and five players", t, func() {
		s := newTestServer()
		w := s.do("POST", "/sessions", `{"courts":2,"duration_hours":2}`)
		So(w.Code, ShouldEqual, http.StatusCreated)
		sess := decode[model.Session](w)
		So(sess.Active, ShouldBeTrue)
		players := s.registerPlayers(5)
		base := "/sessions/" + sess.ID

		Convey("When players join by header and by body", func() {
			for i, p := range players[:4] {
				var w *httptest.ResponseRecorder
				if i%2 == 0 {
					w = s.do("POST", base+"/queue", "", api.PlayerHeader, p.ID)
				} else {
					w = s.do("POST", base+"/queue", fmt.Sprintf(`{"player_id":%q}`, p.ID))
				}
				So(w.Code, ShouldEqual, http.StatusOK)
			}

			Convey("Then the queue lists them in arrival order", func() {
				entries := decode[[]model.QueueEntry](s.do("GET", base+"/queue", ""))
				So(entries, ShouldHaveLength, 4)
				for i, e := range entries {
					So(e.PlayerID, ShouldEqual, players[i].ID)
					So(e.Position, ShouldEqual, int64(i+1))
				}
			})

			Convey("Then generate creates one match and finish updates ratings", func() {
				w := s.do("POST", base+"/generate", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				created := decode[[]model.Match](w)
				So(created, ShouldHaveLength, 1)
				So(created[0].Court, ShouldEqual, 1)
				m := created[0]

				w = s.do("POST", "/matches/"+m.ID+"/start", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode[model.Match](w).Status, ShouldEqual, model.StatusOngoing)
				So(s.do("POST", "/matches/"+m.ID+"/start", "").Code, ShouldEqual, http.StatusConflict)

				So(s.do("POST", "/matches/"+m.ID+"/finish", `{"winner_team":3}`).Code, ShouldEqual, http.StatusBadRequest)

				w = s.do("POST", "/matches/"+m.ID+"/finish", `{"winner_team":1}`)
				So(w.Code, ShouldEqual, http.StatusOK)
				done := decode[model.Match](w)
				So(done.Status, ShouldEqual, model.StatusFinished)
				So(done.WinnerTeam, ShouldEqual, 1)

				w = s.do("POST", "/matches/"+m.ID+"/finish", `{"winner_team":2}`)
				So(w.Code, ShouldEqual, http.StatusConflict)
				So(errorCode(w), ShouldEqual, "invalid_transition")

				winner := decode[model.Player](s.do("GET", "/players/"+m.Team1[0], ""))
				So(winner.Rating, ShouldAlmostEqual, 1216, 1e-9)

				finished := decode[[]model.Match](s.do("GET", base+"/matches?status=finished", ""))
				So(finished, ShouldHaveLength, 1)
				live := decode[[]model.Match](s.do("GET", base+"/matches?status=scheduled,ongoing", ""))
				So(live, ShouldBeEmpty)
				So(s.do("GET", base+"/matches?status=paused", "").Code, ShouldEqual, http.StatusBadRequest)

				board := decode[[]model.Player](s.do("GET", "/leaderboard?limit=2", ""))
				So(board, ShouldHaveLength, 2)
				So(board[0].Rating, ShouldAlmostEqual, 1216, 1e-9)
			})

			Convey("Then a second generate with no waiting players is empty", func() {
				So(s.do("POST", base+"/generate", "").Code, ShouldEqual, http.StatusOK)
				w := s.do("POST", base+"/generate", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(strings.TrimSpace(w.Body.String()), ShouldEqual, "[]")
			})
		})

		Convey("When a player leaves the queue", func() {
			s.do("POST", base+"/queue", "", api.PlayerHeader, players[4].ID)
			w := s.do("DELETE", base+"/queue/"+players[4].ID, "")

			Convey("Then the queue is empty", func() {
				So(w.Code, ShouldEqual, http.StatusNoContent)
				So(strings.TrimSpace(s.do("GET", base+"/queue", "").Body.String()), ShouldEqual, "[]")
			})
		})

		Convey("When joining without any identity", func() {
			w := s.do("POST", base+"/queue", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the session is ended", func() {
			w := s.do("POST", base+"/end", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode[model.Session](w).Active, ShouldBeFalse)

			Convey("Then joining and generating conflict", func() {
				join := s.do("POST", base+"/queue", "", api.PlayerHeader, players[0].ID)
				So(join.Code, ShouldEqual, http.StatusConflict)
				So(errorCode(join), ShouldEqual, "invalid_session")
				So(s.do("POST", base+"/generate", "").Code, ShouldEqual, http.StatusConflict)
			})
		})

		Convey("When starting a session with too many courts", func() {
			w := s.do("POST", "/sessions", `{"courts":21,"duration_hours":2}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestLeaderboardHandler(t *testing.T) {
	Convey("Given a leaderboard handler", t, func() {
		s := newTestServer()
		s.registerPlayers(3)

		Convey("When no limit is given", func() {
			w := s.do("GET", "/leaderboard", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode[[]model.Player](w), ShouldHaveLength, 3)
		})

		Convey("When the limit is malformed or out of range", func() {
			So(s.do("GET", "/leaderboard?limit=abc", "").Code, ShouldEqual, http.StatusBadRequest)
			So(s.do("GET", "/leaderboard?limit=0", "").Code, ShouldEqual, http.StatusBadRequest)
			So(s.do("GET", "/leaderboard?limit=51", "").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the backend fails", func() {
			h := api.NewLeaderboardHandler(failingLeaderboard{})
			w := httptest.NewRecorder()
			h.HandleGetLeaderboard(w, httptest.NewRequest("GET", "/leaderboard?limit=5", http.NoBody))

			Convey("Then an internal error is returned without details", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				So(errorCode(w), ShouldEqual, "internal_error")
				So(w.Body.String(), ShouldNotContainSubstring, "disk on fire")
			})
		})
	})
}

type failingLeaderboard struct{}

func (failingLeaderboard) Leaderboard(context.Context, int) ([]model.Player, error) {
	return nil, errors.New("disk on fire")
}
