package service_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/okian/openplay/internal/adapters/lock"
	repository "github.com/okian/openplay/internal/adapters/repository"
	service "github.com/okian/openplay/internal/app"
	"github.com/okian/openplay/internal/domain/errs"
	"github.com/okian/openplay/internal/domain/model"
	"github.com/okian/openplay/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

func newService(opts ...service.Option) *service.Service {
	opts = append([]service.Option{
		service.WithSwapProbability(0),
		service.WithLogger(logger.Named("test")),
	}, opts...)
	return service.New(repository.NewMemoryStore(), lock.NewLocal(), opts...)
}

func register(ctx context.Context, svc *service.Service, n int) []model.Player {
	out := make([]model.Player, n)
	for i := range out {
		p, err := svc.RegisterPlayer(ctx, fmt.Sprintf("player-%02d", i))
		So(err, ShouldBeNil)
		out[i] = p
	}
	return out
}

func joinAll(ctx context.Context, svc *service.Service, sessionID string, players []model.Player) {
	for _, p := range players {
		_, err := svc.JoinQueue(ctx, sessionID, p.ID)
		So(err, ShouldBeNil)
	}
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := newService()
		ctx := context.Background()

		Convey("When starting and stopping it", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.GetStats(ctx)["started"], ShouldEqual, true)

			svc.Stop()
			svc.Stop()

			Convey("Then it should be marked as stopped", func() {
				So(svc.GetStats(ctx)["started"], ShouldEqual, false)
			})
		})
	})
}

func TestService_Players(t *testing.T) {
	Convey("Given a service", t, func() {
		svc := newService(service.WithDefaultRating(1000))
		ctx := context.Background()

		Convey("When registering a player", func() {
			p, err := svc.RegisterPlayer(ctx, "  Ana  ")

			Convey("Then the player gets the default rating and a trimmed name", func() {
				So(err, ShouldBeNil)
				So(p.ID, ShouldNotBeEmpty)
				So(p.Name, ShouldEqual, "Ana")
				So(p.Rating, ShouldEqual, 1000.0)

				got, err := svc.GetPlayer(ctx, p.ID)
				So(err, ShouldBeNil)
				So(got.ID, ShouldEqual, p.ID)
			})
		})

		Convey("When the name is blank or too long", func() {
			_, blank := svc.RegisterPlayer(ctx, "   ")
			long := make([]rune, service.MaxNameLength+1)
			for i := range long {
				long[i] = 'x'
			}
			_, tooLong := svc.RegisterPlayer(ctx, string(long))

			Convey("Then registration fails validation", func() {
				So(errors.Is(blank, errs.ErrValidation), ShouldBeTrue)
				So(errors.Is(tooLong, errs.ErrValidation), ShouldBeTrue)
			})
		})

		Convey("When looking up an unknown player", func() {
			_, err := svc.GetPlayer(ctx, "nobody")
			_, histErr := svc.RatingHistory(ctx, "nobody")

			Convey("Then it is not found", func() {
				So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
				So(errors.Is(histErr, errs.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestService_Queue(t *testing.T) {
	Convey("Given an active session with registered players", t, func() {
		svc := newService()
		ctx := context.Background()
		sess, err := svc.StartSession(ctx, 2, 2)
		So(err, ShouldBeNil)
		players := register(ctx, svc, 3)

		Convey("When a player joins twice", func() {
			first, err1 := svc.JoinQueue(ctx, sess.ID, players[0].ID)
			second, err2 := svc.JoinQueue(ctx, sess.ID, players[0].ID)

			Convey("Then exactly one entry exists", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(second, ShouldResemble, first)

				entries, err := svc.ListQueue(ctx, sess.ID)
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 1)
			})
		})

		Convey("When players join then one leaves", func() {
			joinAll(ctx, svc, sess.ID, players)
			So(svc.LeaveQueue(ctx, sess.ID, players[1].ID), ShouldBeNil)
			So(svc.LeaveQueue(ctx, sess.ID, players[1].ID), ShouldBeNil)

			Convey("Then the queue keeps arrival order without the leaver", func() {
				entries, err := svc.ListQueue(ctx, sess.ID)
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 2)
				So(entries[0].PlayerID, ShouldEqual, players[0].ID)
				So(entries[1].PlayerID, ShouldEqual, players[2].ID)
			})
		})

		Convey("When joining an ended session", func() {
			_, err := svc.EndSession(ctx, sess.ID)
			So(err, ShouldBeNil)
			_, err = svc.JoinQueue(ctx, sess.ID, players[0].ID)

			Convey("Then the session is invalid", func() {
				So(errors.Is(err, errs.ErrInvalidSession), ShouldBeTrue)
			})
		})

		Convey("When joining a session that does not exist", func() {
			_, err := svc.JoinQueue(ctx, "missing", players[0].ID)

			Convey("Then the session is invalid", func() {
				So(errors.Is(err, errs.ErrInvalidSession), ShouldBeTrue)
			})
		})
	})
}

func TestService_Generate(t *testing.T) {
	Convey("Given a session with capacity 5", t, func() {
		svc := newService()
		ctx := context.Background()
		sess, err := svc.StartSession(ctx, 5, 2)
		So(err, ShouldBeNil)

		Convey("When fewer than 4 players wait", func() {
			players := register(ctx, svc, 3)
			joinAll(ctx, svc, sess.ID, players)

			created, err := svc.GenerateMatches(ctx, sess.ID)

			Convey("Then the result is empty and the queue is unchanged", func() {
				So(err, ShouldBeNil)
				So(created, ShouldBeEmpty)
				entries, _ := svc.ListQueue(ctx, sess.ID)
				So(entries, ShouldHaveLength, 3)
			})
		})

		Convey("When exactly 4 players wait", func() {
			players := register(ctx, svc, 4)
			joinAll(ctx, svc, sess.ID, players)

			created, err := svc.GenerateMatches(ctx, sess.ID)

			Convey("Then one match is placed on court 1 and the queue empties", func() {
				So(err, ShouldBeNil)
				So(created, ShouldHaveLength, 1)
				So(created[0].Court, ShouldEqual, 1)
				So(created[0].Status, ShouldEqual, model.StatusScheduled)
				entries, _ := svc.ListQueue(ctx, sess.ID)
				So(entries, ShouldBeEmpty)

				listed, err := svc.ListMatches(ctx, sess.ID, model.StatusScheduled)
				So(err, ShouldBeNil)
				So(listed, ShouldHaveLength, 1)
			})

			Convey("And a seated player cannot rejoin until the match ends", func() {
				_, err := svc.JoinQueue(ctx, sess.ID, players[0].ID)
				So(errors.Is(err, errs.ErrConflict), ShouldBeTrue)
			})
		})

		Convey("When listing matches with an unknown status", func() {
			_, err := svc.ListMatches(ctx, sess.ID, model.MatchStatus(9))
			So(errors.Is(err, errs.ErrValidation), ShouldBeTrue)
		})

		Convey("When generating for an inactive session", func() {
			next, err := svc.StartSession(ctx, 1, 1)
			So(err, ShouldBeNil)
			So(next.ID, ShouldNotEqual, sess.ID)

			_, err = svc.GenerateMatches(ctx, sess.ID)

			Convey("Then the old session is rejected", func() {
				So(errors.Is(err, errs.ErrInvalidSession), ShouldBeTrue)
				active, err := svc.ActiveSession(ctx)
				So(err, ShouldBeNil)
				So(active.ID, ShouldEqual, next.ID)
			})
		})
	})
}

func TestService_Finish(t *testing.T) {
	Convey("Given a generated match between equal teams", t, func() {
		svc := newService()
		ctx := context.Background()
		sess, err := svc.StartSession(ctx, 1, 2)
		So(err, ShouldBeNil)
		players := register(ctx, svc, 4)
		joinAll(ctx, svc, sess.ID, players)
		created, err := svc.GenerateMatches(ctx, sess.ID)
		So(err, ShouldBeNil)
		So(created, ShouldHaveLength, 1)
		m := created[0]

		Convey("When team 1 wins", func() {
			started, err := svc.StartMatch(ctx, m.ID)
			So(err, ShouldBeNil)
			So(started.Status, ShouldEqual, model.StatusOngoing)

			done, err := svc.FinishMatch(ctx, m.ID, model.Team1)

			Convey("Then team 1 gains 16 each and team 2 loses 16 each", func() {
				So(err, ShouldBeNil)
				So(done.Status, ShouldEqual, model.StatusFinished)
				So(done.WinnerTeam, ShouldEqual, model.Team1)

				for _, id := range m.Team1 {
					p, _ := svc.GetPlayer(ctx, id)
					So(p.Rating, ShouldAlmostEqual, 1216, 1e-9)
				}
				for _, id := range m.Team2 {
					p, _ := svc.GetPlayer(ctx, id)
					So(p.Rating, ShouldAlmostEqual, 1184, 1e-9)
				}

				var sum float64
				for _, id := range m.Players() {
					hist, err := svc.RatingHistory(ctx, id)
					So(err, ShouldBeNil)
					So(hist, ShouldHaveLength, 1)
					sum += hist[0].Delta
				}
				So(math.Abs(sum), ShouldBeLessThan, 1e-9)
			})

			Convey("And finishing again fails and leaves ratings unchanged", func() {
				before, _ := svc.Leaderboard(ctx, 4)
				_, err := svc.FinishMatch(ctx, m.ID, model.Team2)
				after, _ := svc.Leaderboard(ctx, 4)

				So(errors.Is(err, errs.ErrInvalidTransition), ShouldBeTrue)
				So(after, ShouldResemble, before)
			})

			Convey("And the leaderboard orders winners first, ties by name", func() {
				board, err := svc.Leaderboard(ctx, 4)
				So(err, ShouldBeNil)
				So(board, ShouldHaveLength, 4)
				So(board[0].Rating, ShouldBeGreaterThan, board[3].Rating)
				So(board[0].Name, ShouldBeLessThan, board[1].Name)
				So(board[2].Name, ShouldBeLessThan, board[3].Name)
			})
		})

		Convey("When another 4 players are waiting", func() {
			waiting := register(ctx, svc, 4)
			joinAll(ctx, svc, sess.ID, waiting)

			_, err := svc.FinishMatch(ctx, m.ID, model.Team2)

			Convey("Then a new match appears on the freed court", func() {
				So(err, ShouldBeNil)
				live, err := svc.ListMatches(ctx, sess.ID, model.LiveStatuses...)
				So(err, ShouldBeNil)
				So(live, ShouldHaveLength, 1)
				So(live[0].Court, ShouldEqual, m.Court)
				So(live[0].ID, ShouldNotEqual, m.ID)
				entries, _ := svc.ListQueue(ctx, sess.ID)
				So(entries, ShouldBeEmpty)
			})
		})

		Convey("When the winner is out of range", func() {
			_, err := svc.FinishMatch(ctx, m.ID, 3)

			Convey("Then it fails validation", func() {
				So(errors.Is(err, errs.ErrValidation), ShouldBeTrue)
				got, _ := svc.GetMatch(ctx, m.ID)
				So(got.Status, ShouldEqual, model.StatusScheduled)
			})
		})

		Convey("When the match does not exist", func() {
			_, err := svc.FinishMatch(ctx, "missing", model.Team1)
			_, getErr := svc.GetMatch(ctx, "missing")

			So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
			So(errors.Is(getErr, errs.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestService_Leaderboard(t *testing.T) {
	Convey("Given a service with a leaderboard limit of 10", t, func() {
		svc := newService(service.WithMaxLeaderboardLimit(10))
		ctx := context.Background()
		register(ctx, svc, 3)

		Convey("When the limit is out of range", func() {
			_, zero := svc.Leaderboard(ctx, 0)
			_, big := svc.Leaderboard(ctx, 11)

			Convey("Then it fails validation", func() {
				So(errors.Is(zero, errs.ErrValidation), ShouldBeTrue)
				So(errors.Is(big, errs.ErrValidation), ShouldBeTrue)
				So(svc.MaxLeaderboardLimit(), ShouldEqual, 10)
			})
		})

		Convey("When the limit exceeds the player count", func() {
			board, err := svc.Leaderboard(ctx, 10)

			Convey("Then every player is returned", func() {
				So(err, ShouldBeNil)
				So(board, ShouldHaveLength, 3)
			})
		})
	})
}

func TestService_Snapshots(t *testing.T) {
	Convey("Given a session with one finished match", t, func() {
		fixed := time.Date(2024, 6, 1, 19, 0, 0, 0, time.UTC)
		svc := newService(service.WithClock(func() time.Time { return fixed }))
		ctx := context.Background()
		sess, err := svc.StartSession(ctx, 2, 1)
		So(err, ShouldBeNil)
		So(sess.EndsAt.Equal(fixed.Add(time.Hour)), ShouldBeTrue)
		players := register(ctx, svc, 4)
		joinAll(ctx, svc, sess.ID, players)
		created, err := svc.GenerateMatches(ctx, sess.ID)
		So(err, ShouldBeNil)
		_, err = svc.FinishMatch(ctx, created[0].ID, model.Team1)
		So(err, ShouldBeNil)

		Convey("When taking snapshots", func() {
			ps, err1 := svc.PlayersSnapshot(ctx)
			ms, err2 := svc.MatchesSnapshot(ctx)

			Convey("Then they expose every player and match", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(ps, ShouldHaveLength, 4)
				So(ps[0].Rating, ShouldBeGreaterThanOrEqualTo, ps[3].Rating)
				So(ms, ShouldHaveLength, 1)
				So(ms[0].EndedAt.Equal(fixed), ShouldBeTrue)
			})
		})

		Convey("When reading stats", func() {
			stats := svc.GetStats(ctx)

			Convey("Then they describe the active session", func() {
				So(stats["active_session"], ShouldEqual, sess.ID)
				So(stats["total_players"], ShouldEqual, 4)
				So(stats["live_matches"], ShouldEqual, 0)
				So(stats["queue_length"], ShouldEqual, 0)
			})
		})

		Convey("When the session is ended", func() {
			ended, err := svc.EndSession(ctx, sess.ID)
			So(err, ShouldBeNil)
			So(ended.Active, ShouldBeFalse)

			Convey("Then there is no active session", func() {
				_, err := svc.ActiveSession(ctx)
				So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
				So(svc.GetStats(ctx)["active_session"], ShouldBeNil)
			})
		})
	})
}
