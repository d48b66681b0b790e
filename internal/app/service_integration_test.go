package service_test

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"

	service "github.com/okian/openplay/internal/app"
	"github.com/okian/openplay/internal/domain/errs"
	"github.com/okian/openplay/internal/domain/model"
	"github.com/okian/openplay/internal/domain/scheduler"
	. "github.com/smartystreets/goconvey/convey"
)

func TestService_ConcurrentSession(t *testing.T) {
	Convey("Given 40 players and a session with 4 courts", t, func() {
		svc := newService(
			service.WithSwapProbability(0.5),
			service.WithSchedulerOption(scheduler.WithSeed(7)),
		)
		ctx := context.Background()
		sess, err := svc.StartSession(ctx, 4, 3)
		So(err, ShouldBeNil)
		players := register(ctx, svc, 40)

		Convey("When everyone joins and generates concurrently", func() {
			var g errgroup.Group
			for _, p := range players {
				g.Go(func() error {
					if _, err := svc.JoinQueue(ctx, sess.ID, p.ID); err != nil {
						return err
					}
					_, err := svc.GenerateMatches(ctx, sess.ID)
					return err
				})
			}
			So(g.Wait(), ShouldBeNil)

			Convey("Then every court holds at most one live match", func() {
				live, err := svc.ListMatches(ctx, sess.ID, model.LiveStatuses...)
				So(err, ShouldBeNil)
				So(live, ShouldHaveLength, 4)
				So(courtsUnique(live), ShouldBeTrue)

				entries, err := svc.ListQueue(ctx, sess.ID)
				So(err, ShouldBeNil)
				So(entries, ShouldHaveLength, 40-16)
				So(seatedAndQueuedDisjoint(live, entries), ShouldBeTrue)
			})

			Convey("And finishing matches concurrently keeps ratings zero-sum", func() {
				rng := rand.New(rand.NewSource(11))
				for round := 0; round < 5; round++ {
					live, err := svc.ListMatches(ctx, sess.ID, model.LiveStatuses...)
					So(err, ShouldBeNil)

					var (
						g    errgroup.Group
						wins atomic.Int64
					)
					for _, m := range live {
						winner := model.Team1 + rng.Intn(2)
						// Two racing finishes: exactly one wins, the other sees FINISHED.
						for range 2 {
							g.Go(func() error {
								_, err := svc.FinishMatch(ctx, m.ID, winner)
								switch {
								case err == nil:
									wins.Add(1)
								case !errors.Is(err, errs.ErrInvalidTransition):
									return err
								}
								return nil
							})
						}
					}
					So(g.Wait(), ShouldBeNil)
					So(wins.Load(), ShouldEqual, int64(len(live)))

					after, err := svc.ListMatches(ctx, sess.ID, model.LiveStatuses...)
					So(err, ShouldBeNil)
					So(courtsUnique(after), ShouldBeTrue)
				}

				all, err := svc.MatchesSnapshot(ctx)
				So(err, ShouldBeNil)
				var total float64
				for _, p := range players {
					hist, err := svc.RatingHistory(ctx, p.ID)
					So(err, ShouldBeNil)
					for _, h := range hist {
						total += h.Delta
					}
				}
				So(math.Abs(total), ShouldBeLessThan, 1e-6)

				finished := 0
				for _, m := range all {
					if m.Status == model.StatusFinished {
						finished++
					}
				}
				So(finished, ShouldEqual, len(players)/model.PlayersPerMatch)
			})
		})
	})
}

func courtsUnique(live []model.Match) bool {
	seen := make(map[int]bool, len(live))
	for _, m := range live {
		if seen[m.Court] {
			return false
		}
		seen[m.Court] = true
	}
	return true
}

func seatedAndQueuedDisjoint(live []model.Match, entries []model.QueueEntry) bool {
	seated := make(map[string]bool)
	for _, m := range live {
		for _, id := range m.Players() {
			seated[id] = true
		}
	}
	for _, e := range entries {
		if seated[e.PlayerID] {
			return false
		}
	}
	return true
}
