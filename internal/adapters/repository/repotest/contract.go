// Package repotest holds the behavioural suite every repository.Store
// implementation must pass.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	repository "github.com/okian/openplay/internal/adapters/repository"
	"github.com/okian/openplay/internal/domain/errs"
	"github.com/okian/openplay/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var errBoom = errors.New("boom")

// Fixture timestamps are truncated to microseconds so they round-trip
// through SQL timestamp columns.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// NewPlayer returns a player with a fresh id.
func NewPlayer(name string, rating float64) model.Player {
	return model.Player{ID: uuid.NewString(), Name: name, Rating: rating, CreatedAt: now()}
}

// NewSession returns an active session with a fresh id.
func NewSession(courts int, createdAt time.Time) model.Session {
	return model.Session{
		ID:        uuid.NewString(),
		StartsAt:  createdAt,
		EndsAt:    createdAt.Add(2 * time.Hour),
		Courts:    courts,
		Active:    true,
		CreatedAt: createdAt,
	}
}

// Run exercises the Store contract. newStore must return an empty store.
func Run(t *testing.T, newStore func() repository.Store) {
	ctx := context.Background()

	Convey("Given an empty store", t, func() {
		store := newStore()
		repos := store.Repositories()

		Convey("Players", func() {
			a := NewPlayer("alice", 1250)
			b := NewPlayer("bob", 1300)
			c := NewPlayer("carol", 1250)
			for _, p := range []model.Player{a, b, c} {
				So(repos.Players.Create(ctx, p), ShouldBeNil)
			}

			Convey("Then duplicates are rejected", func() {
				err := repos.Players.Create(ctx, a)
				So(errors.Is(err, repository.ErrDuplicate), ShouldBeTrue)
				So(errors.Is(err, errs.ErrConflict), ShouldBeTrue)
			})

			Convey("Then lookups find them", func() {
				got, err := repos.Players.Get(ctx, a.ID)
				So(err, ShouldBeNil)
				So(got.Name, ShouldEqual, "alice")

				many, err := repos.Players.GetMany(ctx, []string{a.ID, b.ID})
				So(err, ShouldBeNil)
				So(many, ShouldHaveLength, 2)

				_, err = repos.Players.Get(ctx, "missing")
				So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
				_, err = repos.Players.GetMany(ctx, []string{a.ID, "missing"})
				So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
			})

			Convey("Then the leaderboard orders by rating then name", func() {
				top, err := repos.Players.Top(ctx, 10)
				So(err, ShouldBeNil)
				So(top, ShouldHaveLength, 3)
				So(top[0].Name, ShouldEqual, "bob")
				So(top[1].Name, ShouldEqual, "alice")
				So(top[2].Name, ShouldEqual, "carol")

				top, err = repos.Players.Top(ctx, 1)
				So(err, ShouldBeNil)
				So(top, ShouldHaveLength, 1)

				_, err = repos.Players.Top(ctx, 0)
				So(errors.Is(err, errs.ErrValidation), ShouldBeTrue)
			})

			Convey("Then ratings can be updated", func() {
				So(repos.Players.UpdateRating(ctx, c.ID, 1400), ShouldBeNil)
				got, _ := repos.Players.Get(ctx, c.ID)
				So(got.Rating, ShouldEqual, 1400)
				So(errors.Is(repos.Players.UpdateRating(ctx, "missing", 1), errs.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("Sessions", func() {
			t0 := now()
			older := NewSession(2, t0)
			newer := NewSession(3, t0.Add(time.Minute))
			So(repos.Sessions.Create(ctx, older), ShouldBeNil)
			So(repos.Sessions.Create(ctx, newer), ShouldBeNil)

			Convey("Then the newest active session wins", func() {
				active, err := repos.Sessions.Active(ctx)
				So(err, ShouldBeNil)
				So(active.ID, ShouldEqual, newer.ID)
				So(active.Courts, ShouldEqual, 3)
			})

			Convey("Then deactivation is reflected", func() {
				So(repos.Sessions.SetActive(ctx, newer.ID, false), ShouldBeNil)
				active, err := repos.Sessions.Active(ctx)
				So(err, ShouldBeNil)
				So(active.ID, ShouldEqual, older.ID)

				n, err := repos.Sessions.DeactivateAll(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
				_, err = repos.Sessions.Active(ctx)
				So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
			})

			Convey("Then unknown sessions are not found", func() {
				_, err := repos.Sessions.Get(ctx, "missing")
				So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
				So(errors.Is(repos.Sessions.SetActive(ctx, "missing", true), errs.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("Queue and matches", func() {
			session := NewSession(4, now())
			So(repos.Sessions.Create(ctx, session), ShouldBeNil)
			players := make([]model.Player, 5)
			for i := range players {
				players[i] = NewPlayer(fmt.Sprintf("p%d", i), 1200)
				So(repos.Players.Create(ctx, players[i]), ShouldBeNil)
			}

			Convey("Then entries list in arrival order", func() {
				t0 := now()
				for i, p := range []model.Player{players[2], players[0], players[1]} {
					e := model.QueueEntry{SessionID: session.ID, PlayerID: p.ID, Position: int64(i + 1), JoinedAt: t0}
					So(repos.Queue.Insert(ctx, e), ShouldBeNil)
				}
				pos, err := repos.Queue.MaxPosition(ctx, session.ID)
				So(err, ShouldBeNil)
				So(pos, ShouldEqual, 3)

				list, err := repos.Queue.List(ctx, session.ID)
				So(err, ShouldBeNil)
				So(list, ShouldHaveLength, 3)
				So(list[0].PlayerID, ShouldEqual, players[2].ID)
				So(list[2].PlayerID, ShouldEqual, players[1].ID)

				dup := model.QueueEntry{SessionID: session.ID, PlayerID: players[0].ID, Position: 9, JoinedAt: t0}
				So(errors.Is(repos.Queue.Insert(ctx, dup), repository.ErrDuplicate), ShouldBeTrue)

				n, err := repos.Queue.Delete(ctx, session.ID, players[0].ID, players[4].ID)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
				_, err = repos.Queue.Get(ctx, session.ID, players[0].ID)
				So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
			})

			Convey("Then an empty queue has position zero", func() {
				pos, err := repos.Queue.MaxPosition(ctx, session.ID)
				So(err, ShouldBeNil)
				So(pos, ShouldEqual, 0)
			})

			Convey("Then matches can be filtered by status", func() {
				group := [4]string{players[0].ID, players[1].ID, players[2].ID, players[3].ID}
				m1 := model.NewMatch(uuid.NewString(), session.ID, 1, group, now())
				m2 := model.NewMatch(uuid.NewString(), session.ID, 2, group, now().Add(time.Second))
				So(repos.Matches.Create(ctx, m1), ShouldBeNil)
				So(repos.Matches.Create(ctx, m2), ShouldBeNil)

				So(m2.Finish(1, now()), ShouldBeNil)
				So(repos.Matches.Update(ctx, m2), ShouldBeNil)

				live, err := repos.Matches.ListBySession(ctx, session.ID, model.LiveStatuses...)
				So(err, ShouldBeNil)
				So(live, ShouldHaveLength, 1)
				So(live[0].ID, ShouldEqual, m1.ID)
				So(live[0].Team2, ShouldResemble, m1.Team2)

				all, err := repos.Matches.ListBySession(ctx, session.ID)
				So(err, ShouldBeNil)
				So(all, ShouldHaveLength, 2)
				So(all[1].Status, ShouldEqual, model.StatusFinished)
				So(all[1].WinnerTeam, ShouldEqual, 1)
				So(all[1].EndedAt, ShouldNotBeNil)

				n, err := repos.Matches.CountBySession(ctx, session.ID, model.StatusFinished)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)

				_, err = repos.Matches.Get(ctx, "missing")
				So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("History", func() {
			p := NewPlayer("dora", 1200)
			So(repos.Players.Create(ctx, p), ShouldBeNil)
			e1 := model.RatingHistoryEntry{ID: uuid.NewString(), PlayerID: p.ID, MatchID: "m-1", Delta: 16, Rating: 1216, CreatedAt: now()}
			e2 := model.RatingHistoryEntry{ID: uuid.NewString(), PlayerID: p.ID, MatchID: "m-2", Delta: -8, Rating: 1208, CreatedAt: now().Add(time.Second)}
			So(repos.History.Append(ctx, e1, e2), ShouldBeNil)

			byPlayer, err := repos.History.ListByPlayer(ctx, p.ID)
			So(err, ShouldBeNil)
			So(byPlayer, ShouldHaveLength, 2)
			So(byPlayer[1].Delta, ShouldEqual, -8)

			byMatch, err := repos.History.ListByMatch(ctx, "m-1")
			So(err, ShouldBeNil)
			So(byMatch, ShouldHaveLength, 1)
		})

		Convey("Atomic", func() {
			p := NewPlayer("eve", 1200)

			Convey("Then a successful unit commits", func() {
				err := store.Atomic(ctx, func(ctx context.Context, tx repository.Repositories) error {
					return tx.Players.Create(ctx, p)
				})
				So(err, ShouldBeNil)
				_, err = repos.Players.Get(ctx, p.ID)
				So(err, ShouldBeNil)
			})

			Convey("Then a failing unit leaves nothing behind", func() {
				err := store.Atomic(ctx, func(ctx context.Context, tx repository.Repositories) error {
					if err := tx.Players.Create(ctx, p); err != nil {
						return err
					}
					if err := tx.Players.UpdateRating(ctx, p.ID, 1500); err != nil {
						return err
					}
					return errBoom
				})
				So(errors.Is(err, errBoom), ShouldBeTrue)
				_, err = repos.Players.Get(ctx, p.ID)
				So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
			})

			Convey("Then writes are visible inside the unit", func() {
				err := store.Atomic(ctx, func(ctx context.Context, tx repository.Repositories) error {
					if err := tx.Players.Create(ctx, p); err != nil {
						return err
					}
					got, err := tx.Players.Get(ctx, p.ID)
					if err != nil {
						return err
					}
					if got.Name != "eve" {
						return errBoom
					}
					return nil
				})
				So(err, ShouldBeNil)
			})
		})

		Reset(func() {
			_ = store.Close()
		})
	})
}
