package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/okian/openplay/internal/domain/domaintest"
	"github.com/okian/openplay/internal/domain/errs"
	"github.com/okian/openplay/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestJoin(t *testing.T) {
	ctx := context.Background()

	Convey("Given an active session and registered players", t, func() {
		f := domaintest.New()
		session := f.OpenSession(ctx, 2)
		players := f.AddPlayers(ctx, 1200, 1300, 1100)

		Convey("When players join", func() {
			var entries []model.QueueEntry
			for _, p := range players {
				e, err := f.Queue.Join(ctx, session.ID, p.ID)
				So(err, ShouldBeNil)
				entries = append(entries, e)
			}

			Convey("Then positions increase from 1", func() {
				So(entries[0].Position, ShouldEqual, 1)
				So(entries[1].Position, ShouldEqual, 2)
				So(entries[2].Position, ShouldEqual, 3)
			})

			Convey("Then joining again is idempotent", func() {
				again, err := f.Queue.Join(ctx, session.ID, players[0].ID)
				So(err, ShouldBeNil)
				So(again, ShouldResemble, entries[0])

				list, err := f.Queue.List(ctx, session.ID)
				So(err, ShouldBeNil)
				So(list, ShouldHaveLength, 3)
			})

			Convey("Then listing keeps arrival order regardless of rating", func() {
				list, err := f.Queue.List(ctx, session.ID)
				So(err, ShouldBeNil)
				So(list[0].PlayerID, ShouldEqual, players[0].ID)
				So(list[2].PlayerID, ShouldEqual, players[2].ID)
			})

			Convey("Then removing is idempotent and positions keep growing", func() {
				So(f.Queue.Remove(ctx, session.ID, players[2].ID, "nobody"), ShouldBeNil)
				So(f.Queue.Remove(ctx, session.ID, players[2].ID), ShouldBeNil)
				So(f.QueuedIDs(ctx, session.ID), ShouldResemble, domaintest.IDs(players[0], players[1]))

				e, err := f.Queue.Join(ctx, session.ID, players[2].ID)
				So(err, ShouldBeNil)
				So(e.Position, ShouldEqual, 3)
			})
		})

		Convey("When the session is inactive or missing", func() {
			So(f.Repos().Sessions.SetActive(ctx, session.ID, false), ShouldBeNil)
			_, err := f.Queue.Join(ctx, session.ID, players[0].ID)
			_, err2 := f.Queue.Join(ctx, "missing", players[0].ID)

			Convey("Then joining is an invalid session", func() {
				So(errors.Is(err, errs.ErrInvalidSession), ShouldBeTrue)
				So(errs.KindOf(err2), ShouldEqual, "invalid_session")
			})

			Convey("Then listing an inactive session still works", func() {
				_, err := f.Queue.List(ctx, session.ID)
				So(err, ShouldBeNil)
				_, err = f.Queue.List(ctx, "missing")
				So(errors.Is(err, errs.ErrInvalidSession), ShouldBeTrue)
			})
		})

		Convey("When the player is unknown", func() {
			_, err := f.Queue.Join(ctx, session.ID, "ghost")

			Convey("Then it is not found", func() {
				So(errs.KindOf(err), ShouldEqual, "not_found")
			})
		})

		Convey("When a seated player tries to join", func() {
			four := f.AddPlayers(ctx, 1200, 1200, 1200, 1200)
			group := [4]string{four[0].ID, four[1].ID, four[2].ID, four[3].ID}
			So(f.Repos().Matches.Create(ctx, model.NewMatch("m-1", session.ID, 1, group, f.Now())), ShouldBeNil)

			_, err := f.Queue.Join(ctx, session.ID, four[0].ID)

			Convey("Then it is a conflict", func() {
				So(errors.Is(err, errs.ErrConflict), ShouldBeTrue)
			})
		})
	})
}

func TestJoin_Concurrent(t *testing.T) {
	ctx := context.Background()

	Convey("Given many players joining at once, some twice", t, func() {
		f := domaintest.New()
		session := f.OpenSession(ctx, 2)
		players := f.AddPlayers(ctx, make([]float64, 30)...)

		var wg sync.WaitGroup
		for i := 0; i < 60; i++ {
			wg.Add(1)
			go func(p model.Player) {
				defer wg.Done()
				_, _ = f.Queue.Join(ctx, session.ID, p.ID)
			}(players[i%30])
		}
		wg.Wait()

		Convey("Then each player has exactly one entry with a unique position", func() {
			list, err := f.Queue.List(ctx, session.ID)
			So(err, ShouldBeNil)
			So(list, ShouldHaveLength, 30)
			seen := map[int64]bool{}
			for _, e := range list {
				So(seen[e.Position], ShouldBeFalse)
				seen[e.Position] = true
			}
		})
	})
}
