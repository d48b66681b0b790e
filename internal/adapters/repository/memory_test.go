package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	repository "github.com/okian/openplay/internal/adapters/repository"
	"github.com/okian/openplay/internal/adapters/repository/repotest"
	"github.com/okian/openplay/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestMemoryStore_Contract(t *testing.T) {
	repotest.Run(t, func() repository.Store { return repository.NewMemoryStore() })
}

func TestMemoryStore_Atomic(t *testing.T) {
	ctx := context.Background()

	convey.Convey("Given a memory store", t, func() {
		store := repository.NewMemoryStore()
		repos := store.Repositories()

		convey.Convey("When many units increment a rating concurrently", func() {
			p := repotest.NewPlayer("frank", 0)
			convey.So(repos.Players.Create(ctx, p), convey.ShouldBeNil)

			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = store.Atomic(ctx, func(ctx context.Context, tx repository.Repositories) error {
						cur, err := tx.Players.Get(ctx, p.ID)
						if err != nil {
							return err
						}
						return tx.Players.UpdateRating(ctx, p.ID, cur.Rating+1)
					})
				}()
			}
			wg.Wait()

			convey.Convey("Then no update is lost", func() {
				got, err := repos.Players.Get(ctx, p.ID)
				convey.So(err, convey.ShouldBeNil)
				convey.So(got.Rating, convey.ShouldEqual, 50)
			})
		})

		convey.Convey("When a unit fails after deleting queue entries", func() {
			s := repotest.NewSession(1, repotest.NewPlayer("x", 0).CreatedAt)
			convey.So(repos.Sessions.Create(ctx, s), convey.ShouldBeNil)
			convey.So(repos.Queue.Insert(ctx, model.QueueEntry{SessionID: s.ID, PlayerID: "p1", Position: 1}), convey.ShouldBeNil)

			err := store.Atomic(ctx, func(ctx context.Context, tx repository.Repositories) error {
				if _, err := tx.Queue.Delete(ctx, s.ID, "p1"); err != nil {
					return err
				}
				return errors.New("abort")
			})

			convey.Convey("Then the nested queue map is untouched", func() {
				convey.So(err, convey.ShouldNotBeNil)
				list, _ := repos.Queue.List(ctx, s.ID)
				convey.So(list, convey.ShouldHaveLength, 1)
			})
		})

		convey.Convey("When history is appended around a failed unit", func() {
			entry := func(id string) model.RatingHistoryEntry {
				return model.RatingHistoryEntry{ID: id, PlayerID: "p1", MatchID: "m-" + id, Delta: 16}
			}
			appendIn := func(id string, fail bool) error {
				return store.Atomic(ctx, func(ctx context.Context, tx repository.Repositories) error {
					if err := tx.History.Append(ctx, entry(id)); err != nil {
						return err
					}
					staged, err := tx.History.ListByPlayer(ctx, "p1")
					if err != nil {
						return err
					}
					if staged[len(staged)-1].ID != id {
						return errors.New("staged append not visible")
					}
					if fail {
						return errors.New("abort")
					}
					return nil
				})
			}

			convey.So(appendIn("h1", false), convey.ShouldBeNil)
			convey.So(appendIn("h2", true), convey.ShouldNotBeNil)
			between, _ := repos.History.ListByPlayer(ctx, "p1")
			convey.So(appendIn("h3", false), convey.ShouldBeNil)

			convey.Convey("Then only committed entries survive in order", func() {
				convey.So(between, convey.ShouldHaveLength, 1)
				convey.So(between[0].ID, convey.ShouldEqual, "h1")

				got, err := repos.History.ListByPlayer(ctx, "p1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(got, convey.ShouldHaveLength, 2)
				convey.So(got[0].ID, convey.ShouldEqual, "h1")
				convey.So(got[1].ID, convey.ShouldEqual, "h3")

				byMatch, _ := repos.History.ListByMatch(ctx, "m-h2")
				convey.So(byMatch, convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When the context is already cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			called := false
			err := store.Atomic(cctx, func(context.Context, repository.Repositories) error {
				called = true
				return nil
			})

			convey.Convey("Then the unit does not run", func() {
				convey.So(errors.Is(err, context.Canceled), convey.ShouldBeTrue)
				convey.So(called, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When the store is closed", func() {
			convey.So(store.Close(), convey.ShouldBeNil)
			err := store.Atomic(ctx, func(context.Context, repository.Repositories) error { return nil })

			convey.Convey("Then atomic units are refused", func() {
				convey.So(errors.Is(err, repository.ErrClosed), convey.ShouldBeTrue)
			})
		})
	})
}

func TestSortLeaderboard(t *testing.T) {
	convey.Convey("Given players with tied ratings", t, func() {
		players := []model.Player{
			{ID: "3", Name: "bea", Rating: 1200},
			{ID: "2", Name: "bea", Rating: 1200},
			{ID: "1", Name: "zed", Rating: 1300},
			{ID: "4", Name: "amy", Rating: 1200},
		}
		repository.SortLeaderboard(players)

		convey.Convey("Then ties fall back to name and id", func() {
			ids := []string{players[0].ID, players[1].ID, players[2].ID, players[3].ID}
			convey.So(ids, convey.ShouldResemble, []string{"1", "4", "2", "3"})
		})
	})
}
