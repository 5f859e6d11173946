// Package views derives the three persisted documents from one cycle's
// records. All three carry the same updated_at so readers can tell they
// belong to one cycle.
package views

import (
	"sort"
	"time"

	"github.com/rewired-gh/steamwatch/internal/models"
)

// Set is the group of documents built from one cycle.
type Set struct {
	Snapshot  models.SnapshotView
	Discounts models.DiscountsView
	Players   models.PlayerRankingView
}

// Build derives the snapshot, discount and player-ranking documents from a
// cycle result. Sorting is stable, so ties keep snapshot order.
func Build(result models.CycleResult, capturedAt time.Time) Set {
	updatedAt := capturedAt.Unix()

	games := make([]models.Game, len(result.Games))
	copy(games, result.Games)

	discounts := make([]models.Game, 0)
	players := make([]models.Game, 0)
	var totalPlayers int64
	for _, g := range games {
		if g.OnSale {
			discounts = append(discounts, g)
		}
		if g.HasPlayers() {
			players = append(players, g)
			totalPlayers += int64(*g.CurrentPlayers)
		}
	}

	sort.SliceStable(discounts, func(i, j int) bool {
		return discounts[i].DiscountPercent > discounts[j].DiscountPercent
	})
	sort.SliceStable(players, func(i, j int) bool {
		return *players[i].CurrentPlayers > *players[j].CurrentPlayers
	})

	return Set{
		Snapshot: models.SnapshotView{
			UpdatedAt: updatedAt,
			GameCount: len(games),
			Games:     games,
		},
		Discounts: models.DiscountsView{
			UpdatedAt:     updatedAt,
			DiscountCount: len(discounts),
			Discounts:     discounts,
		},
		Players: models.PlayerRankingView{
			UpdatedAt:    updatedAt,
			TotalGames:   len(players),
			TotalPlayers: totalPlayers,
			Games:        players,
		},
	}
}

// Report summarizes a cycle and the views built from it.
func Report(result models.CycleResult, set Set, finishedAt time.Time) models.CycleReport {
	failed := make([]int, len(result.Failed))
	copy(failed, result.Failed)
	return models.CycleReport{
		ID:           result.ID,
		StartedAt:    result.StartedAt,
		FinishedAt:   finishedAt,
		Watched:      result.Watched,
		Fetched:      set.Snapshot.GameCount,
		Failed:       failed,
		Discounts:    set.Discounts.DiscountCount,
		WithPlayers:  set.Players.TotalGames,
		TotalPlayers: set.Players.TotalPlayers,
	}
}
