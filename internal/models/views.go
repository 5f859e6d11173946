package models

// SnapshotView is the full catalog document (latest_games.json).
type SnapshotView struct {
	UpdatedAt int64  `json:"updated_at"` // epoch seconds
	GameCount int    `json:"game_count"`
	Games     []Game `json:"games"`
}

// DiscountsView lists on-sale games by discount percent, highest first (discounts.json).
type DiscountsView struct {
	UpdatedAt     int64  `json:"updated_at"`
	DiscountCount int    `json:"discount_count"`
	Discounts     []Game `json:"discounts"`
}

// PlayerRankingView lists games with a live player count, busiest first (player_stats.json).
type PlayerRankingView struct {
	UpdatedAt    int64  `json:"updated_at"`
	TotalGames   int    `json:"total_games"`
	TotalPlayers int64  `json:"total_players"`
	Games        []Game `json:"games"`
}
