// Package models defines the core domain entities for steamwatch.
// These models represent watched catalog items, their normalized per-cycle
// records and the aggregate documents derived from one poll cycle.
//
// Terminology (matching Steam's own naming):
//   - App: a catalog entry identified by a numeric app ID (games, DLC, tools).
//   - Game: the normalized record we persist for one app in one cycle.
package models

import (
	"errors"
	"time"
)

// DefaultCurrency is used when an app has no price overview.
const DefaultCurrency = "USD"

// Game is the canonical, fixed-shape record produced from one successful
// app detail fetch. Nullable fields are pointers so they marshal as null.
type Game struct {
	AppID     int    `json:"app_id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`  // capture time, epoch milliseconds
	EventTime string `json:"event_time"` // capture time, ISO-8601

	IsFree          bool    `json:"is_free"`
	InitialPrice    float64 `json:"initial_price"`
	FinalPrice      float64 `json:"final_price"`
	DiscountPercent int     `json:"discount_percent"`
	OnSale          bool    `json:"on_sale"` // always DiscountPercent > 0
	Currency        string  `json:"currency"`

	MetacriticScore      *int `json:"metacritic_score"`
	TotalRecommendations int  `json:"total_recommendations"`

	DLCCount int  `json:"dlc_count"`
	HasDLC   bool `json:"has_dlc"`

	Genres     []string `json:"genres"`
	Categories []string `json:"categories"`

	ReleaseDate  string `json:"release_date"`
	IsComingSoon bool   `json:"is_coming_soon"`

	CurrentPlayers *int `json:"current_players"`

	ShortDescription string   `json:"short_description"`
	HeaderImage      string   `json:"header_image"`
	Developers       []string `json:"developers"`
	Publishers       []string `json:"publishers"`
}

// CapturedAt returns the record's capture time.
func (g *Game) CapturedAt() time.Time {
	return time.UnixMilli(g.Timestamp).UTC()
}

// HasPlayers reports whether a live player count was captured.
func (g *Game) HasPlayers() bool {
	return g.CurrentPlayers != nil
}

// Validate checks that all game fields are consistent
func (g *Game) Validate() error {
	if g.AppID <= 0 {
		return errors.New("app ID must be positive")
	}
	if g.OnSale != (g.DiscountPercent > 0) {
		return errors.New("on_sale must equal discount_percent > 0")
	}
	if g.DiscountPercent < 0 || g.DiscountPercent > 100 {
		return errors.New("discount percent must be between 0 and 100")
	}
	if g.InitialPrice < 0 || g.FinalPrice < 0 {
		return errors.New("prices must not be negative")
	}
	if g.Currency == "" {
		return errors.New("currency must not be empty")
	}
	if g.HasDLC != (g.DLCCount > 0) {
		return errors.New("has_dlc must equal dlc_count > 0")
	}
	if g.CurrentPlayers != nil && *g.CurrentPlayers < 0 {
		return errors.New("current players must not be negative")
	}
	if g.Timestamp <= 0 {
		return errors.New("timestamp must be set")
	}
	return nil
}
