package models

import "time"

// SaleKind classifies a discount change between two cycles.
type SaleKind string

const (
	// SaleStarted means the app went from full price to discounted.
	SaleStarted SaleKind = "started"
	// SaleDeepened means an existing discount grew.
	SaleDeepened SaleKind = "deepened"
)

// SaleChange is a discount change detected between consecutive cycles of
// one run.
type SaleChange struct {
	AppID        int       `json:"app_id"`
	Name         string    `json:"name"`
	Kind         SaleKind  `json:"kind"`
	OldDiscount  int       `json:"old_discount"`
	NewDiscount  int       `json:"new_discount"`
	InitialPrice float64   `json:"initial_price"`
	FinalPrice   float64   `json:"final_price"`
	Currency     string    `json:"currency"`
	DetectedAt   time.Time `json:"detected_at"`
}

// Increase returns how many percentage points the discount grew.
func (c SaleChange) Increase() int {
	return c.NewDiscount - c.OldDiscount
}
