package models

import (
	"errors"
	"strconv"
)

// Watchlist is the externally configured, ordered set of app IDs to poll.
// Metadata is optional and keyed by the decimal app ID.
type Watchlist struct {
	Games    []int                     `json:"games" yaml:"games"`
	Metadata map[string]map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Label returns a human-readable name for an app ID, using the metadata
// "name" entry when present.
func (w *Watchlist) Label(appID int) string {
	key := strconv.Itoa(appID)
	if meta, ok := w.Metadata[key]; ok {
		if name, ok := meta["name"].(string); ok && name != "" {
			return name + " (" + key + ")"
		}
	}
	return key
}

// Unique returns the app IDs in order with duplicates removed (first
// occurrence kept) and the IDs that were dropped as duplicates.
func (w *Watchlist) Unique() (ids []int, duplicates []int) {
	seen := make(map[int]bool, len(w.Games))
	ids = make([]int, 0, len(w.Games))
	for _, id := range w.Games {
		if seen[id] {
			duplicates = append(duplicates, id)
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, duplicates
}

// Validate checks that the watchlist is usable for a cycle
func (w *Watchlist) Validate() error {
	if len(w.Games) == 0 {
		return errors.New("watchlist must contain at least one app ID")
	}
	for _, id := range w.Games {
		if id <= 0 {
			return errors.New("watchlist app IDs must be positive integers")
		}
	}
	return nil
}
