// Package normalizer converts raw Steam appdetails payloads into the
// fixed-shape models.Game record.
//
// This is the only place that knows the raw payload layout. Every nested
// lookup has a default, so a payload missing any optional block still
// yields a complete record:
//
//	price_overview missing  -> prices 0, discount 0, currency USD
//	metacritic missing      -> metacritic_score null
//	release_date missing    -> "TBA", not coming soon
//	genres/categories/...   -> empty lists
//
// short_description is cut to MaxDescriptionLength runes without an ellipsis.
package normalizer

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/steamwatch/internal/models"
	"github.com/rewired-gh/steamwatch/internal/steam"
)

// MaxDescriptionLength caps short_description, in runes.
const MaxDescriptionLength = 200

const (
	defaultName        = "Unknown"
	defaultType        = "game"
	defaultReleaseDate = "TBA"
)

// Normalize builds the canonical record for one app. players is nil when
// the live-count fetch failed or had no data. now is the capture time of
// this record; callers read the clock per record, not per cycle.
func Normalize(appID int, raw steam.RawDetail, players *int, now time.Time) models.Game {
	now = now.UTC()
	d := detail(raw)

	g := models.Game{
		AppID:     appID,
		Name:      d.str("name", defaultName),
		Type:      d.str("type", defaultType),
		Timestamp: now.UnixMilli(),
		EventTime: now.Format(time.RFC3339Nano),
		IsFree:    d.boolean("is_free"),
		Currency:  models.DefaultCurrency,
	}

	if price := d.object("price_overview"); price != nil {
		g.InitialPrice = minorToMajor(price.number("initial"))
		g.FinalPrice = minorToMajor(price.number("final"))
		g.DiscountPercent = int(price.number("discount_percent"))
		g.Currency = price.str("currency", models.DefaultCurrency)
	}
	g.OnSale = g.DiscountPercent > 0

	if meta := d.object("metacritic"); meta != nil {
		if score, ok := meta.optNumber("score"); ok {
			s := int(score)
			g.MetacriticScore = &s
		}
	}
	if recs := d.object("recommendations"); recs != nil {
		g.TotalRecommendations = int(recs.number("total"))
	}

	g.DLCCount = len(d.list("dlc"))
	g.HasDLC = g.DLCCount > 0

	g.Genres = d.descriptions("genres")
	g.Categories = d.descriptions("categories")

	g.ReleaseDate = defaultReleaseDate
	if release := d.object("release_date"); release != nil {
		g.ReleaseDate = release.str("date", defaultReleaseDate)
		g.IsComingSoon = release.boolean("coming_soon")
	}

	if players != nil {
		p := *players
		g.CurrentPlayers = &p
	}

	g.ShortDescription = truncate(d.str("short_description", ""), MaxDescriptionLength)
	g.HeaderImage = d.str("header_image", "")
	g.Developers = d.strings("developers")
	g.Publishers = d.strings("publishers")

	return g
}

// minorToMajor converts a price in minor units (cents) to major units.
func minorToMajor(cents float64) float64 {
	return decimal.NewFromFloat(cents).Shift(-2).InexactFloat64()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// detail wraps a decoded JSON object with defaulting accessors.
type detail map[string]any

func (d detail) str(key, def string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return def
}

func (d detail) boolean(key string) bool {
	v, _ := d[key].(bool)
	return v
}

func (d detail) number(key string) float64 {
	v, _ := d.optNumber(key)
	return v
}

func (d detail) optNumber(key string) (float64, bool) {
	v, ok := d[key].(float64)
	return v, ok
}

// object returns a nested object, or nil when absent, null or empty.
func (d detail) object(key string) detail {
	v, ok := d[key].(map[string]any)
	if !ok || len(v) == 0 {
		return nil
	}
	return detail(v)
}

func (d detail) list(key string) []any {
	v, _ := d[key].([]any)
	return v
}

// descriptions collects the "description" field of each object in a list.
func (d detail) descriptions(key string) []string {
	items := d.list(key)
	out := make([]string, 0, len(items))
	for _, item := range items {
		obj, _ := item.(map[string]any)
		out = append(out, detail(obj).str("description", ""))
	}
	return out
}

func (d detail) strings(key string) []string {
	items := d.list(key)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
