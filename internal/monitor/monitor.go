// Package monitor detects discount changes between consecutive cycles and
// sends sale alerts.
//
// The first cycle of a run only records a baseline. After that an app whose
// discount goes from zero to at least MinDiscount is reported as a started
// sale, and an app whose discount grows is reported as a deepened sale.
// Apps that failed to fetch keep their previous discount, so a transient
// failure never produces an alert. State lives in memory for the lifetime
// of the process only.
package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rewired-gh/steamwatch/internal/logger"
	"github.com/rewired-gh/steamwatch/internal/models"
	"github.com/rewired-gh/steamwatch/internal/views"
)

// Notifier delivers sale alerts.
type Notifier interface {
	SendSales(ctx context.Context, changes []models.SaleChange) error
}

// Config holds alerting thresholds.
type Config struct {
	MinDiscount int           // Smallest discount percent worth an alert
	TopK        int           // Max alerts per cycle; 0 means no limit
	Cooldown    time.Duration // Suppress repeat alerts for the same app and discount
}

// notifiedRecord tracks a previously sent alert for cooldown deduplication.
type notifiedRecord struct {
	Discount int
	SentAt   time.Time
}

// Monitor tracks discounts across cycles
type Monitor struct {
	cfg      Config
	notifier Notifier
	now      func() time.Time

	mu       sync.Mutex
	previous map[int]int // app ID -> discount percent at last successful fetch
	notified map[int]notifiedRecord
}

// New creates a new Monitor. notifier may be nil, in which case changes are
// only logged.
func New(cfg Config, notifier Notifier) *Monitor {
	return &Monitor{
		cfg:      cfg,
		notifier: notifier,
		now:      time.Now,
		notified: make(map[int]notifiedRecord),
	}
}

// DetectChanges compares games against the previous cycle and records their
// discounts as the new baseline.
func (m *Monitor) DetectChanges(games []models.Game) []models.SaleChange {
	m.mu.Lock()
	defer m.mu.Unlock()

	first := m.previous == nil
	if first {
		m.previous = make(map[int]int, len(games))
	}

	now := m.now()
	changes := []models.SaleChange{}
	for _, g := range games {
		old, seen := m.previous[g.AppID]
		m.previous[g.AppID] = g.DiscountPercent
		if first || !seen {
			continue
		}
		if g.DiscountPercent < m.cfg.MinDiscount || g.DiscountPercent <= old {
			continue
		}

		kind := models.SaleDeepened
		if old == 0 {
			kind = models.SaleStarted
		}
		changes = append(changes, models.SaleChange{
			AppID:        g.AppID,
			Name:         g.Name,
			Kind:         kind,
			OldDiscount:  old,
			NewDiscount:  g.DiscountPercent,
			InitialPrice: g.InitialPrice,
			FinalPrice:   g.FinalPrice,
			Currency:     g.Currency,
			DetectedAt:   now,
		})
	}
	return changes
}

// Rank orders changes by new discount, then by how much it grew, and keeps
// the top K. Ties keep input order.
func Rank(changes []models.SaleChange, topK int) []models.SaleChange {
	ranked := make([]models.SaleChange, len(changes))
	copy(ranked, changes)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].NewDiscount != ranked[j].NewDiscount {
			return ranked[i].NewDiscount > ranked[j].NewDiscount
		}
		return ranked[i].Increase() > ranked[j].Increase()
	})
	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked
}

// FilterRecentlySent drops changes already alerted within the cooldown,
// unless the discount is now deeper than the one alerted.
func (m *Monitor) FilterRecentlySent(changes []models.SaleChange) []models.SaleChange {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	result := []models.SaleChange{}
	for _, c := range changes {
		rec, exists := m.notified[c.AppID]
		if exists && now.Sub(rec.SentAt) < m.cfg.Cooldown && c.NewDiscount <= rec.Discount {
			continue
		}
		result = append(result, c)
	}
	return result
}

// RecordNotified records changes as alerted at the current time.
// Call this after a successful send to enable cooldown deduplication.
func (m *Monitor) RecordNotified(changes []models.SaleChange) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, c := range changes {
		m.notified[c.AppID] = notifiedRecord{Discount: c.NewDiscount, SentAt: now}
	}
}

// ObserveViews runs detection on a persisted cycle and sends any alerts.
func (m *Monitor) ObserveViews(ctx context.Context, set views.Set) {
	changes := m.DetectChanges(set.Snapshot.Games)
	if len(changes) == 0 {
		logger.Debug("No new discounts this cycle")
		return
	}

	alerts := Rank(m.FilterRecentlySent(changes), m.cfg.TopK)
	for _, c := range alerts {
		logger.Info("Sale %s: %s (%d) %d%% -> %d%% off, now %.2f %s",
			c.Kind, c.Name, c.AppID, c.OldDiscount, c.NewDiscount, c.FinalPrice, c.Currency)
	}
	if len(alerts) == 0 || m.notifier == nil {
		return
	}

	if err := m.notifier.SendSales(ctx, alerts); err != nil {
		logger.Error("Failed to send sale alerts: %v", err)
		return
	}
	logger.Info("Sent %d sale alerts", len(alerts))
	m.RecordNotified(alerts)
}
