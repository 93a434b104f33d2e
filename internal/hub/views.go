package hub

import (
	"time"

	"tracehub/internal/analytics"
	"tracehub/internal/domain"
	"tracehub/internal/export"
	"tracehub/internal/query"
)

// operations copies the operation pointers under the read lock.
// Params: none.
// Returns: insertion-ordered pointers to immutable operations and the read time.
func (h *Hub) operations() ([]*domain.Operation, time.Time) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ledger.Operations(), h.clock.Now()
}

// Operation fetches one stored operation.
// Params: operation id.
// Returns: deep copy and presence flag.
func (h *Hub) Operation(id string) (domain.Operation, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	op, ok := h.ledger.Get(id)
	if !ok {
		return domain.Operation{}, false
	}
	return op.Clone(), true
}

// ListOperations filters and lists operations newest first.
// Params: limit (<=0 means 50) and filter.
// Returns: operation copies.
func (h *Hub) ListOperations(limit int, filter query.Filter) []domain.Operation {
	ops, _ := h.operations()
	return query.List(ops, limit, h.normalizeFilter(filter))
}

// Search runs a free-text search newest first.
// Params: text and limit (<=0 means 30).
// Returns: operation copies.
func (h *Hub) Search(text string, limit int) []domain.Operation {
	ops, _ := h.operations()
	return query.Search(ops, text, limit)
}

// Statistics returns the global statistics.
// Params: none.
// Returns: statistics snapshot.
func (h *Hub) Statistics() domain.GlobalStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ledger.Stats(h.clock.Now())
}

// StatisticsByCountry returns every member aggregate, including idle members.
// Params: none.
// Returns: list with one entry per registry member.
func (h *Hub) StatisticsByCountry() []domain.CountryActivity {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ledger.Countries()
}

// ActiveCorridors ranks corridors by operation count with efficiency.
// Params: none.
// Returns: corridor views.
func (h *Hub) ActiveCorridors() []query.CorridorView {
	h.mu.RLock()
	corridors := h.ledger.Corridors()
	h.mu.RUnlock()
	return query.Corridors(corridors)
}

// OperationsByType returns the type histogram.
// Params: none.
// Returns: type → count.
func (h *Hub) OperationsByType() map[string]int64 {
	ops, _ := h.operations()
	return query.TypeHistogram(ops)
}

// TrendDelta compares both halves of the trailing period.
// Params: period and filter.
// Returns: trend with bucket and recommendation.
func (h *Hub) TrendDelta(period time.Duration, filter query.Filter) query.Trend {
	ops, now := h.operations()
	return query.TrendDelta(ops, now, period, h.normalizeFilter(filter), h.trend)
}

// normalizeFilter folds country names and aliases in a filter to registry codes.
// Params: filter as read from a caller.
// Returns: filter copy with normalized countries.
func (h *Hub) normalizeFilter(filter query.Filter) query.Filter {
	if filter.OriginCountry != "" {
		filter.OriginCountry = h.registry.Normalize(filter.OriginCountry)
	}
	if filter.DestinationCountry != "" {
		filter.DestinationCountry = h.registry.Normalize(filter.DestinationCountry)
	}
	return filter
}

// Alerts lists alerts newest first.
// Params: include cleared flag and limit (<=0 means all).
// Returns: alert copies.
func (h *Hub) Alerts(includeCleared bool, limit int) []domain.Alert {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.alerts.Alerts(includeCleared, limit)
}

// Performance returns rates from the accumulator for the trailing period.
// Params: period.
// Returns: performance figures.
func (h *Hub) Performance(period time.Duration) analytics.Performance {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.analytics.Performance(h.clock.Now(), period)
}

// Dashboard is the supervision overview for one timeframe.
type Dashboard struct {
	Timeframe        string                     `json:"timeframe"`
	GeneratedAt      time.Time                  `json:"generatedAt"`
	Statistics       domain.GlobalStats         `json:"statistics"`
	Performance      analytics.Performance      `json:"performance"`
	Stages           map[string]int             `json:"stages"`
	Corridors        []analytics.CorridorWindow `json:"corridors"`
	Countries        []analytics.CountryWindow  `json:"countries"`
	Alerts           []domain.Alert             `json:"alerts"`
	RecentOperations []domain.Operation         `json:"recentOperations"`
}

const (
	dashboardAlertLimit  = 20
	dashboardRecentLimit = 10
)

// Dashboard composes the overview from one consistent read.
// Params: timeframe.
// Returns: dashboard.
func (h *Hub) Dashboard(timeframe time.Duration) Dashboard {
	h.mu.RLock()
	now := h.clock.Now()
	board := Dashboard{
		Timeframe:   query.FormatPeriod(timeframe),
		GeneratedAt: now,
		Statistics:  h.ledger.Stats(now),
		Performance: h.analytics.Performance(now, timeframe),
		Stages:      h.analytics.StageBreakdown(now, timeframe),
		Corridors:   h.analytics.CorridorActivity(now, timeframe),
		Countries:   h.analytics.CountryActivity(now, timeframe),
		Alerts:      h.alerts.Alerts(false, dashboardAlertLimit),
	}
	ops := h.ledger.Operations()
	h.mu.RUnlock()

	board.RecentOperations = query.List(ops, dashboardRecentLimit, query.Filter{})
	return board
}

// Export gathers everything an export needs from one consistent read.
// Params: none.
// Returns: export bundle with operations newest first, capped by the export limit.
func (h *Hub) Export() export.Bundle {
	h.mu.RLock()
	now := h.clock.Now()
	stats := h.ledger.Stats(now)
	ops := h.ledger.Operations()
	corridors := h.ledger.Corridors()
	countries := h.ledger.Countries()
	alertList := h.alerts.Alerts(true, 0)
	h.mu.RUnlock()

	return export.Bundle{
		ExportedAt: now,
		Statistics: stats,
		Operations: query.List(ops, h.exportLimit, query.Filter{}),
		Corridors:  query.Corridors(corridors),
		Countries:  countries,
		Alerts:     alertList,
	}
}
