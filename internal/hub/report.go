package hub

import (
	"fmt"
	"time"

	"tracehub/internal/analytics"
	"tracehub/internal/domain"
	"tracehub/internal/query"
)

const reportTopCorridors = 5

// Report is the periodic supervision report.
type Report struct {
	Period          string                `json:"period"`
	GeneratedAt     time.Time             `json:"generatedAt"`
	Summary         domain.GlobalStats    `json:"summary"`
	Performance     analytics.Performance `json:"performance"`
	Trend           query.Trend           `json:"trend"`
	TopCorridors    []query.CorridorView  `json:"topCorridors"`
	ActiveAlerts    []domain.Alert        `json:"activeAlerts"`
	Recommendations []string              `json:"recommendations"`
}

// SupervisionReport builds the report for the trailing period.
// Params: period.
// Returns: report with recommendations derived from thresholds.
func (h *Hub) SupervisionReport(period time.Duration) Report {
	h.mu.RLock()
	now := h.clock.Now()
	stats := h.ledger.Stats(now)
	performance := h.analytics.Performance(now, period)
	opsToday := h.analytics.OperationsOn(now)
	corridors := h.ledger.Corridors()
	active := h.alerts.Alerts(false, 0)
	limits := h.alerts.Thresholds()
	ops := h.ledger.Operations()
	h.mu.RUnlock()

	ranked := query.Corridors(corridors)
	if len(ranked) > reportTopCorridors {
		ranked = ranked[:reportTopCorridors]
	}
	trend := query.TrendDelta(ops, now, period, query.Filter{}, h.trend)

	var advice []string
	if performance.ErrorRate > limits.MaxErrorRate {
		advice = append(advice, fmt.Sprintf("Error rate %.1f%% is above target: review rejected submissions with member systems", performance.ErrorRate*100))
	}
	if limits.MaxLatencyMs > 0 && performance.AverageLatencyMs > limits.MaxLatencyMs {
		advice = append(advice, fmt.Sprintf("Broker latency %.0fms is above target: check the integration broker", performance.AverageLatencyMs))
	}
	if stats.ActiveCorridors < limits.MinActiveCorridors {
		advice = append(advice, "Few trade corridors are active: follow up with landlocked members on pending integrations")
	}
	if limits.MinOpsPerDay > 0 && opsToday < limits.MinOpsPerDay {
		advice = append(advice, fmt.Sprintf("Only %d operations today: confirm member systems are transmitting", opsToday))
	}
	if trend.Bucket != query.TrendStable {
		advice = append(advice, trend.Recommendation)
	}
	if len(advice) == 0 {
		advice = append(advice, "All indicators are within thresholds")
	}

	return Report{
		Period:          query.FormatPeriod(period),
		GeneratedAt:     now,
		Summary:         stats,
		Performance:     performance,
		Trend:           trend,
		TopCorridors:    ranked,
		ActiveAlerts:    active,
		Recommendations: advice,
	}
}
