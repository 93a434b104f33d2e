package alerts

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"tracehub/internal/domain"
)

// Thresholds configures every alert rule.
type Thresholds struct {
	HighVolume          float64
	MaxErrorRate        float64
	MaxLatencyMs        float64
	MinOpsPerDay        int
	MaxSupervisedVolume float64
	MinActiveCorridors  int
}

// DefaultThresholds returns the network's standard supervision limits.
// Params: none.
// Returns: thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighVolume:          100_000_000,
		MaxErrorRate:        0.10,
		MaxLatencyMs:        5000,
		MinOpsPerDay:        5,
		MaxSupervisedVolume: 500_000_000,
		MinActiveCorridors:  2,
	}
}

// Options configures an Engine.
// Params: thresholds, lifecycle limits, completion alerts toggle, logger and id source.
// Returns: engine settings.
type Options struct {
	Thresholds     Thresholds
	MaxAge         time.Duration
	MaxAlerts      int
	EmitCompletion bool
	Logger         *slog.Logger
	NewID          func() string
}

// Observation is what the ledger reported for one ingested operation.
type Observation struct {
	Operation   domain.Operation
	NewCorridor bool
	Volume      float64
	HasVolume   bool
}

// AggregateSnapshot carries the rolling figures aggregate rules read.
type AggregateSnapshot struct {
	ErrorRate        float64
	Outcomes         int64
	AverageLatencyMs float64
	LatencySamples   int64
	OperationsToday  int
	SupervisedVolume float64
	ActiveCorridors  int
	TotalOperations  int64
}

// candidate is an alert a rule wants to raise.
type candidate struct {
	alertType   domain.AlertType
	level       domain.AlertLevel
	message     string
	operationID string
	corridor    string
	value       float64
}

type operationRule struct {
	name string
	eval func(Thresholds, Observation) *candidate
}

type aggregateRule struct {
	name string
	eval func(Thresholds, AggregateSnapshot) *candidate
}

// SweepResult reports one maintenance sweep.
type SweepResult struct {
	Expired int
	Dropped int
}

// Engine evaluates rules and owns the alert list.
// Params: built by New.
// Returns: engine that is not safe for concurrent use; the owner serializes access.
type Engine struct {
	thresholds     Thresholds
	maxAge         time.Duration
	maxAlerts      int
	logger         *slog.Logger
	newID          func() string
	operationRules []operationRule
	aggregateRules []aggregateRule
	alerts         []*domain.Alert
}

// New creates an alert engine with the standard rule set.
// Params: options; zero lifecycle values fall back to 48h and 200 alerts.
// Returns: engine.
func New(opts Options) *Engine {
	if opts.MaxAge <= 0 {
		opts.MaxAge = 48 * time.Hour
	}
	if opts.MaxAlerts <= 0 {
		opts.MaxAlerts = 200
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	engine := &Engine{
		thresholds:     opts.Thresholds,
		maxAge:         opts.MaxAge,
		maxAlerts:      opts.MaxAlerts,
		logger:         opts.Logger,
		newID:          opts.NewID,
		operationRules: []operationRule{{name: "new_corridor", eval: newCorridorRule}, {name: "high_volume", eval: highVolumeRule}},
		aggregateRules: []aggregateRule{
			{name: "high_error_rate", eval: errorRateRule},
			{name: "high_latency", eval: latencyRule},
			{name: "low_activity", eval: lowActivityRule},
			{name: "high_supervised_volume", eval: supervisedVolumeRule},
			{name: "few_active_corridors", eval: corridorCountRule},
		},
	}
	if opts.EmitCompletion {
		engine.operationRules = append(engine.operationRules, operationRule{name: "free_practice_completed", eval: completionRule})
	}
	return engine
}

// Thresholds returns the configured thresholds.
// Params: none.
// Returns: thresholds.
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// Evaluate runs per-operation rules.
// Params: observation of the operation just stored and evaluation time.
// Returns: alerts newly raised (suppressed duplicates are not returned).
func (e *Engine) Evaluate(obs Observation, now time.Time) []domain.Alert {
	var raised []domain.Alert
	for _, rule := range e.operationRules {
		found := e.safely(rule.name, func() *candidate { return rule.eval(e.thresholds, obs) })
		if alert, ok := e.emit(found, now); ok {
			raised = append(raised, alert)
		}
	}
	return raised
}

// EvaluateAggregates runs rolling-metric rules.
// Params: aggregate snapshot and evaluation time.
// Returns: alerts newly raised.
func (e *Engine) EvaluateAggregates(snapshot AggregateSnapshot, now time.Time) []domain.Alert {
	var raised []domain.Alert
	for _, rule := range e.aggregateRules {
		found := e.safely(rule.name, func() *candidate { return rule.eval(e.thresholds, snapshot) })
		if alert, ok := e.emit(found, now); ok {
			raised = append(raised, alert)
		}
	}
	return raised
}

// safely runs one rule and turns a panic into a logged skip.
// Params: rule name and evaluation callback.
// Returns: rule candidate or nil.
func (e *Engine) safely(name string, run func() *candidate) (found *candidate) {
	defer func() {
		if recovered := recover(); recovered != nil {
			e.logger.Error("alert rule failed", "rule", name, "panic", fmt.Sprint(recovered))
			found = nil
		}
	}()
	return run()
}

// emit stores a candidate unless an active alert of the same type exists.
// Params: candidate (nil is ignored) and time.
// Returns: stored alert and true when a new alert was created.
func (e *Engine) emit(found *candidate, now time.Time) (domain.Alert, bool) {
	if found == nil {
		return domain.Alert{}, false
	}
	if existing := e.activeOf(found.alertType); existing != nil {
		existing.Occurrences++
		existing.LastSeenAt = now
		return domain.Alert{}, false
	}
	alert := &domain.Alert{
		ID:          e.newID(),
		Type:        found.alertType,
		Level:       found.level,
		Message:     found.message,
		State:       domain.AlertStateActive,
		RaisedAt:    now,
		LastSeenAt:  now,
		Occurrences: 1,
		OperationID: found.operationID,
		Corridor:    found.corridor,
		Value:       found.value,
	}
	e.alerts = append(e.alerts, alert)
	e.enforceCap()
	return alert.Clone(), true
}

// activeOf finds the active alert of a type.
func (e *Engine) activeOf(alertType domain.AlertType) *domain.Alert {
	for _, alert := range e.alerts {
		if alert.Type == alertType && alert.Active() {
			return alert
		}
	}
	return nil
}

// Clear acknowledges the active alert of a type.
// Params: alert type and time.
// Returns: true when an active alert was cleared.
func (e *Engine) Clear(alertType domain.AlertType, now time.Time) bool {
	alert := e.activeOf(alertType)
	if alert == nil {
		return false
	}
	e.clearAlert(alert, now, "acknowledged")
	return true
}

func (e *Engine) clearAlert(alert *domain.Alert, now time.Time, reason string) {
	cleared := now
	alert.State = domain.AlertStateCleared
	alert.ClearedAt = &cleared
	alert.ClearReason = reason
}

// Sweep expires active alerts older than the max age and drops cleared alerts past it.
// Params: current time.
// Returns: sweep counters; repeated calls with the same time change nothing.
func (e *Engine) Sweep(now time.Time) SweepResult {
	var result SweepResult
	cutoff := now.Add(-e.maxAge)
	for _, alert := range e.alerts {
		if alert.Active() && alert.RaisedAt.Before(cutoff) {
			e.clearAlert(alert, now, "expired")
			result.Expired++
		}
	}
	kept := e.alerts[:0]
	for _, alert := range e.alerts {
		if !alert.Active() && alert.RaisedAt.Before(cutoff) && clearedBefore(alert, cutoff) {
			result.Dropped++
			continue
		}
		kept = append(kept, alert)
	}
	clear(e.alerts[len(kept):])
	e.alerts = kept
	result.Dropped += e.enforceCap()
	return result
}

func clearedBefore(alert *domain.Alert, cutoff time.Time) bool {
	if alert.ClearedAt == nil {
		return true
	}
	return alert.ClearedAt.Before(cutoff)
}

// enforceCap drops the oldest cleared alerts, then the oldest alerts, above the cap.
// Params: none.
// Returns: number dropped.
func (e *Engine) enforceCap() int {
	dropped := 0
	for len(e.alerts) > e.maxAlerts {
		index := slices.IndexFunc(e.alerts, func(alert *domain.Alert) bool { return !alert.Active() })
		if index < 0 {
			index = 0
		}
		e.alerts = slices.Delete(e.alerts, index, index+1)
		dropped++
	}
	return dropped
}

// Alerts lists alerts newest first.
// Params: include cleared alerts flag and limit (<=0 means all).
// Returns: alert copies.
func (e *Engine) Alerts(includeCleared bool, limit int) []domain.Alert {
	out := make([]domain.Alert, 0, len(e.alerts))
	for i := len(e.alerts) - 1; i >= 0; i-- {
		alert := e.alerts[i]
		if !includeCleared && !alert.Active() {
			continue
		}
		out = append(out, alert.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// ActiveCount returns the number of active alerts.
// Params: none.
// Returns: count.
func (e *Engine) ActiveCount() int {
	count := 0
	for _, alert := range e.alerts {
		if alert.Active() {
			count++
		}
	}
	return count
}

// Export returns every alert oldest first for snapshots.
// Params: none.
// Returns: alert copies.
func (e *Engine) Export() []domain.Alert {
	out := make([]domain.Alert, 0, len(e.alerts))
	for _, alert := range e.alerts {
		out = append(out, alert.Clone())
	}
	return out
}

// Restore replaces the alert list from a snapshot.
// Params: alerts oldest first.
// Returns: nothing; a second active alert of one type is restored as cleared.
func (e *Engine) Restore(alerts []domain.Alert) {
	e.alerts = make([]*domain.Alert, 0, len(alerts))
	for _, alert := range alerts {
		restored := alert.Clone()
		if restored.Active() && e.activeOf(restored.Type) != nil {
			e.clearAlert(&restored, restored.LastSeenAt, "duplicate on restore")
		}
		e.alerts = append(e.alerts, &restored)
	}
	e.enforceCap()
}
