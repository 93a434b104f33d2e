package alerts

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"tracehub/internal/domain"
)

var now0 = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func newTestEngine(opts Options) *Engine {
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	seq := 0
	opts.NewID = func() string {
		seq++
		return fmt.Sprintf("alert-%d", seq)
	}
	return New(opts)
}

func observation(id, origin, destination string, newCorridor bool) Observation {
	return Observation{
		Operation: domain.Operation{
			ID: id, OperationNumber: id, OriginCountry: origin, DestinationCountry: destination,
			WorkflowStage: domain.StageManifestNotification,
		},
		NewCorridor: newCorridor,
	}
}

func countActive(engine *Engine, alertType domain.AlertType) int {
	count := 0
	for _, alert := range engine.Alerts(false, 0) {
		if alert.Type == alertType {
			count++
		}
	}
	return count
}

func TestNewCorridorRaisedOnce(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(Options{})
	raised := engine.Evaluate(observation("M1", "SEN", "MLI", true), now0)
	if len(raised) != 1 || raised[0].Type != domain.AlertNewCorridor || raised[0].Corridor != "SEN-MLI" {
		t.Fatalf("unexpected raised alerts %+v", raised)
	}
	if raised := engine.Evaluate(observation("M2", "SEN", "MLI", false), now0); len(raised) != 0 {
		t.Fatalf("known corridor must not raise: %+v", raised)
	}
}

func TestDedupByTypeWhileActive(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(Options{})
	snapshot := AggregateSnapshot{ErrorRate: 0.5, Outcomes: 10, OperationsToday: 10, ActiveCorridors: 3, TotalOperations: 10}
	for i := 0; i < 5; i++ {
		engine.EvaluateAggregates(snapshot, now0.Add(time.Duration(i)*time.Minute))
	}
	if got := countActive(engine, domain.AlertHighErrorRate); got != 1 {
		t.Fatalf("expected one active error-rate alert, got %d", got)
	}
	alert := engine.Alerts(false, 1)[0]
	if alert.Occurrences != 5 || !alert.LastSeenAt.Equal(now0.Add(4*time.Minute)) {
		t.Fatalf("suppressed occurrences not tracked: %+v", alert)
	}

	if !engine.Clear(domain.AlertHighErrorRate, now0.Add(time.Hour)) {
		t.Fatalf("clear must succeed")
	}
	if engine.Clear(domain.AlertHighErrorRate, now0.Add(time.Hour)) {
		t.Fatalf("nothing left to clear")
	}
	raised := engine.EvaluateAggregates(snapshot, now0.Add(2*time.Hour))
	if len(raised) != 1 || raised[0].Type != domain.AlertHighErrorRate {
		t.Fatalf("cleared alert must allow a new one: %+v", raised)
	}
	if len(engine.Alerts(true, 0)) != 2 {
		t.Fatalf("cleared alert should still be listed")
	}
}

func TestAggregateRules(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(Options{})
	raised := engine.EvaluateAggregates(AggregateSnapshot{
		ErrorRate: 0.05, Outcomes: 20,
		AverageLatencyMs: 6000, LatencySamples: 3,
		OperationsToday:  2,
		SupervisedVolume: 600_000_000,
		ActiveCorridors:  1, TotalOperations: 2,
	}, now0)
	types := map[domain.AlertType]domain.AlertLevel{}
	for _, alert := range raised {
		types[alert.Type] = alert.Level
	}
	want := map[domain.AlertType]domain.AlertLevel{
		domain.AlertHighLatency:          domain.AlertLevelWarning,
		domain.AlertLowActivity:          domain.AlertLevelInfo,
		domain.AlertHighSupervisedVolume: domain.AlertLevelAttention,
		domain.AlertFewActiveCorridors:   domain.AlertLevelInfo,
	}
	if len(types) != len(want) {
		t.Fatalf("unexpected alerts %v", types)
	}
	for alertType, level := range want {
		if types[alertType] != level {
			t.Fatalf("alert %s level %q, want %q", alertType, types[alertType], level)
		}
	}
}

func TestHighVolumeAndCompletionRules(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(Options{EmitCompletion: true})
	obs := observation("D1", "CIV", "BFA", false)
	obs.Operation.WorkflowStage = domain.StageFreePractice
	obs.Volume, obs.HasVolume = 150_000_000, true

	raised := engine.Evaluate(obs, now0)
	if len(raised) != 2 {
		t.Fatalf("expected high volume and completion alerts, got %+v", raised)
	}
	if raised[0].Type != domain.AlertHighVolume || raised[0].Value != 150_000_000 {
		t.Fatalf("unexpected high volume alert %+v", raised[0])
	}
	if raised[1].Type != domain.AlertFreePracticeCompleted || raised[1].Level != domain.AlertLevelSuccess {
		t.Fatalf("unexpected completion alert %+v", raised[1])
	}

	quiet := newTestEngine(Options{})
	obs.Volume = 25_000_000
	if raised := quiet.Evaluate(obs, now0); len(raised) != 0 {
		t.Fatalf("below threshold and completion disabled: %+v", raised)
	}
}

func TestPanickingRuleIsSkipped(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(Options{})
	engine.operationRules = append([]operationRule{{
		name: "broken",
		eval: func(Thresholds, Observation) *candidate { panic("boom") },
	}}, engine.operationRules...)

	raised := engine.Evaluate(observation("M1", "SEN", "MLI", true), now0)
	if len(raised) != 1 || raised[0].Type != domain.AlertNewCorridor {
		t.Fatalf("remaining rules must still run: %+v", raised)
	}
}

func TestSweepExpiresThenDrops(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(Options{MaxAge: 48 * time.Hour})
	engine.Evaluate(observation("M1", "SEN", "MLI", true), now0)

	first := engine.Sweep(now0.Add(47 * time.Hour))
	if first.Expired != 0 || engine.ActiveCount() != 1 {
		t.Fatalf("alert expired too early: %+v", first)
	}
	expiry := now0.Add(49 * time.Hour)
	second := engine.Sweep(expiry)
	if second.Expired != 1 || engine.ActiveCount() != 0 {
		t.Fatalf("alert not expired: %+v", second)
	}
	if again := engine.Sweep(expiry); again != (SweepResult{}) {
		t.Fatalf("sweep not idempotent: %+v", again)
	}
	cleared := engine.Alerts(true, 0)
	if len(cleared) != 1 || cleared[0].ClearReason != "expired" {
		t.Fatalf("unexpected cleared alert %+v", cleared)
	}
	third := engine.Sweep(expiry.Add(49 * time.Hour))
	if third.Dropped != 1 || len(engine.Alerts(true, 0)) != 0 {
		t.Fatalf("cleared alert not dropped: %+v", third)
	}
}

func TestCapKeepsActiveAlerts(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(Options{MaxAlerts: 2})
	engine.EvaluateAggregates(AggregateSnapshot{ErrorRate: 1, Outcomes: 1, OperationsToday: 10, ActiveCorridors: 5, TotalOperations: 1}, now0)
	engine.Clear(domain.AlertHighErrorRate, now0)
	engine.Evaluate(observation("M1", "SEN", "MLI", true), now0)
	engine.EvaluateAggregates(AggregateSnapshot{AverageLatencyMs: 9000, LatencySamples: 1, OperationsToday: 10, ActiveCorridors: 5, TotalOperations: 1}, now0)

	all := engine.Alerts(true, 0)
	if len(all) != 2 {
		t.Fatalf("cap not enforced: %+v", all)
	}
	for _, alert := range all {
		if !alert.Active() {
			t.Fatalf("cleared alert should be dropped first: %+v", all)
		}
	}
}

func TestRestoreKeepsSingleActivePerType(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(Options{})
	engine.Restore([]domain.Alert{
		{ID: "a", Type: domain.AlertLowActivity, State: domain.AlertStateActive, RaisedAt: now0, LastSeenAt: now0},
		{ID: "b", Type: domain.AlertLowActivity, State: domain.AlertStateActive, RaisedAt: now0, LastSeenAt: now0},
	})
	if engine.ActiveCount() != 1 {
		t.Fatalf("expected one active alert after restore, got %d", engine.ActiveCount())
	}
	if exported := engine.Export(); len(exported) != 2 || exported[0].ID != "a" {
		t.Fatalf("unexpected export %+v", exported)
	}
}
