package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"tracehub/internal/alerts"
	"tracehub/internal/clock"
	"tracehub/internal/domain"
	"tracehub/internal/query"
	"tracehub/internal/registry"
)

var baseTime = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// quietThresholds disables the aggregate rules that fire on a nearly empty ledger.
func quietThresholds() alerts.Thresholds {
	limits := alerts.DefaultThresholds()
	limits.MinOpsPerDay = 0
	limits.MinActiveCorridors = 0
	return limits
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (f *fakeNotifier) Notify(raised []domain.Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, raised...)
}

func (f *fakeNotifier) types() []domain.AlertType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.AlertType, 0, len(f.alerts))
	for _, alert := range f.alerts {
		out = append(out, alert.Type)
	}
	return out
}

type fakeObserver struct {
	mu       sync.Mutex
	ingested int
	rejected int
	states   int
}

func (f *fakeObserver) ObserveIngest(domain.WorkflowStage, time.Duration) {
	f.mu.Lock()
	f.ingested++
	f.mu.Unlock()
}

func (f *fakeObserver) ObserveRejected(int) {
	f.mu.Lock()
	f.rejected++
	f.mu.Unlock()
}

func (f *fakeObserver) ObserveAlerts([]domain.Alert) {}

func (f *fakeObserver) ObserveState(domain.GlobalStats, int) {
	f.mu.Lock()
	f.states++
	f.mu.Unlock()
}

func (f *fakeObserver) ObserveBrokerSample(time.Duration, bool) {}

func newTestHub(t *testing.T, mutate func(*Options)) (*Hub, *clock.Manual) {
	t.Helper()
	manual := clock.NewManual(baseTime)
	opts := Options{
		Registry: registry.MustDefault(),
		Alerts:   alerts.Options{Thresholds: quietThresholds()},
		Clock:    manual,
		Debug:    true,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h, err := New(opts)
	if err != nil {
		t.Fatalf("new hub: %v", err)
	}
	return h, manual
}

func manifestInput(number, origin, destination string) domain.OperationInput {
	return domain.OperationInput{
		OperationType:      "TRANSMISSION_MANIFESTE",
		OperationNumber:    number,
		OriginCountry:      origin,
		DestinationCountry: destination,
	}
}

func countryOf(t *testing.T, list []domain.CountryActivity, code string) domain.CountryActivity {
	t.Helper()
	for _, activity := range list {
		if activity.Code == code {
			return activity
		}
	}
	t.Fatalf("country %s missing", code)
	return domain.CountryActivity{}
}

func TestIngestManifestUpdatesEverything(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	h, _ := newTestHub(t, func(opts *Options) { opts.Notifier = notifier })

	result, err := h.Ingest(context.Background(), domain.OperationInput{
		OperationType:      "TRANSMISSION_MANIFESTE_LIBRE_PRATIQUE",
		OperationNumber:    "M-001",
		OriginCountry:      "SEN",
		DestinationCountry: "MLI",
		Payload:            domain.Payload{"numero_manifeste": "MAN1", "consignataire": "MAERSK", "navire": "MARCO POLO", "valeur_approximative": 25000000.0},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	op := result.Operation
	if op.ID != "M-001" || op.WorkflowStage != domain.StageManifestNotification || op.Status != domain.StatusTraced {
		t.Fatalf("unexpected operation %+v", op)
	}
	if !op.RecordedAt.Equal(baseTime) {
		t.Fatalf("recorded at %v, want %v", op.RecordedAt, baseTime)
	}
	stats := result.Statistics
	if stats.TotalOperations != 1 || stats.ActiveCountries != 2 || stats.ActiveCorridors != 1 || stats.TotalVolume != 25000000 {
		t.Fatalf("unexpected statistics %+v", stats)
	}
	if len(result.Alerts) != 1 || result.Alerts[0].Type != domain.AlertNewCorridor {
		t.Fatalf("expected one new corridor alert, got %+v", result.Alerts)
	}
	if got := notifier.types(); len(got) != 1 || got[0] != domain.AlertNewCorridor {
		t.Fatalf("notifier received %v", got)
	}

	countries := h.StatisticsByCountry()
	if len(countries) != h.Registry().Size() {
		t.Fatalf("country list has %d entries, want %d", len(countries), h.Registry().Size())
	}
	if countryOf(t, countries, "SEN").OperationsSent != 1 || countryOf(t, countries, "MLI").OperationsReceived != 1 {
		t.Fatalf("country aggregates not updated: %+v", countries)
	}
}

func TestIngestFreePracticeAndTransitScenarios(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub(t, nil)
	ctx := context.Background()
	inputs := []domain.OperationInput{
		manifestInput("M1", "SEN", "MLI"),
		{OperationType: "COMPLETION_LIBRE_PRATIQUE", OperationNumber: "F1", OriginCountry: "SEN", DestinationCountry: "MLI"},
		{OperationType: "COMPLETION_TRANSIT", OperationNumber: "T1", OriginCountry: "SEN", DestinationCountry: "MLI"},
	}
	for _, input := range inputs {
		if _, err := h.Ingest(ctx, input); err != nil {
			t.Fatalf("ingest %s: %v", input.OperationNumber, err)
		}
	}

	stats := h.Statistics()
	if stats.TotalOperations != 3 || stats.FreePracticeWorkflows != 1 || stats.TransitWorkflows != 1 || stats.ActiveCorridors != 1 {
		t.Fatalf("unexpected statistics %+v", stats)
	}
	corridors := h.ActiveCorridors()
	if len(corridors) != 1 || corridors[0].ID != "SEN-MLI" || corridors[0].OperationCount != 3 {
		t.Fatalf("unexpected corridors %+v", corridors)
	}
	if corridors[0].Efficiency != 66.67 {
		t.Fatalf("efficiency %.2f, want 66.67", corridors[0].Efficiency)
	}

	transit := h.ListOperations(0, query.Filter{WorkflowStage: domain.StageTransit})
	if len(transit) != 1 || transit[0].ID != "T1" {
		t.Fatalf("stage filter returned %+v", transit)
	}
	all := h.ListOperations(0, query.Filter{})
	if len(all) != 3 || all[0].ID != "T1" || all[2].ID != "M1" {
		t.Fatalf("listing not newest first: %+v", all)
	}
}

func TestIngestNormalizesCountryNames(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub(t, nil)
	result, err := h.Ingest(context.Background(), manifestInput("M1", "SENEGAL", "Mali"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Operation.OriginCountry != "SEN" || result.Operation.DestinationCountry != "MLI" {
		t.Fatalf("countries not normalized: %+v", result.Operation)
	}
	if _, ok := h.Operation("M1"); !ok {
		t.Fatalf("operation not retrievable")
	}
}

func TestIngestAcceptsDomesticOperation(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub(t, nil)
	result, err := h.Ingest(context.Background(), manifestInput("M1", "SEN", "Sénégal"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Operation.CorridorKey() != "SEN-SEN" {
		t.Fatalf("unexpected corridor %s", result.Operation.CorridorKey())
	}
	senegal := countryOf(t, h.StatisticsByCountry(), "SEN")
	if senegal.OperationsSent != 1 || senegal.OperationsReceived != 1 {
		t.Fatalf("unexpected domestic activity %+v", senegal)
	}
	if senegal.StageCounts[result.Operation.WorkflowStage] != 1 {
		t.Fatalf("domestic stage counted twice: %+v", senegal.StageCounts)
	}
}

func TestPerformanceCountsEachIngestOnce(t *testing.T) {
	t.Parallel()

	limits := quietThresholds()
	limits.MaxErrorRate = 1
	h, _ := newTestHub(t, func(opts *Options) { opts.Alerts.Thresholds = limits })
	ctx := context.Background()
	for i := 0; i < 9; i++ {
		if _, err := h.Ingest(ctx, manifestInput(fmt.Sprintf("M%d", i), "SEN", "MLI")); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}
	if _, err := h.Ingest(ctx, manifestInput("BAD", "SEN", "")); err == nil {
		t.Fatalf("expected validation error")
	}

	check := func(name string, target *Hub) {
		t.Helper()
		performance := target.Performance(24 * time.Hour)
		if math.Abs(performance.ErrorRate-0.1) > 1e-9 || math.Abs(performance.SuccessRate-90) > 1e-9 {
			t.Fatalf("%s rates %+v, want error 0.1 and success 90", name, performance)
		}
		if performance.Operations != 9 {
			t.Fatalf("%s operations %d, want 9", name, performance.Operations)
		}
	}
	check("live", h)

	restored, _ := newTestHub(t, func(opts *Options) { opts.Alerts.Thresholds = limits })
	if err := restored.Restore(h.Snapshot()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	check("restored", restored)
}

func TestIngestIgnoresNonFiniteVolume(t *testing.T) {
	t.Parallel()

	limits := quietThresholds()
	limits.HighVolume = 1
	limits.MaxSupervisedVolume = 1
	notifier := &fakeNotifier{}
	h, _ := newTestHub(t, func(opts *Options) {
		opts.Alerts.Thresholds = limits
		opts.Notifier = notifier
	})
	ctx := context.Background()
	for i, raw := range []string{"NaN", "+Inf", "-Infinity"} {
		input := manifestInput(fmt.Sprintf("M%d", i), "SEN", "MLI")
		input.OperationType = "COMPLETION_LIBRE_PRATIQUE"
		input.Payload = domain.Payload{"valeur_approximative": raw}
		if _, err := h.Ingest(ctx, input); err != nil {
			t.Fatalf("ingest %s: %v", raw, err)
		}
	}

	stats := h.Statistics()
	if stats.TotalOperations != 3 || stats.TotalVolume != 0 {
		t.Fatalf("non-finite volume leaked into statistics %+v", stats)
	}
	for _, alertType := range notifier.types() {
		if alertType == domain.AlertHighVolume || alertType == domain.AlertHighSupervisedVolume {
			t.Fatalf("volume alert raised from non-finite value: %v", notifier.types())
		}
	}
	if _, err := json.Marshal(stats); err != nil {
		t.Fatalf("marshal statistics: %v", err)
	}
	if _, err := json.Marshal(h.Dashboard(24 * time.Hour)); err != nil {
		t.Fatalf("marshal dashboard: %v", err)
	}
	if _, err := domain.EncodeSnapshot(h.Snapshot()); err != nil {
		t.Fatalf("encode snapshot: %v", err)
	}
}

func TestIngestMissingDestinationLeavesStoreUntouched(t *testing.T) {
	t.Parallel()

	observer := &fakeObserver{}
	h, _ := newTestHub(t, func(opts *Options) { opts.Observer = observer })
	_, err := h.Ingest(context.Background(), domain.OperationInput{
		OperationType:   "TRANSMISSION_MANIFESTE",
		OperationNumber: "M1",
		OriginCountry:   "SEN",
	})
	verr, ok := domain.AsValidation(err)
	if !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(verr.Violations) != 1 || verr.Violations[0].Field != "destinationCountry" {
		t.Fatalf("unexpected violations %+v", verr.Violations)
	}
	if stats := h.Statistics(); stats.TotalOperations != 0 || stats.ActiveCountries != 0 {
		t.Fatalf("store changed after rejection: %+v", stats)
	}
	if performance := h.Performance(24 * time.Hour); performance.ErrorRate != 1 {
		t.Fatalf("rejection not counted: %+v", performance)
	}
	active := h.Alerts(false, 0)
	if len(active) != 1 || active[0].Type != domain.AlertHighErrorRate {
		t.Fatalf("expected error-rate alert, got %+v", active)
	}
	if observer.rejected != 1 || observer.ingested != 0 {
		t.Fatalf("observer saw %+v", observer)
	}
}

func TestAlertDedupCountsOccurrences(t *testing.T) {
	t.Parallel()

	h, manual := newTestHub(t, nil)
	ctx := context.Background()
	if _, err := h.Ingest(ctx, manifestInput("M1", "SEN", "MLI")); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	manual.Advance(time.Minute)
	second, err := h.Ingest(ctx, manifestInput("M2", "CIV", "BFA"))
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if len(second.Alerts) != 0 {
		t.Fatalf("second corridor alert should be suppressed, got %+v", second.Alerts)
	}

	active := h.Alerts(false, 0)
	if len(active) != 1 || active[0].Occurrences != 2 || !active[0].LastSeenAt.Equal(baseTime.Add(time.Minute)) {
		t.Fatalf("unexpected active alerts %+v", active)
	}

	if !h.ClearAlert(domain.AlertNewCorridor) {
		t.Fatalf("clear returned false")
	}
	third, err := h.Ingest(ctx, manifestInput("M3", "BEN", "NER"))
	if err != nil {
		t.Fatalf("third ingest: %v", err)
	}
	if len(third.Alerts) != 1 || third.Alerts[0].Type != domain.AlertNewCorridor {
		t.Fatalf("expected a fresh alert after clear, got %+v", third.Alerts)
	}
	if all := h.Alerts(true, 0); len(all) != 2 {
		t.Fatalf("expected cleared alert kept, got %+v", all)
	}
}

func TestDefaultThresholdsRaiseAggregateAlerts(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub(t, func(opts *Options) { opts.Alerts = alerts.Options{} })
	result, err := h.Ingest(context.Background(), manifestInput("M1", "SEN", "MLI"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	raised := make(map[domain.AlertType]bool)
	for _, alert := range result.Alerts {
		raised[alert.Type] = true
	}
	if !raised[domain.AlertNewCorridor] || !raised[domain.AlertLowActivity] || !raised[domain.AlertFewActiveCorridors] {
		t.Fatalf("unexpected alerts %+v", result.Alerts)
	}
}

func TestDuplicateNumberPolicies(t *testing.T) {
	t.Parallel()

	t.Run("accept", func(t *testing.T) {
		t.Parallel()
		h, _ := newTestHub(t, func(opts *Options) {
			opts.NewID = func() string { return "abcd1234-0000-0000-0000-000000000000" }
		})
		ctx := context.Background()
		if _, err := h.Ingest(ctx, manifestInput("M1", "SEN", "MLI")); err != nil {
			t.Fatalf("first ingest: %v", err)
		}
		again, err := h.Ingest(ctx, manifestInput("M1", "SEN", "MLI"))
		if err != nil {
			t.Fatalf("resubmission: %v", err)
		}
		if again.Operation.ID != "M1-abcd1234" || again.Operation.OperationNumber != "M1" {
			t.Fatalf("unexpected derived id %+v", again.Operation)
		}
		if h.Statistics().TotalOperations != 2 {
			t.Fatalf("resubmission not stored")
		}
	})

	t.Run("reject", func(t *testing.T) {
		t.Parallel()
		h, _ := newTestHub(t, func(opts *Options) { opts.DuplicatePolicy = DuplicateReject })
		ctx := context.Background()
		if _, err := h.Ingest(ctx, manifestInput("M1", "SEN", "MLI")); err != nil {
			t.Fatalf("first ingest: %v", err)
		}
		_, err := h.Ingest(ctx, manifestInput("M1", "SEN", "MLI"))
		verr, ok := domain.AsValidation(err)
		if !ok || verr.Violations[0].Rule != "unique" {
			t.Fatalf("expected unique violation, got %v", err)
		}
		if h.Statistics().TotalOperations != 1 {
			t.Fatalf("duplicate stored")
		}
	})
}

func TestConcurrentIngestKeepsInvariants(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub(t, nil)
	pairs := [][2]string{{"SEN", "MLI"}, {"CIV", "BFA"}, {"BEN", "NER"}, {"TGO", "BFA"}}
	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	for worker := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				pair := pairs[(worker+i)%len(pairs)]
				input := manifestInput(fmt.Sprintf("W%d-%d", worker, i), pair[0], pair[1])
				if _, err := h.Ingest(context.Background(), input); err != nil {
					t.Errorf("ingest: %v", err)
					return
				}
				_ = h.ListOperations(5, query.Filter{})
			}
		}()
	}
	wg.Wait()

	stats := h.Statistics()
	if stats.TotalOperations != workers*perWorker {
		t.Fatalf("total %d, want %d", stats.TotalOperations, workers*perWorker)
	}
	if stats.ActiveCorridors != len(pairs) || stats.ActiveCountries != 7 {
		t.Fatalf("unexpected statistics %+v", stats)
	}
	if _, err := h.Maintain(context.Background()); err != nil {
		t.Fatalf("maintain: %v", err)
	}
}

func TestMaintainExpiresAlertsAndPrunes(t *testing.T) {
	t.Parallel()

	h, manual := newTestHub(t, func(opts *Options) { opts.Retention = 24 * time.Hour })
	if _, err := h.Ingest(context.Background(), manifestInput("M1", "SEN", "MLI")); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	manual.Advance(49 * time.Hour)
	result, err := h.Maintain(context.Background())
	if err != nil {
		t.Fatalf("maintain: %v", err)
	}
	if result.ExpiredAlerts != 1 || result.PrunedSamples != 2 {
		t.Fatalf("unexpected maintenance result %+v", result)
	}
	again, _ := h.Maintain(context.Background())
	if again.ExpiredAlerts != 0 || again.PrunedSamples != 0 {
		t.Fatalf("maintenance not idempotent: %+v", again)
	}
	all := h.Alerts(true, 0)
	if len(all) != 1 || all[0].ClearReason != "expired" {
		t.Fatalf("unexpected alerts after sweep %+v", all)
	}
	if h.Statistics().TotalOperations != 1 {
		t.Fatalf("ledger must not be pruned")
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.Maintain(cancelled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestSnapshotRestoreRebuildsAggregates(t *testing.T) {
	t.Parallel()

	source, _ := newTestHub(t, nil)
	if _, err := source.SeedDemo(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	snapshot := source.Snapshot()
	if len(snapshot.Operations) != 3 || snapshot.Version != domain.SnapshotVersion {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}

	target, _ := newTestHub(t, nil)
	if err := target.Restore(snapshot); err != nil {
		t.Fatalf("restore: %v", err)
	}
	want := source.Statistics()
	got := target.Statistics()
	if got.TotalOperations != want.TotalOperations || got.ActiveCorridors != want.ActiveCorridors || got.TotalVolume != want.TotalVolume {
		t.Fatalf("restored statistics %+v, want %+v", got, want)
	}
	if len(target.Alerts(true, 0)) != len(source.Alerts(true, 0)) {
		t.Fatalf("alerts not restored")
	}
	if target.Performance(24*time.Hour).Operations != 3 {
		t.Fatalf("analytics samples not re-recorded")
	}

	broken := snapshot
	broken.Operations = append([]domain.Operation(nil), snapshot.Operations...)
	broken.Operations = append(broken.Operations, snapshot.Operations[0])
	if err := target.Restore(broken); err == nil {
		t.Fatalf("expected replay failure for duplicate ids")
	}
}

func TestDashboardReportAndExport(t *testing.T) {
	t.Parallel()

	h, manual := newTestHub(t, func(opts *Options) { opts.ExportLimit = 2 })
	if n, err := h.SeedDemo(context.Background()); err != nil || n != 3 {
		t.Fatalf("seed: %d %v", n, err)
	}
	h.RecordBrokerSample(120*time.Millisecond, true)
	manual.Advance(time.Minute)

	board := h.Dashboard(24 * time.Hour)
	if board.Timeframe != "1d" || len(board.RecentOperations) != 3 || board.Performance.Operations != 3 {
		t.Fatalf("unexpected dashboard %+v", board)
	}
	if board.Stages[string(domain.StageTransit)] != 1 || len(board.Corridors) != 1 {
		t.Fatalf("unexpected dashboard windows %+v", board)
	}
	if board.Performance.AverageLatencyMs != 120 {
		t.Fatalf("broker latency not recorded: %+v", board.Performance)
	}

	report := h.SupervisionReport(7 * 24 * time.Hour)
	if report.Period != "7d" || len(report.TopCorridors) != 1 || len(report.Recommendations) == 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	bundle := h.Export()
	if len(bundle.Operations) != 2 || bundle.Operations[0].ID != "UEMOA_TRANSIT_2025_001" {
		t.Fatalf("export not capped newest first: %+v", bundle.Operations)
	}
	if bundle.Statistics.TotalOperations != 3 || len(bundle.Countries) != 8 {
		t.Fatalf("unexpected export bundle %+v", bundle.Statistics)
	}
	if histogram := h.OperationsByType(); histogram["COMPLETION_TRANSIT"] != 1 {
		t.Fatalf("unexpected histogram %+v", histogram)
	}
	if found := h.Search("marco polo", 0); len(found) != 1 {
		t.Fatalf("payload search found %d", len(found))
	}
}

func TestIngestHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	h, _ := newTestHub(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.Ingest(ctx, manifestInput("M1", "SEN", "MLI")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if h.Statistics().TotalOperations != 0 {
		t.Fatalf("cancelled ingest stored an operation")
	}
}

func TestNewValidatesOptions(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error without registry")
	}
	if _, err := New(Options{Registry: registry.MustDefault(), DuplicatePolicy: "merge"}); err == nil {
		t.Fatalf("expected error for unknown duplicate policy")
	}
}
