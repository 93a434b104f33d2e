package hub

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tracehub/internal/alerts"
	"tracehub/internal/analytics"
	"tracehub/internal/clock"
	"tracehub/internal/domain"
	"tracehub/internal/ledger"
	"tracehub/internal/query"
	"tracehub/internal/registry"
	"tracehub/internal/validate"
	"tracehub/internal/workflow"
)

// DuplicatePolicy decides what happens when an operation number is reused.
type DuplicatePolicy string

const (
	// DuplicateAccept stores the resubmission as a distinct operation with a derived id.
	DuplicateAccept DuplicatePolicy = "accept"
	// DuplicateReject refuses the resubmission with a validation error.
	DuplicateReject DuplicatePolicy = "reject"
)

// Observer receives hub events for metrics; every method must be cheap and non-blocking.
type Observer interface {
	ObserveIngest(stage domain.WorkflowStage, elapsed time.Duration)
	ObserveRejected(violations int)
	ObserveAlerts(raised []domain.Alert)
	ObserveState(stats domain.GlobalStats, activeAlerts int)
	ObserveBrokerSample(latency time.Duration, ok bool)
}

// AlertNotifier forwards raised alerts; Notify must not block on I/O.
type AlertNotifier interface {
	Notify(raised []domain.Alert)
}

// Options wires a Hub.
// Params: registry, validator, engine settings, policies and collaborators.
// Returns: hub settings.
type Options struct {
	Registry        *registry.Registry
	Validator       *validate.Validator
	VolumeFields    []string
	Alerts          alerts.Options
	Retention       time.Duration
	TrendThresholds query.TrendThresholds
	DuplicatePolicy DuplicatePolicy
	ExportLimit     int
	Debug           bool
	Clock           clock.Clock
	Logger          *slog.Logger
	Observer        Observer
	Notifier        AlertNotifier
	NewID           func() string
}

// IngestResult is returned for every stored operation.
type IngestResult struct {
	Operation  domain.Operation   `json:"operation"`
	Statistics domain.GlobalStats `json:"statistics"`
	Alerts     []domain.Alert     `json:"alerts,omitempty"`
}

// BatchItem is the outcome of one batch entry.
type BatchItem struct {
	Index  int           `json:"index"`
	Result *IngestResult `json:"result,omitempty"`
	Err    error         `json:"-"`
}

// Hub owns the ledger, the alert engine and the accumulator behind one lock.
// Params: built by New.
// Returns: service object shared by request handlers and background loops.
type Hub struct {
	mu sync.RWMutex

	registry  *registry.Registry
	validator *validate.Validator
	ledger    *ledger.Ledger
	alerts    *alerts.Engine
	analytics *analytics.Accumulator

	trend       query.TrendThresholds
	duplicates  DuplicatePolicy
	exportLimit int
	debug       bool
	clock       clock.Clock
	logger      *slog.Logger
	observer    Observer
	notifier    AlertNotifier
	newID       func() string
}

// New builds a hub from options.
// Params: options; registry is required, the rest has defaults.
// Returns: hub or configuration error.
func New(opts Options) (*Hub, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("hub needs a registry")
	}
	if opts.Validator == nil {
		validator, err := validate.New(validate.Options{Registry: opts.Registry, Strict: true, PayloadRules: validate.DefaultPayloadRules()})
		if err != nil {
			return nil, err
		}
		opts.Validator = validator
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Alerts.Logger == nil {
		opts.Alerts.Logger = opts.Logger
	}
	if opts.Alerts.Thresholds == (alerts.Thresholds{}) {
		opts.Alerts.Thresholds = alerts.DefaultThresholds()
	}
	if opts.TrendThresholds == (query.TrendThresholds{}) {
		opts.TrendThresholds = query.DefaultTrendThresholds()
	}
	switch opts.DuplicatePolicy {
	case "":
		opts.DuplicatePolicy = DuplicateAccept
	case DuplicateAccept, DuplicateReject:
	default:
		return nil, fmt.Errorf("unsupported duplicate policy %q", opts.DuplicatePolicy)
	}
	if opts.ExportLimit <= 0 {
		opts.ExportLimit = 1000
	}

	return &Hub{
		registry:    opts.Registry,
		validator:   opts.Validator,
		ledger:      ledger.New(opts.Registry, opts.VolumeFields),
		alerts:      alerts.New(opts.Alerts),
		analytics:   analytics.New(opts.Retention),
		trend:       opts.TrendThresholds,
		duplicates:  opts.DuplicatePolicy,
		exportLimit: opts.ExportLimit,
		debug:       opts.Debug,
		clock:       opts.Clock,
		logger:      opts.Logger,
		observer:    opts.Observer,
		notifier:    opts.Notifier,
		newID:       opts.NewID,
	}, nil
}

// Registry returns the member registry.
// Params: none.
// Returns: immutable registry.
func (h *Hub) Registry() *registry.Registry {
	return h.registry
}

// Ingest validates, classifies and records one operation with all aggregates in one critical section.
// Params: context (checked before taking the lock) and raw input.
// Returns: stored operation with refreshed stats and raised alerts, or a ValidationError.
func (h *Hub) Ingest(ctx context.Context, input domain.OperationInput) (IngestResult, error) {
	if err := ctx.Err(); err != nil {
		return IngestResult{}, err
	}
	started := time.Now()

	prepared, err := h.validator.Prepare(input)
	if err != nil {
		h.reject(err)
		return IngestResult{}, err
	}
	stage := workflow.Classify(prepared.OperationType)

	result, raised, err := h.commit(prepared, stage)
	if err != nil {
		h.reject(err)
		return IngestResult{}, err
	}

	h.logger.Debug("operation recorded",
		"id", result.Operation.ID,
		"type", result.Operation.OperationType,
		"corridor", result.Operation.CorridorKey(),
		"stage", string(stage),
	)
	h.publish(raised)
	if h.observer != nil {
		h.observer.ObserveIngest(stage, time.Since(started))
	}
	result.Alerts = raised
	return result, nil
}

// commit runs the write section of one ingestion.
// Params: validated input and its stage.
// Returns: result, raised alerts, or a ValidationError for a rejected duplicate.
func (h *Hub) commit(prepared domain.OperationInput, stage domain.WorkflowStage) (IngestResult, []domain.Alert, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	id, err := h.assignIDLocked(prepared.OperationNumber)
	if err != nil {
		return IngestResult{}, nil, err
	}
	op := domain.Operation{
		ID:                 id,
		OperationType:      prepared.OperationType,
		OperationNumber:    prepared.OperationNumber,
		OriginCountry:      prepared.OriginCountry,
		DestinationCountry: prepared.DestinationCountry,
		Payload:            prepared.Payload,
		WorkflowStage:      stage,
		RecordedAt:         now,
		Status:             domain.StatusTraced,
		Provenance:         prepared.Provenance,
	}
	change, err := h.ledger.Record(op)
	if err != nil {
		// Preconditions are guaranteed by validation and id assignment.
		h.inconsistent(err)
		return IngestResult{}, nil, fmt.Errorf("%w: %v", domain.ErrAggregateInconsistency, err)
	}
	if h.debug {
		if err := h.ledger.CheckInvariants(); err != nil {
			h.inconsistent(err)
		}
	}

	raised := h.alerts.Evaluate(alerts.Observation{
		Operation:   op,
		NewCorridor: change.NewCorridor,
		Volume:      change.Volume,
		HasVolume:   change.HasVolume,
	}, now)
	meta := operationMetadata(op)
	h.analytics.Record(analytics.SampleOperation, change.Volume, meta, now)
	raised = append(raised, h.alerts.EvaluateAggregates(h.aggregateSnapshotLocked(now), now)...)

	stored, _ := h.ledger.Get(id)
	stats := h.ledger.Stats(now)
	if h.observer != nil {
		h.observer.ObserveState(stats, h.alerts.ActiveCount())
	}
	return IngestResult{Operation: stored.Clone(), Statistics: stats}, raised, nil
}

// assignIDLocked derives the operation id from its number.
// Params: operation number.
// Returns: unique id, or a ValidationError under the reject policy.
func (h *Hub) assignIDLocked(number string) (string, error) {
	if h.ledger.NumberCount(number) > 0 && h.duplicates == DuplicateReject {
		verr := &domain.ValidationError{}
		verr.Add("operationNumber", "unique", fmt.Sprintf("operation number %q is already recorded", number))
		return "", verr
	}
	if number != "" && !h.ledger.Has(number) {
		return number, nil
	}
	for {
		suffix, _, _ := strings.Cut(h.newID(), "-")
		candidate := suffix
		if number != "" {
			candidate = number + "-" + suffix
		}
		if !h.ledger.Has(candidate) {
			return candidate, nil
		}
	}
}

// reject records a failed submission as an error sample.
// Params: validation (or other) error.
// Returns: nothing.
func (h *Hub) reject(err error) {
	violations := 1
	if verr, ok := domain.AsValidation(err); ok {
		violations = len(verr.Violations)
	}
	h.logger.Info("operation rejected", "error", err.Error())

	h.mu.Lock()
	now := h.clock.Now()
	h.analytics.Record(analytics.SampleError, 1, map[string]string{"reason": "validation"}, now)
	raised := h.alerts.EvaluateAggregates(h.aggregateSnapshotLocked(now), now)
	h.mu.Unlock()

	h.publish(raised)
	if h.observer != nil {
		h.observer.ObserveRejected(violations)
	}
}

// inconsistent reports a broken aggregate invariant.
// Params: invariant error.
// Returns: nothing; panics in debug mode.
func (h *Hub) inconsistent(err error) {
	h.logger.Error("aggregate inconsistency", "error", err.Error())
	if h.debug {
		panic(err)
	}
}

// IngestBatch ingests items one by one.
// Params: context and inputs.
// Returns: one item per input in order.
func (h *Hub) IngestBatch(ctx context.Context, inputs []domain.OperationInput) []BatchItem {
	items := make([]BatchItem, 0, len(inputs))
	for index, input := range inputs {
		result, err := h.Ingest(ctx, input)
		item := BatchItem{Index: index, Err: err}
		if err == nil {
			item.Result = &result
		}
		items = append(items, item)
	}
	return items
}

// RecordSample feeds the accumulator and re-evaluates aggregate rules.
// Params: sample type, value and metadata.
// Returns: nothing.
func (h *Hub) RecordSample(sampleType analytics.SampleType, value float64, metadata map[string]string) {
	h.mu.Lock()
	now := h.clock.Now()
	h.analytics.Record(sampleType, value, metadata, now)
	raised := h.alerts.EvaluateAggregates(h.aggregateSnapshotLocked(now), now)
	h.mu.Unlock()

	h.publish(raised)
}

// RecordBrokerSample stores an externally observed broker exchange.
// Params: measured latency and success flag.
// Returns: nothing.
func (h *Hub) RecordBrokerSample(latency time.Duration, ok bool) {
	outcome := analytics.SampleSuccess
	if !ok {
		outcome = analytics.SampleError
	}
	meta := map[string]string{"source": "broker"}

	h.mu.Lock()
	now := h.clock.Now()
	h.analytics.Record(analytics.SampleLatency, float64(latency.Milliseconds()), meta, now)
	h.analytics.Record(outcome, 1, meta, now)
	raised := h.alerts.EvaluateAggregates(h.aggregateSnapshotLocked(now), now)
	h.mu.Unlock()

	h.publish(raised)
	if h.observer != nil {
		h.observer.ObserveBrokerSample(latency, ok)
	}
}

// MaintenanceResult reports one maintenance pass.
type MaintenanceResult struct {
	PrunedSamples int
	ExpiredAlerts int
	DroppedAlerts int
	Raised        int
}

// Maintain prunes history, sweeps alerts, re-evaluates aggregate rules and checks invariants.
// Params: context checked before taking the lock.
// Returns: pass counters; calling again at the same instant prunes nothing more.
func (h *Hub) Maintain(ctx context.Context) (MaintenanceResult, error) {
	if err := ctx.Err(); err != nil {
		return MaintenanceResult{}, err
	}
	h.mu.Lock()
	now := h.clock.Now()
	pruned := h.analytics.Prune(now)
	sweep := h.alerts.Sweep(now)
	raised := h.alerts.EvaluateAggregates(h.aggregateSnapshotLocked(now), now)
	invariantErr := h.ledger.CheckInvariants()
	stats := h.ledger.Stats(now)
	active := h.alerts.ActiveCount()
	h.mu.Unlock()

	if invariantErr != nil {
		h.inconsistent(invariantErr)
	}
	h.publish(raised)
	if h.observer != nil {
		h.observer.ObserveState(stats, active)
	}
	return MaintenanceResult{
		PrunedSamples: pruned,
		ExpiredAlerts: sweep.Expired,
		DroppedAlerts: sweep.Dropped,
		Raised:        len(raised),
	}, nil
}

// ClearAlert acknowledges the active alert of a type.
// Params: alert type.
// Returns: true when an alert was cleared.
func (h *Hub) ClearAlert(alertType domain.AlertType) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alerts.Clear(alertType, h.clock.Now())
}

// Snapshot copies the persisted state under the read lock.
// Params: none.
// Returns: snapshot with operations in insertion order.
func (h *Hub) Snapshot() domain.Snapshot {
	h.mu.RLock()
	ops := h.ledger.Operations()
	alertList := h.alerts.Export()
	samples := h.analytics.Outcomes()
	now := h.clock.Now()
	h.mu.RUnlock()

	out := make([]domain.Operation, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.Clone())
	}
	var outcomes []domain.OutcomeSample
	for _, sample := range samples {
		outcomes = append(outcomes, domain.OutcomeSample{
			Type:      string(sample.Type),
			Value:     sample.Value,
			Timestamp: sample.Timestamp,
			Metadata:  sample.Metadata,
		})
	}
	return domain.Snapshot{Version: domain.SnapshotVersion, TakenAt: now, Operations: out, Alerts: alertList, Outcomes: outcomes}
}

// Restore replaces all state with a snapshot by replaying its operations and outcome samples.
// Params: snapshot.
// Returns: replay error; state is empty when replay fails.
func (h *Hub) Restore(snapshot domain.Snapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.ledger.Replay(snapshot.Operations); err != nil {
		return err
	}
	h.alerts.Restore(snapshot.Alerts)
	h.analytics = analytics.New(h.analytics.Retention())
	now := h.clock.Now()
	for _, op := range snapshot.Operations {
		if now.Sub(op.RecordedAt) <= h.analytics.Retention() {
			h.analytics.Record(analytics.SampleOperation, h.ledger.DeclaredVolume(op), operationMetadata(op), op.RecordedAt)
		}
	}
	for _, sample := range snapshot.Outcomes {
		sampleType := analytics.SampleType(sample.Type)
		if sampleType == analytics.SampleOperation || now.Sub(sample.Timestamp) > h.analytics.Retention() {
			continue
		}
		h.analytics.Record(sampleType, sample.Value, sample.Metadata, sample.Timestamp)
	}
	h.logger.Info("state restored", "operations", len(snapshot.Operations), "alerts", len(snapshot.Alerts))
	return nil
}

// aggregateSnapshotLocked gathers the figures aggregate rules read; caller holds the lock.
func (h *Hub) aggregateSnapshotLocked(now time.Time) alerts.AggregateSnapshot {
	counters := h.analytics.Counters()
	return alerts.AggregateSnapshot{
		ErrorRate:        h.analytics.ErrorRate(),
		Outcomes:         counters.Successes + counters.Errors,
		AverageLatencyMs: h.analytics.AverageLatency(),
		LatencySamples:   counters.LatencyCount,
		OperationsToday:  h.analytics.OperationsOn(now),
		SupervisedVolume: h.ledger.SupervisedVolume(),
		ActiveCorridors:  h.ledger.CorridorCount(),
		TotalOperations:  int64(h.ledger.Len()),
	}
}

// publish hands raised alerts to the notifier and observer outside the lock.
func (h *Hub) publish(raised []domain.Alert) {
	if len(raised) == 0 {
		return
	}
	for _, alert := range raised {
		h.logger.Info("alert raised", "type", string(alert.Type), "level", string(alert.Level), "message", alert.Message)
	}
	if h.observer != nil {
		h.observer.ObserveAlerts(raised)
	}
	if h.notifier != nil {
		h.notifier.Notify(raised)
	}
}

func operationMetadata(op domain.Operation) map[string]string {
	return map[string]string{
		analytics.MetaStage:       string(op.WorkflowStage),
		analytics.MetaCorridor:    op.CorridorKey(),
		analytics.MetaOrigin:      op.OriginCountry,
		analytics.MetaDestination: op.DestinationCountry,
		analytics.MetaType:        op.OperationType,
	}
}
