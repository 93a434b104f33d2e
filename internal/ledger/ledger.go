package ledger

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"tracehub/internal/domain"
	"tracehub/internal/registry"
)

// DefaultVolumeFields lists payload fields read as declared commercial value, in priority order.
var DefaultVolumeFields = []string{"valeurTotaleEstimee", "valeur_approximative", "valeur_totale_caf", "value"}

const dayLayout = "2006-01-02"

// Change describes what one Record call did to the aggregates.
// Params: corridor after update, whether it was created, and the declared volume.
// Returns: input for per-operation alert rules.
type Change struct {
	Corridor    domain.Corridor
	NewCorridor bool
	Volume      float64
	HasVolume   bool
}

// Ledger holds recorded operations and every derived aggregate.
// Params: registry for country seeding and declared-value field list.
// Returns: store that is not safe for concurrent use; the owner serializes access.
type Ledger struct {
	registry     *registry.Registry
	volumeFields []string

	ops     map[string]*domain.Operation
	order   []*domain.Operation
	numbers map[string]int

	corridors map[string]*domain.Corridor
	countries map[string]*domain.CountryActivity
	active    map[string]struct{}

	stageTotals map[domain.WorkflowStage]int64
	totalVolume float64
	todayKey    string
	todayCount  int64
	lastUpdated time.Time
}

// New creates an empty ledger with every registry member seeded.
// Params: registry and declared-value fields (nil uses DefaultVolumeFields).
// Returns: ledger.
func New(reg *registry.Registry, volumeFields []string) *Ledger {
	if len(volumeFields) == 0 {
		volumeFields = DefaultVolumeFields
	}
	l := &Ledger{registry: reg, volumeFields: slices.Clone(volumeFields)}
	l.Reset()
	return l
}

// Reset drops every operation and reseeds the aggregates.
// Params: none.
// Returns: nothing.
func (l *Ledger) Reset() {
	l.ops = make(map[string]*domain.Operation)
	l.order = nil
	l.numbers = make(map[string]int)
	l.corridors = make(map[string]*domain.Corridor)
	l.countries = make(map[string]*domain.CountryActivity, l.registry.Size())
	for _, country := range l.registry.Countries() {
		l.countries[country.Code] = &domain.CountryActivity{
			Country:     country,
			StageCounts: make(map[domain.WorkflowStage]int64),
		}
	}
	l.active = make(map[string]struct{})
	l.stageTotals = make(map[domain.WorkflowStage]int64)
	l.totalVolume = 0
	l.todayKey = ""
	l.todayCount = 0
	l.lastUpdated = time.Time{}
}

// Record stores an operation and updates stats, corridor and both country aggregates together.
// Params: fully built operation (id, stage and timestamp assigned).
// Returns: change summary, or an error before any mutation when preconditions fail.
func (l *Ledger) Record(op domain.Operation) (Change, error) {
	switch {
	case op.ID == "":
		return Change{}, fmt.Errorf("record operation: empty id")
	case op.OriginCountry == "" || op.DestinationCountry == "":
		return Change{}, fmt.Errorf("record operation %s: missing country", op.ID)
	case op.WorkflowStage == "":
		return Change{}, fmt.Errorf("record operation %s: missing workflow stage", op.ID)
	case op.RecordedAt.IsZero():
		return Change{}, fmt.Errorf("record operation %s: missing timestamp", op.ID)
	}
	if _, exists := l.ops[op.ID]; exists {
		return Change{}, fmt.Errorf("record operation %s: id already stored", op.ID)
	}

	// Nothing below can fail.
	stored := op.Clone()
	l.ops[stored.ID] = &stored
	l.order = append(l.order, &stored)
	l.numbers[stored.OperationNumber]++

	volume, hasVolume := stored.Payload.FirstNumber(l.volumeFields)
	at := stored.RecordedAt

	l.stageTotals[stored.WorkflowStage]++
	if hasVolume {
		l.totalVolume += volume
	}
	day := at.UTC().Format(dayLayout)
	if day > l.todayKey {
		l.todayKey = day
		l.todayCount = 0
	}
	if day == l.todayKey {
		l.todayCount++
	}
	if at.After(l.lastUpdated) {
		l.lastUpdated = at
	}
	l.active[stored.OriginCountry] = struct{}{}
	l.active[stored.DestinationCountry] = struct{}{}

	corridor, created := l.touchCorridor(stored, volume, hasVolume)
	l.touchCountry(stored.OriginCountry, stored, volume, hasVolume, true)
	l.touchCountry(stored.DestinationCountry, stored, volume, hasVolume, false)

	return Change{Corridor: corridor.Clone(), NewCorridor: created, Volume: volume, HasVolume: hasVolume}, nil
}

// touchCorridor creates or updates the corridor of an operation.
// Params: stored operation and its declared volume.
// Returns: corridor pointer and creation flag.
func (l *Ledger) touchCorridor(op domain.Operation, volume float64, hasVolume bool) (*domain.Corridor, bool) {
	key := op.CorridorKey()
	corridor, ok := l.corridors[key]
	if !ok {
		corridor = &domain.Corridor{
			ID:          key,
			Origin:      op.OriginCountry,
			Destination: op.DestinationCountry,
			StageCounts: make(map[domain.WorkflowStage]int64),
			FirstSeen:   op.RecordedAt,
		}
		l.corridors[key] = corridor
	}
	corridor.OperationCount++
	corridor.StageCounts[op.WorkflowStage]++
	if hasVolume {
		corridor.Volume += volume
	}
	if op.RecordedAt.After(corridor.LastSeen) {
		corridor.LastSeen = op.RecordedAt
	}
	if index, found := slices.BinarySearch(corridor.OperationTypes, op.OperationType); !found {
		corridor.OperationTypes = slices.Insert(corridor.OperationTypes, index, op.OperationType)
	}
	return corridor, !ok
}

// touchCountry updates one side of the operation on its country aggregate.
// Params: code, operation, volume and whether the country is the sender.
// Returns: nothing; non-members are tracked only in the active set.
func (l *Ledger) touchCountry(code string, op domain.Operation, volume float64, hasVolume, sender bool) {
	activity, ok := l.countries[code]
	if !ok {
		return
	}
	if sender {
		activity.OperationsSent++
		if hasVolume {
			activity.VolumeSent += volume
		}
	} else {
		activity.OperationsReceived++
		if hasVolume {
			activity.VolumeReceived += volume
		}
	}
	// A domestic operation touches the same country twice; its stage is counted once.
	if sender || op.OriginCountry != op.DestinationCountry {
		activity.StageCounts[op.WorkflowStage]++
	}
	if activity.LastActivity == nil || op.RecordedAt.After(*activity.LastActivity) {
		at := op.RecordedAt
		activity.LastActivity = &at
	}
}

// Get returns the stored operation pointer; callers must not mutate it.
// Params: operation id.
// Returns: operation and presence flag.
func (l *Ledger) Get(id string) (*domain.Operation, bool) {
	op, ok := l.ops[id]
	return op, ok
}

// Has reports whether an id is stored.
// Params: operation id.
// Returns: presence flag.
func (l *Ledger) Has(id string) bool {
	_, ok := l.ops[id]
	return ok
}

// NumberCount returns how many stored operations carry a business number.
// Params: operation number.
// Returns: count.
func (l *Ledger) NumberCount(number string) int {
	return l.numbers[number]
}

// Len returns the number of stored operations.
// Params: none.
// Returns: count.
func (l *Ledger) Len() int {
	return len(l.order)
}

// Operations returns stored operation pointers in insertion order.
// Params: none.
// Returns: new slice sharing immutable operations.
func (l *Ledger) Operations() []*domain.Operation {
	return slices.Clone(l.order)
}

// Stats returns the global statistics as seen at now.
// Params: current time for the today counter.
// Returns: statistics value.
func (l *Ledger) Stats(now time.Time) domain.GlobalStats {
	stats := domain.GlobalStats{
		TotalOperations:       int64(len(l.order)),
		ActiveCountries:       len(l.active),
		ActiveCorridors:       len(l.corridors),
		StageTotals:           maps.Clone(l.stageTotals),
		FreePracticeWorkflows: l.stageTotals[domain.StageFreePractice],
		TransitWorkflows:      l.stageTotals[domain.StageTransit],
		TotalVolume:           l.totalVolume,
	}
	if l.todayKey != "" && now.UTC().Format(dayLayout) == l.todayKey {
		stats.OperationsToday = l.todayCount
	}
	if !l.lastUpdated.IsZero() {
		last := l.lastUpdated
		stats.LastUpdated = &last
	}
	return stats
}

// Corridors returns copies of every corridor in key order.
// Params: none.
// Returns: corridor list.
func (l *Ledger) Corridors() []domain.Corridor {
	out := make([]domain.Corridor, 0, len(l.corridors))
	for _, key := range slices.Sorted(maps.Keys(l.corridors)) {
		out = append(out, l.corridors[key].Clone())
	}
	return out
}

// CorridorCount returns the number of corridors.
// Params: none.
// Returns: count.
func (l *Ledger) CorridorCount() int {
	return len(l.corridors)
}

// DeclaredVolume reads the declared commercial value of an operation.
// Params: operation.
// Returns: first numeric volume field, or 0.
func (l *Ledger) DeclaredVolume(op domain.Operation) float64 {
	volume, _ := op.Payload.FirstNumber(l.volumeFields)
	return volume
}

// Corridor returns one corridor copy.
// Params: ORIGIN-DESTINATION key.
// Returns: corridor and presence flag.
func (l *Ledger) Corridor(key string) (domain.Corridor, bool) {
	corridor, ok := l.corridors[key]
	if !ok {
		return domain.Corridor{}, false
	}
	return corridor.Clone(), true
}

// Countries returns copies of every member aggregate in registry order.
// Params: none.
// Returns: list whose length equals the registry size.
func (l *Ledger) Countries() []domain.CountryActivity {
	out := make([]domain.CountryActivity, 0, len(l.countries))
	for _, code := range l.registry.Codes() {
		out = append(out, l.countries[code].Clone())
	}
	return out
}

// ActiveCountryCodes returns the sorted set of countries seen on any operation.
// Params: none.
// Returns: code list.
func (l *Ledger) ActiveCountryCodes() []string {
	return slices.Sorted(maps.Keys(l.active))
}

// SupervisedVolume returns the sum of declared values across all operations.
// Params: none.
// Returns: total volume.
func (l *Ledger) SupervisedVolume() float64 {
	return l.totalVolume
}

// CheckInvariants recomputes the aggregates from the stored operations and compares.
// Params: none.
// Returns: wrapped ErrAggregateInconsistency on mismatch.
func (l *Ledger) CheckInvariants() error {
	if len(l.ops) != len(l.order) {
		return fmt.Errorf("%w: index holds %d operations, order holds %d", domain.ErrAggregateInconsistency, len(l.ops), len(l.order))
	}
	seen := make(map[string]struct{})
	var corridorTotal, sent, received, memberSides int64
	for _, op := range l.order {
		seen[op.OriginCountry] = struct{}{}
		seen[op.DestinationCountry] = struct{}{}
		if l.registry.Contains(op.OriginCountry) {
			memberSides++
		}
		if l.registry.Contains(op.DestinationCountry) {
			memberSides++
		}
	}
	if len(seen) != len(l.active) {
		return fmt.Errorf("%w: %d active countries recorded, %d observed", domain.ErrAggregateInconsistency, len(l.active), len(seen))
	}
	for _, corridor := range l.corridors {
		corridorTotal += corridor.OperationCount
	}
	if corridorTotal != int64(len(l.order)) {
		return fmt.Errorf("%w: corridors count %d operations, store holds %d", domain.ErrAggregateInconsistency, corridorTotal, len(l.order))
	}
	for _, activity := range l.countries {
		sent += activity.OperationsSent
		received += activity.OperationsReceived
	}
	if sent+received != memberSides {
		return fmt.Errorf("%w: country aggregates count %d sides, operations imply %d", domain.ErrAggregateInconsistency, sent+received, memberSides)
	}
	return nil
}

// Replay rebuilds the ledger from operations in insertion order.
// Params: operations from a snapshot.
// Returns: error if any operation cannot be recorded; the ledger is reset on failure.
func (l *Ledger) Replay(ops []domain.Operation) error {
	l.Reset()
	for _, op := range ops {
		if _, err := l.Record(op); err != nil {
			l.Reset()
			return fmt.Errorf("replay: %w", err)
		}
	}
	return nil
}
