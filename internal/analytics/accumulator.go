package analytics

import (
	"maps"
	"slices"
	"time"
)

// SampleType classifies one analytics sample.
type SampleType string

const (
	// SampleOperation is one successfully ingested operation; Value is its declared volume.
	SampleOperation SampleType = "operation"
	// SampleSuccess is a successful external exchange (broker ping, delivery).
	SampleSuccess SampleType = "success"
	// SampleError is a failed exchange or a rejected record.
	SampleError SampleType = "error"
	// SampleLatency is an observed latency in milliseconds.
	SampleLatency SampleType = "latency"
)

// Metadata keys set on operation samples.
const (
	MetaStage       = "stage"
	MetaCorridor    = "corridor"
	MetaOrigin      = "origin"
	MetaDestination = "destination"
	MetaType        = "type"
)

// Sample is one point of the rolling history.
// Params: type, numeric value, timestamp and string metadata.
// Returns: history entry.
type Sample struct {
	Type      SampleType        `json:"type"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Counters are the running tallies over the retained window.
type Counters struct {
	Successes    int64   `json:"successes"`
	Errors       int64   `json:"errors"`
	LatencySum   float64 `json:"latencySumMs"`
	LatencyCount int64   `json:"latencyCount"`
	Volume       float64 `json:"volume"`
}

// Performance groups the derived rates for a window.
type Performance struct {
	SuccessRate       float64 `json:"successRate"`
	ErrorRate         float64 `json:"errorRate"`
	AverageLatencyMs  float64 `json:"averageLatencyMs"`
	Operations        int     `json:"operations"`
	ThroughputPerHour float64 `json:"throughputPerHour"`
}

// CorridorWindow is corridor activity within a window.
type CorridorWindow struct {
	Corridor   string  `json:"corridor"`
	Operations int     `json:"operations"`
	Volume     float64 `json:"volume"`
}

// CountryWindow is country activity within a window.
type CountryWindow struct {
	Code     string `json:"code"`
	Sent     int    `json:"sent"`
	Received int    `json:"received"`
}

// Accumulator keeps a rolling sample history with running counters.
// Params: retention window.
// Returns: accumulator that is not safe for concurrent use; the owner serializes access.
type Accumulator struct {
	retention time.Duration
	history   []Sample
	counters  Counters
}

// New creates an accumulator.
// Params: retention window; non-positive values fall back to seven days.
// Returns: empty accumulator.
func New(retention time.Duration) *Accumulator {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Accumulator{retention: retention}
}

// Record appends a sample and updates the running counters.
// Params: sample type, value, metadata and observation time.
// Returns: nothing.
func (a *Accumulator) Record(sampleType SampleType, value float64, metadata map[string]string, at time.Time) {
	sample := Sample{Type: sampleType, Value: value, Timestamp: at, Metadata: maps.Clone(metadata)}
	a.history = append(a.history, sample)
	a.apply(sample, 1)
}

// apply adds (sign=1) or removes (sign=-1) one sample from the counters.
func (a *Accumulator) apply(sample Sample, sign int64) {
	a.counters.add(sample, sign)
}

// add folds one sample into the tallies; an operation sample is the success outcome of its ingestion.
func (c *Counters) add(sample Sample, sign int64) {
	switch sample.Type {
	case SampleOperation:
		c.Successes += sign
		c.Volume += float64(sign) * sample.Value
	case SampleSuccess:
		c.Successes += sign
	case SampleError:
		c.Errors += sign
	case SampleLatency:
		c.LatencySum += float64(sign) * sample.Value
		c.LatencyCount += sign
	}
}

func (c Counters) successRate() float64 {
	total := c.Successes + c.Errors
	if total <= 0 {
		return 100
	}
	return float64(c.Successes) / float64(total) * 100
}

func (c Counters) errorRate() float64 {
	total := c.Successes + c.Errors
	if total <= 0 {
		return 0
	}
	return float64(c.Errors) / float64(total)
}

func (c Counters) averageLatency() float64 {
	if c.LatencyCount <= 0 {
		return 0
	}
	return c.LatencySum / float64(c.LatencyCount)
}

// Prune drops samples older than the retention window and subtracts them from the counters.
// Params: current time.
// Returns: number of dropped samples; calling twice with the same time drops nothing more.
func (a *Accumulator) Prune(now time.Time) int {
	cutoff := now.Add(-a.retention)
	kept := a.history[:0]
	dropped := 0
	for _, sample := range a.history {
		if sample.Timestamp.Before(cutoff) {
			a.apply(sample, -1)
			dropped++
			continue
		}
		kept = append(kept, sample)
	}
	clear(a.history[len(kept):])
	a.history = kept
	if len(a.history) == 0 {
		a.counters = Counters{}
	}
	return dropped
}

// Outcomes returns copies of every retained sample that is not an operation.
// Params: none.
// Returns: samples in recording order.
func (a *Accumulator) Outcomes() []Sample {
	var out []Sample
	for _, sample := range a.history {
		if sample.Type == SampleOperation {
			continue
		}
		sample.Metadata = maps.Clone(sample.Metadata)
		out = append(out, sample)
	}
	return out
}

// Counters returns the running tallies.
// Params: none.
// Returns: counters copy.
func (a *Accumulator) Counters() Counters {
	return a.counters
}

// Len returns the history size.
// Params: none.
// Returns: sample count.
func (a *Accumulator) Len() int {
	return len(a.history)
}

// Retention returns the configured window.
// Params: none.
// Returns: retention duration.
func (a *Accumulator) Retention() time.Duration {
	return a.retention
}

// SuccessRate returns successes as a percentage of all outcomes in the retention window.
// Params: none.
// Returns: 0..100, or 100 when no outcome was recorded.
func (a *Accumulator) SuccessRate() float64 {
	return a.counters.successRate()
}

// ErrorRate returns errors as a fraction of all outcomes in the retention window.
// Params: none.
// Returns: 0..1, or 0 when no outcome was recorded.
func (a *Accumulator) ErrorRate() float64 {
	return a.counters.errorRate()
}

// AverageLatency returns the mean latency in milliseconds.
// Params: none.
// Returns: mean, or 0 without latency samples.
func (a *Accumulator) AverageLatency() float64 {
	return a.counters.averageLatency()
}

// Throughput returns operations per hour over the trailing period.
// Params: current time and period.
// Returns: rate per hour, or 0 for a non-positive period.
func (a *Accumulator) Throughput(now time.Time, period time.Duration) float64 {
	if period <= 0 {
		return 0
	}
	return float64(a.OperationsIn(now, period)) / period.Hours()
}

// OperationsIn counts operation samples in the trailing period.
// Params: current time and period.
// Returns: count.
func (a *Accumulator) OperationsIn(now time.Time, period time.Duration) int {
	count := 0
	a.each(now, period, SampleOperation, func(Sample) { count++ })
	return count
}

// OperationsOn counts operation samples on the UTC calendar day of now.
// Params: current time.
// Returns: count.
func (a *Accumulator) OperationsOn(now time.Time) int {
	day := now.UTC().Format("2006-01-02")
	count := 0
	for _, sample := range a.history {
		if sample.Type == SampleOperation && sample.Timestamp.UTC().Format("2006-01-02") == day {
			count++
		}
	}
	return count
}

// Performance derives all rates for the trailing period.
// Params: current time and period.
// Returns: performance figures, every one computed over (now-period, now].
func (a *Accumulator) Performance(now time.Time, period time.Duration) Performance {
	var window Counters
	operations := 0
	since := now.Add(-period)
	for _, sample := range a.history {
		if !sample.Timestamp.After(since) || sample.Timestamp.After(now) {
			continue
		}
		window.add(sample, 1)
		if sample.Type == SampleOperation {
			operations++
		}
	}
	performance := Performance{
		SuccessRate:      window.successRate(),
		ErrorRate:        window.errorRate(),
		AverageLatencyMs: window.averageLatency(),
		Operations:       operations,
	}
	if period > 0 {
		performance.ThroughputPerHour = float64(operations) / period.Hours()
	}
	return performance
}

// StageBreakdown counts operation samples per stage in the trailing period.
// Params: current time and period.
// Returns: stage → count.
func (a *Accumulator) StageBreakdown(now time.Time, period time.Duration) map[string]int {
	out := make(map[string]int)
	a.each(now, period, SampleOperation, func(sample Sample) {
		out[sample.Metadata[MetaStage]]++
	})
	return out
}

// CorridorActivity aggregates operation samples per corridor in the trailing period.
// Params: current time and period.
// Returns: corridors by operations descending, then key.
func (a *Accumulator) CorridorActivity(now time.Time, period time.Duration) []CorridorWindow {
	byKey := make(map[string]*CorridorWindow)
	a.each(now, period, SampleOperation, func(sample Sample) {
		key := sample.Metadata[MetaCorridor]
		if key == "" {
			return
		}
		window, ok := byKey[key]
		if !ok {
			window = &CorridorWindow{Corridor: key}
			byKey[key] = window
		}
		window.Operations++
		window.Volume += sample.Value
	})
	out := make([]CorridorWindow, 0, len(byKey))
	for _, window := range byKey {
		out = append(out, *window)
	}
	slices.SortFunc(out, func(x, y CorridorWindow) int {
		if x.Operations != y.Operations {
			return y.Operations - x.Operations
		}
		if x.Corridor < y.Corridor {
			return -1
		}
		if x.Corridor > y.Corridor {
			return 1
		}
		return 0
	})
	return out
}

// CountryActivity counts sent/received operation samples per country in the trailing period.
// Params: current time and period.
// Returns: countries sorted by code.
func (a *Accumulator) CountryActivity(now time.Time, period time.Duration) []CountryWindow {
	byCode := make(map[string]*CountryWindow)
	touch := func(code string) *CountryWindow {
		window, ok := byCode[code]
		if !ok {
			window = &CountryWindow{Code: code}
			byCode[code] = window
		}
		return window
	}
	a.each(now, period, SampleOperation, func(sample Sample) {
		if origin := sample.Metadata[MetaOrigin]; origin != "" {
			touch(origin).Sent++
		}
		if destination := sample.Metadata[MetaDestination]; destination != "" {
			touch(destination).Received++
		}
	})
	out := make([]CountryWindow, 0, len(byCode))
	for _, code := range slices.Sorted(maps.Keys(byCode)) {
		out = append(out, *byCode[code])
	}
	return out
}

// each visits samples of one type inside (now-period, now].
func (a *Accumulator) each(now time.Time, period time.Duration, sampleType SampleType, visit func(Sample)) {
	since := now.Add(-period)
	for _, sample := range a.history {
		if sample.Type != sampleType || !sample.Timestamp.After(since) || sample.Timestamp.After(now) {
			continue
		}
		visit(sample)
	}
}
