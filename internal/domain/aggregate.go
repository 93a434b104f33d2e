package domain

import (
	"maps"
	"slices"
	"time"
)

// CountryCategory tells whether a member has its own seaport.
type CountryCategory string

const (
	// CategoryCoastal marks members with a seaport.
	CategoryCoastal CountryCategory = "coastal"
	// CategoryLandlocked marks hinterland members.
	CategoryLandlocked CountryCategory = "landlocked"
)

// Country is one member of the registry.
// Params: code, display metadata and category.
// Returns: immutable registry entry.
type Country struct {
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	City     string          `json:"city"`
	Category CountryCategory `json:"category"`
	Role     string          `json:"role"`
}

// Corridor aggregates every operation seen on one origin/destination pair.
// Params: counters, stage breakdown, volume and observation window.
// Returns: corridor aggregate value.
type Corridor struct {
	ID             string                  `json:"id"`
	Origin         string                  `json:"origin"`
	Destination    string                  `json:"destination"`
	OperationCount int64                   `json:"operationCount"`
	StageCounts    map[WorkflowStage]int64 `json:"stageCounts"`
	Volume         float64                 `json:"estimatedVolume"`
	FirstSeen      time.Time               `json:"firstSeen"`
	LastSeen       time.Time               `json:"lastSeen"`
	OperationTypes []string                `json:"operationTypes"`
}

// Clone copies the corridor including its maps and slices.
// Params: none.
// Returns: independent corridor copy.
func (c Corridor) Clone() Corridor {
	c.StageCounts = maps.Clone(c.StageCounts)
	c.OperationTypes = slices.Clone(c.OperationTypes)
	return c
}

// FinalizedCount sums the finalization stages.
// Params: none.
// Returns: free-practice plus transit completions.
func (c Corridor) FinalizedCount() int64 {
	return c.StageCounts[StageFreePractice] + c.StageCounts[StageTransit]
}

// CountryActivity aggregates what one member sent and received.
// Params: country identity and counters.
// Returns: per-country aggregate value.
type CountryActivity struct {
	Country
	OperationsSent     int64                   `json:"operationsSent"`
	OperationsReceived int64                   `json:"operationsReceived"`
	StageCounts        map[WorkflowStage]int64 `json:"stageCounts"`
	VolumeSent         float64                 `json:"volumeSent"`
	VolumeReceived     float64                 `json:"volumeReceived"`
	LastActivity       *time.Time              `json:"lastActivity,omitempty"`
}

// Clone copies the aggregate including its maps.
// Params: none.
// Returns: independent aggregate copy.
func (a CountryActivity) Clone() CountryActivity {
	a.StageCounts = maps.Clone(a.StageCounts)
	if a.LastActivity != nil {
		last := *a.LastActivity
		a.LastActivity = &last
	}
	return a
}

// GlobalStats is the hub-wide running summary.
// Params: totals, today's count, active sets and stage totals.
// Returns: statistics snapshot.
type GlobalStats struct {
	TotalOperations       int64                   `json:"totalOperations"`
	OperationsToday       int64                   `json:"operationsToday"`
	ActiveCountries       int                     `json:"activeCountries"`
	ActiveCorridors       int                     `json:"activeCorridors"`
	StageTotals           map[WorkflowStage]int64 `json:"stageTotals"`
	FreePracticeWorkflows int64                   `json:"freePracticeWorkflows"`
	TransitWorkflows      int64                   `json:"transitWorkflows"`
	TotalVolume           float64                 `json:"totalVolume"`
	LastUpdated           *time.Time              `json:"lastUpdated,omitempty"`
}
