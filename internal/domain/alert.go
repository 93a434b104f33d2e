package domain

import "time"

// AlertState is the supervisory alert lifecycle state.
// Params: active/cleared constants.
// Returns: state used by dedup and the maintenance sweep.
type AlertState string

const (
	// AlertStateActive marks an alert still shown to supervisors.
	AlertStateActive AlertState = "active"
	// AlertStateCleared marks an acknowledged or expired alert.
	AlertStateCleared AlertState = "cleared"
)

// AlertLevel is alert severity.
type AlertLevel string

const (
	AlertLevelInfo      AlertLevel = "info"
	AlertLevelSuccess   AlertLevel = "success"
	AlertLevelAttention AlertLevel = "attention"
	AlertLevelWarning   AlertLevel = "warning"
)

// Rank orders levels for notification filtering.
// Params: none.
// Returns: 0 for info up to 3 for warning.
func (l AlertLevel) Rank() int {
	switch l {
	case AlertLevelSuccess:
		return 1
	case AlertLevelAttention:
		return 2
	case AlertLevelWarning:
		return 3
	default:
		return 0
	}
}

// AlertType is the fixed alert vocabulary; dedup is keyed on it.
type AlertType string

const (
	AlertNewCorridor           AlertType = "new_corridor"
	AlertHighVolume            AlertType = "high_volume"
	AlertFreePracticeCompleted AlertType = "free_practice_completed"
	AlertHighErrorRate         AlertType = "high_error_rate"
	AlertHighLatency           AlertType = "high_latency"
	AlertLowActivity           AlertType = "low_activity"
	AlertHighSupervisedVolume  AlertType = "high_supervised_volume"
	AlertFewActiveCorridors    AlertType = "few_active_corridors"
)

// Alert is one supervisory alert.
// Params: identity, severity, lifecycle timestamps and optional context.
// Returns: alert record for dashboards and notifications.
type Alert struct {
	ID          string     `json:"id"`
	Type        AlertType  `json:"type"`
	Level       AlertLevel `json:"level"`
	Message     string     `json:"message"`
	State       AlertState `json:"state"`
	RaisedAt    time.Time  `json:"raisedAt"`
	LastSeenAt  time.Time  `json:"lastSeenAt"`
	ClearedAt   *time.Time `json:"clearedAt,omitempty"`
	ClearReason string     `json:"clearReason,omitempty"`
	Occurrences int        `json:"occurrences"`
	OperationID string     `json:"operationId,omitempty"`
	Corridor    string     `json:"corridor,omitempty"`
	Value       float64    `json:"value,omitempty"`
}

// Active reports whether the alert still suppresses duplicates of its type.
// Params: none.
// Returns: true for active alerts.
func (a Alert) Active() bool {
	return a.State == AlertStateActive
}

// Clone copies the alert including its clear timestamp.
// Params: none.
// Returns: independent alert copy.
func (a Alert) Clone() Alert {
	if a.ClearedAt != nil {
		cleared := *a.ClearedAt
		a.ClearedAt = &cleared
	}
	return a
}
