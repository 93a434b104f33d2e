package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotVersion is the current persisted snapshot layout.
const SnapshotVersion = 1

// Snapshot is the persisted unit of hub state.
// Params: operations in insertion order, the alert list and retained non-operation outcome samples.
// Returns: value from which aggregates are rebuilt by replay.
type Snapshot struct {
	Version    int             `json:"version"`
	TakenAt    time.Time       `json:"takenAt"`
	Operations []Operation     `json:"operations"`
	Alerts     []Alert         `json:"alerts"`
	Outcomes   []OutcomeSample `json:"outcomes,omitempty"`
}

// OutcomeSample is a persisted rejection, broker exchange or latency observation.
type OutcomeSample struct {
	Type      string            `json:"type"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// EncodeSnapshot serializes a snapshot.
// Params: snapshot value.
// Returns: JSON bytes or error.
func EncodeSnapshot(snapshot Snapshot) ([]byte, error) {
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return encoded, nil
}

// DecodeSnapshot deserializes and version-checks a snapshot.
// Params: JSON bytes.
// Returns: snapshot or error.
func DecodeSnapshot(raw []byte) (Snapshot, error) {
	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if snapshot.Version != SnapshotVersion {
		return Snapshot{}, fmt.Errorf("unsupported snapshot version %d", snapshot.Version)
	}
	return snapshot, nil
}
