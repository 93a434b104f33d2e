package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// StatusTraced is the only status a stored operation ever carries.
const StatusTraced = "TRACED"

// WorkflowStage identifies where an operation falls in the cross-border process.
// Params: one of the stage constants below.
// Returns: stage key used by aggregates and filters.
type WorkflowStage string

const (
	// StageManifestNotification is the early notification stage (manifest transmission).
	StageManifestNotification WorkflowStage = "20"
	// StageFreePractice is the finalization stage (declaration, free-practice completion).
	StageFreePractice WorkflowStage = "21"
	// StageTransit is the transit-specific finalization stage.
	StageTransit WorkflowStage = "16"
	// StageGeneral is the fallback stage for unrecognized operation types.
	StageGeneral WorkflowStage = "20-21"
)

// Provenance keeps caller-supplied correlation metadata.
// Params: source system, correlation id and workflow step as sent by the broker.
// Returns: opaque provenance stored with the operation.
type Provenance struct {
	SourceSystem  string `json:"sourceSystem,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	WorkflowStep  string `json:"workflowStep,omitempty"`
}

// OperationInput is one inbound traceability record before validation.
// Params: caller-supplied fields and provenance.
// Returns: raw input for the intake validator.
type OperationInput struct {
	OperationType      string     `json:"operationType"`
	OperationNumber    string     `json:"operationNumber"`
	OriginCountry      string     `json:"originCountry"`
	DestinationCountry string     `json:"destinationCountry"`
	Payload            Payload    `json:"businessPayload,omitempty"`
	Provenance         Provenance `json:"provenance"`
}

// legacyInput mirrors the field names still emitted by the integration broker.
type legacyInput struct {
	TypeOperation   string  `json:"typeOperation"`
	NumeroOperation string  `json:"numeroOperation"`
	PaysOrigine     string  `json:"paysOrigine"`
	PaysDestination string  `json:"paysDestination"`
	DonneesMetier   Payload `json:"donneesMetier"`
}

// UnmarshalJSON decodes an input accepting both current and legacy broker field names.
// Params: JSON object bytes.
// Returns: decode error for malformed JSON.
func (in *OperationInput) UnmarshalJSON(raw []byte) error {
	type plain OperationInput
	var current plain
	if err := json.Unmarshal(raw, &current); err != nil {
		return err
	}
	var legacy legacyInput
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return err
	}

	*in = OperationInput(current)
	in.OperationType = firstNonEmpty(in.OperationType, legacy.TypeOperation)
	in.OperationNumber = firstNonEmpty(in.OperationNumber, legacy.NumeroOperation)
	in.OriginCountry = firstNonEmpty(in.OriginCountry, legacy.PaysOrigine)
	in.DestinationCountry = firstNonEmpty(in.DestinationCountry, legacy.PaysDestination)
	if in.Payload == nil {
		in.Payload = legacy.DonneesMetier
	}
	return nil
}

// DecodeOperationInput decodes one inbound record.
// Params: JSON document bytes.
// Returns: input or decode error.
func DecodeOperationInput(raw []byte) (OperationInput, error) {
	var input OperationInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return OperationInput{}, fmt.Errorf("decode operation: %w", err)
	}
	return input, nil
}

// Operation is one recorded, immutable traceability entry.
// Params: identity, business fields, derived stage and server timestamp.
// Returns: stored operation value.
type Operation struct {
	ID                 string        `json:"id"`
	OperationType      string        `json:"operationType"`
	OperationNumber    string        `json:"operationNumber"`
	OriginCountry      string        `json:"originCountry"`
	DestinationCountry string        `json:"destinationCountry"`
	Payload            Payload       `json:"businessPayload,omitempty"`
	WorkflowStage      WorkflowStage `json:"workflowStage"`
	RecordedAt         time.Time     `json:"recordedAt"`
	Status             string        `json:"status"`
	Provenance         Provenance    `json:"provenance"`
}

// CorridorKey returns the ORIGIN-DESTINATION key of the operation.
// Params: none.
// Returns: corridor key.
func (o Operation) CorridorKey() string {
	return CorridorKey(o.OriginCountry, o.DestinationCountry)
}

// Clone returns a deep copy so callers never share the stored payload.
// Params: none.
// Returns: independent operation copy.
func (o Operation) Clone() Operation {
	o.Payload = o.Payload.Clone()
	return o
}

// CorridorKey builds a corridor key from two country codes.
// Params: origin and destination codes.
// Returns: "ORIGIN-DESTINATION".
func CorridorKey(origin, destination string) string {
	return origin + "-" + destination
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
