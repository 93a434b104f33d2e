package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"tracehub/internal/domain"
)

// Provenance header names shared by HTTP requests and NATS message headers.
const (
	HeaderSourceSystem  = "X-Source-System"
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderWorkflowStep  = "X-Workflow-Step"
)

// decodePayload auto-detects batch vs single payload.
// Params: raw JSON bytes with one object or array.
// Returns: inputs, whether the payload was an array, and decode error.
func decodePayload(raw []byte) ([]domain.OperationInput, bool, error) {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 {
		return nil, false, errors.New("empty payload")
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	if payload[0] == '[' {
		var inputs []domain.OperationInput
		if err := decoder.Decode(&inputs); err != nil {
			return nil, true, fmt.Errorf("decode operation batch: %w", err)
		}
		if len(inputs) == 0 {
			return nil, true, errors.New("operation batch must contain at least one operation")
		}
		if err := ensureJSONEOF(decoder); err != nil {
			return nil, true, err
		}
		return inputs, true, nil
	}

	var input domain.OperationInput
	if err := decoder.Decode(&input); err != nil {
		return nil, false, fmt.Errorf("decode operation: %w", err)
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return nil, false, err
	}
	return []domain.OperationInput{input}, false, nil
}

// ensureJSONEOF rejects trailing tokens after a decoded JSON payload.
// Params: decoder positioned after primary decode.
// Returns: nil on EOF or error on trailing tokens.
func ensureJSONEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode trailing json: %w", err)
	}
	return errors.New("unexpected trailing json tokens")
}

// applyProvenance fills empty provenance fields from transport headers.
// Params: decoded inputs and header lookup.
// Returns: nothing; inputs are updated in place.
func applyProvenance(inputs []domain.OperationInput, header func(string) string) {
	source := strings.TrimSpace(header(HeaderSourceSystem))
	correlation := strings.TrimSpace(header(HeaderCorrelationID))
	step := strings.TrimSpace(header(HeaderWorkflowStep))
	for i := range inputs {
		p := &inputs[i].Provenance
		if p.SourceSystem == "" {
			p.SourceSystem = source
		}
		if p.CorrelationID == "" {
			p.CorrelationID = correlation
		}
		if p.WorkflowStep == "" {
			p.WorkflowStep = step
		}
	}
}
