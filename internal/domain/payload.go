package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Payload is the open business payload attached to an operation.
// Params: JSON-decoded values keyed by field name.
// Returns: semi-structured bag checked only for per-type required fields.
type Payload map[string]any

// Clone deep-copies nested maps and slices.
// Params: none.
// Returns: independent payload copy or nil.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for key, value := range p {
		out[key] = cloneValue(value)
	}
	return out
}

// Has reports whether the field exists with a non-blank value.
// Params: field name.
// Returns: true for present non-empty values.
func (p Payload) Has(field string) bool {
	value, ok := p[field]
	if !ok || value == nil {
		return false
	}
	if text, isText := value.(string); isText {
		return strings.TrimSpace(text) != ""
	}
	return true
}

// Number reads a numeric field, accepting JSON numbers and numeric strings.
// Params: field name.
// Returns: value and true when the field holds a finite number.
func (p Payload) Number(field string) (float64, bool) {
	value, ok := p[field]
	if !ok {
		return 0, false
	}
	var parsed float64
	switch typed := value.(type) {
	case float64:
		parsed = typed
	case float32:
		parsed = float64(typed)
	case int:
		parsed = float64(typed)
	case int64:
		parsed = float64(typed)
	case json.Number:
		number, err := typed.Float64()
		if err != nil {
			return 0, false
		}
		parsed = number
	case string:
		number, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, false
		}
		parsed = number
	default:
		return 0, false
	}
	if math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0, false
	}
	return parsed, true
}

// FirstNumber returns the first numeric value among candidate fields.
// Params: ordered field names.
// Returns: value and true when any field is numeric.
func (p Payload) FirstNumber(fields []string) (float64, bool) {
	for _, field := range fields {
		if value, ok := p.Number(field); ok {
			return value, true
		}
	}
	return 0, false
}

// Text renders the payload as compact JSON for free-text search.
// Params: none.
// Returns: JSON text or fmt fallback.
func (p Payload) Text() string {
	if len(p) == 0 {
		return ""
	}
	encoded, err := json.Marshal(p)
	if err != nil {
		return fmt.Sprint(map[string]any(p))
	}
	return string(encoded)
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return map[string]any(Payload(typed).Clone())
	case Payload:
		return typed.Clone()
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return typed
	}
}
