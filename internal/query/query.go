package query

import (
	"cmp"
	"slices"
	"strings"

	"tracehub/internal/domain"
	"tracehub/internal/workflow"
)

const (
	// DefaultListLimit is used when a listing asks for no explicit limit.
	DefaultListLimit = 50
	// DefaultSearchLimit is used when a search asks for no explicit limit.
	DefaultSearchLimit = 30
)

// Filter narrows operation listings; empty fields match everything.
// Params: type substrings (any matches), countries, stage and free text.
// Returns: listing filter.
type Filter struct {
	OperationTypes     []string
	OriginCountry      string
	DestinationCountry string
	WorkflowStage      domain.WorkflowStage
	Text               string
}

// Match reports whether an operation passes the filter.
// Params: operation.
// Returns: true when every non-empty criterion matches.
func (f Filter) Match(op *domain.Operation) bool {
	if len(f.OperationTypes) > 0 {
		lowered := strings.ToLower(op.OperationType)
		matched := false
		for _, candidate := range f.OperationTypes {
			needle := strings.ToLower(strings.TrimSpace(candidate))
			if needle != "" && strings.Contains(lowered, needle) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if f.OriginCountry != "" && op.OriginCountry != f.OriginCountry {
		return false
	}
	if f.DestinationCountry != "" && op.DestinationCountry != f.DestinationCountry {
		return false
	}
	if f.WorkflowStage != "" && op.WorkflowStage != f.WorkflowStage {
		return false
	}
	if f.Text != "" && !MatchText(op, strings.ToLower(strings.TrimSpace(f.Text))) {
		return false
	}
	return true
}

// MatchText does a case-insensitive substring match over the searchable fields.
// Params: operation and lower-cased needle.
// Returns: true when any field contains the needle.
func MatchText(op *domain.Operation, needle string) bool {
	if needle == "" {
		return true
	}
	fields := []string{
		op.OperationType,
		op.OperationNumber,
		op.OriginCountry,
		op.DestinationCountry,
		string(op.WorkflowStage),
		op.Payload.Text(),
	}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

// NewestFirst sorts operations by recordedAt descending; among equal timestamps later insertions come first.
// Params: operations in insertion order (sorted in place).
// Returns: the same slice.
func NewestFirst(ops []*domain.Operation) []*domain.Operation {
	slices.Reverse(ops)
	slices.SortStableFunc(ops, func(a, b *domain.Operation) int {
		return b.RecordedAt.Compare(a.RecordedAt)
	})
	return ops
}

// List filters, sorts newest first and truncates.
// Params: operations in insertion order, limit (<=0 uses DefaultListLimit) and filter.
// Returns: deep copies of matching operations.
func List(ops []*domain.Operation, limit int, filter Filter) []domain.Operation {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	matched := make([]*domain.Operation, 0, min(len(ops), limit))
	for _, op := range ops {
		if filter.Match(op) {
			matched = append(matched, op)
		}
	}
	return copyLimited(NewestFirst(matched), limit)
}

// Search matches free text across the searchable fields, newest first.
// Params: operations in insertion order, text and limit (<=0 uses DefaultSearchLimit).
// Returns: deep copies of matching operations; empty text returns nothing.
func Search(ops []*domain.Operation, text string, limit int) []domain.Operation {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return []domain.Operation{}
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	matched := make([]*domain.Operation, 0)
	for _, op := range ops {
		if MatchText(op, needle) {
			matched = append(matched, op)
		}
	}
	return copyLimited(NewestFirst(matched), limit)
}

func copyLimited(ops []*domain.Operation, limit int) []domain.Operation {
	if len(ops) > limit {
		ops = ops[:limit]
	}
	out := make([]domain.Operation, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.Clone())
	}
	return out
}

// TypeHistogram counts operations per type.
// Params: operations.
// Returns: type → count.
func TypeHistogram(ops []*domain.Operation) map[string]int64 {
	out := make(map[string]int64)
	for _, op := range ops {
		out[op.OperationType]++
	}
	return out
}

// CorridorView is a corridor with its derived efficiency.
type CorridorView struct {
	domain.Corridor
	Description string  `json:"description"`
	Efficiency  float64 `json:"efficiency"`
}

// Corridors ranks corridors by operation count.
// Params: corridor copies.
// Returns: views sorted by count descending, then id.
func Corridors(corridors []domain.Corridor) []CorridorView {
	out := make([]CorridorView, 0, len(corridors))
	for _, corridor := range corridors {
		out = append(out, CorridorView{
			Corridor:    corridor,
			Description: corridor.Origin + " -> " + corridor.Destination,
			Efficiency:  Efficiency(corridor),
		})
	}
	slices.SortFunc(out, func(a, b CorridorView) int {
		if byCount := cmp.Compare(b.OperationCount, a.OperationCount); byCount != 0 {
			return byCount
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Efficiency is the finalized share of a corridor's operations as a percentage.
// Params: corridor.
// Returns: 0..100 rounded to 2 decimals.
func Efficiency(corridor domain.Corridor) float64 {
	if corridor.OperationCount == 0 {
		return 0
	}
	return round2(float64(corridor.FinalizedCount()) / float64(corridor.OperationCount) * 100)
}

// StageTotals counts operations per stage with every known stage present.
// Params: operations.
// Returns: stage → count.
func StageTotals(ops []*domain.Operation) map[domain.WorkflowStage]int64 {
	out := make(map[domain.WorkflowStage]int64, 4)
	for _, stage := range workflow.Stages() {
		out[stage] = 0
	}
	for _, op := range ops {
		out[op.WorkflowStage]++
	}
	return out
}
