package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"tracehub/internal/domain"
	"tracehub/internal/query"
)

// Bundle is everything an export needs, taken from one consistent read.
type Bundle struct {
	ExportedAt time.Time                `json:"exportedAt"`
	Statistics domain.GlobalStats       `json:"statistics"`
	Operations []domain.Operation       `json:"operations"`
	Corridors  []query.CorridorView     `json:"corridors"`
	Countries  []domain.CountryActivity `json:"countries"`
	Alerts     []domain.Alert           `json:"alerts"`
}

// Format selects the serialization.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat reads a format name.
// Params: "csv", "json" or empty (json).
// Returns: format or error.
func ParseFormat(name string) (Format, error) {
	switch name {
	case "", string(FormatJSON):
		return FormatJSON, nil
	case string(FormatCSV):
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", name)
	}
}

// ContentType returns the HTTP content type of a format.
// Params: none.
// Returns: MIME type.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// FileName returns the attachment name for an export taken at a time.
// Params: export time.
// Returns: file name.
func (f Format) FileName(at time.Time) string {
	return "tracehub-export-" + at.UTC().Format("20060102-150405") + "." + string(f)
}

// Write serializes a bundle.
// Params: destination, format and bundle.
// Returns: write error.
func Write(w io.Writer, format Format, bundle Bundle) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, bundle)
	default:
		return WriteJSON(w, bundle)
	}
}

// WriteJSON writes the bundle as indented JSON.
// Params: destination and bundle.
// Returns: encode error.
func WriteJSON(w io.Writer, bundle Bundle) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(bundle); err != nil {
		return fmt.Errorf("write json export: %w", err)
	}
	return nil
}

// utf8BOM lets spreadsheet tools detect the encoding of accented names.
const utf8BOM = "\ufeff"

// WriteCSV writes a summary block, then operations, then corridors.
// Params: destination and bundle.
// Returns: write error.
func WriteCSV(w io.Writer, bundle Bundle) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return fmt.Errorf("write csv export: %w", err)
	}
	out := csv.NewWriter(w)
	stats := bundle.Statistics
	rows := [][]string{
		{"section", "key", "value"},
		{"summary", "exportedAt", bundle.ExportedAt.UTC().Format(time.RFC3339)},
		{"summary", "totalOperations", strconv.FormatInt(stats.TotalOperations, 10)},
		{"summary", "operationsToday", strconv.FormatInt(stats.OperationsToday, 10)},
		{"summary", "activeCountries", strconv.Itoa(stats.ActiveCountries)},
		{"summary", "activeCorridors", strconv.Itoa(stats.ActiveCorridors)},
		{"summary", "totalVolume", formatFloat(stats.TotalVolume)},
		{},
		{"id", "operationType", "operationNumber", "originCountry", "destinationCountry", "workflowStage", "recordedAt", "sourceSystem", "correlationId"},
	}
	for _, op := range bundle.Operations {
		rows = append(rows, []string{
			op.ID, op.OperationType, op.OperationNumber, op.OriginCountry, op.DestinationCountry,
			string(op.WorkflowStage), op.RecordedAt.UTC().Format(time.RFC3339), op.Provenance.SourceSystem, op.Provenance.CorrelationID,
		})
	}
	rows = append(rows, []string{}, []string{"corridor", "operationCount", "estimatedVolume", "efficiency", "firstSeen", "lastSeen"})
	for _, corridor := range bundle.Corridors {
		rows = append(rows, []string{
			corridor.ID, strconv.FormatInt(corridor.OperationCount, 10), formatFloat(corridor.Volume),
			formatFloat(corridor.Efficiency), corridor.FirstSeen.UTC().Format(time.RFC3339), corridor.LastSeen.UTC().Format(time.RFC3339),
		})
	}
	if err := out.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv export: %w", err)
	}
	return nil
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
