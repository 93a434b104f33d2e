package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"tracehub/internal/domain"
	"tracehub/internal/query"
)

func sampleBundle() Bundle {
	at := time.Date(2026, 4, 2, 15, 4, 5, 0, time.UTC)
	return Bundle{
		ExportedAt: at,
		Statistics: domain.GlobalStats{TotalOperations: 1, ActiveCountries: 2, ActiveCorridors: 1, TotalVolume: 25000000},
		Operations: []domain.Operation{{
			ID: "M1", OperationType: "manifest, transmission", OperationNumber: "M1",
			OriginCountry: "SEN", DestinationCountry: "MLI", WorkflowStage: domain.StageManifestNotification,
			RecordedAt: at, Provenance: domain.Provenance{SourceSystem: "KIT", CorrelationID: "c-1"},
		}},
		Corridors: []query.CorridorView{{Corridor: domain.Corridor{ID: "SEN-MLI", OperationCount: 1, Volume: 25000000, FirstSeen: at, LastSeen: at}}},
	}
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := Write(&buf, FormatCSV, sampleBundle()); err != nil {
		t.Fatalf("write: %v", err)
	}
	text := buf.String()
	if !strings.HasPrefix(text, "\ufeff") {
		t.Fatalf("missing BOM")
	}
	reader := csv.NewReader(strings.NewReader(strings.TrimPrefix(text, "\ufeff")))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	found := false
	for _, record := range records {
		if len(record) > 1 && record[0] == "M1" {
			found = record[1] == "manifest, transmission" && record[7] == "KIT"
		}
	}
	if !found {
		t.Fatalf("operation row missing or malformed: %v", records)
	}
	if !strings.Contains(text, "SEN-MLI,1,25000000,0,") {
		t.Fatalf("corridor row missing: %s", text)
	}
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := Write(&buf, FormatJSON, sampleBundle()); err != nil {
		t.Fatalf("write: %v", err)
	}
	var decoded Bundle
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Operations) != 1 || decoded.Statistics.TotalOperations != 1 {
		t.Fatalf("unexpected decoded bundle %+v", decoded)
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	if format, err := ParseFormat(""); err != nil || format != FormatJSON {
		t.Fatalf("default format: %v %v", format, err)
	}
	if format, err := ParseFormat("csv"); err != nil || format.ContentType() != "text/csv; charset=utf-8" {
		t.Fatalf("csv format: %v %v", format, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatalf("expected error for xml")
	}
	name := FormatCSV.FileName(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if name != "tracehub-export-20260102-030405.csv" {
		t.Fatalf("unexpected file name %q", name)
	}
}
