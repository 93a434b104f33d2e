package e2e

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"tracehub/test/testutil"
)

func TestServiceSmokeHealthReadyAndIngest(t *testing.T) {
	port, err := testutil.FreePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}

	configPath := writeConfig(t, fmt.Sprintf(`
[service]
name = "tracehub"
seed_demo = true
maintenance_interval_sec = 1
snapshot_interval_sec = 1
shutdown_timeout_sec = 2

[log.console]
enabled = true
level = "error"
format = "line"

[ingest.http]
enabled = true
listen = "127.0.0.1:%d"
api_prefix = "/api"
health_path = "/healthz"
ready_path = "/readyz"
max_body_bytes = 1048576

[state]
backend = "memory"

[metrics]
enabled = true
path = "/metrics"
`, port))

	service := newServiceFromConfig(t, configPath)
	cancel, done := runService(t, service)
	defer cancel()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitReady(t, port)

	resp, err := http.Get(baseURL + "/healthz")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected health 200, got %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	var stats struct {
		TotalOperations int64 `json:"totalOperations"`
		ActiveCorridors int   `json:"activeCorridors"`
	}
	if code := getJSON(t, baseURL+"/api/statistics", &stats); code != http.StatusOK {
		t.Fatalf("expected statistics 200, got %d", code)
	}
	if stats.TotalOperations != 3 || stats.ActiveCorridors != 1 {
		t.Fatalf("demo seed not visible: %+v", stats)
	}

	operationJSON := []byte(`{"operationType":"TRANSMISSION_MANIFESTE_LIBRE_PRATIQUE","operationNumber":"MAN_E2E_1","originCountry":"CIV","destinationCountry":"BFA","businessPayload":{"numero_manifeste":"MAN_CIV_1","consignataire":"BOLLORE","navire":"ATLANTIC STAR"}}`)
	resp, err = http.Post(baseURL+"/api/operations", "application/json", bytes.NewReader(operationJSON))
	if err != nil {
		t.Fatalf("ingest request: %v", err)
	}
	_, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected ingest 201, got %d", resp.StatusCode)
	}

	resp, err = http.Post(baseURL+"/api/operations", "application/json", strings.NewReader(`{"operationType":"TRANSMISSION_MANIFESTE","originCountry":"SEN"}`))
	if err != nil {
		t.Fatalf("invalid ingest request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected invalid ingest 400, got %d", resp.StatusCode)
	}

	if code := getJSON(t, baseURL+"/api/statistics", &stats); code != http.StatusOK {
		t.Fatalf("expected statistics 200, got %d", code)
	}
	if stats.TotalOperations != 4 || stats.ActiveCorridors != 2 {
		t.Fatalf("unexpected statistics after ingest: %+v", stats)
	}

	resp, err = http.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), "operations_recorded_total") {
		t.Fatalf("metrics output misses operation counter")
	}

	cancel()
	waitServiceStop(t, done)
}
