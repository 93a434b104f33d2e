package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tracehub/internal/config"

	"github.com/cenkalti/backoff/v5"
)

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Millisecond)
}

func newTestClient(url string, attempts int) *Client {
	return NewClient(config.BrokerConfig{BaseURL: url + "/", HealthPath: "health", TimeoutSec: 2, MaxAttempts: attempts}, WithBackOff(fastBackOff))
}

func TestClientHealthSucceeds(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if r.Header.Get("X-Source-System") != SourceSystem || r.Header.Get("X-Correlation-ID") == "" {
			t.Errorf("missing tracing headers: %v", r.Header)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"UP","version":"1.4.0"}`))
	}))
	defer server.Close()

	health, err := newTestClient(server.URL, 3).Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !health.Accessible || health.Status != "UP" || health.Version != "1.4.0" || health.Attempts != 1 {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestClientHealthRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	health, err := newTestClient(server.URL, 3).Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Attempts != 3 || health.Status != "UP" {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestClientHealthStopsOnClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	health, err := newTestClient(server.URL, 5).Health(context.Background())
	if err == nil || health.Accessible {
		t.Fatalf("expected failure, got %+v", health)
	}
	if calls.Load() != 1 || health.Attempts != 1 {
		t.Fatalf("404 must not be retried: calls=%d", calls.Load())
	}
}

func TestClientHealthGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	health, err := newTestClient(server.URL, 2).Health(context.Background())
	if err == nil || health.Attempts != 2 || health.Error == "" {
		t.Fatalf("unexpected outcome %+v err=%v", health, err)
	}
}

type sampleRecorder struct {
	mu      sync.Mutex
	samples []bool
}

func (r *sampleRecorder) RecordBrokerSample(_ time.Duration, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, ok)
}

func TestProberRecordsOutcomes(t *testing.T) {
	t.Parallel()

	var healthy atomic.Bool
	healthy.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	recorder := &sampleRecorder{}
	prober := NewProber(newTestClient(server.URL, 1), recorder, nil)
	if _, ok := prober.Last(); ok {
		t.Fatalf("no probe yet")
	}
	if health := prober.Probe(context.Background()); !health.Accessible {
		t.Fatalf("expected healthy probe")
	}
	healthy.Store(false)
	if health := prober.Probe(context.Background()); health.Accessible {
		t.Fatalf("expected failed probe")
	}
	last, ok := prober.Last()
	if !ok || last.Accessible {
		t.Fatalf("unexpected last probe %+v", last)
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.samples) != 2 || !recorder.samples[0] || recorder.samples[1] {
		t.Fatalf("unexpected samples %v", recorder.samples)
	}
}

func TestProberRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	recorder := &sampleRecorder{}
	prober := NewProber(newTestClient(server.URL, 1), recorder, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- prober.Run(ctx, 5*time.Millisecond) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		recorder.mu.Lock()
		n := len(recorder.samples)
		recorder.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("prober never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}
