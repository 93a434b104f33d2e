package e2e

import (
	"context"
	"testing"
	"time"

	"tracehub/internal/config"
	"tracehub/internal/domain"
	"tracehub/internal/ingest"
	"tracehub/internal/state"
	"tracehub/test/testutil"

	"github.com/nats-io/nats.go"
)

const (
	e2eOperationsStream = "TRACEHUB_E2E_OPERATIONS"
	e2eOperationsSubj   = "tracehub.e2e.operations"
	e2eStateBucket      = "tracehub_e2e_state"
)

// startLocalNATSServer starts a local JetStream NATS process for e2e tests.
// Params: testing handle for lifecycle/error reporting.
// Returns: server URL and stop callback.
func startLocalNATSServer(tb testing.TB) (string, func()) {
	return testutil.StartLocalNATSServer(tb)
}

// publishOperation publishes one JSON operation with provenance headers to JetStream.
// Params: test handle, server URL, subject, body and source system.
// Returns: message is persisted by the stream or test fails.
func publishOperation(tb testing.TB, url, subject, body, source string) {
	tb.Helper()

	nc, err := nats.Connect(url)
	if err != nil {
		tb.Fatalf("connect nats: %v", err)
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		tb.Fatalf("jetstream init: %v", err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = []byte(body)
	msg.Header.Set(ingest.HeaderSourceSystem, source)
	if _, err := js.PublishMsg(msg); err != nil {
		tb.Fatalf("publish operation: %v", err)
	}
}

// loadStoredSnapshot reads the persisted hub snapshot from the KV bucket.
// Params: test handle, server URL and bucket name.
// Returns: saved snapshot or test fails.
func loadStoredSnapshot(tb testing.TB, url, bucket string) domain.Snapshot {
	tb.Helper()

	store, err := state.NewNATSStore(config.StateConfig{
		Backend:            config.StateBackendNATS,
		URL:                []string{url},
		Bucket:             bucket,
		Key:                "snapshot",
		AllowCreateBuckets: true,
	})
	if err != nil {
		tb.Fatalf("open state store: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snapshot, _, err := store.Load(ctx)
	if err != nil {
		tb.Fatalf("load snapshot: %v", err)
	}
	return snapshot
}
