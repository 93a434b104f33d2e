package state

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tracehub/internal/config"
	"tracehub/internal/domain"

	"github.com/nats-io/nats.go"
)

// NATSStore persists hub snapshots in a JetStream KV bucket.
// Params: NATS connection and KV bucket handle.
// Returns: KV-backed state store implementation.
type NATSStore struct {
	nc  *nats.Conn
	kv  nats.KeyValue
	key string
}

// NewNATSStore opens (or creates) the snapshot bucket.
// Params: state settings from config.
// Returns: initialized NATS store or setup error.
func NewNATSStore(settings config.StateConfig) (*NATSStore, error) {
	nc, err := nats.Connect(strings.Join(settings.URL, ","), nats.Name("tracehub-state"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	kv, err := js.KeyValue(settings.Bucket)
	if err != nil {
		if !settings.AllowCreateBuckets {
			nc.Close()
			return nil, fmt.Errorf("open state bucket %q: %w", settings.Bucket, err)
		}
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      settings.Bucket,
			Description: "tracehub snapshots",
			History:     1,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create state bucket %q: %w", settings.Bucket, err)
		}
	}

	return &NATSStore{nc: nc, kv: kv, key: settings.Key}, nil
}

// Load reads the snapshot and its KV revision.
// Params: context (checked before the round trip).
// Returns: snapshot, revision, or ErrNotFound.
func (s *NATSStore) Load(ctx context.Context) (domain.Snapshot, uint64, error) {
	if err := ctx.Err(); err != nil {
		return domain.Snapshot{}, 0, err
	}
	entry, err := s.kv.Get(s.key)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return domain.Snapshot{}, 0, ErrNotFound
		}
		return domain.Snapshot{}, 0, fmt.Errorf("get snapshot: %w", err)
	}
	snapshot, err := domain.DecodeSnapshot(entry.Value())
	if err != nil {
		return domain.Snapshot{}, 0, err
	}
	return snapshot, entry.Revision(), nil
}

// Save writes the snapshot using revision CAS.
// Params: context, snapshot and expected revision (0 creates the key).
// Returns: new KV revision or ErrConflict.
func (s *NATSStore) Save(ctx context.Context, snapshot domain.Snapshot, expectedRevision uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	body, err := domain.EncodeSnapshot(snapshot)
	if err != nil {
		return 0, err
	}

	var rev uint64
	if expectedRevision == 0 {
		rev, err = s.kv.Create(s.key, body)
	} else {
		rev, err = s.kv.Update(s.key, body, expectedRevision)
	}
	if err != nil {
		if errors.Is(err, nats.ErrKeyExists) || strings.Contains(strings.ToLower(err.Error()), "wrong last sequence") {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	return rev, nil
}

// Close closes underlying NATS connection.
// Params: none.
// Returns: nil after connection close.
func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}
