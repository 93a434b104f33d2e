package state

import (
	"context"
	"errors"

	"tracehub/internal/domain"
)

var (
	// ErrNotFound indicates that no snapshot has been saved yet.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates revision mismatch for CAS update.
	ErrConflict = errors.New("revision conflict")
)

// Store persists hub snapshots.
// Params: Load returns the latest snapshot and its revision; Save writes with CAS on the expected revision (0 creates).
// Returns: backend persistence behavior.
type Store interface {
	Load(ctx context.Context) (domain.Snapshot, uint64, error)
	Save(ctx context.Context, snapshot domain.Snapshot, expectedRevision uint64) (uint64, error)
	Close() error
}
