package state

import (
	"context"
	"sync"

	"tracehub/internal/domain"
)

// MemoryStore keeps the encoded snapshot in process memory.
// Params: one encoded snapshot and its revision.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	mu       sync.RWMutex
	body     []byte
	revision uint64
}

// NewMemoryStore creates an empty in-memory store.
// Params: none.
// Returns: initialized store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load decodes the stored snapshot.
// Params: context (unused).
// Returns: snapshot, revision, or ErrNotFound.
func (s *MemoryStore) Load(ctx context.Context) (domain.Snapshot, uint64, error) {
	if err := ctx.Err(); err != nil {
		return domain.Snapshot{}, 0, err
	}
	s.mu.RLock()
	body, revision := s.body, s.revision
	s.mu.RUnlock()
	if body == nil {
		return domain.Snapshot{}, 0, ErrNotFound
	}
	snapshot, err := domain.DecodeSnapshot(body)
	if err != nil {
		return domain.Snapshot{}, 0, err
	}
	return snapshot, revision, nil
}

// Save replaces the snapshot when expectedRevision matches.
// Params: context, snapshot and expected revision.
// Returns: new revision or ErrConflict.
func (s *MemoryStore) Save(ctx context.Context, snapshot domain.Snapshot, expectedRevision uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	body, err := domain.EncodeSnapshot(snapshot)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revision != expectedRevision {
		return 0, ErrConflict
	}
	s.body = body
	s.revision++
	return s.revision, nil
}

// Close releases memory store resources.
// Params: none.
// Returns: nil.
func (s *MemoryStore) Close() error {
	return nil
}
