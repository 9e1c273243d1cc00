package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/atmx/barter-engine/internal/book"
	"github.com/atmx/barter-engine/internal/model"
)

// MemoryStore implements Store with in-memory tables. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	tables *book.Tables
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: book.New()}
}

func (s *MemoryStore) Load(_ context.Context) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tables.Snapshot(), nil
}

func (s *MemoryStore) Commit(ctx context.Context, cs *model.Changeset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables.Apply(cs)
	return nil
}

func (s *MemoryStore) GetOffer(_ context.Context, id model.OfferID) (*model.OfferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.tables.Record(id)
	if !ok {
		return nil, fmt.Errorf("offer %d: %w", id, ErrNotFound)
	}
	return &rec, nil
}

func (s *MemoryStore) ListOffers(_ context.Context) ([]model.OfferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.tables.OfferIDs()
	out := make([]model.OfferRecord, 0, len(ids))
	for _, id := range ids {
		rec, _ := s.tables.Record(id)
		out = append(out, rec)
	}
	return out, nil
}

func (s *MemoryStore) GetRegistryEntry(_ context.Context, asset model.AssetID) (*model.RegistryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.tables.Entry(asset)
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", asset, ErrNotFound)
	}
	return &e, nil
}
