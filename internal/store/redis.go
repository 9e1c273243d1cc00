package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/barter-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache.
// Commits go to the primary store and invalidate the touched keys; reads
// check Redis first then fall back to the primary. Redis errors never fail
// a call.
//
// Invalidation is not ordered against concurrent reads: a miss that read the
// primary before a commit may refill the key with the old value after the
// commit deleted it. Such an entry stays stale for at most the TTL, so the
// cache must not serve reads that need the latest committed state. The
// engine never reads through it.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) Commit(ctx context.Context, cs *model.Changeset) error {
	if err := s.primary.Commit(ctx, cs); err != nil {
		return err
	}

	if cs.Reset {
		s.flush(ctx)
		return nil
	}

	keys := []string{offerListKey()}
	for _, id := range cs.Removed {
		keys = append(keys, offerKey(id))
	}
	for _, rec := range cs.Created {
		keys = append(keys, offerKey(rec.Offer.ID))
	}
	for _, e := range cs.Custody {
		keys = append(keys, assetKey(e.AssetID))
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("cache invalidation failed", "keys", len(keys), "err", err)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetOffer(ctx context.Context, id model.OfferID) (*model.OfferRecord, error) {
	var rec model.OfferRecord
	if s.get(ctx, offerKey(id), &rec) {
		return &rec, nil
	}

	r, err := s.primary.GetOffer(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, offerKey(id), r)
	return r, nil
}

func (s *CachedStore) ListOffers(ctx context.Context) ([]model.OfferRecord, error) {
	var recs []model.OfferRecord
	if s.get(ctx, offerListKey(), &recs) {
		return recs, nil
	}

	recs, err := s.primary.ListOffers(ctx)
	if err != nil {
		return nil, err
	}
	s.set(ctx, offerListKey(), recs)
	return recs, nil
}

func (s *CachedStore) GetRegistryEntry(ctx context.Context, asset model.AssetID) (*model.RegistryEntry, error) {
	var e model.RegistryEntry
	if s.get(ctx, assetKey(asset), &e) {
		return &e, nil
	}

	r, err := s.primary.GetRegistryEntry(ctx, asset)
	if err != nil {
		return nil, err
	}
	s.set(ctx, assetKey(asset), r)
	return r, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) Load(ctx context.Context) (*model.Snapshot, error) {
	return s.primary.Load(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

// flush drops every key this store owns.
func (s *CachedStore) flush(ctx context.Context) {
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		slog.Warn("cache flush scan failed", "err", err)
		return
	}
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
}

const keyPrefix = "barter:"

func offerKey(id model.OfferID) string { return fmt.Sprintf("%soffer:%d", keyPrefix, id) }
func offerListKey() string { return keyPrefix + "offers" }
func assetKey(asset model.AssetID) string { return fmt.Sprintf("%sasset:%s", keyPrefix, asset) }
