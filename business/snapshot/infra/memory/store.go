// Package memory keeps the latest snapshot in process.
package memory

import (
	"context"
	"time"

	pricing "github.com/fd1az/pool-pricer/business/pricing/domain"
	"github.com/fd1az/pool-pricer/business/snapshot/app"
	"github.com/fd1az/pool-pricer/internal/cache"
)

const latestKey = "latest"

var _ app.SnapshotStore = (*Store)(nil)

// Store is a SnapshotStore over the in-process TTL cache.
type Store struct {
	cache *cache.Cache[string, *pricing.Snapshot]
	ttl   time.Duration
}

// NewStore creates a store whose entry expires after ttl; ttl <= 0 keeps
// it forever.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		cache: cache.New[string, *pricing.Snapshot](time.Minute),
		ttl:   ttl,
	}
}

// Save replaces the stored snapshot.
func (s *Store) Save(ctx context.Context, snap *pricing.Snapshot) error {
	s.cache.Set(ctx, latestKey, snap, s.ttl)
	return nil
}

// Load returns the stored snapshot or nil.
func (s *Store) Load(ctx context.Context) (*pricing.Snapshot, error) {
	snap, ok := s.cache.Get(ctx, latestKey)
	if !ok {
		return nil, nil
	}
	return snap, nil
}

// Close stops the cache janitor.
func (s *Store) Close() {
	s.cache.Close()
}
