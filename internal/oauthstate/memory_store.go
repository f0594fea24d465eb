package oauthstate

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore keeps state entries in process. Entries do not survive a
// restart and are not visible to other replicas.
type MemoryStore struct {
	cache *ttlcache.Cache[string, Entry]
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, Entry](ttl),
		ttlcache.WithDisableTouchOnHit[string, Entry](),
	)
	return &MemoryStore{cache: cache}
}

func (s *MemoryStore) Set(_ context.Context, state string, entry Entry, ttl time.Duration) error {
	s.cache.Set(state, entry, ttl)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, state string) (Entry, bool, error) {
	item := s.cache.Get(state)
	if item == nil {
		return Entry{}, false, nil
	}
	return item.Value(), true, nil
}

func (s *MemoryStore) Delete(_ context.Context, state string) (bool, error) {
	_, present := s.cache.GetAndDelete(state)
	return present, nil
}

func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	before := s.cache.Len()
	s.cache.DeleteExpired()
	return before - s.cache.Len(), nil
}

// Len returns the number of entries currently held, expired or not.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}
