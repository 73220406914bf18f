// Package cache provides the duplicate-suppression stores the integration
// manager consults before handing inbound packets to pipelines.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/shared"
)

const janitorInterval = 5 * time.Minute

// InMemoryIdempotencyStore remembers processed identifiers in a map with
// per-entry expiry. Suitable for single-instance deployments and tests;
// replicas do not share state, so replays can slip through when packets
// arrive on different instances.
type InMemoryIdempotencyStore struct {
	mu        sync.RWMutex
	expiries  map[string]time.Time
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryIdempotencyStore creates the store and starts its janitor
func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	store := &InMemoryIdempotencyStore{
		expiries: make(map[string]time.Time),
		stopCh:   make(chan struct{}),
	}
	store.wg.Add(1)
	go store.janitor()
	return store
}

// MarkProcessed records an identifier with a TTL. Returns true when it was
// newly recorded, false when a live entry already covers it.
func (s *InMemoryIdempotencyStore) MarkProcessed(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, ok := s.expiries[id]; ok && time.Now().Before(expiry) {
		return false, nil
	}
	s.expiries[id] = time.Now().Add(ttl)
	return true, nil
}

// IsProcessed reports whether a live entry covers the identifier
func (s *InMemoryIdempotencyStore) IsProcessed(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expiry, ok := s.expiries[id]
	if !ok || time.Now().After(expiry) {
		return false, nil
	}
	return true, nil
}

// Close stops the janitor. Safe to call more than once.
func (s *InMemoryIdempotencyStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
	})
	return nil
}

// Size returns the number of tracked identifiers, expired ones included
// until the next sweep
func (s *InMemoryIdempotencyStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.expiries)
}

func (s *InMemoryIdempotencyStore) janitor() {
	defer s.wg.Done()

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep drops expired entries
func (s *InMemoryIdempotencyStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, expiry := range s.expiries {
		if now.After(expiry) {
			delete(s.expiries, id)
		}
	}
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
