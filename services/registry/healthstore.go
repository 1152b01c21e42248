package registry

import (
	"context"
	"sync"
	"time"

	"github.com/botmesh/model-gateway/models"
)

// MemoryHealthStore is a process-local HealthStore. Suitable when one
// gateway instance owns its own view of provider health; deployments that
// share health across instances use the Postgres store instead.
type MemoryHealthStore struct {
	mu        sync.RWMutex
	overrides map[string]models.HealthOverride

	hits   uint64
	writes uint64

	now func() time.Time
}

// NewMemoryHealthStore creates an empty in-memory health store
func NewMemoryHealthStore() *MemoryHealthStore {
	return &MemoryHealthStore{
		overrides: make(map[string]models.HealthOverride),
		now:       time.Now,
	}
}

// Get returns a copy of the current overrides. The write lock covers the
// hit counter.
func (s *MemoryHealthStore) Get(ctx context.Context) (map[string]models.HealthOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]models.HealthOverride, len(s.overrides))
	for adapter, override := range s.overrides {
		out[adapter] = override
	}
	s.hits++
	return out, nil
}

// MarkHealthy records a healthy mark for the adapter
func (s *MemoryHealthStore) MarkHealthy(ctx context.Context, adapter string) error {
	return s.mark(adapter, true)
}

// MarkUnhealthy records an unhealthy mark for the adapter
func (s *MemoryHealthStore) MarkUnhealthy(ctx context.Context, adapter string) error {
	return s.mark(adapter, false)
}

// Clear removes the adapter's override
func (s *MemoryHealthStore) Clear(ctx context.Context, adapter string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.overrides, adapter)
	return nil
}

func (s *MemoryHealthStore) mark(adapter string, healthy bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.overrides[adapter] = models.HealthOverride{
		Adapter:  adapter,
		Healthy:  healthy,
		MarkedAt: s.now(),
	}
	s.writes++
	return nil
}

// CleanupExpired removes unhealthy marks older than the TTL and returns
// how many were dropped
func (s *MemoryHealthStore) CleanupExpired(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for adapter, override := range s.overrides {
		if override.ExpiredAt(now, ttl) {
			delete(s.overrides, adapter)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker periodically drops expired marks until stopCh closes
func (s *MemoryHealthStore) StartCleanupWorker(interval, ttl time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CleanupExpired(ttl)
		case <-stopCh:
			return
		}
	}
}

// HealthStoreStats reports store counters
type HealthStoreStats struct {
	Size   int
	Hits   uint64
	Writes uint64
}

// Stats returns store counters
func (s *MemoryHealthStore) Stats() HealthStoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return HealthStoreStats{
		Size:   len(s.overrides),
		Hits:   s.hits,
		Writes: s.writes,
	}
}
