// Package registry maintains the routing table: which adapters serve which
// capability, at what provider cost, and whether they are currently
// believed healthy. The table is rebuilt wholesale from the cost source and
// swapped atomically; health marks overlay it at read time.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/botmesh/model-gateway/models"
	"github.com/botmesh/model-gateway/services"
)

// CostSource supplies the provider cost rows the table is built from
type CostSource interface {
	LoadCosts(ctx context.Context) ([]models.ProviderCost, error)
}

// HealthStore tracks per-adapter health marks. Implementations are shared
// across gateway instances (Postgres) or process-local (memory).
type HealthStore interface {
	// Get returns the current override per adapter name
	Get(ctx context.Context) (map[string]models.HealthOverride, error)

	// MarkHealthy records a successful call against the adapter
	MarkHealthy(ctx context.Context, adapter string) error

	// MarkUnhealthy records a failed call against the adapter
	MarkUnhealthy(ctx context.Context, adapter string) error

	// Clear removes the adapter's override entirely
	Clear(ctx context.Context, adapter string) error
}

// Config holds the registry's cache and health tuning
type Config struct {
	// CacheTTL is how long a built table serves reads before the next
	// read triggers a rebuild
	CacheTTL time.Duration

	// UnhealthyTTL is how long an unhealthy mark suppresses an adapter
	// before it is optimistically retried
	UnhealthyTTL time.Duration

	// SelfHosted lists adapter names that run on owned GPU capacity, in
	// addition to the "self-hosted-" name convention
	SelfHosted []string
}

// DefaultConfig returns the standard cache windows
func DefaultConfig() Config {
	return Config{
		CacheTTL:     30 * time.Second,
		UnhealthyTTL: 60 * time.Second,
	}
}

// healthWriteTimeout bounds detached health-store writes
const healthWriteTimeout = 5 * time.Second

// Service is the provider registry
type Service struct {
	config     Config
	costs      CostSource
	health     HealthStore
	logger     *zap.Logger
	selfHosted map[string]struct{}

	mu          sync.RWMutex
	entries     map[models.Capability][]models.ModelProviderEntry
	refreshedAt time.Time

	// refreshMu serializes rebuilds so concurrent stale reads do not
	// stampede the cost source
	refreshMu sync.Mutex

	now func() time.Time
}

// NewService creates a registry over the given cost source and health store
func NewService(costs CostSource, health HealthStore, config Config, logger *zap.Logger) *Service {
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultConfig().CacheTTL
	}
	if config.UnhealthyTTL <= 0 {
		config.UnhealthyTTL = DefaultConfig().UnhealthyTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	selfHosted := make(map[string]struct{}, len(config.SelfHosted))
	for _, name := range config.SelfHosted {
		selfHosted[name] = struct{}{}
	}

	return &Service{
		config:     config,
		costs:      costs,
		health:     health,
		logger:     logger,
		selfHosted: selfHosted,
		entries:    make(map[models.Capability][]models.ModelProviderEntry),
		now:        time.Now,
	}
}

// GetProviders returns the provider entries for a capability, sorted
// gpu-first then by cost then priority, with the current health overlay
// applied. A stale or empty table is rebuilt first; if the rebuild fails
// and a previous table exists, the stale table is served.
func (s *Service) GetProviders(ctx context.Context, capability models.Capability) ([]models.ModelProviderEntry, error) {
	if !capability.IsValid() {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "unknown capability", nil).
			WithDetail("capability", string(capability))
	}

	if err := s.refreshIfStale(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	cached := s.entries[capability]
	s.mu.RUnlock()

	if len(cached) == 0 {
		return nil, nil
	}

	out := make([]models.ModelProviderEntry, len(cached))
	copy(out, cached)
	s.applyHealthOverlay(ctx, out)
	return out, nil
}

// Refresh rebuilds the table from the cost source and swaps it in
func (s *Service) Refresh(ctx context.Context) error {
	rows, err := s.costs.LoadCosts(ctx)
	if err != nil {
		return services.WrapExternal("cost source refresh failed", err)
	}

	entries := make(map[models.Capability][]models.ModelProviderEntry)
	for _, row := range rows {
		if !row.Capability.IsValid() {
			s.logger.Warn("skipping cost row with unknown capability",
				zap.String("capability", string(row.Capability)),
				zap.String("adapter", row.Adapter))
			continue
		}
		entries[row.Capability] = append(entries[row.Capability], models.EntryFromCost(row, s.selfHosted))
	}

	for capability := range entries {
		list := entries[capability]
		sort.SliceStable(list, func(i, j int) bool {
			return entryLess(list[i], list[j])
		})
	}

	s.mu.Lock()
	s.entries = entries
	s.refreshedAt = s.now()
	s.mu.Unlock()

	s.logger.Debug("provider table rebuilt", zap.Int("rows", len(rows)))
	return nil
}

// MarkHealthy records a successful call. Health-store failures are logged,
// never returned.
func (s *Service) MarkHealthy(ctx context.Context, adapter string) {
	if err := s.health.MarkHealthy(ctx, adapter); err != nil {
		s.logger.Warn("mark healthy failed",
			zap.String("adapter", adapter), zap.Error(err))
	}
}

// MarkUnhealthy records a failed call. Health-store failures are logged,
// never returned.
func (s *Service) MarkUnhealthy(ctx context.Context, adapter string) {
	if err := s.health.MarkUnhealthy(ctx, adapter); err != nil {
		s.logger.Warn("mark unhealthy failed",
			zap.String("adapter", adapter), zap.Error(err))
	}
}

// Stats describes the current table for the status endpoint
type Stats struct {
	RefreshedAt  time.Time                 `json:"refreshed_at"`
	EntryCount   int                       `json:"entry_count"`
	Capabilities map[models.Capability]int `json:"capabilities"`
}

// Snapshot returns counts over the cached table without rebuilding it
func (s *Service) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		RefreshedAt:  s.refreshedAt,
		Capabilities: make(map[models.Capability]int, len(s.entries)),
	}
	for capability, list := range s.entries {
		stats.Capabilities[capability] = len(list)
		stats.EntryCount += len(list)
	}
	return stats
}

// refreshIfStale rebuilds when the table is past its TTL or was never
// built. A failed rebuild is fatal only when there is nothing to serve.
func (s *Service) refreshIfStale(ctx context.Context) error {
	if !s.stale() {
		return nil
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	// another reader may have rebuilt while this one waited
	if !s.stale() {
		return nil
	}

	if err := s.Refresh(ctx); err != nil {
		s.mu.RLock()
		empty := len(s.entries) == 0
		s.mu.RUnlock()
		if empty {
			return err
		}
		s.logger.Warn("refresh failed, serving stale provider table", zap.Error(err))
	}
	return nil
}

func (s *Service) stale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshedAt.IsZero() || s.now().Sub(s.refreshedAt) >= s.config.CacheTTL
}

// applyHealthOverlay stamps health marks onto a copied entry list. An
// unhealthy mark past its TTL counts as healthy again and is cleared in
// the background on a best-effort basis.
func (s *Service) applyHealthOverlay(ctx context.Context, entries []models.ModelProviderEntry) {
	overrides, err := s.health.Get(ctx)
	if err != nil {
		s.logger.Warn("health overlay unavailable, assuming healthy", zap.Error(err))
		return
	}

	now := s.now()
	for i := range entries {
		override, ok := overrides[entries[i].Adapter]
		if !ok {
			continue
		}
		if override.Healthy {
			entries[i].Healthy = true
			continue
		}
		if override.ExpiredAt(now, s.config.UnhealthyTTL) {
			entries[i].Healthy = true
			s.clearExpired(entries[i].Adapter)
			continue
		}
		entries[i].Healthy = false
	}
}

// clearExpired removes a lapsed unhealthy mark without blocking the read
func (s *Service) clearExpired(adapter string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), healthWriteTimeout)
		defer cancel()
		if err := s.health.Clear(ctx, adapter); err != nil {
			s.logger.Warn("clear expired health mark failed",
				zap.String("adapter", adapter), zap.Error(err))
		}
	}()
}

// entryLess orders gpu capacity ahead of hosted, then cheapest first, then
// by priority
func entryLess(a, b models.ModelProviderEntry) bool {
	if a.Tier != b.Tier {
		return a.Tier == models.TierGPU
	}
	if a.ProviderCost != b.ProviderCost {
		return a.ProviderCost < b.ProviderCost
	}
	return a.Priority < b.Priority
}
