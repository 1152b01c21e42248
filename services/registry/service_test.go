package registry

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/botmesh/model-gateway/models"
	"github.com/botmesh/model-gateway/services"
)

type fakeCostSource struct {
	mu    sync.Mutex
	rows  []models.ProviderCost
	err   error
	calls int
}

func (f *fakeCostSource) LoadCosts(ctx context.Context) ([]models.ProviderCost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.ProviderCost, len(f.rows))
	copy(out, f.rows)
	return out, nil
}

func (f *fakeCostSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeCostSource) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type failingHealthStore struct {
	MemoryHealthStore
	failWrites bool
	failReads  bool
}

func (f *failingHealthStore) Get(ctx context.Context) (map[string]models.HealthOverride, error) {
	if f.failReads {
		return nil, errors.New("health store down")
	}
	return f.MemoryHealthStore.Get(ctx)
}

func (f *failingHealthStore) MarkUnhealthy(ctx context.Context, adapter string) error {
	if f.failWrites {
		return errors.New("health store down")
	}
	return f.MemoryHealthStore.MarkUnhealthy(ctx, adapter)
}

func (f *failingHealthStore) MarkHealthy(ctx context.Context, adapter string) error {
	if f.failWrites {
		return errors.New("health store down")
	}
	return f.MemoryHealthStore.MarkHealthy(ctx, adapter)
}

func ttsRows() []models.ProviderCost {
	return []models.ProviderCost{
		{Capability: models.CapabilityTTS, Adapter: "elevenlabs", CostUSD: 0.15, Unit: "per-1k-chars", Priority: 1, LatencyClass: "standard", IsActive: true},
		{Capability: models.CapabilityTTS, Adapter: "chatterbox-tts", CostUSD: 0.02, Unit: "per-minute", Priority: 1, LatencyClass: "standard", IsActive: true},
	}
}

func newTestService(rows []models.ProviderCost) (*Service, *fakeCostSource, *MemoryHealthStore) {
	source := &fakeCostSource{rows: rows}
	health := NewMemoryHealthStore()
	svc := NewService(source, health, Config{
		CacheTTL:     30 * time.Second,
		UnhealthyTTL: 60 * time.Second,
		SelfHosted:   []string{"chatterbox-tts"},
	}, zap.NewNop())
	return svc, source, health
}

func TestService_GetProviders_SortsGPUFirst(t *testing.T) {
	svc, _, _ := newTestService(ttsRows())

	entries, err := svc.GetProviders(context.Background(), models.CapabilityTTS)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// owned gpu capacity beats the cheaper-looking hosted rate ordering
	assert.Equal(t, "chatterbox-tts", entries[0].Adapter)
	assert.Equal(t, models.TierGPU, entries[0].Tier)
	assert.Equal(t, "elevenlabs", entries[1].Adapter)
	assert.Equal(t, models.TierHosted, entries[1].Tier)
}

func TestService_GetProviders_SortWithinTier(t *testing.T) {
	rows := []models.ProviderCost{
		{Capability: models.CapabilityTextGeneration, Adapter: "openai", CostUSD: 5.0, Priority: 2, IsActive: true},
		{Capability: models.CapabilityTextGeneration, Adapter: "anthropic", CostUSD: 3.0, Priority: 1, IsActive: true},
		{Capability: models.CapabilityTextGeneration, Adapter: "mistral", CostUSD: 3.0, Priority: 0, IsActive: true},
	}
	svc, _, _ := newTestService(rows)

	entries, err := svc.GetProviders(context.Background(), models.CapabilityTextGeneration)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// cost ascending, priority breaks the tie
	assert.Equal(t, "mistral", entries[0].Adapter)
	assert.Equal(t, "anthropic", entries[1].Adapter)
	assert.Equal(t, "openai", entries[2].Adapter)
}

func TestService_GetProviders_CachesWithinTTL(t *testing.T) {
	svc, source, _ := newTestService(ttsRows())

	base := time.Now()
	svc.now = func() time.Time { return base }

	_, err := svc.GetProviders(context.Background(), models.CapabilityTTS)
	require.NoError(t, err)
	_, err = svc.GetProviders(context.Background(), models.CapabilityTTS)
	require.NoError(t, err)
	assert.Equal(t, 1, source.callCount())

	// past the ttl the next read rebuilds
	svc.now = func() time.Time { return base.Add(31 * time.Second) }
	_, err = svc.GetProviders(context.Background(), models.CapabilityTTS)
	require.NoError(t, err)
	assert.Equal(t, 2, source.callCount())
}

func TestService_GetProviders_UnknownCapability(t *testing.T) {
	svc, _, _ := newTestService(nil)

	_, err := svc.GetProviders(context.Background(), models.Capability("mind-reading"))
	require.Error(t, err)
	assert.True(t, services.IsValidationError(err))
}

func TestService_GetProviders_RefreshFailure(t *testing.T) {
	t.Run("no cache means error", func(t *testing.T) {
		source := &fakeCostSource{err: errors.New("db down")}
		svc := NewService(source, NewMemoryHealthStore(), DefaultConfig(), zap.NewNop())

		_, err := svc.GetProviders(context.Background(), models.CapabilityTTS)
		require.Error(t, err)
		assert.True(t, services.IsExternalError(err))
	})

	t.Run("stale cache is served", func(t *testing.T) {
		svc, source, _ := newTestService(ttsRows())

		base := time.Now()
		svc.now = func() time.Time { return base }
		_, err := svc.GetProviders(context.Background(), models.CapabilityTTS)
		require.NoError(t, err)

		source.setErr(errors.New("db down"))
		svc.now = func() time.Time { return base.Add(time.Minute) }

		entries, err := svc.GetProviders(context.Background(), models.CapabilityTTS)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})
}

func TestService_HealthOverlay(t *testing.T) {
	svc, _, health := newTestService(ttsRows())
	ctx := context.Background()

	svc.MarkUnhealthy(ctx, "chatterbox-tts")

	entries, err := svc.GetProviders(ctx, models.CapabilityTTS)
	require.NoError(t, err)
	for _, e := range entries {
		if e.Adapter == "chatterbox-tts" {
			assert.False(t, e.Healthy)
		} else {
			assert.True(t, e.Healthy)
		}
	}

	// the overlay is applied to a copy; the cached table itself stays clean
	svc.MarkHealthy(ctx, "chatterbox-tts")
	entries, err = svc.GetProviders(ctx, models.CapabilityTTS)
	require.NoError(t, err)
	for _, e := range entries {
		assert.True(t, e.Healthy)
	}

	stats := health.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, uint64(2), stats.Writes)
}

func TestService_UnhealthyMarkExpires(t *testing.T) {
	svc, _, health := newTestService(ttsRows())
	ctx := context.Background()

	base := time.Now()
	svc.now = func() time.Time { return base }
	health.now = func() time.Time { return base }

	svc.MarkUnhealthy(ctx, "elevenlabs")

	entries, err := svc.GetProviders(ctx, models.CapabilityTTS)
	require.NoError(t, err)
	for _, e := range entries {
		if e.Adapter == "elevenlabs" {
			assert.False(t, e.Healthy)
		}
	}

	// past the unhealthy ttl the adapter is optimistically healthy again
	// and the lapsed mark is cleared in the background
	svc.now = func() time.Time { return base.Add(61 * time.Second) }

	entries, err = svc.GetProviders(ctx, models.CapabilityTTS)
	require.NoError(t, err)
	for _, e := range entries {
		assert.True(t, e.Healthy, "adapter %s should have self-healed", e.Adapter)
	}

	assert.Eventually(t, func() bool {
		overrides, _ := health.Get(ctx)
		_, present := overrides["elevenlabs"]
		return !present
	}, time.Second, 10*time.Millisecond, "expired mark should be cleared")
}

func TestService_HealthStoreFailures(t *testing.T) {
	t.Run("write failures are swallowed", func(t *testing.T) {
		source := &fakeCostSource{rows: ttsRows()}
		store := &failingHealthStore{failWrites: true}
		store.overrides = make(map[string]models.HealthOverride)
		store.MemoryHealthStore.now = time.Now
		svc := NewService(source, store, DefaultConfig(), zap.NewNop())

		// must not panic or propagate
		svc.MarkUnhealthy(context.Background(), "openai")
		svc.MarkHealthy(context.Background(), "openai")
	})

	t.Run("read failure serves entries as healthy", func(t *testing.T) {
		source := &fakeCostSource{rows: ttsRows()}
		store := &failingHealthStore{failReads: true}
		store.overrides = make(map[string]models.HealthOverride)
		store.MemoryHealthStore.now = time.Now
		svc := NewService(source, store, DefaultConfig(), zap.NewNop())

		entries, err := svc.GetProviders(context.Background(), models.CapabilityTTS)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		for _, e := range entries {
			assert.True(t, e.Healthy)
		}
	})
}

func TestService_Refresh_SkipsUnknownCapabilities(t *testing.T) {
	rows := append(ttsRows(), models.ProviderCost{
		Capability: "mind-reading", Adapter: "psychic", CostUSD: 1, IsActive: true,
	})
	svc, _, _ := newTestService(rows)

	require.NoError(t, svc.Refresh(context.Background()))

	stats := svc.Snapshot()
	assert.Equal(t, 2, stats.EntryCount)
	assert.NotContains(t, stats.Capabilities, models.Capability("mind-reading"))
}

func TestService_Snapshot(t *testing.T) {
	svc, _, _ := newTestService(ttsRows())

	require.NoError(t, svc.Refresh(context.Background()))

	stats := svc.Snapshot()
	assert.False(t, stats.RefreshedAt.IsZero())
	assert.Equal(t, 2, stats.EntryCount)
	assert.Equal(t, 2, stats.Capabilities[models.CapabilityTTS])
}

func TestService_DisabledRowsStayListed(t *testing.T) {
	rows := []models.ProviderCost{
		{Capability: models.CapabilityEmbeddings, Adapter: "openai", CostUSD: 0.02, IsActive: false},
	}
	svc, _, _ := newTestService(rows)

	entries, err := svc.GetProviders(context.Background(), models.CapabilityEmbeddings)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// disabled entries are carried for visibility; selection filters them
	assert.False(t, entries[0].Enabled)
}

func TestMemoryHealthStore_CleanupExpired(t *testing.T) {
	store := NewMemoryHealthStore()
	ctx := context.Background()

	base := time.Now()
	store.now = func() time.Time { return base }

	require.NoError(t, store.MarkUnhealthy(ctx, "openai"))
	require.NoError(t, store.MarkUnhealthy(ctx, "anthropic"))
	require.NoError(t, store.MarkHealthy(ctx, "elevenlabs"))

	store.now = func() time.Time { return base.Add(2 * time.Minute) }

	removed := store.CleanupExpired(time.Minute)
	assert.Equal(t, 2, removed)

	overrides, err := store.Get(ctx)
	require.NoError(t, err)
	// healthy marks never expire
	assert.Contains(t, overrides, "elevenlabs")
	assert.NotContains(t, overrides, "openai")
}

func TestStaticCostSource(t *testing.T) {
	source := &StaticCostSource{Rows: ttsRows()}

	rows, err := source.LoadCosts(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// mutating the returned slice must not touch the source
	rows[0].Adapter = "mutated"
	again, err := source.LoadCosts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "elevenlabs", again[0].Adapter)
}

func TestFileCostSource(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/costs.json"

	payload := `[
		{"capability":"tts","adapter":"chatterbox-tts","cost_usd":0.02,"unit":"per-minute","priority":1,"latency_class":"standard","is_active":true}
	]`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	source := &FileCostSource{Path: path}
	rows, err := source.LoadCosts(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "chatterbox-tts", rows[0].Adapter)
	assert.Equal(t, models.CapabilityTTS, rows[0].Capability)

	t.Run("missing file", func(t *testing.T) {
		source := &FileCostSource{Path: dir + "/nope.json"}
		_, err := source.LoadCosts(context.Background())
		assert.Error(t, err)
	})
}
