package metering

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/botmesh/model-gateway/models"
)

// MockMarginStore is a mock implementation of MarginStore
type MockMarginStore struct {
	mock.Mock
	mu       sync.Mutex
	inserted []*models.MarginRecord
	block    chan struct{}
}

func (m *MockMarginStore) Insert(ctx context.Context, record *models.MarginRecord) error {
	if m.block != nil {
		<-m.block
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	args := m.Called(ctx, record)
	m.inserted = append(m.inserted, record)
	return args.Error(0)
}

func (m *MockMarginStore) SummarizeByTenant(ctx context.Context, tenantID string, since time.Time) (*models.MarginSummary, error) {
	args := m.Called(ctx, tenantID, since)
	if summary := args.Get(0); summary != nil {
		return summary.(*models.MarginSummary), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMarginStore) GetInserted() []*models.MarginRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.MarginRecord, len(m.inserted))
	copy(out, m.inserted)
	return out
}

func testRecord(tenantID string) models.MarginRecord {
	return models.NewMarginRecord(tenantID, models.CapabilityTTS, "chatterbox-tts", models.TierGPU, 0.02, 0.05)
}

func TestService_StartStop(t *testing.T) {
	store := new(MockMarginStore)
	service := NewService(store, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 2})

	require.NoError(t, service.Start())

	stats := service.GetStats()
	assert.True(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	// cannot start twice
	assert.Error(t, service.Start())

	require.NoError(t, service.Stop(time.Second))
	assert.False(t, service.GetStats().Started)

	// cannot stop twice
	assert.Error(t, service.Stop(time.Second))
}

func TestService_RecordMargin(t *testing.T) {
	store := new(MockMarginStore)
	store.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewService(store, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 2})
	require.NoError(t, service.Start())
	defer service.Stop(time.Second)

	service.RecordMargin(testRecord("tenant-1"))
	service.RecordMargin(testRecord("tenant-2"))

	assert.Eventually(t, func() bool {
		return len(store.GetInserted()) == 2
	}, time.Second, 10*time.Millisecond)

	stats := service.GetStats()
	assert.Equal(t, uint64(2), stats.Enqueued)
	assert.Equal(t, uint64(2), stats.Written)
	assert.Zero(t, stats.Dropped)
}

func TestService_StopDrainsQueue(t *testing.T) {
	store := new(MockMarginStore)
	store.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewService(store, zap.NewNop(), Config{BufferSize: 100, WorkerCount: 1})
	require.NoError(t, service.Start())

	for i := 0; i < 20; i++ {
		service.RecordMargin(testRecord("tenant-1"))
	}

	require.NoError(t, service.Stop(2*time.Second))
	assert.Len(t, store.GetInserted(), 20)
}

func TestService_BufferFullDropsRecord(t *testing.T) {
	store := &MockMarginStore{block: make(chan struct{})}
	store.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewService(store, zap.NewNop(), Config{BufferSize: 1, WorkerCount: 1})
	require.NoError(t, service.Start())

	// first record occupies the worker, second fills the buffer
	service.RecordMargin(testRecord("tenant-1"))
	assert.Eventually(t, func() bool {
		return service.GetStats().PendingRecords == 0
	}, time.Second, 5*time.Millisecond)
	service.RecordMargin(testRecord("tenant-2"))
	service.RecordMargin(testRecord("tenant-3"))

	stats := service.GetStats()
	assert.Equal(t, uint64(1), stats.Dropped)

	close(store.block)
	require.NoError(t, service.Stop(2*time.Second))
	assert.Len(t, store.GetInserted(), 2)
}

func TestService_RecordAfterStopIsDropped(t *testing.T) {
	store := new(MockMarginStore)
	service := NewService(store, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())
	require.NoError(t, service.Stop(time.Second))

	// must not panic on the closed queue
	service.RecordMargin(testRecord("tenant-1"))
	assert.Equal(t, uint64(1), service.GetStats().Dropped)
}

func TestService_InsertFailureCounted(t *testing.T) {
	store := new(MockMarginStore)
	store.On("Insert", mock.Anything, mock.Anything).Return(errors.New("db down"))

	service := NewService(store, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())
	defer service.Stop(time.Second)

	service.RecordMargin(testRecord("tenant-1"))

	assert.Eventually(t, func() bool {
		return service.GetStats().Failed == 1
	}, time.Second, 10*time.Millisecond)
}

func TestService_Summary(t *testing.T) {
	store := new(MockMarginStore)
	since := time.Now().Add(-24 * time.Hour)
	expected := &models.MarginSummary{
		TenantID:       "tenant-1",
		RequestCount:   42,
		TotalCost:      0.84,
		TotalSellPrice: 2.10,
		TotalMargin:    1.26,
		AvgMarginPct:   60,
	}
	store.On("SummarizeByTenant", mock.Anything, "tenant-1", since).Return(expected, nil)

	service := NewService(store, zap.NewNop(), DefaultConfig())

	summary, err := service.Summary(context.Background(), "tenant-1", since)
	require.NoError(t, err)
	assert.Equal(t, expected, summary)
}

func TestDefaultConfigApplied(t *testing.T) {
	service := NewService(new(MockMarginStore), nil, Config{})

	stats := service.GetStats()
	assert.Equal(t, DefaultConfig().BufferSize, stats.BufferSize)
	assert.Equal(t, DefaultConfig().WorkerCount, stats.WorkerCount)
}
