package metering

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/botmesh/model-gateway/models"
)

// MarginStore persists margin records and serves aggregates over them.
type MarginStore interface {
	Insert(ctx context.Context, record *models.MarginRecord) error
	SummarizeByTenant(ctx context.Context, tenantID string, since time.Time) (*models.MarginSummary, error)
}

// Config holds configuration for the metering service
type Config struct {
	BufferSize  int // size of the record buffer channel
	WorkerCount int // number of concurrent writers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 4,
	}
}

const insertTimeout = 5 * time.Second

// Service persists margin records off the request path. Records are queued
// on a buffered channel and written by background workers; a full buffer
// drops the record rather than stall a tenant request.
type Service struct {
	store       MarginStore
	logger      *zap.Logger
	records     chan models.MarginRecord
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup

	mu      sync.Mutex
	started bool

	enqueued uint64
	dropped  uint64
	written  uint64
	failed   uint64
}

// NewService creates a metering service
func NewService(store MarginStore, logger *zap.Logger, config Config) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}
	return &Service{
		store:       store,
		logger:      logger,
		records:     make(chan models.MarginRecord, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
	}
}

// Start launches the background writers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("metering service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started metering service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))
	return nil
}

// Stop drains queued records and waits for the writers, up to the timeout.
// Records enqueued after Stop are dropped.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("metering service not started")
	}
	s.started = false
	s.mu.Unlock()

	s.logger.Info("stopping metering service", zap.Int("pending_records", len(s.records)))
	close(s.records)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("metering service stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("metering service stop timeout after %v", timeout)
	}
}

// RecordMargin queues a margin record without blocking. Implements the
// router's margin reporter.
func (s *Service) RecordMargin(record models.MarginRecord) {
	s.mu.Lock()
	if !s.started {
		s.dropped++
		s.mu.Unlock()
		s.logger.Warn("metering service not running, dropping margin record",
			zap.String("tenant_id", record.TenantID),
			zap.String("adapter", record.Adapter))
		return
	}
	s.mu.Unlock()

	select {
	case s.records <- record:
		s.mu.Lock()
		s.enqueued++
		s.mu.Unlock()
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		s.logger.Warn("margin buffer full, dropping record",
			zap.String("tenant_id", record.TenantID),
			zap.String("adapter", record.Adapter),
			zap.Float64("margin", record.Margin))
	}
}

// Summary aggregates a tenant's margins since the given instant.
func (s *Service) Summary(ctx context.Context, tenantID string, since time.Time) (*models.MarginSummary, error) {
	return s.store.SummarizeByTenant(ctx, tenantID, since)
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("metering worker started", zap.Int("worker_id", id))

	for record := range s.records {
		if err := s.persist(record); err != nil {
			s.mu.Lock()
			s.failed++
			s.mu.Unlock()
			s.logger.Error("failed to persist margin record",
				zap.Int("worker_id", id),
				zap.String("tenant_id", record.TenantID),
				zap.String("adapter", record.Adapter),
				zap.Error(err))
			continue
		}
		s.mu.Lock()
		s.written++
		s.mu.Unlock()
	}

	s.logger.Debug("metering worker stopped", zap.Int("worker_id", id))
}

func (s *Service) persist(record models.MarginRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()
	return s.store.Insert(ctx, &record)
}

// Stats represents metering service counters, reported on the status route
type Stats struct {
	BufferSize     int    `json:"buffer_size"`
	PendingRecords int    `json:"pending_records"`
	WorkerCount    int    `json:"worker_count"`
	Started        bool   `json:"started"`
	Enqueued       uint64 `json:"enqueued"`
	Dropped        uint64 `json:"dropped"`
	Written        uint64 `json:"written"`
	Failed         uint64 `json:"failed"`
}

// GetStats returns statistics about the metering service
func (s *Service) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:     s.bufferSize,
		PendingRecords: len(s.records),
		WorkerCount:    s.workerCount,
		Started:        s.started,
		Enqueued:       s.enqueued,
		Dropped:        s.dropped,
		Written:        s.written,
		Failed:         s.failed,
	}
}
