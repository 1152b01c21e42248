package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/botmesh/model-gateway/services/metering"
	"github.com/botmesh/model-gateway/services/registry"
	"github.com/botmesh/model-gateway/utils"
)

// ProviderTable is the part of the provider registry the health and operator
// endpoints read
type ProviderTable interface {
	Snapshot() registry.Stats
}

// MeterStats is the part of the metering pipeline the status endpoint reads
type MeterStats interface {
	GetStats() metering.Stats
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// StatusResponse reports the running state of the gateway
type StatusResponse struct {
	Status      string         `json:"status"`
	Timestamp   string         `json:"timestamp"`
	Providers   registry.Stats `json:"providers"`
	Metering    metering.Stats `json:"metering"`
	SigningKeys []string       `json:"signing_keys"`
}

// HealthHandler handles the health, readiness and status routes
type HealthHandler struct {
	db       *sql.DB
	registry ProviderTable
	metering MeterStats
	keyIDs   []string
	logger   *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db is the margin store
// connection and may be nil when margin persistence is disabled.
func NewHealthHandler(db *sql.DB, providers ProviderTable, meter MeterStats, keyIDs []string, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		db:       db,
		registry: providers,
		metering: meter,
		keyIDs:   keyIDs,
		logger:   logger,
	}
}

// HandleHealth handles GET /health
// Basic liveness check, always returns 200 while the process is serving
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /ready
// Ready means the provider table has entries to route to and the margin
// store answers, when one is configured
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if stats := h.registry.Snapshot(); stats.EntryCount == 0 {
		checks["providers"] = "empty"
		allHealthy = false
	} else {
		checks["providers"] = "ready"
	}

	switch err := h.checkMarginStore(ctx); {
	case h.db == nil:
		checks["margin_store"] = "disabled"
	case err != nil:
		h.logger.Warn("margin store health check failed", zap.Error(err))
		checks["margin_store"] = "unhealthy"
		allHealthy = false
	default:
		checks["margin_store"] = "healthy"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// HandleStatus handles GET /status
// Reports the provider table snapshot, metering pipeline counters and the
// configured signing key ids. Key secrets never leave the process.
func (h *HealthHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{
		Status:      "ok",
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Providers:   h.registry.Snapshot(),
		Metering:    h.metering.GetStats(),
		SigningKeys: h.keyIDs,
	}

	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write status response", zap.Error(err))
	}
}

// checkMarginStore checks margin store connectivity
func (h *HealthHandler) checkMarginStore(ctx context.Context) error {
	if h.db == nil {
		return nil
	}

	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return err
	}

	return nil
}
