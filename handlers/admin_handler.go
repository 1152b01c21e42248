package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/botmesh/model-gateway/models"
	"github.com/botmesh/model-gateway/utils"
)

// defaultMarginWindow is the reporting window when the query gives none
const defaultMarginWindow = 24 * time.Hour

// MarginReader is the part of the metering pipeline the operator routes read
type MarginReader interface {
	Summary(ctx context.Context, tenantID string, since time.Time) (*models.MarginSummary, error)
}

// ProviderReader lists the live provider table for the operator surface
type ProviderReader interface {
	ProviderTable
	GetProviders(ctx context.Context, capability models.Capability) ([]models.ModelProviderEntry, error)
}

// marginReport is the operator view of a tenant's margins over a window
type marginReport struct {
	Since   time.Time             `json:"since"`
	Until   time.Time             `json:"until"`
	Summary *models.MarginSummary `json:"summary"`
}

// providersReport is the operator view of the provider table
type providersReport struct {
	RefreshedAt time.Time                                         `json:"refreshed_at"`
	EntryCount  int                                               `json:"entry_count"`
	Providers   map[models.Capability][]models.ModelProviderEntry `json:"providers"`
}

// AdminHandler handles the read-only operator routes. Margin and provider
// management lives in the provisioning system; this surface only reports.
type AdminHandler struct {
	margins   MarginReader
	providers ProviderReader
	logger    *zap.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(margins MarginReader, providers ProviderReader, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{
		margins:   margins,
		providers: providers,
		logger:    logger,
	}
}

// HandleTenantMargins handles GET /admin/margins/{tenantID}
// The optional since query parameter is RFC3339; the window defaults to the
// last 24 hours.
func (h *AdminHandler) HandleTenantMargins(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID := chi.URLParam(r, "tenantID")
	if tenantID == "" {
		_ = utils.WriteBadRequest(w, "tenant id is required", nil)
		return
	}

	now := time.Now().UTC()
	since := now.Add(-defaultMarginWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			_ = utils.WriteBadRequest(w, "since must be RFC3339", map[string]interface{}{
				"since": raw,
			})
			return
		}
		since = parsed
	}

	summary, err := h.margins.Summary(ctx, tenantID, since)
	if err != nil {
		h.logger.Error("margin summary failed",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	report := marginReport{
		Since:   since,
		Until:   now,
		Summary: summary,
	}
	if err := utils.WriteOK(w, report); err != nil {
		h.logger.Error("failed to write margin report", zap.Error(err))
	}
}

// HandleProviders handles GET /admin/providers
// Reports the live routable table per capability, with the health overlay
// applied, so an operator sees the same ordering the router walks.
func (h *AdminHandler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	report := providersReport{
		Providers: make(map[models.Capability][]models.ModelProviderEntry),
	}

	for _, capability := range models.AllCapabilities() {
		entries, err := h.providers.GetProviders(ctx, capability)
		if err != nil {
			h.logger.Error("provider listing failed",
				zap.String("capability", string(capability)),
				zap.Error(err))
			HandleServiceError(w, err, h.logger)
			return
		}
		if len(entries) == 0 {
			continue
		}
		report.Providers[capability] = entries
		report.EntryCount += len(entries)
	}
	report.RefreshedAt = h.providers.Snapshot().RefreshedAt

	if err := utils.WriteOK(w, report); err != nil {
		h.logger.Error("failed to write provider report", zap.Error(err))
	}
}
