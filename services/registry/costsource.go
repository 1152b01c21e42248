package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/botmesh/model-gateway/models"
)

// StaticCostSource serves a fixed row set. Used in tests and as a seed for
// deployments without a cost database.
type StaticCostSource struct {
	Rows []models.ProviderCost
}

// LoadCosts returns the configured rows
func (s *StaticCostSource) LoadCosts(ctx context.Context) ([]models.ProviderCost, error) {
	out := make([]models.ProviderCost, len(s.Rows))
	copy(out, s.Rows)
	return out, nil
}

// FileCostSource reads cost rows from a JSON file on every load, so edits
// show up on the next refresh without a restart
type FileCostSource struct {
	Path string
}

// fileCostRow mirrors models.ProviderCost with an optional is_active so
// hand-written files can omit it and still get active rows
type fileCostRow struct {
	Capability   models.Capability `json:"capability"`
	Adapter      string            `json:"adapter"`
	CostUSD      float64           `json:"cost_usd"`
	Unit         string            `json:"unit"`
	Priority     int               `json:"priority"`
	LatencyClass string            `json:"latency_class"`
	Tier         string            `json:"tier,omitempty"`
	IsActive     *bool             `json:"is_active,omitempty"`
}

// LoadCosts parses the file into cost rows. Rows without an is_active field
// are treated as active.
func (s *FileCostSource) LoadCosts(ctx context.Context) ([]models.ProviderCost, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read cost file %s: %w", s.Path, err)
	}
	var rows []fileCostRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("parse cost file %s: %w", s.Path, err)
	}

	costs := make([]models.ProviderCost, 0, len(rows))
	for _, row := range rows {
		active := true
		if row.IsActive != nil {
			active = *row.IsActive
		}
		costs = append(costs, models.ProviderCost{
			Capability:   row.Capability,
			Adapter:      row.Adapter,
			CostUSD:      row.CostUSD,
			Unit:         row.Unit,
			Priority:     row.Priority,
			LatencyClass: row.LatencyClass,
			Tier:         row.Tier,
			IsActive:     active,
		})
	}
	return costs, nil
}
