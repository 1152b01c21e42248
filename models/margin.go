package models

import (
	"time"

	"github.com/google/uuid"
)

// MarginRecord captures wholesale cost vs. billed price for one routed request
type MarginRecord struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	TenantID     string     `json:"tenant_id" db:"tenant_id"`
	Capability   Capability `json:"capability" db:"capability"`
	Adapter      string     `json:"adapter" db:"adapter"`
	Tier         Tier       `json:"tier" db:"tier"`
	ProviderCost float64    `json:"provider_cost" db:"provider_cost"`
	SellPrice    float64    `json:"sell_price" db:"sell_price"`
	Margin       float64    `json:"margin" db:"margin"`
	MarginPct    float64    `json:"margin_pct" db:"margin_pct"`
	Timestamp    time.Time  `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for margin records
func (MarginRecord) TableName() string {
	return "margin_records"
}

// NewMarginRecord derives a margin record from the actual cost incurred by
// the winning adapter and the price quoted to the tenant.
func NewMarginRecord(tenantID string, capability Capability, adapter string, tier Tier, providerCost, sellPrice float64) MarginRecord {
	margin := sellPrice - providerCost
	pct := 0.0
	if sellPrice != 0 {
		pct = margin / sellPrice * 100
	}
	return MarginRecord{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Capability:   capability,
		Adapter:      adapter,
		Tier:         tier,
		ProviderCost: providerCost,
		SellPrice:    sellPrice,
		Margin:       margin,
		MarginPct:    pct,
		Timestamp:    time.Now().UTC(),
	}
}

// MarginSummary aggregates margin records for one tenant over a window
type MarginSummary struct {
	TenantID       string  `json:"tenant_id"`
	RequestCount   int64   `json:"request_count"`
	TotalCost      float64 `json:"total_cost"`
	TotalSellPrice float64 `json:"total_sell_price"`
	TotalMargin    float64 `json:"total_margin"`
	AvgMarginPct   float64 `json:"avg_margin_pct"`
}
