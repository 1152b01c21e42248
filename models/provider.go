package models

import (
	"strings"
	"time"
)

// Capability represents a category of AI operation served by the gateway
type Capability string

const (
	CapabilityTextGeneration  Capability = "text-generation"
	CapabilityEmbeddings      Capability = "embeddings"
	CapabilityTTS             Capability = "tts"
	CapabilityImageGeneration Capability = "image-generation"
	CapabilityTranscription   Capability = "transcription"
)

// AllCapabilities returns the fixed set of capabilities the gateway routes
func AllCapabilities() []Capability {
	return []Capability{
		CapabilityTextGeneration,
		CapabilityEmbeddings,
		CapabilityTTS,
		CapabilityImageGeneration,
		CapabilityTranscription,
	}
}

// IsValid checks whether the capability is one of the known tags
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityTextGeneration, CapabilityEmbeddings, CapabilityTTS,
		CapabilityImageGeneration, CapabilityTranscription:
		return true
	}
	return false
}

// Tier distinguishes self-hosted capacity from third-party metered APIs
type Tier string

const (
	// TierGPU marks self-hosted deployments billed at amortized infrastructure cost
	TierGPU Tier = "gpu"
	// TierHosted marks third-party providers billed at metered wholesale prices
	TierHosted Tier = "hosted"
)

// LatencyClass buckets providers by expected response latency
type LatencyClass string

const (
	LatencyFast   LatencyClass = "fast"
	LatencyNormal LatencyClass = "normal"
	LatencySlow   LatencyClass = "slow"
)

// Rank returns the sort rank of the latency class (fast < normal < slow)
func (l LatencyClass) Rank() int {
	switch l {
	case LatencyFast:
		return 0
	case LatencyNormal:
		return 1
	case LatencySlow:
		return 2
	default:
		return 1
	}
}

// SelfHostedPrefix is the adapter-name prefix that implies the gpu tier
// when a cost row carries no explicit tier.
const SelfHostedPrefix = "self-hosted-"

// ProviderCost is one active row from the cost configuration source.
// Tier is optional; when empty the registry infers it from the adapter name.
type ProviderCost struct {
	Capability   Capability `json:"capability" db:"capability"`
	Adapter      string     `json:"adapter" db:"adapter"`
	CostUSD      float64    `json:"cost_usd" db:"cost_usd"`
	Unit         string     `json:"unit" db:"unit"`
	Priority     int        `json:"priority" db:"priority"`
	LatencyClass string     `json:"latency_class" db:"latency_class"`
	Tier         string     `json:"tier,omitempty" db:"tier"`
	IsActive     bool       `json:"is_active" db:"is_active"`
}

// ModelProviderEntry is one capability offering in the registry cache.
// Entries are rebuilt wholesale on every refresh and never mutated in place.
type ModelProviderEntry struct {
	Capability   Capability   `json:"capability"`
	Adapter      string       `json:"adapter"`
	Tier         Tier         `json:"tier"`
	ProviderCost float64      `json:"provider_cost"`
	CostUnit     string       `json:"cost_unit"`
	Healthy      bool         `json:"healthy"`
	Priority     int          `json:"priority"`
	LatencyClass LatencyClass `json:"latency_class"`
	Enabled      bool         `json:"enabled"`
}

// EntryFromCost maps a cost row to a registry entry. The selfHosted set
// holds adapter names known to run on the platform's own GPUs.
func EntryFromCost(row ProviderCost, selfHosted map[string]struct{}) ModelProviderEntry {
	return ModelProviderEntry{
		Capability:   row.Capability,
		Adapter:      row.Adapter,
		Tier:         tierForRow(row, selfHosted),
		ProviderCost: row.CostUSD,
		CostUnit:     row.Unit,
		Healthy:      true,
		Priority:     row.Priority,
		LatencyClass: latencyClassFor(row.LatencyClass),
		Enabled:      row.IsActive,
	}
}

func tierForRow(row ProviderCost, selfHosted map[string]struct{}) Tier {
	switch Tier(row.Tier) {
	case TierGPU:
		return TierGPU
	case TierHosted:
		return TierHosted
	}
	if _, ok := selfHosted[row.Adapter]; ok {
		return TierGPU
	}
	if strings.HasPrefix(row.Adapter, SelfHostedPrefix) {
		return TierGPU
	}
	return TierHosted
}

// latencyClassFor maps cost-row latency labels onto the provider buckets
func latencyClassFor(label string) LatencyClass {
	switch label {
	case "fast":
		return LatencyFast
	case "standard":
		return LatencyNormal
	case "batch":
		return LatencySlow
	default:
		return LatencyNormal
	}
}

// HealthOverride records an explicit health mark for one adapter
type HealthOverride struct {
	Adapter  string    `json:"adapter" db:"adapter"`
	Healthy  bool      `json:"healthy" db:"healthy"`
	MarkedAt time.Time `json:"marked_at" db:"marked_at"`
}

// TableName returns the table name for health overrides
func (HealthOverride) TableName() string {
	return "provider_health"
}

// ExpiredAt reports whether an unhealthy mark has outlived the TTL at the
// given instant. Healthy overrides never expire.
func (h HealthOverride) ExpiredAt(now time.Time, ttl time.Duration) bool {
	if h.Healthy {
		return false
	}
	return now.Sub(h.MarkedAt) >= ttl
}
