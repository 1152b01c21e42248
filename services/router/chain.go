package router

import (
	"sort"

	"github.com/botmesh/model-gateway/models"
)

// Selection reasons reported alongside routing decisions.
const (
	// ReasonGPUCheapest means owned GPU capacity won on price within its tier
	ReasonGPUCheapest = "gpu-cheapest"

	// ReasonHostedCheapest means no GPU candidate existed and the cheapest
	// hosted provider won
	ReasonHostedCheapest = "hosted-cheapest"

	// ReasonLowLatency means latency-preferred ordering picked the winner
	ReasonLowLatency = "low-latency"

	// ReasonFailover means at least one earlier candidate failed first
	ReasonFailover = "failover"
)

// Options carries per-request routing inputs supplied by the caller.
type Options struct {
	// TenantID attributes margin records to the requesting tenant
	TenantID string

	// SellPriceUSD is the price quoted to the tenant for this request.
	// Zero disables margin recording.
	SellPriceUSD float64

	// PreferLowLatency orders candidates by latency class instead of tier
	PreferLowLatency bool
}

// Decision describes which adapter served a request and why it was chosen.
type Decision struct {
	Adapter  string      `json:"adapter"`
	Tier     models.Tier `json:"tier"`
	Reason   string      `json:"reason"`
	Attempts int         `json:"attempts"`
}

// BuildFailoverChain orders candidates for sequential attempts: every
// enabled, healthy GPU entry by ascending cost, then every enabled, healthy
// hosted entry by ascending cost. Priority breaks cost ties in both groups.
func BuildFailoverChain(entries []models.ModelProviderEntry) []models.ModelProviderEntry {
	return buildChain(entries, false)
}

func buildChain(entries []models.ModelProviderEntry, preferLowLatency bool) []models.ModelProviderEntry {
	chain := make([]models.ModelProviderEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Enabled && entry.Healthy {
			chain = append(chain, entry)
		}
	}

	if preferLowLatency {
		sort.SliceStable(chain, func(i, j int) bool {
			a, b := chain[i], chain[j]
			if a.LatencyClass.Rank() != b.LatencyClass.Rank() {
				return a.LatencyClass.Rank() < b.LatencyClass.Rank()
			}
			if a.ProviderCost != b.ProviderCost {
				return a.ProviderCost < b.ProviderCost
			}
			return a.Priority < b.Priority
		})
		return chain
	}

	sort.SliceStable(chain, func(i, j int) bool {
		a, b := chain[i], chain[j]
		if a.Tier != b.Tier {
			return a.Tier == models.TierGPU
		}
		if a.ProviderCost != b.ProviderCost {
			return a.ProviderCost < b.ProviderCost
		}
		return a.Priority < b.Priority
	})
	return chain
}

// chainReason names why the entry at the given attempt position won.
func chainReason(entry models.ModelProviderEntry, opts Options, attempt int) string {
	if attempt > 1 {
		return ReasonFailover
	}
	if opts.PreferLowLatency {
		return ReasonLowLatency
	}
	if entry.Tier == models.TierGPU {
		return ReasonGPUCheapest
	}
	return ReasonHostedCheapest
}
