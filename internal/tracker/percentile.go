package tracker

import (
	"math"
	"sort"
)

// observe builds the observability snapshot for one agent's records
func observe(agentName string, records []CallRecord) AgentObservability {
	obs := AgentObservability{AgentName: agentName}
	if len(records) == 0 {
		return obs
	}

	durations := make([]float64, len(records))
	var sum float64
	for i, r := range records {
		durations[i] = r.DurationMs
		sum += r.DurationMs
		if !r.Success {
			obs.ErrorCount++
		}
		obs.TotalTokens += r.TotalTokens
		obs.TotalCostUSD += r.EstimatedCostUSD
	}
	sort.Float64s(durations)

	n := len(records)
	obs.CallCount = n
	obs.ErrorRate = float64(obs.ErrorCount) / float64(n)
	obs.AvgLatencyMs = sum / float64(n)
	obs.P50LatencyMs = percentile(durations, 50)
	obs.P95LatencyMs = percentile(durations, 95)
	obs.MaxLatencyMs = durations[n-1]
	return obs
}

// percentile picks a value from ascending data by nearest rank:
// index floor(N*pct/100), clamped to [0, N-1]. No interpolation.
func percentile(sorted []float64, pct float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	k := int(math.Floor(float64(n) * pct / 100))
	if k < 0 {
		k = 0
	}
	if k > n-1 {
		k = n - 1
	}
	return sorted[k]
}
