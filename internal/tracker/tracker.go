package tracker

import (
	"sort"
	"time"
)

// CallRecord is one completed LLM API call. Records are values: the ledger
// hands out copies and never mutates a record after it is appended.
type CallRecord struct {
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Caller           string    `json:"caller"`
	ConversationID   string    `json:"conversation_id"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	EstimatedCostUSD float64   `json:"estimated_cost_usd"`
	DurationMs       float64   `json:"duration_ms"`
	Success          bool      `json:"success"`
	Timestamp        time.Time `json:"timestamp"`
}

// normalize re-derives the fields a record must agree on
func (r CallRecord) normalize() CallRecord {
	r.TotalTokens = r.PromptTokens + r.CompletionTokens
	if !r.Success {
		r.EstimatedCostUSD = 0
	}
	return r
}

// CostSummary holds aggregate counters over a set of records
type CostSummary struct {
	TotalCalls            int     `json:"total_calls"`
	SuccessfulCalls       int     `json:"successful_calls"`
	FailedCalls           int     `json:"failed_calls"`
	TotalPromptTokens     int     `json:"total_prompt_tokens"`
	TotalCompletionTokens int     `json:"total_completion_tokens"`
	TotalTokens           int     `json:"total_tokens"`
	TotalCostUSD          float64 `json:"total_cost_usd"`
	TotalDurationMs       float64 `json:"total_duration_ms"`
}

// AgentObservability is a per-agent snapshot for dashboards and health checks
type AgentObservability struct {
	AgentName    string  `json:"agent_name"`
	CallCount    int     `json:"call_count"`
	ErrorCount   int     `json:"error_count"`
	ErrorRate    float64 `json:"error_rate"`
	TotalTokens  int     `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	P50LatencyMs float64 `json:"p50_latency_ms"`
	P95LatencyMs float64 `json:"p95_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`
}

// ObservabilityReport maps agent name to its observability snapshot
type ObservabilityReport map[string]AgentObservability

// Names returns the agent names in ascending order
func (r ObservabilityReport) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sorted returns the snapshots ordered by agent name
func (r ObservabilityReport) Sorted() []AgentObservability {
	out := make([]AgentObservability, 0, len(r))
	for _, name := range r.Names() {
		out = append(out, r[name])
	}
	return out
}

// CostEstimator prices a call. *pricing.Resolver and pricing.Table satisfy it.
type CostEstimator interface {
	EstimateCost(model string, promptTokens, completionTokens int) float64
}

// Recorder is the write side of the ledger, used by call producers
type Recorder interface {
	Record(provider, model, caller string, opts ...RecordOption) CallRecord
}
