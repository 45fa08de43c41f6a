package pricing

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Rate is the per-1K-token price for models whose id contains Prefix
type Rate struct {
	Prefix          string
	PromptPer1K     float64
	CompletionPer1K float64
}

// Cost returns the USD cost of the given token counts at this rate
func (r Rate) Cost(promptTokens, completionTokens int) float64 {
	return (float64(promptTokens)/1000)*r.PromptPer1K +
		(float64(completionTokens)/1000)*r.CompletionPer1K
}

// Table is an ordered list of rates. The first rate whose prefix occurs in
// the model id wins, so more specific prefixes must come first.
type Table struct {
	Rates    []Rate
	Fallback Rate
}

// DefaultFallback is applied to models that match no prefix. It is priced
// above every default rate.
var DefaultFallback = Rate{PromptPer1K: 0.02, CompletionPer1K: 0.1}

// DefaultTable returns the built-in pricing table
func DefaultTable() Table {
	return Table{
		Rates: []Rate{
			{Prefix: "deepseek", PromptPer1K: 0.00015, CompletionPer1K: 0.00045},
			{Prefix: "meta-llama", PromptPer1K: 0.00018, CompletionPer1K: 0.00018},
			{Prefix: "claude-haiku", PromptPer1K: 0.001, CompletionPer1K: 0.005},
			{Prefix: "claude-sonnet", PromptPer1K: 0.003, CompletionPer1K: 0.015},
			{Prefix: "claude-opus", PromptPer1K: 0.015, CompletionPer1K: 0.075},
			{Prefix: "gpt-4o-mini", PromptPer1K: 0.00015, CompletionPer1K: 0.0006},
			{Prefix: "gpt-4o", PromptPer1K: 0.0025, CompletionPer1K: 0.01},
		},
		Fallback: DefaultFallback,
	}
}

// Lookup returns the rate that applies to model and whether a prefix matched
func (t Table) Lookup(model string) (Rate, bool) {
	id := strings.ToLower(model)
	for _, r := range t.Rates {
		if strings.Contains(id, strings.ToLower(r.Prefix)) {
			return r, true
		}
	}
	return t.Fallback, false
}

// EstimateCost returns the estimated USD cost of a call to model
func (t Table) EstimateCost(model string, promptTokens, completionTokens int) float64 {
	rate, _ := t.Lookup(model)
	return rate.Cost(promptTokens, completionTokens)
}

// Validate checks that every rate has a prefix and no rate is negative
func (t Table) Validate() error {
	if t.Fallback.PromptPer1K < 0 || t.Fallback.CompletionPer1K < 0 {
		return fmt.Errorf("fallback rate must not be negative")
	}
	for i, r := range t.Rates {
		if strings.TrimSpace(r.Prefix) == "" {
			return fmt.Errorf("rate %d: empty prefix", i)
		}
		if r.PromptPer1K < 0 || r.CompletionPer1K < 0 {
			return fmt.Errorf("rate %q: negative price", r.Prefix)
		}
	}
	return nil
}

// UnderBilled returns the rates the fallback does not strictly exceed. An
// unknown model priced at the fallback could cost as little as one of these.
func (t Table) UnderBilled() []Rate {
	var out []Rate
	for _, r := range t.Rates {
		if r.PromptPer1K >= t.Fallback.PromptPer1K || r.CompletionPer1K >= t.Fallback.CompletionPer1K {
			out = append(out, r)
		}
	}
	return out
}

func (t Table) clone() Table {
	rates := make([]Rate, len(t.Rates))
	copy(rates, t.Rates)
	return Table{Rates: rates, Fallback: t.Fallback}
}

// Resolver prices calls against a table that can be swapped at runtime.
// It is safe for concurrent use.
type Resolver struct {
	table atomic.Pointer[Table]
}

// NewResolver creates a resolver for the given table
func NewResolver(t Table) *Resolver {
	r := &Resolver{}
	r.Reload(t)
	return r
}

// EstimateCost prices a call using the current table
func (r *Resolver) EstimateCost(model string, promptTokens, completionTokens int) float64 {
	return r.table.Load().EstimateCost(model, promptTokens, completionTokens)
}

// Reload replaces the pricing table
func (r *Resolver) Reload(t Table) {
	c := t.clone()
	r.table.Store(&c)
}

// Table returns a copy of the current table
func (r *Resolver) Table() Table {
	return r.table.Load().clone()
}
