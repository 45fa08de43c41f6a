package tracker

import (
	"sort"
	"sync"
	"time"
)

// Ledger is an append-only, in-memory store of call records with
// aggregation by conversation, provider and caller. It is safe for
// concurrent use. Every read and write of the record slice happens under a
// single mutex; aggregation runs on a copy after the lock is released.
//
// One ledger is meant to live for the lifetime of the process. Create it
// once and pass it to the components that record or query calls.
type Ledger struct {
	mu      sync.Mutex
	records []CallRecord

	pricer CostEstimator
	now    func() time.Time
}

// LedgerOption configures a Ledger
type LedgerOption func(*Ledger)

// WithClock sets the time source used to stamp records
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

// NewLedger creates an empty ledger that prices calls with pricer
func NewLedger(pricer CostEstimator, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		pricer: pricer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type recordParams struct {
	conversationID   string
	promptTokens     int
	completionTokens int
	durationMs       float64
	success          bool
	at               time.Time
}

// RecordOption sets an optional field of a recorded call
type RecordOption func(*recordParams)

// WithConversation attributes the call to a conversation
func WithConversation(id string) RecordOption {
	return func(p *recordParams) {
		p.conversationID = id
	}
}

// WithTokens sets the prompt and completion token counts
func WithTokens(prompt, completion int) RecordOption {
	return func(p *recordParams) {
		p.promptTokens = prompt
		p.completionTokens = completion
	}
}

// WithDuration sets the wall-clock duration of the call in milliseconds
func WithDuration(ms float64) RecordOption {
	return func(p *recordParams) {
		p.durationMs = ms
	}
}

// WithSuccess marks whether the call succeeded. Calls succeed by default.
func WithSuccess(ok bool) RecordOption {
	return func(p *recordParams) {
		p.success = ok
	}
}

// At overrides the record timestamp, e.g. when replaying a call log
func At(ts time.Time) RecordOption {
	return func(p *recordParams) {
		p.at = ts
	}
}

// Record appends one call to the ledger and returns a copy of the stored
// record. Input is not validated: negative counts are stored as given.
func (l *Ledger) Record(provider, model, caller string, opts ...RecordOption) CallRecord {
	p := recordParams{success: true}
	for _, opt := range opts {
		opt(&p)
	}

	var cost float64
	if p.success && l.pricer != nil {
		cost = l.pricer.EstimateCost(model, p.promptTokens, p.completionTokens)
	}

	ts := p.at
	if ts.IsZero() {
		ts = l.now()
	}

	rec := CallRecord{
		Provider:         provider,
		Model:            model,
		Caller:           caller,
		ConversationID:   p.conversationID,
		PromptTokens:     p.promptTokens,
		CompletionTokens: p.completionTokens,
		TotalTokens:      p.promptTokens + p.completionTokens,
		EstimatedCostUSD: cost,
		DurationMs:       p.durationMs,
		Success:          p.success,
		Timestamp:        ts,
	}

	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()

	return rec
}

// Import appends records that were priced elsewhere, such as rows loaded
// from an archive. Token totals and failed-call costs are re-derived.
func (l *Ledger) Import(records ...CallRecord) {
	if len(records) == 0 {
		return
	}
	normalized := make([]CallRecord, len(records))
	for i, r := range records {
		normalized[i] = r.normalize()
	}

	l.mu.Lock()
	l.records = append(l.records, normalized...)
	l.mu.Unlock()
}

// Len returns the number of records in the ledger
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Snapshot returns a copy of every record in append order
func (l *Ledger) Snapshot() []CallRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]CallRecord, len(l.records))
	copy(out, l.records)
	return out
}

// filter copies the records matching keep under the lock
func (l *Ledger) filter(keep func(*CallRecord) bool) []CallRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []CallRecord
	for i := range l.records {
		if keep(&l.records[i]) {
			out = append(out, l.records[i])
		}
	}
	return out
}

// ConversationSummary aggregates the calls of one conversation. The empty
// id selects calls that were not part of any conversation.
func (l *Ledger) ConversationSummary(conversationID string) CostSummary {
	return aggregate(l.filter(func(r *CallRecord) bool {
		return r.ConversationID == conversationID
	}))
}

// ProviderSummary aggregates the calls made to one provider
func (l *Ledger) ProviderSummary(provider string) CostSummary {
	return aggregate(l.filter(func(r *CallRecord) bool {
		return r.Provider == provider
	}))
}

// CallerSummary aggregates the calls made by one caller
func (l *Ledger) CallerSummary(caller string) CostSummary {
	return aggregate(l.filter(func(r *CallRecord) bool {
		return r.Caller == caller
	}))
}

// SessionSummary aggregates every call since construction or the last Reset
func (l *Ledger) SessionSummary() CostSummary {
	return aggregate(l.Snapshot())
}

// AgentObservability computes call, error, cost and latency figures for the
// calls made by agentName. An unknown agent yields a zero snapshot.
func (l *Ledger) AgentObservability(agentName string) AgentObservability {
	records := l.filter(func(r *CallRecord) bool {
		return r.Caller == agentName
	})
	return observe(agentName, records)
}

// ObservabilityReport returns a snapshot for every caller in the ledger.
//
// Each agent is computed from its own snapshot, so records appended while
// the report is being built may appear for some agents and not others.
// The report is not a single point-in-time view.
func (l *Ledger) ObservabilityReport() ObservabilityReport {
	l.mu.Lock()
	seen := make(map[string]struct{})
	for i := range l.records {
		seen[l.records[i].Caller] = struct{}{}
	}
	l.mu.Unlock()

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	report := make(ObservabilityReport, len(names))
	for _, name := range names {
		report[name] = l.AgentObservability(name)
	}
	return report
}

// Reset removes every record
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.records = nil
	l.mu.Unlock()
}

func aggregate(records []CallRecord) CostSummary {
	var s CostSummary
	for _, r := range records {
		s.TotalCalls++
		if r.Success {
			s.SuccessfulCalls++
		} else {
			s.FailedCalls++
		}
		s.TotalPromptTokens += r.PromptTokens
		s.TotalCompletionTokens += r.CompletionTokens
		s.TotalTokens += r.TotalTokens
		s.TotalCostUSD += r.EstimatedCostUSD
		s.TotalDurationMs += r.DurationMs
	}
	return s
}
