package provider

import (
	"sync"
	"time"
)

// ProviderMetrics is a point-in-time snapshot of one provider's counters.
type ProviderMetrics struct {
	Requests         int64   `json:"requests"`
	Successes        int64   `json:"successes"`
	Failures         int64   `json:"failures"`
	ModerationBlocks int64   `json:"moderation_blocks"`
	AvgLatencyMS     float64 `json:"avg_latency_ms"`
	LastError        string  `json:"last_error,omitempty"`
}

// Metrics tracks per-provider counters for the status surface. All methods
// are safe for concurrent use.
type Metrics struct {
	mu     sync.Mutex
	byName map[string]*ProviderMetrics
}

// NewMetrics returns an empty metrics table.
func NewMetrics() *Metrics {
	return &Metrics{byName: make(map[string]*ProviderMetrics)}
}

func (m *Metrics) get(name string) *ProviderMetrics {
	pm, ok := m.byName[name]
	if !ok {
		pm = &ProviderMetrics{}
		m.byName[name] = pm
	}
	return pm
}

// RecordSuccess counts one successful call and folds its latency into the
// incremental average.
func (m *Metrics) RecordSuccess(name string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pm := m.get(name)
	pm.Requests++
	pm.Successes++
	pm.AvgLatencyMS += (float64(latency.Milliseconds()) - pm.AvgLatencyMS) / float64(pm.Requests)
}

// RecordFailure counts one failed call and remembers its error.
func (m *Metrics) RecordFailure(name string, latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pm := m.get(name)
	pm.Requests++
	pm.Failures++
	pm.AvgLatencyMS += (float64(latency.Milliseconds()) - pm.AvgLatencyMS) / float64(pm.Requests)
	if err != nil {
		pm.LastError = err.Error()
	}
}

// RecordModerationBlock counts one post-generation block. The generation
// itself was already counted as a success.
func (m *Metrics) RecordModerationBlock(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(name).ModerationBlocks++
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]ProviderMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]ProviderMetrics, len(m.byName))
	for name, pm := range m.byName {
		out[name] = *pm
	}
	return out
}
