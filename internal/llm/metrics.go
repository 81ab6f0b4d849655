package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsProvider wraps an LLM provider with timing and call accounting.
type MetricsProvider struct {
	provider Provider
	name     string

	// Atomic counters
	totalCalls  int64
	totalErrors int64
	totalTokens int64

	// Protected by mutex
	mu           sync.RWMutex
	totalLatency time.Duration
	minLatency   time.Duration
	maxLatency   time.Duration
	modelStats   map[string]*ModelMetrics
}

// ModelMetrics tracks per-model performance.
type ModelMetrics struct {
	Calls        int64
	Errors       int64
	TotalLatency time.Duration
	Tokens       int64
}

// ProviderMetrics is a point-in-time snapshot of a provider's counters.
type ProviderMetrics struct {
	Provider     string                   `json:"provider"`
	TotalCalls   int64                    `json:"total_calls"`
	TotalErrors  int64                    `json:"total_errors"`
	TotalTokens  int64                    `json:"total_tokens"`
	AvgLatencyMS int64                    `json:"avg_latency_ms"`
	MinLatencyMS int64                    `json:"min_latency_ms"`
	MaxLatencyMS int64                    `json:"max_latency_ms"`
	Models       map[string]*ModelMetrics `json:"models"`
}

// NewMetricsProvider wraps a provider with metrics collection.
func NewMetricsProvider(provider Provider) *MetricsProvider {
	return &MetricsProvider{
		provider:   provider,
		name:       provider.Name(),
		minLatency: time.Hour, // Replaced on first call
		modelStats: make(map[string]*ModelMetrics),
	}
}

// Name returns the wrapped provider's identifier.
func (m *MetricsProvider) Name() string { return m.name }

// Available reports the wrapped provider's availability.
func (m *MetricsProvider) Available() bool { return m.provider.Available() }

// Chat implements Provider with metrics collection.
func (m *MetricsProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	resp, err := m.provider.Chat(ctx, req)
	latency := time.Since(start)

	atomic.AddInt64(&m.totalCalls, 1)
	if err != nil {
		atomic.AddInt64(&m.totalErrors, 1)
	} else if resp != nil {
		atomic.AddInt64(&m.totalTokens, int64(resp.TokensUsed))
	}

	m.mu.Lock()
	m.totalLatency += latency
	if latency < m.minLatency {
		m.minLatency = latency
	}
	if latency > m.maxLatency {
		m.maxLatency = latency
	}
	stats, ok := m.modelStats[req.Model]
	if !ok {
		stats = &ModelMetrics{}
		m.modelStats[req.Model] = stats
	}
	stats.Calls++
	stats.TotalLatency += latency
	if err != nil {
		stats.Errors++
	} else if resp != nil {
		stats.Tokens += int64(resp.TokensUsed)
	}
	m.mu.Unlock()

	return resp, err
}

// Snapshot returns a copy of the current metrics.
func (m *MetricsProvider) Snapshot() ProviderMetrics {
	calls := atomic.LoadInt64(&m.totalCalls)

	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := ProviderMetrics{
		Provider:     m.name,
		TotalCalls:   calls,
		TotalErrors:  atomic.LoadInt64(&m.totalErrors),
		TotalTokens:  atomic.LoadInt64(&m.totalTokens),
		MaxLatencyMS: m.maxLatency.Milliseconds(),
		Models:       make(map[string]*ModelMetrics, len(m.modelStats)),
	}
	if calls > 0 {
		snap.AvgLatencyMS = (m.totalLatency / time.Duration(calls)).Milliseconds()
		snap.MinLatencyMS = m.minLatency.Milliseconds()
	}
	for model, stats := range m.modelStats {
		copied := *stats
		snap.Models[model] = &copied
	}
	return snap
}
