// internal/utils/metrics.go
package utils

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector collects application metrics
type MetricsCollector struct {
	counters   map[string]*int64
	gauges     map[string]*int64
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Histogram tracks count, sum, min and max of observed values.
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*int64),
		gauges:     make(map[string]*int64),
		histograms: make(map[string]*Histogram),
	}
}

// GetMetricsCollector returns the process-wide collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

// slot returns the value cell for name, creating it on first use.
func (m *MetricsCollector) slot(set map[string]*int64, name string) *int64 {
	m.mu.RLock()
	v, ok := set[name]
	m.mu.RUnlock()
	if ok {
		return v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok = set[name]; !ok {
		v = new(int64)
		set[name] = v
	}
	return v
}

// IncrementCounter increments a counter metric
func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(m.slot(m.counters, name), 1)
}

// AddCounter adds a value to a counter metric
func (m *MetricsCollector) AddCounter(name string, value int64) {
	atomic.AddInt64(m.slot(m.counters, name), value)
}

// SetGauge sets a gauge metric
func (m *MetricsCollector) SetGauge(name string, value int64) {
	atomic.StoreInt64(m.slot(m.gauges, name), value)
}

// GetGauge gets the current value of a gauge
func (m *MetricsCollector) GetGauge(name string) int64 {
	m.mu.RLock()
	v, ok := m.gauges[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v)
}

// GetCounterValue gets the current value of a counter
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	v, ok := m.counters[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v)
}

// RecordHistogram records a value in a histogram
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		if h, ok = m.histograms[name]; !ok {
			h = &Histogram{min: value, max: value}
			m.histograms[name] = h
		}
		m.mu.Unlock()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	if value < h.min {
		h.min = value
	}
	if value > h.max {
		h.max = value
	}
}

// GetMetrics returns a snapshot of all metrics
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, v := range m.counters {
		counters[name] = atomic.LoadInt64(v)
	}

	gauges := make(map[string]int64, len(m.gauges))
	for name, v := range m.gauges {
		gauges[name] = atomic.LoadInt64(v)
	}

	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, h := range m.histograms {
		h.mu.Lock()
		histograms[name] = map[string]int64{
			"count": h.count,
			"sum":   h.sum,
			"min":   h.min,
			"max":   h.max,
		}
		h.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// GameMetrics names the metrics recorded by the conversation pipeline.
type GameMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

// NewGameMetrics wraps a collector; nil means the process-wide one.
func NewGameMetrics(m *MetricsCollector) *GameMetrics {
	if m == nil {
		m = GetMetricsCollector()
	}
	return &GameMetrics{metrics: m, logger: GetLogger()}
}

// Collector exposes the underlying collector.
func (gm *GameMetrics) Collector() *MetricsCollector {
	return gm.metrics
}

// RecordAPIRequest records metrics for an HTTP request
func (gm *GameMetrics) RecordAPIRequest(route, method string, statusCode int, duration time.Duration) {
	gm.metrics.IncrementCounter("api_requests_total")
	gm.metrics.IncrementCounter("api_requests_" + method + "_" + route)
	gm.metrics.IncrementCounter("api_responses_" + strconv.Itoa(statusCode/100) + "xx")
	gm.metrics.RecordHistogram("api_response_time_ms", duration.Milliseconds())
}

// RecordLLMRequest records one remote completion attempt.
func (gm *GameMetrics) RecordLLMRequest(model string, tokensUsed int, duration time.Duration, err error) {
	gm.metrics.IncrementCounter("llm_requests_total")
	gm.metrics.RecordHistogram("llm_response_time_ms", duration.Milliseconds())
	if err != nil {
		gm.metrics.IncrementCounter("llm_failures_total")
		return
	}
	gm.metrics.AddCounter("llm_tokens_total", int64(tokensUsed))
	gm.logger.Debug("LLM request completed", map[string]interface{}{
		"model":    model,
		"tokens":   tokensUsed,
		"duration": duration.Milliseconds(),
	})
}

// RecordFallback counts a locally generated reply.
func (gm *GameMetrics) RecordFallback(category string) {
	gm.metrics.IncrementCounter("fallback_replies_total")
	gm.metrics.IncrementCounter("fallback_replies_" + category)
}

// SetQueueLength publishes the serializer backlog.
func (gm *GameMetrics) SetQueueLength(n int) {
	gm.metrics.SetGauge("reply_queue_length", int64(n))
}

// RecordTurn counts a completed conversation turn.
func (gm *GameMetrics) RecordTurn(characterID string, stale bool) {
	if stale {
		gm.metrics.IncrementCounter("turns_stale_total")
		return
	}
	gm.metrics.IncrementCounter("turns_total")
	gm.metrics.IncrementCounter("turns_" + characterID)
}

// RecordUnlock counts an achievement unlock.
func (gm *GameMetrics) RecordUnlock(achievementID string) {
	gm.metrics.IncrementCounter("achievements_unlocked_total")
}

// StartMetricsReport logs a metrics summary every interval until ctx ends.
func (gm *GameMetrics) StartMetricsReport(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				gm.logger.Info("Periodic metrics report", map[string]interface{}{
					"metrics": gm.metrics.GetMetrics(),
				})
			}
		}
	}()
}
