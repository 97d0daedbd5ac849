package leadguard

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MetricsCollector abstracts the counters the pipeline emits so deployments
// can plug in their own backend.
type MetricsCollector interface {
	IncrementCounter(name string, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
	ExportPrometheus() string
	HealthCheck() error
}

// InMemoryMetricsCollector implements MetricsCollector with plain maps and a
// Prometheus text export for scraping.
type InMemoryMetricsCollector struct {
	mu       sync.RWMutex
	counters map[string]map[string]int64
	gauges   map[string]map[string]float64
}

func NewInMemoryMetricsCollector() *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{
		counters: make(map[string]map[string]int64),
		gauges:   make(map[string]map[string]float64),
	}
}

func (m *InMemoryMetricsCollector) IncrementCounter(name string, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters[name] == nil {
		m.counters[name] = make(map[string]int64)
	}
	m.counters[name][labelKey(labels)]++
}

func (m *InMemoryMetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gauges[name] == nil {
		m.gauges[name] = make(map[string]float64)
	}
	m.gauges[name][labelKey(labels)] = value
}

// CounterValue returns the current value of a counter (for tests).
func (m *InMemoryMetricsCollector) CounterValue(name string, labels map[string]string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if counters, exists := m.counters[name]; exists {
		return counters[labelKey(labels)]
	}
	return 0
}

func (m *InMemoryMetricsCollector) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_ = len(m.counters)
	return nil
}

// ExportPrometheus renders all counters and gauges in Prometheus text format.
func (m *InMemoryMetricsCollector) ExportPrometheus() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out strings.Builder
	for _, name := range sortedKeys(m.counters) {
		out.WriteString(fmt.Sprintf("# TYPE %s counter\n", name))
		for _, labels := range sortedKeys(m.counters[name]) {
			if labels == "" {
				out.WriteString(fmt.Sprintf("%s %d\n", name, m.counters[name][labels]))
				continue
			}
			out.WriteString(fmt.Sprintf("%s{%s} %d\n", name, labels, m.counters[name][labels]))
		}
	}
	for _, name := range sortedKeys(m.gauges) {
		out.WriteString(fmt.Sprintf("# TYPE %s gauge\n", name))
		for _, labels := range sortedKeys(m.gauges[name]) {
			if labels == "" {
				out.WriteString(fmt.Sprintf("%s %f\n", name, m.gauges[name][labels]))
				continue
			}
			out.WriteString(fmt.Sprintf("%s{%s} %f\n", name, labels, m.gauges[name][labels]))
		}
	}
	return out.String()
}

func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return strings.Join(parts, ",")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
