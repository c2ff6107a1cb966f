package observability

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// Metrics records counters, gauges and timings. Implementations must be safe
// for concurrent use.
type Metrics interface {
	Counter(name string, value int64, tags ...Tag)
	Gauge(name string, value float64, tags ...Tag)
	Timing(name string, duration time.Duration, tags ...Tag)
}

// Tag labels a metric.
type Tag struct {
	Key   string
	Value string
}

// T creates a Tag.
func T(key, value string) Tag {
	return Tag{Key: key, Value: value}
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) Counter(string, int64, ...Tag)        {}
func (NoopMetrics) Gauge(string, float64, ...Tag)        {}
func (NoopMetrics) Timing(string, time.Duration, ...Tag) {}

// timingWindow is the number of recent samples kept per timing series.
const timingWindow = 256

// TimingSummary aggregates every sample of a timing series.
type TimingSummary struct {
	Count   int64   `json:"count"`
	TotalMS float64 `json:"total_ms"`
	MaxMS   float64 `json:"max_ms"`
}

// MetricsSnapshot is a point-in-time copy of an InMemoryMetrics, keyed by
// series name.
type MetricsSnapshot struct {
	Counters map[string]int64         `json:"counters"`
	Gauges   map[string]float64       `json:"gauges"`
	Timings  map[string]TimingSummary `json:"timings"`
}

type timingSeries struct {
	recent  []time.Duration
	summary TimingSummary
}

// InMemoryMetrics keeps metrics in process. A series is identified by its
// name and tag set; tag order does not matter. Only the most recent timing
// samples are retained, while the summary covers all of them.
type InMemoryMetrics struct {
	mu       sync.RWMutex
	counters map[string]int64
	gauges   map[string]float64
	timings  map[string]*timingSeries
}

// NewInMemoryMetrics creates an empty collector.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		counters: make(map[string]int64),
		gauges:   make(map[string]float64),
		timings:  make(map[string]*timingSeries),
	}
}

func (m *InMemoryMetrics) Counter(name string, value int64, tags ...Tag) {
	key := seriesKey(name, tags)
	m.mu.Lock()
	m.counters[key] += value
	m.mu.Unlock()
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...Tag) {
	key := seriesKey(name, tags)
	m.mu.Lock()
	m.gauges[key] = value
	m.mu.Unlock()
}

func (m *InMemoryMetrics) Timing(name string, duration time.Duration, tags ...Tag) {
	key := seriesKey(name, tags)
	ms := float64(duration) / float64(time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.timings[key]
	if !ok {
		s = &timingSeries{}
		m.timings[key] = s
	}
	if len(s.recent) == timingWindow {
		s.recent = append(s.recent[:0], s.recent[1:]...)
	}
	s.recent = append(s.recent, duration)
	s.summary.Count++
	s.summary.TotalMS += ms
	s.summary.MaxMS = max(s.summary.MaxMS, ms)
}

// GetCounter returns the value of a counter series.
func (m *InMemoryMetrics) GetCounter(name string, tags ...Tag) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[seriesKey(name, tags)]
}

// GetGauge returns the last value of a gauge series.
func (m *InMemoryMetrics) GetGauge(name string, tags ...Tag) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gauges[seriesKey(name, tags)]
}

// GetTimings returns the retained samples of a timing series, oldest first.
func (m *InMemoryMetrics) GetTimings(name string, tags ...Tag) []time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.timings[seriesKey(name, tags)]
	if !ok {
		return nil
	}
	return slices.Clone(s.recent)
}

// Snapshot copies every series.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		Counters: make(map[string]int64, len(m.counters)),
		Gauges:   make(map[string]float64, len(m.gauges)),
		Timings:  make(map[string]TimingSummary, len(m.timings)),
	}
	for k, v := range m.counters {
		snap.Counters[k] = v
	}
	for k, v := range m.gauges {
		snap.Gauges[k] = v
	}
	for k, s := range m.timings {
		snap.Timings[k] = s.summary
	}
	return snap
}

// Snapshotter is implemented by collectors that can report their series.
type Snapshotter interface {
	Snapshot() MetricsSnapshot
}

// seriesKey renders name{k=v,...} with tags sorted by key.
func seriesKey(name string, tags []Tag) string {
	if len(tags) == 0 {
		return name
	}
	sorted := slices.Clone(tags)
	slices.SortFunc(sorted, func(a, b Tag) int { return strings.Compare(a.Key, b.Key) })

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, t := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(t.Key)
		b.WriteByte('=')
		b.WriteString(t.Value)
	}
	b.WriteByte('}')
	return b.String()
}

// Metric names.
const (
	MetricOperationTotal    = "imagery.operation.total"
	MetricOperationDuration = "imagery.operation.duration"
	MetricOperationErrors   = "imagery.operation.errors"

	MetricCommandHandled  = "bus.command.handled"
	MetricCommandFailed   = "bus.command.failed"
	MetricCommandDuration = "bus.command.duration"
	MetricEventHandled    = "bus.event.handled"
	MetricEventFailed     = "bus.event.failed"
	MetricEventUnhandled  = "bus.event.unhandled"
	MetricEventDuration   = "bus.event.duration"

	MetricImagesUploaded        = "imagery.images.uploaded"
	MetricImagesTransformed     = "imagery.images.transformed"
	MetricTransformationsByType = "imagery.transformations.applied"

	MetricCacheHits   = "imagery.cache.hits"
	MetricCacheMisses = "imagery.cache.misses"

	MetricOutboxPublished    = "outbox.published"
	MetricOutboxFailed       = "outbox.failed"
	MetricOutboxDeadLettered = "outbox.dead_lettered"
	MetricOutboxLag          = "outbox.lag_seconds"

	MetricConsumerHandled     = "eventbus.consumer.handled"
	MetricConsumerFailed      = "eventbus.consumer.failed"
	MetricBreakerStateChanges = "eventbus.breaker.state_change"

	MetricHTTPRequests = "imagery.http.requests"
)
