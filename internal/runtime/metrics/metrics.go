// Package metrics exposes Prometheus collectors for watchers.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Resolution paths of a pending listener.
const (
	PathPublish   = "publish"
	PathTimeout   = "timeout"
	PathMaxWait   = "max_wait"
	PathCancelled = "cancelled"
)

// Reasons a received reply is dropped.
const (
	DropUnmatched   = "unmatched"
	DropUndecodable = "undecodable"
)

// WatcherMetrics tracks listener and reply statistics per watcher namespace.
// A nil *WatcherMetrics records nothing.
type WatcherMetrics struct {
	mu sync.RWMutex

	namespaces map[string]*NamespaceStats

	listensTotal   *prometheus.CounterVec
	resolvedTotal  *prometheus.CounterVec
	waitSeconds    *prometheus.HistogramVec
	pendingCurrent *prometheus.GaugeVec
	droppedTotal   *prometheus.CounterVec
	publishedTotal *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

// NamespaceStats mirrors the Prometheus series of one namespace so callers
// can read them without scraping.
type NamespaceStats struct {
	Listens       uint64            `json:"listens"`
	Resolved      map[string]uint64 `json:"resolved"`
	Dropped       map[string]uint64 `json:"dropped"`
	Published     uint64            `json:"published"`
	PublishErrors uint64            `json:"publish_errors"`
	Pending       int64             `json:"pending"`
	LastUpdatedAt time.Time         `json:"last_updated_at"`
}

func (s *NamespaceStats) clone() *NamespaceStats {
	c := *s
	c.Resolved = make(map[string]uint64, len(s.Resolved))
	for k, v := range s.Resolved {
		c.Resolved[k] = v
	}
	c.Dropped = make(map[string]uint64, len(s.Dropped))
	for k, v := range s.Dropped {
		c.Dropped[k] = v
	}
	return &c
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "runwatch",
			Subsystem: "watcher",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newGaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "runwatch",
			Subsystem: "watcher",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "runwatch",
			Subsystem: "watcher",
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// NewWatcherMetrics creates the collectors. They are not registered until
// Register is called.
func NewWatcherMetrics(registerer prometheus.Registerer) *WatcherMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &WatcherMetrics{
		namespaces:     make(map[string]*NamespaceStats),
		registerer:     registerer,
		listensTotal:   newCounterVec("listens_total", "Listeners registered", []string{"namespace", "timed"}),
		resolvedTotal:  newCounterVec("resolved_total", "Listeners resolved, by the path that won", []string{"namespace", "path"}),
		waitSeconds:    newHistogramVec("wait_seconds", "Time a listener waited before resolution", []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300}, []string{"namespace", "path"}),
		pendingCurrent: newGaugeVec("pending", "Listeners currently waiting", []string{"namespace"}),
		droppedTotal:   newCounterVec("dropped_total", "Replies received but not delivered", []string{"namespace", "reason"}),
		publishedTotal: newCounterVec("published_total", "Replies published to other handlers", []string{"namespace", "result"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *WatcherMetrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.listensTotal,
		m.resolvedTotal,
		m.waitSeconds,
		m.pendingCurrent,
		m.droppedTotal,
		m.publishedTotal,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordListen records a new pending listener.
func (m *WatcherMetrics) RecordListen(namespace string, timed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats(namespace)
	stats.Listens++
	stats.Pending++
	stats.LastUpdatedAt = time.Now()

	label := "false"
	if timed {
		label = "true"
	}
	m.listensTotal.WithLabelValues(namespace, label).Inc()
	m.pendingCurrent.WithLabelValues(namespace).Set(float64(stats.Pending))
}

// RecordResolved records the removal of a listener by path after waited.
func (m *WatcherMetrics) RecordResolved(namespace, path string, waited time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats(namespace)
	stats.Resolved[path]++
	if stats.Pending > 0 {
		stats.Pending--
	}
	stats.LastUpdatedAt = time.Now()

	m.resolvedTotal.WithLabelValues(namespace, path).Inc()
	m.waitSeconds.WithLabelValues(namespace, path).Observe(waited.Seconds())
	m.pendingCurrent.WithLabelValues(namespace).Set(float64(stats.Pending))
}

// RecordDropped records a reply that reached no listener.
func (m *WatcherMetrics) RecordDropped(namespace, reason string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats(namespace)
	stats.Dropped[reason]++
	stats.LastUpdatedAt = time.Now()

	m.droppedTotal.WithLabelValues(namespace, reason).Inc()
}

// RecordPublished records a reply publish attempt.
func (m *WatcherMetrics) RecordPublished(namespace string, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats(namespace)
	result := "ok"
	if err != nil {
		result = "error"
		stats.PublishErrors++
	} else {
		stats.Published++
	}
	stats.LastUpdatedAt = time.Now()

	m.publishedTotal.WithLabelValues(namespace, result).Inc()
}

// Stats returns a copy of the counters of namespace, or nil if nothing was
// recorded for it.
func (m *WatcherMetrics) Stats(namespace string) *NamespaceStats {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if stats, ok := m.namespaces[namespace]; ok {
		return stats.clone()
	}
	return nil
}

func (m *WatcherMetrics) stats(namespace string) *NamespaceStats {
	if stats, ok := m.namespaces[namespace]; ok {
		return stats
	}
	stats := &NamespaceStats{
		Resolved: make(map[string]uint64),
		Dropped:  make(map[string]uint64),
	}
	m.namespaces[namespace] = stats
	return stats
}

// Reset clears all series (useful for testing).
func (m *WatcherMetrics) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.namespaces = make(map[string]*NamespaceStats)
	m.listensTotal.Reset()
	m.resolvedTotal.Reset()
	m.waitSeconds.Reset()
	m.pendingCurrent.Reset()
	m.droppedTotal.Reset()
	m.publishedTotal.Reset()
}
