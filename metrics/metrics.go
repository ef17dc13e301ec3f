// Package metrics exposes Prometheus collectors for hierarchy builds, match
// batches and the database connection pool.
package metrics

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/docutag/taxonomy/models"
)

const namespace = "taxonomy"

// Metrics holds the core collectors. A nil *Metrics records nothing.
type Metrics struct {
	hierarchyBuilds   prometheus.Counter
	hierarchyWarnings *prometheus.CounterVec
	hierarchyDuration prometheus.Histogram
	hierarchyNodes    prometheus.Gauge
	matchBatches      prometheus.Counter
	matchResults      *prometheus.CounterVec
	unmatchedSources  prometheus.Counter
	matchDuration     prometheus.Histogram
}

// New registers the core collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		hierarchyBuilds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hierarchy_builds_total",
			Help:      "Number of hierarchy builds.",
		}),
		hierarchyWarnings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hierarchy_warnings_total",
			Help:      "Warnings emitted by hierarchy builds, by type.",
		}, []string{"type"}),
		hierarchyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hierarchy_build_duration_seconds",
			Help:      "Time spent building a hierarchy.",
			Buckets:   prometheus.DefBuckets,
		}),
		hierarchyNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hierarchy_nodes",
			Help:      "Number of nodes in the most recent hierarchy.",
		}),
		matchBatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_batches_total",
			Help:      "Number of match batches.",
		}),
		matchResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_results_total",
			Help:      "Matched sources, by match type.",
		}, []string{"match_type"}),
		unmatchedSources: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unmatched_sources_total",
			Help:      "Sources left without a match.",
		}),
		matchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_duration_seconds",
			Help:      "Time spent matching a batch.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

// ObserveHierarchy records one hierarchy build
func (m *Metrics) ObserveHierarchy(result *models.HierarchyResult, elapsed time.Duration) {
	if m == nil || result == nil {
		return
	}
	m.hierarchyBuilds.Inc()
	m.hierarchyDuration.Observe(elapsed.Seconds())
	m.hierarchyNodes.Set(float64(len(result.Nodes)))
	for _, w := range result.Warnings {
		m.hierarchyWarnings.WithLabelValues(string(w.Type)).Inc()
	}
}

// ObserveMatch records one match batch
func (m *Metrics) ObserveMatch(matches map[string]models.MatchResult, unmatchedSources int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.matchBatches.Inc()
	m.matchDuration.Observe(elapsed.Seconds())
	m.unmatchedSources.Add(float64(unmatchedSources))
	for _, match := range matches {
		m.matchResults.WithLabelValues(string(match.MatchType)).Inc()
	}
}

// DatabaseMetrics publishes sql.DBStats as gauges
type DatabaseMetrics struct {
	openConnections *prometheus.GaugeVec
	inUse           *prometheus.GaugeVec
	idle            *prometheus.GaugeVec
	waitCount       *prometheus.GaugeVec
	waitDuration    *prometheus.GaugeVec
	service         string
}

// NewDatabaseMetrics registers connection pool gauges labelled with service
func NewDatabaseMetrics(service string, reg prometheus.Registerer) *DatabaseMetrics {
	factory := promauto.With(reg)
	gauge := func(name, help string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      name,
			Help:      help,
		}, []string{"service"})
	}

	return &DatabaseMetrics{
		openConnections: gauge("open_connections", "Established connections, in use and idle."),
		inUse:           gauge("in_use_connections", "Connections currently in use."),
		idle:            gauge("idle_connections", "Idle connections."),
		waitCount:       gauge("wait_count", "Total number of connections waited for."),
		waitDuration:    gauge("wait_duration_seconds", "Total time blocked waiting for a connection."),
		service:         service,
	}
}

// UpdateDBStats copies the pool statistics of db into the gauges
func (d *DatabaseMetrics) UpdateDBStats(db *sql.DB) {
	if d == nil || db == nil {
		return
	}
	stats := db.Stats()
	d.openConnections.WithLabelValues(d.service).Set(float64(stats.OpenConnections))
	d.inUse.WithLabelValues(d.service).Set(float64(stats.InUse))
	d.idle.WithLabelValues(d.service).Set(float64(stats.Idle))
	d.waitCount.WithLabelValues(d.service).Set(float64(stats.WaitCount))
	d.waitDuration.WithLabelValues(d.service).Set(stats.WaitDuration.Seconds())
}
