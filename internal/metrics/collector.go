package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// WorkerStats gives the collector access to in-memory worker state that
// isn't naturally expressed as a counter incremented at the call site.
type WorkerStats interface {
	ActivePipelineCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape
// time rather than maintaining them as separately-updated metrics.
type Collector struct {
	pool  *pgxpool.Pool
	stats WorkerStats

	activePipelines *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// pool may be nil (pool metrics report 0). stats may be nil if the
// caller doesn't want pipeline count reflected.
func NewCollector(pool *pgxpool.Pool, stats WorkerStats) *Collector {
	return &Collector{
		pool:  pool,
		stats: stats,
		activePipelines: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "active_pipelines"),
			"Current number of per-device pipelines held in memory.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activePipelines
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.stats != nil {
		ch <- prometheus.MustNewConstMetric(c.activePipelines, prometheus.GaugeValue, float64(c.stats.ActivePipelineCount()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.activePipelines, prometheus.GaugeValue, 0)
	}

	if c.pool != nil {
		stat := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, 0)
	}
}
