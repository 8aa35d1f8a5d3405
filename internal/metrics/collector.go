package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// FleetStats provides the collector access to live orchestrator state.
type FleetStats interface {
	Running() bool
	UsersSucceeded() int
	UsersFailed() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool  *pgxpool.Pool
	stats FleetStats

	fleetRunning    *prometheus.Desc
	usersSucceeded  *prometheus.Desc
	usersFailed     *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// pool may be nil (metrics will report 0). stats may be nil if no fleet
// run has been wired.
func NewCollector(pool *pgxpool.Pool, stats FleetStats) *Collector {
	return &Collector{
		pool:  pool,
		stats: stats,
		fleetRunning: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "fleet_running"),
			"Whether a fleet run is currently in progress.",
			nil, nil,
		),
		usersSucceeded: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "fleet_users_succeeded"),
			"Users that completed in the latest fleet run.",
			nil, nil,
		),
		usersFailed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "fleet_users_failed"),
			"Users that failed in the latest fleet run.",
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
	ch <- c.fleetRunning
	ch <- c.usersSucceeded
	ch <- c.usersFailed
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.stats != nil {
		running := 0.0
		if c.stats.Running() {
			running = 1
		}
		ch <- prometheus.MustNewConstMetric(c.fleetRunning, prometheus.GaugeValue, running)
		ch <- prometheus.MustNewConstMetric(c.usersSucceeded, prometheus.GaugeValue, float64(c.stats.UsersSucceeded()))
		ch <- prometheus.MustNewConstMetric(c.usersFailed, prometheus.GaugeValue, float64(c.stats.UsersFailed()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.fleetRunning, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.usersSucceeded, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.usersFailed, prometheus.GaugeValue, 0)
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
