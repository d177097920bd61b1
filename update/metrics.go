package update

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports BatchStats as prometheus metrics.
type Collector struct {
	stats       *BatchStats
	batches     *prometheus.Desc
	commands    *prometheus.Desc
	rows        *prometheus.Desc
	seconds     *prometheus.Desc
	slowBatches *prometheus.Desc
	errors      *prometheus.Desc
	conflicts   *prometheus.Desc
}

// NewCollector returns a collector reading stats. Metric names are
// prefixed with namespace when it is not empty.
//
//	exec := update.NewStatsExecutor(drv)
//	prometheus.MustRegister(update.NewCollector(exec.BatchStats(), "app"))
func NewCollector(stats *BatchStats, namespace string) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "tracker", name), help, nil, nil)
	}
	return &Collector{
		stats:       stats,
		batches:     desc("batches_total", "Number of command batches sent to the store."),
		commands:    desc("commands_total", "Number of commands sent to the store."),
		rows:        desc("rows_affected_total", "Number of rows affected by commands."),
		seconds:     desc("batch_seconds_total", "Total time spent executing batches."),
		slowBatches: desc("slow_batches_total", "Number of batches exceeding the slow threshold."),
		errors:      desc("batch_errors_total", "Number of failed batches."),
		conflicts:   desc("concurrency_conflicts_total", "Number of updates and deletes that affected no rows."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.batches
	ch <- c.commands
	ch <- c.rows
	ch <- c.seconds
	ch <- c.slowBatches
	ch <- c.errors
	ch <- c.conflicts
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats.Stats()
	counter := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v)
	}
	counter(c.batches, float64(s.Batches))
	counter(c.commands, float64(s.Commands))
	counter(c.rows, float64(s.Rows))
	counter(c.seconds, s.Duration.Seconds())
	counter(c.slowBatches, float64(s.SlowBatches))
	counter(c.errors, float64(s.Errors))
	counter(c.conflicts, float64(s.Conflicts))
}

var _ prometheus.Collector = (*Collector)(nil)
