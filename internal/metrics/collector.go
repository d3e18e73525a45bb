package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineStats provides the collector access to live pipeline state.
type EngineStats interface {
	ActiveRuns() int
	TrackedRuns() int
	SubscriberCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	stats EngineStats

	activeRuns     *prometheus.Desc
	trackedRuns    *prometheus.Desc
	sseSubscribers *prometheus.Desc
}

// NewCollector creates a collector over the run registry. stats may be nil
// (gauges report 0).
func NewCollector(stats EngineStats) *Collector {
	return &Collector{
		stats: stats,
		activeRuns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "active_runs"),
			"Runs currently decoding, segmenting, or transcribing.",
			nil, nil,
		),
		trackedRuns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "tracked_runs"),
			"Runs held in the in-memory registry.",
			nil, nil,
		),
		sseSubscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sse_subscribers_active"),
			"Current number of SSE progress subscribers.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeRuns
	ch <- c.trackedRuns
	ch <- c.sseSubscribers
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.stats == nil {
		ch <- prometheus.MustNewConstMetric(c.activeRuns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.trackedRuns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.sseSubscribers, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.activeRuns, prometheus.GaugeValue, float64(c.stats.ActiveRuns()))
	ch <- prometheus.MustNewConstMetric(c.trackedRuns, prometheus.GaugeValue, float64(c.stats.TrackedRuns()))
	ch <- prometheus.MustNewConstMetric(c.sseSubscribers, prometheus.GaugeValue, float64(c.stats.SubscriberCount()))
}
