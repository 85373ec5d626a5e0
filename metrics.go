package valuesync

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

type counters struct {
	applied  atomic.Uint64
	produced atomic.Uint64

	unavailable    atomic.Uint64
	decodeFailures atomic.Uint64
	encodeFailures atomic.Uint64
	applyFailures  atomic.Uint64
	sendFailures   atomic.Uint64
}

// Stats is a point-in-time snapshot of a manager's event counters.
type Stats struct {
	Applied  uint64
	Produced uint64

	Unavailable    uint64
	DecodeFailures uint64
	EncodeFailures uint64
	ApplyFailures  uint64
	SendFailures   uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Applied:        c.applied.Load(),
		Produced:       c.produced.Load(),
		Unavailable:    c.unavailable.Load(),
		DecodeFailures: c.decodeFailures.Load(),
		EncodeFailures: c.encodeFailures.Load(),
		ApplyFailures:  c.applyFailures.Load(),
		SendFailures:   c.sendFailures.Load(),
	}
}

type StatsSource interface {
	Stats() Stats
}

// StatsCollector exposes a manager's counters as Prometheus metrics.
// Register it with the caller's registry; the source is read on every
// scrape.
type StatsCollector struct {
	src StatsSource

	applied  *prometheus.Desc
	produced *prometheus.Desc
	failures *prometheus.Desc
}

func NewStatsCollector(src StatsSource) *StatsCollector {
	return &StatsCollector{
		src: src,

		applied: prometheus.NewDesc(
			"valuesync_events_applied_total",
			"Total number of inbound events applied to the value",
			nil, nil,
		),
		produced: prometheus.NewDesc(
			"valuesync_events_produced_total",
			"Total number of outbound events sent to the peer",
			nil, nil,
		),
		failures: prometheus.NewDesc(
			"valuesync_event_failures_total",
			"Total number of failed sync events by failure kind",
			[]string{"kind"}, nil,
		),
	}
}

func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.applied
	ch <- c.produced
	ch <- c.failures
}

func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()

	ch <- prometheus.MustNewConstMetric(c.applied, prometheus.CounterValue, float64(s.Applied))
	ch <- prometheus.MustNewConstMetric(c.produced, prometheus.CounterValue, float64(s.Produced))

	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(s.Unavailable), "unavailable")
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(s.DecodeFailures), "decode")
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(s.EncodeFailures), "encode")
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(s.ApplyFailures), "apply")
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(s.SendFailures), "send")
}
