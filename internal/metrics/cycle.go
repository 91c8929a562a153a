package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/trackercap/upcap/internal/domain"
)

// CycleCollector accumulates per-cycle counters and a duration histogram,
// registered eagerly at construction (unlike CapCollector's pull model)
// since cycles complete asynchronously and the values must survive between
// scrapes.
type CycleCollector struct {
	CyclesTotal     *prometheus.CounterVec
	WritesApplied   prometheus.Counter
	WritesFailed    prometheus.Counter
	WritesAttempted prometheus.Counter
	TorrentsSeen    prometheus.Gauge
	TorrentsManaged prometheus.Gauge
	DurationSeconds prometheus.Histogram
}

func NewCycleCollector(r *prometheus.Registry) *CycleCollector {
	c := &CycleCollector{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upcap_cycles_total",
			Help: "Total number of completed allocation cycles",
		}, []string{"result"}),
		WritesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upcap_writes_applied_total",
			Help: "Total number of upload limit writes successfully applied",
		}),
		WritesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upcap_writes_failed_total",
			Help: "Total number of upload limit writes that failed",
		}),
		WritesAttempted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upcap_writes_attempted_total",
			Help: "Total number of upload limit writes attempted",
		}),
		TorrentsSeen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "upcap_cycle_torrents_seen",
			Help: "Number of active torrents observed in the most recent cycle",
		}),
		TorrentsManaged: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "upcap_cycle_torrents_managed",
			Help: "Number of torrents under cap management in the most recent cycle",
		}),
		DurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "upcap_cycle_duration_seconds",
			Help:    "Duration of completed allocation cycles in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}

	r.MustRegister(c.CyclesTotal)
	r.MustRegister(c.WritesApplied)
	r.MustRegister(c.WritesFailed)
	r.MustRegister(c.WritesAttempted)
	r.MustRegister(c.TorrentsSeen)
	r.MustRegister(c.TorrentsManaged)
	r.MustRegister(c.DurationSeconds)
	return c
}

// Observe records one completed cycle's stats.
func (c *CycleCollector) Observe(stats domain.CycleStats) {
	result := "ok"
	if stats.Error != "" {
		result = "error"
	}
	c.CyclesTotal.WithLabelValues(result).Inc()
	c.WritesApplied.Add(float64(stats.WritesApplied))
	c.WritesFailed.Add(float64(stats.WritesFailed))
	c.WritesAttempted.Add(float64(stats.WritesAttempted))
	c.TorrentsSeen.Set(float64(stats.TorrentsSeen))
	c.TorrentsManaged.Set(float64(stats.TorrentsManaged))
	if !stats.EndedAt.IsZero() && !stats.StartedAt.IsZero() {
		c.DurationSeconds.Observe(stats.EndedAt.Sub(stats.StartedAt).Seconds())
	}
}
