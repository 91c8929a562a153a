// Package metrics exposes a Prometheus registry for the allocation engine:
// a pull-based collector sampling the live managed set, and a push-based
// collector fed from completed cycles.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/trackercap/upcap/internal/domain"
	"github.com/trackercap/upcap/internal/engine"
	"github.com/trackercap/upcap/internal/qbitclient"
	"github.com/trackercap/upcap/internal/torrentcache"
	"github.com/trackercap/upcap/internal/webhook"
)

// CapCollector samples the engine's current managed set and adapter state
// on every scrape, mirroring the pull-model TorrentCollector pattern: no
// state is retained between scrapes, everything is read live.
type CapCollector struct {
	eng      *engine.Engine
	cache    *torrentcache.Cache
	qbit     *qbitclient.Client
	webhookQ *webhook.Queue

	managedTorrentsDesc    *prometheus.Desc
	torrentUploadLimitDesc *prometheus.Desc
	cycleStateDesc         *prometheus.Desc
	circuitStateDesc       *prometheus.Desc
	circuitFailuresDesc    *prometheus.Desc
	webhookDepthDesc       *prometheus.Desc
	webhookDroppedDesc     *prometheus.Desc
}

// NewCapCollector builds a CapCollector. Any of cache/qbit/webhookQ may be
// nil (their metrics are simply skipped), but eng must not be.
func NewCapCollector(eng *engine.Engine, cache *torrentcache.Cache, qbit *qbitclient.Client, webhookQ *webhook.Queue) *CapCollector {
	return &CapCollector{
		eng:      eng,
		cache:    cache,
		qbit:     qbit,
		webhookQ: webhookQ,

		managedTorrentsDesc: prometheus.NewDesc(
			"upcap_managed_torrents",
			"Number of torrents currently under cap management",
			nil, nil,
		),
		torrentUploadLimitDesc: prometheus.NewDesc(
			"upcap_torrent_upload_limit_bytes",
			"Current upload limit in bytes per managed torrent (-1 means unlimited)",
			[]string{"hash"},
			nil,
		),
		cycleStateDesc: prometheus.NewDesc(
			"upcap_cycle_state",
			"Current cycle state machine state (1 for the active state, 0 otherwise)",
			[]string{"state"},
			nil,
		),
		circuitStateDesc: prometheus.NewDesc(
			"upcap_circuit_breaker_state",
			"Current circuit breaker state (1 for the active state, 0 otherwise)",
			[]string{"state"},
			nil,
		),
		circuitFailuresDesc: prometheus.NewDesc(
			"upcap_circuit_breaker_consecutive_failures",
			"Consecutive failures recorded by the circuit breaker",
			nil, nil,
		),
		webhookDepthDesc: prometheus.NewDesc(
			"upcap_webhook_queue_depth",
			"Current depth of the webhook intake queue",
			nil, nil,
		),
		webhookDroppedDesc: prometheus.NewDesc(
			"upcap_webhook_dropped_total",
			"Cumulative count of webhook events dropped for queue overflow",
			nil, nil,
		),
	}
}

func (c *CapCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.managedTorrentsDesc
	ch <- c.torrentUploadLimitDesc
	ch <- c.cycleStateDesc
	ch <- c.circuitStateDesc
	ch <- c.circuitFailuresDesc
	ch <- c.webhookDepthDesc
	ch <- c.webhookDroppedDesc
}

func (c *CapCollector) Collect(ch chan<- prometheus.Metric) {
	managed := c.eng.ManagedSnapshot()
	ch <- prometheus.MustNewConstMetric(c.managedTorrentsDesc, prometheus.GaugeValue, float64(len(managed)))

	if c.cache != nil {
		for _, m := range managed {
			torrent, ok := c.cache.Get(m.Hash)
			if !ok {
				continue
			}
			ch <- prometheus.MustNewConstMetric(
				c.torrentUploadLimitDesc,
				prometheus.GaugeValue,
				float64(torrent.UploadLimit),
				m.Hash,
			)
		}
	}

	state := c.eng.State()
	for _, s := range []domain.CycleState{
		domain.StateIdle, domain.StateFetching, domain.StateClassifying, domain.StateSelecting,
		domain.StateComputing, domain.StateDiffing, domain.StateWriting, domain.StateRecording,
		domain.StatePostprocess,
	} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.cycleStateDesc, prometheus.GaugeValue, v, string(s))
	}

	if c.qbit != nil {
		circuit, failures, _ := c.qbit.CircuitState()
		for _, s := range []domain.CircuitBreakerState{domain.CircuitClosed, domain.CircuitOpen, domain.CircuitHalfOpen} {
			v := 0.0
			if s == circuit {
				v = 1.0
			}
			ch <- prometheus.MustNewConstMetric(c.circuitStateDesc, prometheus.GaugeValue, v, string(s))
		}
		ch <- prometheus.MustNewConstMetric(c.circuitFailuresDesc, prometheus.GaugeValue, float64(failures))
	}

	if c.webhookQ != nil {
		ch <- prometheus.MustNewConstMetric(c.webhookDepthDesc, prometheus.GaugeValue, float64(c.webhookQ.Len()))
		ch <- prometheus.MustNewConstMetric(c.webhookDroppedDesc, prometheus.CounterValue, float64(c.webhookQ.Dropped()))
	}

	log.Debug().Int("managed", len(managed)).Str("cycle_state", string(state)).Msg("collected upcap metrics")
}
