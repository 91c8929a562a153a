package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/trackercap/upcap/internal/domain"
	"github.com/trackercap/upcap/internal/engine"
	"github.com/trackercap/upcap/internal/qbitclient"
	"github.com/trackercap/upcap/internal/torrentcache"
	"github.com/trackercap/upcap/internal/webhook"
)

// Manager owns the process's private Prometheus registry.
type Manager struct {
	registry *prometheus.Registry
	cycle    *CycleCollector
}

// NewManager builds a Manager, registering the Go/process collectors, a
// pull-based CapCollector sampling eng/cache/qbit/webhookQ live, and a
// push-based CycleCollector that Observe feeds from completed cycles.
func NewManager(eng *engine.Engine, cache *torrentcache.Cache, qbit *qbitclient.Client, webhookQ *webhook.Queue) *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(NewCapCollector(eng, cache, qbit, webhookQ))
	cycle := NewCycleCollector(registry)

	log.Info().Msg("metrics manager initialized with cap and cycle collectors")

	return &Manager{registry: registry, cycle: cycle}
}

// GetRegistry returns the registry for mounting at /metrics.
func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// ObserveCycle records one completed cycle's stats. The engine has no
// knowledge of metrics; the caller wires this in as the cycle hook.
func (m *Manager) ObserveCycle(stats domain.CycleStats) {
	m.cycle.Observe(stats)
}
