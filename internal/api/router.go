// Package api assembles the HTTP surface (spec.md §4.7 by way of its own
// naming, everything the allocation engine exposes over HTTP) out of the
// handlers and middleware in its subpackages.
package api

import (
	"net/http"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/trackercap/upcap/internal/api/handlers"
	apimiddleware "github.com/trackercap/upcap/internal/api/middleware"
	"github.com/trackercap/upcap/internal/config"
	"github.com/trackercap/upcap/internal/crossseed"
	"github.com/trackercap/upcap/internal/engine"
	"github.com/trackercap/upcap/internal/metrics"
	"github.com/trackercap/upcap/internal/qbitclient"
	"github.com/trackercap/upcap/internal/torrentcache"
	"github.com/trackercap/upcap/internal/trackermatch"
	"github.com/trackercap/upcap/internal/webhook"
)

// Dependencies holds everything NewRouter needs to build handlers.
type Dependencies struct {
	ConfigHolder   *config.Holder
	Engine         *engine.Engine
	Cache          *torrentcache.Cache
	Matcher        *trackermatch.Matcher
	QbitClient     *qbitclient.Client
	WebhookQueue   *webhook.Queue
	CrossSeed      *crossseed.Forwarder
	MetricsManager *metrics.Manager
	AllowedOrigins []string
	Log            zerolog.Logger
}

// NewRouter builds the chi router serving every operation in the HTTP
// surface behind the standard middleware stack.
func NewRouter(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(apimiddleware.RequestID) // must run before Logger to stamp the request id
	r.Use(apimiddleware.Logger(deps.Log))
	r.Use(apimiddleware.Recoverer)
	r.Use(apimiddleware.RealIP)

	compressor, err := httpcompression.DefaultAdapter()
	if err != nil {
		deps.Log.Error().Err(err).Msg("failed to build http compression adapter")
	} else {
		r.Use(compressor)
	}

	r.Use(apimiddleware.CORS(deps.AllowedOrigins))

	healthHandler := handlers.NewHealthHandler(deps.Engine, deps.QbitClient)
	statsHandler := handlers.NewStatsHandler(deps.Engine, deps.Cache, deps.Matcher)
	configHandler := handlers.NewConfigHandler(deps.ConfigHolder, deps.Engine, deps.Matcher)
	engineHandler := handlers.NewEngineHandler(deps.Engine)
	matchHandler := handlers.NewMatchHandler(deps.Matcher)
	webhookHandler := handlers.NewWebhookHandler(deps.WebhookQueue, deps.CrossSeed, deps.Log)

	r.Get("/health", healthHandler.Get)

	r.Route("/stats", func(r chi.Router) {
		r.Get("/", statsHandler.Get)
		r.Get("/trackers", statsHandler.GetTrackers)
		r.Get("/managed", statsHandler.GetManaged)
	})

	r.Route("/config", func(r chi.Router) {
		r.Get("/", configHandler.Get)
		r.Post("/reload", configHandler.Reload)
	})

	r.Get("/preview/next-cycle", engineHandler.Preview)
	r.Post("/cycle/force", engineHandler.ForceCycle)
	r.Post("/rollout", engineHandler.SetRollout)
	r.Post("/rollback", engineHandler.Rollback)
	r.Post("/limits/reset", engineHandler.ResetLimits)
	r.Post("/smoothing/reset", engineHandler.ResetSmoothing)

	r.Get("/match/test", matchHandler.Test)

	r.Post("/webhook", webhookHandler.Post)

	if deps.MetricsManager != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.MetricsManager.GetRegistry(), promhttp.HandlerOpts{}))
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"service":"upcapd"}`))
	})

	return r
}
