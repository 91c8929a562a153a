package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trackercap/upcap/internal/api"
	"github.com/trackercap/upcap/internal/config"
	"github.com/trackercap/upcap/internal/crossseed"
	"github.com/trackercap/upcap/internal/dryrunstore"
	"github.com/trackercap/upcap/internal/engine"
	"github.com/trackercap/upcap/internal/logging"
	"github.com/trackercap/upcap/internal/metrics"
	"github.com/trackercap/upcap/internal/qbitclient"
	"github.com/trackercap/upcap/internal/rollbackstore"
	"github.com/trackercap/upcap/internal/torrentcache"
	"github.com/trackercap/upcap/internal/trackermatch"
	"github.com/trackercap/upcap/internal/webhook"
)

func runServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the allocation engine and its HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *configPath)
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.New(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.Setup(logging.Options{Level: cfg.Logging.Level, File: cfg.Logging.File})
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}

	clientCfg, err := cfg.ToClientConfig()
	if err != nil {
		return fmt.Errorf("build qbittorrent client config: %w", err)
	}
	qbit := qbitclient.New(clientCfg, log)
	if err := qbit.Login(ctx); err != nil {
		return fmt.Errorf("log in to qbittorrent: %w", err)
	}

	cache := torrentcache.New()
	matcher, err := trackermatch.New(cfg.ToTrackerConfigs())
	if err != nil {
		return fmt.Errorf("build tracker matcher: %w", err)
	}

	rollback, err := rollbackstore.Open(cfg.Rollback.DatabasePath)
	if err != nil {
		return fmt.Errorf("open rollback store: %w", err)
	}
	defer rollback.Close()

	var dryrun *dryrunstore.Store
	if cfg.Global.DryRun {
		dryrun, err = dryrunstore.Open(cfg.Global.DryRunStorePath)
		if err != nil {
			return fmt.Errorf("open dry-run store: %w", err)
		}
	}

	webhookQ := webhook.New(webhook.DefaultCapacity)
	forwarder := crossseed.New(cfg.ToCrossSeedConfig(), log)

	eng := engine.New(qbit, cache, matcher, rollback, dryrun, webhookQ, cfg.ToEngineConfig(), log)

	metricsManager := metrics.NewManager(eng, cache, qbit, webhookQ)
	eng.SetCycleHook(metricsManager.ObserveCycle)

	holder := config.NewHolder(cfg)
	watcher := config.NewWatcher(configPath, func(reloaded *config.Config) {
		if err := matcher.Reload(reloaded.ToTrackerConfigs()); err != nil {
			log.Error().Err(err).Msg("config reload: tracker matcher rejected new trackers, keeping previous config")
			return
		}
		eng.ReloadConfig(reloaded.ToEngineConfig())
		holder.Set(reloaded)
		log.Info().Msg("config reloaded from disk")
	}, log)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	router := api.NewRouter(&api.Dependencies{
		ConfigHolder:   holder,
		Engine:         eng,
		Cache:          cache,
		Matcher:        matcher,
		QbitClient:     qbit,
		WebhookQueue:   webhookQ,
		CrossSeed:      forwarder,
		MetricsManager: metricsManager,
		Log:            log,
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("starting http server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := watcher.Run(ctx); err != nil {
			log.Warn().Err(err).Msg("config watcher stopped")
		}
	}()
	go eng.Run(ctx)

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
