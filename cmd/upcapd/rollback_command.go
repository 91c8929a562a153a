package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trackercap/upcap/internal/config"
	"github.com/trackercap/upcap/internal/dryrunstore"
	"github.com/trackercap/upcap/internal/engine"
	"github.com/trackercap/upcap/internal/logging"
	"github.com/trackercap/upcap/internal/qbitclient"
	"github.com/trackercap/upcap/internal/rollbackstore"
	"github.com/trackercap/upcap/internal/torrentcache"
	"github.com/trackercap/upcap/internal/trackermatch"
	"github.com/trackercap/upcap/internal/webhook"
)

func runRollbackCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Restore every unrestored tracked upload-limit change to its earliest recorded value",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRollback(cmd.Context(), *configPath)
		},
	}
}

func runRollback(ctx context.Context, configPath string) error {
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
	eng := engine.New(qbit, torrentcache.New(), matcher, rollback, dryrun, webhook.New(webhook.DefaultCapacity), cfg.ToEngineConfig(), log)

	applied, failed, err := eng.Rollback(ctx)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}

	fmt.Printf("restored %d torrent(s)\n", len(applied))
	for hash, ferr := range failed {
		fmt.Printf("  failed to restore %s: %v\n", hash, ferr)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d torrent(s) failed to restore", len(failed))
	}
	return nil
}
