package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trackercap/upcap/internal/config"
	"github.com/trackercap/upcap/internal/trackermatch"
)

func runConfigCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration file operations",
	}
	cmd.AddCommand(runConfigValidateCommand(configPath))
	return cmd
}

func runConfigValidateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate the config file without starting the engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(*configPath)
			if err != nil {
				return err
			}
			if _, err := trackermatch.New(cfg.ToTrackerConfigs()); err != nil {
				return err
			}
			fmt.Printf("%s is valid: %d tracker(s) configured\n", *configPath, len(cfg.Trackers))
			return nil
		},
	}
}
