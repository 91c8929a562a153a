package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "upcapd",
		Short: "Per-tracker upload speed cap enforcement for qBittorrent",
	}

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config.yaml")

	serveCmd := runServeCommand(&configPath)
	root.AddCommand(serveCmd)
	root.AddCommand(runRollbackCommand(&configPath))
	root.AddCommand(runConfigCommand(&configPath))

	// serve is the default when no subcommand is given.
	root.RunE = serveCmd.RunE

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
