package main

import (
	"fmt"
	"os"

	"github.com/cuemby/havoc/pkg/config"
	"github.com/cuemby/havoc/pkg/log"
	"github.com/cuemby/havoc/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// cfg is loaded before any subcommand runs
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "havoc",
	Short: "Havoc - fault injection orchestrator",
	Long: `Havoc injects faults into hosts and containers, tracks them while
they are active, reconciles their state against the endpoint and
remediates them.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Havoc version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Configuration file")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().String("node-id", "", "Node ID (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(injectCmd)
	rootCmd.AddCommand(remediateCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(nodeCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	c, err := config.Load(path)
	if err != nil {
		return err
	}

	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		c.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("node-id"); v != "" {
		c.NodeID = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		c.Log.Level = v
	}
	if cmd.Flags().Changed("log-json") {
		c.Log.JSON, _ = cmd.Flags().GetBool("log-json")
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(c.Log.Level),
		JSONOutput: c.Log.JSON,
	})
	metrics.SetVersion(Version)

	cfg = c
	return nil
}
