// Upnp-cp is a UPnP control point for the command line.
//
// It discovers UPnP devices over SSDP, describes them, and can subscribe
// to their GENA events. Device sightings can be recorded in a SQLite
// inventory, events can be streamed to websocket clients, and captured
// SSDP traffic can be replayed offline.
//
// Usage:
//
//	upnp-cp [command] [flags]
//
// See 'upnp-cp --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/upnpcp/internal/config"
	"github.com/muurk/upnpcp/internal/logging"
	"github.com/muurk/upnpcp/internal/ui"
	"github.com/muurk/upnpcp/internal/version"
)

func main() {
	ui.ConfigureColor(os.Stdout)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "upnp-cp",
	Short: "UPnP control point",
	Long: `A UPnP control point for discovering devices and watching their events.

Devices are found with SSDP searches and advertisements, described by
downloading their description documents, and kept until they say goodbye
or their advertisement expires. Evented services can be subscribed to
with GENA.`,
	Version:       version.Full(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.config/upnpcp/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides UPNPCP_LOG_LEVEL")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("upnp-cp %s\n", version.Full())
	},
}

// loadConfig reads the config file and applies the log level it names
// unless --log-level was given.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel == "" && cfg.LogLevel != "" {
		if err := logging.Initialize(cfg.LogLevel); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
