// Command lonctl inspects and drives a LonTalk device stack's persisted
// state directly against its on-disk store, grounded on cmd/bamgate's
// cobra root-command-plus-one-file-per-subcommand layout.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lonworks/lon-device-stack/internal/config"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

// Global flags shared across subcommands.
var (
	globalConfigPath string
	globalStoreDir   string
	globalVerbose    bool
	globalLogger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "lonctl",
	Short: "Inspect and drive a LonTalk device stack",
	Long: `lonctl reads and manipulates a LonTalk device's persisted stack
state (domains, addresses, NVs, read-only data) and can dispatch
network-management commands against it directly, without requiring a
live transceiver connection.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if globalVerbose {
			level = slog.LevelDebug
		}
		globalLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	rootCmd.PersistentFlags().StringVar(&globalStoreDir, "store", "/var/lib/lonctl/store", "path to the device stack's persisted store directory")
	rootCmd.PersistentFlags().BoolVarP(&globalVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queryDomainCmd)
	rootCmd.AddCommand(sendNMCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(xcvrCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the lonctl version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
