// host-pulse posts a short status report about this host to a Telegram
// channel every few minutes: public IP, uptime, CPU, memory, disk, network
// counters and running containers.
//
// Usage:
//
//	host-pulse [command] [flags]
//
// Commands:
//
//	run       Run the delivery loop (default)
//	once      Collect and deliver a single report
//	preview   Print the report to the terminal without sending it
//	status    Query a running daemon over its control socket
//	send      Ask a running daemon to deliver now
//	version   Print version and exit
//
// Global flags:
//
//	--config string    Path to a TOML or YAML config file
//	--env-file string  Path to a .env file (default: ./.env when present)
//	--verbose          Enable debug logging
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

var (
	configPath string
	envFile    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "host-pulse",
	Short:         "Periodic host status reports to Telegram",
	Long:          "host-pulse collects host metrics on an interval and delivers them as a Telegram message, backing off when delivery fails.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDaemon,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and exit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("host-pulse %s (%s) built %s\n", version, commit, date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (TOML or YAML)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file with TELEGRAM_* variables")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")

	rootCmd.AddCommand(runCmd, onceCmd, previewCmd, statusCmd, sendCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
