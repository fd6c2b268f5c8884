package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openhearth/hearth/cmd/hearth/commands"
	"github.com/openhearth/hearth/logger"
)

var rootCmd = &cobra.Command{
	Use:   "hearth",
	Short: "Hearth - smart-home message hub",
	Long: `Hearth - the coordination hub between smart-home data sources
and output channels.

Ingest producers feed canonical messages (tasks, statuses, appointments,
lists) into a durable registry; the hub schedules, expires, and
dispatches them to notification bridges.

Available commands:
  serve   - Start the hub and its websocket admin server
  config  - Show and validate hub configuration
  version - Show version information

Examples:
  hearth serve                  # Start the hub
  hearth config show            # Show current configuration
  hearth config get server.port # Get one config value`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() != "show" && cmd.Name() != "get" {
			if err := logger.Initialize(false); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
