// Elevate - staff privilege sessions
//
// elevated is the session server. It owns every identity's session record,
// answers the agents on staff devices, and pushes lifecycle events over
// WebSocket and (optionally) MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/elevate/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/elevate.yaml"

func main() {
	// Cancel on Ctrl+C and SIGTERM so serve shuts down gracefully.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "elevated",
		Short:         "Elevate session server",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config (default $ELEVATE_CONFIG or "+defaultConfigPath+")")

	resolve := func() string { return getConfigPath(configPath) }
	cmd.AddCommand(newServeCommand(resolve))
	cmd.AddCommand(newMigrateCommand(resolve))
	cmd.AddCommand(newUserCommand(resolve))
	return cmd
}

// getConfigPath returns the configuration file path: the flag if given,
// then ELEVATE_CONFIG, then the default.
func getConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv("ELEVATE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
