// elevatectl is the staff-side client for Elevate sessions.
//
// It signs in, starts and ends elevated sessions for this device, and
// handles transfers between devices. "elevatectl watch" runs the session
// agent in the foreground.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:           "elevatectl",
		Short:         "Manage elevated sessions from this device",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&g.configPath, "config", os.Getenv("ELEVATE_CONFIG"), "Path to the YAML config (optional)")
	cmd.PersistentFlags().StringVar(&g.server, "server", "", "Server URL (overrides agent.server_url)")
	cmd.PersistentFlags().StringVar(&g.credential, "credential", "", "Elevation credential (prompted for when empty)")

	cmd.AddCommand(
		newLoginCommand(g),
		newDeviceIDCommand(g),
		newStartCommand(g),
		newStatusCommand(g),
		newEndCommand(g),
		newEndAllCommand(g),
		newTransferCommand(g),
		newAcceptCommand(g),
		newWatchCommand(g),
	)
	return cmd
}
