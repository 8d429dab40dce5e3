package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/elevate/internal/agent"
	"github.com/nerrad567/elevate/internal/session"
)

func newLoginCommand(g *globals) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and save an access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.load(); err != nil {
				return err
			}
			if username == "" {
				return errors.New("--username is required (or set ELEVATE_USERNAME)")
			}
			if password == "" {
				p, err := promptLine(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: ")
				if err != nil {
					return err
				}
				password = p
			}

			c := agent.NewHTTPClient(g.cfg.Agent.ServerURL, nil)
			if err := c.Login(cmd.Context(), username, password); err != nil {
				return fmt.Errorf("signing in: %w", err)
			}
			if err := g.saveToken(c.Token()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", username)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", os.Getenv("ELEVATE_USERNAME"), "Account name")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted for when empty)")
	return cmd
}

func newDeviceIDCommand(g *globals) *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "device-id",
		Short: "Print this device's identifier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.load(); err != nil {
				return err
			}
			if reset {
				if err := g.devices.Reset(); err != nil {
					return err
				}
			}
			id, err := g.devices.Resolve()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "Forget the current identifier and generate a new one")
	return cmd
}

func newStartCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start an elevated session on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			deviceID, err := g.deviceID()
			if err != nil {
				return err
			}
			cred, err := g.credentialFor(cmd, "start session")
			if err != nil {
				return err
			}

			end, err := c.Start(cmd.Context(), deviceID, cred)
			var conflict *session.ConflictError
			if errors.As(err, &conflict) {
				fmt.Fprintf(cmd.OutOrStdout(),
					"session active on device %s until %s; transfer requested.\n"+
						"Approve it there with \"elevatectl transfer\", or take it over with \"elevatectl accept\".\n",
					conflict.ExistingDeviceID, formatTime(conflict.ExistingEndTime))
				return err
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "elevated until %s (%s)\n", formatTime(end), formatRemaining(time.Until(end)))
			return nil
		},
	}
}

func newStatusCommand(g *globals) *cobra.Command {
	var record bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the session as seen from this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if record {
				rec, err := c.Record(cmd.Context())
				if err != nil {
					return err
				}
				printRecord(out, rec)
				return nil
			}

			deviceID, err := g.deviceID()
			if err != nil {
				return err
			}
			res, err := c.Check(cmd.Context(), deviceID)
			if err != nil {
				return err
			}
			printCheck(out, res)
			return nil
		},
	}

	cmd.Flags().BoolVar(&record, "record", false, "Print the raw session record instead")
	return cmd
}

func newEndCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "end",
		Short: "End the live session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			cred, err := g.credentialFor(cmd, "end session")
			if err != nil {
				return err
			}
			if err := c.End(cmd.Context(), cred); err != nil {
				if errors.Is(err, session.ErrNoActiveSession) {
					return errors.New("no active session")
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "session ended")
			return nil
		},
	}
}

func newEndAllCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "end-all",
		Short: "Revoke the session on every device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			cred, err := g.credentialFor(cmd, "end all sessions")
			if err != nil {
				return err
			}
			if err := c.EndAll(cmd.Context(), cred); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "all sessions ended")
			return nil
		},
	}
}

func newTransferCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "transfer [DEVICE_ID]",
		Short: "Hand the session to another device (default: the requesting one)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}

			var target string
			if len(args) == 1 {
				target = args[0]
			} else {
				deviceID, err := g.deviceID()
				if err != nil {
					return err
				}
				res, err := c.Check(cmd.Context(), deviceID)
				if err != nil {
					return err
				}
				if !res.Active || res.TransferRequestedByDeviceID == "" {
					return errors.New("no device has requested the session")
				}
				target = res.TransferRequestedByDeviceID
			}

			cred, err := g.credentialFor(cmd, "transfer to "+target)
			if err != nil {
				return err
			}
			end, err := c.Transfer(cmd.Context(), cred, target)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session transferred to %s; ends %s\n", target, formatTime(end))
			return nil
		},
	}
}

func newAcceptCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "accept",
		Short: "Take over the session from the device that owns it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			deviceID, err := g.deviceID()
			if err != nil {
				return err
			}
			cred, err := g.credentialFor(cmd, "take over session")
			if err != nil {
				return err
			}
			end, err := c.Transfer(cmd.Context(), cred, deviceID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session moved to this device; ends %s\n", formatTime(end))
			return nil
		},
	}
}

func printCheck(out io.Writer, res *session.CheckResult) {
	switch {
	case res.Active && res.TransferRequested:
		fmt.Fprintf(out, "active on this device, %s left\ntransfer requested by %s\n",
			formatRemaining(res.Remaining), res.TransferRequestedByDeviceID)
	case res.Active:
		fmt.Fprintf(out, "active on this device until %s (%s left)\n", formatTime(res.EndTime), formatRemaining(res.Remaining))
	case res.TransferRequested:
		fmt.Fprintf(out, "waiting for %s to hand over (session ends %s)\n", res.ExistingDeviceID, formatTime(res.ExistingEndTime))
	case res.TransferAvailable:
		fmt.Fprintf(out, "active on device %s until %s; \"elevatectl accept\" takes it over\n",
			res.ExistingDeviceID, formatTime(res.ExistingEndTime))
	case res.Expired:
		fmt.Fprintln(out, "expired")
	default:
		fmt.Fprintln(out, "no active session")
	}
}

func printRecord(out io.Writer, rec *session.RecordResponse) {
	fmt.Fprintf(out, "owner:       %s\n", rec.OwnerID)
	fmt.Fprintf(out, "device:      %s\n", rec.DeviceID)
	fmt.Fprintf(out, "active:      %t\n", rec.Active)
	fmt.Fprintf(out, "start:       %s\n", formatTime(session.FromMillis(rec.StartTime)))
	fmt.Fprintf(out, "end:         %s\n", formatTime(session.FromMillis(rec.EndTime)))
	if rec.TransferRequested {
		fmt.Fprintf(out, "requested:   %s\n", rec.TransferRequestedByDeviceID)
	}
	if rec.TransferredFromDeviceID != "" {
		fmt.Fprintf(out, "moved from:  %s\n", rec.TransferredFromDeviceID)
	}
	fmt.Fprintf(out, "version:     %d\n", rec.Version)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("15:04:05")
}

func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Truncate(time.Second).String()
}
