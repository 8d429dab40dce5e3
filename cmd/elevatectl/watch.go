package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/elevate/internal/agent"
	"github.com/nerrad567/elevate/internal/infrastructure/config"
	"github.com/nerrad567/elevate/internal/infrastructure/logging"
	"github.com/nerrad567/elevate/internal/infrastructure/mqtt"
)

func newWatchCommand(g *globals) *cobra.Command {
	var (
		start    bool
		verbose  bool
		username string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the session agent in the foreground",
		Long: "watch keeps this device in step with the server: it counts the session\n" +
			"down, reacts to transfers, and asks on the terminal before handing the\n" +
			"session to another device.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			deviceID, err := g.deviceID()
			if err != nil {
				return err
			}

			level := "warn"
			if verbose {
				level = "debug"
			}
			logger := logging.NewWithWriter(config.LoggingConfig{Level: level, Format: "text"}, version, cmd.ErrOrStderr())

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			opts := agent.OptionsFromConfig(g.cfg.Agent)
			opts.Logger = logger
			// One reader owns stdin for the life of the agent.
			prompter := newStdinPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
			opts.Prompter = prompter

			wake := make(chan struct{}, 1)
			opts.Wake = wake

			pushErr := make(chan error, 1)
			if g.cfg.Agent.Push {
				go func() { pushErr <- agent.WatchPush(ctx, c, wake, logger) }()
			}

			if g.cfg.MQTT.Enabled {
				stop, err := watchMQTT(ctx, g.cfg.MQTT, deviceID, username, wake)
				if err != nil {
					return err
				}
				defer stop()
			}

			a := agent.New(c, deviceID, newPrintingObserver(cmd.OutOrStdout()), opts)
			runErr := make(chan error, 1)
			go func() { runErr <- a.Run(ctx) }()

			fmt.Fprintf(cmd.OutOrStdout(), "watching as device %s (Ctrl+C to stop)\n", deviceID)
			if start {
				cred := g.credential
				if cred == "" {
					if cred, err = prompter.readLine(ctx, "Elevation credential (start session): "); err != nil {
						return err
					}
				}
				if err := a.RequestStart(ctx, cred); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "start: %v\n", err)
				}
			}

			select {
			case err := <-runErr:
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			case err := <-pushErr:
				cancel()
				<-runErr
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
		},
	}

	cmd.Flags().BoolVar(&start, "start", false, "Request a session on launch")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log agent activity")
	cmd.Flags().StringVar(&username, "username", os.Getenv("ELEVATE_USERNAME"), "Account name, for the MQTT event topic")
	return cmd
}

// watchMQTT subscribes to the identity's session event topic as a second
// wake source. The returned func unsubscribes and disconnects.
func watchMQTT(ctx context.Context, cfg config.MQTTConfig, deviceID, username string, wake chan<- struct{}) (func(), error) {
	if username == "" {
		return nil, errors.New("--username is required when mqtt is enabled")
	}
	cfg.Broker.ClientID = "elevatectl-" + deviceID

	client, err := mqtt.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	unsubscribe, err := agent.WatchMQTT(client, username, wake)
	if err != nil {
		client.Close() //nolint:errcheck // already failing
		return nil, err
	}
	return func() {
		unsubscribe()  //nolint:errcheck // best-effort on exit
		client.Close() //nolint:errcheck // best-effort on exit
	}, nil
}

// printingObserver writes agent state changes as lines of text.
type printingObserver struct {
	out      io.Writer
	lastTick time.Duration
}

func newPrintingObserver(out io.Writer) *printingObserver {
	return &printingObserver{out: out, lastTick: -1}
}

func (p *printingObserver) OnActive(endTime time.Time) {
	fmt.Fprintf(p.out, "elevated until %s\n", formatTime(endTime))
}

// OnTick prints once a minute, and every second for the last ten.
func (p *printingObserver) OnTick(remaining time.Duration) {
	secs := remaining.Truncate(time.Second)
	if secs == p.lastTick {
		return
	}
	p.lastTick = secs
	if secs%time.Minute == 0 || secs <= 10*time.Second {
		fmt.Fprintf(p.out, "%s left\n", formatRemaining(secs))
	}
}

func (p *printingObserver) OnExpired() {
	fmt.Fprintln(p.out, "session expired")
}

func (p *printingObserver) OnRevoked(reason agent.RevokeReason) {
	fmt.Fprintf(p.out, "session revoked (%s)\n", reason)
}

func (p *printingObserver) OnTransferOffer(offer agent.TransferOffer) {
	fmt.Fprintf(p.out, "session active on %s until %s; \"elevatectl accept\" takes it over\n",
		offer.ExistingDeviceID, formatTime(offer.ExistingEndTime))
}

func (p *printingObserver) OnTransferPending(offer agent.TransferOffer) {
	fmt.Fprintf(p.out, "waiting for %s to hand over\n", offer.ExistingDeviceID)
}

func (p *printingObserver) OnTransferRequested(requesterDeviceID string) {
	fmt.Fprintf(p.out, "device %s is asking for the session\n", requesterDeviceID)
}

func (p *printingObserver) OnError(op string, err error) {
	fmt.Fprintf(p.out, "%s failed: %v\n", op, err)
}
