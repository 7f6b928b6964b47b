package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/wearlink/internal/wearable"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect [address]",
	Short: "Connect to a wearable and stream its metrics",
	Long: `Connect to a wearable device and stream its health metrics.

The session is only reported as connected once the device sends real data
inside the verification window. Transient failures retry automatically with
exponential backoff; exhausted attempts end the command with an error.

With no address, the last successfully connected device is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConnect,
}

func init() {
	connectCmd.Flags().BoolP("verbose", "", false, "Enable verbose logging")
}

func runConnect(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	metricLine := color.New(color.FgCyan)
	sink := wearable.MetricSinkFunc(func(sample wearable.MetricSample) {
		metricLine.Printf("%s  %s = %s\n",
			sample.ReceivedAt.Format("15:04:05"), sample.Type, sample.RawValue)
	})

	svc, err := buildService(cfg, sink, logger)
	if err != nil {
		return err
	}
	defer svc.Stop()

	address := ""
	if len(args) == 1 {
		address = args[0]
	} else {
		last := svc.LastKnown()
		if last.Zero() {
			return fmt.Errorf("no address given and no previously connected device on record")
		}
		address = last.Address
		fmt.Printf("Reconnecting to last known device %s (%s)\n", last.Name, last.Address)
	}

	if err := svc.Connect(address); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	stateLine := color.New(color.Bold)
	for {
		select {
		case <-sigCh:
			fmt.Println("\nDisconnecting...")
			svc.Disconnect()
			return nil
		case session := <-svc.StateEvents():
			stateLine.Printf("state: %s", session.State)
			if session.Reason != "" {
				fmt.Printf("  (%s)", session.Reason)
			}
			if session.Attempt > 1 {
				fmt.Printf("  attempt %d/%d", session.Attempt, cfg.Retry.MaxAttempts)
			}
			fmt.Println()

			switch session.State {
			case wearable.StateFailed:
				// Non-terminal failures are followed by a scheduled retry;
				// terminal ones get no further events.
				if session.Terminal {
					return wearable.NewError(session.Reason, "giving up after %d attempt(s)", session.Attempt)
				}
			case wearable.StateDisconnected:
				return wearable.NewError(session.Reason, "session lost")
			case wearable.StateIdle:
				return nil
			}
		}
	}
}
