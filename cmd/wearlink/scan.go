package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/wearlink/internal/scan"
	"github.com/srg/wearlink/internal/wearable"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for wearable devices",
	Long: `Scan for nearby BLE wearables and display what was found.

Devices can be filtered by name prefix so only the hardware families you
care about show up. The scan ends when the duration elapses or on Ctrl+C;
either way the devices found so far are reported.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanPrefixes []string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSliceVarP(&scanPrefixes, "prefix", "p", nil, "Only show devices whose name starts with one of these prefixes")
	scanCmd.Flags().BoolP("verbose", "", false, "Enable verbose logging")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be table or json", scanFormat)
	}

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	svc, err := buildService(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer svc.Stop()

	if err := svc.Scan(scanPrefixes, scanDuration); err != nil {
		return err
	}

	// Ctrl+C stops the scan early; results found so far are still printed.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-sigCh:
			svc.StopScan()
		case event := <-svc.ScanEvents():
			switch event.Type {
			case scan.EventFinished:
				return printDevices(svc.Devices(), scanFormat)
			case scan.EventError:
				return event.Err
			}
		}
	}
}

func printDevices(devices []wearable.DeviceInfo, format string) error {
	if format == "json" {
		out, err := json.MarshalIndent(devices, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tLAST SEEN")
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", name, d.Address, d.RSSI, d.LastSeen.Format(time.TimeOnly))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d device(s) found\n", len(devices))
	return nil
}
