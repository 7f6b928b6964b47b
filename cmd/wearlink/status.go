package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show transport capabilities and the last known device",
	Long: `Show how each logical transport operation resolved against the
installed bluetooth stack, and which device connected last.

Unresolved mandatory operations mean the subsystem is degraded and will
refuse connection attempts.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolP("verbose", "", false, "Enable verbose logging")
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	svc, err := buildService(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer svc.Stop()

	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OPERATION\tMETHOD\tRESOLVED")
	for _, b := range svc.Bindings() {
		state := ok("yes")
		method := b.MethodName
		if !b.Resolved {
			state = bad("no")
			method = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", b.Op, method, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if svc.Degraded() {
		fmt.Println(bad("\nDegraded: mandatory operations unresolved, connect is refused"))
	}

	session := svc.QueryState()
	fmt.Printf("\nSession: %s", session.State)
	if session.DeviceAddress != "" {
		fmt.Printf(" (%s)", session.DeviceAddress)
	}
	fmt.Println()

	last := svc.LastKnown()
	if !last.Zero() {
		fmt.Printf("\nLast connected device: %s (%s)\n", last.Name, last.Address)
	}
	return nil
}
