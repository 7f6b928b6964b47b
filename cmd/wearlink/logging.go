package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/wearlink/pkg/config"
)

// configureLogger resolves the command's log level and builds the logger
// through the config layer. --log-level wins over --verbose; with neither the
// logger stays at panic level so command output is the only thing on screen.
func configureLogger(cmd *cobra.Command, verboseFlagName string) (*logrus.Logger, error) {
	level := "panic"

	if s, _ := cmd.Flags().GetString("log-level"); s != "" {
		switch s {
		case "debug", "info", "warn", "error":
			level = s
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s)
		}
	} else if verbose, _ := cmd.Flags().GetBool(verboseFlagName); verbose {
		level = "debug"
	}

	cfg := config.Config{LogLevel: level}
	return cfg.NewLogger(), nil
}
