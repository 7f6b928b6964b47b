package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/wearlink/internal/transport/goble"
	"github.com/srg/wearlink/internal/wearable"
	"github.com/srg/wearlink/pkg/config"
	"github.com/srg/wearlink/pkg/wear"
)

// loadConfig resolves the effective configuration from --config, falling
// back to defaults
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// buildService assembles the subsystem over the go-ble transport. The
// transport's metric notifications are routed through the service's
// dispatcher so session verification sees real data.
func buildService(cfg *config.Config, sink wearable.MetricSink, logger *logrus.Logger) (*wear.Service, error) {
	var svc *wear.Service

	transport := goble.NewTransport(func(metric, rawValue, address string) {
		t, err := wearable.ParseMetricType(metric)
		if err != nil {
			logger.WithField("metric", metric).Debug("Dropping unknown metric notification")
			return
		}
		svc.Dispatcher().OnMetric(t, rawValue, address)
	}, logger)

	svc = wear.New(cfg, transport, sink, logger)
	if err := svc.Start(); err != nil {
		return nil, err
	}
	return svc, nil
}
