// Package dispatch funnels the vendor transport's heterogeneous per-metric
// callbacks into one uniform entry point. Each vendor listener is a thin
// closure normalizing its payload into OnMetric.
package dispatch

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/wearlink/internal/wearable"
)

// SessionNotifier receives the data-received signal that refreshes the
// session's staleness clock and completes verification. Implemented by the
// orchestrator, which serializes the updates internally.
type SessionNotifier interface {
	NotifyData(address string, receivedAt time.Time)
}

// Dispatcher converts vendor metric callbacks into MetricSample events.
// Safe for concurrent use from multiple listener goroutines: it holds no
// mutable state of its own and the notifier serializes session updates.
type Dispatcher struct {
	notifier SessionNotifier
	sink     wearable.MetricSink
	logger   *logrus.Logger
	clock    func() time.Time
}

// New creates a dispatcher forwarding samples to sink
func New(notifier SessionNotifier, sink wearable.MetricSink, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{
		notifier: notifier,
		sink:     sink,
		logger:   logger,
		clock:    time.Now,
	}
}

// OnMetric is the single entry point for every vendor metric callback. It
// stamps the sample, refreshes the session's data clock, and forwards the
// sample immediately. Samples are never buffered past this call.
func (d *Dispatcher) OnMetric(metricType wearable.MetricType, rawValue, address string) {
	sample := wearable.MetricSample{
		Type:          metricType,
		RawValue:      rawValue,
		DeviceAddress: address,
		ReceivedAt:    d.clock(),
	}

	d.logger.WithFields(logrus.Fields{
		"metric":  metricType.String(),
		"value":   rawValue,
		"address": address,
	}).Debug("Metric received")

	if d.notifier != nil {
		d.notifier.NotifyData(address, sample.ReceivedAt)
	}
	if d.sink != nil {
		d.sink.Consume(sample)
	}
}

// ListenerFor returns the vendor-facing callback for one metric type and
// device, for wiring into transport subscriptions.
func (d *Dispatcher) ListenerFor(metricType wearable.MetricType, address string) func(rawValue string) {
	return func(rawValue string) {
		d.OnMetric(metricType, rawValue, address)
	}
}
