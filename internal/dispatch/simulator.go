package dispatch

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/wearlink/internal/groutine"
	"github.com/srg/wearlink/internal/wearable"
)

// Simulator is the degraded-capability metric source: it synthesizes samples
// for metric types whose read operation failed to resolve. It is a strategy
// variant selected explicitly through configuration, never a default path,
// and it announces itself loudly in the log.
type Simulator struct {
	dispatcher *Dispatcher
	types      []wearable.MetricType
	address    string
	interval   time.Duration
	logger     *logrus.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
	tick    int
}

// NewSimulator creates a stopped simulator for the given metric types
func NewSimulator(d *Dispatcher, types []wearable.MetricType, address string, interval time.Duration, logger *logrus.Logger) *Simulator {
	if logger == nil {
		logger = logrus.New()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Simulator{
		dispatcher: d,
		types:      types,
		address:    address,
		interval:   interval,
		logger:     logger,
	}
}

// Start begins emitting synthetic samples. No-op when already running or
// when there is nothing to simulate.
func (s *Simulator) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || len(s.types) == 0 {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	names := make([]string, len(s.types))
	for i, t := range s.types {
		names[i] = t.String()
	}
	s.logger.WithFields(logrus.Fields{
		"metrics": names,
		"address": s.address,
	}).Warn("DEGRADED MODE: emitting simulated metric data for unresolved read operations")

	stopCh := s.stopCh
	groutine.Go(nil, "metric-simulator", func(context.Context) {
		s.loop(stopCh)
	})
}

// Stop halts emission. Idempotent.
func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
}

func (s *Simulator) loop(stopCh chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.Emit()
		}
	}
}

// Emit produces one synthetic sample per simulated metric type. Exported so
// tests can drive the simulator without the ticker.
func (s *Simulator) Emit() {
	s.mu.Lock()
	s.tick++
	n := s.tick
	s.mu.Unlock()

	for _, t := range s.types {
		s.dispatcher.OnMetric(t, syntheticValue(t, n), s.address)
	}
}

// syntheticValue returns a plausible-looking reading. Values stay inside
// normal physiological ranges so downstream charts render sensibly.
func syntheticValue(t wearable.MetricType, n int) string {
	switch t {
	case wearable.MetricHeartRate:
		return strconv.Itoa(62 + n%23)
	case wearable.MetricSpO2:
		return strconv.Itoa(95 + n%4)
	case wearable.MetricBloodPressure:
		return strconv.Itoa(110+n%12) + "/" + strconv.Itoa(70+n%8)
	case wearable.MetricSteps:
		return strconv.Itoa(n * 12)
	case wearable.MetricSleep:
		return strconv.Itoa(n % 4)
	case wearable.MetricTemperature:
		return "36." + strconv.Itoa(4+n%5)
	case wearable.MetricHRV:
		return strconv.Itoa(38 + n%30)
	default:
		return strconv.Itoa(n)
	}
}
