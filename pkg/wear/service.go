// Package wear is the subsystem facade: it wires the capability adapter,
// device registry, scan coordinator, connection orchestrator, liveness
// verifier, and metric dispatcher into one service with the command surface
// the presentation layer consumes.
package wear

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/wearlink/internal/capability"
	"github.com/srg/wearlink/internal/dispatch"
	"github.com/srg/wearlink/internal/groutine"
	"github.com/srg/wearlink/internal/lastknown"
	"github.com/srg/wearlink/internal/liveness"
	"github.com/srg/wearlink/internal/orchestrator"
	"github.com/srg/wearlink/internal/registry"
	"github.com/srg/wearlink/internal/ringchan"
	"github.com/srg/wearlink/internal/scan"
	"github.com/srg/wearlink/internal/wearable"
	"github.com/srg/wearlink/pkg/config"
)

// Service owns the connection subsystem's lifecycle and exposes its external
// command surface: Scan, StopScan, Connect, Disconnect, QueryState.
type Service struct {
	cfg    *config.Config
	logger *logrus.Logger

	adapter      *capability.Adapter
	registry     *registry.Registry
	coordinator  *scan.Coordinator
	orchestrator *orchestrator.Orchestrator
	verifier     *liveness.Verifier
	dispatcher   *dispatch.Dispatcher
	lastKnown    *lastknown.Store

	states   *ringchan.RingChannel[wearable.Session]
	bindings []capability.Binding

	mu        sync.Mutex
	simulator *dispatch.Simulator
	stopCh    chan struct{}
	started   bool
}

// New assembles the subsystem around an opaque vendor transport provider and
// the metric-store collaborator.
func New(cfg *config.Config, provider any, sink wearable.MetricSink, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	s := &Service{
		cfg:    cfg,
		logger: logger,
		states: ringchan.New[wearable.Session](64),
	}

	s.adapter = capability.New(provider, logger)
	s.registry = registry.New(logger)
	s.lastKnown = lastknown.NewStore(cfg.StatePath, logger)
	s.coordinator = scan.New(s.adapter, s.registry, logger)
	s.orchestrator = orchestrator.New(s.adapter, s.registry, cfg, s.lastKnown, logger)
	s.verifier = liveness.New(s.adapter, s.orchestrator, cfg, logger)
	s.dispatcher = dispatch.New(s.orchestrator, sink, logger)

	return s
}

// Start resolves transport capabilities and begins supervising the session.
// A degraded adapter does not fail startup: scanning may still work and the
// orchestrator refuses Connect calls with StartupDegraded until the
// mandatory operations resolve.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.bindings = s.adapter.Resolve()
	if err := s.adapter.DegradedError(); err != nil {
		s.logger.WithError(err).Warn("Transport capabilities degraded; connect is refused until resolved")
	}

	s.stopCh = make(chan struct{})
	s.started = true
	stopCh := s.stopCh
	groutine.Go(nil, "session-supervisor", func(context.Context) {
		s.supervise(stopCh)
	})

	s.logger.Info("Connection subsystem started")
	return nil
}

// supervise follows session state changes, drives the liveness verifier's
// lifecycle, and re-forwards the events to external subscribers.
func (s *Service) supervise(stopCh chan struct{}) {
	events := s.orchestrator.Events()
	for {
		select {
		case <-stopCh:
			return
		case session := <-events:
			if session.State == wearable.StateConnected {
				s.verifier.Start()
				s.startSimulatorIfDegraded(session.DeviceAddress)
			} else {
				s.verifier.Stop()
				s.stopSimulator()
			}
			s.states.ForceSend(session)
		}
	}
}

// startSimulatorIfDegraded spins up the synthetic metric source for metric
// types whose read operation is unresolved, but only when configuration
// explicitly opted in to the degraded mode.
func (s *Service) startSimulatorIfDegraded(address string) {
	if !s.cfg.EnableSimulatedMetrics {
		return
	}

	var missing []wearable.MetricType
	for _, t := range wearable.AllMetricTypes {
		if !s.adapter.Available(capability.OpReadMetric(t)) {
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.simulator != nil {
		return
	}
	s.simulator = dispatch.NewSimulator(s.dispatcher, missing, address, s.cfg.HeartbeatInterval, s.logger)
	s.simulator.Start()
}

func (s *Service) stopSimulator() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.simulator != nil {
		s.simulator.Stop()
		s.simulator = nil
	}
}

// Stop shuts the subsystem down: scan cancelled, session disconnected,
// timers released.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	s.coordinator.Stop()
	s.verifier.Stop()
	s.stopSimulator()
	s.orchestrator.Disconnect()
	s.orchestrator.Stop()

	s.logger.Info("Connection subsystem stopped")
}

// Scan starts discovery with a name-prefix filter. Devices from earlier
// scans are discarded.
func (s *Service) Scan(prefixes []string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.cfg.ScanTimeout
	}
	return s.coordinator.Start(context.Background(), scan.NamePrefixFilter(prefixes), timeout)
}

// StopScan ends the current scan early; the Finished event still fires
func (s *Service) StopScan() {
	s.coordinator.Stop()
}

// Devices lists discovered devices in first-seen order
func (s *Service) Devices() []wearable.DeviceInfo {
	return s.registry.List()
}

// Connect starts the full connect/verify protocol toward address
func (s *Service) Connect(address string) error {
	return s.orchestrator.Connect(address)
}

// Disconnect tears the session down. Safe from any state.
func (s *Service) Disconnect() {
	s.orchestrator.Disconnect()
}

// Reset returns a settled Failed or Disconnected session to Idle
func (s *Service) Reset() {
	s.orchestrator.Reset()
}

// QueryState returns the current session snapshot without blocking
func (s *Service) QueryState() wearable.Session {
	return s.orchestrator.Snapshot()
}

// StateEvents is the StateChanged notification stream
func (s *Service) StateEvents() <-chan wearable.Session {
	return s.states.C()
}

// ScanEvents is the scan result stream
func (s *Service) ScanEvents() <-chan scan.Event {
	return s.coordinator.Events()
}

// Dispatcher exposes the metric entry point for transport listener wiring
func (s *Service) Dispatcher() *dispatch.Dispatcher {
	return s.dispatcher
}

// Bindings reports the capability resolution outcome per logical operation
func (s *Service) Bindings() []capability.Binding {
	return s.bindings
}

// Degraded reports whether a mandatory transport operation is unresolved
func (s *Service) Degraded() bool {
	return s.adapter.Degraded()
}

// MetricAvailable reports whether the transport can read the given metric
func (s *Service) MetricAvailable(t wearable.MetricType) bool {
	return s.adapter.Available(capability.OpReadMetric(t))
}

// LastKnown returns the persisted reconnect suggestion, if any
func (s *Service) LastKnown() lastknown.Record {
	rec, err := s.lastKnown.Load()
	if err != nil {
		s.logger.WithError(err).Warn("Failed to load last-known device")
		return lastknown.Record{}
	}
	return rec
}
