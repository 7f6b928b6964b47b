// Package liveness keeps a Connected session honest. A transport can keep
// reporting "connected" long after the device walked away, so every heartbeat
// cross-checks four independent signals and demotes on the first failure.
package liveness

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/wearlink/internal/capability"
	"github.com/srg/wearlink/internal/groutine"
	"github.com/srg/wearlink/internal/wearable"
	"github.com/srg/wearlink/pkg/config"
)

// SessionControl is the slice of the orchestrator the verifier is allowed to
// touch: read-only snapshots plus the single demotion transition. The
// verifier never mutates session state directly.
type SessionControl interface {
	Snapshot() wearable.Session
	Demote(reason wearable.Code) bool
}

// Verifier runs the periodic heartbeat for the active session.
type Verifier struct {
	adapter *capability.Adapter
	control SessionControl
	cfg     *config.Config
	logger  *logrus.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool

	clock func() time.Time
}

// New creates a stopped verifier
func New(adapter *capability.Adapter, control SessionControl, cfg *config.Config, logger *logrus.Logger) *Verifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &Verifier{
		adapter: adapter,
		control: control,
		cfg:     cfg,
		logger:  logger,
		clock:   time.Now,
	}
}

// Start launches the heartbeat loop. Starting a running verifier is a no-op.
func (v *Verifier) Start() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.running {
		return
	}
	v.running = true
	v.stopCh = make(chan struct{})

	stopCh := v.stopCh
	groutine.Go(nil, "liveness-heartbeat", func(context.Context) {
		v.loop(stopCh)
	})
	v.logger.WithField("interval", v.cfg.HeartbeatInterval).Debug("Liveness verifier started")
}

// Stop halts the heartbeat loop. Idempotent.
func (v *Verifier) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.running {
		return
	}
	v.running = false
	close(v.stopCh)
	v.logger.Debug("Liveness verifier stopped")
}

// Running reports whether the heartbeat loop is active
func (v *Verifier) Running() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.running
}

func (v *Verifier) loop(stopCh chan struct{}) {
	ticker := time.NewTicker(v.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			v.Tick()
		}
	}
}

// Tick evaluates all liveness signals once. Exported so tests can drive the
// heartbeat without waiting on the ticker.
func (v *Verifier) Tick() {
	session := v.control.Snapshot()
	if session.State != wearable.StateConnected {
		return
	}

	if reason, ok := v.check(session); !ok {
		v.logger.WithFields(logrus.Fields{
			"address": session.DeviceAddress,
			"reason":  string(reason),
		}).Warn("Liveness check failed")
		v.control.Demote(reason)
	}
}

// check evaluates the four independent signals in order and returns the
// first failure. Optional operations that did not resolve are skipped rather
// than treated as failures; mandatory is_connected always resolved or the
// subsystem would not have started.
func (v *Verifier) check(session wearable.Session) (wearable.Code, bool) {
	// 1. Radio globally enabled.
	if v.adapter.Available(capability.OpRadioEnabled) {
		enabled, err := v.adapter.InvokeBool(capability.OpRadioEnabled)
		if err == nil && !enabled {
			return wearable.CodeRadioDisabled, false
		}
	}

	// 2. Device still in the paired set. Unpairing requires user action
	// outside this subsystem, so this demotes immediately and is never
	// retried in place.
	if v.adapter.Available(capability.OpPairedDevices) {
		if paired, err := v.pairedAddresses(); err == nil {
			if !contains(paired, session.DeviceAddress) {
				return wearable.CodeDeviceNotPaired, false
			}
		}
	}

	// 3. Data freshness. Only meaningful once data has arrived at least
	// once: a session that never produced data was already rejected by the
	// verification window.
	if session.LastDataReceived != nil {
		if v.clock().Sub(*session.LastDataReceived) > v.cfg.DataTimeout {
			return wearable.CodeDataStale, false
		}
	}

	// 4. Transport agrees the link is up.
	if v.adapter.Available(capability.OpIsConnected) {
		up, err := v.adapter.InvokeBool(capability.OpIsConnected, session.DeviceAddress)
		if err == nil && !up {
			return wearable.CodeLinkDown, false
		}
	}

	return "", true
}

func (v *Verifier) pairedAddresses() ([]string, error) {
	results, err := v.adapter.Invoke(capability.OpPairedDevices)
	if err != nil {
		return nil, err
	}
	if len(results) == 1 {
		if addrs, ok := results[0].([]string); ok {
			return addrs, nil
		}
	}
	return nil, wearable.NewError(wearable.CodeOperationUnavailable,
		"paired_devices returned unexpected shape")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
