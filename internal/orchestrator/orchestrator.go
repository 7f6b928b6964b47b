// Package orchestrator owns the connection state machine:
//
//	Idle -> Connecting -> Verifying -> Connected -> (Disconnected | Failed)
//
// A transport "link up" signal alone never promotes a session to Connected.
// The device has to prove itself with a real metric sample inside the
// verification window, otherwise the attempt fails. All transitions are
// serialized under one lock; timers are epoch-guarded so a late-firing
// timeout from an exited state can never corrupt a newer attempt.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/wearlink/internal/capability"
	"github.com/srg/wearlink/internal/groutine"
	"github.com/srg/wearlink/internal/registry"
	"github.com/srg/wearlink/internal/ringchan"
	"github.com/srg/wearlink/internal/wearable"
	"github.com/srg/wearlink/pkg/config"
)

// Recorder persists the last successfully connected device. Optional.
type Recorder interface {
	RecordConnected(address, name string)
}

// Orchestrator drives connect attempts for the single system-wide session.
type Orchestrator struct {
	adapter  *capability.Adapter
	registry *registry.Registry
	cfg      *config.Config
	logger   *logrus.Logger
	recorder Recorder

	mu            sync.Mutex
	session       wearable.Session
	epoch         uint64
	timer         *time.Timer
	connectCancel context.CancelFunc

	snapshot atomic.Pointer[wearable.Session]
	events   *ringchan.RingChannel[wearable.Session]
	clock    func() time.Time
}

// New creates an orchestrator in the Idle state
func New(adapter *capability.Adapter, reg *registry.Registry, cfg *config.Config, rec Recorder, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	o := &Orchestrator{
		adapter:  adapter,
		registry: reg,
		cfg:      cfg,
		recorder: rec,
		logger:   logger,
		events:   ringchan.New[wearable.Session](64),
		clock:    time.Now,
	}
	o.publishLocked()
	return o
}

// Snapshot returns the current session without taking the transition lock.
func (o *Orchestrator) Snapshot() wearable.Session {
	return *o.snapshot.Load()
}

// Events returns the StateChanged stream consumed by the presentation layer
func (o *Orchestrator) Events() <-chan wearable.Session {
	return o.events.C()
}

// publishLocked republishes the lock-free snapshot. Callers hold o.mu,
// except during construction.
func (o *Orchestrator) publishLocked() {
	s := o.session
	if s.ConnectedSince != nil {
		t := *s.ConnectedSince
		s.ConnectedSince = &t
	}
	if s.LastDataReceived != nil {
		t := *s.LastDataReceived
		s.LastDataReceived = &t
	}
	o.snapshot.Store(&s)
}

// transitionLocked moves to the next state. It bumps the epoch and stops any
// pending timer for the exited state before the new state is entered, so a
// stale timeout can never fire into the new state.
func (o *Orchestrator) transitionLocked(next wearable.State) {
	prev := o.session.State
	o.epoch++
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.session.State = next
	o.publishLocked()

	o.logger.WithFields(logrus.Fields{
		"from":    prev.String(),
		"to":      next.String(),
		"address": o.session.DeviceAddress,
		"attempt": o.session.Attempt,
		"reason":  string(o.session.Reason),
	}).Info("Connection state changed")

	o.events.ForceSend(o.Snapshot())
}

// armLocked schedules fn after d, tagged with the current epoch. fn runs on
// the timer goroutine and must re-check the epoch under the lock.
func (o *Orchestrator) armLocked(d time.Duration, fn func(epoch uint64)) {
	epoch := o.epoch
	o.timer = time.AfterFunc(d, func() { fn(epoch) })
}

// Connect begins an attempt toward the given address. It returns immediately;
// progress is reported through the StateChanged stream.
//
// Rejections: AlreadyInProgress unless the session is settled in Idle,
// Disconnected, or Failed, StartupDegraded when a mandatory transport
// operation is unresolved (no transport call is made), RadioDisabled when
// the radio reports off.
func (o *Orchestrator) Connect(address string) error {
	if err := o.adapter.DegradedError(); err != nil {
		return err
	}

	// Radio state is checked before the attempt starts; RadioDisabled is
	// surfaced immediately and never retried in place.
	if o.adapter.Available(capability.OpRadioEnabled) {
		enabled, err := o.adapter.InvokeBool(capability.OpRadioEnabled)
		if err == nil && !enabled {
			return wearable.ErrRadioDisabled
		}
	}

	name := ""
	if o.registry != nil {
		if info, ok := o.registry.Get(address); ok {
			name = info.Name
		}
	}
	class := o.cfg.ClassFor(name)

	o.mu.Lock()
	// Only settled states may start an attempt. Connected and Disconnecting
	// still own a live or closing link; overwriting the session here would
	// orphan it. Callers go through Disconnect first.
	switch o.session.State {
	case wearable.StateIdle, wearable.StateDisconnected, wearable.StateFailed:
	default:
		o.mu.Unlock()
		return wearable.ErrAlreadyInProgress
	}

	o.session = wearable.Session{
		DeviceAddress: address,
		DeviceName:    name,
		State:         o.session.State,
		Attempt:       1,
	}
	o.beginAttemptLocked(class)
	o.mu.Unlock()

	o.logger.WithFields(logrus.Fields{
		"address":         address,
		"device":          name,
		"class":           class.Name,
		"connect_timeout": class.ConnectTimeout,
	}).Info("Connection attempt started")

	return nil
}

// beginAttemptLocked enters Connecting, arms the class connect timeout, and
// launches the transport dial. Caller holds o.mu.
func (o *Orchestrator) beginAttemptLocked(class config.DeviceClass) {
	o.transitionLocked(wearable.StateConnecting)

	ctx, cancel := context.WithCancel(context.Background())
	o.connectCancel = cancel

	epoch := o.epoch
	o.armLocked(class.ConnectTimeout, func(e uint64) {
		o.onTimeout(e, wearable.CodeConnectTimeout, class)
	})

	address := o.session.DeviceAddress
	groutine.Go(ctx, "connect-dial", func(ctx context.Context) {
		o.dial(ctx, cancel, epoch, address, class)
	})
}

// dial performs the blocking transport connect off the caller's goroutine
func (o *Orchestrator) dial(ctx context.Context, cancel context.CancelFunc, epoch uint64, address string, class config.DeviceClass) {
	defer cancel()
	_, err := o.adapter.Invoke(capability.OpConnect, ctx, address)

	o.mu.Lock()
	defer o.mu.Unlock()

	if epoch != o.epoch {
		// The attempt this dial belonged to is gone. If the link came up
		// anyway, tear it down so the radio isn't left holding a session
		// nobody owns.
		if err == nil {
			go o.teardown(address)
		}
		return
	}

	if err != nil {
		o.logger.WithError(err).WithField("address", address).Warn("Transport connect failed")
		o.failLocked(wearable.CodeOf(wearable.NormalizeError(err)), class)
		return
	}

	// Link-up is necessary but not sufficient: enter Verifying and demand a
	// real data sample before reporting Connected.
	o.transitionLocked(wearable.StateVerifying)
	o.armLocked(o.cfg.VerifyWindow, func(e uint64) {
		o.onTimeout(e, wearable.CodeVerificationTimeout, class)
	})
}

// onTimeout handles connect/verify window expiry. Stale epochs are ignored.
func (o *Orchestrator) onTimeout(epoch uint64, code wearable.Code, class config.DeviceClass) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if epoch != o.epoch {
		return
	}

	o.logger.WithFields(logrus.Fields{
		"address": o.session.DeviceAddress,
		"attempt": o.session.Attempt,
		"reason":  string(code),
	}).Warn("Attempt timed out")

	if cancel := o.connectCancel; cancel != nil {
		cancel()
		o.connectCancel = nil
	}
	o.failLocked(code, class)
}

// failLocked enters Failed and, when policy allows, schedules the next
// attempt with exponential backoff. Caller holds o.mu.
func (o *Orchestrator) failLocked(code wearable.Code, class config.DeviceClass) {
	if code == "" {
		code = wearable.CodeConnectTimeout
	}
	attempt := o.session.Attempt
	o.session.Reason = code

	retryable := class.Retryable &&
		(code == wearable.CodeConnectTimeout || code == wearable.CodeVerificationTimeout)
	terminal := !retryable || attempt >= o.cfg.Retry.MaxAttempts
	o.session.Terminal = terminal
	o.transitionLocked(wearable.StateFailed)

	if terminal {
		o.logger.WithFields(logrus.Fields{
			"address":  o.session.DeviceAddress,
			"attempts": attempt,
			"reason":   string(code),
		}).Error("Connection failed, no retry scheduled")
		return
	}

	delay := o.cfg.Retry.Delay(attempt)
	o.logger.WithFields(logrus.Fields{
		"address": o.session.DeviceAddress,
		"attempt": attempt + 1,
		"delay":   delay,
	}).Info("Retry scheduled")

	o.armLocked(delay, func(e uint64) {
		o.mu.Lock()
		defer o.mu.Unlock()
		if e != o.epoch {
			return
		}
		o.session.Attempt++
		o.session.Reason = ""
		o.beginAttemptLocked(class)
	})
}

// NotifyData records a received sample for the session's device. During
// Verifying this is the proof that completes verification; afterwards it
// refreshes the staleness clock the liveness verifier reads.
func (o *Orchestrator) NotifyData(address string, receivedAt time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session.DeviceAddress != address {
		return
	}

	t := receivedAt
	o.session.LastDataReceived = &t

	if o.session.State == wearable.StateVerifying {
		now := o.clock()
		o.session.ConnectedSince = &now
		o.session.Reason = ""
		o.transitionLocked(wearable.StateConnected)
		o.connectCancel = nil

		if o.recorder != nil {
			o.recorder.RecordConnected(o.session.DeviceAddress, o.session.DeviceName)
		}
		return
	}

	// No state change: refresh the lock-free snapshot only.
	o.publishLocked()
}

// Demote is the one downward transition external collaborators may request:
// the liveness verifier uses it when any of its checks fails. Only a
// Connected session can be demoted.
func (o *Orchestrator) Demote(reason wearable.Code) bool {
	o.mu.Lock()

	if o.session.State != wearable.StateConnected {
		o.mu.Unlock()
		return false
	}

	address := o.session.DeviceAddress
	o.session.Reason = reason
	o.transitionLocked(wearable.StateDisconnected)
	o.mu.Unlock()

	o.logger.WithFields(logrus.Fields{
		"address": address,
		"reason":  string(reason),
	}).Warn("Session demoted by liveness check")

	go o.teardown(address)
	return true
}

// Disconnect cancels whatever is in flight and releases the link. Safe to
// call from any state, idempotent.
func (o *Orchestrator) Disconnect() {
	o.mu.Lock()

	state := o.session.State
	if state == wearable.StateIdle || state == wearable.StateDisconnecting {
		o.mu.Unlock()
		return
	}

	address := o.session.DeviceAddress
	if cancel := o.connectCancel; cancel != nil {
		cancel()
		o.connectCancel = nil
	}

	// Failed/Disconnected sessions have no link to release; epoch bump in
	// the transition still kills any pending retry timer.
	hadLink := state == wearable.StateConnecting || state == wearable.StateVerifying ||
		state == wearable.StateConnected

	o.transitionLocked(wearable.StateDisconnecting)
	epoch := o.epoch
	o.mu.Unlock()

	groutine.Go(nil, "link-teardown", func(context.Context) {
		if hadLink {
			o.teardown(address)
		}
		o.mu.Lock()
		defer o.mu.Unlock()
		if epoch != o.epoch {
			return
		}
		o.session = wearable.Session{}
		o.transitionLocked(wearable.StateIdle)
	})
}

// Reset returns a settled Failed or Disconnected session to Idle
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session.State != wearable.StateFailed && o.session.State != wearable.StateDisconnected {
		return
	}
	o.session = wearable.Session{}
	o.transitionLocked(wearable.StateIdle)
}

// teardown releases the transport link, best effort
func (o *Orchestrator) teardown(address string) {
	if _, err := o.adapter.Invoke(capability.OpDisconnect, address); err != nil {
		o.logger.WithError(err).WithField("address", address).Debug("Transport disconnect failed")
	}
}

// Stop cancels all pending work. The orchestrator is not reusable afterwards.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.epoch++
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	if o.connectCancel != nil {
		o.connectCancel()
		o.connectCancel = nil
	}
}
