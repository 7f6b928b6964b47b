// Package scan drives device discovery: one scan in flight at a time,
// name-prefix filtering, registry population, and a bounded event stream.
package scan

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/wearlink/internal/capability"
	"github.com/srg/wearlink/internal/groutine"
	"github.com/srg/wearlink/internal/registry"
	"github.com/srg/wearlink/internal/ringchan"
	"github.com/srg/wearlink/internal/wearable"
)

// Handler receives one raw advertisement from the transport scan operation.
// Providers expose the same signature as an unnamed func type.
type Handler func(name, address string, rssi int)

// NamePrefixFilter admits devices whose name starts with any member.
// An empty filter admits everything.
type NamePrefixFilter []string

// Match reports whether the device name passes the filter
func (f NamePrefixFilter) Match(name string) bool {
	if len(f) == 0 {
		return true
	}
	for _, prefix := range f {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// EventType marks what a scan event carries
type EventType int

const (
	EventDevice EventType = iota
	EventFinished
	EventError
)

// Event is one entry in the scan result stream. Finished carries the final
// device count; Error carries the transport failure.
type Event struct {
	Type   EventType
	Device wearable.DeviceInfo
	Count  int
	Err    error
}

// Coordinator owns discovery. It rejects overlapping scans rather than
// queuing them: at most one scan is in flight.
type Coordinator struct {
	adapter  *capability.Adapter
	registry *registry.Registry
	logger   *logrus.Logger

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc

	events *ringchan.RingChannel[Event]
	clock  func() time.Time
}

// New creates a scan coordinator
func New(adapter *capability.Adapter, reg *registry.Registry, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Coordinator{
		adapter:  adapter,
		registry: reg,
		logger:   logger,
		events:   ringchan.New[Event](128),
		clock:    time.Now,
	}
}

// Start begins discovery. Previously discovered devices are discarded.
// Returns AlreadyScanning while a scan is in flight. Timeout expiry is a
// normal terminal outcome, reported as a Finished event with whatever was
// found by then.
func (c *Coordinator) Start(ctx context.Context, filter NamePrefixFilter, timeout time.Duration) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return wearable.ErrAlreadyScanning
	}
	if !c.adapter.Available(capability.OpScan) {
		c.mu.Unlock()
		return wearable.NewError(wearable.CodeOperationUnavailable, "transport cannot scan")
	}

	c.registry.Clear()

	var scanCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		scanCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		scanCtx, cancel = context.WithCancel(ctx)
	}
	c.active = true
	c.cancel = cancel
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"timeout": timeout,
		"filter":  []string(filter),
	}).Info("Starting device scan")

	groutine.Go(scanCtx, "scan-run", func(ctx context.Context) {
		c.run(ctx, cancel, filter)
	})
	return nil
}

// run executes the transport scan on its own goroutine and reports the
// terminal event
func (c *Coordinator) run(ctx context.Context, cancel context.CancelFunc, filter NamePrefixFilter) {
	defer cancel()

	handler := Handler(func(name, address string, rssi int) {
		if !filter.Match(name) {
			return // silently dropped: not registered, not reported
		}

		now := c.clock()
		info := wearable.DeviceInfo{
			Name:     name,
			Address:  address,
			RSSI:     rssi,
			LastSeen: now,
		}
		c.registry.Upsert(info)
		c.events.ForceSend(Event{Type: EventDevice, Device: info})
	})

	_, err := c.adapter.Invoke(capability.OpScan, ctx, handler)

	c.mu.Lock()
	c.active = false
	c.cancel = nil
	c.mu.Unlock()

	// Cancellation and deadline expiry end a scan normally
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		c.logger.WithError(err).Error("Scan failed")
		c.events.ForceSend(Event{Type: EventError, Err: err})
		return
	}

	final := c.registry.Len()
	c.logger.WithField("device_count", final).Info("Scan finished")
	c.events.ForceSend(Event{Type: EventFinished, Count: final})
}

// Stop ends the current scan early. Stopping when no scan is active is a
// no-op. The Finished event still fires, possibly with zero results.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Active reports whether a scan is in flight
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Events returns the scan event stream
func (c *Coordinator) Events() <-chan Event {
	return c.events.C()
}
