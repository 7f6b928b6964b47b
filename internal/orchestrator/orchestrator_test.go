package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/wearlink/internal/capability"
	"github.com/srg/wearlink/internal/registry"
	"github.com/srg/wearlink/internal/wearable"
	"github.com/srg/wearlink/pkg/config"
)

// fakeTransport links up instantly when linkUp is set, otherwise blocks like
// an unreachable device until the dial context ends.
type fakeTransport struct {
	mu           sync.Mutex
	linkUp       bool
	radioOn      bool
	connectErr   error
	connectCalls int
	disconnected []string
}

func (f *fakeTransport) Connect(ctx context.Context, address string) error {
	f.mu.Lock()
	f.connectCalls++
	linkUp, connectErr := f.linkUp, f.connectErr
	f.mu.Unlock()

	if connectErr != nil {
		return connectErr
	}
	if linkUp {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeTransport) Disconnect(address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, address)
	return nil
}

func (f *fakeTransport) IsConnected(address string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.linkUp
}

func (f *fakeTransport) RadioEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.radioOn
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

func (f *fakeTransport) disconnects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.disconnected...)
}

type fakeRecorder struct {
	mu      sync.Mutex
	address string
	name    string
	calls   int
}

func (r *fakeRecorder) RecordConnected(address, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.address, r.name = address, name
	r.calls++
}

// fastConfig keeps every window tiny so tests run in milliseconds
func fastConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.ConnectTimeout = 60 * time.Millisecond
	cfg.VerifyWindow = 40 * time.Millisecond
	cfg.Retry = config.RetryPolicy{MaxAttempts: 3, BaseDelay: 20 * time.Millisecond, BackoffMultiplier: 2.0}
	return cfg
}

func newOrchestrator(t *testing.T, transport any, cfg *config.Config) (*Orchestrator, *registry.Registry, *fakeRecorder) {
	t.Helper()
	adapter := capability.New(transport, nil)
	adapter.Resolve()
	reg := registry.New(nil)
	rec := &fakeRecorder{}
	o := New(adapter, reg, cfg, rec, nil)
	t.Cleanup(o.Stop)
	return o, reg, rec
}

func waitForState(t *testing.T, o *Orchestrator, want wearable.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return o.Snapshot().State == want
	}, 2*time.Second, 2*time.Millisecond, "expected state %s, stuck at %s", want, o.Snapshot().State)
}

func TestConnect_VerifiedByFirstSample(t *testing.T) {
	transport := &fakeTransport{linkUp: true, radioOn: true}
	o, _, rec := newOrchestrator(t, transport, fastConfig())

	require.NoError(t, o.Connect("AA:01"))
	waitForState(t, o, wearable.StateVerifying)

	// Link-up alone must never produce Connected
	assert.Equal(t, wearable.StateVerifying, o.Snapshot().State)

	o.NotifyData("AA:01", time.Now())
	waitForState(t, o, wearable.StateConnected)

	session := o.Snapshot()
	assert.NotNil(t, session.ConnectedSince)
	assert.NotNil(t, session.LastDataReceived)
	assert.Equal(t, 1, session.Attempt)

	rec.mu.Lock()
	assert.Equal(t, "AA:01", rec.address)
	rec.mu.Unlock()
}

func TestConnect_StaleTimersNeverFireIntoNewState(t *testing.T) {
	cfg := fastConfig()
	transport := &fakeTransport{linkUp: true, radioOn: true}
	o, _, _ := newOrchestrator(t, transport, cfg)

	require.NoError(t, o.Connect("AA:01"))
	waitForState(t, o, wearable.StateVerifying)
	o.NotifyData("AA:01", time.Now())
	waitForState(t, o, wearable.StateConnected)

	// Sleep past both the connect timeout and the verify window: neither
	// expired timer may demote the connected session.
	time.Sleep(cfg.ConnectTimeout + cfg.VerifyWindow + 30*time.Millisecond)
	assert.Equal(t, wearable.StateConnected, o.Snapshot().State)
}

func TestConnect_NoDataEndsInVerificationTimeout(t *testing.T) {
	transport := &fakeTransport{linkUp: true, radioOn: true}
	o, _, _ := newOrchestrator(t, transport, fastConfig())

	require.NoError(t, o.Connect("AA:01"))

	// Retries run their course and the session settles in Failed
	require.Eventually(t, func() bool {
		s := o.Snapshot()
		return s.State == wearable.StateFailed && s.Attempt == 3
	}, 3*time.Second, 5*time.Millisecond)

	assert.Equal(t, wearable.CodeVerificationTimeout, o.Snapshot().Reason)
	assert.True(t, o.Snapshot().Terminal)

	// No further attempts after exhaustion
	calls := transport.calls()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, calls, transport.calls())
}

func TestConnect_TimeoutRetriesWithBackoff(t *testing.T) {
	transport := &fakeTransport{radioOn: true} // never links up
	o, _, _ := newOrchestrator(t, transport, fastConfig())

	require.NoError(t, o.Connect("AA:01"))

	require.Eventually(t, func() bool {
		s := o.Snapshot()
		return s.State == wearable.StateFailed && s.Attempt == 3
	}, 3*time.Second, 5*time.Millisecond)

	assert.Equal(t, 3, transport.calls())
	assert.Equal(t, wearable.CodeConnectTimeout, o.Snapshot().Reason)
}

func TestConnect_BackoffDelaysGrow(t *testing.T) {
	cfg := fastConfig()
	transport := &fakeTransport{radioOn: true}
	o, _, _ := newOrchestrator(t, transport, cfg)

	// Watch the event stream and record when each attempt starts.
	events := o.Events()
	require.NoError(t, o.Connect("AA:01"))

	var attemptStarts []time.Time
	deadline := time.After(3 * time.Second)
	for len(attemptStarts) < 3 {
		select {
		case s := <-events:
			if s.State == wearable.StateConnecting {
				attemptStarts = append(attemptStarts, time.Now())
			}
		case <-deadline:
			t.Fatal("timed out waiting for retries")
		}
	}

	gap1 := attemptStarts[1].Sub(attemptStarts[0])
	gap2 := attemptStarts[2].Sub(attemptStarts[1])

	// Each gap includes the connect timeout plus the scheduled backoff;
	// the second backoff doubles, so the second gap must be longer.
	assert.GreaterOrEqual(t, gap1, cfg.ConnectTimeout+cfg.Retry.BaseDelay)
	assert.Greater(t, gap2, gap1)
}

func TestConnect_RejectsConcurrentAttempt(t *testing.T) {
	transport := &fakeTransport{radioOn: true}
	o, _, _ := newOrchestrator(t, transport, fastConfig())

	require.NoError(t, o.Connect("AA:01"))
	waitForState(t, o, wearable.StateConnecting)

	err := o.Connect("BB:02")
	assert.ErrorIs(t, err, wearable.ErrAlreadyInProgress)

	// The in-flight session is untouched
	assert.Equal(t, "AA:01", o.Snapshot().DeviceAddress)
}

func TestConnect_RejectedWhileConnected(t *testing.T) {
	transport := &fakeTransport{linkUp: true, radioOn: true}
	o, _, _ := newOrchestrator(t, transport, fastConfig())

	require.NoError(t, o.Connect("AA:01"))
	waitForState(t, o, wearable.StateVerifying)
	o.NotifyData("AA:01", time.Now())
	waitForState(t, o, wearable.StateConnected)

	// A second Connect must not steal the session while a link is live:
	// overwriting it here would orphan AA:01's connection.
	err := o.Connect("BB:02")
	assert.ErrorIs(t, err, wearable.ErrAlreadyInProgress)

	session := o.Snapshot()
	assert.Equal(t, wearable.StateConnected, session.State)
	assert.Equal(t, "AA:01", session.DeviceAddress)
	assert.Equal(t, 1, transport.calls())
	assert.Empty(t, transport.disconnects())

	// The sanctioned path: release the link first, then dial the new device.
	o.Disconnect()
	waitForState(t, o, wearable.StateIdle)
	require.Eventually(t, func() bool {
		return len(transport.disconnects()) == 1
	}, time.Second, 2*time.Millisecond)

	require.NoError(t, o.Connect("BB:02"))
	waitForState(t, o, wearable.StateVerifying)
	assert.Equal(t, "BB:02", o.Snapshot().DeviceAddress)
}

// noConnectSDK lacks the mandatory connect operation
type noConnectSDK struct{}

func (s *noConnectSDK) Disconnect(address string) error { return nil }
func (s *noConnectSDK) IsConnected(address string) bool { return false }

func TestConnect_RefusedWhenDegraded(t *testing.T) {
	o, _, _ := newOrchestrator(t, &noConnectSDK{}, fastConfig())

	err := o.Connect("AA:01")
	assert.ErrorIs(t, err, wearable.ErrStartupDegraded)
	assert.Equal(t, wearable.StateIdle, o.Snapshot().State)
}

func TestConnect_RadioOff(t *testing.T) {
	transport := &fakeTransport{radioOn: false}
	o, _, _ := newOrchestrator(t, transport, fastConfig())

	err := o.Connect("AA:01")
	assert.ErrorIs(t, err, wearable.ErrRadioDisabled)
	assert.Equal(t, 0, transport.calls())
	assert.Equal(t, wearable.StateIdle, o.Snapshot().State)
}

func TestDisconnect_DuringConnectingCancelsRetry(t *testing.T) {
	cfg := fastConfig()
	transport := &fakeTransport{radioOn: true}
	o, _, _ := newOrchestrator(t, transport, cfg)

	require.NoError(t, o.Connect("AA:01"))
	waitForState(t, o, wearable.StateConnecting)

	o.Disconnect()
	waitForState(t, o, wearable.StateIdle)

	// Long enough for the first timeout plus any scheduled retry
	time.Sleep(cfg.ConnectTimeout + cfg.Retry.Delay(1) + 50*time.Millisecond)
	assert.Equal(t, 1, transport.calls(), "cancelled attempt must not retry")
	assert.Equal(t, wearable.StateIdle, o.Snapshot().State)
}

func TestDisconnect_WhileRetryPending(t *testing.T) {
	cfg := fastConfig()
	transport := &fakeTransport{radioOn: true}
	o, _, _ := newOrchestrator(t, transport, cfg)

	require.NoError(t, o.Connect("AA:01"))
	waitForState(t, o, wearable.StateFailed)

	// A retry is pending, so this Failed is not terminal
	assert.False(t, o.Snapshot().Terminal)

	o.Disconnect()
	waitForState(t, o, wearable.StateIdle)

	time.Sleep(cfg.Retry.Delay(1) + 50*time.Millisecond)
	assert.Equal(t, 1, transport.calls())
}

func TestDisconnect_Idempotent(t *testing.T) {
	transport := &fakeTransport{linkUp: true, radioOn: true}
	o, _, _ := newOrchestrator(t, transport, fastConfig())

	require.NoError(t, o.Connect("AA:01"))
	waitForState(t, o, wearable.StateVerifying)
	o.NotifyData("AA:01", time.Now())
	waitForState(t, o, wearable.StateConnected)

	o.Disconnect()
	o.Disconnect()
	o.Disconnect()
	waitForState(t, o, wearable.StateIdle)

	assert.Empty(t, o.Snapshot().DeviceAddress)
	require.Eventually(t, func() bool {
		return len(transport.disconnects()) >= 1
	}, time.Second, 2*time.Millisecond)
}

func TestDemote(t *testing.T) {
	transport := &fakeTransport{linkUp: true, radioOn: true}
	o, _, _ := newOrchestrator(t, transport, fastConfig())

	require.NoError(t, o.Connect("AA:01"))
	waitForState(t, o, wearable.StateVerifying)
	o.NotifyData("AA:01", time.Now())
	waitForState(t, o, wearable.StateConnected)

	assert.True(t, o.Demote(wearable.CodeDataStale))

	session := o.Snapshot()
	assert.Equal(t, wearable.StateDisconnected, session.State)
	assert.Equal(t, wearable.CodeDataStale, session.Reason)
	assert.Equal(t, "AA:01", session.DeviceAddress, "demoted session keeps its identity for diagnostics")

	// Only Connected sessions can be demoted
	assert.False(t, o.Demote(wearable.CodeLinkDown))

	// The physical link is released
	require.Eventually(t, func() bool {
		return len(transport.disconnects()) == 1
	}, time.Second, 2*time.Millisecond)

	// A fresh connect is allowed after demotion
	assert.NoError(t, o.Connect("AA:01"))
}

func TestNotifyData_IgnoresOtherAddresses(t *testing.T) {
	transport := &fakeTransport{linkUp: true, radioOn: true}
	o, _, _ := newOrchestrator(t, transport, fastConfig())

	require.NoError(t, o.Connect("AA:01"))
	waitForState(t, o, wearable.StateVerifying)

	o.NotifyData("BB:02", time.Now())
	assert.Equal(t, wearable.StateVerifying, o.Snapshot().State)
	assert.Nil(t, o.Snapshot().LastDataReceived)
}

func TestConnect_DeviceClassSelectsTimeoutAndRetry(t *testing.T) {
	cfg := fastConfig()
	cfg.DeviceClasses = []config.DeviceClass{
		{Name: "clinical", NamePrefixes: []string{"CL-"}, ConnectTimeout: 150 * time.Millisecond, Retryable: false},
	}
	transport := &fakeTransport{radioOn: true}
	o, reg, _ := newOrchestrator(t, transport, cfg)

	reg.Upsert(wearable.DeviceInfo{Name: "CL-Monitor", Address: "CC:01", LastSeen: time.Now()})
	require.NoError(t, o.Connect("CC:01"))

	// Still connecting after the default timeout: the class window applies
	time.Sleep(cfg.ConnectTimeout + 20*time.Millisecond)
	assert.Equal(t, wearable.StateConnecting, o.Snapshot().State)

	waitForState(t, o, wearable.StateFailed)

	// Non-retryable class settles after a single attempt, marked terminal so
	// subscribers know no further events are coming
	time.Sleep(cfg.Retry.Delay(1) + 50*time.Millisecond)
	assert.Equal(t, 1, transport.calls())
	assert.Equal(t, 1, o.Snapshot().Attempt)
	assert.True(t, o.Snapshot().Terminal)
}

func TestReset(t *testing.T) {
	cfg := fastConfig()
	cfg.Retry.MaxAttempts = 1
	transport := &fakeTransport{radioOn: true}
	o, _, _ := newOrchestrator(t, transport, cfg)

	require.NoError(t, o.Connect("AA:01"))
	waitForState(t, o, wearable.StateFailed)

	o.Reset()
	session := o.Snapshot()
	assert.Equal(t, wearable.StateIdle, session.State)
	assert.Empty(t, session.DeviceAddress)
	assert.Empty(t, session.Reason)

	// Reset from a live state is refused
	require.NoError(t, o.Connect("AA:01"))
	waitForState(t, o, wearable.StateConnecting)
	o.Reset()
	assert.Equal(t, wearable.StateConnecting, o.Snapshot().State)
}

func TestSnapshot_Initial(t *testing.T) {
	o, _, _ := newOrchestrator(t, &fakeTransport{radioOn: true}, fastConfig())

	session := o.Snapshot()
	assert.Equal(t, wearable.StateIdle, session.State)
	assert.Empty(t, session.DeviceAddress)
}

func BenchmarkSnapshot(b *testing.B) {
	adapter := capability.New(&fakeTransport{radioOn: true}, nil)
	adapter.Resolve()
	o := New(adapter, registry.New(nil), fastConfig(), nil, nil)
	defer o.Stop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = o.Snapshot()
	}
}
