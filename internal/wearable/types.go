package wearable

import (
	"fmt"
	"time"
)

// State is the connection state machine's position. Session snapshots expose
// it to the presentation layer; only the orchestrator transitions it.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateVerifying
	StateConnected
	StateDisconnecting
	StateDisconnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateVerifying:
		return "verifying"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// InProgress reports whether an attempt is outstanding. At most one session
// system-wide may be in progress at a time.
func (s State) InProgress() bool {
	return s == StateConnecting || s == StateVerifying
}

// Session is a snapshot of the single system-wide connection session.
// The orchestrator owns the authoritative copy; everything else sees values.
type Session struct {
	DeviceAddress    string
	DeviceName       string
	State            State
	Attempt          int
	ConnectedSince   *time.Time
	LastDataReceived *time.Time
	Reason           Code // failure/demotion reason, set for Failed and Disconnected
	Terminal         bool // Failed with no retry scheduled; only Reset or a new Connect leaves it
}

// MetricType identifies a health metric stream from the device.
type MetricType int

const (
	MetricHeartRate MetricType = iota
	MetricSpO2
	MetricBloodPressure
	MetricSteps
	MetricSleep
	MetricTemperature
	MetricHRV
)

// AllMetricTypes lists every metric type in declaration order.
var AllMetricTypes = []MetricType{
	MetricHeartRate,
	MetricSpO2,
	MetricBloodPressure,
	MetricSteps,
	MetricSleep,
	MetricTemperature,
	MetricHRV,
}

func (m MetricType) String() string {
	switch m {
	case MetricHeartRate:
		return "heart_rate"
	case MetricSpO2:
		return "spo2"
	case MetricBloodPressure:
		return "blood_pressure"
	case MetricSteps:
		return "steps"
	case MetricSleep:
		return "sleep"
	case MetricTemperature:
		return "temperature"
	case MetricHRV:
		return "hrv"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// ParseMetricType resolves a metric name back to its type
func ParseMetricType(s string) (MetricType, error) {
	for _, m := range AllMetricTypes {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown metric type %q", s)
}

// MetricSample is one decoded reading from the device. Samples are stamped
// and forwarded immediately, never buffered past the dispatch call.
type MetricSample struct {
	Type          MetricType
	RawValue      string
	DeviceAddress string
	ReceivedAt    time.Time
}

// DeviceInfo describes a device seen during discovery.
type DeviceInfo struct {
	Name      string
	Address   string
	RSSI      int
	FirstSeen time.Time
	LastSeen  time.Time
}

// MetricSink receives every forwarded sample. Implemented by the
// health-metric store collaborator outside this subsystem.
type MetricSink interface {
	Consume(sample MetricSample)
}

// MetricSinkFunc adapts a function to the MetricSink interface
type MetricSinkFunc func(sample MetricSample)

func (f MetricSinkFunc) Consume(sample MetricSample) { f(sample) }
