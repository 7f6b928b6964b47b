package capability

import (
	"strings"

	"github.com/srg/wearlink/internal/wearable"
)

// Op names a logical transport operation. Consumers call logical operations
// only; the adapter maps them onto whatever the vendor SDK actually exposes.
type Op string

const (
	OpScan          Op = "scan"
	OpConnect       Op = "connect"
	OpDisconnect    Op = "disconnect"
	OpIsConnected   Op = "is_connected"
	OpRadioEnabled  Op = "radio_enabled"
	OpPairedDevices Op = "paired_devices"
)

// OpReadMetric returns the logical read operation for a metric type
func OpReadMetric(t wearable.MetricType) Op {
	return Op("read_" + t.String())
}

// MandatoryOps are the operations the subsystem refuses to run without.
// Substituting a silent no-op for any of these would defeat the liveness
// checks, so resolution failure degrades the whole adapter instead.
var MandatoryOps = []Op{OpConnect, OpDisconnect, OpIsConnected}

// methodCandidates lists known vendor method names per logical operation.
// The vendor SDK has renamed these across releases; resolution tries each
// candidate case-insensitively.
var methodCandidates = map[Op][]string{
	OpScan:          {"Scan", "StartScan", "StartDiscovery", "Discover"},
	OpConnect:       {"Connect", "ConnectDevice", "ConnectGatt", "Dial"},
	OpDisconnect:    {"Disconnect", "DisconnectDevice", "CancelConnection", "CloseConnection"},
	OpIsConnected:   {"IsConnected", "Connected", "GetConnectionState"},
	OpRadioEnabled:  {"RadioEnabled", "IsEnabled", "AdapterEnabled", "IsBluetoothEnabled"},
	OpPairedDevices: {"PairedDevices", "BondedDevices", "GetPairedDevices", "GetBondedDevices"},
}

// AllOps returns every logical operation, metric reads included
func AllOps() []Op {
	ops := []Op{OpScan, OpConnect, OpDisconnect, OpIsConnected, OpRadioEnabled, OpPairedDevices}
	for _, t := range wearable.AllMetricTypes {
		ops = append(ops, OpReadMetric(t))
	}
	return ops
}

// candidatesFor returns the method-name candidates for an operation. Metric
// read candidates are derived from the metric name: heart_rate yields
// ReadHeartRate, GetHeartRate, HeartRate.
func candidatesFor(op Op) []string {
	if c, ok := methodCandidates[op]; ok {
		return c
	}
	name, ok := strings.CutPrefix(string(op), "read_")
	if !ok {
		return nil
	}
	camel := snakeToCamel(name)
	return []string{"Read" + camel, "Get" + camel, camel}
}

// snakeToCamel converts heart_rate to HeartRate. Known acronym-style metric
// names (spo2, hrv) keep their exported spelling.
func snakeToCamel(s string) string {
	switch s {
	case "spo2":
		return "SpO2"
	case "hrv":
		return "HRV"
	}
	parts := strings.Split(s, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "")
}
