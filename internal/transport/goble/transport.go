// Package goble is the go-ble backed vendor transport. It is the only
// package that touches the BLE stack directly; everything above sees it as
// an opaque provider through the capability adapter.
package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
	"github.com/sirupsen/logrus"

	"github.com/srg/wearlink/internal/groutine"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
var DeviceFactory = func() (ble.Device, error) {
	return darwin.NewDevice()
}

// metricCharacteristics maps standard GATT health characteristics to the
// metric names the dispatcher understands. Payloads are forwarded as hex;
// decoding the vendor formats is not this subsystem's job.
var metricCharacteristics = map[string]string{
	"2a37": "heart_rate",     // Heart Rate Measurement
	"2a5f": "spo2",           // PLX Continuous Measurement
	"2a35": "blood_pressure", // Blood Pressure Measurement
	"2a1c": "temperature",    // Temperature Measurement
	"2a53": "steps",          // RSC Measurement (step cadence source)
}

// MetricHandler receives one normalized metric notification
type MetricHandler func(metric, rawValue, address string)

// Transport exposes the operation shapes the capability patterns resolve:
// Scan, ConnectDevice, DisconnectDevice, IsConnected, RadioEnabled,
// PairedDevices.
type Transport struct {
	logger   *logrus.Logger
	onMetric MetricHandler

	mu      sync.Mutex
	dev     ble.Device
	devErr  error
	clients map[string]ble.Client
}

// NewTransport creates a transport forwarding metric notifications to handler
func NewTransport(handler MetricHandler, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if handler == nil {
		handler = func(string, string, string) {}
	}
	return &Transport{
		logger:   logger,
		onMetric: handler,
		clients:  make(map[string]ble.Client),
	}
}

// device lazily initializes the BLE stack. The first failure is sticky:
// radio init errors do not resolve themselves without user action.
func (t *Transport) device() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev != nil || t.devErr != nil {
		return t.dev, t.devErr
	}
	dev, err := DeviceFactory()
	if err != nil {
		t.devErr = fmt.Errorf("failed to create BLE device: %w", err)
		return nil, t.devErr
	}
	ble.SetDefaultDevice(dev)
	t.dev = dev
	return dev, nil
}

// Scan runs discovery until ctx ends, reporting each advertisement
func (t *Transport) Scan(ctx context.Context, handler func(name, address string, rssi int)) error {
	dev, err := t.device()
	if err != nil {
		return err
	}
	return dev.Scan(ctx, true, func(adv ble.Advertisement) {
		handler(adv.LocalName(), adv.Addr().String(), adv.RSSI())
	})
}

// ConnectDevice establishes a link, discovers the GATT profile, and
// subscribes to every known health characteristic.
func (t *Transport) ConnectDevice(ctx context.Context, address string) error {
	if _, err := t.device(); err != nil {
		return err
	}

	t.logger.WithField("address", address).Info("Dialing BLE device")

	client, err := ble.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		client.CancelConnection()
		return fmt.Errorf("failed to discover profile: %w", err)
	}

	subscribed := 0
	for _, service := range profile.Services {
		for _, char := range service.Characteristics {
			metric, ok := metricCharacteristics[normalizeUUID(char.UUID.String())]
			if !ok {
				continue
			}
			c := char
			err := client.Subscribe(c, false, func(data []byte) {
				t.onMetric(metric, fmt.Sprintf("%x", data), address)
			})
			if err != nil {
				t.logger.WithError(err).WithField("metric", metric).Warn("Failed to subscribe to characteristic")
				continue
			}
			subscribed++
		}
	}

	t.logger.WithFields(logrus.Fields{
		"address":       address,
		"services":      len(profile.Services),
		"subscriptions": subscribed,
	}).Info("BLE link established")

	t.mu.Lock()
	t.clients[address] = client
	t.mu.Unlock()

	// Drop the client entry when the peripheral goes away on its own.
	groutine.Go(nil, "link-watch", func(context.Context) {
		<-client.Disconnected()
		t.mu.Lock()
		if t.clients[address] == client {
			delete(t.clients, address)
		}
		t.mu.Unlock()
		t.logger.WithField("address", address).Info("BLE link closed")
	})

	return nil
}

// DisconnectDevice releases the link to address. Unknown addresses are a
// no-op: disconnect is idempotent.
func (t *Transport) DisconnectDevice(address string) error {
	t.mu.Lock()
	client, ok := t.clients[address]
	delete(t.clients, address)
	t.mu.Unlock()

	if !ok {
		return nil
	}
	if err := client.CancelConnection(); err != nil {
		return fmt.Errorf("failed to disconnect %s: %w", address, err)
	}
	return nil
}

// IsConnected reports whether a live client exists for address
func (t *Transport) IsConnected(address string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.clients[address]
	return ok
}

// RadioEnabled reports whether the BLE stack initialized. go-ble surfaces a
// disabled radio as a device init failure, so a sticky init error is the
// closest transport-level signal.
func (t *Transport) RadioEnabled() bool {
	_, err := t.device()
	return err == nil
}

// PairedDevices returns the addresses the transport currently holds links
// for. go-ble does not expose the OS bond table, so the live-client set is
// the transport's paired view.
func (t *Transport) PairedDevices() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	addrs := make([]string, 0, len(t.clients))
	for addr := range t.clients {
		addrs = append(addrs, addr)
	}
	return addrs
}

// normalizeUUID lowercases and strips dashes for consistent lookup
func normalizeUUID(uuid string) string {
	return strings.ReplaceAll(strings.ToLower(uuid), "-", "")
}
