// Package registry keeps the in-memory table of devices seen during
// discovery, deduplicated by address.
package registry

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/wearlink/internal/wearable"
)

// Registry holds discovered devices keyed by address. Re-sightings update
// signal strength and last-seen time but keep the first-seen insertion order
// so the UI listing stays stable across scan updates.
type Registry struct {
	mu      sync.Mutex
	devices *orderedmap.OrderedMap[string, wearable.DeviceInfo]
	logger  *logrus.Logger
}

// New creates an empty registry
func New(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		devices: orderedmap.New[string, wearable.DeviceInfo](),
		logger:  logger,
	}
}

// Upsert records a sighting. A new address is appended; a known address keeps
// its FirstSeen and position and takes the new RSSI, name, and LastSeen.
func (r *Registry) Upsert(info wearable.DeviceInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.devices.Get(info.Address); ok {
		existing.RSSI = info.RSSI
		existing.LastSeen = info.LastSeen
		if info.Name != "" {
			existing.Name = info.Name
		}
		r.devices.Set(info.Address, existing)
		return
	}

	if info.FirstSeen.IsZero() {
		info.FirstSeen = info.LastSeen
	}
	if info.FirstSeen.IsZero() {
		now := time.Now()
		info.FirstSeen = now
		info.LastSeen = now
	}
	r.devices.Set(info.Address, info)

	r.logger.WithFields(logrus.Fields{
		"device":  info.Name,
		"address": info.Address,
		"rssi":    info.RSSI,
	}).Debug("Registered new device")
}

// Get returns the device with the given address, if known
func (r *Registry) Get(address string) (wearable.DeviceInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices.Get(address)
}

// List returns all known devices in first-seen order
func (r *Registry) List() []wearable.DeviceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]wearable.DeviceInfo, 0, r.devices.Len())
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Clear drops all devices. Called when a new scan starts.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = orderedmap.New[string, wearable.DeviceInfo]()
}

// Len returns the number of known devices
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices.Len()
}
