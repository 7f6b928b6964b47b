package registry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/srg/wearlink/internal/wearable"
)

func sighting(name, addr string, rssi int, at time.Time) wearable.DeviceInfo {
	return wearable.DeviceInfo{Name: name, Address: addr, RSSI: rssi, LastSeen: at}
}

func TestUpsert_DeduplicatesByAddress(t *testing.T) {
	r := New(nil)
	t0 := time.Now()

	r.Upsert(sighting("W-100", "AA:BB:CC:DD:EE:01", -60, t0))
	r.Upsert(sighting("W-100", "AA:BB:CC:DD:EE:01", -55, t0.Add(time.Second)))
	r.Upsert(sighting("W-200", "AA:BB:CC:DD:EE:02", -70, t0.Add(2*time.Second)))

	assert.Equal(t, 2, r.Len())

	dev, ok := r.Get("AA:BB:CC:DD:EE:01")
	assert.True(t, ok)
	assert.Equal(t, -55, dev.RSSI, "re-sighting must take the latest RSSI")
	assert.Equal(t, t0.Add(time.Second), dev.LastSeen)
	assert.Equal(t, t0, dev.FirstSeen, "re-sighting must keep FirstSeen")
}

func TestList_PreservesFirstSeenOrder(t *testing.T) {
	r := New(nil)
	now := time.Now()

	addrs := []string{"CC:01", "AA:02", "BB:03"}
	for i, addr := range addrs {
		r.Upsert(sighting(fmt.Sprintf("dev-%d", i), addr, -50, now))
	}

	// Re-sight the first device; it must not move to the back.
	r.Upsert(sighting("dev-0", "CC:01", -40, now.Add(time.Second)))

	listed := r.List()
	assert.Len(t, listed, 3)
	for i, addr := range addrs {
		assert.Equal(t, addr, listed[i].Address)
	}
}

func TestUpsert_KeepsNameWhenResightingUnnamed(t *testing.T) {
	r := New(nil)
	now := time.Now()

	r.Upsert(sighting("W-100", "AA:01", -60, now))
	r.Upsert(sighting("", "AA:01", -58, now.Add(time.Second)))

	dev, _ := r.Get("AA:01")
	assert.Equal(t, "W-100", dev.Name)
}

func TestClear(t *testing.T) {
	r := New(nil)
	r.Upsert(sighting("W-100", "AA:01", -60, time.Now()))

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.List())

	_, ok := r.Get("AA:01")
	assert.False(t, ok)
}

func TestUpsert_ConcurrentSightings(t *testing.T) {
	r := New(nil)
	now := time.Now()

	done := make(chan struct{})
	for g := 0; g < 4; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 100; i++ {
				r.Upsert(sighting("W-100", "AA:01", -60-g, now))
			}
		}(g)
	}
	for g := 0; g < 4; g++ {
		<-done
	}

	assert.Equal(t, 1, r.Len())
}

func BenchmarkUpsert(b *testing.B) {
	r := New(nil)
	info := sighting("W-100", "AA:01", -60, time.Now())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Upsert(info)
	}
}
