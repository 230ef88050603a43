package governor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Scenario: low battery and nearly exhausted storage must floor the
// aggressiveness near the minimum.
func TestAggressiveness_LowBatteryLowStorage(t *testing.T) {
	g := New(nil)

	agg := g.Aggressiveness(DeviceState{
		BatteryPercent:         15,
		StorageHeadroomPercent: 5,
		NetworkSpeedBps:        5_000_000,
	})

	assert.LessOrEqual(t, agg, 0.15)
	assert.GreaterOrEqual(t, agg, MinAggressiveness)
}

func TestAggressiveness_HighBatteryAmpleStorageFastNetwork(t *testing.T) {
	g := New(nil)

	agg := g.Aggressiveness(DeviceState{
		BatteryPercent:         95,
		StorageHeadroomPercent: 85,
		NetworkSpeedBps:        50_000_000,
		CacheFillRatio:         0.4,
	})

	// 0.7 * 1.3 * 1.2, clamped.
	assert.Equal(t, MaxAggressiveness, agg)
}

func TestAggressiveness_SlowNetworkReduces(t *testing.T) {
	g := New(nil)

	agg := g.Aggressiveness(DeviceState{
		BatteryPercent:         50,
		StorageHeadroomPercent: 50,
		NetworkSpeedBps:        500_000,
	})

	assert.InDelta(t, 0.4, agg, 1e-9)
}

func TestAggressiveness_AlwaysWithinBounds(t *testing.T) {
	g := New(nil)
	states := []DeviceState{
		{},
		{BatteryPercent: 1, StorageHeadroomPercent: 1, NetworkSpeedBps: 1},
		{BatteryPercent: 100, StorageHeadroomPercent: 100, NetworkSpeedBps: 1e9},
	}
	for _, ds := range states {
		agg := g.Aggressiveness(ds)
		assert.GreaterOrEqual(t, agg, MinAggressiveness)
		assert.LessOrEqual(t, agg, MaxAggressiveness)
	}
}

func TestAggressiveness_HysteresisSuppressesSmallChanges(t *testing.T) {
	g := New(nil)

	first := g.Aggressiveness(DeviceState{BatteryPercent: 50, StorageHeadroomPercent: 50})
	assert.InDelta(t, 0.5, first, 1e-9)

	// Same inputs: value must hold steady.
	second := g.Aggressiveness(DeviceState{BatteryPercent: 50, StorageHeadroomPercent: 50})
	assert.Equal(t, first, second)
	assert.Equal(t, first, g.Current())
}
