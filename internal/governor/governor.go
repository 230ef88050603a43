package governor

import (
	"sync"

	"go.uber.org/zap"
)

// Aggressiveness bounds.
const (
	MinAggressiveness = 0.1
	MaxAggressiveness = 1.0
)

// DeviceState is a read-only snapshot of the device's resource signals.
type DeviceState struct {
	BatteryPercent         float64 `json:"battery_percent"`
	StorageHeadroomPercent float64 `json:"storage_headroom_percent"`
	NetworkSpeedBps        float64 `json:"network_speed_bps"`
	// CacheFillRatio is how full the prefetch cache quota is, in [0,1].
	CacheFillRatio float64 `json:"cache_fill_ratio"`
}

// Governor maps device signals to a single aggressiveness scalar bounding
// how much prefetching is attempted per cycle.
type Governor struct {
	mu   sync.Mutex
	log  *zap.Logger
	prev float64
}

// New creates a governor starting at a moderate aggressiveness.
func New(log *zap.Logger) *Governor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Governor{log: log, prev: 0.5}
}

const (
	lowBattery  = 30
	highBattery = 80

	lowHeadroom  = 20
	highHeadroom = 70

	fastNetworkBps = 10_000_000 // 10 Mbps
	slowNetworkBps = 1_000_000  // 1 Mbps

	// hysteresis suppresses small per-cycle oscillations.
	hysteresis = 0.05
)

// Aggressiveness computes the prefetch aggressiveness for this cycle and
// remembers it for the next.
func (g *Governor) Aggressiveness(ds DeviceState) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	var agg float64
	switch {
	case ds.BatteryPercent <= lowBattery:
		agg = 0.3
	case ds.BatteryPercent >= highBattery:
		agg = 0.7
	default:
		agg = 0.5
	}

	switch {
	case ds.StorageHeadroomPercent < lowHeadroom:
		agg *= 0.5
	case ds.StorageHeadroomPercent > highHeadroom:
		agg *= 1.3
	}

	switch {
	case ds.CacheFillRatio < 0.95 && ds.NetworkSpeedBps > fastNetworkBps:
		agg *= 1.2
	case ds.NetworkSpeedBps > 0 && ds.NetworkSpeedBps < slowNetworkBps:
		agg *= 0.8
	}

	agg = clamp(agg)
	if diff := agg - g.prev; diff > -hysteresis && diff < hysteresis {
		agg = g.prev
	}

	if agg != g.prev {
		g.log.Debug("aggressiveness adjusted",
			zap.Float64("previous", g.prev),
			zap.Float64("current", agg),
			zap.Float64("battery", ds.BatteryPercent))
	}
	g.prev = agg
	return agg
}

// Current returns the last computed aggressiveness without recomputing.
func (g *Governor) Current() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prev
}

func clamp(v float64) float64 {
	if v < MinAggressiveness {
		return MinAggressiveness
	}
	if v > MaxAggressiveness {
		return MaxAggressiveness
	}
	return v
}
