package tuner

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/carelingo/edgecache/internal/connectivity"
	"github.com/carelingo/edgecache/internal/fusion"
	"github.com/carelingo/edgecache/internal/pattern"
	"github.com/carelingo/edgecache/internal/usage"
)

// Config tunes the tuner's cadence.
type Config struct {
	// Interval is how many new connectivity samples trigger a tuning
	// pass.
	Interval int
	// Window bounds how many recent samples/events are replayed.
	Window int
	// ReasonDecay is the EWMA retention for per-reason prefetch
	// accuracy.
	ReasonDecay float64
}

// DefaultConfig returns the tuner defaults.
func DefaultConfig() Config {
	return Config{Interval: 50, Window: 200, ReasonDecay: 0.8}
}

// Tuner is a closed-loop controller that re-estimates the predictive
// accuracy of each signal and renormalizes the fusion weights. It is
// intentionally simple: counting and renormalization, not gradient
// descent.
type Tuner struct {
	mu  sync.Mutex
	cfg Config
	log *zap.Logger

	sinceTune   int
	lastTunedAt time.Time

	reasonAcc map[fusion.Reason]float64
}

// New creates a tuner.
func New(cfg Config, log *zap.Logger) *Tuner {
	d := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.Window <= 0 {
		cfg.Window = d.Window
	}
	if cfg.ReasonDecay <= 0 || cfg.ReasonDecay >= 1 {
		cfg.ReasonDecay = d.ReasonDecay
	}
	if log == nil {
		log = zap.NewNop()
	}
	acc := make(map[fusion.Reason]float64, len(fusion.Reasons))
	for _, r := range fusion.Reasons {
		acc[r] = 1
	}
	return &Tuner{cfg: cfg, log: log, reasonAcc: acc}
}

// SamplesObserved records n newly ingested connectivity samples and
// reports whether a tuning pass is due.
func (t *Tuner) SamplesObserved(n int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sinceTune += n
	if t.sinceTune < t.cfg.Interval {
		return false
	}
	t.sinceTune = 0
	t.lastTunedAt = time.Now().UTC()
	return true
}

// TuneRisk replays the recent sample window against the forecaster's six
// risk factors and renormalizes the weight vector by per-factor accuracy.
// A degenerate pass (zero total accuracy) leaves the weights unchanged.
func (t *Tuner) TuneRisk(current connectivity.RiskWeights, fc *connectivity.Forecaster, window []connectivity.Sample) connectivity.RiskWeights {
	if fc == nil || len(window) == 0 {
		return current
	}
	if len(window) > t.cfg.Window {
		window = window[len(window)-t.cfg.Window:]
	}

	var hits [6]float64
	for _, s := range window {
		factors := fc.FactorsAt(s.Timestamp, connectivity.RiskQuery{
			LocationID:     s.LocationID,
			UserID:         s.UserID,
			ConnectionType: s.ConnectionType,
		})
		actual := s.StateOf() == connectivity.StateOffline
		for i, v := range [6]float64{
			factors.TimePattern,
			factors.LocationPattern,
			factors.RecentQuality,
			factors.Transition,
			factors.UserProfile,
			factors.RecurringPattern,
		} {
			if (v > 0.5) == actual {
				hits[i]++
			}
		}
	}

	n := float64(len(window))
	var total float64
	for i := range hits {
		hits[i] = clampAccuracy(hits[i] / n)
		total += hits[i]
	}
	if total <= 0 {
		return current
	}

	tuned := connectivity.RiskWeights{
		TimePattern:      hits[0] / total,
		LocationPattern:  hits[1] / total,
		RecentQuality:    hits[2] / total,
		Transition:       hits[3] / total,
		UserProfile:      hits[4] / total,
		RecurringPattern: hits[5] / total,
	}
	t.log.Debug("risk weights tuned",
		zap.Float64("time", tuned.TimePattern),
		zap.Float64("recurring", tuned.RecurringPattern))
	return tuned
}

// TuneScore replays the recent event window against the three pair-score
// factors: a factor scores a hit when ranking by it alone would have
// predicted the event's actual language pair.
func (t *Tuner) TuneScore(current pattern.ScoreWeights, model *pattern.Model, window []usage.Event) pattern.ScoreWeights {
	if model == nil || len(window) == 0 {
		return current
	}
	if len(window) > t.cfg.Window {
		window = window[len(window)-t.cfg.Window:]
	}

	solo := [3]pattern.ScoreWeights{
		{Frequency: 1},
		{Recency: 1},
		{Time: 1},
	}
	var hits [3]float64
	for _, e := range window {
		hour := e.Timestamp.Hour()
		day := int(e.Timestamp.Weekday())
		for i, w := range solo {
			top := model.TopPairs(hour, day, 1, w)
			if len(top) > 0 && top[0].Pair == e.Pair() {
				hits[i]++
			}
		}
	}

	n := float64(len(window))
	var total float64
	for i := range hits {
		hits[i] = clampAccuracy(hits[i] / n)
		total += hits[i]
	}
	if total <= 0 {
		return current
	}
	return pattern.ScoreWeights{
		Frequency: hits[0] / total,
		Recency:   hits[1] / total,
		Time:      hits[2] / total,
	}
}

// RecordOutcome folds a prefetch batch outcome for one reason into that
// reason's accuracy estimate. Reasons whose prefetches rarely succeed
// lose influence over future rankings.
func (t *Tuner) RecordOutcome(reason fusion.Reason, succeeded, failed int) {
	total := succeeded + failed
	if total == 0 {
		return
	}
	observed := float64(succeeded) / float64(total)

	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.reasonAcc[reason]
	if !ok {
		prev = 1
	}
	t.reasonAcc[reason] = prev*t.cfg.ReasonDecay + observed*(1-t.cfg.ReasonDecay)
}

// ReasonFactors returns per-reason score multipliers in [0.5, 1].
func (t *Tuner) ReasonFactors() map[fusion.Reason]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[fusion.Reason]float64, len(t.reasonAcc))
	for r, acc := range t.reasonAcc {
		out[r] = 0.5 + 0.5*clampAccuracy(acc)
	}
	return out
}

// LastTunedAt returns when the last tuning pass was triggered.
func (t *Tuner) LastTunedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastTunedAt
}

func clampAccuracy(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
