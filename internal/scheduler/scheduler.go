package scheduler

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/carelingo/edgecache/internal/fusion"
)

// Prefetcher materializes a single prediction into the cache.
type Prefetcher interface {
	Prefetch(ctx context.Context, p fusion.Prediction) error
}

// Config controls pacing and failure handling.
type Config struct {
	// HighRate paces urgent items (network risk, very high scores).
	HighRate  rate.Limit
	HighBurst int

	// NormalRate paces everything else.
	NormalRate  rate.Limit
	NormalBurst int

	// HighScoreThreshold promotes a prediction to the high queue.
	HighScoreThreshold float64

	// MaxConsecutiveFailures halts the cycle once hit.
	MaxConsecutiveFailures int
}

func (c Config) applyDefaults() Config {
	if c.HighRate <= 0 {
		c.HighRate = 20
	}
	if c.HighBurst <= 0 {
		c.HighBurst = 1
	}
	if c.NormalRate <= 0 {
		c.NormalRate = 10
	}
	if c.NormalBurst <= 0 {
		c.NormalBurst = 1
	}
	if c.HighScoreThreshold <= 0 {
		c.HighScoreThreshold = 0.7
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 5
	}
	return c
}

// Outcome counts per-reason prefetch results within one cycle.
type Outcome struct {
	Successes int
	Failures  int
}

// Result summarizes one prefetch cycle.
type Result struct {
	Cached    int
	Failed    int
	Skipped   int
	Halted    bool
	PerReason map[fusion.Reason]Outcome
}

// Scheduler drains ranked predictions through the backend one at a time,
// urgent items first, throttled so prefetch never competes with live
// translation traffic.
type Scheduler struct {
	cfg     Config
	backend Prefetcher
	high    *rate.Limiter
	normal  *rate.Limiter
	log     *zap.Logger
}

// New creates a scheduler around the given backend.
func New(cfg Config, backend Prefetcher, log *zap.Logger) *Scheduler {
	cfg = cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		cfg:     cfg,
		backend: backend,
		high:    rate.NewLimiter(cfg.HighRate, cfg.HighBurst),
		normal:  rate.NewLimiter(cfg.NormalRate, cfg.NormalBurst),
		log:     log,
	}
}

// urgent reports whether a prediction belongs in the high queue.
func (s *Scheduler) urgent(p fusion.Prediction) bool {
	return p.Reason == fusion.ReasonNetworkRisk || p.Score > s.cfg.HighScoreThreshold
}

// Run processes the predictions sequentially. Individual failures are
// recorded and the cycle continues; it halts early on context
// cancellation or too many consecutive failures.
func (s *Scheduler) Run(ctx context.Context, predictions []fusion.Prediction) Result {
	res := Result{PerReason: make(map[fusion.Reason]Outcome)}

	var high, normal []fusion.Prediction
	for _, p := range predictions {
		if s.urgent(p) {
			high = append(high, p)
		} else {
			normal = append(normal, p)
		}
	}

	consecutive := 0
	queues := []struct {
		items   []fusion.Prediction
		limiter *rate.Limiter
	}{
		{high, s.high},
		{normal, s.normal},
	}

	for qi, q := range queues {
		for i, p := range q.items {
			if err := q.limiter.Wait(ctx); err != nil {
				res.Halted = true
				res.Skipped += len(q.items) - i
				for _, later := range queues[qi+1:] {
					res.Skipped += len(later.items)
				}
				s.log.Info("prefetch cycle cancelled", zap.Int("skipped", res.Skipped))
				return res
			}

			out := res.PerReason[p.Reason]
			if err := s.backend.Prefetch(ctx, p); err != nil {
				res.Failed++
				out.Failures++
				res.PerReason[p.Reason] = out
				consecutive++
				s.log.Warn("prefetch failed",
					zap.String("key", p.Key()),
					zap.String("reason", string(p.Reason)),
					zap.Error(err))
				if consecutive >= s.cfg.MaxConsecutiveFailures {
					res.Halted = true
					res.Skipped += len(q.items) - i - 1
					for _, later := range queues[qi+1:] {
						res.Skipped += len(later.items)
					}
					s.log.Warn("prefetch cycle halted",
						zap.Int("consecutive_failures", consecutive),
						zap.Int("skipped", res.Skipped))
					return res
				}
				continue
			}

			res.Cached++
			out.Successes++
			res.PerReason[p.Reason] = out
			consecutive = 0
		}
	}
	return res
}
