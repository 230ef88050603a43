package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/carelingo/edgecache/internal/cache"
	"github.com/carelingo/edgecache/internal/config"
	"github.com/carelingo/edgecache/internal/connectivity"
	"github.com/carelingo/edgecache/internal/fusion"
	"github.com/carelingo/edgecache/internal/governor"
	"github.com/carelingo/edgecache/internal/metrics"
	"github.com/carelingo/edgecache/internal/pattern"
	"github.com/carelingo/edgecache/internal/persist"
	"github.com/carelingo/edgecache/internal/scheduler"
	"github.com/carelingo/edgecache/internal/tuner"
	"github.com/carelingo/edgecache/internal/usage"
)

// modelState is an immutable snapshot of one update pass. Readers load
// it atomically; only the control loop replaces it.
type modelState struct {
	Model       *pattern.Model
	Predictions []fusion.Prediction
	Risk        connectivity.RiskResult
	BuiltAt     time.Time
}

// Options carries optional constructor dependencies.
type Options struct {
	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time
	// CacheStats reports cache effectiveness for the governor and
	// status endpoint.
	CacheStats func() cache.Stats
	// Store enables snapshot persistence when non-nil.
	Store *persist.Store
}

// Engine owns all predictive state and serializes every mutation behind
// one mutex. Reads go through the atomic state pointer and never block
// the control loop.
type Engine struct {
	mu    sync.Mutex
	log   *zap.Logger
	clock func() time.Time

	cfg atomic.Pointer[config.Config]

	events     *usage.Log
	samples    *connectivity.SampleStore
	forecaster *connectivity.Forecaster
	fuser      *fusion.Engine
	tuner      *tuner.Tuner
	gov        *governor.Governor
	sched      *scheduler.Scheduler
	store      *persist.Store
	cacheStats func() cache.Stats

	scoreWeights pattern.ScoreWeights
	device       governor.DeviceState
	lastSample   connectivity.Sample
	lastCycle    *CycleResult

	state       atomic.Pointer[modelState]
	netEvents   chan connectivity.Sample
	pendingTune int64
	startedAt   time.Time
}

// New wires the engine from its collaborators. backend performs the
// actual translate-and-cache work.
func New(cfg *config.Config, backend scheduler.Prefetcher, log *zap.Logger, opts Options) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	e := &Engine{
		log:        log,
		clock:      clock,
		events:     usage.NewLog(cfg.Engine.MaxEvents),
		samples:    connectivity.NewSampleStore(cfg.Engine.MaxSamples),
		forecaster: connectivity.NewForecaster(connectivity.Config{
			RiskThreshold: cfg.Engine.RiskThreshold,
			HorizonHours:  cfg.Engine.HorizonHours,
		}, log.Named("forecaster")),
		fuser: fusion.New(fusion.Config{
			DefaultLimit: cfg.Engine.PredictionLimit,
		}, log.Named("fusion")),
		tuner:        tuner.New(tuner.Config{Interval: cfg.Engine.TuneInterval}, log.Named("tuner")),
		gov:          governor.New(log.Named("governor")),
		sched:        scheduler.New(scheduler.Config{}, backend, log.Named("scheduler")),
		store:        opts.Store,
		cacheStats:   opts.CacheStats,
		scoreWeights: pattern.DefaultScoreWeights(),
		netEvents:    make(chan connectivity.Sample, 8),
		startedAt:    clock(),
	}
	e.cfg.Store(cfg)
	return e
}

// SetConfig swaps the runtime configuration. Structural settings such
// as history capacities keep their original values.
func (e *Engine) SetConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
	e.log.Info("engine config updated",
		zap.Duration("update_interval", cfg.Engine.UpdateInterval),
		zap.Int("prediction_limit", cfg.Engine.PredictionLimit))
}

// RecordEvent appends one usage event.
func (e *Engine) RecordEvent(ev usage.Event) {
	e.events.Append(ev)
	atomic.AddInt64(&e.pendingTune, 1)
}

// RecordSample appends one connectivity sample and feeds the
// forecaster. Issue samples additionally nudge the control loop into an
// immediate cycle.
func (e *Engine) RecordSample(s connectivity.Sample) {
	e.samples.Append(s)
	e.forecaster.Observe(s)
	atomic.AddInt64(&e.pendingTune, 1)

	e.mu.Lock()
	e.lastSample = s
	e.mu.Unlock()

	if s.IsIssue() {
		select {
		case e.netEvents <- s:
		default:
			// A cycle is already pending.
		}
	}
}

// UpdateDeviceState records the latest device resource signals.
func (e *Engine) UpdateDeviceState(ds governor.DeviceState) {
	e.mu.Lock()
	e.device = ds
	e.mu.Unlock()
}

// UpdateResult reports one model update pass.
type UpdateResult struct {
	Success     bool                    `json:"success"`
	Reason      FailureReason           `json:"reason,omitempty"`
	Events      int                     `json:"events"`
	Predictions int                     `json:"predictions"`
	Risk        connectivity.RiskResult `json:"risk"`
	BuiltAt     time.Time               `json:"built_at"`
}

// UpdateModels rebuilds the usage model, refreshes the forecast, runs
// any due weight tuning, and publishes a new state snapshot.
func (e *Engine) UpdateModels(ctx context.Context) (*UpdateResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg := e.cfg.Load()
	now := e.clock()
	started := time.Now()

	evs := e.events.Events()
	model, buildErr := pattern.Build(evs, now)
	metrics.RecordModelUpdate(time.Since(started), len(evs))

	risk := e.forecaster.PredictAt(now, e.riskQueryLocked(cfg))
	metrics.RecordRisk(risk.Risk, risk.OfflinePredicted)

	if buildErr != nil {
		// Keep serving the previous model; only the forecast refreshes.
		st := &modelState{Risk: risk, BuiltAt: now}
		if prev := e.state.Load(); prev != nil {
			st.Model = prev.Model
			st.Predictions = prev.Predictions
		}
		e.state.Store(st)
		res := &UpdateResult{Reason: ReasonInsufficientData, Events: len(evs), Risk: risk, BuiltAt: now}
		return res, opErr("update_models", ReasonInsufficientData, buildErr)
	}

	if delta := atomic.SwapInt64(&e.pendingTune, 0); e.tuner.SamplesObserved(int(delta)) {
		e.forecaster.SetWeights(e.tuner.TuneRisk(e.forecaster.Weights(), e.forecaster, e.samples.Samples()))
		e.scoreWeights = e.tuner.TuneScore(e.scoreWeights, model, evs)
		e.log.Info("weights retuned",
			zap.Float64("risk_time", e.forecaster.Weights().TimePattern),
			zap.Float64("score_frequency", e.scoreWeights.Frequency))
	}

	preds := e.fuser.Rank(model, e.forecaster, e.scoreWeights, e.rankOptionsLocked(now, cfg, evs))
	e.state.Store(&modelState{Model: model, Predictions: preds, Risk: risk, BuiltAt: now})

	return &UpdateResult{
		Success:     true,
		Events:      len(evs),
		Predictions: len(preds),
		Risk:        risk,
		BuiltAt:     now,
	}, nil
}

func (e *Engine) riskQueryLocked(cfg *config.Config) connectivity.RiskQuery {
	return connectivity.RiskQuery{
		LocationID:     e.lastSample.LocationID,
		UserID:         e.lastSample.UserID,
		ConnectionType: e.lastSample.ConnectionType,
		HorizonHours:   cfg.Engine.HorizonHours,
		Threshold:      cfg.Engine.RiskThreshold,
	}
}

// sessionWindow bounds how far back the ranking context looks.
const sessionWindow = 30 * time.Minute

func (e *Engine) rankOptionsLocked(now time.Time, cfg *config.Config, evs []usage.Event) fusion.Options {
	opts := fusion.Options{
		Now:            now,
		Aggressiveness: e.gov.Current(),
		Limit:          cfg.Engine.PredictionLimit,
		LocationID:     e.lastSample.LocationID,
		UserID:         e.lastSample.UserID,
		ConnectionType: e.lastSample.ConnectionType,
		ReasonFactors:  e.tuner.ReasonFactors(),
	}

	cutoff := now.Add(-sessionWindow)
	for _, ev := range evs {
		if ev.Timestamp.Before(cutoff) {
			continue
		}
		opts.CurrentPair = ev.Pair()
		opts.CurrentContext = ev.Context
		opts.RecentContexts = append(opts.RecentContexts, ev.Context)
		opts.RecentTerms = append(opts.RecentTerms, ev.Terms...)
	}
	return opts
}

// Predictions returns the last published candidate list.
func (e *Engine) Predictions() []fusion.Prediction {
	st := e.state.Load()
	if st == nil {
		return nil
	}
	return st.Predictions
}

// PredictionQuery narrows an on-demand prediction request.
type PredictionQuery struct {
	At             time.Time
	Aggressiveness float64
	Pair           string
	Context        string
	Limit          int
}

// PredictionsFor re-ranks the current model under the given query
// instead of returning the published list. A zero field falls back to
// the live value.
func (e *Engine) PredictionsFor(q PredictionQuery) []fusion.Prediction {
	st := e.state.Load()
	if st == nil || st.Model == nil {
		return nil
	}

	cfg := e.cfg.Load()
	e.mu.Lock()
	scoreW := e.scoreWeights
	last := e.lastSample
	e.mu.Unlock()

	opts := fusion.Options{
		Now:            q.At,
		Aggressiveness: q.Aggressiveness,
		Limit:          q.Limit,
		CurrentPair:    q.Pair,
		CurrentContext: q.Context,
		LocationID:     last.LocationID,
		UserID:         last.UserID,
		ConnectionType: last.ConnectionType,
		ReasonFactors:  e.tuner.ReasonFactors(),
	}
	if opts.Now.IsZero() {
		opts.Now = e.clock()
	}
	if opts.Aggressiveness <= 0 {
		opts.Aggressiveness = e.gov.Current()
	}
	if opts.Limit <= 0 {
		opts.Limit = cfg.Engine.PredictionLimit
	}
	return e.fuser.Rank(st.Model, e.forecaster, scoreW, opts)
}

// OfflineRisk computes a fresh forecast for the given query, filling
// defaults from the engine configuration.
func (e *Engine) OfflineRisk(q connectivity.RiskQuery) connectivity.RiskResult {
	cfg := e.cfg.Load()
	if q.HorizonHours <= 0 {
		q.HorizonHours = cfg.Engine.HorizonHours
	}
	if q.Threshold <= 0 {
		q.Threshold = cfg.Engine.RiskThreshold
	}
	return e.forecaster.PredictAt(e.clock(), q)
}

// CycleResult reports one prefetch cycle.
type CycleResult struct {
	Success        bool                                `json:"success"`
	Reason         FailureReason                       `json:"reason,omitempty"`
	Aggressiveness float64                             `json:"aggressiveness"`
	Attempted      int                                 `json:"attempted"`
	Cached         int                                 `json:"cached"`
	Failed         int                                 `json:"failed"`
	Skipped        int                                 `json:"skipped"`
	Halted         bool                                `json:"halted"`
	PerReason      map[fusion.Reason]scheduler.Outcome `json:"per_reason,omitempty"`
	Duration       time.Duration                       `json:"duration"`
}

// exhaustedHeadroom refuses prefetching entirely below this storage
// headroom percentage.
const exhaustedHeadroom = 2.0

// RunPrefetchCycle drains the current candidate list through the
// scheduler under the governor's aggressiveness.
func (e *Engine) RunPrefetchCycle(ctx context.Context) (*CycleResult, error) {
	st := e.state.Load()
	if st == nil || st.Model == nil {
		return &CycleResult{Reason: ReasonInsufficientData},
			opErr("prefetch_cycle", ReasonInsufficientData, nil)
	}

	e.mu.Lock()
	ds := e.device
	e.mu.Unlock()
	if e.cacheStats != nil {
		stats := e.cacheStats()
		ds.CacheFillRatio = stats.FillRatio()
		metrics.RecordCacheStats(stats.HitRate(), stats.FillRatio())
	}

	if ds.StorageHeadroomPercent > 0 && ds.StorageHeadroomPercent < exhaustedHeadroom {
		res := &CycleResult{Reason: ReasonResourceExhaustion}
		e.setLastCycle(res)
		return res, opErr("prefetch_cycle", ReasonResourceExhaustion, nil)
	}

	agg := e.gov.Aggressiveness(ds)
	metrics.RecordAggressiveness(agg)

	batch := st.Predictions
	if limit := int(agg * float64(len(batch))); limit < len(batch) {
		if limit < 1 {
			limit = 1
		}
		batch = batch[:limit]
	}

	started := time.Now()
	sres := e.sched.Run(ctx, batch)
	duration := time.Since(started)
	metrics.RecordPrefetchCycle(duration)

	for reason, out := range sres.PerReason {
		e.tuner.RecordOutcome(reason, out.Successes, out.Failures)
		for i := 0; i < out.Successes; i++ {
			metrics.RecordPrefetch(string(reason), "success")
		}
		for i := 0; i < out.Failures; i++ {
			metrics.RecordPrefetch(string(reason), "failure")
		}
	}

	res := &CycleResult{
		Success:        !sres.Halted,
		Aggressiveness: agg,
		Attempted:      len(batch),
		Cached:         sres.Cached,
		Failed:         sres.Failed,
		Skipped:        sres.Skipped,
		Halted:         sres.Halted,
		PerReason:      sres.PerReason,
		Duration:       duration,
	}
	e.setLastCycle(res)

	if sres.Halted {
		res.Reason = ReasonUpstreamFailure
		return res, opErr("prefetch_cycle", ReasonUpstreamFailure, ctx.Err())
	}
	return res, nil
}

func (e *Engine) setLastCycle(res *CycleResult) {
	e.mu.Lock()
	e.lastCycle = res
	e.mu.Unlock()
}

// Status summarizes the engine for the status endpoint.
type Status struct {
	UptimeSeconds     float64                  `json:"uptime_seconds"`
	Events            int                      `json:"events"`
	EventsDropped     int64                    `json:"events_dropped"`
	Samples           int                      `json:"samples"`
	ModelBuiltAt      time.Time                `json:"model_built_at,omitempty"`
	Predictions       int                      `json:"predictions"`
	Risk              connectivity.RiskResult  `json:"risk"`
	Aggressiveness    float64                  `json:"aggressiveness"`
	RiskWeights       connectivity.RiskWeights `json:"risk_weights"`
	ScoreWeights      pattern.ScoreWeights     `json:"score_weights"`
	RecurringPatterns int                      `json:"recurring_patterns"`
	LastTunedAt       time.Time                `json:"last_tuned_at,omitempty"`
	LastCycle         *CycleResult             `json:"last_cycle,omitempty"`
	Cache             *cache.Stats             `json:"cache,omitempty"`
}

// Status reports the current engine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	lastCycle := e.lastCycle
	scoreW := e.scoreWeights
	e.mu.Unlock()

	s := Status{
		UptimeSeconds:     e.clock().Sub(e.startedAt).Seconds(),
		Events:            e.events.Len(),
		EventsDropped:     e.events.Dropped(),
		Samples:           e.samples.Len(),
		Aggressiveness:    e.gov.Current(),
		RiskWeights:       e.forecaster.Weights(),
		ScoreWeights:      scoreW,
		RecurringPatterns: len(e.forecaster.Patterns()),
		LastTunedAt:       e.tuner.LastTunedAt(),
		LastCycle:         lastCycle,
	}
	if st := e.state.Load(); st != nil {
		s.ModelBuiltAt = st.BuiltAt
		s.Predictions = len(st.Predictions)
		s.Risk = st.Risk
	}
	if e.cacheStats != nil {
		stats := e.cacheStats()
		s.Cache = &stats
	}
	return s
}

// LoadState restores persisted history and weights. A missing snapshot
// starts fresh; a corrupt one is logged and discarded so the engine
// always comes up.
func (e *Engine) LoadState() error {
	if e.store == nil {
		return nil
	}

	snap, err := e.store.Load()
	switch {
	case err == nil:
	case errors.Is(err, persist.ErrNotFound):
		e.log.Info("no snapshot found, starting fresh", zap.String("path", e.store.Path()))
		return nil
	case errors.Is(err, persist.ErrCorrupt):
		e.log.Warn("discarding corrupt snapshot", zap.String("path", e.store.Path()), zap.Error(err))
		metrics.RecordSnapshotError("load")
		return nil
	default:
		metrics.RecordSnapshotError("load")
		return opErr("load_state", ReasonPersistenceFailure, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.events.Replace(snap.Events)
	e.samples.Replace(snap.Samples)
	for _, s := range e.samples.Samples() {
		e.forecaster.Observe(s)
	}
	e.forecaster.SetWeights(snap.RiskWeights)
	e.forecaster.SetPatterns(snap.Patterns)
	e.scoreWeights = snap.ScoreWeights.Normalized()

	e.log.Info("snapshot restored",
		zap.Int("events", e.events.Len()),
		zap.Int("samples", e.samples.Len()),
		zap.Int("patterns", len(snap.Patterns)))
	return nil
}

// SaveState persists the raw histories and tuned weights.
func (e *Engine) SaveState() error {
	if e.store == nil {
		return nil
	}

	e.mu.Lock()
	snap := &persist.Snapshot{
		Events:       e.events.Events(),
		Samples:      e.samples.Samples(),
		RiskWeights:  e.forecaster.Weights(),
		ScoreWeights: e.scoreWeights,
		Patterns:     e.forecaster.Patterns(),
	}
	e.mu.Unlock()

	if err := e.store.Save(snap); err != nil {
		metrics.RecordSnapshotError("save")
		return opErr("save_state", ReasonPersistenceFailure, err)
	}
	return nil
}

// Run drives the periodic update and prefetch loop until ctx is done.
// Connectivity issues reported by RecordSample preempt the schedule.
func (e *Engine) Run(ctx context.Context) error {
	cfg := e.cfg.Load()

	update := time.NewTicker(cfg.Engine.UpdateInterval)
	defer update.Stop()
	device := time.NewTicker(cfg.Engine.DeviceInterval)
	defer device.Stop()

	saveEvery := cfg.Snapshot.SaveInterval
	if saveEvery <= 0 {
		saveEvery = cfg.Engine.UpdateInterval
	}
	save := time.NewTicker(saveEvery)
	defer save.Stop()

	e.log.Info("engine loop started",
		zap.Duration("update_interval", cfg.Engine.UpdateInterval),
		zap.Duration("save_interval", saveEvery))

	for {
		select {
		case <-ctx.Done():
			if err := e.SaveState(); err != nil {
				e.log.Error("final snapshot failed", zap.Error(err))
			}
			return ctx.Err()

		case <-update.C:
			e.runCycle(ctx, "scheduled")

		case s := <-e.netEvents:
			e.log.Warn("connectivity issue detected, preempting cycle",
				zap.String("state", string(s.StateOf())),
				zap.String("location", s.LocationID))
			e.runCycle(ctx, "preempted")

		case <-device.C:
			if e.cacheStats != nil {
				stats := e.cacheStats()
				metrics.RecordCacheStats(stats.HitRate(), stats.FillRatio())
			}

		case <-save.C:
			if err := e.SaveState(); err != nil {
				e.log.Error("periodic snapshot failed", zap.Error(err))
			}
		}
	}
}

func (e *Engine) runCycle(ctx context.Context, trigger string) {
	if _, err := e.UpdateModels(ctx); err != nil {
		if ReasonOf(err) == ReasonInsufficientData {
			e.log.Debug("model update skipped", zap.String("trigger", trigger), zap.Error(err))
			return
		}
		e.log.Error("model update failed", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	res, err := e.RunPrefetchCycle(ctx)
	if err != nil {
		e.log.Warn("prefetch cycle degraded", zap.String("trigger", trigger), zap.Error(err))
		return
	}
	e.log.Info("prefetch cycle complete",
		zap.String("trigger", trigger),
		zap.Int("cached", res.Cached),
		zap.Int("failed", res.Failed),
		zap.Float64("aggressiveness", res.Aggressiveness))
}
