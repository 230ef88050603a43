package connectivity

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config tunes the forecaster's streaming estimators.
type Config struct {
	// Decay is the EWMA retention factor for hourly/daily offline rates.
	Decay float64
	// PatternThreshold is the minimum confidence for a recurring pattern.
	PatternThreshold float64
	// MinIssueSamples gates recurring-pattern detection until enough
	// degraded observations exist.
	MinIssueSamples int
	// DetectEvery runs pattern detection every N observed samples.
	DetectEvery int
	// RiskThreshold is the combined risk above which an outage is
	// predicted.
	RiskThreshold float64
	// HorizonHours is how many hours ahead a risk query looks.
	HorizonHours int
	// RecentWindow bounds the recent-quality factor's lookback.
	RecentWindow time.Duration
	// RecentCapacity bounds the in-memory recent sample ring.
	RecentCapacity int
}

// DefaultConfig returns the forecaster defaults.
func DefaultConfig() Config {
	return Config{
		Decay:            0.9,
		PatternThreshold: 0.8,
		MinIssueSamples:  20,
		DetectEvery:      25,
		RiskThreshold:    0.4,
		HorizonHours:     2,
		RecentWindow:     time.Hour,
		RecentCapacity:   512,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Decay <= 0 || c.Decay >= 1 {
		c.Decay = d.Decay
	}
	if c.PatternThreshold <= 0 {
		c.PatternThreshold = d.PatternThreshold
	}
	if c.MinIssueSamples <= 0 {
		c.MinIssueSamples = d.MinIssueSamples
	}
	if c.DetectEvery <= 0 {
		c.DetectEvery = d.DetectEvery
	}
	if c.RiskThreshold <= 0 {
		c.RiskThreshold = d.RiskThreshold
	}
	if c.HorizonHours <= 0 {
		c.HorizonHours = d.HorizonHours
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = d.RecentWindow
	}
	if c.RecentCapacity <= 0 {
		c.RecentCapacity = d.RecentCapacity
	}
}

// LocationStats aggregates connectivity quality per location.
type LocationStats struct {
	Online     int       `json:"online"`
	Offline    int       `json:"offline"`
	Poor       int       `json:"poor"`
	AvgQuality float64   `json:"avg_quality"`
	Recent     []float64 `json:"recent,omitempty"` // last 10 quality readings

	qualityN int
}

// userProfile tracks a single user's own offline ratios per dimension.
type userProfile struct {
	hourOnline  [24]int
	hourOffline [24]int
	dayOnline   [7]int
	dayOffline  [7]int
	locOnline   map[string]int
	locOffline  map[string]int
	typeOnline  map[string]int
	typeOffline map[string]int
}

func newUserProfile() *userProfile {
	return &userProfile{
		locOnline:   make(map[string]int),
		locOffline:  make(map[string]int),
		typeOnline:  make(map[string]int),
		typeOffline: make(map[string]int),
	}
}

const defaultUserID = "default"

// RiskQuery scopes an offline-risk query.
type RiskQuery struct {
	LocationID     string
	UserID         string
	ConnectionType string
	// HorizonHours and Threshold override the forecaster defaults when
	// positive.
	HorizonHours int
	Threshold    float64
}

// RiskResult is the outcome of an offline-risk prediction.
type RiskResult struct {
	OfflinePredicted  bool          `json:"offline_predicted"`
	Confidence        float64       `json:"confidence"`
	Risk              float64       `json:"risk"`
	Factors           Factors       `json:"factors"`
	PredictedStart    time.Time     `json:"predicted_start,omitempty"`
	PredictedDuration time.Duration `json:"predicted_duration,omitempty"`
}

// Forecaster learns offline-risk distributions from a stream of
// connectivity samples. State updates are incremental; nothing is
// batch-rebuilt.
type Forecaster struct {
	mu  sync.RWMutex
	cfg Config
	log *zap.Logger

	sampleCount int

	hourly    [24]float64
	daily     [7]float64
	locHourly map[string]*[24]float64

	transitions     map[string]int
	transitionsFrom map[State]int
	hasPrev         bool
	prevState       State

	locations map[string]*LocationStats
	connTypes map[string]int
	typedN    int

	users map[string]*userProfile

	recent []Sample

	detector *patternDetector
	patterns []RecurringPattern

	weights RiskWeights
}

// NewForecaster creates a forecaster with the given config.
func NewForecaster(cfg Config, log *zap.Logger) *Forecaster {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Forecaster{
		cfg:             cfg,
		log:             log,
		locHourly:       make(map[string]*[24]float64),
		transitions:     make(map[string]int),
		transitionsFrom: make(map[State]int),
		locations:       make(map[string]*LocationStats),
		connTypes:       make(map[string]int),
		users:           make(map[string]*userProfile),
		detector:        newPatternDetector(),
		weights:         DefaultRiskWeights(),
	}
}

// Observe ingests one connectivity sample.
func (f *Forecaster) Observe(s Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state := s.StateOf()
	offline := state == StateOffline
	inc := 1 - f.cfg.Decay

	hour := s.Timestamp.Hour()
	dow := int(s.Timestamp.Weekday())

	f.hourly[hour] *= f.cfg.Decay
	f.daily[dow] *= f.cfg.Decay
	if offline {
		f.hourly[hour] += inc
		f.daily[dow] += inc
	}

	if s.LocationID != "" {
		lh := f.locHourly[s.LocationID]
		if lh == nil {
			lh = &[24]float64{}
			f.locHourly[s.LocationID] = lh
		}
		lh[hour] *= f.cfg.Decay
		if offline {
			lh[hour] += inc
		}
	}

	if f.hasPrev {
		f.transitions[TransitionKey(f.prevState, state)]++
		f.transitionsFrom[f.prevState]++
	}
	f.prevState = state
	f.hasPrev = true

	if s.LocationID != "" {
		ls := f.locations[s.LocationID]
		if ls == nil {
			ls = &LocationStats{}
			f.locations[s.LocationID] = ls
		}
		if offline {
			ls.Offline++
		} else {
			ls.Online++
		}
		if state == StatePoor {
			ls.Poor++
		}
		if s.Quality != nil {
			ls.qualityN++
			ls.AvgQuality += (*s.Quality - ls.AvgQuality) / float64(ls.qualityN)
			ls.Recent = append(ls.Recent, *s.Quality)
			if len(ls.Recent) > 10 {
				ls.Recent = ls.Recent[len(ls.Recent)-10:]
			}
		}
	}

	if s.ConnectionType != "" {
		f.connTypes[s.ConnectionType]++
		f.typedN++
	}

	uid := s.UserID
	if uid == "" {
		uid = defaultUserID
	}
	up := f.users[uid]
	if up == nil {
		up = newUserProfile()
		f.users[uid] = up
	}
	up.observe(s, hour, dow, offline)

	f.recent = append(f.recent, s)
	if len(f.recent) > f.cfg.RecentCapacity {
		f.recent = f.recent[len(f.recent)-f.cfg.RecentCapacity:]
	}

	f.detector.observe(s)
	f.sampleCount++

	if f.sampleCount%f.cfg.DetectEvery == 0 {
		f.detectLocked()
	}
}

func (up *userProfile) observe(s Sample, hour, dow int, offline bool) {
	if offline {
		up.hourOffline[hour]++
		up.dayOffline[dow]++
		if s.LocationID != "" {
			up.locOffline[s.LocationID]++
		}
		if s.ConnectionType != "" {
			up.typeOffline[s.ConnectionType]++
		}
		return
	}
	up.hourOnline[hour]++
	up.dayOnline[dow]++
	if s.LocationID != "" {
		up.locOnline[s.LocationID]++
	}
	if s.ConnectionType != "" {
		up.typeOnline[s.ConnectionType]++
	}
}

// DetectPatterns forces a recurring-pattern detection pass and returns the
// accepted patterns. Detection also runs automatically every DetectEvery
// samples.
func (f *Forecaster) DetectPatterns() []RecurringPattern {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detectLocked()
	return append([]RecurringPattern(nil), f.patterns...)
}

func (f *Forecaster) detectLocked() {
	if f.detector.issueSamples < f.cfg.MinIssueSamples {
		return
	}
	f.patterns = f.detector.detect(f.cfg.PatternThreshold, f.transitions, f.transitionsFrom)
	f.log.Debug("recurring patterns refreshed", zap.Int("count", len(f.patterns)))
}

// FactorsAt computes the six risk factors for a timestamp.
func (f *Forecaster) FactorsAt(t time.Time, q RiskQuery) Factors {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.factorsLocked(t, q)
}

func (f *Forecaster) factorsLocked(t time.Time, q RiskQuery) Factors {
	return Factors{
		TimePattern:      f.timeFactor(t),
		LocationPattern:  f.locationFactor(t, q),
		RecentQuality:    f.recentQualityFactor(t),
		Transition:       f.transitionFactor(),
		UserProfile:      f.userFactor(t, q),
		RecurringPattern: f.recurringFactor(t, q.LocationID),
	}
}

const neutralRisk = 0.5

func (f *Forecaster) timeFactor(t time.Time) float64 {
	if f.sampleCount == 0 {
		return neutralRisk
	}
	return clamp01(f.hourly[t.Hour()]*0.7 + f.daily[int(t.Weekday())]*0.3)
}

func (f *Forecaster) locationFactor(t time.Time, q RiskQuery) float64 {
	ls := f.locations[q.LocationID]
	if ls == nil {
		return neutralRisk
	}
	total := ls.Online + ls.Offline
	offlineRatio := 0.0
	poorRatio := 0.0
	if total > 0 {
		offlineRatio = float64(ls.Offline) / float64(total)
		poorRatio = float64(ls.Poor) / float64(total)
	}

	locHourRisk := neutralRisk
	if lh := f.locHourly[q.LocationID]; lh != nil {
		locHourRisk = lh[t.Hour()]
	}

	typeRisk := neutralRisk
	if q.ConnectionType != "" && f.typedN > 0 {
		// Uncommon connection types carry more risk.
		typeRisk = 1 - float64(f.connTypes[q.ConnectionType])/float64(f.typedN)
	}

	return clamp01(offlineRatio*0.4 + poorRatio*0.2 + locHourRisk*0.3 + typeRisk*0.1)
}

func (f *Forecaster) recentQualityFactor(t time.Time) float64 {
	cutoff := t.Add(-f.cfg.RecentWindow)
	var qualities []float64
	for _, s := range f.recent {
		if s.Timestamp.Before(cutoff) || s.Timestamp.After(t) {
			continue
		}
		switch {
		case !s.Online:
			qualities = append(qualities, 0)
		case s.Quality != nil:
			qualities = append(qualities, *s.Quality)
		}
	}
	if len(qualities) == 0 {
		return neutralRisk
	}

	avg := mean(qualities)
	risk := 1 - avg

	if len(qualities) >= 4 {
		half := len(qualities) / 2
		delta := mean(qualities[half:]) - mean(qualities[:half])
		if delta < -0.1 {
			risk *= 1.5
		} else if delta > 0.1 {
			risk *= 0.7
		}
	}
	return clamp01(risk)
}

func (f *Forecaster) transitionFactor() float64 {
	var total int
	for _, n := range f.transitionsFrom {
		total += n
	}
	if total == 0 {
		return neutralRisk
	}

	toOffline := 0
	toPoor := 0
	recovered := 0
	for _, from := range []State{StateGood, StateFair, StatePoor, StateOffline} {
		toOffline += f.transitions[TransitionKey(from, StateOffline)]
		toPoor += f.transitions[TransitionKey(from, StatePoor)]
	}
	for _, from := range []State{StatePoor, StateOffline} {
		recovered += f.transitions[TransitionKey(from, StateGood)]
		recovered += f.transitions[TransitionKey(from, StateFair)]
	}

	n := float64(total)
	risk := 0.5*float64(toOffline)/n + 0.3*float64(toPoor)/n - 0.2*float64(recovered)/n
	return clamp01(risk)
}

func (f *Forecaster) userFactor(t time.Time, q RiskQuery) float64 {
	up := f.users[q.UserID]
	if up == nil {
		up = f.users[defaultUserID]
	}
	if up == nil {
		return neutralRisk
	}

	hourRisk := ratioOr(up.hourOffline[t.Hour()], up.hourOnline[t.Hour()], neutralRisk)
	dayRisk := ratioOr(up.dayOffline[int(t.Weekday())], up.dayOnline[int(t.Weekday())], neutralRisk)
	locRisk := ratioOr(up.locOffline[q.LocationID], up.locOnline[q.LocationID], neutralRisk)
	typeRisk := ratioOr(up.typeOffline[q.ConnectionType], up.typeOnline[q.ConnectionType], neutralRisk)

	return clamp01(hourRisk*0.3 + dayRisk*0.2 + locRisk*0.3 + typeRisk*0.2)
}

func (f *Forecaster) recurringFactor(t time.Time, location string) float64 {
	if len(f.patterns) == 0 {
		return neutralRisk
	}
	var sum float64
	var n int
	for _, p := range f.patterns {
		if f.patternMatches(p, t, location) {
			sum += p.Confidence
			n++
		}
	}
	if n == 0 {
		return neutralRisk
	}
	return clamp01(sum / float64(n))
}

func (f *Forecaster) patternMatches(p RecurringPattern, t time.Time, location string) bool {
	switch p.Type {
	case PatternDaily:
		return p.Key == HourKey(t.Hour())
	case PatternWeekly:
		return p.Key == t.Weekday().String()
	case PatternLocation:
		return location != "" && p.Key == location
	case PatternTransition:
		return f.hasPrev && p.Key == TransitionKey(f.prevState, StateOffline)
	default:
		return false
	}
}

// PredictAt estimates offline risk for a future window starting at t. The
// query horizon covers t's hour plus the following HorizonHours hours; the
// riskiest hour in the window drives the result.
func (f *Forecaster) PredictAt(t time.Time, q RiskQuery) RiskResult {
	f.mu.RLock()
	defer f.mu.RUnlock()

	horizon := q.HorizonHours
	if horizon <= 0 {
		horizon = f.cfg.HorizonHours
	}
	threshold := q.Threshold
	if threshold <= 0 {
		threshold = f.cfg.RiskThreshold
	}

	var (
		best       Factors
		bestRisk   = -1.0
		bestAt     time.Time
		patternHit bool
	)
	for h := 0; h <= horizon; h++ {
		at := t.Add(time.Duration(h) * time.Hour)
		factors := f.factorsLocked(at, q)
		risk := factors.Combined(f.weights)
		if risk > bestRisk {
			bestRisk = risk
			best = factors
			bestAt = at
		}
		for _, p := range f.patterns {
			if p.Confidence >= f.cfg.PatternThreshold && f.patternMatches(p, at, q.LocationID) {
				patternHit = true
			}
		}
	}

	maxSignal := math.Max(best.TimePattern, math.Max(best.LocationPattern, best.RecurringPattern))
	confidence := math.Min(1, float64(f.sampleCount)/100) * (0.5 + 0.5*maxSignal)

	result := RiskResult{
		OfflinePredicted: bestRisk >= threshold || patternHit,
		Confidence:       confidence,
		Risk:             bestRisk,
		Factors:          best,
	}
	if result.OfflinePredicted {
		result.PredictedStart = bestAt.Truncate(time.Hour)
		result.PredictedDuration = f.predictedDurationLocked(bestAt)
	}
	return result
}

// predictedDurationLocked estimates how long an outage starting at t will
// last, from consecutive risky hours in the hourly distribution.
func (f *Forecaster) predictedDurationLocked(t time.Time) time.Duration {
	const riskyHour = 0.3
	hours := 1
	for h := 1; h < 6; h++ {
		if f.hourly[(t.Hour()+h)%24] < riskyHour {
			break
		}
		hours++
	}
	return time.Duration(hours) * time.Hour
}

// Patterns returns the current recurring patterns.
func (f *Forecaster) Patterns() []RecurringPattern {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]RecurringPattern(nil), f.patterns...)
}

// SetPatterns replaces the recurring pattern list. Used when loading a
// persisted snapshot.
func (f *Forecaster) SetPatterns(patterns []RecurringPattern) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(patterns) > maxPatterns {
		patterns = patterns[:maxPatterns]
	}
	f.patterns = append([]RecurringPattern(nil), patterns...)
}

// Weights returns the current fusion weight vector.
func (f *Forecaster) Weights() RiskWeights {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.weights
}

// SetWeights installs a new weight vector, normalizing it first.
func (f *Forecaster) SetWeights(w RiskWeights) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.weights = w.Normalized()
}

// SampleCount returns how many samples have been observed.
func (f *Forecaster) SampleCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sampleCount
}

// HourlyRisk returns a copy of the hourly offline EWMA vector.
func (f *Forecaster) HourlyRisk() [24]float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.hourly
}

// CurrentState returns the most recently observed connectivity state.
func (f *Forecaster) CurrentState() (State, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.prevState, f.hasPrev
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func ratioOr(bad, good int, fallback float64) float64 {
	total := bad + good
	if total == 0 {
		return fallback
	}
	return float64(bad) / float64(total)
}
