package fusion

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/carelingo/edgecache/internal/connectivity"
	"github.com/carelingo/edgecache/internal/pattern"
)

// Reason identifies which signal produced a prediction.
type Reason string

const (
	ReasonTimePattern     Reason = "time_pattern"
	ReasonSequence        Reason = "sequence"
	ReasonSession         Reason = "session"
	ReasonTermAssociation Reason = "term_association"
	ReasonNetworkRisk     Reason = "network_risk"
)

// Reasons lists all prediction reasons.
var Reasons = []Reason{
	ReasonTimePattern,
	ReasonSequence,
	ReasonSession,
	ReasonTermAssociation,
	ReasonNetworkRisk,
}

// Score multipliers per source. Sequence evidence is trusted more than
// static frequency; session 3-grams are the strongest behavioral signal;
// day-of-week predictions score lower than intraday ones.
const (
	hourMultiplier          = 0.9
	dayMultiplier           = 0.8
	pairTransitionMult      = 1.4
	contextTransitionMult   = 1.2
	coOccurrenceMult        = 1.1
	sessionMult             = 1.5
	termPairMult            = 1.1
	termContextMult         = 1.2
	networkRiskMult         = 1.5
	networkRiskTopPairCount = 5
)

// Prediction is a ranked prefetch candidate. Value type, produced fresh
// each cycle, never persisted.
type Prediction struct {
	SourceLang string   `json:"source_lang"`
	TargetLang string   `json:"target_lang"`
	Context    string   `json:"context"`
	Score      float64  `json:"score"`
	Reason     Reason   `json:"reason"`
	Terms      []string `json:"terms,omitempty"`
}

// Key returns the deduplication key.
func (p Prediction) Key() string {
	return fmt.Sprintf("%s|%s|%s", p.SourceLang, p.TargetLang, p.Context)
}

// Options scopes one ranking pass.
type Options struct {
	Now            time.Time
	Aggressiveness float64
	Limit          int

	CurrentPair    string
	CurrentContext string
	// RecentContexts holds the session's context history, most recent
	// last; the trailing two drive 3-gram matching.
	RecentContexts []string
	RecentTerms    []string

	LocationID     string
	UserID         string
	ConnectionType string

	// ReasonFactors optionally scales each source's scores by its
	// observed prefetch accuracy (from the tuner).
	ReasonFactors map[Reason]float64
}

// Config tunes the fusion engine.
type Config struct {
	// BaseThreshold is the unscaled acceptance threshold for time-based
	// shares; the effective threshold is BaseThreshold*(1-aggressiveness).
	BaseThreshold float64
	// RiskThreshold is the unscaled offline-risk trigger for the
	// network-risk source.
	RiskThreshold float64
	// DefaultLimit bounds the candidate list when Options.Limit is 0.
	DefaultLimit int
}

// DefaultConfig returns the fusion defaults.
func DefaultConfig() Config {
	return Config{BaseThreshold: 0.2, RiskThreshold: 0.5, DefaultLimit: 20}
}

// Engine merges the five prediction sources into one deduplicated, ranked
// candidate list.
type Engine struct {
	cfg Config
	log *zap.Logger
}

// New creates a fusion engine.
func New(cfg Config, log *zap.Logger) *Engine {
	d := DefaultConfig()
	if cfg.BaseThreshold <= 0 {
		cfg.BaseThreshold = d.BaseThreshold
	}
	if cfg.RiskThreshold <= 0 {
		cfg.RiskThreshold = d.RiskThreshold
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = d.DefaultLimit
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{cfg: cfg, log: log}
}

// Rank produces the ranked candidate list for one cycle.
func (e *Engine) Rank(model *pattern.Model, fc *connectivity.Forecaster, scoreW pattern.ScoreWeights, opts Options) []Prediction {
	if model == nil {
		return nil
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	agg := opts.Aggressiveness
	if agg <= 0 {
		agg = 0.5
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}

	var candidates []Prediction
	candidates = append(candidates, e.timeBased(model, agg, opts)...)
	candidates = append(candidates, e.sequenceBased(model, opts)...)
	candidates = append(candidates, e.sessionBased(model, opts)...)
	candidates = append(candidates, e.termBased(model, opts)...)
	if fc != nil {
		candidates = append(candidates, e.networkRiskBased(model, fc, scoreW, agg, opts)...)
	}

	for i := range candidates {
		if factor, ok := opts.ReasonFactors[candidates[i].Reason]; ok && factor > 0 {
			candidates[i].Score *= factor
		}
	}

	deduped := dedupe(candidates)
	sort.Slice(deduped, func(i, j int) bool {
		if deduped[i].Score != deduped[j].Score {
			return deduped[i].Score > deduped[j].Score
		}
		return deduped[i].Key() < deduped[j].Key()
	})
	if len(deduped) > limit {
		deduped = deduped[:limit]
	}
	return deduped
}

// timeBased predicts pairs whose hourly/daily traffic share exceeds the
// aggressiveness-scaled threshold.
func (e *Engine) timeBased(model *pattern.Model, agg float64, opts Options) []Prediction {
	threshold := e.cfg.BaseThreshold * (1 - agg)
	hour := opts.Now.Hour()
	day := int(opts.Now.Weekday())

	var out []Prediction
	for pair := range model.Pairs {
		context := model.TopContextForPair(pair)
		if share := model.PairHourShare(pair, hour); share > threshold {
			out = append(out, makePrediction(pair, context, share*hourMultiplier, ReasonTimePattern))
		}
		if share := model.PairDayShare(pair, day); share > threshold {
			out = append(out, makePrediction(pair, context, share*dayMultiplier, ReasonTimePattern))
		}
	}
	return out
}

// sequenceBased predicts the next-likely pair/context from transition
// statistics and raw co-occurrence.
func (e *Engine) sequenceBased(model *pattern.Model, opts Options) []Prediction {
	var out []Prediction

	if opts.CurrentPair != "" {
		for _, tr := range model.NextPairs(opts.CurrentPair) {
			context := model.TopContextForPair(tr.To)
			out = append(out, makePrediction(tr.To, context, tr.Probability*pairTransitionMult, ReasonSequence))
		}
	}

	if opts.CurrentContext != "" {
		basePair := opts.CurrentPair
		if basePair == "" && len(model.Pairs) > 0 {
			top := model.TopPairs(opts.Now.Hour(), int(opts.Now.Weekday()), 1, pattern.DefaultScoreWeights())
			basePair = top[0].Pair
		}
		if basePair != "" {
			for _, tr := range model.NextContexts(opts.CurrentContext) {
				out = append(out, makePrediction(basePair, tr.To, tr.Probability*contextTransitionMult, ReasonSequence))
			}
		}

		// Raw co-occurrence: pairs seen in the current context.
		if cs := model.Contexts[opts.CurrentContext]; cs != nil && cs.Count > 0 {
			for pair, ps := range model.Pairs {
				if n := ps.Contexts[opts.CurrentContext]; n > 0 {
					share := float64(n) / float64(cs.Count)
					out = append(out, makePrediction(pair, opts.CurrentContext, share*coOccurrenceMult, ReasonSequence))
				}
			}
		}
	}
	return out
}

// sessionBased predicts the third context of a mined 3-gram whose prefix
// matches the session's two most recent contexts.
func (e *Engine) sessionBased(model *pattern.Model, opts Options) []Prediction {
	if len(opts.RecentContexts) < 2 || model.Sessions.Count == 0 {
		return nil
	}
	prev2 := opts.RecentContexts[len(opts.RecentContexts)-2]
	prev1 := opts.RecentContexts[len(opts.RecentContexts)-1]

	basePair := opts.CurrentPair
	if basePair == "" && len(model.Pairs) > 0 {
		top := model.TopPairs(opts.Now.Hour(), int(opts.Now.Weekday()), 1, pattern.DefaultScoreWeights())
		basePair = top[0].Pair
	}
	if basePair == "" {
		return nil
	}

	var out []Prediction
	for _, sc := range model.Sessions.CommonSequences {
		if sc.Sequence[0] != prev2 || sc.Sequence[1] != prev1 {
			continue
		}
		share := float64(sc.Count) / float64(model.Sessions.Count)
		if share > 1 {
			share = 1
		}
		out = append(out, makePrediction(basePair, sc.Sequence[2], share*sessionMult, ReasonSession))
	}
	return out
}

// termBased predicts pairs and contexts associated with recently used
// medical terms.
func (e *Engine) termBased(model *pattern.Model, opts Options) []Prediction {
	var out []Prediction
	for _, term := range opts.RecentTerms {
		ts, ok := model.TermAssociations(term)
		if !ok || ts.Count == 0 {
			continue
		}

		bestPair := ""
		bestPairCount := -1
		for pair, n := range ts.Pairs {
			if n > bestPairCount || (n == bestPairCount && pair < bestPair) {
				bestPair = pair
				bestPairCount = n
			}
			share := float64(n) / float64(ts.Count)
			p := makePrediction(pair, model.TopContextForPair(pair), share*termPairMult, ReasonTermAssociation)
			p.Terms = []string{term}
			out = append(out, p)
		}
		for context, n := range ts.Contexts {
			if bestPair == "" {
				continue
			}
			share := float64(n) / float64(ts.Count)
			p := makePrediction(bestPair, context, share*termContextMult, ReasonTermAssociation)
			p.Terms = []string{term}
			out = append(out, p)
		}
	}
	return out
}

// networkRiskBased injects the top combined-score pairs as high-priority
// candidates when an outage is forecast within the upcoming hours.
func (e *Engine) networkRiskBased(model *pattern.Model, fc *connectivity.Forecaster, scoreW pattern.ScoreWeights, agg float64, opts Options) []Prediction {
	result := fc.PredictAt(opts.Now, connectivity.RiskQuery{
		LocationID:     opts.LocationID,
		UserID:         opts.UserID,
		ConnectionType: opts.ConnectionType,
		Threshold:      e.cfg.RiskThreshold * (1 - agg),
	})
	if !result.OfflinePredicted {
		return nil
	}

	top := model.TopPairs(opts.Now.Hour(), int(opts.Now.Weekday()), networkRiskTopPairCount, scoreW)
	out := make([]Prediction, 0, len(top))
	for _, sp := range top {
		out = append(out, makePrediction(sp.Pair, model.TopContextForPair(sp.Pair),
			sp.Score*networkRiskMult*result.Risk, ReasonNetworkRisk))
	}
	return out
}

func makePrediction(pair, context string, score float64, reason Reason) Prediction {
	src, tgt := SplitPair(pair)
	return Prediction{
		SourceLang: src,
		TargetLang: tgt,
		Context:    context,
		Score:      score,
		Reason:     reason,
	}
}

// dedupe keeps the highest-scoring prediction per (source, target,
// context) key.
func dedupe(candidates []Prediction) []Prediction {
	best := make(map[string]Prediction, len(candidates))
	for _, c := range candidates {
		key := c.Key()
		if cur, ok := best[key]; !ok || c.Score > cur.Score {
			best[key] = c
		}
	}
	out := make([]Prediction, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	return out
}

// SplitPair splits a "src->tgt" pair key.
func SplitPair(pair string) (string, string) {
	if i := strings.Index(pair, "->"); i >= 0 {
		return pair[:i], pair[i+2:]
	}
	return pair, ""
}
