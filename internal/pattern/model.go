package pattern

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/carelingo/edgecache/internal/usage"
)

// ErrInsufficientData is returned when the retained window is too small to
// learn from. The model is still built; callers decide whether to use it.
var ErrInsufficientData = errors.New("pattern: insufficient data")

// MinSamples is the minimum event count for a trustworthy model.
const MinSamples = 10

// recencyHorizonDays is the age at which a pair's recency score reaches 0.
const recencyHorizonDays = 30

// ScoreWeights holds the frequency/recency/time contribution weights for
// the combined pair score. They sum to 1 after normalization.
type ScoreWeights struct {
	Frequency float64 `json:"frequency"`
	Recency   float64 `json:"recency"`
	Time      float64 `json:"time"`
}

// DefaultScoreWeights returns the initial weight vector.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{Frequency: 0.4, Recency: 0.3, Time: 0.3}
}

// Sum returns the total of the three weights.
func (w ScoreWeights) Sum() float64 {
	return w.Frequency + w.Recency + w.Time
}

// Normalized returns the vector scaled to sum to 1, falling back to the
// default on a degenerate all-zero vector.
func (w ScoreWeights) Normalized() ScoreWeights {
	sum := w.Sum()
	if sum <= 0 {
		return DefaultScoreWeights()
	}
	return ScoreWeights{
		Frequency: w.Frequency / sum,
		Recency:   w.Recency / sum,
		Time:      w.Time / sum,
	}
}

// PairStats aggregates usage of one language pair.
type PairStats struct {
	Count    int            `json:"count"`
	Recency  float64        `json:"recency"`
	Hourly   [24]int        `json:"hourly"`
	Daily    [7]int         `json:"daily"`
	Contexts map[string]int `json:"contexts"`
}

// ContextStats aggregates usage of one medical context.
type ContextStats struct {
	Count  int     `json:"count"`
	Hourly [24]int `json:"hourly"`
}

// TermStats aggregates usage of one medical term and its associations.
type TermStats struct {
	Count    int            `json:"count"`
	Pairs    map[string]int `json:"pairs"`
	Contexts map[string]int `json:"contexts"`
}

// Model is a derived, replaceable-as-a-whole snapshot of usage patterns.
// It is rebuilt from the full retained event window on every update; no
// incremental mutation happens across cycles.
type Model struct {
	TotalEvents        int                      `json:"total_events"`
	BuiltAt            time.Time                `json:"built_at"`
	Pairs              map[string]*PairStats    `json:"pairs"`
	Contexts           map[string]*ContextStats `json:"contexts"`
	Terms              map[string]*TermStats    `json:"terms"`
	PairTransitions    map[string]int           `json:"pair_transitions"`
	ContextTransitions map[string]int           `json:"context_transitions"`
	HourTotals         [24]int                  `json:"hour_totals"`
	DayTotals          [7]int                   `json:"day_totals"`
	Sessions           SessionStats             `json:"sessions"`
}

// Build computes a fresh model from the retained event window. The result
// is deterministic given the same window and the same now. Below
// MinSamples the model is returned together with ErrInsufficientData.
func Build(events []usage.Event, now time.Time) (*Model, error) {
	m := &Model{
		TotalEvents:        len(events),
		BuiltAt:            now,
		Pairs:              make(map[string]*PairStats),
		Contexts:           make(map[string]*ContextStats),
		Terms:              make(map[string]*TermStats),
		PairTransitions:    make(map[string]int),
		ContextTransitions: make(map[string]int),
	}

	for _, e := range events {
		hour := e.Timestamp.Hour()
		dow := int(e.Timestamp.Weekday())
		pair := e.Pair()

		m.HourTotals[hour]++
		m.DayTotals[dow]++

		ps := m.Pairs[pair]
		if ps == nil {
			ps = &PairStats{Contexts: make(map[string]int)}
			m.Pairs[pair] = ps
		}
		ps.Count++
		ps.Hourly[hour]++
		ps.Daily[dow]++
		ps.Contexts[e.Context]++
		if r := recencyScore(e.Timestamp, now); r > ps.Recency {
			ps.Recency = r
		}

		cs := m.Contexts[e.Context]
		if cs == nil {
			cs = &ContextStats{}
			m.Contexts[e.Context] = cs
		}
		cs.Count++
		cs.Hourly[hour]++

		for _, term := range e.Terms {
			ts := m.Terms[term]
			if ts == nil {
				ts = &TermStats{
					Pairs:    make(map[string]int),
					Contexts: make(map[string]int),
				}
				m.Terms[term] = ts
			}
			ts.Count++
			ts.Pairs[pair]++
			ts.Contexts[e.Context]++
		}
	}

	m.Sessions = mineSessions(events, m.PairTransitions, m.ContextTransitions)

	if len(events) < MinSamples {
		return m, ErrInsufficientData
	}
	return m, nil
}

// recencyScore decays linearly from 1 (just used) to 0 at the horizon.
func recencyScore(at, now time.Time) float64 {
	ageDays := now.Sub(at).Hours() / 24
	return math.Max(0, 1-ageDays/recencyHorizonDays)
}

// PairProbability returns P(pair) over the retained window.
func (m *Model) PairProbability(pair string) float64 {
	if m.TotalEvents == 0 {
		return 0
	}
	ps := m.Pairs[pair]
	if ps == nil {
		return 0
	}
	return float64(ps.Count) / float64(m.TotalEvents)
}

// PairHourShare returns the pair's share of traffic at the given hour.
func (m *Model) PairHourShare(pair string, hour int) float64 {
	ps := m.Pairs[pair]
	if ps == nil || m.HourTotals[hour] == 0 {
		return 0
	}
	return float64(ps.Hourly[hour]) / float64(m.HourTotals[hour])
}

// PairDayShare returns the pair's share of traffic on the given weekday.
func (m *Model) PairDayShare(pair string, day int) float64 {
	ps := m.Pairs[pair]
	if ps == nil || m.DayTotals[day] == 0 {
		return 0
	}
	return float64(ps.Daily[day]) / float64(m.DayTotals[day])
}

// PairScore combines frequency, recency and time-of-use into one score.
func (m *Model) PairScore(pair string, hour, day int, w ScoreWeights) float64 {
	ps := m.Pairs[pair]
	if ps == nil {
		return 0
	}
	timeScore := (m.PairHourShare(pair, hour) + m.PairDayShare(pair, day)) / 2
	return w.Frequency*m.PairProbability(pair) +
		w.Recency*ps.Recency +
		w.Time*timeScore
}

// ScoredPair is a language pair with its combined score.
type ScoredPair struct {
	Pair  string  `json:"pair"`
	Score float64 `json:"score"`
}

// TopPairs returns up to n pairs ranked by combined score, ties broken
// lexicographically for determinism.
func (m *Model) TopPairs(hour, day, n int, w ScoreWeights) []ScoredPair {
	scored := make([]ScoredPair, 0, len(m.Pairs))
	for pair := range m.Pairs {
		scored = append(scored, ScoredPair{Pair: pair, Score: m.PairScore(pair, hour, day, w)})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Pair < scored[j].Pair
	})
	if len(scored) > n {
		scored = scored[:n]
	}
	return scored
}

// TopContextForPair returns the pair's most used context, ties broken
// lexicographically.
func (m *Model) TopContextForPair(pair string) string {
	ps := m.Pairs[pair]
	if ps == nil {
		return ""
	}
	best := ""
	bestCount := -1
	for ctx, count := range ps.Contexts {
		if count > bestCount || (count == bestCount && ctx < best) {
			best = ctx
			bestCount = count
		}
	}
	return best
}

// ContextHourlyDistribution returns a context's hourly usage distribution,
// normalized to sum to 1 (or all-zero without data).
func (m *Model) ContextHourlyDistribution(context string) [24]float64 {
	var dist [24]float64
	cs := m.Contexts[context]
	if cs == nil {
		return dist
	}
	total := 0
	for _, n := range cs.Hourly {
		total += n
	}
	if total == 0 {
		return dist
	}
	for i, n := range cs.Hourly {
		dist[i] = float64(n) / float64(total)
	}
	return dist
}

// Transition is a predicted follow-up with its conditional probability.
type Transition struct {
	To          string  `json:"to"`
	Count       int     `json:"count"`
	Probability float64 `json:"probability"`
}

// NextContexts returns the likely next contexts after current, ranked by
// transition probability.
func (m *Model) NextContexts(current string) []Transition {
	return nextFrom(m.ContextTransitions, current)
}

// NextPairs returns the likely next language pairs after current.
func (m *Model) NextPairs(current string) []Transition {
	return nextFrom(m.PairTransitions, current)
}

func nextFrom(transitions map[string]int, current string) []Transition {
	prefix := current + "->"
	total := 0
	var out []Transition
	for key, count := range transitions {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, Transition{To: key[len(prefix):], Count: count})
			total += count
		}
	}
	if total == 0 {
		return nil
	}
	for i := range out {
		out[i].Probability = float64(out[i].Count) / float64(total)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Probability != out[j].Probability {
			return out[i].Probability > out[j].Probability
		}
		return out[i].To < out[j].To
	})
	return out
}

// TermAssociations returns the stats for a term, if observed.
func (m *Model) TermAssociations(term string) (*TermStats, bool) {
	ts, ok := m.Terms[term]
	return ts, ok
}
