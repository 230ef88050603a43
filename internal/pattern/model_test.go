package pattern

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelingo/edgecache/internal/usage"
)

func event(id string, at time.Time, src, tgt, context string, terms ...string) usage.Event {
	return usage.Event{
		ID:         id,
		Timestamp:  at,
		SourceLang: src,
		TargetLang: tgt,
		Context:    context,
		Terms:      terms,
	}
}

func TestBuild_InsufficientData(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	events := []usage.Event{
		event("1", now.Add(-time.Hour), "en", "es", "general"),
	}

	m, err := Build(events, now)
	require.ErrorIs(t, err, ErrInsufficientData)
	require.NotNil(t, m)
	assert.Equal(t, 1, m.TotalEvents)
}

func TestBuild_Deterministic(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	var events []usage.Event
	for i := 0; i < 20; i++ {
		events = append(events, event(fmt.Sprintf("%d", i),
			now.Add(-time.Duration(i)*10*time.Minute), "en", "es", "triage", "fever"))
	}

	a, err := Build(events, now)
	require.NoError(t, err)
	b, err := Build(events, now)
	require.NoError(t, err)

	assert.True(t, reflect.DeepEqual(a, b), "same window and now must yield identical models")
}

func TestRecency_NewerEventScoresHigher(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	fresh := recencyScore(now.Add(-24*time.Hour), now)
	stale := recencyScore(now.Add(-20*24*time.Hour), now)
	ancient := recencyScore(now.Add(-45*24*time.Hour), now)

	assert.Greater(t, fresh, stale)
	assert.GreaterOrEqual(t, stale, ancient)
	assert.Equal(t, 0.0, ancient)
}

func TestBuild_RecencyIsRunningMax(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	events := []usage.Event{
		event("old", now.Add(-25*24*time.Hour), "en", "es", "general"),
		event("new", now.Add(-time.Hour), "en", "es", "general"),
	}

	m, _ := Build(events, now)
	ps := m.Pairs["en->es"]
	require.NotNil(t, ps)
	assert.InDelta(t, recencyScore(now.Add(-time.Hour), now), ps.Recency, 1e-9)
}

func TestContextHourlyDistribution_Normalized(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	var events []usage.Event
	for i := 0; i < 12; i++ {
		at := time.Date(2026, 3, 9, i%4+8, 0, 0, 0, time.UTC)
		events = append(events, event(fmt.Sprintf("%d", i), at, "en", "es", "triage"))
	}

	m, err := Build(events, now)
	require.NoError(t, err)

	dist := m.ContextHourlyDistribution("triage")
	var sum float64
	for _, v := range dist {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	empty := m.ContextHourlyDistribution("unknown")
	for _, v := range empty {
		assert.Zero(t, v)
	}
}

func TestBuild_SessionTransitionsAndGrams(t *testing.T) {
	base := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	now := base.Add(24 * time.Hour)

	// One session: triage -> exam -> pharmacy, repeated twice with a
	// session gap between repetitions.
	var events []usage.Event
	for rep := 0; rep < 2; rep++ {
		start := base.Add(time.Duration(rep) * 2 * time.Hour)
		events = append(events,
			event(fmt.Sprintf("a%d", rep), start, "en", "es", "triage"),
			event(fmt.Sprintf("b%d", rep), start.Add(5*time.Minute), "en", "es", "exam"),
			event(fmt.Sprintf("c%d", rep), start.Add(10*time.Minute), "en", "fr", "pharmacy"),
		)
	}

	m, _ := Build(events, now)

	assert.Equal(t, 2, m.Sessions.Count)
	assert.InDelta(t, 3.0, m.Sessions.AvgItems, 1e-9)
	assert.Equal(t, 2, m.ContextTransitions["triage->exam"])
	assert.Equal(t, 2, m.ContextTransitions["exam->pharmacy"])
	assert.Equal(t, 2, m.PairTransitions["en->es->en->fr"])

	require.NotEmpty(t, m.Sessions.CommonSequences)
	top := m.Sessions.CommonSequences[0]
	assert.Equal(t, [3]string{"triage", "exam", "pharmacy"}, top.Sequence)
	assert.Equal(t, 2, top.Count)
}

func TestNextContexts_RankedByProbability(t *testing.T) {
	base := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	now := base.Add(24 * time.Hour)

	var events []usage.Event
	id := 0
	add := func(contexts ...string) {
		start := base.Add(time.Duration(id) * time.Hour)
		for i, ctx := range contexts {
			events = append(events, event(fmt.Sprintf("%d-%d", id, i),
				start.Add(time.Duration(i)*time.Minute), "en", "es", ctx))
		}
		id++
	}
	add("triage", "exam")
	add("triage", "exam")
	add("triage", "exam")
	add("triage", "pharmacy")

	m, _ := Build(events, now)

	next := m.NextContexts("triage")
	require.Len(t, next, 2)
	assert.Equal(t, "exam", next[0].To)
	assert.InDelta(t, 0.75, next[0].Probability, 1e-9)
	assert.Equal(t, "pharmacy", next[1].To)
	assert.InDelta(t, 0.25, next[1].Probability, 1e-9)
}

// Scenario: 80% of traffic is en->es/general concentrated at hour 10; the
// combined score must rank that pair first and comfortably high.
func TestModel_DominantPairRanksFirst(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)
	var events []usage.Event
	for i := 0; i < 100; i++ {
		at := time.Date(2026, 3, 9, 10, i%60, 0, 0, time.UTC)
		if i < 80 {
			events = append(events, event(fmt.Sprintf("%d", i), at, "en", "es", "general"))
		} else {
			events = append(events, event(fmt.Sprintf("%d", i), at, "en", "fr", "pediatrics"))
		}
	}

	m, err := Build(events, now)
	require.NoError(t, err)

	top := m.TopPairs(10, int(now.Weekday()), 3, DefaultScoreWeights())
	require.NotEmpty(t, top)
	assert.Equal(t, "en->es", top[0].Pair)
	assert.Greater(t, top[0].Score, 0.5)
	assert.Equal(t, "general", m.TopContextForPair("en->es"))
}

func TestScoreWeights_Normalized(t *testing.T) {
	w := ScoreWeights{Frequency: 2, Recency: 1, Time: 1}.Normalized()
	assert.InDelta(t, 1.0, w.Sum(), 1e-9)
	assert.InDelta(t, 0.5, w.Frequency, 1e-9)

	zero := ScoreWeights{}.Normalized()
	assert.InDelta(t, 1.0, zero.Sum(), 1e-9)
}
