package pattern

import (
	"sort"
	"time"

	"github.com/carelingo/edgecache/internal/usage"
)

// SessionGap is the idle period that splits two sessions.
const SessionGap = 30 * time.Minute

// maxCommonSequences caps the retained context 3-gram list.
const maxCommonSequences = 10

// SequenceCount is a context 3-gram with its occurrence count.
type SequenceCount struct {
	Sequence [3]string `json:"sequence"`
	Count    int       `json:"count"`
}

// SessionStats summarizes the sessions mined from the event window.
type SessionStats struct {
	Count           int             `json:"count"`
	AvgDuration     time.Duration   `json:"avg_duration"`
	AvgItems        float64         `json:"avg_items"`
	CommonSequences []SequenceCount `json:"common_sequences,omitempty"`
}

// mineSessions splits the window into sessions, records context and pair
// transitions between consecutive in-session events, and mines context
// 3-grams. Transition counters are written into the supplied maps.
func mineSessions(events []usage.Event, pairTransitions, contextTransitions map[string]int) SessionStats {
	if len(events) == 0 {
		return SessionStats{}
	}

	ordered := make([]usage.Event, len(events))
	copy(ordered, events)
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].ID < ordered[j].ID
	})

	grams := make(map[[3]string]int)
	var (
		sessions      int
		totalDuration time.Duration
		totalItems    int
		start         = 0
	)

	flush := func(end int) {
		sessions++
		totalItems += end - start
		totalDuration += ordered[end-1].Timestamp.Sub(ordered[start].Timestamp)

		for i := start + 1; i < end; i++ {
			prev, cur := ordered[i-1], ordered[i]
			if prev.Context != cur.Context {
				contextTransitions[prev.Context+"->"+cur.Context]++
			}
			if prev.Pair() != cur.Pair() {
				pairTransitions[prev.Pair()+"->"+cur.Pair()]++
			}
		}
		for i := start + 2; i < end; i++ {
			grams[[3]string{ordered[i-2].Context, ordered[i-1].Context, ordered[i].Context}]++
		}
		start = end
	}

	for i := 1; i < len(ordered); i++ {
		if ordered[i].Timestamp.Sub(ordered[i-1].Timestamp) > SessionGap {
			flush(i)
		}
	}
	flush(len(ordered))

	sequences := make([]SequenceCount, 0, len(grams))
	for seq, count := range grams {
		sequences = append(sequences, SequenceCount{Sequence: seq, Count: count})
	}
	sort.Slice(sequences, func(i, j int) bool {
		if sequences[i].Count != sequences[j].Count {
			return sequences[i].Count > sequences[j].Count
		}
		return lessSeq(sequences[i].Sequence, sequences[j].Sequence)
	})
	if len(sequences) > maxCommonSequences {
		sequences = sequences[:maxCommonSequences]
	}

	return SessionStats{
		Count:           sessions,
		AvgDuration:     totalDuration / time.Duration(sessions),
		AvgItems:        float64(totalItems) / float64(sessions),
		CommonSequences: sequences,
	}
}

func lessSeq(a, b [3]string) bool {
	for i := 0; i < 3; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
