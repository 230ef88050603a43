package persist

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/carelingo/edgecache/internal/connectivity"
	"github.com/carelingo/edgecache/internal/pattern"
	"github.com/carelingo/edgecache/internal/usage"
)

// snapshotV1 kept weights as loose maps. Unknown keys are dropped and
// missing ones take the defaults.
type snapshotV1 struct {
	SchemaVersion int                             `json:"schema_version"`
	SavedAt       time.Time                       `json:"saved_at"`
	Events        []usage.Event                   `json:"events"`
	Samples       []connectivity.Sample           `json:"samples"`
	RiskWeights   map[string]float64              `json:"risk_weights"`
	ScoreWeights  map[string]float64              `json:"score_weights"`
	Patterns      []connectivity.RecurringPattern `json:"patterns"`
}

func migrateV1(data []byte) (*Snapshot, error) {
	var v1 snapshotV1
	if err := json.Unmarshal(data, &v1); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	snap := &Snapshot{
		SchemaVersion: CurrentSchemaVersion,
		SavedAt:       v1.SavedAt,
		Events:        v1.Events,
		Samples:       v1.Samples,
		RiskWeights:   riskWeightsFromV1(v1.RiskWeights),
		ScoreWeights:  scoreWeightsFromV1(v1.ScoreWeights),
		Patterns:      v1.Patterns,
	}
	return snap, nil
}

func riskWeightsFromV1(m map[string]float64) connectivity.RiskWeights {
	if len(m) == 0 {
		return connectivity.DefaultRiskWeights()
	}
	w := connectivity.RiskWeights{
		TimePattern:      m["time"],
		LocationPattern:  m["location"],
		RecentQuality:    m["recent"],
		Transition:       m["transition"],
		UserProfile:      m["user"],
		RecurringPattern: m["recurring"],
	}
	return w.Normalized()
}

func scoreWeightsFromV1(m map[string]float64) pattern.ScoreWeights {
	if len(m) == 0 {
		return pattern.DefaultScoreWeights()
	}
	w := pattern.ScoreWeights{
		Frequency: m["frequency"],
		Recency:   m["recency"],
		Time:      m["time"],
	}
	return w.Normalized()
}
