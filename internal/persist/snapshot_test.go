package persist

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelingo/edgecache/internal/connectivity"
	"github.com/carelingo/edgecache/internal/pattern"
	"github.com/carelingo/edgecache/internal/usage"
)

func sampleSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	quality := 0.8
	return &Snapshot{
		Events: []usage.Event{{
			ID:         "e1",
			Timestamp:  time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
			SourceLang: "en",
			TargetLang: "es",
			Context:    "triage",
		}},
		Samples: []connectivity.Sample{{
			Timestamp:  time.Date(2026, 4, 1, 10, 5, 0, 0, time.UTC),
			Online:     true,
			Quality:    &quality,
			LocationID: "clinic",
		}},
		RiskWeights:  connectivity.DefaultRiskWeights(),
		ScoreWeights: pattern.DefaultScoreWeights(),
		Patterns: []connectivity.RecurringPattern{{
			Type:         connectivity.PatternDaily,
			Key:          "hour-21",
			Confidence:   0.9,
			SupportCount: 9,
		}},
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := NewStore(path, false, nil)
	require.NoError(t, err)

	want := sampleSnapshot(t)
	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)

	assert.Equal(t, CurrentSchemaVersion, got.SchemaVersion)
	assert.Equal(t, want.Events, got.Events)
	assert.Equal(t, want.Samples, got.Samples)
	assert.Equal(t, want.RiskWeights, got.RiskWeights)
	assert.Equal(t, want.ScoreWeights, got.ScoreWeights)
	assert.Equal(t, want.Patterns, got.Patterns)
}

func TestStore_CompressedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json.zst")
	store, err := NewStore(path, true, nil)
	require.NoError(t, err)

	want := sampleSnapshot(t)
	require.NoError(t, store.Save(want))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, isCompressed(raw))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, want.Events, got.Events)
	assert.Equal(t, want.Patterns, got.Patterns)
}

func TestStore_LoadMissingFile(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "absent.json"), false, nil)
	require.NoError(t, err)

	_, err = store.Load()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_LoadGarbageIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("not json at all{{"), 0o600))

	store, err := NewStore(path, false, nil)
	require.NoError(t, err)

	_, err = store.Load()
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_SchemaRejectsWrongTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	bad := `{"schema_version": "two", "saved_at": "2026-04-01T00:00:00Z"}`
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o600))

	store, err := NewStore(path, false, nil)
	require.NoError(t, err)

	_, err = store.Load()
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_UnsupportedVersionIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	future := `{"schema_version": 99, "saved_at": "2026-04-01T00:00:00Z"}`
	require.NoError(t, os.WriteFile(path, []byte(future), 0o600))

	store, err := NewStore(path, false, nil)
	require.NoError(t, err)

	_, err = store.Load()
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_MigratesV1Weights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	v1 := `{
  "schema_version": 1,
  "saved_at": "2026-02-01T08:00:00Z",
  "events": [],
  "samples": [],
  "risk_weights": {"time": 0.4, "location": 0.2, "recent": 0.2, "transition": 0.2},
  "score_weights": {"frequency": 0.5, "recency": 0.5},
  "patterns": [{"type": "daily", "key": "hour-21", "confidence": 0.85, "support_count": 5}]
}`
	require.NoError(t, os.WriteFile(path, []byte(v1), 0o600))

	store, err := NewStore(path, false, nil)
	require.NoError(t, err)

	got, err := store.Load()
	require.NoError(t, err)

	assert.Equal(t, CurrentSchemaVersion, got.SchemaVersion)
	assert.InDelta(t, 1.0, got.RiskWeights.Sum(), 1e-9)
	assert.InDelta(t, 0.4, got.RiskWeights.TimePattern, 1e-9)
	assert.Equal(t, 0.0, got.RiskWeights.UserProfile)
	assert.InDelta(t, 0.5, got.ScoreWeights.Frequency, 1e-9)
	assert.Equal(t, 0.0, got.ScoreWeights.Time)
	require.Len(t, got.Patterns, 1)
	assert.Equal(t, connectivity.PatternDaily, got.Patterns[0].Type)
}

func TestStore_MigratesV1MissingWeightsToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	v1 := `{"schema_version": 1, "saved_at": "2026-02-01T08:00:00Z"}`
	require.NoError(t, os.WriteFile(path, []byte(v1), 0o600))

	store, err := NewStore(path, false, nil)
	require.NoError(t, err)

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, connectivity.DefaultRiskWeights(), got.RiskWeights)
	assert.Equal(t, pattern.DefaultScoreWeights(), got.ScoreWeights)
}
