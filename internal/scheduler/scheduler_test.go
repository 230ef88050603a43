package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"

	"github.com/carelingo/edgecache/internal/fusion"
)

type fakeBackend struct {
	failKeys map[string]bool
	failAll  bool
	order    []string
}

func (f *fakeBackend) Prefetch(ctx context.Context, p fusion.Prediction) error {
	f.order = append(f.order, p.Key())
	if f.failAll || f.failKeys[p.Key()] {
		return errors.New("upstream unavailable")
	}
	return nil
}

func fastConfig() Config {
	return Config{HighRate: rate.Inf, NormalRate: rate.Inf}
}

func makePredictions(n int) []fusion.Prediction {
	preds := make([]fusion.Prediction, 0, n)
	for i := 0; i < n; i++ {
		preds = append(preds, fusion.Prediction{
			SourceLang: "en",
			TargetLang: "es",
			Context:    fmt.Sprintf("ctx-%02d", i),
			Score:      0.5,
			Reason:     fusion.ReasonTimePattern,
		})
	}
	return preds
}

// Scenario: a third of the batch fails upstream. Every remaining item
// must still be attempted and the cycle must finish cleanly.
func TestRun_PartialFailuresDoNotAbortCycle(t *testing.T) {
	preds := makePredictions(10)
	backend := &fakeBackend{failKeys: map[string]bool{
		preds[1].Key(): true,
		preds[4].Key(): true,
		preds[8].Key(): true,
	}}

	s := New(fastConfig(), backend, nil)
	res := s.Run(context.Background(), preds)

	assert.Equal(t, 7, res.Cached)
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, 0, res.Skipped)
	assert.False(t, res.Halted)
	assert.Len(t, backend.order, 10)

	out := res.PerReason[fusion.ReasonTimePattern]
	assert.Equal(t, 7, out.Successes)
	assert.Equal(t, 3, out.Failures)
}

func TestRun_UrgentItemsGoFirst(t *testing.T) {
	preds := []fusion.Prediction{
		{SourceLang: "en", TargetLang: "es", Context: "general", Score: 0.4, Reason: fusion.ReasonTimePattern},
		{SourceLang: "en", TargetLang: "fr", Context: "triage", Score: 0.6, Reason: fusion.ReasonNetworkRisk},
		{SourceLang: "en", TargetLang: "pt", Context: "exam", Score: 0.9, Reason: fusion.ReasonSequence},
	}

	backend := &fakeBackend{}
	s := New(fastConfig(), backend, nil)
	res := s.Run(context.Background(), preds)

	assert.Equal(t, 3, res.Cached)
	assert.Equal(t, []string{"en|fr|triage", "en|pt|exam", "en|es|general"}, backend.order)
}

func TestRun_HaltsOnConsecutiveFailures(t *testing.T) {
	preds := makePredictions(10)
	backend := &fakeBackend{failAll: true}

	cfg := fastConfig()
	cfg.MaxConsecutiveFailures = 3
	s := New(cfg, backend, nil)
	res := s.Run(context.Background(), preds)

	assert.True(t, res.Halted)
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, 7, res.Skipped)
	assert.Len(t, backend.order, 3)
}

func TestRun_SuccessResetsFailureStreak(t *testing.T) {
	preds := makePredictions(6)
	backend := &fakeBackend{failKeys: map[string]bool{
		preds[0].Key(): true,
		preds[1].Key(): true,
		preds[3].Key(): true,
		preds[4].Key(): true,
	}}

	cfg := fastConfig()
	cfg.MaxConsecutiveFailures = 3
	s := New(cfg, backend, nil)
	res := s.Run(context.Background(), preds)

	assert.False(t, res.Halted)
	assert.Equal(t, 2, res.Cached)
	assert.Equal(t, 4, res.Failed)
}

func TestRun_CancelledContextStopsCycle(t *testing.T) {
	preds := makePredictions(5)
	backend := &fakeBackend{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(fastConfig(), backend, nil)
	res := s.Run(ctx, preds)

	assert.True(t, res.Halted)
	assert.Equal(t, 0, res.Cached)
	assert.Equal(t, 5, res.Skipped)
	assert.Empty(t, backend.order)
}

func TestRun_EmptyBatch(t *testing.T) {
	s := New(fastConfig(), &fakeBackend{}, nil)
	res := s.Run(context.Background(), nil)

	assert.Equal(t, 0, res.Cached)
	assert.Equal(t, 0, res.Failed)
	assert.False(t, res.Halted)
}
