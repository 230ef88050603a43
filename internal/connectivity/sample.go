package connectivity

import (
	"sync"
	"time"
)

// State classifies a connectivity observation by quality.
type State string

const (
	StateGood    State = "good"
	StateFair    State = "fair"
	StatePoor    State = "poor"
	StateOffline State = "offline"
)

// Quality thresholds for state classification.
const (
	goodQuality = 0.7
	poorQuality = 0.3
)

// Sample is a single connectivity observation. Quality is nil when the
// monitor could not measure it.
type Sample struct {
	Timestamp      time.Time `json:"timestamp"`
	Online         bool      `json:"online"`
	Quality        *float64  `json:"quality,omitempty"`
	LocationID     string    `json:"location_id,omitempty"`
	ConnectionType string    `json:"connection_type,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
}

// StateOf classifies the sample.
func (s Sample) StateOf() State {
	if !s.Online {
		return StateOffline
	}
	if s.Quality == nil {
		return StateGood
	}
	switch q := *s.Quality; {
	case q >= goodQuality:
		return StateGood
	case q < poorQuality:
		return StatePoor
	default:
		return StateFair
	}
}

// IsIssue reports whether the sample represents degraded or lost
// connectivity.
func (s Sample) IsIssue() bool {
	st := s.StateOf()
	return st == StateOffline || st == StatePoor
}

// SampleStore is a hard-bounded ring of connectivity samples, oldest
// dropped first.
type SampleStore struct {
	mu       sync.RWMutex
	capacity int
	samples  []Sample
	dropped  int64
}

// NewSampleStore creates a store retaining at most capacity samples.
func NewSampleStore(capacity int) *SampleStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &SampleStore{
		capacity: capacity,
		samples:  make([]Sample, 0, capacity),
	}
}

// Append adds samples, evicting the oldest on overflow.
func (s *SampleStore) Append(samples ...Sample) {
	if len(samples) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = append(s.samples, samples...)
	if over := len(s.samples) - s.capacity; over > 0 {
		s.dropped += int64(over)
		s.samples = append(s.samples[:0], s.samples[over:]...)
	}
}

// Samples returns a copy of the retained window, oldest first.
func (s *SampleStore) Samples() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Recent returns retained samples observed at or after cutoff.
func (s *SampleStore) Recent(cutoff time.Time) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Sample
	for _, smp := range s.samples {
		if !smp.Timestamp.Before(cutoff) {
			out = append(out, smp)
		}
	}
	return out
}

// Len returns the number of retained samples.
func (s *SampleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// Replace swaps the retained window wholesale. Used when loading a
// persisted snapshot.
func (s *SampleStore) Replace(samples []Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(samples) > s.capacity {
		samples = samples[len(samples)-s.capacity:]
	}
	s.samples = append(s.samples[:0:0], samples...)
}
