package usage

import (
	"sync"
)

// Log is a hard-bounded append-only log of usage events. When full, the
// oldest events are dropped first.
type Log struct {
	mu       sync.RWMutex
	capacity int
	events   []Event
	dropped  int64
}

// NewLog creates a log retaining at most capacity events.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Log{
		capacity: capacity,
		events:   make([]Event, 0, capacity),
	}
}

// Append adds events to the log, evicting the oldest on overflow.
func (l *Log) Append(events ...Event) {
	if len(events) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, events...)
	if over := len(l.events) - l.capacity; over > 0 {
		l.dropped += int64(over)
		l.events = append(l.events[:0], l.events[over:]...)
	}
}

// Events returns a copy of the retained window, oldest first.
func (l *Log) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Dropped returns how many events have been evicted so far.
func (l *Log) Dropped() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dropped
}

// Replace swaps the retained window wholesale. Used when loading a
// persisted snapshot.
func (l *Log) Replace(events []Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(events) > l.capacity {
		events = events[len(events)-l.capacity:]
	}
	l.events = append(l.events[:0:0], events...)
}
