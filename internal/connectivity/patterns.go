package connectivity

import (
	"fmt"
	"sort"
	"time"
)

// PatternType identifies the dimension a recurring pattern was mined from.
type PatternType string

const (
	PatternDaily      PatternType = "daily"
	PatternWeekly     PatternType = "weekly"
	PatternLocation   PatternType = "location"
	PatternTransition PatternType = "transition"
)

// RecurringPattern is a statistically supported, recurring correlate of
// connectivity loss.
type RecurringPattern struct {
	Type         PatternType `json:"type"`
	Key          string      `json:"key"`
	Confidence   float64     `json:"confidence"`
	SupportCount int         `json:"support_count"`
}

const (
	// maxPatterns caps the retained pattern list, top-N by confidence.
	maxPatterns = 10
	// minPatternSupport guards against false positives from sparse data.
	minPatternSupport = 3
	dateLayout        = "2006-01-02"
)

// patternDetector accumulates per-dimension observation and issue days so
// recurring patterns can be mined periodically.
type patternDetector struct {
	hourObserved [24]map[string]struct{}
	hourIssue    [24]map[string]struct{}
	dowObserved  [7]map[string]struct{}
	dowIssue     [7]map[string]struct{}
	locObserved  map[string]map[string]struct{}
	locIssue     map[string]map[string]struct{}
	issueSamples int
}

func newPatternDetector() *patternDetector {
	d := &patternDetector{
		locObserved: make(map[string]map[string]struct{}),
		locIssue:    make(map[string]map[string]struct{}),
	}
	for i := range d.hourObserved {
		d.hourObserved[i] = make(map[string]struct{})
		d.hourIssue[i] = make(map[string]struct{})
	}
	for i := range d.dowObserved {
		d.dowObserved[i] = make(map[string]struct{})
		d.dowIssue[i] = make(map[string]struct{})
	}
	return d
}

func (d *patternDetector) observe(s Sample) {
	date := s.Timestamp.Format(dateLayout)
	hour := s.Timestamp.Hour()
	dow := int(s.Timestamp.Weekday())
	issue := s.IsIssue()

	d.hourObserved[hour][date] = struct{}{}
	d.dowObserved[dow][date] = struct{}{}
	if s.LocationID != "" {
		if d.locObserved[s.LocationID] == nil {
			d.locObserved[s.LocationID] = make(map[string]struct{})
			d.locIssue[s.LocationID] = make(map[string]struct{})
		}
		d.locObserved[s.LocationID][date] = struct{}{}
	}

	if !issue {
		return
	}
	d.issueSamples++
	d.hourIssue[hour][date] = struct{}{}
	d.dowIssue[dow][date] = struct{}{}
	if s.LocationID != "" {
		d.locIssue[s.LocationID][date] = struct{}{}
	}
}

// detect mines recurring patterns from the accumulated counters plus the
// forecaster's transition statistics. The returned list replaces any
// previous one wholesale.
func (d *patternDetector) detect(threshold float64, transitions map[string]int, transitionsFrom map[State]int) []RecurringPattern {
	var found []RecurringPattern

	for h := 0; h < 24; h++ {
		found = appendPattern(found, PatternDaily, HourKey(h),
			len(d.hourIssue[h]), len(d.hourObserved[h]), threshold)
	}
	for dow := 0; dow < 7; dow++ {
		found = appendPattern(found, PatternWeekly, time.Weekday(dow).String(),
			len(d.dowIssue[dow]), len(d.dowObserved[dow]), threshold)
	}
	for loc, observed := range d.locObserved {
		found = appendPattern(found, PatternLocation, loc,
			len(d.locIssue[loc]), len(observed), threshold)
	}
	for _, from := range []State{StateGood, StateFair, StatePoor} {
		total := transitionsFrom[from]
		toOffline := transitions[TransitionKey(from, StateOffline)]
		found = appendPattern(found, PatternTransition,
			TransitionKey(from, StateOffline), toOffline, total, threshold)
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].Confidence != found[j].Confidence {
			return found[i].Confidence > found[j].Confidence
		}
		return found[i].Key < found[j].Key
	})
	if len(found) > maxPatterns {
		found = found[:maxPatterns]
	}
	return found
}

func appendPattern(list []RecurringPattern, t PatternType, key string, issues, observed int, threshold float64) []RecurringPattern {
	if observed == 0 || issues < minPatternSupport {
		return list
	}
	confidence := float64(issues) / float64(observed)
	if confidence < threshold {
		return list
	}
	return append(list, RecurringPattern{
		Type:         t,
		Key:          key,
		Confidence:   confidence,
		SupportCount: issues,
	})
}

// HourKey returns the pattern key for an hour-of-day, e.g. "hour-21".
func HourKey(hour int) string {
	return fmt.Sprintf("hour-%d", hour)
}

// TransitionKey returns the counter key for a state transition.
func TransitionKey(from, to State) string {
	return string(from) + "->" + string(to)
}
