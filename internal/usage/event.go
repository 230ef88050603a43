package usage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event records a single translation request as observed by the device.
// Events are immutable once logged.
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	SourceLang string    `json:"source_lang"`
	TargetLang string    `json:"target_lang"`
	Context    string    `json:"context"`
	Terms      []string  `json:"terms,omitempty"`
	TextLength int       `json:"text_length"`
	Confidence float64   `json:"confidence"`
}

// NewEvent creates an event with a fresh ID and UTC timestamp.
func NewEvent(sourceLang, targetLang, context string) Event {
	return Event{
		ID:         uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		SourceLang: sourceLang,
		TargetLang: targetLang,
		Context:    context,
	}
}

// Pair returns the language pair key, e.g. "en->es".
func (e Event) Pair() string {
	return fmt.Sprintf("%s->%s", e.SourceLang, e.TargetLang)
}
