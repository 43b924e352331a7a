package timeline

import (
	"sync"
	"time"

	"github.com/tiger/callsim/api/interview"
)

// Config bounds per-run append capacity.
type Config struct {
	EventCapacity      int
	TranscriptCapacity int
	Now                func() time.Time
}

// Log is the append-only per-run timeline: an event log plus a transcript
// store. Entries are never mutated or removed; appends past capacity are
// counted and dropped.
type Log struct {
	mu sync.Mutex

	events     []interview.Event
	transcript []interview.TranscriptEntry

	eventCapacity      int
	transcriptCapacity int
	droppedEvents      int
	droppedTranscript  int
	now                func() time.Time
}

// NewLog returns an empty per-run timeline with bounded capacity defaults.
func NewLog(cfg Config) *Log {
	if cfg.EventCapacity < 1 {
		cfg.EventCapacity = 4096
	}
	if cfg.TranscriptCapacity < 1 {
		cfg.TranscriptCapacity = 8192
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Log{
		eventCapacity:      cfg.EventCapacity,
		transcriptCapacity: cfg.TranscriptCapacity,
		now:                cfg.Now,
	}
}

// AppendEvent records one timeline occurrence.
func (l *Log) AppendEvent(eventType string, payload map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.events) >= l.eventCapacity {
		l.droppedEvents++
		return
	}
	l.events = append(l.events, interview.Event{
		Timestamp: l.now(),
		Type:      eventType,
		Payload:   payload,
	})
}

// AppendTranscript records one utterance.
func (l *Log) AppendTranscript(role interview.Role, text string, final bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.transcript) >= l.transcriptCapacity {
		l.droppedTranscript++
		return
	}
	l.transcript = append(l.transcript, interview.TranscriptEntry{
		Timestamp: l.now(),
		Role:      role,
		Text:      text,
		Final:     final,
	})
}

// Events returns a snapshot copy of the event log.
func (l *Log) Events() []interview.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]interview.Event, len(l.events))
	copy(out, l.events)
	return out
}

// Transcript returns a snapshot copy of the transcript store.
func (l *Log) Transcript() []interview.TranscriptEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]interview.TranscriptEntry, len(l.transcript))
	copy(out, l.transcript)
	return out
}

// Dropped reports how many appends were discarded at capacity.
func (l *Log) Dropped() (events int, transcript int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.droppedEvents, l.droppedTranscript
}
