package telemetry

import (
	"context"
	"sync"
)

// MemorySink collects exported events for deterministic assertions. It never
// fails an export, so it also serves as a fallback sink when no endpoint is
// configured.
type MemorySink struct {
	mu       sync.Mutex
	exported []Event
}

// NewMemorySink returns an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Export records one event.
func (s *MemorySink) Export(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exported = append(s.exported, event)
	return nil
}

// Events returns every exported event in export order.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.exported...)
}

// ByKind returns the exported events of one kind, preserving export order.
func (s *MemorySink) ByKind(kind EventKind) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, event := range s.exported {
		if event.Kind == kind {
			out = append(out, event)
		}
	}
	return out
}

// Metric returns the last exported metric with the given name, or false when
// none was recorded.
func (s *MemorySink) Metric(name string) (MetricEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.exported) - 1; i >= 0; i-- {
		event := s.exported[i]
		if event.Kind == EventKindMetric && event.Metric != nil && event.Metric.Name == name {
			return *event.Metric, true
		}
	}
	return MetricEvent{}, false
}
