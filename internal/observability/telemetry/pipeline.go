package telemetry

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// EventKind defines telemetry payload kind.
type EventKind string

const (
	EventKindMetric EventKind = "metric"
	EventKindLog    EventKind = "log"
)

// Correlation carries engine correlation fields on every emission.
type Correlation struct {
	RunID    string `json:"run_id,omitempty"`
	Role     string `json:"role,omitempty"`
	Strategy string `json:"strategy,omitempty"`
	CallID   string `json:"call_id,omitempty"`
}

// MetricEvent captures a metric sample payload.
type MetricEvent struct {
	Name       string            `json:"name"`
	Value      float64           `json:"value"`
	Unit       string            `json:"unit,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// LogEvent captures a structured log payload.
type LogEvent struct {
	Name       string            `json:"name"`
	Severity   string            `json:"severity"`
	Message    string            `json:"message"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Event is the normalized telemetry emission envelope.
type Event struct {
	Kind        EventKind    `json:"kind"`
	TimestampMS int64        `json:"timestamp_ms"`
	Correlation Correlation  `json:"correlation"`
	Metric      *MetricEvent `json:"metric,omitempty"`
	Log         *LogEvent    `json:"log,omitempty"`
}

// Sink exports normalized telemetry events.
type Sink interface {
	Export(context.Context, Event) error
}

// Emitter defines a non-blocking telemetry emission handle.
type Emitter interface {
	EmitMetric(name string, value float64, unit string, attributes map[string]string, correlation Correlation)
	EmitLog(name, severity, message string, attributes map[string]string, correlation Correlation)
}

type noopEmitter struct{}

func (noopEmitter) EmitMetric(string, float64, string, map[string]string, Correlation) {}
func (noopEmitter) EmitLog(string, string, string, map[string]string, Correlation)     {}

type emitterHolder struct {
	emitter Emitter
}

var globalEmitter atomic.Value

func init() {
	globalEmitter.Store(emitterHolder{emitter: noopEmitter{}})
}

// SetDefaultEmitter replaces the process-local default telemetry emitter.
func SetDefaultEmitter(emitter Emitter) {
	if emitter == nil {
		emitter = noopEmitter{}
	}
	globalEmitter.Store(emitterHolder{emitter: emitter})
}

// DefaultEmitter returns the process-local default telemetry emitter.
func DefaultEmitter() Emitter {
	holder, ok := globalEmitter.Load().(emitterHolder)
	if !ok || holder.emitter == nil {
		return noopEmitter{}
	}
	return holder.emitter
}

// Config controls bounded queue and export behavior.
type Config struct {
	QueueCapacity int
	ExportTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueCapacity < 1 {
		c.QueueCapacity = 256
	}
	if c.ExportTimeout <= 0 {
		c.ExportTimeout = 200 * time.Millisecond
	}
	return c
}

// Stats captures current pipeline counters.
type Stats struct {
	Enqueued       uint64
	Dropped        uint64
	Exported       uint64
	ExportFailures uint64
	QueueDepth     int
}

// Pipeline is a bounded non-blocking telemetry pipeline. Emissions never
// block engine paths; the queue sheds under pressure.
type Pipeline struct {
	sink Sink
	cfg  Config

	queue chan Event
	stop  chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup

	enqueued       atomic.Uint64
	dropped        atomic.Uint64
	exported       atomic.Uint64
	exportFailures atomic.Uint64
}

type discardSink struct{}

func (discardSink) Export(context.Context, Event) error { return nil }

// NewPipeline constructs and starts a telemetry pipeline.
func NewPipeline(sink Sink, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = discardSink{}
	}
	p := &Pipeline{
		sink:  sink,
		cfg:   cfg,
		queue: make(chan Event, cfg.QueueCapacity),
		stop:  make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Close drains pending events and stops background export.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		close(p.stop)
		p.wg.Wait()
	})
	return nil
}

// Stats returns current queue/counter snapshots.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Enqueued:       p.enqueued.Load(),
		Dropped:        p.dropped.Load(),
		Exported:       p.exported.Load(),
		ExportFailures: p.exportFailures.Load(),
		QueueDepth:     len(p.queue),
	}
}

// EmitMetric enqueues a metric sample without blocking.
func (p *Pipeline) EmitMetric(name string, value float64, unit string, attributes map[string]string, correlation Correlation) {
	p.enqueue(Event{
		Kind:        EventKindMetric,
		TimestampMS: time.Now().UnixMilli(),
		Correlation: correlation,
		Metric: &MetricEvent{
			Name:       strings.TrimSpace(name),
			Value:      value,
			Unit:       strings.TrimSpace(unit),
			Attributes: cloneAttributes(attributes),
		},
	})
}

// EmitLog enqueues a log sample without blocking.
func (p *Pipeline) EmitLog(name, severity, message string, attributes map[string]string, correlation Correlation) {
	p.enqueue(Event{
		Kind:        EventKindLog,
		TimestampMS: time.Now().UnixMilli(),
		Correlation: correlation,
		Log: &LogEvent{
			Name:       strings.TrimSpace(name),
			Severity:   strings.TrimSpace(severity),
			Message:    message,
			Attributes: cloneAttributes(attributes),
		},
	})
}

func (p *Pipeline) enqueue(event Event) {
	select {
	case p.queue <- event:
		p.enqueued.Add(1)
	default:
		p.dropped.Add(1)
	}
}

func (p *Pipeline) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stop:
			for {
				select {
				case event := <-p.queue:
					p.export(event)
				default:
					return
				}
			}
		case event := <-p.queue:
			p.export(event)
		}
	}
}

func (p *Pipeline) export(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ExportTimeout)
	defer cancel()
	if err := p.sink.Export(ctx, event); err != nil {
		p.exportFailures.Add(1)
		return
	}
	p.exported.Add(1)
}

func cloneAttributes(attributes map[string]string) map[string]string {
	if len(attributes) == 0 {
		return nil
	}
	out := make(map[string]string, len(attributes))
	for key, value := range attributes {
		out[key] = value
	}
	return out
}
