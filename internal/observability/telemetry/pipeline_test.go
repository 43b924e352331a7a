package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestPipelineExportsInOrder(t *testing.T) {
	t.Parallel()

	sink := NewMemorySink()
	pipeline := NewPipeline(sink, Config{QueueCapacity: 16})

	pipeline.EmitMetric("run_duration_seconds", 42.5, "s", map[string]string{"status": "completed"}, Correlation{RunID: "run-1"})
	pipeline.EmitLog("run_ended", "info", "timeout", nil, Correlation{RunID: "run-1", Strategy: "relay"})
	if err := pipeline.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	events := sink.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != EventKindMetric || events[0].Metric.Name != "run_duration_seconds" {
		t.Fatalf("unexpected first event %+v", events[0])
	}
	if events[1].Kind != EventKindLog || events[1].Log.Severity != "info" {
		t.Fatalf("unexpected second event %+v", events[1])
	}
	if events[1].Correlation.Strategy != "relay" {
		t.Fatalf("expected correlation preserved, got %+v", events[1].Correlation)
	}
	if logs := sink.ByKind(EventKindLog); len(logs) != 1 || logs[0].Log.Name != "run_ended" {
		t.Fatalf("unexpected log events %+v", logs)
	}
	metric, ok := sink.Metric("run_duration_seconds")
	if !ok || metric.Value != 42.5 || metric.Unit != "s" {
		t.Fatalf("unexpected metric %+v ok=%v", metric, ok)
	}

	stats := pipeline.Stats()
	if stats.Enqueued != 2 || stats.Exported != 2 || stats.Dropped != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestPipelineShedsWhenFull(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	sink := blockingSink{release: block}
	pipeline := NewPipeline(sink, Config{QueueCapacity: 1})

	for i := 0; i < 50; i++ {
		pipeline.EmitLog("noise", "debug", "x", nil, Correlation{})
	}
	close(block)
	_ = pipeline.Close()

	stats := pipeline.Stats()
	if stats.Dropped == 0 {
		t.Fatalf("expected shedding under pressure, stats %+v", stats)
	}
	if stats.Enqueued+stats.Dropped != 50 {
		t.Fatalf("expected counters to account for all emissions, stats %+v", stats)
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s blockingSink) Export(ctx context.Context, _ Event) error {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil
}

func TestPipelineCountsExportFailures(t *testing.T) {
	t.Parallel()

	pipeline := NewPipeline(failingSink{}, Config{QueueCapacity: 4})
	pipeline.EmitLog("x", "debug", "x", nil, Correlation{})
	_ = pipeline.Close()

	stats := pipeline.Stats()
	if stats.ExportFailures != 1 || stats.Exported != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

type failingSink struct{}

func (failingSink) Export(context.Context, Event) error {
	return context.DeadlineExceeded
}

func TestDefaultEmitterSwap(t *testing.T) {
	sink := NewMemorySink()
	pipeline := NewPipeline(sink, Config{})
	SetDefaultEmitter(pipeline)
	defer SetDefaultEmitter(nil)

	DefaultEmitter().EmitLog("swapped", "info", "ok", nil, Correlation{})
	_ = pipeline.Close()

	if len(sink.Events()) != 1 {
		t.Fatalf("expected emission through swapped default, got %d", len(sink.Events()))
	}

	SetDefaultEmitter(nil)
	// Must not panic.
	DefaultEmitter().EmitMetric("noop", 1, "", nil, Correlation{})
}

func TestOTLPHTTPSinkRoutesByKind(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		var envelope struct {
			ServiceName string `json:"service_name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		if envelope.ServiceName != "callsim-server" {
			t.Errorf("unexpected service name %q", envelope.ServiceName)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink, err := NewOTLPHTTPSink(OTLPHTTPSinkConfig{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	metric := Event{Kind: EventKindMetric, Metric: &MetricEvent{Name: "m", Value: 1}}
	logEvent := Event{Kind: EventKindLog, Log: &LogEvent{Name: "l", Severity: "info"}}
	if err := sink.Export(context.Background(), metric); err != nil {
		t.Fatalf("export metric: %v", err)
	}
	if err := sink.Export(context.Background(), logEvent); err != nil {
		t.Fatalf("export log: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 2 || paths[0] != "/v1/metrics" || paths[1] != "/v1/logs" {
		t.Fatalf("unexpected export paths %v", paths)
	}
}

func TestOTLPHTTPSinkRejectsBadEndpoint(t *testing.T) {
	t.Parallel()

	for _, endpoint := range []string{"", "not a url", "relative/path"} {
		if _, err := NewOTLPHTTPSink(OTLPHTTPSinkConfig{Endpoint: endpoint}); err == nil {
			t.Fatalf("expected endpoint %q to be rejected", endpoint)
		}
	}
}

func TestRuntimeConfigFromEnv(t *testing.T) {
	t.Setenv(EnvTelemetryEnabled, "false")
	t.Setenv(EnvTelemetryQueueCapacity, "64")
	t.Setenv(EnvTelemetryExportTimeoutMS, "500")

	cfg, err := RuntimeConfigFromEnv()
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Enabled {
		t.Fatalf("expected disabled")
	}
	if cfg.QueueCapacity != 64 || cfg.ExportTimeoutMS != 500 {
		t.Fatalf("unexpected config %+v", cfg)
	}

	pipeline, err := NewPipelineFromEnv()
	if err != nil {
		t.Fatalf("pipeline from env: %v", err)
	}
	if pipeline != nil {
		t.Fatalf("expected nil pipeline when disabled")
	}
}

func TestRuntimeConfigRejectsBadValues(t *testing.T) {
	t.Setenv(EnvTelemetryEnabled, "maybe")
	if _, err := RuntimeConfigFromEnv(); err == nil {
		t.Fatalf("expected parse error for enabled flag")
	}

	t.Setenv(EnvTelemetryEnabled, "true")
	t.Setenv(EnvTelemetryQueueCapacity, "0")
	if _, err := RuntimeConfigFromEnv(); err == nil {
		t.Fatalf("expected rejection of zero queue capacity")
	}
}

func TestPipelineFromEnvWithEndpoint(t *testing.T) {
	t.Setenv(EnvTelemetryEnabled, "true")
	t.Setenv(EnvTelemetryOTLPHTTPEndpoint, "http://collector.internal:4318")
	t.Setenv(EnvTelemetryQueueCapacity, "")
	t.Setenv(EnvTelemetryExportTimeoutMS, "")

	pipeline, err := NewPipelineFromEnv()
	if err != nil {
		t.Fatalf("pipeline from env: %v", err)
	}
	if pipeline == nil {
		t.Fatalf("expected live pipeline")
	}
	_ = pipeline.Close()
}

func TestEmitNeverBlocks(t *testing.T) {
	t.Parallel()

	pipeline := NewPipeline(blockingSink{release: make(chan struct{})}, Config{QueueCapacity: 1, ExportTimeout: 10 * time.Millisecond})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			pipeline.EmitMetric("m", float64(i), "", nil, Correlation{})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("emission blocked the caller")
	}
	_ = pipeline.Close()
}
