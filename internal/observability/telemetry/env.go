package telemetry

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// EnvTelemetryEnabled toggles engine telemetry emission.
	EnvTelemetryEnabled = "CALLSIM_TELEMETRY_ENABLED"
	// EnvTelemetryOTLPHTTPEndpoint sets the OTLP/HTTP endpoint base URL.
	EnvTelemetryOTLPHTTPEndpoint = "CALLSIM_TELEMETRY_OTLP_HTTP_ENDPOINT"
	// EnvTelemetryQueueCapacity sets the in-memory queue capacity.
	EnvTelemetryQueueCapacity = "CALLSIM_TELEMETRY_QUEUE_CAPACITY"
	// EnvTelemetryExportTimeoutMS sets export timeout in milliseconds.
	EnvTelemetryExportTimeoutMS = "CALLSIM_TELEMETRY_EXPORT_TIMEOUT_MS"
)

// RuntimeConfig captures env-configured telemetry settings.
type RuntimeConfig struct {
	Enabled          bool
	OTLPHTTPEndpoint string
	QueueCapacity    int
	ExportTimeoutMS  int
}

// RuntimeConfigFromEnv parses telemetry config from environment.
func RuntimeConfigFromEnv() (RuntimeConfig, error) {
	cfg := RuntimeConfig{
		Enabled:          true,
		OTLPHTTPEndpoint: strings.TrimSpace(os.Getenv(EnvTelemetryOTLPHTTPEndpoint)),
		QueueCapacity:    256,
		ExportTimeoutMS:  200,
	}

	if raw := strings.TrimSpace(os.Getenv(EnvTelemetryEnabled)); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return RuntimeConfig{}, fmt.Errorf("%s parse error: %w", EnvTelemetryEnabled, err)
		}
		cfg.Enabled = enabled
	}
	if raw := strings.TrimSpace(os.Getenv(EnvTelemetryQueueCapacity)); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return RuntimeConfig{}, fmt.Errorf("%s must be integer >=1", EnvTelemetryQueueCapacity)
		}
		cfg.QueueCapacity = v
	}
	if raw := strings.TrimSpace(os.Getenv(EnvTelemetryExportTimeoutMS)); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return RuntimeConfig{}, fmt.Errorf("%s must be integer >=1", EnvTelemetryExportTimeoutMS)
		}
		cfg.ExportTimeoutMS = v
	}
	return cfg, nil
}

// NewPipelineFromEnv builds a pipeline per env config. A nil pipeline with a
// nil error means telemetry is disabled.
func NewPipelineFromEnv() (*Pipeline, error) {
	cfg, err := RuntimeConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, nil
	}

	var sink Sink
	if cfg.OTLPHTTPEndpoint != "" {
		otlp, err := NewOTLPHTTPSink(OTLPHTTPSinkConfig{
			Endpoint:    cfg.OTLPHTTPEndpoint,
			ServiceName: "callsim-server",
		})
		if err != nil {
			return nil, err
		}
		sink = otlp
	}

	return NewPipeline(sink, Config{
		QueueCapacity: cfg.QueueCapacity,
		ExportTimeout: time.Duration(cfg.ExportTimeoutMS) * time.Millisecond,
	}), nil
}
