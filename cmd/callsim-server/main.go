package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tiger/callsim/internal/engine/behavior"
	"github.com/tiger/callsim/internal/engine/correlate"
	"github.com/tiger/callsim/internal/engine/lifecycle"
	"github.com/tiger/callsim/internal/engine/orchestrator"
	"github.com/tiger/callsim/internal/engine/provision"
	"github.com/tiger/callsim/internal/engine/registry"
	"github.com/tiger/callsim/internal/engine/strategy"
	"github.com/tiger/callsim/internal/httpapi"
	"github.com/tiger/callsim/internal/observability/telemetry"
	"github.com/tiger/callsim/providers/convai"
	"github.com/tiger/callsim/providers/telephony"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "callsim-server: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, _ io.Writer) error {
	flags := flag.NewFlagSet("callsim-server", flag.ContinueOnError)
	addr := flags.String("addr", ":8080", "listen address for the control API and webhooks")
	scenarioDir := flags.String("scenarios", "", "directory of scenario YAML files (built-in set when empty)")
	defaultDuration := flags.Duration("default-duration", 5*time.Minute, "run duration bound when the request omits one")
	maxDuration := flags.Duration("max-duration", 30*time.Minute, "maximum accepted run duration bound")
	shutdownGrace := flags.Duration("shutdown-grace", 30*time.Second, "bound on draining live runs at exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cleanupTelemetry, err := setupTelemetry()
	if err != nil {
		return err
	}
	defer cleanupTelemetry()

	library := behavior.DefaultLibrary()
	if *scenarioDir != "" {
		library, err = behavior.LoadDir(*scenarioDir)
		if err != nil {
			return err
		}
	}

	convaiClient, err := convai.New(convai.ConfigFromEnv())
	if err != nil {
		return err
	}
	telephonyClient, err := telephony.New(telephony.ConfigFromEnv())
	if err != nil {
		return err
	}

	reg := registry.New()

	var voices provision.VoiceValidator
	if region := strings.TrimSpace(os.Getenv("CALLSIM_POLLY_REGION")); region != "" {
		voices = provision.NewPollyVoiceValidator(region)
	}
	provisioner, err := provision.New(convaiClient, voices, reg)
	if err != nil {
		return err
	}

	executor, err := strategy.New(strategy.Config{
		CallerID:             os.Getenv("CALLSIM_CALLER_ID"),
		AgentAddressTemplate: os.Getenv("CALLSIM_AGENT_ADDRESS_TEMPLATE"),
	}, convaiClient, telephonyClient, reg)
	if err != nil {
		return err
	}

	emitter := telemetry.DefaultEmitter()
	lc, err := lifecycle.New(lifecycle.Config{ShutdownGrace: *shutdownGrace}, reg, provisioner, telephonyClient, emitter)
	if err != nil {
		return err
	}
	engine, err := orchestrator.New(orchestrator.Config{
		DefaultDuration: *defaultDuration,
		MaxDuration:     *maxDuration,
	}, reg, library, provisioner, executor, lc, emitter)
	if err != nil {
		return err
	}
	correlator, err := correlate.New(correlate.Config{}, reg, lc, emitter)
	if err != nil {
		return err
	}
	handler, err := httpapi.New(engine, correlator, emitter)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:    *addr,
		Handler: handler.Mux(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()
	fmt.Fprintf(stdout, "callsim-server listening on %s (scenarios: %s)\n", *addr, strings.Join(library.Scenarios(), ", "))

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	// Drain every live run through teardown before exit, then close the
	// HTTP surface.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownGrace+5*time.Second)
	defer cancel()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(stdout, "callsim-server: shutdown drain incomplete: %v\n", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func setupTelemetry() (func(), error) {
	previous := telemetry.DefaultEmitter()

	pipeline, err := telemetry.NewPipelineFromEnv()
	if err != nil {
		return nil, fmt.Errorf("telemetry setup failed: %w", err)
	}
	if pipeline == nil {
		return func() {
			telemetry.SetDefaultEmitter(previous)
		}, nil
	}

	telemetry.SetDefaultEmitter(pipeline)
	return func() {
		_ = pipeline.Close()
		telemetry.SetDefaultEmitter(previous)
	}, nil
}
