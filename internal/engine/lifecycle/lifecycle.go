package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tiger/callsim/api/interview"
	"github.com/tiger/callsim/internal/engine/registry"
	"github.com/tiger/callsim/internal/engine/run"
	"github.com/tiger/callsim/internal/observability/telemetry"
)

// AgentCleanup deletes ephemeral agent profiles, best-effort.
type AgentCleanup interface {
	DeleteAgent(ctx context.Context, profileID string) error
}

// LegCleanup terminates live telephony/agent call legs, best-effort.
type LegCleanup interface {
	EndCall(ctx context.Context, callID string) error
}

// Config controls lifecycle behavior.
type Config struct {
	// CleanupTimeout bounds each outbound teardown call.
	CleanupTimeout time.Duration
	// ShutdownGrace bounds process-exit draining of live runs.
	ShutdownGrace time.Duration
	Now           func() time.Time
}

func (c Config) withDefaults() Config {
	if c.CleanupTimeout <= 0 {
		c.CleanupTimeout = 10 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Manager owns run timeouts and idempotent termination. Every termination
// trigger (explicit stop, timeout fire, terminal webhook, setup failure)
// converges on one teardown path, executed at most once per run.
type Manager struct {
	cfg      Config
	registry *registry.Registry
	agents   AgentCleanup
	legs     LegCleanup
	emitter  telemetry.Emitter

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New constructs a lifecycle manager.
func New(cfg Config, reg *registry.Registry, agents AgentCleanup, legs LegCleanup, emitter telemetry.Emitter) (*Manager, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if agents == nil {
		return nil, fmt.Errorf("agent cleanup is required")
	}
	if legs == nil {
		return nil, fmt.Errorf("leg cleanup is required")
	}
	if emitter == nil {
		emitter = telemetry.DefaultEmitter()
	}
	return &Manager{
		cfg:      cfg.withDefaults(),
		registry: reg,
		agents:   agents,
		legs:     legs,
		emitter:  emitter,
		timers:   map[string]*time.Timer{},
	}, nil
}

// ArmTimeout schedules deferred termination after the run's duration bound.
// The timer is never cancelled on earlier termination; it fires harmlessly
// against a terminal run and drops its own table entry when it does.
func (m *Manager) ArmTimeout(runID string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.timers[runID]; ok {
		old.Stop()
	}
	m.timers[runID] = time.AfterFunc(d, func() {
		m.mu.Lock()
		delete(m.timers, runID)
		m.mu.Unlock()
		m.Stop(context.Background(), runID, "timeout")
	})
}

// Stop terminates a run: ends live legs, deletes agent profiles, drops
// reverse-index entries, transitions to completed, and records the final
// duration event. Calling Stop on a terminal run is a logged no-op.
func (m *Manager) Stop(ctx context.Context, runID, reason string) bool {
	return m.terminate(ctx, runID, reason, false)
}

// Abort runs the same teardown for a run whose setup failed, leaving it in
// the failed state instead of completed.
func (m *Manager) Abort(ctx context.Context, runID, reason string) bool {
	return m.terminate(ctx, runID, reason, true)
}

func (m *Manager) terminate(ctx context.Context, runID, reason string, failed bool) bool {
	rn, ok := m.registry.Get(runID)
	if !ok {
		return false
	}
	if !rn.BeginTeardown() {
		rn.Timeline().AppendEvent("stop_ignored", map[string]string{
			"reason": reason,
			"status": string(rn.Status()),
		})
		return false
	}

	log := rn.Timeline()
	log.AppendEvent("teardown_started", map[string]string{"reason": reason})

	// Each teardown step is best-effort; a failure is recorded and the
	// remaining steps still run.
	for _, callID := range rn.LiveLegs() {
		if err := m.withCleanupTimeout(ctx, func(ctx context.Context) error {
			return m.legs.EndCall(ctx, callID)
		}); err != nil {
			m.recordCleanupFailure(rn, "end_leg", callID, err)
		}
	}

	for _, resource := range rn.Resources() {
		if resource.Kind != interview.ResourceAgentProfile {
			continue
		}
		if err := m.withCleanupTimeout(ctx, func(ctx context.Context) error {
			return m.agents.DeleteAgent(ctx, resource.ID)
		}); err != nil {
			m.recordCleanupFailure(rn, "delete_agent", resource.ID, err)
		}
	}

	m.registry.UnbindRun(runID)

	endedAt := m.cfg.Now()
	if failed {
		rn.Fail(endedAt)
	} else {
		rn.Complete(endedAt)
	}

	snap := rn.Snapshot()
	elapsed := endedAt.Sub(snap.CreatedAt)
	log.AppendEvent("run_ended", map[string]string{
		"reason":   reason,
		"status":   string(snap.Status),
		"duration": elapsed.String(),
	})
	m.emitter.EmitMetric("run_duration_seconds", elapsed.Seconds(), "s", map[string]string{
		"status": string(snap.Status),
		"reason": reason,
	}, telemetry.Correlation{RunID: runID, Strategy: string(snap.Strategy)})
	m.emitter.EmitLog("run_ended", "info", reason, nil, telemetry.Correlation{RunID: runID})
	return true
}

// Shutdown drives every non-terminal run through Stop in parallel and
// blocks until all finish or the grace period elapses. Armed timers are
// stopped; any that already fired no-op against terminal runs.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for runID, timer := range m.timers {
		timer.Stop()
		delete(m.timers, runID)
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownGrace)
	defer cancel()

	var wg sync.WaitGroup
	for _, rn := range m.registry.Live() {
		wg.Add(1)
		go func(runID string) {
			defer wg.Done()
			m.Stop(ctx, runID, "shutdown")
		}(rn.ID())
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (m *Manager) withCleanupTimeout(ctx context.Context, call func(context.Context) error) error {
	// Teardown calls get their own bounded budget even when the parent
	// context is already cancelled, so shutdown still deletes resources.
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CleanupTimeout)
	defer cancel()
	return call(ctx)
}

func (m *Manager) recordCleanupFailure(rn *run.Run, step, resourceID string, err error) {
	rn.Timeline().AppendEvent("cleanup_failure", map[string]string{
		"step":     step,
		"resource": resourceID,
		"error":    err.Error(),
	})
	m.emitter.EmitLog("cleanup_failure", "warn", err.Error(), map[string]string{
		"step":     step,
		"resource": resourceID,
	}, telemetry.Correlation{RunID: rn.ID()})
}
