package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/tiger/callsim/api/interview"
	"github.com/tiger/callsim/internal/engine/behavior"
	"github.com/tiger/callsim/internal/engine/lifecycle"
	"github.com/tiger/callsim/internal/engine/provision"
	"github.com/tiger/callsim/internal/engine/registry"
	"github.com/tiger/callsim/internal/engine/run"
	"github.com/tiger/callsim/internal/engine/strategy"
	"github.com/tiger/callsim/internal/observability/telemetry"
)

// Config controls run admission.
type Config struct {
	DefaultDuration time.Duration
	MaxDuration     time.Duration
	Now             func() time.Time
}

func (c Config) withDefaults() Config {
	if c.DefaultDuration <= 0 {
		c.DefaultDuration = 5 * time.Minute
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 30 * time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// StartRequest asks for one new simulated interview run.
type StartRequest struct {
	Scenario        string
	Persona         string
	DurationSeconds int
}

// RunDetail is the full inspection view of one run.
type RunDetail struct {
	Run        interview.RunSnapshot
	Events     []interview.Event
	Transcript []interview.TranscriptEntry
}

// Orchestrator is the engine entry point: it provisions agent profiles,
// establishes the bridged call with strategy fallback, and hands a live run
// to the correlator and lifecycle manager.
type Orchestrator struct {
	cfg         Config
	registry    *registry.Registry
	library     *behavior.Library
	provisioner *provision.Provisioner
	executor    *strategy.Executor
	lifecycle   *lifecycle.Manager
	emitter     telemetry.Emitter
}

// New constructs an orchestrator.
func New(cfg Config, reg *registry.Registry, library *behavior.Library, provisioner *provision.Provisioner, executor *strategy.Executor, lc *lifecycle.Manager, emitter telemetry.Emitter) (*Orchestrator, error) {
	if reg == nil || provisioner == nil || executor == nil || lc == nil {
		return nil, fmt.Errorf("registry, provisioner, executor, and lifecycle are required")
	}
	if library == nil {
		library = behavior.DefaultLibrary()
	}
	if emitter == nil {
		emitter = telemetry.DefaultEmitter()
	}
	return &Orchestrator{
		cfg:         cfg.withDefaults(),
		registry:    reg,
		library:     library,
		provisioner: provisioner,
		executor:    executor,
		lifecycle:   lc,
		emitter:     emitter,
	}, nil
}

// StartRun creates a run, provisions both agent profiles, and establishes
// the bridged call. On any setup failure the run is cleaned up and left in
// the failed state, and the error is returned to the caller.
func (o *Orchestrator) StartRun(ctx context.Context, req StartRequest) (interview.RunSnapshot, error) {
	duration, err := o.resolveDuration(req.DurationSeconds)
	if err != nil {
		return interview.RunSnapshot{}, err
	}
	scripts, err := o.library.Resolve(req.Scenario, req.Persona)
	if err != nil {
		return interview.RunSnapshot{}, err
	}

	rn, err := o.registry.Create(run.Config{
		Scenario: req.Scenario,
		Persona:  req.Persona,
		Duration: duration,
		Now:      o.cfg.Now,
	})
	if err != nil {
		return interview.RunSnapshot{}, err
	}
	rn.Timeline().AppendEvent("run_created", map[string]string{
		"scenario": req.Scenario,
		"persona":  req.Persona,
		"duration": duration.String(),
	})

	// Provision both sides. The network calls run without any run lock
	// held; only the binding writes re-enter run state. A concurrent stop
	// can terminalize the run between steps, so every step re-checks and
	// the orphaned profile from the losing side is deleted here, because
	// the already-spent teardown can no longer see it.
	for _, role := range interview.Roles() {
		if rn.Status().IsTerminal() {
			return rn.Snapshot(), fmt.Errorf("run %s ended during setup", rn.ID())
		}
		resource, err := o.provisioner.CreateAgent(ctx, rn.ID(), role, scripts[role])
		if err != nil {
			rn.Timeline().AppendEvent("provisioning_failed", map[string]string{
				"role":  string(role),
				"error": err.Error(),
			})
			o.lifecycle.Abort(ctx, rn.ID(), "provisioning failed")
			return rn.Snapshot(), err
		}
		if err := rn.SetAgentProfile(role, resource.ID); err != nil {
			_ = o.provisioner.DeleteAgent(ctx, resource.ID)
			o.lifecycle.Abort(ctx, rn.ID(), "provisioning failed")
			return rn.Snapshot(), err
		}
		rn.Timeline().AppendEvent("agent_provisioned", map[string]string{
			"role":             string(role),
			"agent_profile_id": resource.ID,
		})
	}

	if rn.Status().IsTerminal() {
		return rn.Snapshot(), fmt.Errorf("run %s ended during setup", rn.ID())
	}
	if _, err := o.executor.Establish(ctx, rn); err != nil {
		o.lifecycle.Abort(ctx, rn.ID(), "call setup failed")
		return rn.Snapshot(), err
	}

	o.lifecycle.ArmTimeout(rn.ID(), duration)

	snap := rn.Snapshot()
	o.emitter.EmitLog("run_started", "info", req.Scenario, map[string]string{
		"persona": req.Persona,
	}, telemetry.Correlation{RunID: rn.ID(), Strategy: string(snap.Strategy)})
	return snap, nil
}

// StopRun requests explicit termination for a run.
func (o *Orchestrator) StopRun(ctx context.Context, runID string) (bool, error) {
	if _, ok := o.registry.Get(runID); !ok {
		return false, fmt.Errorf("unknown run %q", runID)
	}
	return o.lifecycle.Stop(ctx, runID, "stop requested"), nil
}

// GetRun returns the best-known state of a run, its events, and transcript.
func (o *Orchestrator) GetRun(runID string) (RunDetail, error) {
	rn, ok := o.registry.Get(runID)
	if !ok {
		return RunDetail{}, fmt.Errorf("unknown run %q", runID)
	}
	return RunDetail{
		Run:        rn.Snapshot(),
		Events:     rn.Timeline().Events(),
		Transcript: rn.Timeline().Transcript(),
	}, nil
}

// ListRuns returns snapshots of every run for the process lifetime.
func (o *Orchestrator) ListRuns() []interview.RunSnapshot {
	runs := o.registry.List()
	out := make([]interview.RunSnapshot, 0, len(runs))
	for _, rn := range runs {
		out = append(out, rn.Snapshot())
	}
	return out
}

// Shutdown drains every live run through the lifecycle manager.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.lifecycle.Shutdown(ctx)
}

func (o *Orchestrator) resolveDuration(seconds int) (time.Duration, error) {
	if seconds < 0 {
		return 0, fmt.Errorf("duration_seconds must be >= 0")
	}
	if seconds == 0 {
		return o.cfg.DefaultDuration, nil
	}
	d := time.Duration(seconds) * time.Second
	if d > o.cfg.MaxDuration {
		return 0, fmt.Errorf("duration_seconds exceeds maximum %s", o.cfg.MaxDuration)
	}
	return d, nil
}
