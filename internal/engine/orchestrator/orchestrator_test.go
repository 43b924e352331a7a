package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tiger/callsim/api/interview"
	"github.com/tiger/callsim/internal/engine/lifecycle"
	"github.com/tiger/callsim/internal/engine/provision"
	"github.com/tiger/callsim/internal/engine/registry"
	"github.com/tiger/callsim/internal/engine/strategy"
	"github.com/tiger/callsim/providers/convai"
	"github.com/tiger/callsim/providers/telephony"
)

type fakeConvAI struct {
	mu         sync.Mutex
	nextID     int
	deleted    []string
	createErrs []error
	callErr    error
	// beforeCreate, when set, runs outside the lock before the nth profile
	// creation completes.
	beforeCreate func(n int)
}

func (f *fakeConvAI) CreateAgentProfile(_ context.Context, req convai.AgentProfileRequest) (convai.AgentProfile, error) {
	f.mu.Lock()
	hook := f.beforeCreate
	call := f.nextID + 1
	f.mu.Unlock()
	if hook != nil {
		hook(call)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return convai.AgentProfile{}, err
		}
	}
	f.nextID++
	return convai.AgentProfile{ID: fmt.Sprintf("agent-%d", f.nextID), Name: req.Name}, nil
}

func (f *fakeConvAI) DeleteAgentProfile(_ context.Context, profileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, profileID)
	return nil
}

func (f *fakeConvAI) CreateCall(_ context.Context, agentProfileID, _ string) (convai.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callErr != nil {
		return convai.Call{}, f.callErr
	}
	return convai.Call{ID: "direct-" + agentProfileID}, nil
}

type fakeTelephony struct {
	mu      sync.Mutex
	nextID  int
	ended   []string
	callErr error
}

func (f *fakeTelephony) PlaceCall(_ context.Context, _ telephony.PlaceCallRequest) (telephony.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callErr != nil {
		return telephony.Call{}, f.callErr
	}
	f.nextID++
	return telephony.Call{ID: fmt.Sprintf("leg-%d", f.nextID)}, nil
}

func (f *fakeTelephony) EndCall(_ context.Context, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, callID)
	return nil
}

type harness struct {
	orchestrator *Orchestrator
	registry     *registry.Registry
	lifecycle    *lifecycle.Manager
	convai       *fakeConvAI
	telephony    *fakeTelephony
}

func newHarness(t *testing.T, convaiAPI *fakeConvAI, telephonyAPI *fakeTelephony) *harness {
	t.Helper()
	reg := registry.New()
	provisioner, err := provision.New(convaiAPI, nil, reg)
	if err != nil {
		t.Fatalf("provisioner: %v", err)
	}
	executor, err := strategy.New(strategy.Config{
		Sleep: func(context.Context, time.Duration) error { return nil },
	}, convaiAPI, telephonyAPI, reg)
	if err != nil {
		t.Fatalf("executor: %v", err)
	}
	lc, err := lifecycle.New(lifecycle.Config{CleanupTimeout: time.Second}, reg, provisioner, telephonyAPI, nil)
	if err != nil {
		t.Fatalf("lifecycle: %v", err)
	}
	o, err := New(Config{DefaultDuration: time.Minute, MaxDuration: 5 * time.Minute}, reg, nil, provisioner, executor, lc, nil)
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	return &harness{orchestrator: o, registry: reg, lifecycle: lc, convai: convaiAPI, telephony: telephonyAPI}
}

func TestStartRunHappyPath(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeConvAI{}, &fakeTelephony{})
	snap, err := h.orchestrator.StartRun(context.Background(), StartRequest{
		Scenario: "general-screen",
		Persona:  "nervous",
	})
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if snap.Status != interview.RunConnecting {
		t.Fatalf("expected connecting, got %s", snap.Status)
	}
	if snap.Strategy != interview.StrategyDirect {
		t.Fatalf("expected direct strategy, got %s", snap.Strategy)
	}
	for _, role := range interview.Roles() {
		if snap.Participants[role].AgentProfileID == "" {
			t.Fatalf("expected %s agent provisioned", role)
		}
	}

	detail, err := h.orchestrator.GetRun(snap.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	types := map[string]bool{}
	for _, ev := range detail.Events {
		types[ev.Type] = true
	}
	for _, want := range []string{"run_created", "agent_provisioned", "strategy_selected"} {
		if !types[want] {
			t.Fatalf("expected %s event, got %v", want, types)
		}
	}
}

func TestStartRunRejectsUnknownScenario(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeConvAI{}, &fakeTelephony{})
	_, err := h.orchestrator.StartRun(context.Background(), StartRequest{Scenario: "no-such-scenario"})
	if err == nil {
		t.Fatalf("expected unknown scenario to be rejected")
	}
	if got := len(h.orchestrator.ListRuns()); got != 0 {
		t.Fatalf("expected no run created, got %d", got)
	}
}

func TestStartRunRejectsExcessiveDuration(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeConvAI{}, &fakeTelephony{})
	_, err := h.orchestrator.StartRun(context.Background(), StartRequest{
		Scenario:        "general-screen",
		DurationSeconds: int((time.Hour).Seconds()),
	})
	if err == nil {
		t.Fatalf("expected duration above maximum to be rejected")
	}
}

func TestStartRunProvisioningFailureCleansUp(t *testing.T) {
	t.Parallel()

	convaiAPI := &fakeConvAI{createErrs: []error{nil, fmt.Errorf("quota exceeded")}}
	h := newHarness(t, convaiAPI, &fakeTelephony{})

	snap, err := h.orchestrator.StartRun(context.Background(), StartRequest{Scenario: "general-screen"})
	if !provision.IsProvisioningError(err) {
		t.Fatalf("expected provisioning error, got %v", err)
	}
	if snap.Status != interview.RunFailed {
		t.Fatalf("expected failed run, got %s", snap.Status)
	}
	if len(convaiAPI.deleted) != 1 {
		t.Fatalf("expected first agent cleaned up, got %v", convaiAPI.deleted)
	}
	if got := h.registry.IndexSize(); got != 0 {
		t.Fatalf("expected empty reverse index, got %d entries", got)
	}
}

func TestStartRunStopDuringProvisioningLeavesNoOrphans(t *testing.T) {
	t.Parallel()

	convaiAPI := &fakeConvAI{}
	h := newHarness(t, convaiAPI, &fakeTelephony{})

	// End the run between the two profile creations, after its teardown can
	// still see the first profile but not the second.
	convaiAPI.beforeCreate = func(n int) {
		if n != 2 {
			return
		}
		runs := h.orchestrator.ListRuns()
		if len(runs) != 1 {
			t.Errorf("expected one run mid-setup, got %d", len(runs))
			return
		}
		if !h.lifecycle.Stop(context.Background(), runs[0].RunID, "user requested") {
			t.Errorf("expected mid-setup stop to apply")
		}
	}

	_, err := h.orchestrator.StartRun(context.Background(), StartRequest{Scenario: "general-screen"})
	if err == nil {
		t.Fatalf("expected setup to fail once the run ended underneath it")
	}

	convaiAPI.mu.Lock()
	created := convaiAPI.nextID
	deleted := append([]string(nil), convaiAPI.deleted...)
	convaiAPI.mu.Unlock()
	if created != 2 || len(deleted) != 2 {
		t.Fatalf("expected every created profile deleted, created=%d deleted=%v", created, deleted)
	}
	if got := h.registry.IndexSize(); got != 0 {
		t.Fatalf("expected empty reverse index, got %d entries", got)
	}
}

func TestStartRunStrategyExhaustionFailsRun(t *testing.T) {
	t.Parallel()

	convaiAPI := &fakeConvAI{callErr: fmt.Errorf("direct rejected")}
	telephonyAPI := &fakeTelephony{callErr: fmt.Errorf("carrier outage")}
	h := newHarness(t, convaiAPI, telephonyAPI)

	snap, err := h.orchestrator.StartRun(context.Background(), StartRequest{Scenario: "general-screen"})
	if !strategy.IsExhausted(err) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	if snap.Status != interview.RunFailed {
		t.Fatalf("expected failed run, got %s", snap.Status)
	}
	if len(convaiAPI.deleted) != 2 {
		t.Fatalf("expected both agents cleaned up, got %v", convaiAPI.deleted)
	}
}

func TestStopRunTerminatesAndReportsUnknown(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeConvAI{}, &fakeTelephony{})
	snap, err := h.orchestrator.StartRun(context.Background(), StartRequest{Scenario: "general-screen"})
	if err != nil {
		t.Fatalf("start run: %v", err)
	}

	applied, err := h.orchestrator.StopRun(context.Background(), snap.RunID)
	if err != nil || !applied {
		t.Fatalf("expected stop to apply, got applied=%v err=%v", applied, err)
	}

	detail, _ := h.orchestrator.GetRun(snap.RunID)
	if detail.Run.Status != interview.RunCompleted {
		t.Fatalf("expected completed, got %s", detail.Run.Status)
	}

	if _, err := h.orchestrator.StopRun(context.Background(), "no-such-run"); err == nil {
		t.Fatalf("expected unknown run id to error")
	}
}

func TestConcurrentRunsAreIndependent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeConvAI{}, &fakeTelephony{})
	first, err := h.orchestrator.StartRun(context.Background(), StartRequest{Scenario: "general-screen", Persona: "nervous"})
	if err != nil {
		t.Fatalf("start first: %v", err)
	}
	second, err := h.orchestrator.StartRun(context.Background(), StartRequest{Scenario: "general-screen", Persona: "confident"})
	if err != nil {
		t.Fatalf("start second: %v", err)
	}
	if first.RunID == second.RunID {
		t.Fatalf("expected distinct run ids")
	}

	if _, err := h.orchestrator.StopRun(context.Background(), first.RunID); err != nil {
		t.Fatalf("stop first: %v", err)
	}

	firstDetail, _ := h.orchestrator.GetRun(first.RunID)
	secondDetail, _ := h.orchestrator.GetRun(second.RunID)
	if firstDetail.Run.Status != interview.RunCompleted {
		t.Fatalf("expected first completed, got %s", firstDetail.Run.Status)
	}
	if secondDetail.Run.Status != interview.RunConnecting {
		t.Fatalf("expected second untouched, got %s", secondDetail.Run.Status)
	}
}

func TestListRunsIncludesTerminalRuns(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeConvAI{}, &fakeTelephony{})
	snap, err := h.orchestrator.StartRun(context.Background(), StartRequest{Scenario: "general-screen"})
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if _, err := h.orchestrator.StopRun(context.Background(), snap.RunID); err != nil {
		t.Fatalf("stop run: %v", err)
	}

	runs := h.orchestrator.ListRuns()
	if len(runs) != 1 || runs[0].Status != interview.RunCompleted {
		t.Fatalf("expected one completed run in listing, got %+v", runs)
	}
}
