package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tiger/callsim/api/interview"
	"github.com/tiger/callsim/internal/engine/registry"
	"github.com/tiger/callsim/internal/engine/run"
	"github.com/tiger/callsim/providers/convai"
	"github.com/tiger/callsim/providers/telephony"
)

// ExhaustedError indicates every call strategy was attempted and rejected.
type ExhaustedError struct {
	Attempts []AttemptFailure
}

// AttemptFailure records one strategy's synchronous rejection.
type AttemptFailure struct {
	Strategy interview.CallStrategy
	Err      error
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", attempt.Strategy, attempt.Err))
	}
	return "all call strategies exhausted: " + strings.Join(parts, "; ")
}

// IsExhausted reports whether err is a strategy exhaustion.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}

// AgentCallAPI places a call from one hosted agent to a destination.
type AgentCallAPI interface {
	CreateCall(ctx context.Context, agentProfileID, destination string) (convai.Call, error)
}

// LegAPI places and ends telephony legs.
type LegAPI interface {
	PlaceCall(ctx context.Context, req telephony.PlaceCallRequest) (telephony.Call, error)
	EndCall(ctx context.Context, callID string) error
}

// Config controls strategy execution.
type Config struct {
	// CallerID is the From number for telephony legs.
	CallerID string
	// AgentAddressTemplate formats an agent profile id into its externally
	// reachable dial address, e.g. "sip:%s@agents.example.com".
	AgentAddressTemplate string
	// JoinRetries bounds relay leg-2 attempts when the bridge is not yet up.
	JoinRetries int
	// JoinRetryDelay is the pause between bridge-join attempts.
	JoinRetryDelay time.Duration
	// Sleep is injectable for tests; defaults to a timer-based wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c Config) withDefaults() Config {
	if c.CallerID == "" {
		c.CallerID = "+15550100000"
	}
	if c.AgentAddressTemplate == "" {
		c.AgentAddressTemplate = "sip:%s@agents.invalid"
	}
	if c.JoinRetries < 1 {
		c.JoinRetries = 3
	}
	if c.JoinRetryDelay <= 0 {
		c.JoinRetryDelay = 250 * time.Millisecond
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
	return c
}

// Result reports an established strategy's external bindings.
type Result struct {
	Strategy     interview.CallStrategy
	ConferenceID string
	CallIDs      map[interview.Role]string
}

// Executor establishes the bridged call using the first viable strategy
// from a statically ordered list: direct agent-to-agent, then a telephony
// conference relay. Only a synchronous rejection advances the list; later
// webhook failures never re-enter strategy selection.
type Executor struct {
	cfg      Config
	agents   AgentCallAPI
	legs     LegAPI
	registry *registry.Registry
}

// New constructs an executor.
func New(cfg Config, agents AgentCallAPI, legs LegAPI, reg *registry.Registry) (*Executor, error) {
	if agents == nil {
		return nil, fmt.Errorf("agent call api is required")
	}
	if legs == nil {
		return nil, fmt.Errorf("leg api is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	return &Executor{cfg: cfg.withDefaults(), agents: agents, legs: legs, registry: reg}, nil
}

// Establish attempts each strategy in order against a run in the starting
// state. On success the chosen strategy and leg ids are written into the
// run and it moves to connecting. On exhaustion the run is left in starting
// for the caller to fail and clean up.
func (e *Executor) Establish(ctx context.Context, rn *run.Run) (Result, error) {
	interviewer, ok := rn.Participant(interview.RoleInterviewer)
	if !ok || interviewer.AgentProfileID == "" {
		return Result{}, fmt.Errorf("run %s: interviewer agent is not provisioned", rn.ID())
	}
	candidate, ok := rn.Participant(interview.RoleCandidate)
	if !ok || candidate.AgentProfileID == "" {
		return Result{}, fmt.Errorf("run %s: candidate agent is not provisioned", rn.ID())
	}

	var attempts []AttemptFailure
	for _, attempt := range []struct {
		strategy  interview.CallStrategy
		establish func(context.Context, *run.Run, run.Participant, run.Participant) (Result, error)
	}{
		{strategy: interview.StrategyDirect, establish: e.establishDirect},
		{strategy: interview.StrategyRelay, establish: e.establishRelay},
	} {
		rn.Timeline().AppendEvent("strategy_attempted", map[string]string{"strategy": string(attempt.strategy)})

		result, err := attempt.establish(ctx, rn, interviewer, candidate)
		if err != nil {
			rn.Timeline().AppendEvent("strategy_failed", map[string]string{
				"strategy": string(attempt.strategy),
				"error":    err.Error(),
			})
			attempts = append(attempts, AttemptFailure{Strategy: attempt.strategy, Err: err})
			continue
		}

		if err := e.commit(ctx, rn, result); err != nil {
			return Result{}, err
		}
		rn.Timeline().AppendEvent("strategy_selected", map[string]string{"strategy": string(result.Strategy)})
		return result, nil
	}

	return Result{}, &ExhaustedError{Attempts: attempts}
}

// establishDirect instructs the interviewer's agent to place an outbound
// call straight to the candidate agent's reachable address.
func (e *Executor) establishDirect(ctx context.Context, rn *run.Run, interviewer, candidate run.Participant) (Result, error) {
	call, err := e.agents.CreateCall(ctx, interviewer.AgentProfileID, e.agentAddress(candidate.AgentProfileID))
	if err != nil {
		return Result{}, err
	}
	return Result{
		Strategy: interview.StrategyDirect,
		CallIDs:  map[interview.Role]string{interview.RoleInterviewer: call.ID},
	}, nil
}

// establishRelay places two telephony legs into a provider conference. The
// first leg starts the bridge; the second joins it once it exists.
func (e *Executor) establishRelay(ctx context.Context, rn *run.Run, interviewer, candidate run.Participant) (Result, error) {
	conferenceID := "conf-" + rn.ID()

	first, err := e.legs.PlaceCall(ctx, telephony.PlaceCallRequest{
		To:              e.agentAddress(interviewer.AgentProfileID),
		From:            e.cfg.CallerID,
		ConferenceID:    conferenceID,
		StartConference: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("relay leg 1: %w", err)
	}

	second, err := e.placeJoinLeg(ctx, rn, conferenceID, e.agentAddress(candidate.AgentProfileID))
	if err != nil {
		// Leg 1 exists externally; record it so teardown can end it. When
		// the run already terminalized, teardown has run and will never see
		// the leg, so end it here.
		if recordErr := rn.SetCallID(interview.RoleInterviewer, first.ID); recordErr != nil {
			_ = e.legs.EndCall(ctx, first.ID)
		} else {
			_ = e.registry.Bind(first.ID, registry.Ref{RunID: rn.ID(), Role: interview.RoleInterviewer, Kind: interview.ResourceCallLeg})
		}
		return Result{}, fmt.Errorf("relay leg 2: %w", err)
	}

	return Result{
		Strategy:     interview.StrategyRelay,
		ConferenceID: conferenceID,
		CallIDs: map[interview.Role]string{
			interview.RoleInterviewer: first.ID,
			interview.RoleCandidate:   second.ID,
		},
	}, nil
}

// placeJoinLeg retries the second relay leg while the bridge is still
// coming up. Bridge-not-ready is a retryable race, not a strategy failure.
func (e *Executor) placeJoinLeg(ctx context.Context, rn *run.Run, conferenceID, destination string) (telephony.Call, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.JoinRetries; attempt++ {
		call, err := e.legs.PlaceCall(ctx, telephony.PlaceCallRequest{
			To:           destination,
			From:         e.cfg.CallerID,
			ConferenceID: conferenceID,
		})
		if err == nil {
			return call, nil
		}
		if !errors.Is(err, telephony.ErrConferenceNotReady) {
			return telephony.Call{}, err
		}
		lastErr = err
		rn.Timeline().AppendEvent("bridge_join_retry", map[string]string{
			"conference_id": conferenceID,
			"attempt":       fmt.Sprintf("%d", attempt),
		})
		if sleepErr := e.cfg.Sleep(ctx, e.cfg.JoinRetryDelay); sleepErr != nil {
			return telephony.Call{}, sleepErr
		}
	}
	return telephony.Call{}, fmt.Errorf("bridge never became ready: %w", lastErr)
}

func (e *Executor) commit(ctx context.Context, rn *run.Run, result Result) error {
	var bound []string
	unwind := func(err error) error {
		// The run terminalized while the legs were being placed; teardown
		// has already run and cannot see them, so end them here and drop
		// whatever index entries this commit made.
		for _, id := range bound {
			e.registry.Unbind(id)
		}
		for _, callID := range result.CallIDs {
			_ = e.legs.EndCall(ctx, callID)
		}
		return err
	}

	for role, callID := range result.CallIDs {
		if err := rn.SetCallID(role, callID); err != nil {
			return unwind(err)
		}
		if err := e.registry.Bind(callID, registry.Ref{RunID: rn.ID(), Role: role, Kind: interview.ResourceCallLeg}); err != nil {
			return unwind(err)
		}
		bound = append(bound, callID)
	}
	if result.ConferenceID != "" {
		if err := e.registry.Bind(result.ConferenceID, registry.Ref{RunID: rn.ID(), Kind: interview.ResourceConference}); err != nil {
			return unwind(err)
		}
		bound = append(bound, result.ConferenceID)
	}
	if err := rn.BeginStrategy(result.Strategy, result.ConferenceID); err != nil {
		return unwind(err)
	}
	return nil
}

func (e *Executor) agentAddress(profileID string) string {
	return fmt.Sprintf(e.cfg.AgentAddressTemplate, profileID)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
