package correlate

import (
	"context"
	"fmt"
	"time"

	"github.com/tiger/callsim/api/interview"
	"github.com/tiger/callsim/internal/engine/registry"
	"github.com/tiger/callsim/internal/engine/run"
	"github.com/tiger/callsim/internal/observability/telemetry"
)

// Terminator drives a run's single teardown path.
type Terminator interface {
	Stop(ctx context.Context, runID, reason string) bool
}

// Config controls correlation behavior.
type Config struct {
	Now func() time.Time
}

// Correlator maps inbound provider notifications to the owning run and
// participant and applies the corresponding state transition. It never
// returns an error to the webhook layer: unresolvable or malformed events
// are logged and dropped so providers always get an acknowledgment.
type Correlator struct {
	registry   *registry.Registry
	terminator Terminator
	emitter    telemetry.Emitter
	now        func() time.Time
}

// New constructs a correlator.
func New(cfg Config, reg *registry.Registry, terminator Terminator, emitter telemetry.Emitter) (*Correlator, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if terminator == nil {
		return nil, fmt.Errorf("terminator is required")
	}
	if emitter == nil {
		emitter = telemetry.DefaultEmitter()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Correlator{registry: reg, terminator: terminator, emitter: emitter, now: cfg.Now}, nil
}

// HandleCallStatus applies one telephony leg-status notification.
func (c *Correlator) HandleCallStatus(ctx context.Context, ev interview.CallStatusEvent) {
	if err := ev.Validate(); err != nil {
		c.dropped("call-status", ev.CallID, err.Error())
		return
	}
	ref, rn, ok := c.resolve(ev.CallID)
	if !ok {
		c.dropped("call-status", ev.CallID, "unknown id")
		return
	}

	rn.Timeline().AppendEvent("call_status", map[string]string{
		"call_id": ev.CallID,
		"role":    string(ref.Role),
		"status":  string(ev.Status),
	})

	switch ev.Status {
	case interview.CallRinging:
		// Leg is progressing; the connecting state was already recorded at
		// placement time.
	case interview.CallAnswered:
		if ref.Role != "" {
			_ = rn.MarkConnected(ref.Role, c.now())
		}
	case interview.CallCompleted, interview.CallBusy, interview.CallNoAnswer:
		if ref.Role != "" {
			_ = rn.MarkDisconnected(ref.Role, c.now())
		}
		c.terminator.Stop(ctx, rn.ID(), "leg "+string(ev.Status))
	}
}

// HandleConferenceStatus applies one conference lifecycle notification.
func (c *Correlator) HandleConferenceStatus(ctx context.Context, ev interview.ConferenceStatusEvent) {
	if err := ev.Validate(); err != nil {
		c.dropped("conference-status", ev.ConferenceID, err.Error())
		return
	}
	_, rn, ok := c.resolve(ev.ConferenceID)
	if !ok {
		c.dropped("conference-status", ev.ConferenceID, "unknown id")
		return
	}

	rn.Timeline().AppendEvent("conference_status", map[string]string{
		"conference_id": ev.ConferenceID,
		"event":         string(ev.Event),
		"call_id":       ev.CallID,
	})

	switch ev.Event {
	case interview.ConferenceStart:
		// Bridge is up; the strategy-defining leg is live.
		if ref, ok := c.registry.Resolve(ev.CallID); ok && ref.Role != "" {
			_ = rn.MarkConnected(ref.Role, c.now())
		} else {
			_ = rn.MarkConnected(interview.RoleInterviewer, c.now())
		}
	case interview.ConferenceJoin:
		if ref, ok := c.registry.Resolve(ev.CallID); ok && ref.Role != "" {
			_ = rn.MarkConnected(ref.Role, c.now())
		}
	case interview.ConferenceLeave:
		if ref, ok := c.registry.Resolve(ev.CallID); ok && ref.Role != "" {
			_ = rn.MarkDisconnected(ref.Role, c.now())
		}
	case interview.ConferenceEnd:
		c.terminator.Stop(ctx, rn.ID(), "conference ended")
	}
}

// HandleRecordingStatus logs recording notifications; the engine takes no
// action on them.
func (c *Correlator) HandleRecordingStatus(ev interview.RecordingStatusEvent) {
	_, rn, ok := c.resolve(ev.CallID)
	if !ok {
		c.dropped("recording-status", ev.CallID, "unknown id")
		return
	}
	rn.Timeline().AppendEvent("recording_status", map[string]string{
		"call_id":      ev.CallID,
		"recording_id": ev.RecordingID,
		"status":       ev.Status,
	})
}

// HandleAgentEvent applies one conversational-AI notification.
func (c *Correlator) HandleAgentEvent(ctx context.Context, ev interview.AgentEvent) {
	switch ev.Type {
	case interview.AgentCallStarted, interview.AgentCallEnded, interview.AgentTranscript:
	default:
		// Forward compatibility: provider schema additions are ignored.
		c.emitter.EmitLog("agent_event_ignored", "debug", string(ev.Type), nil, telemetry.Correlation{})
		return
	}
	if err := ev.Validate(); err != nil {
		c.dropped("agent-event", ev.AgentProfileID+ev.CallID, err.Error())
		return
	}

	// Resolve by the most specific id present.
	lookupID := ev.CallID
	if lookupID == "" {
		lookupID = ev.AgentProfileID
	}
	ref, rn, ok := c.resolve(lookupID)
	if !ok && ev.CallID != "" && ev.AgentProfileID != "" {
		ref, rn, ok = c.resolve(ev.AgentProfileID)
	}
	if !ok {
		c.dropped("agent-event", lookupID, "unknown id")
		return
	}

	role := ev.Role
	if role == "" {
		role = ref.Role
	}

	switch ev.Type {
	case interview.AgentCallStarted:
		rn.Timeline().AppendEvent("agent_call_started", map[string]string{
			"agent_profile_id": ev.AgentProfileID,
			"call_id":          ev.CallID,
			"role":             string(role),
		})
		if role != "" {
			_ = rn.MarkConnected(role, c.now())
		}
	case interview.AgentCallEnded:
		rn.Timeline().AppendEvent("agent_call_ended", map[string]string{
			"agent_profile_id": ev.AgentProfileID,
			"call_id":          ev.CallID,
			"role":             string(role),
		})
		if role != "" {
			_ = rn.MarkDisconnected(role, c.now())
		}
		c.terminator.Stop(ctx, rn.ID(), "agent call ended")
	case interview.AgentTranscript:
		rn.Timeline().AppendTranscript(ev.Role, ev.Text, ev.Final)
		rn.Timeline().AppendEvent("transcript", map[string]string{
			"role":  string(ev.Role),
			"final": fmt.Sprintf("%t", ev.Final),
		})
	}
}

// resolve finds the owning run for an external id: reverse index first,
// then a scan of live runs covering the race between resource creation and
// webhook delivery.
func (c *Correlator) resolve(externalID string) (registry.Ref, *run.Run, bool) {
	if externalID == "" {
		return registry.Ref{}, nil, false
	}
	if ref, ok := c.registry.Resolve(externalID); ok {
		if rn, ok := c.registry.Get(ref.RunID); ok {
			return ref, rn, true
		}
		return registry.Ref{}, nil, false
	}

	// Degraded path: index miss, scan active runs for an embedded match.
	for _, rn := range c.registry.Live() {
		snap := rn.Snapshot()
		if snap.ConferenceID == externalID {
			return registry.Ref{RunID: rn.ID(), Kind: interview.ResourceConference}, rn, true
		}
		for role, p := range snap.Participants {
			if p.AgentProfileID == externalID {
				return registry.Ref{RunID: rn.ID(), Role: role, Kind: interview.ResourceAgentProfile}, rn, true
			}
			if p.CallID == externalID {
				return registry.Ref{RunID: rn.ID(), Role: role, Kind: interview.ResourceCallLeg}, rn, true
			}
		}
	}
	return registry.Ref{}, nil, false
}

func (c *Correlator) dropped(eventKind, externalID, reason string) {
	c.emitter.EmitLog("correlation_miss", "debug", reason, map[string]string{
		"event_kind":  eventKind,
		"external_id": externalID,
	}, telemetry.Correlation{})
	c.emitter.EmitMetric("correlation_miss_total", 1, "", map[string]string{"event_kind": eventKind}, telemetry.Correlation{})
}
