package interview

import (
	"fmt"
	"time"
)

// RunStatus is the normalized test-run lifecycle state.
type RunStatus string

const (
	RunStarting   RunStatus = "starting"
	RunConnecting RunStatus = "connecting"
	RunActive     RunStatus = "active"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed
}

// Role identifies one side of the simulated conversation.
type Role string

const (
	RoleInterviewer Role = "interviewer"
	RoleCandidate   Role = "candidate"
)

// Roles returns both conversation roles in deterministic order.
func Roles() []Role {
	return []Role{RoleInterviewer, RoleCandidate}
}

// Validate enforces the two-role contract.
func (r Role) Validate() error {
	switch r {
	case RoleInterviewer, RoleCandidate:
		return nil
	default:
		return fmt.Errorf("invalid role: %q", r)
	}
}

// ParticipantStatus is one side's connection lifecycle state.
type ParticipantStatus string

const (
	ParticipantPending      ParticipantStatus = "pending"
	ParticipantConnecting   ParticipantStatus = "connecting"
	ParticipantConnected    ParticipantStatus = "connected"
	ParticipantDisconnected ParticipantStatus = "disconnected"
)

// CallStrategy identifies one supported way to establish the bridged call.
type CallStrategy string

const (
	StrategyDirect CallStrategy = "direct"
	StrategyRelay  CallStrategy = "relay"
)

// ResourceKind classifies an ephemeral external resource.
type ResourceKind string

const (
	ResourceAgentProfile ResourceKind = "agent_profile"
	ResourceCallLeg      ResourceKind = "call_leg"
	ResourceConference   ResourceKind = "conference"
)

// ExternalResource addresses one provider-owned ephemeral object for cleanup.
type ExternalResource struct {
	Kind ResourceKind `json:"kind"`
	ID   string       `json:"id"`
}

// Validate enforces resource addressability.
func (r ExternalResource) Validate() error {
	switch r.Kind {
	case ResourceAgentProfile, ResourceCallLeg, ResourceConference:
	default:
		return fmt.Errorf("invalid resource kind: %q", r.Kind)
	}
	if r.ID == "" {
		return fmt.Errorf("resource id is required")
	}
	return nil
}

// Event is one immutable run-timeline record.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      string            `json:"type"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// TranscriptEntry is one immutable utterance record.
type TranscriptEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Final     bool      `json:"final"`
}

// ParticipantSnapshot is the read-only view of one participant binding.
type ParticipantSnapshot struct {
	Role           Role              `json:"role"`
	AgentProfileID string            `json:"agent_profile_id,omitempty"`
	CallID         string            `json:"call_id,omitempty"`
	Status         ParticipantStatus `json:"status"`
	ConnectedAt    *time.Time        `json:"connected_at,omitempty"`
	DisconnectedAt *time.Time        `json:"disconnected_at,omitempty"`
}

// RunSnapshot is the read-only view of a run returned by the control API.
type RunSnapshot struct {
	RunID           string                       `json:"run_id"`
	Scenario        string                       `json:"scenario"`
	Persona         string                       `json:"persona"`
	Status          RunStatus                    `json:"status"`
	Strategy        CallStrategy                 `json:"strategy,omitempty"`
	ConferenceID    string                       `json:"conference_id,omitempty"`
	CreatedAt       time.Time                    `json:"created_at"`
	EndedAt         *time.Time                   `json:"ended_at,omitempty"`
	DurationSeconds int64                        `json:"duration_seconds"`
	Participants    map[Role]ParticipantSnapshot `json:"participants"`
}
