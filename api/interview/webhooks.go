package interview

import "fmt"

// CallStatus is the telephony provider's per-leg status vocabulary.
type CallStatus string

const (
	CallRinging   CallStatus = "ringing"
	CallAnswered  CallStatus = "answered"
	CallCompleted CallStatus = "completed"
	CallBusy      CallStatus = "busy"
	CallNoAnswer  CallStatus = "no-answer"
)

// IsTerminal reports whether the leg status ends the leg.
func (s CallStatus) IsTerminal() bool {
	return s == CallCompleted || s == CallBusy || s == CallNoAnswer
}

// CallStatusEvent is the telephony leg-status webhook shape.
type CallStatusEvent struct {
	CallID string     `json:"call_id"`
	Status CallStatus `json:"status"`
}

// Validate enforces the leg-status contract.
func (e CallStatusEvent) Validate() error {
	if e.CallID == "" {
		return fmt.Errorf("call_id is required")
	}
	switch e.Status {
	case CallRinging, CallAnswered, CallCompleted, CallBusy, CallNoAnswer:
		return nil
	default:
		return fmt.Errorf("invalid call status: %q", e.Status)
	}
}

// ConferenceEventKind is the telephony conference lifecycle vocabulary.
type ConferenceEventKind string

const (
	ConferenceStart ConferenceEventKind = "start"
	ConferenceEnd   ConferenceEventKind = "end"
	ConferenceJoin  ConferenceEventKind = "join"
	ConferenceLeave ConferenceEventKind = "leave"
)

// ConferenceStatusEvent is the telephony conference-status webhook shape.
type ConferenceStatusEvent struct {
	ConferenceID string              `json:"conference_id"`
	Event        ConferenceEventKind `json:"event"`
	CallID       string              `json:"call_id,omitempty"`
}

// Validate enforces the conference-status contract.
func (e ConferenceStatusEvent) Validate() error {
	if e.ConferenceID == "" {
		return fmt.Errorf("conference_id is required")
	}
	switch e.Event {
	case ConferenceStart, ConferenceEnd, ConferenceJoin, ConferenceLeave:
		return nil
	default:
		return fmt.Errorf("invalid conference event: %q", e.Event)
	}
}

// RecordingStatusEvent is the telephony recording webhook shape. The engine
// only logs these.
type RecordingStatusEvent struct {
	CallID      string `json:"call_id"`
	RecordingID string `json:"recording_id"`
	Status      string `json:"status"`
}

// AgentEventType is the conversational-AI provider's webhook vocabulary.
type AgentEventType string

const (
	AgentCallStarted AgentEventType = "call-started"
	AgentCallEnded   AgentEventType = "call-ended"
	AgentTranscript  AgentEventType = "transcript"
)

// AgentEvent is the conversational-AI webhook shape. Transcript events carry
// text, a speaker-role hint, and a finality flag; lifecycle events carry only
// identifiers.
type AgentEvent struct {
	Type           AgentEventType `json:"type"`
	AgentProfileID string         `json:"agent_profile_id,omitempty"`
	CallID         string         `json:"call_id,omitempty"`
	Role           Role           `json:"role,omitempty"`
	Text           string         `json:"text,omitempty"`
	Final          bool           `json:"final,omitempty"`
}

// Validate enforces the conversational-AI webhook contract.
func (e AgentEvent) Validate() error {
	switch e.Type {
	case AgentCallStarted, AgentCallEnded, AgentTranscript:
	default:
		return fmt.Errorf("invalid agent event type: %q", e.Type)
	}
	if e.AgentProfileID == "" && e.CallID == "" {
		return fmt.Errorf("agent_profile_id or call_id is required")
	}
	if e.Type == AgentTranscript {
		if err := e.Role.Validate(); err != nil {
			return fmt.Errorf("transcript event: %w", err)
		}
		if e.Text == "" {
			return fmt.Errorf("transcript event requires text")
		}
	}
	return nil
}
