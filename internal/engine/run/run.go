package run

import (
	"fmt"
	"sync"
	"time"

	"github.com/tiger/callsim/api/interview"
	"github.com/tiger/callsim/internal/engine/timeline"
)

// Participant is one side's external binding inside a run.
type Participant struct {
	Role           interview.Role
	AgentProfileID string
	CallID         string
	Status         interview.ParticipantStatus
	ConnectedAt    *time.Time
	DisconnectedAt *time.Time
}

// Config controls run construction.
type Config struct {
	Scenario string
	Persona  string
	Duration time.Duration
	Now      func() time.Time
	Timeline timeline.Config
}

// Run is one end-to-end simulated interview session. All state mutation for
// a run is serialized behind its own mutex; once a terminal status is
// reached, state-mutating transitions become no-ops.
type Run struct {
	id        string
	scenario  string
	persona   string
	createdAt time.Time
	duration  time.Duration
	now       func() time.Time
	log       *timeline.Log

	mu           sync.Mutex
	status       interview.RunStatus
	strategy     interview.CallStrategy
	conferenceID string
	endedAt      *time.Time
	tearingDown  bool
	participants map[interview.Role]*Participant
}

// New constructs a run in the starting state with both participants pending.
func New(id string, cfg Config) (*Run, error) {
	if id == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if cfg.Duration <= 0 {
		return nil, fmt.Errorf("run duration bound must be positive")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Timeline.Now == nil {
		cfg.Timeline.Now = cfg.Now
	}
	r := &Run{
		id:           id,
		scenario:     cfg.Scenario,
		persona:      cfg.Persona,
		createdAt:    cfg.Now(),
		duration:     cfg.Duration,
		now:          cfg.Now,
		log:          timeline.NewLog(cfg.Timeline),
		status:       interview.RunStarting,
		participants: map[interview.Role]*Participant{},
	}
	for _, role := range interview.Roles() {
		r.participants[role] = &Participant{Role: role, Status: interview.ParticipantPending}
	}
	return r, nil
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// DurationBound returns the requested maximum run duration.
func (r *Run) DurationBound() time.Duration { return r.duration }

// Timeline returns the run's append-only event/transcript log.
func (r *Run) Timeline() *timeline.Log { return r.log }

// Status returns the current lifecycle status.
func (r *Run) Status() interview.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Strategy returns the chosen call strategy, empty until selected.
func (r *Run) Strategy() interview.CallStrategy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.strategy
}

// BeginStrategy records the selected strategy and moves starting->connecting.
func (r *Run) BeginStrategy(strategy interview.CallStrategy, conferenceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != interview.RunStarting {
		return fmt.Errorf("run %s: cannot begin strategy from state %s", r.id, r.status)
	}
	r.strategy = strategy
	r.conferenceID = conferenceID
	r.status = interview.RunConnecting
	return nil
}

// SetAgentProfile binds an agent profile id to a participant.
func (r *Run) SetAgentProfile(role interview.Role, profileID string) error {
	return r.updateParticipant(role, func(p *Participant) {
		p.AgentProfileID = profileID
	})
}

// SetCallID binds a call/leg id to a participant and marks it connecting.
func (r *Run) SetCallID(role interview.Role, callID string) error {
	return r.updateParticipant(role, func(p *Participant) {
		p.CallID = callID
		if p.Status == interview.ParticipantPending {
			p.Status = interview.ParticipantConnecting
		}
	})
}

// MarkConnected records a participant's answer instant and, on the first
// connect while the run is still connecting, moves the run to active.
func (r *Run) MarkConnected(role interview.Role, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.IsTerminal() {
		return nil
	}
	p, ok := r.participants[role]
	if !ok {
		return fmt.Errorf("run %s: unknown role %q", r.id, role)
	}
	if p.Status != interview.ParticipantConnected {
		p.Status = interview.ParticipantConnected
		connectedAt := at
		p.ConnectedAt = &connectedAt
	}
	if r.status == interview.RunConnecting {
		r.status = interview.RunActive
	}
	return nil
}

// MarkDisconnected records a participant's hangup instant.
func (r *Run) MarkDisconnected(role interview.Role, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.IsTerminal() {
		return nil
	}
	p, ok := r.participants[role]
	if !ok {
		return fmt.Errorf("run %s: unknown role %q", r.id, role)
	}
	if p.Status == interview.ParticipantDisconnected {
		return nil
	}
	p.Status = interview.ParticipantDisconnected
	disconnectedAt := at
	p.DisconnectedAt = &disconnectedAt
	return nil
}

// Complete moves the run to completed. The first call applies the
// transition and records the end time; later calls report applied=false.
func (r *Run) Complete(at time.Time) (applied bool) {
	return r.terminalize(interview.RunCompleted, at)
}

// Fail moves the run to failed from a non-terminal setup state.
func (r *Run) Fail(at time.Time) (applied bool) {
	return r.terminalize(interview.RunFailed, at)
}

// BeginTeardown claims the run's single teardown slot. Exactly one caller
// observes true for the life of the run; terminal runs and concurrent
// teardowns observe false.
func (r *Run) BeginTeardown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tearingDown || r.status.IsTerminal() {
		return false
	}
	r.tearingDown = true
	return true
}

// EndedAt returns the recorded termination instant, nil while live.
func (r *Run) EndedAt() *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.endedAt == nil {
		return nil
	}
	endedAt := *r.endedAt
	return &endedAt
}

// Participant returns a copy of one participant record.
func (r *Run) Participant(role interview.Role) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[role]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Resources lists every external resource currently bound to the run, in
// deterministic role order, for teardown addressing.
func (r *Run) Resources() []interview.ExternalResource {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []interview.ExternalResource
	for _, role := range interview.Roles() {
		p := r.participants[role]
		if p.AgentProfileID != "" {
			out = append(out, interview.ExternalResource{Kind: interview.ResourceAgentProfile, ID: p.AgentProfileID})
		}
		if p.CallID != "" {
			out = append(out, interview.ExternalResource{Kind: interview.ResourceCallLeg, ID: p.CallID})
		}
	}
	if r.conferenceID != "" {
		out = append(out, interview.ExternalResource{Kind: interview.ResourceConference, ID: r.conferenceID})
	}
	return out
}

// LiveLegs lists call ids for participants that are not yet disconnected.
func (r *Run) LiveLegs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for _, role := range interview.Roles() {
		p := r.participants[role]
		if p.CallID != "" && p.Status != interview.ParticipantDisconnected {
			out = append(out, p.CallID)
		}
	}
	return out
}

// Snapshot returns the read-only control-API view of the run.
func (r *Run) Snapshot() interview.RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := interview.RunSnapshot{
		RunID:           r.id,
		Scenario:        r.scenario,
		Persona:         r.persona,
		Status:          r.status,
		Strategy:        r.strategy,
		ConferenceID:    r.conferenceID,
		CreatedAt:       r.createdAt,
		DurationSeconds: int64(r.duration / time.Second),
		Participants:    map[interview.Role]interview.ParticipantSnapshot{},
	}
	if r.endedAt != nil {
		endedAt := *r.endedAt
		snap.EndedAt = &endedAt
	}
	for role, p := range r.participants {
		ps := interview.ParticipantSnapshot{
			Role:           p.Role,
			AgentProfileID: p.AgentProfileID,
			CallID:         p.CallID,
			Status:         p.Status,
		}
		if p.ConnectedAt != nil {
			connectedAt := *p.ConnectedAt
			ps.ConnectedAt = &connectedAt
		}
		if p.DisconnectedAt != nil {
			disconnectedAt := *p.DisconnectedAt
			ps.DisconnectedAt = &disconnectedAt
		}
		snap.Participants[role] = ps
	}
	return snap
}

func (r *Run) terminalize(status interview.RunStatus, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.IsTerminal() {
		return false
	}
	r.status = status
	endedAt := at
	r.endedAt = &endedAt
	return true
}

func (r *Run) updateParticipant(role interview.Role, apply func(*Participant)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.IsTerminal() {
		return fmt.Errorf("run %s: terminal in state %s", r.id, r.status)
	}
	p, ok := r.participants[role]
	if !ok {
		return fmt.Errorf("run %s: unknown role %q", r.id, role)
	}
	apply(p)
	return nil
}
