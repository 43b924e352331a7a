package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/tiger/callsim/api/interview"
	"github.com/tiger/callsim/internal/engine/behavior"
	"github.com/tiger/callsim/internal/engine/registry"
	"github.com/tiger/callsim/providers/convai"
)

// ProvisioningError indicates the external provider rejected or could not
// serve an agent profile creation. Fatal to the owning run.
type ProvisioningError struct {
	Role   interview.Role
	Reason string
	Err    error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning %s agent failed: %s: %v", e.Role, e.Reason, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// IsProvisioningError reports whether err is a provisioning rejection.
func IsProvisioningError(err error) bool {
	var pe *ProvisioningError
	return errors.As(err, &pe)
}

// AgentAPI is the conversational-AI resource surface the provisioner needs.
type AgentAPI interface {
	CreateAgentProfile(ctx context.Context, req convai.AgentProfileRequest) (convai.AgentProfile, error)
	DeleteAgentProfile(ctx context.Context, profileID string) error
}

// Provisioner creates and deletes ephemeral agent profiles for runs and
// keeps the reverse index in step with what exists externally.
type Provisioner struct {
	agents   AgentAPI
	voices   VoiceValidator
	registry *registry.Registry
}

// New constructs a provisioner. The voice validator is optional; when nil,
// voice ids are passed through unchecked.
func New(agents AgentAPI, voices VoiceValidator, reg *registry.Registry) (*Provisioner, error) {
	if agents == nil {
		return nil, fmt.Errorf("agent api is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	return &Provisioner{agents: agents, voices: voices, registry: reg}, nil
}

// CreateAgent provisions one ephemeral agent profile for a run role and
// registers its id in the reverse index. The network call runs without any
// run lock held; only the index write follows.
func (p *Provisioner) CreateAgent(ctx context.Context, runID string, role interview.Role, script behavior.Script) (interview.ExternalResource, error) {
	if err := role.Validate(); err != nil {
		return interview.ExternalResource{}, err
	}
	if p.voices != nil {
		if err := p.voices.ValidateVoice(ctx, script.Voice); err != nil {
			return interview.ExternalResource{}, &ProvisioningError{Role: role, Reason: "voice validation", Err: err}
		}
	}

	name := script.Name
	if name == "" {
		name = string(role)
	}
	profile, err := p.agents.CreateAgentProfile(ctx, convai.AgentProfileRequest{
		Name:           fmt.Sprintf("%s-%s", name, runID),
		Instructions:   script.Instructions,
		Voice:          script.Voice,
		FirstUtterance: script.FirstUtterance,
	})
	if err != nil {
		reason := "provider unreachable"
		var apiErr *convai.APIError
		if errors.As(err, &apiErr) {
			reason = "provider rejection"
		}
		return interview.ExternalResource{}, &ProvisioningError{Role: role, Reason: reason, Err: err}
	}

	resource := interview.ExternalResource{Kind: interview.ResourceAgentProfile, ID: profile.ID}
	if err := p.registry.Bind(profile.ID, registry.Ref{RunID: runID, Role: role, Kind: interview.ResourceAgentProfile}); err != nil {
		// The profile exists externally but the run vanished; delete rather
		// than leak it.
		_ = p.agents.DeleteAgentProfile(ctx, profile.ID)
		return interview.ExternalResource{}, &ProvisioningError{Role: role, Reason: "index binding", Err: err}
	}
	return resource, nil
}

// DeleteAgent removes an agent profile and its reverse-index entry. It is
// best-effort and idempotent: the returned error is for the caller's event
// log only and must never fail a teardown path.
func (p *Provisioner) DeleteAgent(ctx context.Context, profileID string) error {
	if profileID == "" {
		return nil
	}
	err := p.agents.DeleteAgentProfile(ctx, profileID)
	p.registry.Unbind(profileID)
	if err != nil {
		return fmt.Errorf("delete agent profile %s: %w", profileID, err)
	}
	return nil
}
