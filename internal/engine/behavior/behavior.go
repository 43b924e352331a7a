package behavior

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tiger/callsim/api/interview"
)

// Script is one role's behavior configuration for an ephemeral agent
// profile: system instructions, voice identity, and opening line.
type Script struct {
	Name           string `yaml:"name"`
	Voice          string `yaml:"voice"`
	Instructions   string `yaml:"instructions"`
	FirstUtterance string `yaml:"first-utterance"`
}

// Scenario represents one scenario YAML file: a base script per role plus
// named persona overlays for the candidate side.
type Scenario struct {
	Scenario    string            `yaml:"scenario"`
	Interviewer Script            `yaml:"interviewer"`
	Candidate   Script            `yaml:"candidate"`
	Personas    map[string]Script `yaml:"personas"`
}

// Validate enforces the scenario contract.
func (s Scenario) Validate() error {
	if strings.TrimSpace(s.Scenario) == "" {
		return fmt.Errorf("scenario name is required")
	}
	if err := validateScript("interviewer", s.Interviewer); err != nil {
		return err
	}
	if err := validateScript("candidate", s.Candidate); err != nil {
		return err
	}
	for name, overlay := range s.Personas {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("scenario %s: persona name must not be empty", s.Scenario)
		}
		if strings.TrimSpace(overlay.Instructions) == "" && strings.TrimSpace(overlay.Voice) == "" {
			return fmt.Errorf("scenario %s: persona %s overrides nothing", s.Scenario, name)
		}
	}
	return nil
}

func validateScript(role string, script Script) error {
	if strings.TrimSpace(script.Instructions) == "" {
		return fmt.Errorf("%s script requires instructions", role)
	}
	if strings.TrimSpace(script.Voice) == "" {
		return fmt.Errorf("%s script requires a voice", role)
	}
	return nil
}

// Load parses and validates one scenario file.
func Load(path string) (Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := sc.Validate(); err != nil {
		return Scenario{}, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}

// Library holds every loaded scenario keyed by name.
type Library struct {
	scenarios map[string]Scenario
}

// LoadDir loads every *.yml / *.yaml scenario under dir.
func LoadDir(dir string) (*Library, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}

	lib := &Library{scenarios: map[string]Scenario{}}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		sc, err := Load(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if _, exists := lib.scenarios[sc.Scenario]; exists {
			return nil, fmt.Errorf("duplicate scenario %q in %s", sc.Scenario, name)
		}
		lib.scenarios[sc.Scenario] = sc
	}
	return lib, nil
}

// NewLibrary wraps pre-built scenarios, used by tests and the default set.
func NewLibrary(scenarios ...Scenario) (*Library, error) {
	lib := &Library{scenarios: map[string]Scenario{}}
	for _, sc := range scenarios {
		if err := sc.Validate(); err != nil {
			return nil, err
		}
		if _, exists := lib.scenarios[sc.Scenario]; exists {
			return nil, fmt.Errorf("duplicate scenario %q", sc.Scenario)
		}
		lib.scenarios[sc.Scenario] = sc
	}
	return lib, nil
}

// Scenarios lists loaded scenario names in sorted order.
func (l *Library) Scenarios() []string {
	out := make([]string, 0, len(l.scenarios))
	for name := range l.scenarios {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Resolve returns the per-role scripts for a scenario, with the named
// persona overlay applied to the candidate side. Empty persona selects the
// base candidate script.
func (l *Library) Resolve(scenario, persona string) (map[interview.Role]Script, error) {
	sc, ok := l.scenarios[scenario]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q", scenario)
	}

	candidate := sc.Candidate
	if strings.TrimSpace(persona) != "" {
		overlay, ok := sc.Personas[persona]
		if !ok {
			return nil, fmt.Errorf("scenario %q has no persona %q", scenario, persona)
		}
		candidate = applyOverlay(candidate, overlay)
	}

	return map[interview.Role]Script{
		interview.RoleInterviewer: sc.Interviewer,
		interview.RoleCandidate:   candidate,
	}, nil
}

func applyOverlay(base, overlay Script) Script {
	out := base
	if strings.TrimSpace(overlay.Name) != "" {
		out.Name = overlay.Name
	}
	if strings.TrimSpace(overlay.Voice) != "" {
		out.Voice = overlay.Voice
	}
	if strings.TrimSpace(overlay.Instructions) != "" {
		out.Instructions = overlay.Instructions
	}
	if strings.TrimSpace(overlay.FirstUtterance) != "" {
		out.FirstUtterance = overlay.FirstUtterance
	}
	return out
}

// DefaultLibrary returns the built-in interview scenario used when no
// scenario directory is configured.
func DefaultLibrary() *Library {
	lib, err := NewLibrary(Scenario{
		Scenario: "general-screen",
		Interviewer: Script{
			Name:           "Interviewer",
			Voice:          "Joanna",
			Instructions:   "You are a friendly technical interviewer running a thirty minute phone screen. Ask one question at a time, follow up on vague answers, and keep the conversation moving.",
			FirstUtterance: "Hi, thanks for taking the time to talk today. Ready to get started?",
		},
		Candidate: Script{
			Name:         "Candidate",
			Voice:        "Matthew",
			Instructions: "You are a software engineering candidate on a phone screen. Answer questions concisely and honestly, and ask clarifying questions when a prompt is ambiguous.",
		},
		Personas: map[string]Script{
			"nervous": {
				Instructions: "You are a nervous software engineering candidate. Hesitate before answering, occasionally ask for questions to be repeated, and understate your experience.",
			},
			"confident": {
				Instructions: "You are a confident senior engineering candidate. Answer with concrete examples from past projects and push back when a premise seems wrong.",
			},
		},
	})
	if err != nil {
		panic(err)
	}
	return lib
}
