package behavior

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiger/callsim/api/interview"
)

const scenarioYAML = `scenario: backend-screen
interviewer:
  name: Interviewer
  voice: Joanna
  instructions: Run a backend-focused phone screen.
  first-utterance: Hi, ready to start?
candidate:
  name: Candidate
  voice: Matthew
  instructions: Answer as a backend engineer.
personas:
  terse:
    instructions: Answer in as few words as possible.
  spanish:
    voice: Lucia
    instructions: Answer in Spanish.
`

func writeScenario(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadScenarioFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeScenario(t, dir, "backend.yaml", scenarioYAML)

	sc, err := Load(filepath.Join(dir, "backend.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "backend-screen", sc.Scenario)
	assert.Equal(t, "Joanna", sc.Interviewer.Voice)
	assert.Len(t, sc.Personas, 2)
}

func TestLoadRejectsInvalidScenario(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeScenario(t, dir, "bad.yaml", "scenario: broken\ninterviewer:\n  voice: Joanna\n")

	_, err := Load(filepath.Join(dir, "bad.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instructions")
}

func TestLoadDirSkipsNonYAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeScenario(t, dir, "backend.yaml", scenarioYAML)
	writeScenario(t, dir, "notes.txt", "not a scenario")

	lib, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"backend-screen"}, lib.Scenarios())
}

func TestLoadDirRejectsDuplicates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeScenario(t, dir, "a.yaml", scenarioYAML)
	writeScenario(t, dir, "b.yaml", scenarioYAML)

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate scenario")
}

func TestResolveAppliesPersonaOverlay(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeScenario(t, dir, "backend.yaml", scenarioYAML)
	lib, err := LoadDir(dir)
	require.NoError(t, err)

	scripts, err := lib.Resolve("backend-screen", "spanish")
	require.NoError(t, err)

	candidate := scripts[interview.RoleCandidate]
	assert.Equal(t, "Lucia", candidate.Voice, "overlay voice should win")
	assert.Equal(t, "Answer in Spanish.", candidate.Instructions)
	assert.Equal(t, "Candidate", candidate.Name, "base name survives when overlay omits it")
	assert.Equal(t, "Joanna", scripts[interview.RoleInterviewer].Voice, "interviewer unaffected by persona")
}

func TestResolveBaseCandidateWhenPersonaEmpty(t *testing.T) {
	t.Parallel()

	lib := DefaultLibrary()
	scripts, err := lib.Resolve("general-screen", "")
	require.NoError(t, err)
	assert.Equal(t, "Matthew", scripts[interview.RoleCandidate].Voice)
}

func TestResolveUnknownNames(t *testing.T) {
	t.Parallel()

	lib := DefaultLibrary()

	_, err := lib.Resolve("no-such-scenario", "")
	require.Error(t, err)

	_, err = lib.Resolve("general-screen", "no-such-persona")
	require.Error(t, err)
}

func TestDefaultLibraryPersonas(t *testing.T) {
	t.Parallel()

	lib := DefaultLibrary()
	for _, persona := range []string{"nervous", "confident"} {
		scripts, err := lib.Resolve("general-screen", persona)
		require.NoError(t, err, persona)
		assert.NotEmpty(t, scripts[interview.RoleCandidate].Instructions)
	}
}
