package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelephonyContract(t *testing.T) {
	t.Parallel()

	contracts, err := NewContracts()
	require.NoError(t, err)

	valid := []string{
		`{"kind":"call-status","call_id":"call-1","status":"answered"}`,
		`{"kind":"conference-status","conference_id":"conf-1","event":"join","call_id":"call-1"}`,
		`{"kind":"recording-status","call_id":"call-1","recording_id":"rec-1","status":"completed"}`,
		`{"kind":"recording-status","call_id":"call-1"}`,
		`{"kind":"future-kind"}`,
	}
	for _, payload := range valid {
		assert.NoError(t, contracts.ValidateTelephony([]byte(payload)), payload)
	}

	invalid := []string{
		`not json`,
		`{}`,
		`{"kind":""}`,
		`{"kind":"call-status"}`,
		`{"kind":"call-status","call_id":"","status":"answered"}`,
		`{"kind":"conference-status","event":"join"}`,
		`{"kind":42}`,
	}
	for _, payload := range invalid {
		assert.Error(t, contracts.ValidateTelephony([]byte(payload)), payload)
	}
}

func TestConvAIContract(t *testing.T) {
	t.Parallel()

	contracts, err := NewContracts()
	require.NoError(t, err)

	valid := []string{
		`{"type":"call-started","agent_profile_id":"agent-1"}`,
		`{"type":"call-ended","call_id":"call-1"}`,
		`{"type":"transcript","agent_profile_id":"agent-1","role":"candidate","text":"Sure."}`,
		`{"type":"future-type","call_id":"call-1"}`,
	}
	for _, payload := range valid {
		assert.NoError(t, contracts.ValidateConvAI([]byte(payload)), payload)
	}

	invalid := []string{
		`{}`,
		`{"type":""}`,
		`{"type":"call-started"}`,
		`{"type":"transcript","agent_profile_id":"agent-1"}`,
		`{"type":"transcript","agent_profile_id":"agent-1","role":"observer","text":"hm"}`,
	}
	for _, payload := range invalid {
		assert.Error(t, contracts.ValidateConvAI([]byte(payload)), payload)
	}
}
