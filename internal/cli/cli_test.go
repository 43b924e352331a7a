package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartCommandPostsRunRequest(t *testing.T) {
	t.Parallel()

	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/runs", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"run_id": "run-1", "status": "connecting"})
	}))
	defer srv.Close()

	server := srv.URL
	cmd := newStartCmd(&server)
	cmd.SetArgs([]string{"--scenario", "general-screen", "--persona", "nervous", "--duration", "120"})
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "general-screen", received["scenario"])
	assert.Equal(t, "nervous", received["persona"])
	assert.Equal(t, float64(120), received["duration_seconds"])
	assert.Contains(t, out.String(), `"run_id": "run-1"`)
}

func TestStopCommandRequiresRunID(t *testing.T) {
	t.Parallel()

	server := "http://unused.invalid"
	cmd := newStopCmd(&server)
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	require.Error(t, cmd.Execute())
}

func TestGetCommandPrintsRun(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/runs/run-1", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"run": map[string]string{"run_id": "run-1"}})
	}))
	defer srv.Close()

	server := srv.URL
	cmd := newGetCmd(&server)
	cmd.SetArgs([]string{"run-1"})
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), `"run_id": "run-1"`)
}

func TestCommandsSurfaceServerErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "unknown run"})
	}))
	defer srv.Close()

	server := srv.URL
	cmd := newGetCmd(&server)
	cmd.SetArgs([]string{"no-such-run"})
	var out bytes.Buffer
	cmd.SetOut(&out)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, out.String(), "unknown run", "error body is still printed")
}

func TestListCommand(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/runs", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"runs": []any{}})
	}))
	defer srv.Close()

	server := srv.URL
	cmd := newListCmd(&server)
	cmd.SetArgs([]string{})
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), `"runs"`)
}
