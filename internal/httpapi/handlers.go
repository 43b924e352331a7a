package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tiger/callsim/api/interview"
	"github.com/tiger/callsim/internal/engine/correlate"
	"github.com/tiger/callsim/internal/engine/orchestrator"
	"github.com/tiger/callsim/internal/engine/provision"
	"github.com/tiger/callsim/internal/engine/strategy"
	"github.com/tiger/callsim/internal/observability/telemetry"
)

const maxWebhookBytes = 64 * 1024

// Handler exposes the control API and provider webhook endpoints. Routing
// beyond this mux is out of engine scope.
type Handler struct {
	engine     *orchestrator.Orchestrator
	correlator *correlate.Correlator
	contracts  *Contracts
	emitter    telemetry.Emitter
}

// New constructs the HTTP surface.
func New(engine *orchestrator.Orchestrator, correlator *correlate.Correlator, emitter telemetry.Emitter) (*Handler, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if correlator == nil {
		return nil, fmt.Errorf("correlator is required")
	}
	if emitter == nil {
		emitter = telemetry.DefaultEmitter()
	}
	contracts, err := NewContracts()
	if err != nil {
		return nil, err
	}
	return &Handler{engine: engine, correlator: correlator, contracts: contracts, emitter: emitter}, nil
}

// Mux returns the route table for the engine's HTTP surface.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/runs", h.startRun)
	mux.HandleFunc("POST /api/runs/{id}/stop", h.stopRun)
	mux.HandleFunc("GET /api/runs/{id}", h.getRun)
	mux.HandleFunc("GET /api/runs", h.listRuns)
	mux.HandleFunc("POST /webhooks/telephony", h.telephonyWebhook)
	mux.HandleFunc("POST /webhooks/convai", h.convaiWebhook)
	return mux
}

type startRunRequest struct {
	Scenario        string `json:"scenario"`
	Persona         string `json:"persona"`
	DurationSeconds int    `json:"duration_seconds"`
}

type startRunResponse struct {
	RunID  string              `json:"run_id"`
	Status interview.RunStatus `json:"status"`
	Error  string              `json:"error,omitempty"`
}

func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse request: %w", err))
		return
	}

	snap, err := h.engine.StartRun(r.Context(), orchestrator.StartRequest{
		Scenario:        req.Scenario,
		Persona:         req.Persona,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		if provision.IsProvisioningError(err) || strategy.IsExhausted(err) {
			writeJSON(w, http.StatusBadGateway, startRunResponse{RunID: snap.RunID, Status: snap.Status, Error: err.Error()})
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, startRunResponse{RunID: snap.RunID, Status: snap.Status})
}

func (h *Handler) stopRun(w http.ResponseWriter, r *http.Request) {
	accepted, err := h.engine.StopRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": accepted})
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	detail, err := h.engine.GetRun(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":        detail.Run,
		"events":     detail.Events,
		"transcript": detail.Transcript,
	})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"runs": h.engine.ListRuns()})
}

type telephonyWebhookPayload struct {
	Kind         string `json:"kind"`
	CallID       string `json:"call_id"`
	Status       string `json:"status"`
	ConferenceID string `json:"conference_id"`
	Event        string `json:"event"`
	RecordingID  string `json:"recording_id"`
}

// telephonyWebhook ingests telephony provider notifications. The response
// is always an acknowledgment: a processing failure here must not trigger
// provider-side retry storms.
func (h *Handler) telephonyWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		h.acknowledge(w)
		return
	}
	if err := h.contracts.ValidateTelephony(raw); err != nil {
		h.rejectPayload("telephony", err)
		h.acknowledge(w)
		return
	}

	var payload telephonyWebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.rejectPayload("telephony", err)
		h.acknowledge(w)
		return
	}

	switch payload.Kind {
	case "call-status":
		h.correlator.HandleCallStatus(r.Context(), interview.CallStatusEvent{
			CallID: payload.CallID,
			Status: interview.CallStatus(payload.Status),
		})
	case "conference-status":
		h.correlator.HandleConferenceStatus(r.Context(), interview.ConferenceStatusEvent{
			ConferenceID: payload.ConferenceID,
			Event:        interview.ConferenceEventKind(payload.Event),
			CallID:       payload.CallID,
		})
	case "recording-status":
		h.correlator.HandleRecordingStatus(interview.RecordingStatusEvent{
			CallID:      payload.CallID,
			RecordingID: payload.RecordingID,
			Status:      payload.Status,
		})
	default:
		h.emitter.EmitLog("webhook_kind_ignored", "debug", payload.Kind, map[string]string{
			"provider": "telephony",
		}, telemetry.Correlation{})
	}
	h.acknowledge(w)
}

// convaiWebhook ingests conversational-AI provider notifications.
func (h *Handler) convaiWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		h.acknowledge(w)
		return
	}
	if err := h.contracts.ValidateConvAI(raw); err != nil {
		h.rejectPayload("convai", err)
		h.acknowledge(w)
		return
	}

	var payload interview.AgentEvent
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.rejectPayload("convai", err)
		h.acknowledge(w)
		return
	}
	h.correlator.HandleAgentEvent(r.Context(), payload)
	h.acknowledge(w)
}

func (h *Handler) acknowledge(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *Handler) rejectPayload(provider string, err error) {
	h.emitter.EmitLog("webhook_payload_rejected", "debug", err.Error(), map[string]string{
		"provider": provider,
	}, telemetry.Correlation{})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
