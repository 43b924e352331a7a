package convai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
)

// Config configures the conversational-AI provider client.
type Config struct {
	BaseURL    string
	APIKey     string
	WebhookURL string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// ConfigFromEnv builds a client config from CALLSIM_CONVAI_* variables.
func ConfigFromEnv() Config {
	return Config{
		BaseURL:    strings.TrimSpace(os.Getenv("CALLSIM_CONVAI_BASE_URL")),
		APIKey:     strings.TrimSpace(os.Getenv("CALLSIM_CONVAI_API_KEY")),
		WebhookURL: strings.TrimSpace(os.Getenv("CALLSIM_CONVAI_WEBHOOK_URL")),
		Timeout:    10 * time.Second,
	}
}

// APIError is a synchronous rejection from the provider API.
type APIError struct {
	Operation string
	Status    int
	Body      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("convai %s rejected: status=%d body=%q", e.Operation, e.Status, e.Body)
}

// ErrUnreachable wraps transport-level failures reaching the provider.
var ErrUnreachable = errors.New("convai provider unreachable")

// AgentProfileRequest creates one ephemeral conversational agent profile.
type AgentProfileRequest struct {
	Name           string `json:"name"`
	Instructions   string `json:"instructions"`
	Voice          string `json:"voice"`
	FirstUtterance string `json:"first_utterance,omitempty"`
	WebhookURL     string `json:"webhook_url,omitempty"`
}

// AgentProfile is the provider's created-profile response. The provider
// echoes the requested name back alongside the assigned id.
type AgentProfile struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Call is the provider's outbound-call response.
type Call struct {
	ID string `json:"id"`
}

// Client is a JSON-over-HTTP conversational-AI provider client.
type Client struct {
	cfg    Config
	client *http.Client
}

// New constructs a client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("convai base_url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Client{cfg: cfg, client: client}, nil
}

// CreateAgentProfile provisions one ephemeral agent profile.
func (c *Client) CreateAgentProfile(ctx context.Context, req AgentProfileRequest) (AgentProfile, error) {
	if req.Name == "" || req.Instructions == "" || req.Voice == "" {
		return AgentProfile{}, fmt.Errorf("agent profile name, instructions, and voice are required")
	}
	if req.WebhookURL == "" {
		req.WebhookURL = c.cfg.WebhookURL
	}

	var profile AgentProfile
	if err := c.postJSON(ctx, "create-agent-profile", "/v1/agents", req, &profile); err != nil {
		return AgentProfile{}, err
	}
	if profile.ID == "" {
		return AgentProfile{}, &APIError{Operation: "create-agent-profile", Status: http.StatusOK, Body: "missing agent id"}
	}
	return profile, nil
}

// DeleteAgentProfile removes an agent profile. Deleting an already-deleted
// profile is not an error.
func (c *Client) DeleteAgentProfile(ctx context.Context, profileID string) error {
	if profileID == "" {
		return fmt.Errorf("agent profile id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodDelete, "/v1/agents/"+profileID, nil, "")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Operation: "delete-agent-profile", Status: resp.StatusCode, Body: bodySample(resp.Body)}
	}
	return nil
}

// CreateCall instructs an agent to place an outbound call to a destination.
func (c *Client) CreateCall(ctx context.Context, agentProfileID, destination string) (Call, error) {
	if agentProfileID == "" || destination == "" {
		return Call{}, fmt.Errorf("agent profile id and destination are required")
	}

	body := map[string]string{
		"agent_id":    agentProfileID,
		"destination": destination,
	}
	var call Call
	if err := c.postJSON(ctx, "create-call", "/v1/calls", body, &call); err != nil {
		return Call{}, err
	}
	if call.ID == "" {
		return Call{}, &APIError{Operation: "create-call", Status: http.StatusOK, Body: "missing call id"}
	}
	return call, nil
}

func (c *Client) postJSON(ctx context.Context, operation, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodPost, path, bytes.NewReader(payload), "application/json")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Operation: operation, Status: resp.StatusCode, Body: bodySample(resp.Body)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, normalizeNetworkError(err)
	}
	return resp, nil
}

func normalizeNetworkError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timeout: %w", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("request timeout: %w", err)
	}
	return err
}

func bodySample(reader io.Reader) string {
	const maxBytes = 512
	payload, err := io.ReadAll(io.LimitReader(reader, maxBytes))
	if err != nil {
		return fmt.Sprintf("response_read_error=%v", err)
	}
	return string(payload)
}
