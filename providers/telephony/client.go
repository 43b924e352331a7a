package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Config configures the telephony provider client.
type Config struct {
	BaseURL           string
	AccountID         string
	AuthToken         string
	StatusCallbackURL string
	Timeout           time.Duration
	HTTPClient        *http.Client
}

// ConfigFromEnv builds a client config from CALLSIM_TELEPHONY_* variables.
func ConfigFromEnv() Config {
	return Config{
		BaseURL:           strings.TrimSpace(os.Getenv("CALLSIM_TELEPHONY_BASE_URL")),
		AccountID:         strings.TrimSpace(os.Getenv("CALLSIM_TELEPHONY_ACCOUNT_ID")),
		AuthToken:         strings.TrimSpace(os.Getenv("CALLSIM_TELEPHONY_AUTH_TOKEN")),
		StatusCallbackURL: strings.TrimSpace(os.Getenv("CALLSIM_TELEPHONY_STATUS_CALLBACK_URL")),
		Timeout:           10 * time.Second,
	}
}

// APIError is a synchronous rejection from the telephony API.
type APIError struct {
	Operation string
	Status    int
	Body      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telephony %s rejected: status=%d body=%q", e.Operation, e.Status, e.Body)
}

// ErrConferenceNotReady indicates a join was requested before the bridge
// exists. Callers may retry after a short delay.
var ErrConferenceNotReady = errors.New("telephony conference not ready")

// ErrUnreachable wraps transport-level failures reaching the provider.
var ErrUnreachable = errors.New("telephony provider unreachable")

// PlaceCallRequest describes one outbound leg.
type PlaceCallRequest struct {
	To                string
	From              string
	ConferenceID      string
	StartConference   bool
	StatusCallbackURL string
}

// Call is the provider's placed-leg response.
type Call struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Client is a form-encoded REST telephony provider client.
type Client struct {
	cfg    Config
	client *http.Client
}

// New constructs a client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("telephony base_url is required")
	}
	if strings.TrimSpace(cfg.AccountID) == "" {
		return nil, fmt.Errorf("telephony account_id is required")
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

// PlaceCall places one leg. When ConferenceID is set, the leg terminates
// into the named conference; StartConference marks the leg that boots the
// bridge, every other leg joins it.
func (c *Client) PlaceCall(ctx context.Context, req PlaceCallRequest) (Call, error) {
	if req.To == "" || req.From == "" {
		return Call{}, fmt.Errorf("to and from are required")
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	if req.ConferenceID != "" {
		form.Set("ConferenceId", req.ConferenceID)
		form.Set("StartConferenceOnEnter", fmt.Sprintf("%t", req.StartConference))
	}
	callback := req.StatusCallbackURL
	if callback == "" {
		callback = c.cfg.StatusCallbackURL
	}
	if callback != "" {
		form.Set("StatusCallback", callback)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.postForm(ctx, "/accounts/"+c.cfg.AccountID+"/calls", form)
	if err != nil {
		return Call{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return Call{}, fmt.Errorf("%w: %s", ErrConferenceNotReady, bodySample(resp.Body))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Call{}, &APIError{Operation: "place-call", Status: resp.StatusCode, Body: bodySample(resp.Body)}
	}

	var call Call
	if err := json.NewDecoder(resp.Body).Decode(&call); err != nil {
		return Call{}, err
	}
	if call.ID == "" {
		return Call{}, &APIError{Operation: "place-call", Status: resp.StatusCode, Body: "missing call id"}
	}
	return call, nil
}

// EndCall hangs up one leg. Ending an already-completed leg is not an error.
func (c *Client) EndCall(ctx context.Context, callID string) error {
	if callID == "" {
		return fmt.Errorf("call id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	form := url.Values{}
	form.Set("Status", "completed")
	resp, err := c.postForm(ctx, "/accounts/"+c.cfg.AccountID+"/calls/"+callID, form)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Operation: "end-call", Status: resp.StatusCode, Body: bodySample(resp.Body)}
	}
	return nil
}

// CallStatus queries the provider for one leg's current status.
func (c *Client) CallStatus(ctx context.Context, callID string) (Call, error) {
	if callID == "" {
		return Call{}, fmt.Errorf("call id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/accounts/"+c.cfg.AccountID+"/calls/"+callID), nil)
	if err != nil {
		return Call{}, err
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return Call{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Call{}, &APIError{Operation: "call-status", Status: resp.StatusCode, Body: bodySample(resp.Body)}
	}
	var call Call
	if err := json.NewDecoder(resp.Body).Decode(&call); err != nil {
		return Call{}, err
	}
	return call, nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.authorize(req)
	return c.client.Do(req)
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.AuthToken != "" {
		req.SetBasicAuth(c.cfg.AccountID, c.cfg.AuthToken)
	}
}

func bodySample(reader io.Reader) string {
	const maxBytes = 512
	payload, err := io.ReadAll(io.LimitReader(reader, maxBytes))
	if err != nil {
		return fmt.Sprintf("response_read_error=%v", err)
	}
	return string(payload)
}
