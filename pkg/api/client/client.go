package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is where deployd listens unless configured otherwise.
const DefaultBaseURL = "http://127.0.0.1:5000"

// Client provides typed access to the deploy server for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided server base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	cli := &Client{
		baseURL: strings.TrimRight(trimmed, "/"),
		// Deployments block until the pipeline finishes.
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the server.
type APIError struct {
	Status  int
	Message string
	Step    string
}

func (e APIError) Error() string {
	switch {
	case e.Message == "":
		return fmt.Sprintf("request failed with status %d", e.Status)
	case e.Step != "":
		return fmt.Sprintf("request failed (%d) at %s: %s", e.Status, e.Step, e.Message)
	default:
		return fmt.Sprintf("request failed (%d): %s", e.Status, e.Message)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := extractError(resp.Body)
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// extractError understands both {"error"} and {"success":false,"message","step"}
// bodies.
func extractError(body io.Reader) APIError {
	if body == nil {
		return APIError{}
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return APIError{}
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Step    string `json:"step"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return APIError{Message: strings.TrimSpace(string(data))}
	}
	msg := strings.TrimSpace(payload.Error)
	if msg == "" {
		msg = strings.TrimSpace(payload.Message)
	}
	return APIError{Message: msg, Step: payload.Step}
}

// APIKey fetches the deploy key. The server only answers loopback callers.
func (c *Client) APIKey(ctx context.Context) (string, error) {
	var resp struct {
		APIKey string `json:"api_key"`
	}
	if err := c.do(ctx, http.MethodGet, "/api-key", nil, "", &resp); err != nil {
		return "", err
	}
	return resp.APIKey, nil
}

// DeployResponse is returned by a successful deployment.
type DeployResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	Timestamp    string `json:"timestamp"`
	Count        int    `json:"count"`
	DeploymentID string `json:"deployment_id"`
}

// Deploy triggers the pipeline and waits for it to finish.
func (c *Client) Deploy(ctx context.Context, token string) (DeployResponse, error) {
	var resp DeployResponse
	if err := c.do(ctx, http.MethodPost, "/deploy", nil, token, &resp); err != nil {
		return DeployResponse{}, err
	}
	return resp, nil
}

// Status mirrors the server's status record.
type Status struct {
	LastDeploy  *string `json:"last_deploy"`
	DeployCount int     `json:"deploy_count"`
	LastStatus  string  `json:"last_status"`
	LastMessage string  `json:"last_message"`
}

// Status returns the last deployment outcome.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var resp Status
	if err := c.do(ctx, http.MethodGet, "/status", nil, "", &resp); err != nil {
		return Status{}, err
	}
	return resp, nil
}

// Deployment is one recorded deployment attempt.
type Deployment struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Status      string    `json:"status"`
	Stage       string    `json:"stage"`
	Message     string    `json:"message"`
	Committed   bool      `json:"committed"`
	DeployCount int       `json:"deploy_count"`
}

// History lists recent deployments, newest first. A non-positive limit uses
// the server default.
func (c *Client) History(ctx context.Context, limit int) ([]Deployment, error) {
	path := "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Deployments []Deployment `json:"deployments"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Deployments, nil
}

// Health reports server liveness.
type Health struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var resp Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, "", &resp); err != nil {
		return Health{}, err
	}
	return resp, nil
}
