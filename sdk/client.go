package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Oudwins/comfyrunner/internals/env"
	"github.com/Oudwins/comfyrunner/internals/history"
	"github.com/Oudwins/comfyrunner/internals/schemas"
	"github.com/Oudwins/comfyrunner/internals/timeouts"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

var ErrShutdownUnsupported = errors.New("shutdown unsupported")

// ErrNotSaved is returned by Submit while the previous job is still running.
var ErrNotSaved = errors.New("image not saved yet")

type ErrorResponse struct {
	Status  string              `json:"status"`
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Errors     map[string][]string
}

func (e *APIError) Error() string {
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("unexpected status: %d", e.StatusCode)
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewClient(opts ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: timeouts.SecondDefault,
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.baseURL == "" {
		client.baseURL = strings.TrimRight(env.Get().BASE_URL, "/")
	}
	return client
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Version(ctx context.Context) (string, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/version", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", responseError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(body)), nil
}

func (c *Client) Shutdown(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/shutdown", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrShutdownUnsupported
	}
	return responseError(resp)
}

func (c *Client) Submit(ctx context.Context, request schemas.SubmitRequest) (*schemas.JobSummary, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/jobs", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return nil, fmt.Errorf("%w: %w", ErrNotSaved, responseError(resp))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, responseError(resp)
	}

	var payload schemas.JobSummary
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) History(ctx context.Context, limit int) ([]history.Job, error) {
	path := "/jobs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var payload []history.Job
	if err := c.getJSON(ctx, path, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *Client) Job(ctx context.Context, jobID string) (*schemas.JobStatus, error) {
	var payload schemas.JobStatus
	if err := c.getJSON(ctx, "/jobs/"+url.PathEscape(jobID), &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// WaitJob blocks until jobID is saved, for at most wait, and returns it.
func (c *Client) WaitJob(ctx context.Context, jobID string, wait time.Duration) (*schemas.JobStatus, error) {
	var payload schemas.JobStatus
	path := "/jobs/" + url.PathEscape(jobID) + "?wait=" + url.QueryEscape(wait.String())
	if err := c.withWait(wait).getJSON(ctx, path, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) SessionJobs(ctx context.Context) ([]schemas.JobStatus, error) {
	var payload []schemas.JobStatus
	if err := c.getJSON(ctx, "/session/jobs", &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *Client) LastSaved(ctx context.Context) (bool, error) {
	var payload schemas.LastSavedResponse
	if err := c.getJSON(ctx, "/jobs/last-saved", &payload); err != nil {
		return false, err
	}
	return payload.Saved, nil
}

// Latest returns the newest saved image path. A positive wait blocks until
// the next job is saved or wait passes.
func (c *Client) Latest(ctx context.Context, wait time.Duration) (string, error) {
	path := "/jobs/latest"
	if wait > 0 {
		path += "?wait=" + url.QueryEscape(wait.String())
	}
	var payload schemas.LatestResponse
	if err := c.withWait(wait).getJSON(ctx, path, &payload); err != nil {
		return "", err
	}
	return payload.Path, nil
}

// withWait returns a client whose timeout also covers a server-side wait.
func (c *Client) withWait(wait time.Duration) *Client {
	if wait <= 0 {
		return c
	}
	copied := *c.httpClient
	copied.Timeout = wait + c.httpClient.Timeout
	return &Client{baseURL: c.baseURL, httpClient: &copied}
}

func (c *Client) ResetSession(ctx context.Context) (int, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/session/reset", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, responseError(resp)
	}
	var payload schemas.ResetResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, err
	}
	return payload.Cleared, nil
}

func (c *Client) WebSocketLog(ctx context.Context) (string, error) {
	var payload schemas.LogsResponse
	if err := c.getJSON(ctx, "/logs/ws", &payload); err != nil {
		return "", err
	}
	return payload.Text, nil
}

func (c *Client) ServerLog(ctx context.Context) (string, error) {
	var payload schemas.LogsResponse
	if err := c.getJSON(ctx, "/logs/server", &payload); err != nil {
		return "", err
	}
	return payload.Text, nil
}

func (c *Client) Checkpoints(ctx context.Context) (*schemas.CheckpointsResponse, error) {
	var payload schemas.CheckpointsResponse
	if err := c.getJSON(ctx, "/checkpoints", &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) Resolutions(ctx context.Context) (*schemas.ResolutionsResponse, error) {
	var payload schemas.ResolutionsResponse
	if err := c.getJSON(ctx, "/resolutions", &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) Presets(ctx context.Context) (*schemas.PresetsResponse, error) {
	var payload schemas.PresetsResponse
	if err := c.getJSON(ctx, "/presets", &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

func responseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var payload ErrorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Code != "" {
		return &APIError{StatusCode: resp.StatusCode, Code: payload.Code, Message: payload.Message, Errors: payload.Errors}
	}

	return fmt.Errorf("unexpected status: %s", resp.Status)
}
