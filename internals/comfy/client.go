// Package comfy talks to a ComfyUI server: prompt submission, job history and
// the progress event stream.
package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Oudwins/comfyrunner/internals/timeouts"
	"github.com/Oudwins/comfyrunner/internals/workflow"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

var ErrMalformedResponse = errors.New("malformed response")

// APIError is a non-2xx reply from the server.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("comfy api error (%d)", e.StatusCode)
	}
	return fmt.Sprintf("comfy api error (%d): %s", e.StatusCode, body)
}

type Client struct {
	baseURL string
	// clientID routes progress events to one socket. When empty, prompts
	// are sent without a client id and the server broadcasts their events.
	clientID string
	http     *resty.Client
}

type Option func(*Client)

func WithClientID(id string) Option {
	return func(c *Client) {
		if id != "" {
			c.clientID = id
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.SetTimeout(d)
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: resty.New().
			SetTimeout(timeouts.SecondLong).
			SetHeader("Accept", "application/json"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type queueRequest struct {
	Prompt   workflow.Graph `json:"prompt"`
	ClientID string         `json:"client_id,omitempty"`
}

type QueueResponse struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors,omitempty"`
}

// QueuePrompt submits graph and returns the job id the server assigned.
func (c *Client) QueuePrompt(ctx context.Context, graph workflow.Graph) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(queueRequest{Prompt: graph, ClientID: c.clientID}).
		Post(c.baseURL + "/prompt")
	if err != nil {
		return "", fmt.Errorf("failed to queue prompt: %w", err)
	}
	if resp.IsError() {
		return "", &APIError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	var out QueueResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("failed to decode queue response: %w", err)
	}
	if strings.TrimSpace(out.PromptID) == "" {
		return "", fmt.Errorf("%w: missing prompt_id in %q", ErrMalformedResponse, truncate(resp.String(), 200))
	}
	return out.PromptID, nil
}

// History is the /history/{id} payload, keyed by job id.
type History map[string]HistoryEntry

type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
	Status  *HistoryStatus        `json:"status,omitempty"`
}

type HistoryStatus struct {
	StatusStr string `json:"status_str"`
	Completed bool   `json:"completed"`
}

type NodeOutput struct {
	Images []ImageRef `json:"images"`
}

type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

func (c *Client) History(ctx context.Context, jobID string) (History, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get(c.baseURL + "/history/" + url.PathEscape(jobID))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	if resp.IsError() {
		return nil, &APIError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	history := History{}
	if err := json.Unmarshal(resp.Body(), &history); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return history, nil
}

// WebSocketURL is the progress stream endpoint. Without a configured client
// id every call gets a fresh one so concurrent listeners do not replace
// each other's socket.
func (c *Client) WebSocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid comfy url %q: %w", c.baseURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid comfy url %q: missing host", c.baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	clientID := c.clientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	u.RawQuery = url.Values{"clientId": []string{clientID}}.Encode()
	return u.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
