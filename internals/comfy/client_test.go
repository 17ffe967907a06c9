package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Oudwins/comfyrunner/internals/workflow"
)

func TestQueuePromptSendsGraphAndClientID(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/prompt" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"prompt_id":"job-1","number":3,"node_errors":{}}`))
	}))
	defer server.Close()

	client := New(server.URL+"/", WithClientID("client-1"))
	graph := workflow.Graph{"3": {ClassType: "KSampler", Inputs: map[string]any{"seed": 1}}}
	id, err := client.QueuePrompt(context.Background(), graph)
	if err != nil {
		t.Fatalf("QueuePrompt: %v", err)
	}
	if id != "job-1" {
		t.Fatalf("expected job-1, got %q", id)
	}
	if got["client_id"] != "client-1" {
		t.Fatalf("expected client id in body, got %v", got["client_id"])
	}
	prompt, ok := got["prompt"].(map[string]any)
	if !ok || prompt["3"] == nil {
		t.Fatalf("expected graph in body, got %v", got["prompt"])
	}
}

func TestQueuePromptWithoutClientID(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"prompt_id":"job-1"}`))
	}))
	defer server.Close()

	client := New(server.URL)
	if _, err := client.QueuePrompt(context.Background(), workflow.Graph{}); err != nil {
		t.Fatalf("QueuePrompt: %v", err)
	}
	if _, ok := got["client_id"]; ok {
		t.Fatalf("expected no client_id, got %v", got["client_id"])
	}

	first, _ := client.WebSocketURL()
	second, _ := client.WebSocketURL()
	if first == second {
		t.Fatalf("expected a fresh client id per stream, got %s twice", first)
	}
}

func TestQueuePromptMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"number":1}`))
	}))
	defer server.Close()

	_, err := New(server.URL).QueuePrompt(context.Background(), workflow.Graph{})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestQueuePromptAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid prompt"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := New(server.URL).QueuePrompt(context.Background(), workflow.Graph{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected APIError 400, got %v", err)
	}
	if !strings.Contains(apiErr.Error(), "invalid prompt") {
		t.Fatalf("expected body in error, got %q", apiErr.Error())
	}
}

func TestQueuePromptDecodeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer server.Close()

	if _, err := New(server.URL).QueuePrompt(context.Background(), workflow.Graph{}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestHistoryDecodesOutputs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/history/job-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"job-1":{"outputs":{"9":{"images":[{"filename":"x.png","subfolder":"sub","type":"output"}]}},"status":{"status_str":"success","completed":true}}}`))
	}))
	defer server.Close()

	history, err := New(server.URL).History(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	images := history["job-1"].Outputs["9"].Images
	if len(images) != 1 || images[0].Filename != "x.png" || images[0].Subfolder != "sub" {
		t.Fatalf("unexpected images %+v", images)
	}
	if status := history["job-1"].Status; status == nil || !status.Completed {
		t.Fatalf("expected completed status")
	}
}

func TestWebSocketURL(t *testing.T) {
	cases := map[string]string{
		"http://127.0.0.1:8188":     "ws://127.0.0.1:8188/ws?clientId=abc",
		"https://comfy.example.com": "wss://comfy.example.com/ws?clientId=abc",
		"http://host:8188/proxy/":   "ws://host:8188/proxy/ws?clientId=abc",
	}
	for base, want := range cases {
		got, err := New(base, WithClientID("abc")).WebSocketURL()
		if err != nil {
			t.Fatalf("WebSocketURL(%s): %v", base, err)
		}
		if got != want {
			t.Fatalf("WebSocketURL(%s) = %s, want %s", base, got, want)
		}
	}
	if _, err := New("not a url").WebSocketURL(); err == nil {
		t.Fatalf("expected error for url without host")
	}
}

func TestNodeProgressPercent(t *testing.T) {
	value, max, zero := 3.0, 8.0, 0.0
	if pct, ok := (NodeProgress{Value: &value, Max: &max}).Percent(); !ok || pct != 37.5 {
		t.Fatalf("expected 37.5, got %v %v", pct, ok)
	}
	if _, ok := (NodeProgress{Value: &value, Max: &zero}).Percent(); ok {
		t.Fatalf("expected no percent for zero max")
	}
	if _, ok := (NodeProgress{Value: &value}).Percent(); ok {
		t.Fatalf("expected no percent for missing max")
	}
}
