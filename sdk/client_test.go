package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Oudwins/comfyrunner/internals/schemas"
)

func TestClientVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/version" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("  test-version  "))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	version, err := client.Version(ctx)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if version != "test-version" {
		t.Fatalf("expected trimmed version, got %q", version)
	}
}

func TestClientJobFlows(t *testing.T) {
	var submitted schemas.SubmitRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case http.MethodPost + " /jobs":
			_ = json.NewDecoder(r.Body).Decode(&submitted)
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(&schemas.JobSummary{JobID: "job-1", Positive: submitted.Positive, Seed: 7})
		case http.MethodGet + " /jobs/last-saved":
			_ = json.NewEncoder(w).Encode(&schemas.LastSavedResponse{Saved: true})
		case http.MethodGet + " /jobs/latest":
			if r.URL.Query().Get("wait") != "1s" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(&schemas.LatestResponse{Path: "/out/a.png"})
		case http.MethodGet + " /jobs/job-1":
			if r.URL.Query().Get("wait") != "1s" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(&schemas.JobStatus{JobID: "job-1", Generated: true, Saved: true, Paths: []string{"/out/b.png"}})
		case http.MethodPost + " /session/reset":
			_ = json.NewEncoder(w).Encode(&schemas.ResetResponse{Cleared: 2})
		case http.MethodGet + " /logs/ws":
			_ = json.NewEncoder(w).Encode(&schemas.LogsResponse{Text: "WebSocket connected."})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	summary, err := client.Submit(ctx, schemas.SubmitRequest{Positive: "a cat"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if summary.JobID != "job-1" || summary.Positive != "a cat" {
		t.Fatalf("unexpected summary %+v", summary)
	}

	saved, err := client.LastSaved(ctx)
	if err != nil || !saved {
		t.Fatalf("LastSaved: %v %v", saved, err)
	}

	path, err := client.Latest(ctx, time.Second)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if path != "/out/a.png" {
		t.Fatalf("unexpected path %q", path)
	}

	job, err := client.WaitJob(ctx, "job-1", time.Second)
	if err != nil {
		t.Fatalf("WaitJob: %v", err)
	}
	if !job.Saved || len(job.Paths) != 1 || job.Paths[0] != "/out/b.png" {
		t.Fatalf("unexpected job %+v", job)
	}

	cleared, err := client.ResetSession(ctx)
	if err != nil || cleared != 2 {
		t.Fatalf("ResetSession: %d %v", cleared, err)
	}

	text, err := client.WebSocketLog(ctx)
	if err != nil || text != "WebSocket connected." {
		t.Fatalf("WebSocketLog: %q %v", text, err)
	}
}

func TestClientSubmitConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"status":"failed","code":"not_saved","message":"image not saved yet!"}`))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	_, err := client.Submit(context.Background(), schemas.SubmitRequest{Positive: "x"})
	if !errors.Is(err, ErrNotSaved) {
		t.Fatalf("expected ErrNotSaved, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "image not saved yet!" {
		t.Fatalf("expected wrapped APIError, got %v", err)
	}
}

func TestClientValidationErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"failed","code":"validation_failed","message":"Schema validation failed","errors":{"positive":["required"]}}`))
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	_, err := client.Submit(context.Background(), schemas.SubmitRequest{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || len(apiErr.Errors["positive"]) != 1 {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestIsRunning(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0.1.0"))
	}))
	if !IsRunning(server.URL) {
		t.Fatalf("expected running server")
	}
	server.Close()
	if IsRunning(server.URL) {
		t.Fatalf("expected closed server to be reported down")
	}
	if IsRunning("") {
		t.Fatalf("expected empty url to be reported down")
	}
}

func TestWaitForStartGivesUp(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	if waitForStart(context.Background(), url, nil, time.Millisecond) {
		t.Fatalf("expected wait to give up")
	}
}
