package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Oudwins/comfyrunner/internals/conf"
	"github.com/Oudwins/comfyrunner/internals/env"
	"github.com/Oudwins/comfyrunner/internals/testutil"
	"github.com/Oudwins/comfyrunner/runnerd/core"
)

const templateJSON = `{
  "3": {"class_type": "KSampler", "inputs": {"seed": 1, "steps": 20, "cfg": 7.0, "sampler_name": "euler", "scheduler": "normal", "denoise": 1.0,
        "model": ["4", 0], "positive": ["6", 0], "negative": ["7", 0], "latent_image": ["5", 0]}},
  "4": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "base.safetensors"}},
  "5": {"class_type": "EmptyLatentImage", "inputs": {"width": 512, "height": 512, "batch_size": 1}},
  "6": {"class_type": "CLIPTextEncode", "inputs": {"text": "", "clip": ["4", 1]}},
  "7": {"class_type": "CLIPTextEncode", "inputs": {"text": "", "clip": ["4", 1]}},
  "9": {"class_type": "SaveImage", "inputs": {"filename_prefix": "ComfyUI", "images": ["8", 0]}}
}`

type harness struct {
	server *Server
	http   *httptest.Server
	fake   *testutil.FakeComfy
	config *conf.Config
}

func testConfig(t *testing.T, fake *testutil.FakeComfy) *conf.Config {
	t.Helper()
	dir := t.TempDir()
	workflowPath := filepath.Join(dir, "workflow_api.json")
	if err := os.WriteFile(workflowPath, []byte(templateJSON), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	return &conf.Config{
		Version: "test",
		Server:  conf.ServerConfig{DataDir: dir},
		Comfy: conf.ComfyConfig{
			URL:            fake.URL(),
			OutputDir:      fake.OutputDir,
			CheckpointsDir: filepath.Join(dir, "checkpoints"),
			WorkflowPath:   workflowPath,
			LogFile:        filepath.Join(dir, "comfyui.log"),
		},
		Catalog: conf.CatalogConfig{
			ResolutionsPath: filepath.Join(dir, "resolutions.json"),
			PresetsPath:     filepath.Join(dir, "presets.yaml"),
		},
		Prompt: conf.PromptConfig{Timezone: "Asia/Tokyo"},
		Timing: conf.TimingConfig{
			ReconnectAfterClose: "20ms",
			ReconnectAfterError: "20ms",
			DialRetry:           "20ms",
			HistoryPoll:         "10ms",
			SettleSample:        "5ms",
			SettlePacing:        "5ms",
		},
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fake := testutil.NewFakeComfy(t)
	config := testConfig(t, fake)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	base, err := core.NewWithConfig(context.Background(), config, &env.EnvStruct{PORT: 0}, logger)
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	s := NewWithBase(base)
	s.now = func() time.Time { return time.Date(2024, 3, 9, 20, 0, 0, 0, time.UTC) }
	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = base.Close(ctx)
	})
	return &harness{server: s, http: ts, fake: fake, config: config}
}

func (h *harness) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		payload, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, h.http.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: expected status %d, got %d: %s", resp.Request.Method, resp.Request.URL.Path, want, resp.StatusCode, body)
	}
}
