package core

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Oudwins/comfyrunner/internals/conf"
	"github.com/Oudwins/comfyrunner/internals/env"
)

func testConfig(t *testing.T) *conf.Config {
	t.Helper()
	dir := t.TempDir()
	return &conf.Config{
		Version: "test",
		Server:  conf.ServerConfig{DataDir: dir},
		Comfy: conf.ComfyConfig{
			URL:          "http://127.0.0.1:1",
			OutputDir:    filepath.Join(dir, "output"),
			WorkflowPath: filepath.Join(dir, "workflow_api.json"),
			LogFile:      filepath.Join(dir, "comfyui.log"),
		},
	}
}

func newBase(t *testing.T, config *conf.Config) *BaseServer {
	t.Helper()
	var out bytes.Buffer
	base, err := NewWithConfig(context.Background(), config, &env.EnvStruct{}, NewLogger(&out, true))
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = base.Close(ctx)
	})
	return base
}

func TestMissingTemplateIsNotFatal(t *testing.T) {
	config := testConfig(t)
	base := newBase(t, config)

	if _, _, err := base.Template(); !errors.Is(err, ErrNoTemplate) {
		t.Fatalf("expected ErrNoTemplate, got %v", err)
	}

	template := `{
		"3": {"class_type": "KSampler", "inputs": {"positive": ["6", 0], "negative": ["7", 0], "latent_image": ["5", 0]}},
		"5": {"class_type": "EmptyLatentImage", "inputs": {"width": 512, "height": 512}},
		"6": {"class_type": "CLIPTextEncode", "inputs": {"text": ""}},
		"7": {"class_type": "CLIPTextEncode", "inputs": {"text": ""}},
		"9": {"class_type": "SaveImage", "inputs": {"filename_prefix": "x"}}
	}`
	if err := os.WriteFile(config.Comfy.WorkflowPath, []byte(template), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := base.ReloadTemplate(); err != nil {
		t.Fatalf("ReloadTemplate: %v", err)
	}
	graph, roles, err := base.Template()
	if err != nil {
		t.Fatalf("Template: %v", err)
	}
	if len(graph) != 5 || len(roles) < 5 {
		t.Fatalf("unexpected template %d nodes, %d roles", len(graph), len(roles))
	}
}

func TestHistoryCreatedUnderDataDir(t *testing.T) {
	config := testConfig(t)
	newBase(t, config)
	if _, err := os.Stat(filepath.Join(config.Server.DataDir, "history.db")); err != nil {
		t.Fatalf("expected history database: %v", err)
	}
}

func TestStartUpstreamPipesOutput(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no shell available")
	}
	config := testConfig(t)
	config.Comfy.Command = []string{"/bin/sh", "-c", "echo ready; echo oops 1>&2"}
	base := newBase(t, config)

	if err := base.StartUpstream(); err != nil {
		t.Fatalf("StartUpstream: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		text, _ := base.ProcLog.Tail(0)
		if strings.Contains(text, "[stdout] ready") && strings.Contains(text, "[stderr] oops") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected tagged process output in %s", config.Comfy.LogFile)
}

func TestStartUpstreamWithoutCommand(t *testing.T) {
	base := newBase(t, testConfig(t))
	if err := base.StartUpstream(); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}
