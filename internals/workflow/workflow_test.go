package workflow

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func loadFixture(t *testing.T) Graph {
	t.Helper()
	graph, err := Load(filepath.Join("testdata", "sdxl_api.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return graph
}

func testParams() Params {
	return Params{
		Positive:       "a lighthouse at dusk",
		Negative:       "blurry",
		Width:          832,
		Height:         1216,
		Steps:          30,
		CFG:            6.5,
		SamplerName:    "dpmpp_2m",
		Scheduler:      "karras",
		Denoise:        0.9,
		Seed:           1234,
		ModelName:      "sdxl.safetensors",
		ClipSkip:       -2,
		FilenamePrefix: "260101",
	}
}

func TestDiscoverRoles(t *testing.T) {
	roles := DiscoverRoles(loadFixture(t))
	want := Roles{
		RoleSampler:          "3",
		RoleCheckpointLoader: "4",
		RoleLatentImage:      "5",
		RolePositiveEncoder:  "6",
		RoleNegativeEncoder:  "7",
		RoleImageSaver:       "9",
		RoleClipSkip:         "10",
	}
	if !reflect.DeepEqual(roles, want) {
		t.Fatalf("expected %v, got %v", want, roles)
	}
}

func TestDiscoverRolesIgnoresNonEncoderLinks(t *testing.T) {
	graph := Graph{
		"1": {ClassType: "KSampler", Inputs: map[string]any{"positive": []any{"2", float64(0)}}},
		"2": {ClassType: "ConditioningCombine", Inputs: map[string]any{}},
	}
	roles := DiscoverRoles(graph)
	if _, ok := roles[RolePositiveEncoder]; ok {
		t.Fatalf("expected no positive encoder, got %v", roles)
	}
	if roles[RoleSampler] != "1" {
		t.Fatalf("expected sampler 1, got %v", roles)
	}
}

func TestBuildNeverMutatesTemplate(t *testing.T) {
	template := loadFixture(t)
	before, err := template.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}

	for _, params := range []Params{testParams(), {}, {Positive: "x", ModelName: "m"}} {
		if _, err := Build(template, DiscoverRoles(template), params); err != nil {
			t.Fatalf("Build: %v", err)
		}
	}
	if !reflect.DeepEqual(template, before) {
		t.Fatalf("template was mutated")
	}
}

func TestBuildOverwritesInputs(t *testing.T) {
	template := loadFixture(t)
	graph, err := Build(template, DiscoverRoles(template), testParams())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	sampler := graph["3"].Inputs
	if sampler["seed"] != int64(1234) || sampler["steps"] != 30 || sampler["cfg"] != 6.5 {
		t.Fatalf("unexpected sampler inputs %v", sampler)
	}
	if sampler["sampler_name"] != "dpmpp_2m" || sampler["scheduler"] != "karras" || sampler["denoise"] != 0.9 {
		t.Fatalf("unexpected sampler inputs %v", sampler)
	}
	if _, ok := sampler["model"].([]any); !ok {
		t.Fatalf("expected links to survive, got %v", sampler["model"])
	}
	if latent := graph["5"].Inputs; latent["width"] != 832 || latent["height"] != 1216 {
		t.Fatalf("unexpected latent inputs %v", latent)
	}
	if graph["9"].Inputs["filename_prefix"] != "260101" {
		t.Fatalf("unexpected prefix %v", graph["9"].Inputs)
	}
	if graph["4"].Inputs["ckpt_name"] != "sdxl.safetensors" {
		t.Fatalf("unexpected checkpoint %v", graph["4"].Inputs)
	}
	if graph["10"].Inputs["stop_at_clip_layer"] != -2 {
		t.Fatalf("unexpected clip skip %v", graph["10"].Inputs)
	}
}

func TestBuildWritesEveryTextField(t *testing.T) {
	template := loadFixture(t)
	graph, err := Build(template, DiscoverRoles(template), testParams())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	positive := graph["6"].Inputs
	if positive["text_g"] != "a lighthouse at dusk" || positive["text_l"] != "a lighthouse at dusk" {
		t.Fatalf("expected global/local text set, got %v", positive)
	}
	if _, ok := positive["text"]; ok {
		t.Fatalf("expected no text field added to SDXL encoder, got %v", positive)
	}
	if graph["7"].Inputs["text"] != "blurry" {
		t.Fatalf("expected negative text set, got %v", graph["7"].Inputs)
	}
}

func TestBuildDefaultsToTextField(t *testing.T) {
	template := loadFixture(t)
	node := template["7"]
	node.Inputs = map[string]any{"clip": []any{"10", float64(0)}}
	template["7"] = node

	graph, err := Build(template, DiscoverRoles(template), testParams())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if graph["7"].Inputs["text"] != "blurry" {
		t.Fatalf("expected text field written, got %v", graph["7"].Inputs)
	}
}

func TestBuildKeepsCheckpointWhenModelEmpty(t *testing.T) {
	template := loadFixture(t)
	params := testParams()
	params.ModelName = ""
	graph, err := Build(template, DiscoverRoles(template), params)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if graph["4"].Inputs["ckpt_name"] != "base.safetensors" {
		t.Fatalf("expected template checkpoint kept, got %v", graph["4"].Inputs)
	}
}

func TestBuildRejectsBadRoles(t *testing.T) {
	template := loadFixture(t)
	roles := DiscoverRoles(template)
	delete(roles, RoleImageSaver)
	if _, err := Build(template, roles, testParams()); !errors.Is(err, ErrMissingRole) {
		t.Fatalf("expected ErrMissingRole, got %v", err)
	}

	roles = DiscoverRoles(template)
	roles[RoleSampler] = "404"
	if _, err := Build(template, roles, testParams()); !errors.Is(err, ErrMissingNode) {
		t.Fatalf("expected ErrMissingNode, got %v", err)
	}

	roles = DiscoverRoles(template)
	roles[RoleClipSkip] = "404"
	if _, err := Build(template, roles, testParams()); !errors.Is(err, ErrMissingNode) {
		t.Fatalf("expected ErrMissingNode for optional role, got %v", err)
	}
}

func TestParseRejectsEmptyGraph(t *testing.T) {
	if _, err := Parse([]byte(`{}`)); err == nil {
		t.Fatalf("expected empty graph error")
	}
	if _, err := Parse([]byte(`[`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestRandomSeedInRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		seed := RandomSeed()
		if seed < 0 || seed > MaxSeed {
			t.Fatalf("seed out of range: %d", seed)
		}
	}
}

func TestDatePrefixUsesLocation(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	at := time.Date(2026, 1, 31, 20, 0, 0, 0, time.UTC)
	if got := DatePrefix(at, tokyo); got != "260201" {
		t.Fatalf("expected 260201, got %s", got)
	}
	if got := DatePrefix(at, nil); got != "260131" {
		t.Fatalf("expected 260131, got %s", got)
	}
}
