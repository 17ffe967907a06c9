package schemas

import (
	"testing"
)

func TestSubmitSchemaDefaultsAndTrim(t *testing.T) {
	req := SubmitRequest{Positive: "  a lighthouse  ", Negative: " blurry "}
	if issues := SubmitSchema.Validate(&req); len(issues) > 0 {
		t.Fatalf("expected no issues, got %v", issues)
	}
	if req.Positive != "a lighthouse" || req.Negative != "blurry" {
		t.Fatalf("expected trimmed prompts, got %q %q", req.Positive, req.Negative)
	}
	if req.Width != 1024 || req.Height != 1024 || req.Steps != 20 {
		t.Fatalf("unexpected size/steps defaults %+v", req)
	}
	if req.CFG != 7.5 || req.Denoise != 1.0 || req.ClipSkip != -1 {
		t.Fatalf("unexpected sampler defaults %+v", req)
	}
	if req.SeedMode != SeedRandom {
		t.Fatalf("expected random seed mode, got %q", req.SeedMode)
	}
}

func TestSubmitSchemaRequiresPositive(t *testing.T) {
	req := SubmitRequest{Positive: "   "}
	if issues := SubmitSchema.Validate(&req); len(issues) == 0 {
		t.Fatalf("expected validation issues")
	}
}

func TestSubmitSchemaRejectsOutOfRange(t *testing.T) {
	cases := []SubmitRequest{
		{Positive: "x", Steps: 500},
		{Positive: "x", Denoise: 1.5},
		{Positive: "x", ClipSkip: 3},
		{Positive: "x", SeedMode: "sometimes"},
		{Positive: "x", Resolution: "wide"},
		{Positive: "x", Seed: -5},
	}
	for _, req := range cases {
		req := req
		if issues := SubmitSchema.Validate(&req); len(issues) == 0 {
			t.Fatalf("expected issues for %+v", req)
		}
	}
}

func TestSubmitSchemaAcceptsResolution(t *testing.T) {
	req := SubmitRequest{Positive: "x", Resolution: "832x1216", SeedMode: SeedFixed, Seed: 42}
	if issues := SubmitSchema.Validate(&req); len(issues) > 0 {
		t.Fatalf("expected no issues, got %v", issues)
	}
}
