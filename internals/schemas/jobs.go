package schemas

import (
	"strings"

	"github.com/Oudwins/comfyrunner/internals/catalog"
	"github.com/Oudwins/comfyrunner/internals/workflow"

	z "github.com/Oudwins/zog"
)

type SeedMode = string

const (
	SeedRandom SeedMode = "random"
	SeedFixed  SeedMode = "fixed"
)

type SubmitRequest struct {
	Positive       string  `json:"positive" zog:"positive"`
	Negative       string  `json:"negative" zog:"negative"`
	Checkpoint     string  `json:"checkpoint" zog:"checkpoint"`
	Resolution     string  `json:"resolution,omitempty" zog:"resolution"`
	Width          int     `json:"width" zog:"width"`
	Height         int     `json:"height" zog:"height"`
	Preset         string  `json:"preset,omitempty" zog:"preset"`
	SeedMode       string  `json:"seed_mode" zog:"seed_mode"`
	Seed           int64   `json:"seed" zog:"seed"`
	Steps          int     `json:"steps" zog:"steps"`
	CFG            float64 `json:"cfg" zog:"cfg"`
	Denoise        float64 `json:"denoise" zog:"denoise"`
	ClipSkip       int     `json:"clip_skip" zog:"clip_skip"`
	FilenamePrefix string  `json:"filename_prefix,omitempty" zog:"filename_prefix"`
}

var SubmitSchema = z.Struct(z.Shape{
	"Positive":       z.String().Required(z.Message("positive prompt is required")).Trim().Min(1, z.Message("positive prompt is required")),
	"Negative":       z.String().Optional().Trim(),
	"Checkpoint":     z.String().Optional().Trim(),
	"Resolution":     z.String().Optional().Trim().TestFunc(validResolution, z.Message("resolution must look like 832x1216")),
	"Width":          z.Int().Default(1024).GTE(64).LTE(4096),
	"Height":         z.Int().Default(1024).GTE(64).LTE(4096),
	"Preset":         z.String().Optional().Trim(),
	"SeedMode":       z.String().Default(SeedRandom).OneOf([]string{SeedRandom, SeedFixed}),
	"Seed":           z.Int64().GTE(0).LTE(workflow.MaxSeed),
	"Steps":          z.Int().Default(20).GTE(1).LTE(150),
	"CFG":            z.Float64().Default(7.5).GTE(1).LTE(30),
	"Denoise":        z.Float64().Default(1.0).GTE(0).LTE(1),
	"ClipSkip":       z.Int().Default(-1).GTE(-24).LTE(-1),
	"FilenamePrefix": z.String().Optional().Trim(),
})

func validResolution(valPtr *string, ctx z.Ctx) bool {
	if strings.TrimSpace(*valPtr) == "" {
		return true
	}
	_, err := catalog.ParseResolution(*valPtr)
	return err == nil
}

// JobSummary echoes what was submitted, resolved values included.
type JobSummary struct {
	JobID          string  `json:"job_id"`
	Positive       string  `json:"positive"`
	Negative       string  `json:"negative"`
	Checkpoint     string  `json:"checkpoint"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Sampler        string  `json:"sampler"`
	Scheduler      string  `json:"scheduler"`
	Seed           int64   `json:"seed"`
	Steps          int     `json:"steps"`
	CFG            float64 `json:"cfg"`
	Denoise        float64 `json:"denoise"`
	ClipSkip       int     `json:"clip_skip"`
	FilenamePrefix string  `json:"filename_prefix"`
}

func NewJobSummary(jobID string, p workflow.Params) JobSummary {
	return JobSummary{
		JobID:          jobID,
		Positive:       p.Positive,
		Negative:       p.Negative,
		Checkpoint:     p.ModelName,
		Width:          p.Width,
		Height:         p.Height,
		Sampler:        p.SamplerName,
		Scheduler:      p.Scheduler,
		Seed:           p.Seed,
		Steps:          p.Steps,
		CFG:            p.CFG,
		Denoise:        p.Denoise,
		ClipSkip:       p.ClipSkip,
		FilenamePrefix: p.FilenamePrefix,
	}
}

type JobStatus struct {
	JobID        string   `json:"job_id"`
	Generated    bool     `json:"generated"`
	Saved        bool     `json:"saved"`
	Paths        []string `json:"paths"`
	RegisteredAt string   `json:"registered_at"`
}

type LastSavedResponse struct {
	Saved bool `json:"saved"`
}

type LatestResponse struct {
	Path string `json:"path"`
}

type LogsResponse struct {
	Text string `json:"text"`
}

type ResetResponse struct {
	Cleared int `json:"cleared"`
}

type CheckpointsResponse struct {
	Checkpoints []string `json:"checkpoints"`
	Error       string   `json:"error,omitempty"`
}

type ResolutionsResponse struct {
	Resolutions []catalog.Resolution `json:"resolutions"`
}

type PresetsResponse struct {
	Presets []catalog.Preset `json:"presets"`
}

type WorkerStatus struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	JobID     string `json:"job_id"`
	StartedAt string `json:"started_at"`
}
