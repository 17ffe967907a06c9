package workflow

import (
	"math/rand/v2"
	"time"
)

const MaxSeed = 1<<32 - 1

type Params struct {
	Positive       string  `json:"positive"`
	Negative       string  `json:"negative"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	CFG            float64 `json:"cfg"`
	SamplerName    string  `json:"sampler_name"`
	Scheduler      string  `json:"scheduler"`
	Denoise        float64 `json:"denoise"`
	Seed           int64   `json:"seed"`
	ModelName      string  `json:"model_name"`
	ClipSkip       int     `json:"clip_skip"`
	FilenamePrefix string  `json:"filename_prefix"`
}

// RandomSeed returns a seed in [0, 2^32-1].
func RandomSeed() int64 {
	return rand.Int64N(MaxSeed + 1)
}

// DatePrefix formats t as yymmdd in loc, the default output filename prefix.
func DatePrefix(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("060102")
}
