package conf

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/Oudwins/comfyrunner/internals/env"
	"github.com/Oudwins/comfyrunner/internals/timeouts"

	z "github.com/Oudwins/zog"
)

const FileName = "comfyrunner.json"

type Config struct {
	Version string        `json:"-"`
	Server  ServerConfig  `json:"server"`
	Comfy   ComfyConfig   `json:"comfy"`
	Catalog CatalogConfig `json:"catalog"`
	Prompt  PromptConfig  `json:"prompt"`
	Timing  TimingConfig  `json:"timing"`
}

type ServerConfig struct {
	DataDir string `json:"data_dir" zog:"data_dir"`
}

type ComfyConfig struct {
	URL            string   `json:"url" zog:"url"`
	OutputDir      string   `json:"output_dir" zog:"output_dir"`
	CheckpointsDir string   `json:"checkpoints_dir" zog:"checkpoints_dir"`
	WorkflowPath   string   `json:"workflow_path" zog:"workflow_path"`
	LogFile        string   `json:"log_file" zog:"log_file"`
	Command        []string `json:"command" zog:"command"`
	WorkDir        string   `json:"work_dir" zog:"work_dir"`
}

type CatalogConfig struct {
	ResolutionsPath string `json:"resolutions_path" zog:"resolutions_path"`
	PresetsPath     string `json:"presets_path" zog:"presets_path"`
}

type PromptConfig struct {
	Timezone      string `json:"timezone" zog:"timezone"`
	DefaultPreset string `json:"default_preset" zog:"default_preset"`
}

// TimingConfig holds Go duration strings. Empty values fall back to the
// defaults in internals/timeouts.
type TimingConfig struct {
	ReconnectAfterClose string `json:"reconnect_after_close" zog:"reconnect_after_close"`
	ReconnectAfterError string `json:"reconnect_after_error" zog:"reconnect_after_error"`
	DialRetry           string `json:"dial_retry" zog:"dial_retry"`
	HistoryPoll         string `json:"history_poll" zog:"history_poll"`
	SettleSample        string `json:"settle_sample" zog:"settle_sample"`
	SettlePacing        string `json:"settle_pacing" zog:"settle_pacing"`
}

var serverSchema = z.Struct(z.Shape{
	"dataDir": z.String().Default("~/.comfyrunner").Transform(expandPathTransform),
})

var comfySchema = z.Struct(z.Shape{
	"URL":            z.String().Trim().Default("http://127.0.0.1:8188"),
	"outputDir":      z.String().Default("~/ComfyUI/output").Transform(expandPathTransform),
	"checkpointsDir": z.String().Default("~/ComfyUI/models/checkpoints").Transform(expandPathTransform),
	"workflowPath":   z.String().Default("~/.comfyrunner/workflow_api.json").Transform(expandPathTransform),
	"logFile":        z.String().Default("~/.comfyrunner/comfyui.log").Transform(expandPathTransform),
	"command":        z.Slice(z.String()).Optional(),
	"workDir":        z.String().Optional().Transform(expandPathTransform),
})

var catalogSchema = z.Struct(z.Shape{
	"resolutionsPath": z.String().Default("~/.comfyrunner/resolutions.json").Transform(expandPathTransform),
	"presetsPath":     z.String().Default("~/.comfyrunner/presets.yaml").Transform(expandPathTransform),
})

var promptSchema = z.Struct(z.Shape{
	"timezone":      z.String().Default("Asia/Tokyo"),
	"defaultPreset": z.String().Optional(),
})

var timingSchema = z.Struct(z.Shape{
	"reconnectAfterClose": z.String().Default(timeouts.ReconnectAfterClose.String()).Transform(durationTransform),
	"reconnectAfterError": z.String().Default(timeouts.ReconnectAfterError.String()).Transform(durationTransform),
	"dialRetry":           z.String().Default(timeouts.DialRetry.String()).Transform(durationTransform),
	"historyPoll":         z.String().Default(timeouts.HistoryPoll.String()).Transform(durationTransform),
	"settleSample":        z.String().Default(timeouts.SettleSample.String()).Transform(durationTransform),
	"settlePacing":        z.String().Default(timeouts.SettlePacing.String()).Transform(durationTransform),
})

var ConfigSchema = z.Struct(z.Shape{
	"server":  serverSchema,
	"comfy":   comfySchema,
	"catalog": catalogSchema,
	"prompt":  promptSchema,
	"timing":  timingSchema,
})

var config *Config

func GetConfig() *Config {
	if config == nil {
		dataDir := env.Get().DATA_DIR
		if dataDir == "" {
			dataDir = "~/.comfyrunner"
		}
		dir, err := expandPath(dataDir)
		if err != nil {
			log.Fatal("[Comfyrunner] Failed to expand config data dir ", err)
		}
		parsed, err := Load(filepath.Join(filepath.Clean(dir), FileName))
		if err != nil {
			log.Fatal("[Comfyrunner] Failed to load config ", err)
		}
		if parsed.Server.DataDir == "" || env.Get().DATA_DIR != "" {
			parsed.Server.DataDir = dir
		}
		if url := env.Get().COMFY_URL; url != "" {
			parsed.Comfy.URL = url
		}
		config = parsed
	}
	return config
}

// Load parses the config file at path. A missing or blank file yields the defaults.
func Load(path string) (*Config, error) {
	payload := map[string]any{}
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil && strings.TrimSpace(string(data)) != "" {
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	parsed := &Config{}
	if errs := ConfigSchema.Parse(payload, parsed); errs != nil {
		return nil, fmt.Errorf("invalid config %s: %v", path, errs)
	}
	parsed.Comfy.URL = strings.TrimRight(parsed.Comfy.URL, "/")
	parsed.Version = "0.1.0"
	return parsed, nil
}

// Durations resolves the timing strings. Values were validated on load.
func (t TimingConfig) Durations() Durations {
	return Durations{
		ReconnectAfterClose: durationOr(t.ReconnectAfterClose, timeouts.ReconnectAfterClose),
		ReconnectAfterError: durationOr(t.ReconnectAfterError, timeouts.ReconnectAfterError),
		DialRetry:           durationOr(t.DialRetry, timeouts.DialRetry),
		HistoryPoll:         durationOr(t.HistoryPoll, timeouts.HistoryPoll),
		SettleSample:        durationOr(t.SettleSample, timeouts.SettleSample),
		SettlePacing:        durationOr(t.SettlePacing, timeouts.SettlePacing),
	}
}

type Durations struct {
	ReconnectAfterClose time.Duration
	ReconnectAfterError time.Duration
	DialRetry           time.Duration
	HistoryPoll         time.Duration
	SettleSample        time.Duration
	SettlePacing        time.Duration
}

// Location loads the configured timezone, falling back to UTC.
func (p PromptConfig) Location() *time.Location {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func durationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func durationTransform(ptr *string, c z.Ctx) error {
	if *ptr == "" {
		return nil
	}
	d, err := time.ParseDuration(*ptr)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive: %s", *ptr)
	}
	return nil
}

func expandPathTransform(ptr *string, c z.Ctx) error {
	expanded, err := expandPath(*ptr)
	*ptr = expanded
	return err
}

func expandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}
