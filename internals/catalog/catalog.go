// Package catalog loads the choices offered to the operator: checkpoints on
// disk, resolution presets and sampler/scheduler presets.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var checkpointExts = []string{".safetensors", ".ckpt"}

// Checkpoints lists model files in dir, sorted by name.
func Checkpoints(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []string{}, fmt.Errorf("read checkpoint dir %s: %w", dir, err)
	}
	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		for _, ext := range checkpointExts {
			if strings.HasSuffix(entry.Name(), ext) {
				names = append(names, entry.Name())
				break
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

type Resolution struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ParseResolution reads "WxH", tolerating spaces around the x.
func ParseResolution(s string) (Resolution, error) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return Resolution{}, fmt.Errorf("invalid resolution %q", s)
	}
	width, errW := strconv.Atoi(strings.TrimSpace(w))
	height, errH := strconv.Atoi(strings.TrimSpace(h))
	if errW != nil || errH != nil || width <= 0 || height <= 0 {
		return Resolution{}, fmt.Errorf("invalid resolution %q", s)
	}
	return Resolution{Width: width, Height: height}, nil
}

var DefaultResolutions = []Resolution{
	{640, 1536}, {768, 1344}, {832, 1216}, {896, 1152}, {1024, 1024},
	{1152, 896}, {1216, 832}, {1344, 768}, {1536, 640},
}

// LoadResolutions reads a JSON or YAML list of {width, height}. A missing
// file yields DefaultResolutions.
func LoadResolutions(path string) ([]Resolution, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return append([]Resolution(nil), DefaultResolutions...), nil
	}
	if err != nil {
		return nil, err
	}
	var out []Resolution
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode resolutions %s: %w", path, err)
	}
	for i, r := range out {
		if r.Width <= 0 || r.Height <= 0 {
			return nil, fmt.Errorf("resolution %d in %s has no size", i, path)
		}
	}
	return out, nil
}

type Preset struct {
	Name      string `yaml:"-" json:"name"`
	Sampler   string `yaml:"sampler" json:"sampler"`
	Scheduler string `yaml:"scheduler" json:"scheduler"`
}

var DefaultPresets = []Preset{
	{Name: "DPM++ 2M Karras", Sampler: "dpmpp_2m", Scheduler: "karras"},
	{Name: "Euler a", Sampler: "euler_ancestral", Scheduler: "normal"},
	{Name: "DPM++ SDE Karras", Sampler: "dpmpp_sde", Scheduler: "karras"},
}

// LoadPresets reads a mapping of preset name to {sampler, scheduler},
// keeping file order. A missing file yields DefaultPresets.
func LoadPresets(path string) ([]Preset, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return append([]Preset(nil), DefaultPresets...), nil
	}
	if err != nil {
		return nil, err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode presets %s: %w", path, err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("presets %s is empty", path)
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("presets %s must be a mapping of name to preset", path)
	}

	presets := make([]Preset, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		var preset Preset
		if err := root.Content[i+1].Decode(&preset); err != nil {
			return nil, fmt.Errorf("preset %q: %w", root.Content[i].Value, err)
		}
		preset.Name = root.Content[i].Value
		presets = append(presets, preset)
	}
	return presets, nil
}

// Find returns the preset called name, or the first preset when name is empty.
func Find(presets []Preset, name string) (Preset, bool) {
	if name == "" && len(presets) > 0 {
		return presets[0], true
	}
	for _, p := range presets {
		if p.Name == name {
			return p, true
		}
	}
	return Preset{}, false
}
