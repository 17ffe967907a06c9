package workflow

import (
	"errors"
	"fmt"
)

var ErrMissingNode = errors.New("workflow node not found")

var textFields = []string{"text", "text_g", "text_l"}

type override struct {
	role   Role
	values map[string]any
}

// Build copies template and overwrites the inputs of the nodes bound in roles.
// The template is never modified.
func Build(template Graph, roles Roles, params Params) (Graph, error) {
	if err := roles.Validate(template); err != nil {
		return nil, err
	}
	graph, err := template.Clone()
	if err != nil {
		return nil, err
	}

	set := func(role Role, values map[string]any) error {
		id, ok := roles[role]
		if !ok {
			return nil
		}
		node, ok := graph[id]
		if !ok {
			return fmt.Errorf("%w: %s points at missing node %s", ErrMissingNode, role, id)
		}
		if node.Inputs == nil {
			node.Inputs = map[string]any{}
		}
		for key, value := range values {
			node.Inputs[key] = value
		}
		graph[id] = node
		return nil
	}

	steps := []override{
		{RoleSampler, map[string]any{
			"seed":         params.Seed,
			"steps":        params.Steps,
			"cfg":          params.CFG,
			"sampler_name": params.SamplerName,
			"scheduler":    params.Scheduler,
			"denoise":      params.Denoise,
		}},
		{RoleLatentImage, map[string]any{"width": params.Width, "height": params.Height}},
		{RoleImageSaver, map[string]any{"filename_prefix": params.FilenamePrefix}},
		{RoleClipSkip, map[string]any{"stop_at_clip_layer": params.ClipSkip}},
	}
	if params.ModelName != "" {
		steps = append(steps, override{RoleCheckpointLoader, map[string]any{"ckpt_name": params.ModelName}})
	}
	for _, step := range steps {
		if err := set(step.role, step.values); err != nil {
			return nil, err
		}
	}

	if err := set(RolePositiveEncoder, textValues(graph[roles[RolePositiveEncoder]], params.Positive)); err != nil {
		return nil, err
	}
	if err := set(RoleNegativeEncoder, textValues(graph[roles[RoleNegativeEncoder]], params.Negative)); err != nil {
		return nil, err
	}
	return graph, nil
}

// textValues writes text to every text field the encoder exposes, or to
// "text" when it exposes none.
func textValues(node Node, text string) map[string]any {
	values := map[string]any{}
	for _, field := range textFields {
		if _, ok := node.Inputs[field]; ok {
			values[field] = text
		}
	}
	if len(values) == 0 {
		values["text"] = text
	}
	return values
}
