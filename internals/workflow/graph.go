// Package workflow loads ComfyUI API-format job graphs and rewrites the
// inputs of the nodes a submission parameterizes.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/mitchellh/copystructure"
)

// Graph is a job graph in ComfyUI API format, keyed by node id.
type Graph map[string]Node

type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
	Meta      map[string]any `json:"_meta,omitempty"`
}

// Load reads a graph exported with "Save (API format)".
func Load(path string) (Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Graph, error) {
	var graph Graph
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, fmt.Errorf("failed to decode workflow: %w", err)
	}
	if len(graph) == 0 {
		return nil, fmt.Errorf("workflow has no nodes")
	}
	return graph, nil
}

// Clone deep-copies the graph, inputs included.
func (g Graph) Clone() (Graph, error) {
	copied, err := copystructure.Copy(g)
	if err != nil {
		return nil, fmt.Errorf("failed to copy workflow: %w", err)
	}
	return copied.(Graph), nil
}

// NodeIDs returns the ids in a stable order: numeric ids by value, then the rest.
func (g Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if len(ids[i]) != len(ids[j]) {
			return len(ids[i]) < len(ids[j])
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Link resolves an input of the form [nodeId, outputIndex] to the node id.
func (n Node) Link(input string) (string, bool) {
	ref, ok := n.Inputs[input].([]any)
	if !ok || len(ref) != 2 {
		return "", false
	}
	switch id := ref[0].(type) {
	case string:
		return id, true
	case float64:
		return fmt.Sprintf("%d", int64(id)), true
	case int:
		return fmt.Sprintf("%d", id), true
	}
	return "", false
}
