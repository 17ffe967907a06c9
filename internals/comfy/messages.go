package comfy

import "encoding/json"

const (
	TypeProgressState  = "progress_state"
	TypeExecutionError = "execution_error"
	StateFinished      = "finished"
)

// Message is the envelope of every text frame on /ws.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type ProgressState struct {
	PromptID string                  `json:"prompt_id"`
	Nodes    map[string]NodeProgress `json:"nodes"`
}

type NodeProgress struct {
	NodeID   string   `json:"node_id"`
	PromptID string   `json:"prompt_id"`
	State    string   `json:"state"`
	Value    *float64 `json:"value"`
	Max      *float64 `json:"max"`
}

type ExecutionError struct {
	PromptID         string `json:"prompt_id"`
	NodeID           string `json:"node_id"`
	NodeType         string `json:"node_type"`
	ExceptionType    string `json:"exception_type"`
	ExceptionMessage string `json:"exception_message"`
}

// Percent reports value/max*100 when max is present and nonzero.
func (n NodeProgress) Percent() (float64, bool) {
	if n.Value == nil || n.Max == nil || *n.Max == 0 {
		return 0, false
	}
	return *n.Value / *n.Max * 100, true
}
