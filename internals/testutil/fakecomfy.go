package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// FakeComfy serves the subset of the ComfyUI API the orchestrator uses.
// Finished jobs are replayed to every new event stream connection.
type FakeComfy struct {
	Server    *httptest.Server
	OutputDir string

	mu       sync.Mutex
	prompts  []json.RawMessage
	nextID   int
	history  map[string]any
	finished []string
	conns    map[*websocket.Conn]*sync.Mutex
	// RejectPrompts makes /prompt answer 500.
	RejectPrompts bool
}

func NewFakeComfy(t *testing.T) *FakeComfy {
	t.Helper()
	f := &FakeComfy{
		OutputDir: t.TempDir(),
		history:   map[string]any{},
		conns:     map[*websocket.Conn]*sync.Mutex{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/prompt", f.handlePrompt)
	mux.HandleFunc("/history/", f.handleHistory)
	mux.HandleFunc("/ws", f.handleWS)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *FakeComfy) URL() string { return f.Server.URL }

func (f *FakeComfy) Close() {
	f.mu.Lock()
	for conn := range f.conns {
		_ = conn.Close()
	}
	f.mu.Unlock()
	f.Server.Close()
}

func (f *FakeComfy) Prompts() []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]json.RawMessage(nil), f.prompts...)
}

// Finish writes filename under the output dir, publishes it in the job's
// history and reports every node of the job finished.
func (f *FakeComfy) Finish(t *testing.T, jobID string, filename string) string {
	t.Helper()
	path := filepath.Join(f.OutputDir, filename)
	if err := os.WriteFile(path, []byte("png-bytes"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	f.mu.Lock()
	f.history[jobID] = map[string]any{
		"outputs": map[string]any{
			"9": map[string]any{"images": []any{map[string]any{"filename": filename, "subfolder": "", "type": "output"}}},
		},
		"status": map[string]any{"status_str": "success", "completed": true},
	}
	f.finished = append(f.finished, jobID)
	conns := make(map[*websocket.Conn]*sync.Mutex, len(f.conns))
	for conn, mu := range f.conns {
		conns[conn] = mu
	}
	f.mu.Unlock()

	for conn, mu := range conns {
		writeLocked(conn, mu, finishedMessage(jobID))
	}
	return path
}

func (f *FakeComfy) handlePrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Prompt json.RawMessage `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	if f.RejectPrompts {
		f.mu.Unlock()
		http.Error(w, `{"error":"rejected"}`, http.StatusInternalServerError)
		return
	}
	f.nextID++
	number := f.nextID
	id := fmt.Sprintf("job-%d", number)
	f.prompts = append(f.prompts, body.Prompt)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"prompt_id": id, "number": number, "node_errors": map[string]any{}})
}

func (f *FakeComfy) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/history/")
	f.mu.Lock()
	out := map[string]any{}
	if entry, ok := f.history[id]; ok {
		out[id] = entry
	}
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (f *FakeComfy) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	mu := &sync.Mutex{}
	f.mu.Lock()
	f.conns[conn] = mu
	finished := append([]string(nil), f.finished...)
	f.mu.Unlock()

	for _, id := range finished {
		writeLocked(conn, mu, finishedMessage(id))
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	f.mu.Lock()
	delete(f.conns, conn)
	f.mu.Unlock()
	_ = conn.Close()
}

func writeLocked(conn *websocket.Conn, mu *sync.Mutex, payload []byte) {
	mu.Lock()
	defer mu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, payload)
}

func finishedMessage(jobID string) []byte {
	payload, _ := json.Marshal(map[string]any{
		"type": "progress_state",
		"data": map[string]any{
			"prompt_id": jobID,
			"nodes": map[string]any{
				"3": map[string]any{"node_id": "3", "prompt_id": jobID, "state": "finished", "value": 20, "max": 20},
				"9": map[string]any{"node_id": "9", "prompt_id": jobID, "state": "finished", "value": 1, "max": 1},
			},
		},
	})
	return payload
}
