// Package progress follows one job on the ComfyUI event stream and reports
// when every node of the job has finished.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/Oudwins/comfyrunner/internals/comfy"
	"github.com/Oudwins/comfyrunner/internals/logbuf"
	"github.com/Oudwins/comfyrunner/internals/timeouts"
	"github.com/gorilla/websocket"
)

type Listener struct {
	URL   string
	JobID string

	// Complete is called once when all of the job's nodes report finished.
	Complete func(jobID string) error
	// Generated reports whether the job was already marked generated, which
	// stops reconnect attempts.
	Generated func(jobID string) bool

	Log    *logbuf.Ring
	Logger *slog.Logger
	Dialer *websocket.Dialer

	ReconnectAfterClose time.Duration
	ReconnectAfterError time.Duration
	DialRetry           time.Duration

	// OnReconnect, when set, is called each time the listener goes back to connecting.
	OnReconnect func()
}

func (l *Listener) defaults() {
	if l.Log == nil {
		l.Log = logbuf.NewRing(logbuf.DefaultCapacity)
	}
	if l.Logger == nil {
		l.Logger = slog.Default()
	}
	l.Logger = l.Logger.With(slog.String("job_id", l.JobID))
	if l.Dialer == nil {
		l.Dialer = websocket.DefaultDialer
	}
	if l.ReconnectAfterClose <= 0 {
		l.ReconnectAfterClose = timeouts.ReconnectAfterClose
	}
	if l.ReconnectAfterError <= 0 {
		l.ReconnectAfterError = timeouts.ReconnectAfterError
	}
	if l.DialRetry <= 0 {
		l.DialRetry = timeouts.DialRetry
	}
	if l.Generated == nil {
		l.Generated = func(string) bool { return false }
	}
	if l.Complete == nil {
		l.Complete = func(string) error { return nil }
	}
}

// Run connects and reads until the job completes or ctx is cancelled. It
// returns nil when the job finished and ctx.Err() on cancellation.
func (l *Listener) Run(ctx context.Context) error {
	l.defaults()
	defer l.note(slog.LevelInfo, "WebSocket connection explicitly closed.")

	for {
		conn, _, err := l.Dialer.DialContext(ctx, l.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.note(slog.LevelWarn, "WebSocket connect failed: %v. Retrying in %s...", err, l.DialRetry)
			if l.Generated(l.JobID) {
				return nil
			}
			if !sleep(ctx, l.DialRetry) {
				return ctx.Err()
			}
			l.reconnecting()
			continue
		}

		l.note(slog.LevelInfo, "WebSocket connected.")
		finished, err := l.read(ctx, conn)
		_ = conn.Close()
		if finished {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := l.ReconnectAfterError
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			wait = l.ReconnectAfterClose
			l.note(slog.LevelWarn, "WebSocket connection closed. Attempting to reconnect...")
		} else {
			l.note(slog.LevelWarn, "WebSocket general error: %v. Attempting to reconnect...", err)
		}
		if !sleep(ctx, wait) {
			return ctx.Err()
		}
		if l.Generated(l.JobID) {
			return nil
		}
		l.reconnecting()
	}
}

func (l *Listener) read(ctx context.Context, conn *websocket.Conn) (bool, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return false, err
		}
		if kind != websocket.TextMessage || len(data) == 0 {
			continue
		}
		if l.handle(data) {
			return true, nil
		}
	}
}

// handle processes one frame and reports whether the job completed. A panic
// while handling is logged and the frame is dropped.
func (l *Listener) handle(data []byte) (finished bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			l.note(slog.LevelError, "Error processing message: %v\nTraceback:\n%s\n - Msg: %s...", recovered, stackSummary(), preview(data))
			finished = false
		}
	}()

	var msg comfy.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		l.note(slog.LevelWarn, "Failed to decode JSON: %s...", preview(data))
		return false
	}

	switch msg.Type {
	case comfy.TypeProgressState:
		var state comfy.ProgressState
		if err := json.Unmarshal(msg.Data, &state); err != nil {
			l.note(slog.LevelWarn, "Failed to decode JSON: %s...", preview(data))
			return false
		}
		if !l.progress(state) {
			return false
		}
		if err := l.Complete(l.JobID); err != nil {
			l.note(slog.LevelError, "Failed to mark job %s generated: %v", l.JobID, err)
		}
		return true
	case comfy.TypeExecutionError:
		var execErr comfy.ExecutionError
		if err := json.Unmarshal(msg.Data, &execErr); err != nil {
			l.note(slog.LevelWarn, "Failed to decode JSON: %s...", preview(data))
			return false
		}
		if execErr.PromptID == l.JobID {
			l.note(slog.LevelError, "Execution error in node %s (%s): %s", execErr.NodeID, execErr.NodeType, execErr.ExceptionMessage)
		}
	}
	return false
}

// progress logs the job's node percentages and reports whether the job has
// at least one entry and every entry is finished.
func (l *Listener) progress(state comfy.ProgressState) bool {
	keys := make([]string, 0, len(state.Nodes))
	for key := range state.Nodes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	matched := 0
	allFinished := true
	for _, key := range keys {
		node := state.Nodes[key]
		if node.PromptID != l.JobID {
			continue
		}
		matched++
		if node.State != comfy.StateFinished {
			allFinished = false
		}
		if pct, ok := node.Percent(); ok {
			l.note(slog.LevelDebug, "Node %s Progress: %.1f%%", node.NodeID, pct)
		}
	}
	return matched > 0 && allFinished
}

func (l *Listener) reconnecting() {
	if l.OnReconnect != nil {
		l.OnReconnect()
	}
}

func (l *Listener) note(level slog.Level, format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	l.Log.Append(line)
	l.Logger.Log(context.Background(), level, line)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func preview(data []byte) string {
	if len(data) > 200 {
		data = data[:200]
	}
	return string(data)
}

func stackSummary() string {
	lines := strings.Split(strings.TrimSpace(string(debug.Stack())), "\n")
	if len(lines) > 12 {
		lines = lines[:12]
	}
	return strings.Join(lines, "\n")
}
