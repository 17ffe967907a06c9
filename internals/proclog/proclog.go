// Package proclog runs the upstream server process, tags its output lines
// into a log file and serves the tail of that file.
package proclog

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

const TailLines = 100

// File is an append-only log shared by writers and readers.
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Path() string { return f.path }

// Pipe copies r line by line into the file as "[prefix] line" until EOF.
func (f *File) Pipe(r io.Reader, prefix string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	reader := bufio.NewReader(r)
	for {
		line, readErr := reader.ReadString('\n')
		if line != "" {
			tagged := "[" + prefix + "] " + strings.TrimSpace(strings.ToValidUTF8(line, "")) + "\n"
			f.mu.Lock()
			_, err := out.WriteString(tagged)
			f.mu.Unlock()
			if err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// tailChunk is how much of the file Tail reads per step from the end.
const tailChunk = 8 << 10

// Tail returns the last n lines of the file. It reads backwards from the end
// so the cost depends on n, not on the size of the file.
func (f *File) Tail(n int) (string, error) {
	if n <= 0 {
		n = TailLines
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	in, err := os.Open(f.path)
	if err != nil {
		return "", err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return "", err
	}

	var data []byte
	offset := info.Size()
	for offset > 0 && bytes.Count(bytes.TrimRight(data, "\n"), []byte("\n")) < n {
		size := int64(tailChunk)
		if offset < size {
			size = offset
		}
		offset -= size
		chunk := make([]byte, size)
		if _, err := in.ReadAt(chunk, offset); err != nil && err != io.EOF {
			return "", err
		}
		data = append(chunk, data...)
	}

	data = bytes.TrimRight(data, "\n")
	if len(data) == 0 {
		return "", nil
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n") + "\n", nil
}

// Process is a running upstream server whose output feeds a File.
type Process struct {
	cmd    *exec.Cmd
	pipes  sync.WaitGroup
	logger *slog.Logger
}

// Start launches command in dir. The process is killed when ctx ends.
func Start(ctx context.Context, command []string, dir string, file *File, logger *slog.Logger) (*Process, error) {
	if len(command) == 0 {
		return nil, errors.New("no command configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = dir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", command[0], err)
	}

	p := &Process{cmd: cmd, logger: logger.With(slog.String("command", command[0]), slog.Int("pid", cmd.Process.Pid))}
	for prefix, pipe := range map[string]io.Reader{"stdout": stdout, "stderr": stderr} {
		p.pipes.Add(1)
		go func(prefix string, pipe io.Reader) {
			defer p.pipes.Done()
			if err := file.Pipe(pipe, prefix); err != nil {
				p.logger.Warn("process log pipe failed", slog.String("stream", prefix), slog.Any("error", err))
			}
		}(prefix, pipe)
	}
	p.logger.Info("upstream process started", slog.String("log", file.Path()))
	return p, nil
}

// Wait blocks until the process exits and its output is fully written.
func (p *Process) Wait() error {
	p.pipes.Wait()
	err := p.cmd.Wait()
	if err != nil {
		p.logger.Warn("upstream process exited", slog.Any("error", err))
	} else {
		p.logger.Info("upstream process exited")
	}
	return err
}
