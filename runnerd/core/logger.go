package core

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"

	"github.com/Oudwins/comfyrunner/internals/assert"
	"github.com/Oudwins/comfyrunner/internals/conf"
	"github.com/Oudwins/comfyrunner/internals/term"
)

func InitLogger(config *conf.Config) (*slog.Logger, *os.File) {
	logPath := filepath.Join(config.Server.DataDir, "log.txt")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		assert.AssertNil(err, "[CORE] Failed to initialize log directory")
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	assert.AssertNil(err, "[CORE] Failed to open log file")
	logger := NewLogger(io.MultiWriter(os.Stdout, logFile), !term.IsTerminal(os.Stdout))

	slog.SetDefault(logger)
	return logger, logFile
}

func NewLogger(w io.Writer, noColor bool) *slog.Logger {
	handler := tint.NewHandler(w, &tint.Options{
		Level:     slog.LevelDebug,
		AddSource: true,
		NoColor:   noColor,
	})
	return slog.New(handler)
}
