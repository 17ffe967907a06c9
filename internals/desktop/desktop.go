package desktop

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

var ExecCommand = exec.Command
var RuntimeGOOS = runtime.GOOS

var ErrUnsupported = errors.New("unsupported platform")

// OpenPath opens a saved image with the desktop's default viewer.
func OpenPath(path string) error {
	if path == "" {
		return errors.New("path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("cannot open %s: %w", path, err)
	}

	var cmd *exec.Cmd
	switch RuntimeGOOS {
	case "darwin":
		cmd = ExecCommand("open", path)
	case "linux", "freebsd", "openbsd":
		cmd = ExecCommand("xdg-open", path)
	case "windows":
		cmd = ExecCommand("rundll32", "url.dll,FileProtocolHandler", path)
	default:
		return ErrUnsupported
	}

	return cmd.Start()
}
