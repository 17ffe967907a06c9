package term

import (
	"net/url"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func SupportsHyperlinks() bool {
	term := os.Getenv("TERM")
	if term == "" || term == "dumb" || term == "alacritty" {
		return false
	}
	for _, key := range []string{"WT_SESSION", "VTE_VERSION", "KONSOLE_VERSION", "KITTY_WINDOW_ID", "WEZTERM_EXECUTABLE", "DOMTERM", "TERM_PROGRAM"} {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

// ClickableLink wraps label in an OSC 8 hyperlink when the terminal supports it.
func ClickableLink(label string, target string) string {
	if target == "" {
		return label
	}
	if label == "" {
		label = target
	}
	if !SupportsHyperlinks() {
		return label
	}
	return "\x1b]8;;" + target + "\x1b\\" + label + "\x1b]8;;\x1b\\"
}

// FileLink renders a local artifact path as a file:// hyperlink.
func FileLink(path string) string {
	if path == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return ClickableLink(path, u.String())
}
