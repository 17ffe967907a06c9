package version

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
)

// SemVer is set at build time for releases.
//
//	-ldflags "-X github.com/Oudwins/comfyrunner/internals/version.SemVer=1.2.3"
var SemVer = "0.0.0-dev"

var (
	buildOnce sync.Once
	buildMeta string
)

// Version returns SemVer plus build metadata, e.g. 0.1.0+a1b2c3d4e5f6.dirty.1e4b9caa2210.
// The daemon and the CLI compare it to detect a stale daemon after a rebuild.
func Version() string {
	v := strings.TrimSpace(SemVer)
	if v == "" {
		v = "0.0.0-dev"
	}
	buildOnce.Do(func() { buildMeta = metadata() })
	if buildMeta == "" {
		return v
	}
	if strings.Contains(v, "+") {
		return v + "." + buildMeta
	}
	return v + "+" + buildMeta
}

func metadata() string {
	parts := []string{}
	if info, ok := debug.ReadBuildInfo(); ok && info != nil {
		var rev string
		dirty := false
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				rev = strings.TrimSpace(s.Value)
			case "vcs.modified":
				dirty = strings.EqualFold(strings.TrimSpace(s.Value), "true")
			}
		}
		if len(rev) > 12 {
			rev = rev[:12]
		}
		if rev != "" {
			parts = append(parts, rev)
			if dirty {
				parts = append(parts, "dirty")
			}
		}
	}
	if hash := executableHash(); hash != "" {
		parts = append(parts, hash)
	}
	return strings.Join(parts, ".")
}

func executableHash() string {
	exe, err := os.Executable()
	if err != nil || exe == "" {
		return ""
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	f, err := os.Open(exe)
	if err != nil {
		return ""
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}
