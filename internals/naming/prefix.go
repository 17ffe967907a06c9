package naming

import "strings"

const MaxPrefixLen = 64

// FilenamePrefix turns arbitrary text into a prefix safe to hand to the
// image saver. Output uses only [A-Za-z0-9_-], keeps at most MaxPrefixLen
// bytes and never starts or ends with a separator. Runs of anything else
// collapse to a single '_'.
func FilenamePrefix(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}

	var b strings.Builder
	b.Grow(len(s))
	prevSep := false
	for _, r := range s {
		isAZ := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		is09 := r >= '0' && r <= '9'
		if isAZ || is09 || r == '-' {
			b.WriteRune(r)
			prevSep = false
			continue
		}
		if prevSep {
			continue
		}
		b.WriteByte('_')
		prevSep = true
	}

	out := strings.Trim(b.String(), "_-")
	if len(out) > MaxPrefixLen {
		out = strings.TrimRight(out[:MaxPrefixLen], "_-")
	}
	return out
}
