package logbuf

import (
	"fmt"
	"strings"
	"sync"
)

// DefaultCapacity is the number of lines a Ring keeps.
const DefaultCapacity = 100

// Ring is a bounded, concurrency-safe buffer of text lines. Once full, each
// append evicts the oldest line.
type Ring struct {
	mu    sync.Mutex
	lines []string
	start int
	size  int
	total uint64
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{lines: make([]string, capacity)}
}

func (r *Ring) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	capacity := len(r.lines)
	if r.size < capacity {
		r.lines[(r.start+r.size)%capacity] = line
		r.size++
	} else {
		r.lines[r.start] = line
		r.start = (r.start + 1) % capacity
	}
	r.total++
}

func (r *Ring) Appendf(format string, args ...any) {
	r.Append(fmt.Sprintf(format, args...))
}

// Lines returns the retained lines, oldest first.
func (r *Ring) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.lines[(r.start+i)%len(r.lines)]
	}
	return out
}

func (r *Ring) Text() string {
	return strings.Join(r.Lines(), "\n")
}

func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Total counts every line ever appended, including evicted ones.
func (r *Ring) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
