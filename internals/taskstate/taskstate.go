// Package taskstate owns the per-job lifecycle records. It never starts work
// itself: transitions are reported to Hooks after the lock is released.
package taskstate

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// NoJob is the job id returned when a submission produced no job.
const NoJob = ""

var (
	ErrNoJob        = errors.New("no job")
	ErrUnknownJob   = errors.New("unknown job")
	ErrDuplicateJob = errors.New("job already registered")
	ErrNoArtifact   = errors.New("no saved artifact")
	ErrNotReady     = errors.New("job not ready for transition")
)

type Record struct {
	JobID        string
	Generated    bool
	Saved        bool
	Paths        []string
	RegisteredAt time.Time
}

// Hooks receives lifecycle transitions. Implementations may block; the store
// holds no lock while calling them.
type Hooks interface {
	JobRegistered(jobID string)
	JobGenerated(jobID string)
	PathsResolved(jobID string, paths []string)
	JobSaved(jobID string)
}

type NopHooks struct{}

func (NopHooks) JobRegistered(string)           {}
func (NopHooks) JobGenerated(string)            {}
func (NopHooks) PathsResolved(string, []string) {}
func (NopHooks) JobSaved(string)                {}

type Store struct {
	mu      sync.Mutex
	records map[string]*Record
	order   []string
	hooks   Hooks
	now     func() time.Time
}

func New(hooks Hooks) *Store {
	if hooks == nil {
		hooks = NopHooks{}
	}
	return &Store{
		records: map[string]*Record{},
		hooks:   hooks,
		now:     time.Now,
	}
}

// Clear drops every record. Workers still running for old jobs will see
// ErrUnknownJob on their next transition.
func (s *Store) Clear() {
	s.mu.Lock()
	s.records = map[string]*Record{}
	s.order = nil
	s.mu.Unlock()
}

func (s *Store) Register(jobID string) error {
	if jobID == NoJob {
		return ErrNoJob
	}
	s.mu.Lock()
	if _, ok := s.records[jobID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateJob, jobID)
	}
	s.records[jobID] = &Record{JobID: jobID, Paths: []string{}, RegisteredAt: s.now()}
	s.order = append(s.order, jobID)
	s.mu.Unlock()

	s.hooks.JobRegistered(jobID)
	return nil
}

// MarkGenerated is idempotent; only the first call reports JobGenerated.
func (s *Store) MarkGenerated(jobID string) error {
	s.mu.Lock()
	rec, ok := s.records[jobID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	first := !rec.Generated
	rec.Generated = true
	s.mu.Unlock()

	if first {
		s.hooks.JobGenerated(jobID)
	}
	return nil
}

func (s *Store) IsGenerated(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[jobID]
	return ok && rec.Generated
}

func (s *Store) SetPaths(jobID string, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("%w: %s has no paths", ErrNotReady, jobID)
	}
	s.mu.Lock()
	rec, ok := s.records[jobID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	if !rec.Generated {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is not generated", ErrNotReady, jobID)
	}
	rec.Paths = append([]string(nil), paths...)
	s.mu.Unlock()

	s.hooks.PathsResolved(jobID, append([]string(nil), paths...))
	return nil
}

// Paths returns a copy of the job's recorded paths.
func (s *Store) Paths(jobID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	return append([]string(nil), rec.Paths...), nil
}

// MarkSaved is idempotent; only the first call reports JobSaved.
func (s *Store) MarkSaved(jobID string) error {
	s.mu.Lock()
	rec, ok := s.records[jobID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	if !rec.Generated || len(rec.Paths) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s has no resolved paths", ErrNotReady, jobID)
	}
	first := !rec.Saved
	rec.Saved = true
	s.mu.Unlock()

	if first {
		s.hooks.JobSaved(jobID)
	}
	return nil
}

// IsLastSaved reports whether the most recently registered job is saved.
// An empty store counts as saved.
func (s *Store) IsLastSaved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return true
	}
	return s.records[s.order[len(s.order)-1]].Saved
}

// LatestPath returns the first path of the most recently registered job that
// is saved, so a newer in-flight job does not hide the last finished image.
func (s *Store) LatestPath() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		rec := s.records[s.order[i]]
		if rec.Saved && len(rec.Paths) > 0 {
			return rec.Paths[0], nil
		}
	}
	return "", ErrNoArtifact
}

// Last returns a snapshot of the most recently registered record.
func (s *Store) Last() (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return Record{}, false
	}
	return snapshot(s.records[s.order[len(s.order)-1]]), true
}

func (s *Store) Get(jobID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[jobID]
	if !ok {
		return Record{}, false
	}
	return snapshot(rec), true
}

// List returns snapshots in registration order.
func (s *Store) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, snapshot(s.records[id]))
	}
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func snapshot(rec *Record) Record {
	out := *rec
	out.Paths = append([]string{}, rec.Paths...)
	return out
}
