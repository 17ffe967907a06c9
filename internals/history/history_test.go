package history

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Oudwins/comfyrunner/internals/testutil"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), testutil.TempDBPath(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	params := map[string]any{"positive": "a cat", "steps": 20}
	if err := store.RecordSubmitted(ctx, "job-1", params); err != nil {
		t.Fatalf("RecordSubmitted: %v", err)
	}
	if err := store.MarkGenerated(ctx, "job-1"); err != nil {
		t.Fatalf("MarkGenerated: %v", err)
	}
	if err := store.MarkSaved(ctx, "job-1", []string{"/out/x.png"}); err != nil {
		t.Fatalf("MarkSaved: %v", err)
	}

	job, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != StatusSaved {
		t.Fatalf("expected saved, got %s", job.Status)
	}
	if len(job.Paths) != 1 || job.Paths[0] != "/out/x.png" {
		t.Fatalf("unexpected paths %v", job.Paths)
	}
	if job.SavedAt == nil || job.CreatedAt.IsZero() {
		t.Fatalf("expected timestamps, got %+v", job)
	}
	var decoded map[string]any
	if err := json.Unmarshal(job.Params, &decoded); err != nil || decoded["positive"] != "a cat" {
		t.Fatalf("unexpected params %s", job.Params)
	}
}

func TestListNewestFirstIncludesFailures(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	_ = store.RecordSubmitted(ctx, "job-1", map[string]any{})
	_ = store.RecordFailure(ctx, map[string]any{"positive": "x"}, errors.New("connection refused"))
	_ = store.RecordSubmitted(ctx, "job-2", map[string]any{})

	jobs, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	if jobs[0].JobID != "job-2" || jobs[2].JobID != "job-1" {
		t.Fatalf("expected newest first, got %+v", jobs)
	}
	if jobs[1].Status != StatusFailed || jobs[1].JobID != "" || jobs[1].Error != "connection refused" {
		t.Fatalf("unexpected failure row %+v", jobs[1])
	}

	limited, _ := store.List(ctx, 1)
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestUnknownJob(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	if _, err := store.Get(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.MarkGenerated(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReopenKeepsRows(t *testing.T) {
	ctx := context.Background()
	path := testutil.TempDBPath(t)
	store, err := Open(ctx, path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = store.RecordSubmitted(ctx, "job-1", map[string]any{})
	_ = store.Close()

	reopened, err := Open(ctx, path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.Get(ctx, "job-1"); err != nil {
		t.Fatalf("expected row to survive reopen: %v", err)
	}
}
