package coordinator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatalf("%s worker did not finish", h.Kind)
	}
}

func TestSupervisorCapturesErrors(t *testing.T) {
	sup := NewSupervisor(context.Background(), nil)
	boom := errors.New("boom")

	h := sup.Go(KindResolver, "job-1", func(ctx context.Context) error { return boom })
	waitDone(t, h)
	if !errors.Is(h.Err(), boom) {
		t.Fatalf("expected boom, got %v", h.Err())
	}
	if h.ID == "" || h.JobID != "job-1" || h.Kind != KindResolver {
		t.Fatalf("unexpected handle %+v", h)
	}
}

func TestSupervisorCapturesPanics(t *testing.T) {
	sup := NewSupervisor(context.Background(), nil)
	var exited error
	sup.OnExit = func(kind Kind, err error) { exited = err }

	h := sup.Go(KindSettler, "job-1", func(ctx context.Context) error { panic("kaboom") })
	waitDone(t, h)
	if h.Err() == nil || !strings.Contains(h.Err().Error(), "kaboom") {
		t.Fatalf("expected panic error, got %v", h.Err())
	}
	if exited == nil {
		t.Fatalf("expected OnExit to see the error")
	}
}

func TestSupervisorTracksRunningHandles(t *testing.T) {
	sup := NewSupervisor(context.Background(), nil)
	release := make(chan struct{})
	h := sup.Go(KindListener, "job-1", func(ctx context.Context) error {
		<-release
		return nil
	})

	if handles := sup.Handles(); len(handles) != 1 || handles[0] != h {
		t.Fatalf("expected one running handle, got %v", handles)
	}
	if h.Err() != nil {
		t.Fatalf("expected nil error while running")
	}
	close(release)
	waitDone(t, h)
	if len(sup.Handles()) != 0 {
		t.Fatalf("expected no running handles")
	}
}

func TestSupervisorShutdownCancelsWorkers(t *testing.T) {
	sup := NewSupervisor(context.Background(), nil)
	h := sup.Go(KindListener, "job-1", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sup.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	waitDone(t, h)
	if !errors.Is(h.Err(), context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", h.Err())
	}

	late := sup.Go(KindResolver, "job-2", func(ctx context.Context) error { return nil })
	waitDone(t, late)
	if !errors.Is(late.Err(), ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", late.Err())
	}
}

func TestSupervisorShutdownTimesOut(t *testing.T) {
	sup := NewSupervisor(context.Background(), nil)
	release := make(chan struct{})
	defer close(release)
	sup.Go(KindSettler, "job-1", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sup.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSupervisorCancelJobStopsOnlyThatJob(t *testing.T) {
	sup := NewSupervisor(context.Background(), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sup.Shutdown(ctx)
	})
	block := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	first := sup.Go(KindListener, "job-1", block)
	second := sup.Go(KindResolver, "job-1", block)
	other := sup.Go(KindListener, "job-2", block)

	if n := sup.CancelJob("job-1"); n != 2 {
		t.Fatalf("expected 2 cancelled workers, got %d", n)
	}
	waitDone(t, first)
	waitDone(t, second)
	if !errors.Is(first.Err(), context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", first.Err())
	}

	select {
	case <-other.Done():
		t.Fatalf("expected job-2 worker to keep running")
	default:
	}
	handles := sup.Handles()
	if len(handles) != 1 || handles[0].JobID != "job-2" {
		t.Fatalf("expected only job-2 running, got %+v", handles)
	}
}
