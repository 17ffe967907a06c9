package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestStartsClosed(t *testing.T) {
	g := New()
	if g.TryWait() {
		t.Fatalf("expected fresh gate to be closed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := g.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSignalBeforeWaitIsBanked(t *testing.T) {
	g := New()
	g.Signal()
	g.Signal()
	if g.Count() != 2 {
		t.Fatalf("expected count 2, got %d", g.Count())
	}
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !g.TryWait() {
		t.Fatalf("expected second release")
	}
	if g.Count() != 0 {
		t.Fatalf("expected count 0, got %d", g.Count())
	}
}

func TestWaitReleasedBySignal(t *testing.T) {
	g := New()
	done := make(chan error, 1)
	go func() { done <- g.Wait(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	g.Signal()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter not released")
	}
}

func TestEachSignalReleasesOneWaiter(t *testing.T) {
	g := New()
	const waiters = 5
	var wg sync.WaitGroup
	released := make(chan struct{}, waiters)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Wait(ctx) == nil {
				released <- struct{}{}
			}
		}()
	}

	for i := 0; i < 3; i++ {
		g.Signal()
	}
	deadline := time.After(time.Second)
	for i := 0; i < 3; i++ {
		select {
		case <-released:
		case <-deadline:
			t.Fatalf("expected 3 releases, got %d", i)
		}
	}
	cancel()
	wg.Wait()
	if len(released) != 0 {
		t.Fatalf("expected exactly 3 releases, got %d extra", len(released))
	}
}

func TestDrainEmptiesBankedReleases(t *testing.T) {
	g := New()
	for i := 0; i < 3; i++ {
		g.Signal()
	}
	if n := g.Drain(); n != 3 {
		t.Fatalf("expected 3 drained, got %d", n)
	}
	if g.Count() != 0 || g.TryWait() {
		t.Fatalf("expected closed gate after drain, count %d", g.Count())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := g.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected drained gate to block, got %v", err)
	}
	g.Signal()
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("expected fresh signal after drain to release, got %v", err)
	}
}
