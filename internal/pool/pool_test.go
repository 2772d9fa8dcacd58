package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitReturnsJobError(t *testing.T) {
	p := New(2)
	defer p.Close()

	want := errors.New("boom")
	done, err := p.Submit(context.Background(), func() error { return want })
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := <-done; !errors.Is(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	p := New(1)
	defer p.Close()

	done, err := p.Submit(context.Background(), func() error { panic("kaboom") })
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var pe *PanicError
	if got := <-done; !errors.As(got, &pe) || pe.Value != "kaboom" {
		t.Fatalf("expected PanicError, got %v", got)
	}

	// the worker survives the panic
	done, _ = p.Submit(context.Background(), func() error { return nil })
	if got := <-done; got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestSubmitBlocksWhenSaturated(t *testing.T) {
	p := New(1)
	defer p.Close()

	release := make(chan struct{})
	first, err := p.Submit(context.Background(), func() error { <-release; return nil })
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Submit(ctx, func() error { return nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	close(release)
	<-first
}

func TestCloseWaitsForRunningJobs(t *testing.T) {
	p := New(3)
	var finished atomic.Int32
	for range 3 {
		if _, err := p.Submit(context.Background(), func() error {
			time.Sleep(20 * time.Millisecond)
			finished.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	p.Close()
	if n := finished.Load(); n != 3 {
		t.Fatalf("expected 3 finished jobs, got %d", n)
	}
	if _, err := p.Submit(context.Background(), func() error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	p.Close()
}
