package ws

import (
	"math/rand/v2"
	"testing"
	"time"
)

func TestBackoffSequenceDoublesThenCaps(t *testing.T) {
	b := NewBackoff(time.Second, 60*time.Second, 0)
	want := []time.Duration{1, 2, 4, 8, 16, 32, 60, 60, 60}
	for i, w := range want {
		if got := b.Next(); got != w*time.Second {
			t.Fatalf("step %d: got %v want %v", i, got, w*time.Second)
		}
	}
}

func TestBackoffJitterAddedAfterCap(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	b := NewBackoff(time.Second, 60*time.Second, time.Second)
	b.Rand = rng.Float64

	base := []time.Duration{1, 2, 4, 8, 16, 32, 60, 60, 60, 60}
	for i, w := range base {
		lo := w * time.Second
		got := b.Next()
		if got < lo || got >= lo+time.Second {
			t.Fatalf("step %d: %v outside [%v, %v)", i, got, lo, lo+time.Second)
		}
	}
}

func TestBackoffMaxJitterNeverCompounds(t *testing.T) {
	b := NewBackoff(time.Second, 60*time.Second, time.Second)
	b.Rand = func() float64 { return 0.999 }
	for range 20 {
		b.Next()
	}
	if b.Base() != 60*time.Second {
		t.Fatalf("jitter leaked into the base: %v", b.Base())
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(time.Second, 60*time.Second, 0)
	for range 5 {
		b.Next()
	}
	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Fatalf("after reset got %v", got)
	}
	if got := b.Next(); got != 2*time.Second {
		t.Fatalf("second after reset got %v", got)
	}
}

func TestStateString(t *testing.T) {
	for _, s := range States() {
		if s.String() == "unknown" {
			t.Fatalf("state %d has no name", s)
		}
	}
	if State(42).String() != "unknown" {
		t.Fatalf("out of range state should be unknown")
	}
}
