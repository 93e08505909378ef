package client

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	p := DefaultBackoff()

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second}, // 32s capped
		{6, 30 * time.Second},
		{9, 30 * time.Second},
		{100, 30 * time.Second},
		{-1, 1 * time.Second},
	}

	for _, tc := range cases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestBackoffDelayNonDecreasing(t *testing.T) {
	p := DefaultBackoff()

	prev := time.Duration(0)
	for n := 0; n < 20; n++ {
		d := p.Delay(n)
		if d < prev {
			t.Fatalf("Delay(%d) = %v decreased from %v", n, d, prev)
		}
		prev = d
	}
}

func TestBackoffExhausted(t *testing.T) {
	p := DefaultBackoff()

	for n := 0; n < p.MaxAttempts; n++ {
		if p.Exhausted(n) {
			t.Errorf("Exhausted(%d) = true, want false", n)
		}
	}
	if !p.Exhausted(p.MaxAttempts) {
		t.Errorf("Exhausted(%d) = false, want true", p.MaxAttempts)
	}
}
