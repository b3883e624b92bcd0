package netcheck

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStatic(t *testing.T) {
	if !Static(true).Available(context.Background()) {
		t.Error("Static(true) should be available")
	}
	if Static(false).Available(context.Background()) {
		t.Error("Static(false) should not be available")
	}
}

func TestProberCachesResult(t *testing.T) {
	calls := 0
	fail := false
	p := NewProber(func(context.Context) error {
		calls++
		if fail {
			return errors.New("down")
		}
		return nil
	}, time.Minute, time.Second)

	clock := time.Unix(1000, 0)
	p.now = func() time.Time { return clock }
	ctx := context.Background()

	if !p.Available(ctx) {
		t.Fatal("expected available")
	}
	fail = true
	if !p.Available(ctx) {
		t.Error("cached answer should still be available")
	}
	if calls != 1 {
		t.Errorf("expected 1 probe, got %d", calls)
	}

	clock = clock.Add(2 * time.Minute)
	if p.Available(ctx) {
		t.Error("expected unavailable after cache expiry")
	}

	fail = false
	p.Invalidate()
	if !p.Available(ctx) {
		t.Error("expected available after invalidate")
	}
	if calls != 3 {
		t.Errorf("expected 3 probes, got %d", calls)
	}
}
