package dedup

import (
	"context"
	"testing"
	"time"
)

func TestMemoryFilterSuppressesRepeats(t *testing.T) {
	f := NewMemoryFilter()
	ctx := context.Background()

	first, err := f.IsNew(ctx, Key("proj/conn", "msg-1"))
	if err != nil || !first {
		t.Fatalf("first sighting should be new, got (%v, %v)", first, err)
	}

	second, err := f.IsNew(ctx, Key("proj/conn", "msg-1"))
	if err != nil || second {
		t.Fatalf("repeat sighting should not be new, got (%v, %v)", second, err)
	}

	other, _ := f.IsNew(ctx, Key("proj/conn", "msg-2"))
	if !other {
		t.Error("different native ID must not be suppressed")
	}
}

func TestMemoryFilterTTLAndSweep(t *testing.T) {
	f := NewMemoryFilter()
	clock := time.Now()
	f.now = func() time.Time { return clock }
	ctx := context.Background()

	f.IsNew(ctx, "k")
	clock = clock.Add(DefaultTTL + time.Minute)

	fresh, _ := f.IsNew(ctx, "k")
	if !fresh {
		t.Error("expired key should be treated as new again")
	}

	clock = clock.Add(DefaultTTL + time.Minute)
	if n := f.Sweep(); n != 1 {
		t.Errorf("sweep evicted %d entries, want 1", n)
	}
}
