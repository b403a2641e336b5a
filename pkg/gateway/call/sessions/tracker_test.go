package sessions

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestTracker_RegisterUnregister_CountAndWait(t *testing.T) {
	tr := NewTracker()
	if tr.Count() != 0 {
		t.Fatalf("initial count=%d, want 0", tr.Count())
	}

	u1 := tr.Register("c1", Handle{})
	u2 := tr.Register("c2", Handle{})
	if tr.Count() != 2 {
		t.Fatalf("count=%d, want 2", tr.Count())
	}

	u1()
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}

	u2()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if ok := tr.Wait(ctx); !ok {
		t.Fatalf("expected Wait to return true")
	}
	if tr.Count() != 0 {
		t.Fatalf("count=%d, want 0", tr.Count())
	}
}

func TestTracker_UnregisterIsIdempotent(t *testing.T) {
	tr := NewTracker()
	u := tr.Register("c1", Handle{})
	u()
	u()
	if tr.Count() != 0 {
		t.Fatalf("count=%d, want 0", tr.Count())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if !tr.Wait(ctx) {
		t.Fatalf("double unregister corrupted the waitgroup")
	}
}

func TestTracker_DuplicateIDEvictsOldEntry(t *testing.T) {
	tr := NewTracker()
	var oldCanceled atomic.Int64
	tr.Register("c1", Handle{Cancel: func() { oldCanceled.Add(1) }})
	u2 := tr.Register("c1", Handle{})

	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1 after duplicate register", tr.Count())
	}

	u2()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if !tr.Wait(ctx) {
		t.Fatalf("expected tracker to drain after eviction")
	}
}

func TestTracker_CancelAll_CallsEveryCancel(t *testing.T) {
	tr := NewTracker()
	var c1, c2 atomic.Int64
	tr.Register("c1", Handle{Cancel: func() { c1.Add(1) }})
	tr.Register("c2", Handle{Cancel: func() { c2.Add(1) }})

	if n := tr.CancelAll(); n != 2 {
		t.Fatalf("canceled=%d, want 2", n)
	}
	if c1.Load() != 1 || c2.Load() != 1 {
		t.Fatalf("cancel calls=%d/%d, want 1/1", c1.Load(), c2.Load())
	}
}

func TestTracker_WaitTimesOutWhileCallsRemain(t *testing.T) {
	tr := NewTracker()
	tr.Register("c1", Handle{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if tr.Wait(ctx) {
		t.Fatalf("expected Wait to time out with a registered call")
	}
}

func TestTracker_NilSafe(t *testing.T) {
	var tr *Tracker
	u := tr.Register("c1", Handle{})
	u()
	if tr.Count() != 0 {
		t.Fatalf("nil tracker count=%d, want 0", tr.Count())
	}
	if tr.CancelAll() != 0 {
		t.Fatalf("nil tracker canceled non-zero")
	}
	if !tr.Wait(context.Background()) {
		t.Fatalf("nil tracker Wait should return true")
	}
}
