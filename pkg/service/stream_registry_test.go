package service

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestStreamRegistry_RegisterSupersedes(t *testing.T) {
	r := NewStreamRegistry()
	first := NewStreamSession(context.Background(), "c1", "u1", "m")
	second := NewStreamSession(context.Background(), "c1", "u1", "m")

	r.Register("c1", first)
	r.Register("c1", second)

	select {
	case <-first.Done():
	default:
		t.Fatalf("first session should be cancelled")
	}
	if !errors.Is(first.Cause(), ErrStreamSuperseded) {
		t.Fatalf("first cause = %v, want ErrStreamSuperseded", first.Cause())
	}
	if second.Cause() != nil {
		t.Fatalf("second session should be live")
	}
	got, ok := r.Lookup("c1")
	if !ok || got != second {
		t.Fatalf("Lookup returned %p, want %p", got, second)
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
}

func TestStreamRegistry_ReleaseIsIdentityChecked(t *testing.T) {
	r := NewStreamRegistry()
	old := NewStreamSession(context.Background(), "c1", "u1", "m")
	cur := NewStreamSession(context.Background(), "c1", "u1", "m")
	r.Register("c1", old)
	r.Register("c1", cur)

	r.Release("c1", old)
	if !r.IsStreaming("c1") {
		t.Fatalf("releasing a superseded session removed the live one")
	}
	r.Release("c1", cur)
	if r.IsStreaming("c1") {
		t.Fatalf("expected c1 to be released")
	}
}

func TestStreamRegistry_Cancel(t *testing.T) {
	r := NewStreamRegistry()
	if r.Cancel("missing") {
		t.Fatalf("Cancel on unknown id should report false")
	}

	s := NewStreamSession(context.Background(), "c1", "u1", "m")
	r.Register("c1", s)
	if !r.Cancel("c1") {
		t.Fatalf("Cancel should report true")
	}
	if !errors.Is(s.Cause(), ErrStreamCancelled) {
		t.Fatalf("cause = %v", s.Cause())
	}
	if r.Len() != 0 {
		t.Fatalf("session not removed")
	}
}

func TestStreamRegistry_CancelOwned(t *testing.T) {
	r := NewStreamRegistry()
	s := NewStreamSession(context.Background(), "c1", "owner", "m")
	r.Register("c1", s)

	ok, err := r.CancelOwned("c1", "intruder")
	if ok || !errors.Is(err, ErrStreamNotOwned) {
		t.Fatalf("CancelOwned by other user = %v, %v", ok, err)
	}
	if s.Cause() != nil {
		t.Fatalf("session cancelled by non-owner")
	}

	ok, err = r.CancelOwned("c1", "owner")
	if !ok || err != nil {
		t.Fatalf("CancelOwned by owner = %v, %v", ok, err)
	}

	ok, err = r.CancelOwned("c1", "owner")
	if ok || err != nil {
		t.Fatalf("second CancelOwned = %v, %v", ok, err)
	}
}

func TestStreamRegistry_Concurrent(t *testing.T) {
	r := NewStreamRegistry()
	var wg sync.WaitGroup
	sessions := make([]*StreamSession, 50)
	for i := range sessions {
		sessions[i] = NewStreamSession(context.Background(), "c1", "u1", "m")
	}
	for _, s := range sessions {
		wg.Add(1)
		go func(s *StreamSession) {
			defer wg.Done()
			r.Register("c1", s)
		}(s)
	}
	wg.Wait()

	live := 0
	for _, s := range sessions {
		if s.Cause() == nil {
			live++
		}
	}
	if live != 1 {
		t.Fatalf("live sessions = %d, want 1", live)
	}
	cur, _ := r.Lookup("c1")
	if cur.Cause() != nil {
		t.Fatalf("registered session is cancelled")
	}
}
