package session

import (
	"bytes"
	"testing"

	"kvsd/internal/store"
)

func TestAcquireUpToCapacityThenRejects(t *testing.T) {
	reg := NewRegistry(store.NewTable(), nil)
	for i := 0; i < MaxSessions; i++ {
		if _, err := reg.Acquire("client", &bytes.Buffer{}); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if _, err := reg.Acquire("overflow", &bytes.Buffer{}); err == nil {
		t.Fatalf("expected rejection past MAX_SESSIONS")
	}
}

func TestReleaseFreesSlotForReuse(t *testing.T) {
	reg := NewRegistry(store.NewTable(), nil)
	s, err := reg.Acquire("client", &bytes.Buffer{})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	reg.Release(s)
	if got := reg.ActiveCount(); got != 0 {
		t.Fatalf("got %d active, want 0", got)
	}
	if _, err := reg.Acquire("client2", &bytes.Buffer{}); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestSubscribeTracksForDisconnectCascade(t *testing.T) {
	tb := store.NewTable()
	tb.Write([]store.KV{{Key: "k", Value: "v"}})
	reg := NewRegistry(tb, nil)

	s, err := reg.Acquire("client", &bytes.Buffer{})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := reg.Subscribe(s, "k"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	reg.Release(s)

	// The key must no longer have the released session as a subscriber:
	// writing to it must not error and a later subscriber must start
	// with a clean notification history (exercised at the store layer
	// in store_test.go). Here we confirm the cascade ran without panic
	// and the session's own bookkeeping is empty post-release.
	if keys := s.SubscribedKeys(); len(keys) != 0 {
		t.Fatalf("expected no tracked keys after release, got %v", keys)
	}
}

func TestSubscribeRejectsPastMaxSubsPerSession(t *testing.T) {
	tb := store.NewTable()
	reg := NewRegistry(tb, nil)
	s, err := reg.Acquire("client", &bytes.Buffer{})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	for i := 0; i < MaxSubsPerSession; i++ {
		key := string(rune('a' + i))
		tb.Write([]store.KV{{Key: key, Value: "v"}})
		if err := reg.Subscribe(s, key); err != nil {
			t.Fatalf("subscribe %s: %v", key, err)
		}
	}

	tb.Write([]store.KV{{Key: "overflow", Value: "v"}})
	if err := reg.Subscribe(s, "overflow"); err == nil {
		t.Fatalf("expected rejection past MAX_SUBS_PER_SESSION")
	}
}
