package store

import (
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type fakeSub struct {
	id        int
	mu        sync.Mutex
	delivered []KV
	untracked []string
}

func newFakeSub(id int) *fakeSub { return &fakeSub{id: id} }

func (f *fakeSub) SessionID() int { return f.id }

func (f *fakeSub) Notify(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, KV{Key: key, Value: value})
}

func (f *fakeSub) Untrack(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.untracked = append(f.untracked, key)
}

func (f *fakeSub) snapshot() []KV {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]KV, len(f.delivered))
	copy(out, f.delivered)
	return out
}

func (f *fakeSub) untrackedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.untracked))
	copy(out, f.untracked)
	return out
}

func TestWriteThenRead(t *testing.T) {
	tb := NewTable()
	results := tb.Write([]KV{{Key: "alpha", Value: "1"}, {Key: "beta", Value: "2"}})
	for k, r := range results {
		if r != ResultOK {
			t.Fatalf("write %s: got %v, want OK", k, r)
		}
	}

	values, readResults := tb.Read([]string{"alpha", "beta", "missing"})
	if values["alpha"] != "1" || values["beta"] != "2" {
		t.Fatalf("unexpected values: %+v", values)
	}
	if readResults["missing"] != ResultNotFound {
		t.Fatalf("missing key: got %v, want NotFound", readResults["missing"])
	}
}

func TestWriteDedupLastWins(t *testing.T) {
	tb := NewTable()
	tb.Write([]KV{{Key: "dup", Value: "first"}, {Key: "dup", Value: "second"}})
	values, _ := tb.Read([]string{"dup"})
	if values["dup"] != "second" {
		t.Fatalf("got %q, want %q (last-wins)", values["dup"], "second")
	}
}

func TestDeleteNotFound(t *testing.T) {
	tb := NewTable()
	results := tb.Delete([]string{"ghost"})
	if results["ghost"] != ResultNotFound {
		t.Fatalf("got %v, want NotFound", results["ghost"])
	}
}

func TestSubscribeRequiresExistingKey(t *testing.T) {
	tb := NewTable()
	sub := newFakeSub(1)
	if err := tb.Subscribe("nope", sub); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestSubscribeReceivesWriteNotifications(t *testing.T) {
	tb := NewTable()
	tb.Write([]KV{{Key: "k", Value: "v1"}})

	sub := newFakeSub(1)
	if err := tb.Subscribe("k", sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	tb.Write([]KV{{Key: "k", Value: "v2"}})
	tb.Write([]KV{{Key: "k", Value: "v3"}})

	want := []KV{{Key: "k", Value: "v2"}, {Key: "k", Value: "v3"}}
	if diff := cmp.Diff(want, sub.snapshot()); diff != "" {
		t.Fatalf("unexpected notifications (-want +got):\n%s", diff)
	}
}

func TestDeleteNotifiesSubscribersThenDropsThem(t *testing.T) {
	tb := NewTable()
	tb.Write([]KV{{Key: "k", Value: "v1"}})
	sub := newFakeSub(1)
	if err := tb.Subscribe("k", sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	results := tb.Delete([]string{"k"})
	if results["k"] != ResultOK {
		t.Fatalf("delete: got %v, want OK", results["k"])
	}

	want := []KV{{Key: "k", Value: "DELETED"}}
	if diff := cmp.Diff(want, sub.snapshot()); diff != "" {
		t.Fatalf("unexpected notifications (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"k"}, sub.untrackedKeys()); diff != "" {
		t.Fatalf("expected subscriber to be told to untrack the deleted key (-want +got):\n%s", diff)
	}

	// Key is gone, so re-creating it must start with no subscribers.
	tb.Write([]KV{{Key: "k", Value: "v2"}})
	tb.Write([]KV{{Key: "k", Value: "v3"}})
	if diff := cmp.Diff(want, sub.snapshot()); diff != "" {
		t.Fatalf("subscriber should not have survived delete (-want +got):\n%s", diff)
	}
}

func TestUnsubscribeUnknownSubscriberErrors(t *testing.T) {
	tb := NewTable()
	tb.Write([]KV{{Key: "k", Value: "v"}})
	if err := tb.Unsubscribe("k", 99); err != ErrNoSuchSubscriber {
		t.Fatalf("got %v, want ErrNoSuchSubscriber", err)
	}
}

func TestUnsubscribeFromDeletedKeyIsNotAnError(t *testing.T) {
	tb := NewTable()
	if err := tb.Unsubscribe("never-existed", 1); err != nil {
		t.Fatalf("got %v, want nil", err)
	}
}

func TestShowReturnsSortedSnapshot(t *testing.T) {
	tb := NewTable()
	tb.Write([]KV{{Key: "zebra", Value: "z"}, {Key: "apple", Value: "a"}, {Key: "mango", Value: "m"}})

	got := tb.Show()
	want := []KV{{Key: "apple", Value: "a"}, {Key: "mango", Value: "m"}, {Key: "zebra", Value: "z"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected Show() output (-want +got):\n%s", diff)
	}
}

func TestConcurrentWritesAcrossBucketsDoNotRace(t *testing.T) {
	tb := NewTable()
	var wg sync.WaitGroup
	keys := []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf", "hotel"}
	for _, k := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				tb.Write([]KV{{Key: key, Value: "x"}})
			}
		}(k)
	}
	wg.Wait()

	values, _ := tb.Read(keys)
	if len(values) != len(keys) {
		t.Fatalf("got %d keys, want %d", len(values), len(keys))
	}
}

func TestMultiKeyLockOrderingIsDeadlockFree(t *testing.T) {
	tb := NewTable()
	tb.Write([]KV{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}, {Key: "c", Value: "3"}})

	var wg sync.WaitGroup
	keysAB := []string{"a", "b"}
	keysBA := []string{"b", "a"}
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tb.Read(keysAB)
		}()
		go func() {
			defer wg.Done()
			tb.Read(keysBA)
		}()
	}
	wg.Wait()
}

func TestSnapshotUnderWriteLockIsConsistent(t *testing.T) {
	tb := NewTable()
	tb.Write([]KV{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}})

	tb.WLockSnapshot()
	snap := tb.Snapshot()
	tb.WUnlockSnapshot()

	sort.Slice(snap, func(i, j int) bool { return snap[i].Key < snap[j].Key })
	want := []KV{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}
	if diff := cmp.Diff(want, snap); diff != "" {
		t.Fatalf("unexpected snapshot (-want +got):\n%s", diff)
	}
}
