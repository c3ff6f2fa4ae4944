// Package store implements the concurrent key/value engine: a
// fixed-size bucketed hash table with per-bucket locking, a
// table-level lock used only for the backup snapshot protocol, and a
// per-key subscription index.
//
// The bucket layout generalizes the sharded connection map pattern
// (a fixed array of shards, each with its own lock and membership
// set) to a fixed array of hash buckets, each owning a set of keys
// instead of a set of connections.
package store

import (
	"sort"
	"sync"
)

// TableSize is the fixed bucket count (spec §3: 26 buckets).
const TableSize = 26

// Subscriber receives notifications for keys it has subscribed to.
// internal/session's Session type implements this; the store package
// never imports session, keeping the dependency one-directional.
type Subscriber interface {
	// SessionID uniquely identifies the subscriber within a key's
	// subscription index, used for ordering and dedup.
	SessionID() int
	// Notify is called with the key and its new value (or "DELETED")
	// whenever a WRITE or DELETE observes the subscriber on that key.
	// The store dispatches every Notify call after releasing the
	// bucket lock, so implementations may block without holding up
	// other operations on the same bucket.
	Notify(key, value string)
	// Untrack is called once per subscriber when key is deleted, so
	// the subscriber can drop key from its own bookkeeping (spec §4.1
	// bucket_delete step (b)). Called after the bucket lock is
	// released, alongside the final Notify for key.
	Untrack(key string)
}

// keyEntry is one hash-table slot: a key, its current value, and the
// set of sessions subscribed to it. subs is kept as a sorted slice
// rather than a map so that fan-out notification order is
// deterministic across runs, a property the original AVL-indexed
// implementation gave for free via in-order traversal.
type keyEntry struct {
	key   string
	value string
	subs  []Subscriber
}

func (e *keyEntry) indexOf(sessionID int) int {
	for i, s := range e.subs {
		if s.SessionID() == sessionID {
			return i
		}
	}
	return -1
}

func (e *keyEntry) addSub(s Subscriber) bool {
	if e.indexOf(s.SessionID()) >= 0 {
		return false
	}
	e.subs = append(e.subs, s)
	sort.Slice(e.subs, func(i, j int) bool { return e.subs[i].SessionID() < e.subs[j].SessionID() })
	return true
}

func (e *keyEntry) removeSub(sessionID int) bool {
	i := e.indexOf(sessionID)
	if i < 0 {
		return false
	}
	e.subs = append(e.subs[:i], e.subs[i+1:]...)
	return true
}

// bucket is one shard of the hash table: its own entries map and its
// own RWMutex, so unrelated keys never contend.
type bucket struct {
	mu      sync.RWMutex
	entries map[string]*keyEntry
}

func newBucket() *bucket {
	return &bucket{entries: make(map[string]*keyEntry)}
}

// Table is the full concurrent key/value engine.
type Table struct {
	buckets [TableSize]*bucket
	// trw guards the backup snapshot protocol: RLock for every normal
	// operation (so writers can proceed concurrently with each other
	// across buckets), Lock held only while freezing a snapshot so no
	// write can observe a torn mid-backup state. See internal/snapshot.
	trw sync.RWMutex
}

// NewTable builds an empty table with all TableSize buckets ready.
func NewTable() *Table {
	t := &Table{}
	for i := range t.buckets {
		t.buckets[i] = newBucket()
	}
	return t
}

// hash maps a key to a bucket index in [0, TableSize), using the
// first byte of the key, the same folding scheme as the original
// kvs.c hash table: 'a'..'z' map to 0..25 and '0'..'9' to 0..9. Any
// other first byte (and the empty key) is folded modulo TableSize.
func hash(key string) int {
	if len(key) == 0 {
		return 0
	}
	c := key[0]
	switch {
	case c >= 'a' && c <= 'z':
		return int(c - 'a')
	case c >= '0' && c <= '9':
		return int(c - '0')
	}
	return int(c) % TableSize
}

// bucketFor returns the bucket owning key.
func (t *Table) bucketFor(key string) *bucket {
	return t.buckets[hash(key)]
}

// RLockSnapshot and RUnlockSnapshot bracket every batch operation;
// WLockSnapshot/WUnlockSnapshot are used exclusively by the backup
// protocol to freeze a consistent view of every bucket.
func (t *Table) RLockSnapshot()   { t.trw.RLock() }
func (t *Table) RUnlockSnapshot() { t.trw.RUnlock() }
func (t *Table) WLockSnapshot()   { t.trw.Lock() }
func (t *Table) WUnlockSnapshot() { t.trw.Unlock() }

// Keys returns every key currently stored, across all buckets, sorted.
// Callers must hold WLockSnapshot for a consistent view.
func (t *Table) Keys() []string {
	var keys []string
	for _, b := range t.buckets {
		b.mu.RLock()
		for k := range b.entries {
			keys = append(keys, k)
		}
		b.mu.RUnlock()
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a stable copy of key->value pairs, sorted by key.
// Callers must hold WLockSnapshot.
func (t *Table) Snapshot() []KV {
	var out []KV
	for _, b := range t.buckets {
		b.mu.RLock()
		for k, e := range b.entries {
			out = append(out, KV{Key: k, Value: e.value})
		}
		b.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// KV is a key/value pair, used by Show and Snapshot.
type KV struct {
	Key   string
	Value string
}
