package store

import "sort"

// lockPlan resolves the distinct buckets a set of keys touches, in
// ascending bucket-index order. Every multi-key operation acquires
// its buckets through this plan so no two operations can ever lock
// the same pair of buckets in opposite orders — the deadlock
// avoidance spec §4.2 requires for multi-key WRITE/READ/DELETE.
// Show does not use a plan; it locks every bucket one at a time.
func (t *Table) lockPlan(keys []string) []*bucket {
	seen := make(map[int]bool)
	var idxs []int
	for _, k := range keys {
		idx := hash(k)
		if !seen[idx] {
			seen[idx] = true
			idxs = append(idxs, idx)
		}
	}
	sort.Ints(idxs)
	plan := make([]*bucket, len(idxs))
	for i, idx := range idxs {
		plan[i] = t.buckets[idx]
	}
	return plan
}

// dedupKeysLastWins collapses duplicate keys in a WRITE batch,
// keeping only the last occurrence of each — spec §4.2's rule for a
// single job line naming the same key twice.
func dedupKeysLastWins(pairs []KV) []KV {
	lastIdx := make(map[string]int, len(pairs))
	for i, p := range pairs {
		lastIdx[p.Key] = i
	}
	out := make([]KV, 0, len(lastIdx))
	emitted := make(map[string]bool, len(lastIdx))
	for _, p := range pairs {
		if emitted[p.Key] {
			continue
		}
		out = append(out, pairs[lastIdx[p.Key]])
		emitted[p.Key] = true
	}
	return out
}

// dedupKeys collapses duplicate keys in a READ/DELETE batch,
// preserving first occurrence order.
func dedupKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// pendingNotify is one subscriber's outstanding delivery, queued while
// a bucket lock is held and dispatched only after every bucket
// touched by the batch has been unlocked — so a stalled subscriber
// pipe can never hold a bucket lock (spec §5 rule 4, I5).
type pendingNotify struct {
	sub   Subscriber
	key   string
	value string
}

func dispatchNotifications(pending []pendingNotify) {
	for _, p := range pending {
		p.sub.Notify(p.key, p.value)
	}
}

// Write applies a WRITE batch: creates or overwrites each pair, in
// canonical bucket-lock order, and fans notifications out to every
// subscriber of a written key. Duplicate keys within the batch
// collapse to their last value per dedupKeysLastWins.
func (t *Table) Write(pairs []KV) map[string]Result {
	results, pending := t.write(pairs)
	dispatchNotifications(pending)
	return results
}

func (t *Table) write(pairs []KV) (map[string]Result, []pendingNotify) {
	t.RLockSnapshot()
	defer t.RUnlockSnapshot()

	pairs = dedupKeysLastWins(pairs)
	keys := make([]string, len(pairs))
	for i, p := range pairs {
		keys[i] = p.Key
	}
	plan := t.lockPlan(keys)
	for _, b := range plan {
		b.mu.Lock()
	}
	defer func() {
		for _, b := range plan {
			b.mu.Unlock()
		}
	}()

	results := make(map[string]Result, len(pairs))
	var pending []pendingNotify
	for _, p := range pairs {
		b := t.bucketFor(p.Key)
		e, exists := b.entries[p.Key]
		if !exists {
			e = &keyEntry{key: p.Key}
			b.entries[p.Key] = e
		}
		e.value = p.Value
		for _, s := range e.subs {
			pending = append(pending, pendingNotify{sub: s, key: p.Key, value: p.Value})
		}
		results[p.Key] = ResultOK
	}
	return results, pending
}

// Read fetches a READ batch in canonical bucket-lock order. Missing
// keys resolve to ResultNotFound and are absent from the values map.
func (t *Table) Read(keys []string) (map[string]string, map[string]Result) {
	t.RLockSnapshot()
	defer t.RUnlockSnapshot()

	keys = dedupKeys(keys)
	plan := t.lockPlan(keys)
	for _, b := range plan {
		b.mu.RLock()
	}
	defer func() {
		for _, b := range plan {
			b.mu.RUnlock()
		}
	}()

	values := make(map[string]string, len(keys))
	results := make(map[string]Result, len(keys))
	for _, k := range keys {
		b := t.bucketFor(k)
		e, exists := b.entries[k]
		if !exists {
			results[k] = ResultNotFound
			continue
		}
		values[k] = e.value
		results[k] = ResultOK
	}
	return values, results
}

// Delete removes a DELETE batch in canonical bucket-lock order. Every
// subscriber of a deleted key receives a final "DELETED" notification
// and is told to untrack the key from its own bookkeeping — the
// cascading teardown spec §4.1 bucket_delete step (b) requires so no
// session's subscription set or sub_count can outlive the key it
// named. Both calls are made after the entry has been removed and
// every bucket lock released.
func (t *Table) Delete(keys []string) map[string]Result {
	results, pending := t.delete(keys)
	for _, p := range pending {
		p.sub.Notify(p.key, p.value)
		p.sub.Untrack(p.key)
	}
	return results
}

func (t *Table) delete(keys []string) (map[string]Result, []pendingNotify) {
	t.RLockSnapshot()
	defer t.RUnlockSnapshot()

	keys = dedupKeys(keys)
	plan := t.lockPlan(keys)
	for _, b := range plan {
		b.mu.Lock()
	}
	defer func() {
		for _, b := range plan {
			b.mu.Unlock()
		}
	}()

	results := make(map[string]Result, len(keys))
	var pending []pendingNotify
	for _, k := range keys {
		b := t.bucketFor(k)
		e, exists := b.entries[k]
		if !exists {
			results[k] = ResultNotFound
			continue
		}
		for _, s := range e.subs {
			pending = append(pending, pendingNotify{sub: s, key: k, value: "DELETED"})
		}
		e.subs = nil
		delete(b.entries, k)
		results[k] = ResultOK
	}
	return results, pending
}

// Show returns every stored pair, sorted by key, taking each bucket's
// read lock one at a time in ascending order. Unlike Write/Read/
// Delete it always touches all TableSize buckets since it has no key
// list to plan around.
func (t *Table) Show() []KV {
	t.RLockSnapshot()
	defer t.RUnlockSnapshot()

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

// Subscribe registers sub on key's notification list. Returns
// ErrNotFound if the key does not currently exist, per the Open
// Question decision recorded in DESIGN.md: SUBSCRIBE of a
// non-existent key is rejected rather than tracked speculatively.
func (t *Table) Subscribe(key string, sub Subscriber) error {
	t.RLockSnapshot()
	defer t.RUnlockSnapshot()

	b := t.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	e, exists := b.entries[key]
	if !exists {
		return ErrNotFound
	}
	e.addSub(sub)
	return nil
}

// Unsubscribe removes sessionID from key's notification list. It is
// not an error to unsubscribe from a key that no longer exists
// (it may have been deleted, which already dropped every subscriber);
// it is only an error if the key exists but sessionID was never on
// its subscriber list.
func (t *Table) Unsubscribe(key string, sessionID int) error {
	t.RLockSnapshot()
	defer t.RUnlockSnapshot()

	b := t.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	e, exists := b.entries[key]
	if !exists {
		return nil
	}
	if !e.removeSub(sessionID) {
		return ErrNoSuchSubscriber
	}
	return nil
}

// UnsubscribeAll drops sessionID from each key in keys; keys not in
// the list are not touched. Used on client disconnect (spec §4.6): the
// session layer tracks which keys a session subscribed to and calls
// this once with that whole list.
func (t *Table) UnsubscribeAll(keys []string, sessionID int) {
	for _, k := range keys {
		_ = t.Unsubscribe(k, sessionID)
	}
}
