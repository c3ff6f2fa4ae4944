package session

import (
	"fmt"
	"io"
	"sync"

	"kvsd/internal/metrics"
	"kvsd/internal/store"
	"kvsd/internal/wire"
)

// MaxSessions is the fixed slot count, spec §6.3's MAX_SESSIONS.
const MaxSessions = wire.MaxSessions

// Registry is the server's fixed-capacity table of connected
// sessions, generalizing the sharded hub's atomic-id-and-membership
// pattern to MaxSessions explicit slots guarded by a single mutex.
type Registry struct {
	mu      sync.Mutex
	slots   [MaxSessions]*Session
	nextID  int
	table   *store.Table
	metrics *metrics.Registry
}

// NewRegistry builds an empty registry bound to table for the
// disconnect-cascade's unsubscribe-all calls.
func NewRegistry(table *store.Table, m *metrics.Registry) *Registry {
	return &Registry{table: table, metrics: m}
}

// Acquire claims a free slot for a newly connecting client, or
// returns an error if all MaxSessions slots are occupied — the
// admission-control boundary from spec §4.4/§9(a). Callers (the
// dispatcher) are expected to apply their own queuing/pacing in front
// of this call; Acquire itself never blocks.
func (r *Registry) Acquire(clientTag string, notifSink io.Writer) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, slot := range r.slots {
		if slot != nil {
			continue
		}
		r.nextID++
		s := newSession(r.nextID, clientTag, notifSink)
		r.slots[i] = s
		if r.metrics != nil {
			r.metrics.ActiveSessions.Inc()
		}
		return s, nil
	}
	if r.metrics != nil {
		r.metrics.ConnectRejected.Inc()
	}
	return nil, fmt.Errorf("session: no free slot, MAX_SESSIONS=%d reached", MaxSessions)
}

// Release tears a session down: unsubscribes it from every key it
// tracked (the cascading teardown of spec §4.6), clears its tracked
// key set, closes its notification sink, and frees its slot for reuse.
func (r *Registry) Release(s *Session) {
	keys := s.SubscribedKeys()
	r.table.UnsubscribeAll(keys, s.SessionID())
	for _, k := range keys {
		s.Untrack(k)
	}
	s.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, slot := range r.slots {
		if slot == s {
			r.slots[i] = nil
			if r.metrics != nil {
				r.metrics.ActiveSessions.Dec()
			}
			return
		}
	}
}

// Subscribe binds session s to key. The key is added to the session's
// tracked set first (which enforces MaxSubsPerSession) and dropped
// again if the store rejects the subscription.
func (r *Registry) Subscribe(s *Session, key string) error {
	if err := s.TrackSubscription(key); err != nil {
		return err
	}
	if err := r.table.Subscribe(key, s); err != nil {
		s.Untrack(key)
		return err
	}
	return nil
}

// Unsubscribe unbinds session s from key.
func (r *Registry) Unsubscribe(s *Session, key string) error {
	if err := r.table.Unsubscribe(key, s.SessionID()); err != nil {
		return err
	}
	s.Untrack(key)
	return nil
}

// ActiveCount reports how many slots are currently occupied.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, slot := range r.slots {
		if slot != nil {
			n++
		}
	}
	return n
}

// Stats is a point-in-time summary of the registry, exposed for
// HELP/diagnostic commands and tests.
type Stats struct {
	Active   int
	Capacity int
}

// StatsSnapshot returns a snapshot of registry occupancy.
func (r *Registry) StatsSnapshot() Stats {
	return Stats{Active: r.ActiveCount(), Capacity: MaxSessions}
}
