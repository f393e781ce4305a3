package subscription

import (
	"sync"
	"time"
)

// registry owns every live subscription entry and assigns the monotonic,
// never-reused ids spec.md §8 requires ("the integer ids returned across the
// process lifetime are strictly increasing and never reused"). It is the
// generalization of the teacher's per-provider map into a single owned
// store with a secondary index, per spec.md §9's redesign note against
// "overlapping repositories with in-memory indexes".
type registry struct {
	mu       sync.Mutex
	nextID   uint64
	entries  map[uint64]*entry
	byRemote map[uint64]*entry
	now      func() time.Time
}

func newRegistry(now func() time.Time) *registry {
	return &registry{
		entries:  make(map[uint64]*entry),
		byRemote: make(map[uint64]*entry),
		now:      now,
	}
}

// add assigns the next id to e and stores it.
func (r *registry) add(e *entry) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	e.id = r.nextID
	e.createdAt = r.now()
	r.entries[e.id] = e
	return e.id
}

// remove deletes the entry for id, also clearing its reverse-index entry if
// it had a live remote subscription.
func (r *registry) remove(id uint64) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	delete(r.entries, id)
	if e.hasRemote {
		delete(r.byRemote, e.remoteID)
	}
	return e, true
}

func (r *registry) get(id uint64) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// setRemote records that e now has a live remote subscription handle,
// indexing it for fast notification dispatch.
func (r *registry) setRemote(id uint64, remoteID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return
	}
	e.remoteID = remoteID
	e.hasRemote = true
	r.byRemote[remoteID] = e
}

// findByRemote looks up the entry currently associated with a provider's
// remote subscription id, used to route inbound notifications.
func (r *registry) findByRemote(remoteID uint64) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byRemote[remoteID]
	return e, ok
}

// removeByRemote atomically removes the entry associated with remoteID, used
// for the signature subscription's one-shot delivery (spec.md §4.7
// "the entry is then removed atomically so later deliveries are
// impossible").
func (r *registry) removeByRemote(remoteID uint64) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byRemote[remoteID]
	if !ok {
		return nil, false
	}
	delete(r.byRemote, remoteID)
	delete(r.entries, e.id)
	return e, true
}

// all returns a snapshot slice of every live entry, safe to range over
// without holding the registry lock (entries are pointers the caller must
// not mutate concurrently with registry methods, but field reads of
// immutable subscription parameters are safe).
func (r *registry) all() []*entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// clearRemoteHandles marks every entry as having no live remote
// subscription, used when the channel is lost (spec.md §4.7 Reconnect:
// "removes all remote subscriptions (best effort)").
func (r *registry) clearRemoteHandles() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.hasRemote = false
		e.remoteID = 0
	}
	r.byRemote = make(map[uint64]*entry)
}
