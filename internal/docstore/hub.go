package docstore

import (
	"sync"
	"sync/atomic"
)

// hub tracks live listeners and orders their deliveries.
type hub struct {
	mu   sync.Mutex
	subs map[uint64]*subscription
	next uint64
	seq  uint64
}

func newHub() *hub {
	return &hub{subs: make(map[uint64]*subscription)}
}

type subscription struct {
	id    uint64
	hub   *hub
	path  string
	segs  []string
	query Query
	fn    func(Snapshot)

	mu     sync.Mutex
	last   uint64
	closed atomic.Bool
}

func (h *hub) add(path string, segs []string, q Query, fn func(Snapshot)) (*subscription, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.seq++
	sub := &subscription{id: h.next, hub: h, path: path, segs: segs, query: q, fn: fn}
	h.subs[sub.id] = sub
	return sub, h.seq
}

// affected returns the listeners that observe a change at segs, stamped with
// a sequence number newer than any earlier change.
func (h *hub) affected(segs []string) ([]*subscription, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	var out []*subscription
	for _, sub := range h.subs {
		if related(sub.segs, segs) {
			out = append(out, sub)
		}
	}
	return out, h.seq
}

func (h *hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// deliver hands snap to the listener unless a newer snapshot was already
// delivered or the listener was released. Deliveries to one listener are
// serialized, so callbacks never overlap and never run out of order.
// Callbacks must not write to the store.
func (s *subscription) deliver(seq uint64, snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() || seq <= s.last {
		return
	}
	s.last = seq
	s.fn(snap)
}

func (s *subscription) Unsubscribe() {
	if s.closed.Swap(true) {
		return
	}
	s.hub.remove(s.id)
}
