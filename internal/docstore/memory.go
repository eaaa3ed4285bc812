package docstore

import (
	"context"
	"sync"
)

// Memory is an in-process Store. It backs tests and single-instance
// development runs.
type Memory struct {
	mu   sync.Mutex
	root any
	hub  *hub
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{hub: newHub()}
}

type pending struct {
	sub  *subscription
	snap Snapshot
}

func (m *Memory) Subscribe(ctx context.Context, path string, q Query, fn func(Snapshot)) (Subscription, error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	sub, seq := m.hub.add(path, segs, q, fn)
	snap, err := m.snapshotLocked(path, segs, q)
	m.mu.Unlock()
	if err != nil {
		sub.Unsubscribe()
		return nil, err
	}

	sub.deliver(seq, snap)
	return sub, nil
}

func (m *Memory) FetchOnce(ctx context.Context, path string, q Query) (Snapshot, error) {
	segs, err := splitPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(path, segs, q)
}

func (m *Memory) Write(ctx context.Context, path string, value any) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	v, err := normalize(value)
	if err != nil {
		return err
	}
	return m.mutate(segs, func(root any) (any, error) {
		return setIn(root, segs, v), nil
	})
}

func (m *Memory) Update(ctx context.Context, path string, fields map[string]any) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	return m.mutate(segs, func(root any) (any, error) {
		return mergeIn(root, segs, fields)
	})
}

func (m *Memory) Push(ctx context.Context, path string, value any) (string, error) {
	key := NewPushKey()
	if err := m.Write(ctx, Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	return m.Write(ctx, path, nil)
}

func (m *Memory) mutate(segs []string, apply func(root any) (any, error)) error {
	m.mu.Lock()
	root, err := apply(m.root)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.root = root

	subs, seq := m.hub.affected(segs)
	out := make([]pending, 0, len(subs))
	for _, sub := range subs {
		snap, err := m.snapshotLocked(sub.path, sub.segs, sub.query)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		out = append(out, pending{sub: sub, snap: snap})
	}
	m.mu.Unlock()

	for _, p := range out {
		p.sub.deliver(seq, p.snap)
	}
	return nil
}

func (m *Memory) snapshotLocked(path string, segs []string, q Query) (Snapshot, error) {
	node, _ := getIn(m.root, segs)
	return buildSnapshot(path, node, q)
}

// Listeners returns the number of live subscriptions.
func (m *Memory) Listeners() int {
	return m.hub.len()
}
