package docstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Join builds a path from segments.
func Join(segs ...string) string {
	return strings.Join(segs, "/")
}

func splitPath(p string) ([]string, error) {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return nil, ErrInvalidPath
	}
	segs := strings.Split(p, "/")
	for _, s := range segs {
		if s == "" || s == "." || s == ".." || strings.ContainsAny(s, "#$[]") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return segs, nil
}

// related reports whether a change at b is visible to a listener at a.
func related(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// normalize converts an arbitrary Go value into its generic JSON form so the
// tree only ever holds map[string]any, []any and scalars.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return prune(out), nil
}

// prune drops null members and empty objects, matching how the store never
// keeps empty nodes.
func prune(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		child = prune(child)
		if child == nil {
			delete(m, k)
			continue
		}
		m[k] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func getIn(node any, segs []string) (any, bool) {
	for _, s := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[s]
		if !ok {
			return nil, false
		}
	}
	return node, node != nil
}

// setIn returns node with v placed at segs. A nil v removes the entry and
// any parents left empty.
func setIn(node any, segs []string, v any) any {
	if len(segs) == 0 {
		return v
	}
	m, ok := node.(map[string]any)
	if !ok {
		m = make(map[string]any)
	}
	child := setIn(m[segs[0]], segs[1:], v)
	if child == nil {
		delete(m, segs[0])
	} else {
		m[segs[0]] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// mergeIn applies each field of fields beneath segs. Field names may hold
// nested paths.
func mergeIn(node any, segs []string, fields map[string]any) (any, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sub, err := splitPath(k)
		if err != nil {
			return nil, err
		}
		v, err := normalize(fields[k])
		if err != nil {
			return nil, err
		}
		full := make([]string, 0, len(segs)+len(sub))
		full = append(full, segs...)
		full = append(full, sub...)
		node = setIn(node, full, v)
	}
	return node, nil
}

func buildSnapshot(path string, node any, q Query) (Snapshot, error) {
	snap := Snapshot{Path: path}
	if node == nil {
		return snap, nil
	}
	if m, ok := node.(map[string]any); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if q.LimitToLast > 0 && len(keys) > q.LimitToLast {
			keys = keys[len(keys)-q.LimitToLast:]
		}
		limited := make(map[string]any, len(keys))
		snap.Children = make([]Child, 0, len(keys))
		for _, k := range keys {
			raw, err := json.Marshal(m[k])
			if err != nil {
				return Snapshot{}, err
			}
			limited[k] = m[k]
			snap.Children = append(snap.Children, Child{Key: k, Value: raw})
		}
		node = limited
	}
	raw, err := json.Marshal(node)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Exists = true
	snap.Value = raw
	return snap, nil
}

// NewPushKey returns a time-ordered key, so ascending key order is
// insertion order.
func NewPushKey() string {
	return uuid.Must(uuid.NewV7()).String()
}
