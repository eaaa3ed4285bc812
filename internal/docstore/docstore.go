// Package docstore defines the realtime document store the marketplace core
// reads and writes: a JSON tree addressed by slash-separated paths, with
// push-based subscriptions that deliver full snapshots.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrInvalidPath is returned for empty or malformed paths.
	ErrInvalidPath = errors.New("invalid path")

	// ErrUnsupportedPath is returned when an operation cannot be applied at
	// the given depth, e.g. overwriting a whole collection.
	ErrUnsupportedPath = errors.New("unsupported path")

	// ErrNoValue is returned when decoding a snapshot with no data.
	ErrNoValue = errors.New("no value at path")
)

// Query narrows a subscription or fetch.
type Query struct {
	// LimitToLast keeps only the last N children by key order. Zero keeps all.
	LimitToLast int
}

// Child is one keyed entry under a snapshot's node.
type Child struct {
	Key   string
	Value json.RawMessage
}

// Decode unmarshals the child value into v.
func (c Child) Decode(v any) error {
	return json.Unmarshal(c.Value, v)
}

// Snapshot is a full point-in-time copy of the data at a path.
type Snapshot struct {
	Path   string
	Exists bool

	// Value is the JSON encoding of the node (after any query limit).
	Value json.RawMessage

	// Children lists object members ordered by ascending key. Push keys are
	// time ordered, so this is insertion order.
	Children []Child
}

// Decode unmarshals the snapshot value into v.
func (s Snapshot) Decode(v any) error {
	if !s.Exists {
		return ErrNoValue
	}
	return json.Unmarshal(s.Value, v)
}

// Subscription is a cancellable handle for a live listener. Every handle
// must be released with Unsubscribe; calling it twice is safe.
type Subscription interface {
	Unsubscribe()
}

// Store is the document store contract.
//
// Subscribe delivers the current snapshot immediately and again after every
// change at, above or below path. ctx bounds only the initial fetch; the
// listener lives until Unsubscribe.
type Store interface {
	Subscribe(ctx context.Context, path string, q Query, fn func(Snapshot)) (Subscription, error)
	FetchOnce(ctx context.Context, path string, q Query) (Snapshot, error)
	Write(ctx context.Context, path string, value any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	Push(ctx context.Context, path string, value any) (string, error)
	Delete(ctx context.Context, path string) error
}
