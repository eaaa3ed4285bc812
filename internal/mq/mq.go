// Package mq carries change notifications between server instances. A
// message is a hint that a document path changed; receivers re-read the
// document store rather than trusting the payload.
package mq

import "context"

// Message is one broadcast as seen by a subscriber.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. A returned error nacks it.
type Handler func(ctx context.Context, msg Message) error

// Backend is a broadcast transport. Every Subscribe call on a channel must
// see every message published to that channel afterwards.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

type MQ struct {
	backend Backend
}

func New(backend Backend) *MQ {
	return &MQ{backend: backend}
}

// Publish broadcasts data on channel and returns the backend message id.
func (m *MQ) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	return m.backend.Publish(ctx, channel, data, attrs)
}

// Subscribe blocks, delivering messages on channel to handler until ctx is
// done or the backend fails.
func (m *MQ) Subscribe(ctx context.Context, channel string, handler Handler) error {
	return m.backend.Subscribe(ctx, channel, handler)
}

func (m *MQ) Close() error {
	return m.backend.Close()
}
