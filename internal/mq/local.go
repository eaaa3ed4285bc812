package mq

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// LocalBroker is an in-process broadcast backend. Every Subscribe call on a
// channel receives every message published to it after subscription.
type LocalBroker struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan Message
	next   int
	closed bool
}

// NewLocalBroker constructs an empty in-process broker.
func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[string]map[int]chan Message)}
}

// Publish delivers data to every current subscriber of channel.
func (l *LocalBroker) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("local channel is required")
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return "", errors.New("local broker closed")
	}
	targets := make([]chan Message, 0, len(l.subs[channel]))
	for _, ch := range l.subs[channel] {
		targets = append(targets, ch)
	}
	l.mu.Unlock()

	msg := Message{ID: uuid.NewString(), Data: append([]byte(nil), data...), Attributes: attrs}
	for _, ch := range targets {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return msg.ID, nil
}

// Subscribe runs handler for each message on channel until ctx is done.
// Handler errors are dropped; there is no redelivery.
func (l *LocalBroker) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("local channel is required")
	}
	ch := make(chan Message, 64)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errors.New("local broker closed")
	}
	if l.subs[channel] == nil {
		l.subs[channel] = make(map[int]chan Message)
	}
	id := l.next
	l.next++
	l.subs[channel][id] = ch
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.subs[channel], id)
		l.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			_ = handler(ctx, msg)
		}
	}
}

// Subscribers reports how many consumers are attached to channel.
func (l *LocalBroker) Subscribers(channel string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs[channel])
}

// Close rejects further publishes and subscriptions.
func (l *LocalBroker) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
