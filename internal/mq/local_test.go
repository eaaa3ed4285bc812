package mq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcmarket/apiserver/config"
)

func TestLocalBroker_BroadcastsToEverySubscriber(t *testing.T) {
	broker := NewLocalBroker()
	bus := New(broker)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_ = bus.Subscribe(ctx, "changes", func(_ context.Context, msg Message) error {
				got <- string(msg.Data) + "/" + msg.Attributes["origin"]
				return nil
			})
		}()
	}
	require.Eventually(t, func() bool { return broker.Subscribers("changes") == 2 }, time.Second, 5*time.Millisecond)

	id, err := bus.Publish(ctx, "changes", []byte("items/i1"), map[string]string{"origin": "a"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	for i := 0; i < 2; i++ {
		select {
		case v := <-got:
			assert.Equal(t, "items/i1/a", v)
		case <-time.After(time.Second):
			t.Fatal("message not delivered")
		}
	}
}

func TestLocalBroker_SubscribeEndsWithContext(t *testing.T) {
	broker := NewLocalBroker()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- broker.Subscribe(ctx, "x", func(context.Context, Message) error { return nil }) }()
	require.Eventually(t, func() bool { return broker.Subscribers("x") == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, broker.Subscribers("x"))
}

func TestLocalBroker_ClosedRejects(t *testing.T) {
	broker := NewLocalBroker()
	require.NoError(t, broker.Close())
	_, err := broker.Publish(context.Background(), "x", nil, nil)
	assert.Error(t, err)
	_, err = broker.Publish(context.Background(), "", nil, nil)
	assert.Error(t, err)
}

func TestOpen_NoneBackend(t *testing.T) {
	bus, err := Open(context.Background(), configNone())
	require.NoError(t, err)
	assert.Nil(t, bus)
}

func TestOpen_LocalBackend(t *testing.T) {
	bus, err := Open(context.Background(), config.MQConfig{Backend: config.BackendLocal})
	require.NoError(t, err)
	require.NotNil(t, bus)
	assert.NoError(t, bus.Close())
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.MQConfig{Backend: "kafka"})
	assert.Error(t, err)
}

func configNone() config.MQConfig {
	return config.MQConfig{Backend: config.BackendNone}
}
