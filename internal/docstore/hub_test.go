package docstore

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliver_DropsStaleSequence(t *testing.T) {
	h := newHub()
	rec := &recorder{}
	sub, _ := h.add("items", []string{"items"}, Query{}, rec.fn)

	sub.deliver(5, Snapshot{Path: "items", Exists: true})
	sub.deliver(3, Snapshot{Path: "items"})
	sub.deliver(5, Snapshot{Path: "items"})
	require.Equal(t, 1, rec.count())
	assert.True(t, rec.last(t).Exists)

	sub.Unsubscribe()
	sub.deliver(6, Snapshot{Path: "items"})
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, 0, h.len())
}

func TestDeliver_SerializedPerListener(t *testing.T) {
	h := newHub()
	entered := make(chan struct{})
	unblock := make(chan struct{})

	var mu sync.Mutex
	var order []string
	sub, _ := h.add("items", []string{"items"}, Query{}, func(s Snapshot) {
		if s.Path == "old" {
			close(entered)
			<-unblock
		}
		mu.Lock()
		order = append(order, s.Path)
		mu.Unlock()
	})

	oldDone := make(chan struct{})
	go func() {
		sub.deliver(1, Snapshot{Path: "old"})
		close(oldDone)
	}()
	<-entered

	newDone := make(chan struct{})
	go func() {
		sub.deliver(2, Snapshot{Path: "new"})
		close(newDone)
	}()

	select {
	case <-newDone:
		t.Fatal("newer delivery ran while an older callback was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(unblock)
	<-oldDone
	<-newDone

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"old", "new"}, order)
}

func TestDeliver_ConcurrentStaysMonotonic(t *testing.T) {
	h := newHub()
	var mu sync.Mutex
	var seen []int
	sub, _ := h.add("items", []string{"items"}, Query{}, func(s Snapshot) {
		mu.Lock()
		seen = append(seen, len(s.Path))
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub.deliver(uint64(i), Snapshot{Path: string(make([]byte, i))})
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
}
