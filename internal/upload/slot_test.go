package upload

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spoolPNG(t *testing.T, name string) *Local {
	t.Helper()
	l, err := Spool(bytes.NewReader(pngHeader), name, AvatarLimit)
	require.NoError(t, err)
	t.Cleanup(l.Release)
	return l
}

func TestSlot_StaleResolutionIgnored(t *testing.T) {
	var s Slot
	first := spoolPNG(t, "first.png")
	second := spoolPNG(t, "second.png")

	g1, err := s.Begin(first)
	require.NoError(t, err)
	g2, err := s.Begin(second)
	require.NoError(t, err)
	assert.True(t, first.Released(), "superseded local image is released")

	assert.True(t, s.Resolve(g2, "https://img/second.png", nil))
	assert.False(t, s.Resolve(g1, "https://img/first.png", nil))

	v := s.View()
	assert.Equal(t, SlotCommitted, v.State)
	assert.Equal(t, "https://img/second.png", v.URL)
	assert.True(t, second.Released())
}

func TestSlot_FailureReleasesLocal(t *testing.T) {
	var s Slot
	l := spoolPNG(t, "a.png")
	g, err := s.Begin(l)
	require.NoError(t, err)
	assert.Equal(t, "a.png", s.View().Preview)

	boom := errors.New("boom")
	assert.True(t, s.Resolve(g, "", boom))
	v := s.View()
	assert.Equal(t, SlotFailed, v.State)
	assert.ErrorIs(t, v.Err, boom)
	assert.True(t, l.Released())
}

func TestSlot_CloseReleasesAndRejects(t *testing.T) {
	var s Slot
	l := spoolPNG(t, "a.png")
	g, err := s.Begin(l)
	require.NoError(t, err)

	s.Close()
	assert.True(t, l.Released())
	assert.False(t, s.Resolve(g, "https://img/a.png", nil))

	_, err = s.Begin(spoolPNG(t, "b.png"))
	assert.ErrorIs(t, err, ErrSlotClosed)
}

type gatedHost struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
}

func (h *gatedHost) gate(name string) chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gates == nil {
		h.gates = map[string]chan struct{}{}
	}
	if _, ok := h.gates[name]; !ok {
		h.gates[name] = make(chan struct{})
	}
	return h.gates[name]
}

func (h *gatedHost) Upload(ctx context.Context, f File) (string, error) {
	<-h.gate(f.Name)
	return "https://img/" + f.Name, nil
}

func TestSlot_UploadLastWins(t *testing.T) {
	var s Slot
	host := &gatedHost{}

	slow := spoolPNG(t, "slow.png")
	fast := spoolPNG(t, "fast.png")

	slowDone := make(chan error, 1)
	go func() {
		_, err := s.Upload(context.Background(), host, slow)
		slowDone <- err
	}()
	require.Eventually(t, func() bool { return s.View().Preview == "slow.png" }, time.Second, time.Millisecond)

	fastDone := make(chan string, 1)
	go func() {
		url, _ := s.Upload(context.Background(), host, fast)
		fastDone <- url
	}()
	require.Eventually(t, func() bool { return s.View().Preview == "fast.png" }, time.Second, time.Millisecond)

	close(host.gate("fast.png"))
	assert.Equal(t, "https://img/fast.png", <-fastDone)

	close(host.gate("slow.png"))
	assert.ErrorIs(t, <-slowDone, ErrSuperseded)
	assert.Equal(t, "https://img/fast.png", s.View().URL)
}
