package upload

import (
	"context"
	"sync"

	"github.com/vcmarket/apiserver/internal/metrics"
)

// SlotState is the phase of an image slot.
type SlotState int

const (
	SlotEmpty SlotState = iota
	SlotPending
	SlotCommitted
	SlotFailed
)

func (s SlotState) String() string {
	switch s {
	case SlotPending:
		return "pending"
	case SlotCommitted:
		return "committed"
	case SlotFailed:
		return "failed"
	default:
		return "empty"
	}
}

// SlotView is a point-in-time copy of a slot.
type SlotView struct {
	State SlotState
	// Preview names the pending local image.
	Preview string
	URL     string
	Err     error
}

// Slot holds one image field (an avatar, a cover) across overlapping
// uploads. Each Begin bumps the generation; a resolution carrying an older
// generation is dropped. The pending local image is released on every
// transition out of Pending and on Close.
type Slot struct {
	mu     sync.Mutex
	gen    uint64
	state  SlotState
	local  *Local
	url    string
	err    error
	closed bool
}

// Begin enters Pending with local and returns the new generation. A still
// pending image from an earlier Begin is released.
func (s *Slot) Begin(local *Local) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		local.Release()
		return 0, ErrSlotClosed
	}
	s.local.Release()
	s.gen++
	s.state = SlotPending
	s.local = local
	s.err = nil
	return s.gen, nil
}

// Resolve settles generation gen. It reports false, and changes nothing, when
// gen is no longer current.
func (s *Slot) Resolve(gen uint64, url string, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen || s.state != SlotPending {
		return false
	}
	s.local.Release()
	s.local = nil
	if err != nil {
		s.state = SlotFailed
		s.err = err
		return true
	}
	s.state = SlotCommitted
	s.url = url
	return true
}

// Upload runs one generation through host. It returns ErrSuperseded when a
// newer Begin won while this upload was in flight.
func (s *Slot) Upload(ctx context.Context, host Host, local *Local) (string, error) {
	f, err := local.File()
	if err != nil {
		local.Release()
		return "", err
	}
	gen, err := s.Begin(local)
	if err != nil {
		return "", err
	}

	url, err := host.Upload(ctx, f)
	metrics.RecordUpload(err)
	url = ToHTTPS(url)
	if !s.Resolve(gen, url, err) {
		return "", ErrSuperseded
	}
	return url, err
}

// View returns the current state.
func (s *Slot) View() SlotView {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := SlotView{State: s.state, URL: s.url, Err: s.err}
	if s.state == SlotPending && s.local != nil {
		v.Preview = s.local.Name
	}
	return v
}

// Close releases any pending image. Later resolutions are ignored.
func (s *Slot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local.Release()
	s.local = nil
	s.closed = true
}
