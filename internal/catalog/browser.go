package catalog

import (
	"sync"
	"time"

	"github.com/vcmarket/apiserver/types"
)

// DefaultDebounce is the quiet period before a search input commits.
const DefaultDebounce = 500 * time.Millisecond

// ItemSource supplies the mirrored items a Browser views.
type ItemSource interface {
	Items() []types.Item
}

// BrowseState is the committed query of a Browser.
type BrowseState struct {
	Search   string    `json:"search"`
	Category string    `json:"category"`
	Sort     SortOrder `json:"sort"`
	Page     int       `json:"page"`
}

// Browser holds one client's view state over the catalog. Search input is
// committed only after a quiet period; the last keystroke always wins.
type Browser struct {
	src      ItemSource
	debounce time.Duration
	pageSize int
	onUpdate func(View)

	mu      sync.Mutex
	state   BrowseState
	pending string
	timer   *time.Timer
	gen     uint64
	closed  bool

	emitMu sync.Mutex
}

// NewBrowser returns a Browser at page 1, newest first. onUpdate receives
// the recomputed view after every committed change; it may be nil.
func NewBrowser(src ItemSource, debounce time.Duration, pageSize int, onUpdate func(View)) *Browser {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Browser{
		src:      src,
		debounce: debounce,
		pageSize: pageSize,
		onUpdate: onUpdate,
		state:    BrowseState{Sort: SortNewest, Page: 1},
	}
}

// SetSearch records raw search input and restarts the quiet period.
func (b *Browser) SetSearch(raw string) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.pending = raw
	b.gen++
	gen := b.gen
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.debounce, func() { b.commitSearch(gen) })
	b.mu.Unlock()
}

func (b *Browser) commitSearch(gen uint64) {
	b.mu.Lock()
	if b.closed || gen != b.gen {
		b.mu.Unlock()
		return
	}
	b.state.Search = b.pending
	b.state.Page = 1
	b.timer = nil
	b.mu.Unlock()
	b.Refresh()
}

// SetCategory changes the category filter and resets to page 1.
func (b *Browser) SetCategory(cat string) {
	b.update(func(s *BrowseState) {
		s.Category = cat
		s.Page = 1
	})
}

// SetSort changes the sort order.
func (b *Browser) SetSort(order SortOrder) {
	b.update(func(s *BrowseState) { s.Sort = order })
}

// SetPage moves to a 1-indexed page.
func (b *Browser) SetPage(page int) {
	b.update(func(s *BrowseState) { s.Page = page })
}

func (b *Browser) update(fn func(*BrowseState)) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	fn(&b.state)
	b.mu.Unlock()
	b.Refresh()
}

// State returns the committed query.
func (b *Browser) State() BrowseState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// View computes the current page without notifying.
func (b *Browser) View() View {
	st := b.State()
	return BuildView(b.src.Items(), Filter{Search: st.Search, Category: st.Category}, st.Sort, st.Page, b.pageSize)
}

// Refresh recomputes the view and passes it to onUpdate. Views are emitted
// one at a time, each computed from the state current at emission.
func (b *Browser) Refresh() {
	if b.onUpdate == nil {
		return
	}
	b.emitMu.Lock()
	defer b.emitMu.Unlock()
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return
	}
	b.onUpdate(b.View())
}

// Close stops any pending search commit. Later calls are no-ops.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
