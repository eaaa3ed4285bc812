// Package catalog keeps the live, locally cached mirror of listings,
// categories and the admin user roster, and computes the derived views
// (filter, sort, paginate) clients browse.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/vcmarket/apiserver/internal/docstore"
	"github.com/vcmarket/apiserver/internal/metrics"
	"github.com/vcmarket/apiserver/internal/permissions"
	"github.com/vcmarket/apiserver/types"
)

// Document store paths mirrored by the catalog.
const (
	ItemsPath      = "items"
	CategoriesPath = "categories"
	UsersPath      = "users"
)

// Default mirror windows.
const (
	DefaultWindow       = 100
	DefaultRosterWindow = 100
)

// ErrForbidden is returned when an actor may not open the user roster.
var ErrForbidden = errors.New("catalog: permission denied")

// Collection names one mirrored collection in change notifications.
type Collection string

const (
	CollectionItems      Collection = "items"
	CollectionCategories Collection = "categories"
	CollectionRoster     Collection = "roster"
)

// Options configures a Store.
type Options struct {
	Window            int
	RosterWindow      int
	DefaultCategories []string
	Logger            *zap.Logger

	// Users, when set, is refreshed from every roster snapshot.
	Users *UserCache
}

// Store mirrors the most recent items and the category list. Every snapshot
// replaces the mirrored collection wholesale.
type Store struct {
	docs   docstore.Store
	opts   Options
	logger *zap.Logger

	mu         sync.RWMutex
	items      []types.Item
	byID       map[string]int
	categories []string
	roster     []types.User
	ready      bool

	subs []docstore.Subscription

	rosterMu   sync.Mutex
	rosterSub  docstore.Subscription
	rosterRefs int

	listenMu  sync.Mutex
	listeners map[int]func(Collection)
	nextID    int
}

func NewStore(docs docstore.Store, opts Options) *Store {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.RosterWindow <= 0 {
		opts.RosterWindow = DefaultRosterWindow
	}
	if len(opts.DefaultCategories) == 0 {
		opts.DefaultCategories = types.DefaultCategories
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		docs:       docs,
		opts:       opts,
		logger:     logger,
		byID:       map[string]int{},
		categories: append([]string(nil), opts.DefaultCategories...),
		listeners:  map[int]func(Collection){},
	}
}

// Start subscribes to the items window and the category list. Close
// releases both.
func (s *Store) Start(ctx context.Context) error {
	itemsSub, err := s.docs.Subscribe(ctx, ItemsPath, docstore.Query{LimitToLast: s.opts.Window}, s.applyItems)
	if err != nil {
		return fmt.Errorf("subscribe items: %w", err)
	}
	catSub, err := s.docs.Subscribe(ctx, CategoriesPath, docstore.Query{}, s.applyCategories)
	if err != nil {
		itemsSub.Unsubscribe()
		return fmt.Errorf("subscribe categories: %w", err)
	}
	s.mu.Lock()
	s.subs = append(s.subs, itemsSub, catSub)
	s.mu.Unlock()
	return nil
}

// Close releases every subscription held by the store.
func (s *Store) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}

	s.rosterMu.Lock()
	if s.rosterSub != nil {
		s.rosterSub.Unsubscribe()
		s.rosterSub = nil
		s.rosterRefs = 0
	}
	s.rosterMu.Unlock()
}

func (s *Store) applyItems(snap docstore.Snapshot) {
	items := make([]types.Item, 0, len(snap.Children))
	for _, child := range snap.Children {
		var it types.Item
		if err := child.Decode(&it); err != nil {
			s.logger.Warn("skipping undecodable item", zap.String("id", child.Key), zap.Error(err))
			continue
		}
		it.ID = child.Key
		items = append(items, it)
	}
	// Children arrive oldest push first; the mirror is newest first.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	byID := make(map[string]int, len(items))
	for i, it := range items {
		byID[it.ID] = i
	}

	s.mu.Lock()
	s.items = items
	s.byID = byID
	s.ready = true
	s.mu.Unlock()

	metrics.RecordSnapshot(string(CollectionItems))
	s.emit(CollectionItems)
}

func (s *Store) applyCategories(snap docstore.Snapshot) {
	if !snap.Exists {
		return
	}
	cats, err := decodeCategories(snap.Value)
	if err != nil {
		s.logger.Warn("skipping undecodable categories", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.categories = cats
	s.mu.Unlock()

	metrics.RecordSnapshot(string(CollectionCategories))
	s.emit(CollectionCategories)
}

// decodeCategories accepts either a JSON array or an object whose values
// are the category names in key order.
func decodeCategories(raw json.RawMessage) ([]string, error) {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var keyed map[string]string
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(keyed))
	for k := range keyed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	list = make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, keyed[k])
	}
	return list, nil
}

// Ready reports whether the first items snapshot has arrived.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Items returns the mirrored items, newest first.
func (s *Store) Items() []types.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Item, len(s.items))
	copy(out, s.items)
	return out
}

// Item looks up a mirrored item by id.
func (s *Store) Item(id string) (types.Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return types.Item{}, false
	}
	return s.items[i], true
}

// Categories returns the current category list.
func (s *Store) Categories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.categories...)
}

// Featured returns the featured items, newest first.
func (s *Store) Featured() []types.Item {
	return FeaturedItems(s.Items())
}

// View computes one page of the catalog for the given query.
func (s *Store) View(f Filter, order SortOrder, page int) View {
	return BuildView(s.Items(), f, order, page, DefaultPageSize)
}

// WatchRoster starts the bounded user roster subscription on first use.
// Only actors holding ViewAdminDashboard may open it. The returned release
// func must be called once the roster is no longer displayed.
func (s *Store) WatchRoster(ctx context.Context, actor *types.User) (func(), error) {
	if !permissions.HasPermission(actor, permissions.ViewAdminDashboard) {
		return nil, ErrForbidden
	}

	s.rosterMu.Lock()
	defer s.rosterMu.Unlock()
	if s.rosterSub == nil {
		sub, err := s.docs.Subscribe(ctx, UsersPath, docstore.Query{LimitToLast: s.opts.RosterWindow}, s.applyRoster)
		if err != nil {
			return nil, fmt.Errorf("subscribe roster: %w", err)
		}
		s.rosterSub = sub
	}
	s.rosterRefs++

	var once sync.Once
	return func() { once.Do(s.releaseRoster) }, nil
}

func (s *Store) releaseRoster() {
	s.rosterMu.Lock()
	defer s.rosterMu.Unlock()
	if s.rosterRefs == 0 {
		return
	}
	s.rosterRefs--
	if s.rosterRefs == 0 && s.rosterSub != nil {
		s.rosterSub.Unsubscribe()
		s.rosterSub = nil
		s.mu.Lock()
		s.roster = nil
		s.mu.Unlock()
	}
}

func (s *Store) applyRoster(snap docstore.Snapshot) {
	users := make([]types.User, 0, len(snap.Children))
	for _, child := range snap.Children {
		var u types.User
		if err := child.Decode(&u); err != nil {
			s.logger.Warn("skipping undecodable user", zap.String("id", child.Key), zap.Error(err))
			continue
		}
		u.ID = child.Key
		users = append(users, u)
	}
	s.mu.Lock()
	s.roster = users
	s.mu.Unlock()
	if s.opts.Users != nil {
		s.opts.Users.PutAll(users)
	}

	metrics.RecordSnapshot(string(CollectionRoster))
	s.emit(CollectionRoster)
}

// Roster returns the last roster snapshot, or nil while nobody watches it.
func (s *Store) Roster() []types.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.roster == nil {
		return nil
	}
	return append([]types.User(nil), s.roster...)
}

// OnChange registers fn to run after every applied snapshot. Call the
// returned func to stop.
func (s *Store) OnChange(fn func(Collection)) func() {
	s.listenMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenMu.Lock()
			delete(s.listeners, id)
			s.listenMu.Unlock()
		})
	}
}

func (s *Store) emit(c Collection) {
	s.listenMu.Lock()
	fns := make([]func(Collection), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenMu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}
