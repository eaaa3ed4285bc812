package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vcmarket/apiserver/internal/docstore"
	"github.com/vcmarket/apiserver/types"
)

// ErrUserNotFound is returned by Lookup when no profile exists for an id.
var ErrUserNotFound = errors.New("catalog: user not found")

// UserCache is an id → User cache shared by the components of one server.
// Entries are replaced wholesale; PatchProfilePic is the only field-level
// write. Lookup answers from memory only for ids a live Watch keeps current
// and reads through to the store for every other id.
type UserCache struct {
	docs docstore.Store

	mu    sync.RWMutex
	users map[string]types.User
	live  map[string]int
}

func NewUserCache(docs docstore.Store) *UserCache {
	return &UserCache{
		docs:  docs,
		users: make(map[string]types.User),
		live:  make(map[string]int),
	}
}

// UserPath is the document path of a user's profile.
func UserPath(id string) string {
	return docstore.Join(UsersPath, id)
}

// Get returns the cached profile for id.
func (c *UserCache) Get(id string) (types.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[id]
	return u, ok
}

// Put replaces the cached profile for u.ID.
func (c *UserCache) Put(u types.User) {
	if u.ID == "" {
		return
	}
	c.mu.Lock()
	c.users[u.ID] = u
	c.mu.Unlock()
}

// Forget drops the cached profile for id.
func (c *UserCache) Forget(id string) {
	c.mu.Lock()
	delete(c.users, id)
	c.mu.Unlock()
}

// PatchProfilePic optimistically sets the avatar of a cached profile ahead
// of the next snapshot. Uncached ids are ignored.
func (c *UserCache) PatchProfilePic(id, url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if u, ok := c.users[id]; ok {
		u.ProfilePic = url
		c.users[id] = u
	}
}

// PutAll replaces the cached profiles of users.
func (c *UserCache) PutAll(users []types.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range users {
		if u.ID != "" {
			c.users[u.ID] = u
		}
	}
}

// Lookup returns the profile for id. Watched ids are served from memory;
// others are fetched once and the result cached.
func (c *UserCache) Lookup(ctx context.Context, id string) (types.User, error) {
	c.mu.RLock()
	u, ok := c.users[id]
	watched := c.live[id] > 0
	c.mu.RUnlock()
	if ok && watched {
		return u, nil
	}

	snap, err := c.docs.FetchOnce(ctx, UserPath(id), docstore.Query{})
	if err != nil {
		return types.User{}, fmt.Errorf("fetch user %s: %w", id, err)
	}
	if !snap.Exists {
		c.Forget(id)
		return types.User{}, ErrUserNotFound
	}
	u = types.User{}
	if err := snap.Decode(&u); err != nil {
		return types.User{}, fmt.Errorf("decode user %s: %w", id, err)
	}
	u.ID = id
	c.Put(u)
	return u, nil
}

// Watch subscribes to one profile. Each snapshot refreshes the cache and is
// passed to fn; exists is false once the record is gone. The id is served
// from memory until the returned subscription is released.
func (c *UserCache) Watch(ctx context.Context, id string, fn func(u types.User, exists bool)) (docstore.Subscription, error) {
	sub, err := c.docs.Subscribe(ctx, UserPath(id), docstore.Query{}, func(snap docstore.Snapshot) {
		if !snap.Exists {
			c.Forget(id)
			fn(types.User{ID: id}, false)
			return
		}
		var u types.User
		if err := snap.Decode(&u); err != nil {
			return
		}
		u.ID = id
		c.Put(u)
		fn(u, true)
	})
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.live[id]++
	c.mu.Unlock()
	return &watch{Subscription: sub, release: func() { c.unwatch(id) }}, nil
}

func (c *UserCache) unwatch(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live[id] <= 1 {
		delete(c.live, id)
		return
	}
	c.live[id]--
}

// watch releases its cache claim together with the store subscription.
type watch struct {
	docstore.Subscription
	once    sync.Once
	release func()
}

func (w *watch) Unsubscribe() {
	w.once.Do(func() {
		w.Subscription.Unsubscribe()
		w.release()
	})
}
