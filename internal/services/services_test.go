package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vcmarket/apiserver/internal/catalog"
	"github.com/vcmarket/apiserver/internal/docstore"
	"github.com/vcmarket/apiserver/types"
)

// countingStore records every write that reaches the document store.
type countingStore struct {
	docstore.Store

	mu     sync.Mutex
	writes []string
}

func (c *countingStore) note(path string) {
	c.mu.Lock()
	c.writes = append(c.writes, path)
	c.mu.Unlock()
}

func (c *countingStore) Write(ctx context.Context, path string, value any) error {
	c.note(path)
	return c.Store.Write(ctx, path, value)
}

func (c *countingStore) Update(ctx context.Context, path string, fields map[string]any) error {
	c.note(path)
	return c.Store.Update(ctx, path, fields)
}

func (c *countingStore) Push(ctx context.Context, path string, value any) (string, error) {
	c.note(path)
	return c.Store.Push(ctx, path, value)
}

func (c *countingStore) Delete(ctx context.Context, path string) error {
	c.note(path)
	return c.Store.Delete(ctx, path)
}

func (c *countingStore) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

type fixture struct {
	docs    *countingStore
	catalog *catalog.Store
	users   *catalog.UserCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := docstore.NewMemory()
	cat := catalog.NewStore(mem, catalog.Options{DefaultCategories: []string{"Maps", "Mods"}})
	require.NoError(t, cat.Start(context.Background()))
	t.Cleanup(cat.Close)
	return &fixture{
		docs:    &countingStore{Store: mem},
		catalog: cat,
		users:   catalog.NewUserCache(mem),
	}
}

// seedItem writes an item straight to the store, bypassing the counter.
func (f *fixture) seedItem(t *testing.T, it types.Item) string {
	t.Helper()
	id, err := f.docs.Store.Push(context.Background(), catalog.ItemsPath, it)
	require.NoError(t, err)
	return id
}

func (f *fixture) seedUser(t *testing.T, u types.User) {
	t.Helper()
	id := u.ID
	u.ID = ""
	require.NoError(t, f.docs.Store.Write(context.Background(), catalog.UserPath(id), u))
}

func (f *fixture) item(t *testing.T, id string) types.Item {
	t.Helper()
	it, ok := f.catalog.Item(id)
	require.True(t, ok, "item %s mirrored", id)
	return it
}

func user(id string, role types.Role) *types.User {
	u := types.NewUser(id, id)
	u.Role = role
	return &u
}
