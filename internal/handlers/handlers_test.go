package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/vcmarket/apiserver/internal/auth"
	"github.com/vcmarket/apiserver/internal/catalog"
	"github.com/vcmarket/apiserver/internal/docstore"
	"github.com/vcmarket/apiserver/internal/services"
	"github.com/vcmarket/apiserver/internal/session"
	"github.com/vcmarket/apiserver/internal/store"
	"github.com/vcmarket/apiserver/internal/upload"
	"github.com/vcmarket/apiserver/types"
)

// png is the smallest file mimetype detects as image/png.
var png = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

// recordingHost accepts every upload and hands out sequential URLs.
type recordingHost struct {
	mu    sync.Mutex
	names []string
}

func (h *recordingHost) Upload(_ context.Context, f upload.File) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.names = append(h.names, f.Name)
	return fmt.Sprintf("http://img.test/%d/%s", len(h.names), f.Name), nil
}

type testEnv struct {
	docs     *docstore.Memory
	catalog  *catalog.Store
	registry *session.Registry
	live     *LiveHub
	host     *recordingHost
	server   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	docs := docstore.NewMemory()
	cat := catalog.NewStore(docs, catalog.Options{DefaultCategories: []string{"Maps", "Mods"}})
	require.NoError(t, cat.Start(ctx))

	users := catalog.NewUserCache(docs)
	provider := auth.NewService(store.NewMemoryAccounts(), auth.NewMemorySessions(), "test-secret", time.Hour)
	registry := session.NewRegistry(session.Config{
		Provider:    provider,
		Docs:        docs,
		Users:       users,
		EmailDomain: "vcm.com",
	})

	host := &recordingHost{}
	live := NewLiveHub(cat, registry, 10*time.Millisecond, 2, nil)
	authHandler := NewAuthHandler(registry, 1000, nil)
	itemHandler := NewItemHandler(cat, services.NewItemService(docs, cat, host, nil), live, 2, nil)
	userHandler := NewUserHandler(cat, services.NewUserService(docs, users, host, nil))
	categoryHandler := NewCategoryHandler(services.NewCategoryService(docs, cat, nil))

	router := chi.NewRouter()
	router.Get("/healthz", Healthz)
	router.Method(http.MethodGet, "/live", live)
	router.Group(func(r chi.Router) {
		r.Use(authHandler.Authenticate)
		r.Route("/auth", func(r chi.Router) { AuthRouter(r, authHandler) })
		r.Route("/items", func(r chi.Router) { ItemRouter(r, itemHandler, authHandler.RequireAuth) })
		r.Route("/users", func(r chi.Router) { UserRouter(r, userHandler, authHandler.RequireAuth) })
		r.Route("/categories", func(r chi.Router) { CategoryRouter(r, categoryHandler, authHandler.RequireAuth) })
	})

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		live.Close()
		registry.Close()
		cat.Close()
	})
	return &testEnv{docs: docs, catalog: cat, registry: registry, live: live, host: host, server: srv}
}

// register signs a new account up through the API and returns its token
// and user id.
func (e *testEnv) register(t *testing.T, name string) (string, string) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/auth/register", "", CredentialsRequest{Input: name, Password: "secret123"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decode[AuthResponse](t, resp)
	require.NotEmpty(t, body.Token)
	require.NotNil(t, body.User)
	return body.Token, body.User.ID
}

func (e *testEnv) setRole(t *testing.T, uid string, role types.Role) {
	t.Helper()
	require.NoError(t, e.docs.Update(context.Background(), catalog.UserPath(uid), map[string]any{"role": role}))
}

func (e *testEnv) seedItem(t *testing.T, it types.Item) string {
	t.Helper()
	id, err := e.docs.Push(context.Background(), catalog.ItemsPath, it)
	require.NoError(t, err)
	return id
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.send(t, req, token)
}

// upload posts files as a multipart form; each entry is field, filename and
// content.
func (e *testEnv) upload(t *testing.T, path, token string, files ...[3]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := mw.CreateFormFile(f[0], f[1])
		require.NoError(t, err)
		_, err = part.Write([]byte(f[2]))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, e.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return e.send(t, req, token)
}

func (e *testEnv) send(t *testing.T, req *http.Request, token string) *http.Response {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}
