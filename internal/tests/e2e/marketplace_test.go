//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vcmarket/apiserver/config"
	"github.com/vcmarket/apiserver/internal/db"
	"github.com/vcmarket/apiserver/internal/server"
)

const (
	serverPort = 18080
)

var baseURL = fmt.Sprintf("http://localhost:%d", serverPort)

// png is the smallest file mimetype detects as image/png.
var png = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}
	setEnv()

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := runMigrations(root); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv, err := startServer(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		shutdown(srv)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	shutdown(srv)
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

func TestListingLifecycle(t *testing.T) {
	suffix := time.Now().UnixNano()
	author := register(t, fmt.Sprintf("author_%d", suffix))
	rater := register(t, fmt.Sprintf("rater_%d", suffix))
	admin := register(t, fmt.Sprintf("admin_%d", suffix))
	require.NoError(t, promote(admin.User.ID, "admin"))
	admin = login(t, fmt.Sprintf("admin_%d", suffix))

	images := uploadImages(t, author.Token)
	require.True(t, strings.HasPrefix(images.Img, "https://"))

	var created struct {
		ID string `json:"id"`
	}
	status := call(t, http.MethodPost, "/items", author.Token, map[string]any{
		"title": "E2E Rocket Mod",
		"desc":  "Adds rockets to every base.",
		"cat":   "Mods",
		"link":  "https://example.com/rocket.zip",
		"img":   images.Img,
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, created.ID)

	var item struct {
		Title         string  `json:"title"`
		Img           string  `json:"img"`
		AuthorID      string  `json:"authorId"`
		Featured      bool    `json:"featured"`
		AverageRating float64 `json:"averageRating"`
	}
	require.Equal(t, http.StatusOK, call(t, http.MethodGet, "/items/"+created.ID, "", nil, &item))
	assert.Equal(t, "E2E Rocket Mod", item.Title)
	assert.Equal(t, author.User.ID, item.AuthorID)
	assert.Equal(t, images.Img, item.Img)

	require.Equal(t, http.StatusOK, call(t, http.MethodPut, "/items/"+created.ID+"/rating", rater.Token, map[string]any{"rating": 4, "review": "great"}, nil))
	require.Equal(t, http.StatusForbidden, call(t, http.MethodPut, "/items/"+created.ID+"/rating", author.Token, map[string]any{"rating": 5}, nil))

	var feat struct {
		Featured bool `json:"featured"`
	}
	require.Equal(t, http.StatusOK, call(t, http.MethodPost, "/items/"+created.ID+"/feature", admin.Token, nil, &feat))
	assert.True(t, feat.Featured)

	require.Equal(t, http.StatusOK, call(t, http.MethodGet, "/items/"+created.ID, "", nil, &item))
	assert.True(t, item.Featured)
	assert.InDelta(t, 4.0, item.AverageRating, 0.001)

	var list struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
		Total int `json:"total"`
	}
	require.Equal(t, http.StatusOK, call(t, http.MethodGet, "/items?q=e2e+rocket", "", nil, &list))
	require.GreaterOrEqual(t, list.Total, 1)

	require.Equal(t, http.StatusPreconditionRequired, call(t, http.MethodDelete, "/items/"+created.ID, author.Token, nil, nil))
	require.Equal(t, http.StatusNoContent, call(t, http.MethodDelete, "/items/"+created.ID+"?confirm=true", author.Token, nil, nil))
	assert.Equal(t, http.StatusNotFound, call(t, http.MethodGet, "/items/"+created.ID, "", nil, nil))
}

func TestBanEndsSession(t *testing.T) {
	suffix := time.Now().UnixNano()
	admin := register(t, fmt.Sprintf("banner_%d", suffix))
	require.NoError(t, promote(admin.User.ID, "admin"))
	admin = login(t, fmt.Sprintf("banner_%d", suffix))
	target := register(t, fmt.Sprintf("target_%d", suffix))

	require.Equal(t, http.StatusOK, call(t, http.MethodGet, "/auth/me", target.Token, nil, nil))
	require.Equal(t, http.StatusOK, call(t, http.MethodPatch, "/users/"+target.User.ID, admin.Token, map[string]any{"banned": true}, nil))
	assert.Equal(t, http.StatusUnauthorized, call(t, http.MethodGet, "/auth/me", target.Token, nil, nil))
}

type authResponse struct {
	Token string `json:"token"`
	User  struct {
		ID string `json:"id"`
	} `json:"user"`
}

type imagesResponse struct {
	Img     string   `json:"img"`
	Gallery []string `json:"gallery"`
}

func register(t *testing.T, username string) authResponse {
	t.Helper()
	var parsed authResponse
	status := call(t, http.MethodPost, "/auth/register", "", map[string]string{
		"input":    username,
		"password": "testpass123!",
	}, &parsed)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, parsed.Token)
	require.NotEmpty(t, parsed.User.ID)
	return parsed
}

func login(t *testing.T, username string) authResponse {
	t.Helper()
	var parsed authResponse
	status := call(t, http.MethodPost, "/auth/login", "", map[string]string{
		"input":    username,
		"password": "testpass123!",
	}, &parsed)
	require.Equal(t, http.StatusOK, status)
	return parsed
}

// promote edits the stored profile directly; no API grants the first admin.
// The server only sees writes made through it, so callers sign in again
// afterwards to pick up the new role.
func promote(uid, role string) error {
	conn, err := sql.Open("postgres", db.DSN(config.LoadConfig().Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = conn.ExecContext(ctx,
		`UPDATE records SET value = jsonb_set(value, '{role}', to_jsonb($1::text)), updated_at = now()
		 WHERE root = 'users' AND key = $2`, role, uid)
	return err
}

func call(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, baseURL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func uploadImages(t *testing.T, token string) imagesResponse {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, f := range []struct{ field, name string }{{"cover", "cover.png"}, {"gallery", "g1.png"}} {
		part, err := writer.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = part.Write(png)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req, err := http.NewRequest(http.MethodPost, baseURL+"/items/images", &body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload images status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var parsed imagesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	return parsed
}

func setEnv() {
	_ = os.Setenv("JWT_SECRET", "test-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("DOCSTORE_BACKEND", "postgres")
	_ = os.Setenv("SESSION_BACKEND", "redis")
	_ = os.Setenv("MQ_BACKEND", "rabbitmq")
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "vcm")
	_ = os.Setenv("DB_PASSWORD", "password")
	_ = os.Setenv("DB_NAME", "vcm_marketplace")
	_ = os.Setenv("STORAGE_BACKEND", "minio")
	_ = os.Setenv("STORAGE_PUBLIC_BASE_URL", "http://localhost:9000/vcm-e2e")
	_ = os.Setenv("MINIO_ACCESS_KEY", "minioadmin")
	_ = os.Setenv("MINIO_SECRET_KEY", "minioadmin")
	_ = os.Setenv("MINIO_BUCKET", "vcm-e2e")
	_ = os.Setenv("AUTH_RATE_PER_MINUTE", "1000")
}

func waitForPostgres(ctx context.Context) error {
	conn, err := sql.Open("postgres", db.DSN(config.LoadConfig().Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func runMigrations(root string) error {
	migrationsURL := "file://" + filepath.Join(root, "internal", "db", "migrations")
	migrator, err := migrate.New(migrationsURL, db.DSN(config.LoadConfig().Database))
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func startServer(ctx context.Context) (*server.Server, error) {
	srv, err := server.New(ctx, config.LoadConfig(), zap.NewNop())
	if err != nil {
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}

func shutdown(srv *server.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
