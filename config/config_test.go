package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg := LoadConfig()
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, BackendPostgres, cfg.DocstoreBackend)
	assert.Equal(t, "vcm.com", cfg.Auth.EmailDomain)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 100, cfg.Catalog.Window)
	assert.Equal(t, 30, cfg.Catalog.PageSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Catalog.Debounce)
	assert.Nil(t, cfg.Catalog.Categories)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_SSL", "true")
	t.Setenv("DOCSTORE_BACKEND", "memory")
	t.Setenv("CATALOG_SEARCH_DEBOUNCE", "250ms")
	t.Setenv("CATALOG_DEFAULT_CATEGORIES", " Maps, Mods ,,Skins")
	t.Setenv("MQ_BACKEND", "rabbitmq")

	cfg := LoadConfig()
	assert.Equal(t, 9090, cfg.ServerPort)
	assert.True(t, cfg.Database.UseSSL)
	assert.Equal(t, BackendMemory, cfg.DocstoreBackend)
	assert.Equal(t, 250*time.Millisecond, cfg.Catalog.Debounce)
	assert.Equal(t, []string{"Maps", "Mods", "Skins"}, cfg.Catalog.Categories)
	assert.Equal(t, BackendRabbitMQ, cfg.MQ.Backend)
	require.NoError(t, cfg.Validate())
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("STORAGE_BACKEND", "ftp")
	t.Setenv("CATALOG_PAGE_SIZE", "0")

	err := LoadConfig().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET is required")
	assert.Contains(t, err.Error(), `unknown STORAGE_BACKEND "ftp"`)
	assert.Contains(t, err.Error(), "CATALOG_PAGE_SIZE must be positive")
}
