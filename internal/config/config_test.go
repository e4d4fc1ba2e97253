package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8081", cfg.Backend.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Backend.Timeout())
	assert.Equal(t, 1, cfg.Backend.MaxAttempts)
	assert.Equal(t, 5, cfg.Backend.BreakerThreshold)
	assert.Equal(t, 30*time.Second, cfg.Backend.BreakerReset())
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL())
	assert.Equal(t, 256, cfg.Cache.Size)
	assert.True(t, cfg.Reconcile.AllowPartialMerge)
	assert.True(t, cfg.Reconcile.Policy().AllowPartialMerge)
	assert.Equal(t, language.English, cfg.Reconcile.Language())
	assert.Equal(t, 2000, cfg.Analysis.PollInitialMs)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "dedupe.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	yaml := `
backend:
  base_url: https://iaso.example.org
  token: abc
  max_attempts: 3
reconcile:
  allow_partial_merge: false
  default_lang: fr
store:
  driver: postgres
  database_url: postgres://localhost/dedupe
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://iaso.example.org", cfg.Backend.BaseURL)
	assert.Equal(t, "abc", cfg.Backend.Token)
	assert.Equal(t, 3, cfg.Backend.MaxAttempts)
	assert.False(t, cfg.Reconcile.Policy().AllowPartialMerge)
	assert.Equal(t, language.French, cfg.Reconcile.Language())
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, 256, cfg.Cache.Size)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("DEDUPE_STORE_DRIVER", "postgres")
	t.Setenv("DEDUPE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	t.Setenv("DEDUPE_SERVER_PORT", "3000")
	t.Setenv("DEDUPE_BACKEND_TOKEN", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Backend.Token)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("backend: [unclosed"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Backend.BaseURL = "http://localhost:8081"
	cfg.Backend.MaxAttempts = 1
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "dedupe.db"
	cfg.Server.Port = 8080
	cfg.Reconcile.DefaultLang = "en"
	return cfg
}

func TestValidateServe_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("serve"))
}

func TestValidateClient_MissingBaseURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Backend.BaseURL = ""
	cfg.Backend.MaxAttempts = 0

	err := cfg.Validate("client")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.base_url is required")
	assert.Contains(t, err.Error(), "backend.max_attempts")
}

func TestValidateStore_UnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver "mysql"`)
}

func TestValidateStore_MissingURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateClient_IgnoresStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = ""

	assert.NoError(t, cfg.Validate("client"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestValidate_BadLanguage(t *testing.T) {
	cfg := validDefaults()
	cfg.Reconcile.DefaultLang = "not a tag!"

	err := cfg.Validate("client")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconcile.default_lang")
}
