package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"APP_ENV", "HTTP_PORT", "STORE_BACKEND", "DATABASE_URL", "SQLITE_PATH",
	"REDIS_ADDR", "QUEUE_BACKEND", "JWT_ISSUER", "JWT_SIGNING_KEY", "ACCESS_TTL",
	"FACE_SERVICE_URL", "FACE_SKIP", "MATCH_THRESHOLD", "SCAN_INTERVAL",
	"SCAN_DEBUG", "DATE_LOCATION", "RATE_LIMIT_PER_MIN", "CONFIG_FILE",
}

// clearEnv unsets every key; t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFiles("")
	require.NoError(t, err)
	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, "memory", cfg.QueueBackend)
	assert.Equal(t, 0.6, cfg.MatchThreshold)
	assert.Equal(t, 2*time.Second, cfg.ScanInterval)
	assert.Equal(t, time.Local, cfg.DateLocation)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
	assert.True(t, cfg.FaceSkip)
	assert.False(t, cfg.ScanDebug)
}

func TestPrecedence(t *testing.T) {
	clearEnv(t)
	yamlPath := writeFile(t, "rollcall.yaml", `
HTTP_PORT: 9000
STORE_BACKEND: sqlite
MATCH_THRESHOLD: 0.5
SCAN_INTERVAL: 500ms
DATE_LOCATION: UTC
`)
	dotenv := writeFile(t, ".env", "STORE_BACKEND=postgres\nSCAN_DEBUG=true\n")
	t.Setenv("CONFIG_FILE", yamlPath)
	t.Setenv("HTTP_PORT", "7000")

	cfg, err := LoadFiles(dotenv)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.HTTPPort, "environment beats file")
	assert.Equal(t, "postgres", cfg.StoreBackend, "dotenv beats yaml")
	assert.True(t, cfg.ScanDebug)
	assert.Equal(t, 0.5, cfg.MatchThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.ScanInterval)
	assert.Equal(t, time.UTC, cfg.DateLocation)
}

func TestInvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("MATCH_THRESHOLD", "-1")
	t.Setenv("SCAN_INTERVAL", "soon")
	t.Setenv("RATE_LIMIT_PER_MIN", "many")
	t.Setenv("FACE_SKIP", "maybe")
	t.Setenv("DATE_LOCATION", "Mars/Olympus")

	cfg, err := LoadFiles("")
	require.NoError(t, err)
	assert.Equal(t, 0.6, cfg.MatchThreshold)
	assert.Equal(t, 2*time.Second, cfg.ScanInterval)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
	assert.True(t, cfg.FaceSkip)
	assert.Equal(t, time.Local, cfg.DateLocation)
}

func TestBadFilesAreReported(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", writeFile(t, "bad.yaml", "HTTP_PORT: [unclosed"))

	cfg, err := LoadFiles(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Equal(t, "8081", cfg.HTTPPort)
}
