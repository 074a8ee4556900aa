package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for _, k := range []string{
		"GEMINI_API_KEY", "GEMINI_MODEL", "GEMINI_SYSTEM_PROMPT", "DATABASE_URL", "HTTP_PORT",
		"LOG_LEVEL", "JWT_SECRET", "JWT_TTL_MINUTES", "HISTORY_LIMIT", "AUTO_TITLE",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, map[string]string{"JWT_SECRET": "s3cret"})

	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "", cfg.GeminiAPIKey)
	assert.Equal(t, "gemini-1.5-flash", cfg.GeminiModel)
	assert.Equal(t, "chat_history.db", cfg.DatabaseURL)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30*time.Minute, cfg.JWTTTL)
	assert.Equal(t, 0, cfg.HistoryLimit)
	assert.False(t, cfg.AutoTitle)
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	setEnv(t, nil)

	_, err := Load(noEnvFile(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, map[string]string{
		"JWT_SECRET":      "s3cret",
		"GEMINI_API_KEY":  "key",
		"GEMINI_MODEL":    "gemini-2.0-flash",
		"JWT_TTL_MINUTES": "5",
		"HISTORY_LIMIT":   "20",
		"AUTO_TITLE":      "true",
		"HTTP_PORT":       "9090",
	})

	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "key", cfg.GeminiAPIKey)
	assert.Equal(t, "gemini-2.0-flash", cfg.GeminiModel)
	assert.Equal(t, 5*time.Minute, cfg.JWTTTL)
	assert.Equal(t, 20, cfg.HistoryLimit)
	assert.True(t, cfg.AutoTitle)
	assert.Equal(t, "9090", cfg.HTTPPort)
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	setEnv(t, map[string]string{"JWT_SECRET": "s3cret", "JWT_TTL_MINUTES": "soon", "AUTO_TITLE": "maybe"})

	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.JWTTTL)
	assert.False(t, cfg.AutoTitle)
}

func TestLoad_NegativeHistoryLimit(t *testing.T) {
	setEnv(t, map[string]string{"JWT_SECRET": "s3cret", "HISTORY_LIMIT": "-1"})

	_, err := Load(noEnvFile(t))
	require.Error(t, err)
}

func TestLoad_EnvFile(t *testing.T) {
	setEnv(t, nil)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("JWT_SECRET=from-file\nGEMINI_MODEL=file-model\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, "file-model", cfg.GeminiModel)
}
