package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	for _, key := range []string{"PORT", "URL_PREFIX", "CODE_LENGTH", "CODE_MAX_LENGTH", "CACHE_TTL", "ALLOWED_EMAILS", "BASE_URL"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "", cfg.URLPrefix)
	assert.Equal(t, 5, cfg.CodeLength)
	assert.Equal(t, 12, cfg.CodeMaxLength)
	assert.Equal(t, time.Minute, cfg.CacheTTL)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Empty(t, cfg.AllowedEmails)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("URL_PREFIX", "fu")
	t.Setenv("CODE_LENGTH", "-3")
	t.Setenv("CACHE_TTL", "bogus")
	t.Setenv("TOKEN_TTL", "30m")
	t.Setenv("ALLOWED_EMAILS", "a@example.com, b@example.com,")
	t.Setenv("BASE_URL", "https://fus.ly/")

	cfg := Load()
	assert.Equal(t, "fu", cfg.URLPrefix)
	assert.Equal(t, 5, cfg.CodeLength)
	assert.Equal(t, time.Minute, cfg.CacheTTL)
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.AllowedEmails)
	assert.Equal(t, "https://fus.ly", cfg.BaseURL)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fusly.yaml")
	content := "port: 9090\nurl_prefix: yml\ncode_length: 7\nallowed_emails:\n  - x@example.com\n  - y@example.com\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("URL_PREFIX", "env")
	os.Unsetenv("URL_PREFIX")
	t.Setenv("PORT", "7070")
	t.Setenv("CODE_LENGTH", "")
	os.Unsetenv("CODE_LENGTH")
	t.Setenv("ALLOWED_EMAILS", "")
	os.Unsetenv("ALLOWED_EMAILS")

	cfg := Load()
	assert.Equal(t, "7070", cfg.Port, "environment wins over the file")
	assert.Equal(t, "yml", cfg.URLPrefix)
	assert.Equal(t, 7, cfg.CodeLength)
	assert.Equal(t, 12, cfg.CodeMaxLength)
	assert.Equal(t, []string{"x@example.com", "y@example.com"}, cfg.AllowedEmails)
}
