package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Identity.MaxClockSkew)
	assert.Equal(t, 20, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 60*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, time.Hour, cfg.Conversation.TTL)
	assert.Equal(t, 20, cfg.Conversation.MaxHistory)
	assert.Equal(t, "gpt-4o-mini", cfg.Provider.Model)
	assert.Equal(t, DefaultSystemPrompt, cfg.Chat.SystemPrompt)
	assert.Contains(t, cfg.Server.AllowedOrigins, "https://autoanosis.com")
	assert.False(t, cfg.Identity.AllowGuest)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("AUTOANOSIS_IDENTITY_SECRET", "s3cret")
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "3")
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "10")
	t.Setenv("CONVERSATION_TTL_SECONDS", "120")
	t.Setenv("IDENTITY_MAX_CLOCK_SKEW_SECONDS", "5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("PORT", "8081")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Identity.Secret)
	assert.Equal(t, 3, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 2*time.Minute, cfg.Conversation.TTL)
	assert.Equal(t, 5*time.Second, cfg.Identity.MaxClockSkew)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 8081, cfg.Server.Port)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := []byte("conversation:\n  max_history: 7\nprovider:\n  model: test-model\n")
	require.NoError(t, os.WriteFile(path, yaml, 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Conversation.MaxHistory)
	assert.Equal(t, "test-model", cfg.Provider.Model)
}

func TestLoadConfig_InvalidSeconds(t *testing.T) {
	t.Setenv("RATE_LIMIT_WINDOW_SECONDS", "soon")
	_, err := LoadConfig("")
	require.Error(t, err)
}

func TestLoadConfig_Validation(t *testing.T) {
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "0")
	_, err := LoadConfig("")
	require.Error(t, err)
}

func TestRequireProvider(t *testing.T) {
	cfg := &Config{Provider: ProviderConfig{BaseURL: "http://x"}}
	assert.Error(t, cfg.RequireProvider())
	cfg.Provider.APIKey = "k"
	assert.NoError(t, cfg.RequireProvider())
}
