package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "careflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
provider: openai
capabilities:
  url: http://localhost:9000/rpc
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, 0.7, cfg.Temperature)
	assert.Equal(t, 4096, cfg.MaxTokens)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FileValuesWin(t *testing.T) {
	path := writeConfig(t, `
provider: anthropic
anthropic_key: file-key
temperature: 0.2
redis:
  addr: redis.internal:6380
  session_ttl_hours: 48
supabase:
  url: https://example.supabase.co
  api_key: sb-key
server:
  addr: ":9090"
logging:
  level: debug
  json: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, "file-key", cfg.AnthropicKey)
	assert.Equal(t, 0.2, cfg.Temperature)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 48, cfg.Redis.SessionTTLHours)
	assert.Equal(t, "https://example.supabase.co", cfg.Supabase.URL)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.True(t, cfg.Logging.JSON)
}

func TestLoad_EnvFallbackForSecrets(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("SUPABASE_URL", "https://env.supabase.co")

	path := writeConfig(t, `
provider: openai
capabilities:
  url: http://localhost:9000/rpc
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.OpenAIKey)
	assert.Equal(t, "https://env.supabase.co", cfg.Supabase.URL)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg := &Config{Provider: "openai", Capabilities: CapabilityConfig{URL: "http://localhost:9000"}}
	assert.Error(t, cfg.Validate()) // no key

	cfg.OpenAIKey = "k"
	assert.NoError(t, cfg.Validate())

	cfg.Capabilities.URL = ""
	assert.Error(t, cfg.Validate())

	cfg = &Config{Provider: "mystery"}
	assert.Error(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/no/such/file.yaml")
	assert.Error(t, err)
}
