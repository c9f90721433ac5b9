package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FirstRunCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.DefaultProvider)
	assert.FileExists(t, path)

	// A second load reads the file back.
	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.DefaultModel, again.DefaultModel)
}

func TestSetGetSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, cfg.Set("defaultProvider", "anthropic"))
	require.NoError(t, cfg.Set("maxConcurrentExecutions", "3"))
	require.NoError(t, cfg.Set("retryDelay", "250ms"))
	cfg.SetAPIKey("anthropic", "sk-test")
	require.NoError(t, cfg.Save())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", loaded.DefaultProvider)
	assert.Equal(t, 3, loaded.MaxConcurrentExecutions)
	assert.Equal(t, 250*time.Millisecond, loaded.RetryDelay)
	assert.Equal(t, "sk-test", loaded.APIKey("anthropic"))

	got, ok := loaded.Get("defaultProvider")
	require.True(t, ok)
	assert.Equal(t, "anthropic", got)

	require.Error(t, cfg.Set("noSuchKey", "x"))
}

func TestAPIKey_EnvFallbackAndPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg, err := Load(path)
	require.NoError(t, err)

	t.Setenv("GROQ_API_KEY", "env-key")
	assert.Equal(t, "env-key", cfg.APIKey("groq"))

	// Explicit configuration takes precedence over the environment.
	cfg.SetAPIKey("groq", "file-key")
	assert.Equal(t, "file-key", cfg.APIKey("groq"))
}

func TestSnapshot_IsIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg, err := Load(path)
	require.NoError(t, err)
	cfg.SetAPIKey("openai", "before")

	snap := cfg.Snapshot()
	cfg.SetAPIKey("openai", "after")

	assert.Equal(t, "before", snap.Providers["openai"].APIKey)
}

func TestHomeDir_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WEFT_HOME", dir)
	got, err := HomeDir()
	require.NoError(t, err)
	assert.Equal(t, dir, got)
	_ = os.Unsetenv("WEFT_HOME")
}
