package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, 15, cfg.Frames.Stride)
	assert.Equal(t, 70, cfg.Frames.DiffThreshold)
	assert.Equal(t, 500, cfg.Frames.MinArea)
	assert.Equal(t, 0.05, cfg.Frames.MSEDelta)
	assert.Equal(t, 3, cfg.Executor.MaxAttempts)
	assert.Equal(t, 0.8, cfg.Executor.AcceptanceThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.Executor.SettleDelay)
	assert.Equal(t, 1456, cfg.Annotator.MaxWidth)
	assert.Equal(t, 819, cfg.Annotator.MaxHeight)
	assert.Equal(t, ProviderOpenAI, cfg.Inference.Provider)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.NoError(t, cfg.Validate())
}

// -- Loading Tests --

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "screenplay.yaml")
	yaml := `
frames:
  stride: 5
  min_area: 900
executor:
  settle_delay: 1s
  verify: true
inference:
  provider: claude
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv("SCREENPLAY_FRAMES_DIFF_THRESHOLD", "40")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Frames.Stride)
	assert.Equal(t, 900, cfg.Frames.MinArea)
	assert.Equal(t, 40, cfg.Frames.DiffThreshold)
	assert.Equal(t, time.Second, cfg.Executor.SettleDelay)
	assert.True(t, cfg.Executor.Verify)
	assert.Equal(t, ProviderClaude, cfg.Inference.Provider)
	assert.Equal(t, "sk-ant-test", cfg.Inference.Anthropic.APIKey)
}

func TestProjectKeyTakesPrecedenceOverVendorKey(t *testing.T) {
	t.Setenv("SCREENPLAY_OPENAI_KEY", "project-key")
	t.Setenv("OPENAI_API_KEY", "vendor-key")

	v := viper.New()
	SetDefaults(v)
	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "project-key", cfg.Inference.OpenAI.APIKey)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("executor:\n  max_attempts: 0\n"), 0o644))

	_, err := Load(viper.New(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_attempts must be a positive integer")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Frames", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Frames.Stride = 0
		assert.ErrorContains(t, cfg.Validate(), "stride must be a positive integer")

		cfg = NewDefaultConfig()
		cfg.Frames.DiffThreshold = 300
		assert.ErrorContains(t, cfg.Validate(), "diff_threshold must be between 0 and 255")
	})

	t.Run("Executor", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Executor.AcceptanceThreshold = 1.2
		assert.ErrorContains(t, cfg.Validate(), "acceptance_threshold must be between 0.0 and 1.0")

		cfg = NewDefaultConfig()
		cfg.Executor.SettleDelay = -time.Second
		assert.ErrorContains(t, cfg.Validate(), "delays must not be negative")
	})

	t.Run("Inference", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Inference.Provider = "gemini"
		assert.ErrorContains(t, cfg.Validate(), "inference.provider")

		cfg = NewDefaultConfig()
		cfg.Inference.VerifierProvider = ProviderClaude
		assert.NoError(t, cfg.Validate())
	})

	t.Run("Backend", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Backend.Kind = "vnc"
		assert.ErrorContains(t, cfg.Validate(), "backend.kind")
	})
}
