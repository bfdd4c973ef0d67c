package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Provider names accepted by inference.provider and the per-role overrides
const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
)

// Backend names accepted by backend.kind
const (
	BackendDesktop = "desktop"
	BackendBrowser = "browser"
)

// Config holds the whole application configuration
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Frames    FramesConfig    `mapstructure:"frames" yaml:"frames"`
	Inference InferenceConfig `mapstructure:"inference" yaml:"inference"`
	Annotator AnnotatorConfig `mapstructure:"annotator" yaml:"annotator"`
	Executor  ExecutorConfig  `mapstructure:"executor" yaml:"executor"`
	Backend   BackendConfig   `mapstructure:"backend" yaml:"backend"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig names the terminal color of each log level.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// FramesConfig tunes frame selection. The thresholds depend on the recording's
// resolution and frame rate.
type FramesConfig struct {
	Stride        int     `mapstructure:"stride" yaml:"stride"`
	DiffThreshold int     `mapstructure:"diff_threshold" yaml:"diff_threshold"`
	MinArea       int     `mapstructure:"min_area" yaml:"min_area"`
	MSEDelta      float64 `mapstructure:"mse_delta" yaml:"mse_delta"`
	FFmpegPath    string  `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
}

// ProviderCredentials holds the connection details for one inference vendor
type ProviderCredentials struct {
	APIKey  string `mapstructure:"api_key" yaml:"-"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// InferenceConfig configures the multimodal inference providers
type InferenceConfig struct {
	Provider          string              `mapstructure:"provider" yaml:"provider"`
	VerifierProvider  string              `mapstructure:"verifier_provider" yaml:"verifier_provider"`
	SynthesisModel    string              `mapstructure:"synthesis_model" yaml:"synthesis_model"`
	LocatorModel      string              `mapstructure:"locator_model" yaml:"locator_model"`
	VerifierModel     string              `mapstructure:"verifier_model" yaml:"verifier_model"`
	MaxTokens         int                 `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature       float32             `mapstructure:"temperature" yaml:"temperature"`
	Timeout           time.Duration       `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerMinute int                 `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	OpenAI            ProviderCredentials `mapstructure:"openai" yaml:"openai"`
	Anthropic         ProviderCredentials `mapstructure:"anthropic" yaml:"anthropic"`
}

// AnnotatorConfig points at the external element annotation service
type AnnotatorConfig struct {
	Endpoint  string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxWidth  int           `mapstructure:"max_width" yaml:"max_width"`
	MaxHeight int           `mapstructure:"max_height" yaml:"max_height"`
}

// ExecutorConfig controls the replay loop
type ExecutorConfig struct {
	MaxAttempts         int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	AcceptanceThreshold float64       `mapstructure:"acceptance_threshold" yaml:"acceptance_threshold"`
	SettleDelay         time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	RetryInitialDelay   time.Duration `mapstructure:"retry_initial_delay" yaml:"retry_initial_delay"`
	RetryMaxDelay       time.Duration `mapstructure:"retry_max_delay" yaml:"retry_max_delay"`
	Verify              bool          `mapstructure:"verify" yaml:"verify"`
	SubmitKey           string        `mapstructure:"submit_key" yaml:"submit_key"`
	DebugDir            string        `mapstructure:"debug_dir" yaml:"debug_dir"`
}

// BrowserConfig holds settings for the Chromium replay backend
type BrowserConfig struct {
	URL        string `mapstructure:"url" yaml:"url"`
	Width      int    `mapstructure:"width" yaml:"width"`
	Height     int    `mapstructure:"height" yaml:"height"`
	Headless   bool   `mapstructure:"headless" yaml:"headless"`
	ProfileDir string `mapstructure:"profile_dir" yaml:"profile_dir"`
}

// BackendConfig selects where steps are replayed
type BackendConfig struct {
	Kind    string        `mapstructure:"kind" yaml:"kind"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Addr           string        `mapstructure:"addr" yaml:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	MaxUploadMB    int64         `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "screenplay")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Frames --
	v.SetDefault("frames.stride", 15)
	v.SetDefault("frames.diff_threshold", 70)
	v.SetDefault("frames.min_area", 500)
	v.SetDefault("frames.mse_delta", 0.05)
	v.SetDefault("frames.ffmpeg_path", "ffmpeg")

	// -- Inference --
	v.SetDefault("inference.provider", ProviderOpenAI)
	v.SetDefault("inference.verifier_provider", "")
	v.SetDefault("inference.synthesis_model", "gpt-4o")
	v.SetDefault("inference.locator_model", "gpt-4o")
	v.SetDefault("inference.verifier_model", "")
	v.SetDefault("inference.max_tokens", 2048)
	v.SetDefault("inference.temperature", 1.0)
	v.SetDefault("inference.timeout", "90s")
	v.SetDefault("inference.requests_per_minute", 0)
	v.SetDefault("inference.openai.api_key", "")
	v.SetDefault("inference.openai.base_url", "")
	v.SetDefault("inference.anthropic.api_key", "")
	v.SetDefault("inference.anthropic.base_url", "")

	// -- Annotator --
	v.SetDefault("annotator.endpoint", "")
	v.SetDefault("annotator.timeout", "60s")
	v.SetDefault("annotator.max_width", 1456)
	v.SetDefault("annotator.max_height", 819)

	// -- Executor --
	v.SetDefault("executor.max_attempts", 3)
	v.SetDefault("executor.acceptance_threshold", 0.8)
	v.SetDefault("executor.settle_delay", "500ms")
	v.SetDefault("executor.retry_initial_delay", "500ms")
	v.SetDefault("executor.retry_max_delay", "4s")
	v.SetDefault("executor.verify", false)
	v.SetDefault("executor.submit_key", "enter")
	v.SetDefault("executor.debug_dir", "")

	// -- Backend --
	v.SetDefault("backend.kind", BackendDesktop)
	v.SetDefault("backend.browser.url", "about:blank")
	v.SetDefault("backend.browser.width", 1280)
	v.SetDefault("backend.browser.height", 720)
	v.SetDefault("backend.browser.headless", false)
	v.SetDefault("backend.browser.profile_dir", "")

	// -- Server --
	v.SetDefault("server.addr", "127.0.0.1:8000")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.max_upload_mb", 200)
	v.SetDefault("server.request_timeout", "10m")
}

// Load reads configuration from cfgFile (or ./config.yaml when empty), the
// environment and the defaults, in increasing order of precedence for env.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SCREENPLAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return NewConfigFromViper(v)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Secrets are only ever supplied out of band.
	_ = v.BindEnv("inference.openai.api_key", "SCREENPLAY_OPENAI_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("inference.anthropic.api_key", "SCREENPLAY_ANTHROPIC_KEY", "ANTHROPIC_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Frames.Validate(); err != nil {
		return fmt.Errorf("frames configuration invalid: %w", err)
	}
	if err := c.Executor.Validate(); err != nil {
		return fmt.Errorf("executor configuration invalid: %w", err)
	}
	if !validProvider(c.Inference.Provider) {
		return fmt.Errorf("inference.provider must be %q or %q, got %q", ProviderOpenAI, ProviderClaude, c.Inference.Provider)
	}
	if c.Inference.VerifierProvider != "" && !validProvider(c.Inference.VerifierProvider) {
		return fmt.Errorf("inference.verifier_provider must be %q or %q, got %q", ProviderOpenAI, ProviderClaude, c.Inference.VerifierProvider)
	}
	if c.Inference.RequestsPerMinute < 0 {
		return fmt.Errorf("inference.requests_per_minute must not be negative")
	}
	switch c.Backend.Kind {
	case BackendDesktop, BackendBrowser:
	default:
		return fmt.Errorf("backend.kind must be %q or %q, got %q", BackendDesktop, BackendBrowser, c.Backend.Kind)
	}
	if c.Annotator.MaxWidth <= 0 || c.Annotator.MaxHeight <= 0 {
		return fmt.Errorf("annotator.max_width and annotator.max_height must be positive")
	}
	return nil
}

// Validate checks the frame selection thresholds.
func (f *FramesConfig) Validate() error {
	if f.Stride <= 0 {
		return fmt.Errorf("stride must be a positive integer")
	}
	if f.DiffThreshold < 0 || f.DiffThreshold > 255 {
		return fmt.Errorf("diff_threshold must be between 0 and 255")
	}
	if f.MinArea < 0 {
		return fmt.Errorf("min_area must not be negative")
	}
	if f.MSEDelta < 0 {
		return fmt.Errorf("mse_delta must not be negative")
	}
	return nil
}

// Validate checks the replay loop settings.
func (e *ExecutorConfig) Validate() error {
	if e.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be a positive integer")
	}
	if e.AcceptanceThreshold < 0.0 || e.AcceptanceThreshold > 1.0 {
		return fmt.Errorf("acceptance_threshold must be between 0.0 and 1.0")
	}
	if e.SettleDelay < 0 || e.RetryInitialDelay < 0 || e.RetryMaxDelay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	return nil
}

func validProvider(name string) bool {
	return name == ProviderOpenAI || name == ProviderClaude
}
