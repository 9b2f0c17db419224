// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration. Sections are unmarshalled
// from the config file (or environment) by viper.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	ADB     ADBConfig     `mapstructure:"adb" yaml:"adb"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
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

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// ADBConfig configures the connection to the Android Debug Bridge and the
// target device.
type ADBConfig struct {
	// Path to the adb binary. When empty, $ANDROID_HOME/platform-tools/adb
	// is used. Supports ~ expansion.
	Path string `mapstructure:"path" yaml:"path"`
	// DeviceID selects a device serial when more than one is attached.
	DeviceID string `mapstructure:"device_id" yaml:"device_id"`
	// CommandTimeout bounds a single adb invocation (tap, key event, ...).
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	// CaptureTimeout bounds a full UI hierarchy capture (dump + pull).
	CaptureTimeout time.Duration `mapstructure:"capture_timeout" yaml:"capture_timeout"`
}

// AgentConfig holds the knobs of the automation loop itself.
type AgentConfig struct {
	// MaxConsecutiveFailures is the number of back-to-back failed turns after
	// which the run transitions to Failed.
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	// MaxDeviceRetries is the per-action retry ceiling for transient device
	// errors before the turn counts as a single failure.
	MaxDeviceRetries int `mapstructure:"max_device_retries" yaml:"max_device_retries"`
	// MaxTurns is a hard iteration cap. Zero means unbounded; the run then
	// only ends via an explicit end/error action or the failure threshold.
	MaxTurns int `mapstructure:"max_turns" yaml:"max_turns"`
	// HistoryWindow is the number of recent turns included in the prompt.
	HistoryWindow int `mapstructure:"history_window" yaml:"history_window"`
	// ResetCounterOnKindChange resets the consecutive-failure counter when a
	// failure of a different kind follows, instead of only on success.
	ResetCounterOnKindChange bool `mapstructure:"reset_counter_on_kind_change" yaml:"reset_counter_on_kind_change"`
	// StrictClientErrors counts decision-client connection/timeout errors
	// toward the failure threshold twice as fast when set.
	StrictClientErrors bool `mapstructure:"strict_client_errors" yaml:"strict_client_errors"`
	// DecisionRate limits decision requests per second.
	DecisionRate float64 `mapstructure:"decision_rate" yaml:"decision_rate"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderOllama LLMProvider = "ollama"
	ProviderGemini LLMProvider = "gemini"
)

// LLMConfig defines the configuration for the decision model backend.
type LLMConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	Host        string        `mapstructure:"host" yaml:"host"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	ForceJSON   bool          `mapstructure:"force_json" yaml:"force_json"`
	// MaxRetryElapsed bounds the client's own exponential backoff budget.
	MaxRetryElapsed time.Duration `mapstructure:"max_retry_elapsed" yaml:"max_retry_elapsed"`
}

// StorageConfig configures optional persistence of finished runs.
type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig creates a configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with static defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "droidprobe-cli")
	v.SetDefault("logger.log_file", "droidprobe.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- ADB --
	v.SetDefault("adb.path", "")
	v.SetDefault("adb.device_id", "")
	v.SetDefault("adb.command_timeout", "10s")
	v.SetDefault("adb.capture_timeout", "30s")

	// -- Agent --
	v.SetDefault("agent.max_consecutive_failures", 5)
	v.SetDefault("agent.max_device_retries", 2)
	v.SetDefault("agent.max_turns", 0)
	v.SetDefault("agent.history_window", 10)
	v.SetDefault("agent.reset_counter_on_kind_change", false)
	v.SetDefault("agent.strict_client_errors", false)
	v.SetDefault("agent.decision_rate", 1.0)

	// -- LLM --
	v.SetDefault("llm.provider", "ollama")
	v.SetDefault("llm.model", "llama3.2:3b")
	v.SetDefault("llm.host", "http://127.0.0.1:11434")
	v.SetDefault("llm.endpoint", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.api_timeout", "5m")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.force_json", true)
	v.SetDefault("llm.max_retry_elapsed", "2m")

	// -- Storage --
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.url", "")
}

// NewConfigFromViper unmarshals and validates a Config from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("llm.api_key", "DROIDPROBE_LLM_API_KEY")
	v.BindEnv("storage.url", "DROIDPROBE_STORAGE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves ~ in user supplied file paths.
func (c *Config) expandPaths() error {
	var err error
	if c.ADB.Path != "" {
		if c.ADB.Path, err = homedir.Expand(c.ADB.Path); err != nil {
			return fmt.Errorf("cannot expand adb.path: %w", err)
		}
	}
	if c.Logger.LogFile != "" {
		if c.Logger.LogFile, err = homedir.Expand(c.Logger.LogFile); err != nil {
			return fmt.Errorf("cannot expand logger.log_file: %w", err)
		}
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Agent.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("agent.max_consecutive_failures must be a positive integer")
	}
	if c.Agent.MaxDeviceRetries < 0 {
		return fmt.Errorf("agent.max_device_retries must not be negative")
	}
	if c.Agent.MaxTurns < 0 {
		return fmt.Errorf("agent.max_turns must not be negative")
	}
	if c.Agent.HistoryWindow <= 0 {
		return fmt.Errorf("agent.history_window must be a positive integer")
	}
	if c.Agent.DecisionRate <= 0 {
		return fmt.Errorf("agent.decision_rate must be greater than 0")
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if c.Storage.Enabled && c.Storage.URL == "" {
		return fmt.Errorf("storage.url is required when storage is enabled")
	}
	return nil
}

// Validate checks the LLM backend settings.
func (l *LLMConfig) Validate() error {
	switch l.Provider {
	case ProviderOllama:
		if l.Host == "" {
			return fmt.Errorf("llm.host is required for the ollama provider")
		}
	case ProviderGemini:
		if l.APIKey == "" {
			return fmt.Errorf("llm.api_key is required for the gemini provider. Set DROIDPROBE_LLM_API_KEY")
		}
	default:
		return fmt.Errorf("unknown llm.provider: %q. Supported: [%s, %s]", l.Provider, ProviderOllama, ProviderGemini)
	}
	if l.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if l.APITimeout <= 0 {
		return fmt.Errorf("llm.api_timeout must be a positive duration")
	}
	return nil
}
