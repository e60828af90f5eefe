// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Agent() AgentConfig
	LLM() LLMConfig
	Device() DeviceConfig
	Store() StoreConfig

	// Agent Setters
	SetAgentVision(VisionMode)
	SetAgentMaxStuckTicks(int)

	// LLM Setters
	SetLLMProvider(LLMProvider)
	SetLLMModel(string)

	// Device Setters
	SetDeviceSerial(string)

	Validate() error
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg LoggerConfig `mapstructure:"logger" yaml:"logger"`
	AgentCfg  AgentConfig  `mapstructure:"agent" yaml:"agent"`
	LLMCfg    LLMConfig    `mapstructure:"llm" yaml:"llm"`
	DeviceCfg DeviceConfig `mapstructure:"device" yaml:"device"`
	StoreCfg  StoreConfig  `mapstructure:"store" yaml:"store"`
}

var _ Interface = (*Config)(nil)

// -- Getters --

func (c *Config) Logger() LoggerConfig { return c.LoggerCfg }
func (c *Config) Agent() AgentConfig   { return c.AgentCfg }
func (c *Config) LLM() LLMConfig       { return c.LLMCfg }
func (c *Config) Device() DeviceConfig { return c.DeviceCfg }
func (c *Config) Store() StoreConfig   { return c.StoreCfg }

// -- Setters --
// Used by the CLI layer to apply flag overrides after the file has been loaded.

func (c *Config) SetAgentVision(m VisionMode)   { c.AgentCfg.Vision = m }
func (c *Config) SetAgentMaxStuckTicks(n int)   { c.AgentCfg.MaxStuckTicks = n }
func (c *Config) SetLLMProvider(p LLMProvider)  { c.LLMCfg.Provider = p }
func (c *Config) SetLLMModel(m string)          { c.LLMCfg.Model = m }
func (c *Config) SetDeviceSerial(serial string) { c.DeviceCfg.Serial = serial }

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
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// VisionMode selects what the model sees on each tick.
type VisionMode string

const (
	// VisionOff sends only the serialized node list.
	VisionOff VisionMode = "off"
	// VisionAssist sends the node list plus a screenshot to the text model.
	VisionAssist VisionMode = "assist"
	// VisionEndToEnd sends only the screenshot, to the vision model.
	VisionEndToEnd VisionMode = "end_to_end"
)

// Valid reports whether m is a known mode.
func (m VisionMode) Valid() bool {
	switch m {
	case VisionOff, VisionAssist, VisionEndToEnd:
		return true
	}
	return false
}

// AgentConfig tunes the decision loop.
type AgentConfig struct {
	TickCooldown        time.Duration `mapstructure:"tick_cooldown" yaml:"tick_cooldown"`
	UnchangedCooldown   time.Duration `mapstructure:"unchanged_cooldown" yaml:"unchanged_cooldown"`
	PopupSettle         time.Duration `mapstructure:"popup_settle" yaml:"popup_settle"`
	ComplexityThreshold int           `mapstructure:"complexity_threshold" yaml:"complexity_threshold"`
	HistorySize         int           `mapstructure:"history_size" yaml:"history_size"`

	// MaxStuckTicks aborts a run after this many consecutive level-2 ticks. Zero disables it.
	MaxStuckTicks int `mapstructure:"max_stuck_ticks" yaml:"max_stuck_ticks"`
	// MaxUnchangedSkips bounds how many ticks in a row may be skipped because
	// the screen did not change. Zero means no bound.
	MaxUnchangedSkips int `mapstructure:"max_unchanged_skips" yaml:"max_unchanged_skips"`

	Vision       VisionMode  `mapstructure:"vision" yaml:"vision"`
	ScreenWidth  int         `mapstructure:"screen_width" yaml:"screen_width"`
	ScreenHeight int         `mapstructure:"screen_height" yaml:"screen_height"`
	Popup        PopupConfig `mapstructure:"popup" yaml:"popup"`

	// OriginFallback turns an action with unparsable coordinates into a click at (0,0)
	// instead of rejecting it.
	OriginFallback bool `mapstructure:"origin_fallback" yaml:"origin_fallback"`
}

// PopupConfig holds the keyword lists for the popup rule engine.
type PopupConfig struct {
	DismissKeywords []string `mapstructure:"dismiss_keywords" yaml:"dismiss_keywords"`
	AllowKeywords   []string `mapstructure:"allow_keywords" yaml:"allow_keywords"`
}

// LLMProvider names a supported model backend.
type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderGemini LLMProvider = "gemini"
	ProviderOllama LLMProvider = "ollama"
)

// LLMConfig configures the model gateway.
type LLMConfig struct {
	Provider          LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model             string        `mapstructure:"model" yaml:"model"`
	VisionModel       string        `mapstructure:"vision_model" yaml:"vision_model"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// DeviceConfig describes how to reach the handset.
type DeviceConfig struct {
	ADBPath        string        `mapstructure:"adb_path" yaml:"adb_path"`
	Serial         string        `mapstructure:"serial" yaml:"serial"`
	DumpPath       string        `mapstructure:"dump_path" yaml:"dump_path"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
}

// StoreConfig selects the saved-plan backend.
type StoreConfig struct {
	Type        string `mapstructure:"type" yaml:"type"`
	Path        string `mapstructure:"path" yaml:"path"`
	PostgresURL string `mapstructure:"postgres_url" yaml:"postgres_url"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// DefaultDismissKeywords is the ordered dismiss list; earlier entries win on the same node.
var DefaultDismissKeywords = []string{
	"skip", "close", "cancel", "not now", "dismiss", "no thanks", "later",
	"跳过", "关闭", "取消", "以后再说", "暂不", "我知道了",
}

// DefaultAllowKeywords is kept for configuration completeness; the loop does not act on it.
var DefaultAllowKeywords = []string{
	"allow", "accept", "agree", "ok", "continue", "允许", "同意", "确定",
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "droidpilot")
	v.SetDefault("logger.log_file", "~/.droidpilot/droidpilot.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Agent --
	v.SetDefault("agent.tick_cooldown", "3s")
	v.SetDefault("agent.unchanged_cooldown", "2s")
	v.SetDefault("agent.popup_settle", "500ms")
	v.SetDefault("agent.complexity_threshold", 35)
	v.SetDefault("agent.history_size", 5)
	v.SetDefault("agent.max_stuck_ticks", 8)
	v.SetDefault("agent.max_unchanged_skips", 5)
	v.SetDefault("agent.vision", string(VisionOff))
	v.SetDefault("agent.screen_width", 1080)
	v.SetDefault("agent.screen_height", 2400)
	v.SetDefault("agent.popup.dismiss_keywords", DefaultDismissKeywords)
	v.SetDefault("agent.popup.allow_keywords", DefaultAllowKeywords)
	v.SetDefault("agent.origin_fallback", false)

	// -- LLM --
	v.SetDefault("llm.provider", string(ProviderOpenAI))
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.vision_model", "gpt-4o")
	v.SetDefault("llm.endpoint", "")
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.requests_per_minute", 30)
	v.SetDefault("llm.max_retries", 2)

	// -- Device --
	v.SetDefault("device.adb_path", "adb")
	v.SetDefault("device.serial", "")
	v.SetDefault("device.dump_path", "/sdcard/window_dump.xml")
	v.SetDefault("device.command_timeout", "15s")

	// -- Store --
	v.SetDefault("store.type", "file")
	v.SetDefault("store.path", "~/.droidpilot/plans.json")
	v.SetDefault("store.postgres_url", "")
}

// NewConfigFromViper unmarshals, fills secrets from the environment and validates.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("llm.api_key", "DROIDPILOT_LLM_API_KEY")
	v.BindEnv("store.postgres_url", "DROIDPILOT_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Provider-native key variables are honoured when nothing more specific is set.
	if cfg.LLMCfg.APIKey == "" {
		cfg.LLMCfg.APIKey = providerKeyFromEnv(cfg.LLMCfg.Provider)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func providerKeyFromEnv(p LLMProvider) string {
	switch p {
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case ProviderGemini:
		return os.Getenv("GEMINI_API_KEY")
	}
	return ""
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.AgentCfg.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if err := c.LLMCfg.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if err := c.StoreCfg.Validate(); err != nil {
		return fmt.Errorf("store configuration invalid: %w", err)
	}
	if c.DeviceCfg.ADBPath == "" {
		return fmt.Errorf("device.adb_path is a required configuration field")
	}
	return nil
}

// Validate checks the AgentConfig settings.
func (a *AgentConfig) Validate() error {
	if a.TickCooldown < 0 || a.UnchangedCooldown < 0 || a.PopupSettle < 0 {
		return fmt.Errorf("agent cooldowns must not be negative")
	}
	if a.ComplexityThreshold <= 0 {
		return fmt.Errorf("agent.complexity_threshold must be a positive integer")
	}
	if a.HistorySize <= 0 {
		return fmt.Errorf("agent.history_size must be a positive integer")
	}
	if a.MaxStuckTicks < 0 {
		return fmt.Errorf("agent.max_stuck_ticks must be zero or greater")
	}
	if a.MaxUnchangedSkips < 0 {
		return fmt.Errorf("agent.max_unchanged_skips must be zero or greater")
	}
	if !a.Vision.Valid() {
		return fmt.Errorf("agent.vision must be one of off, assist, end_to_end (got %q)", a.Vision)
	}
	if a.ScreenWidth <= 0 || a.ScreenHeight <= 0 {
		return fmt.Errorf("agent.screen_width and agent.screen_height must be positive")
	}
	return nil
}

// Validate checks the LLMConfig settings.
func (l *LLMConfig) Validate() error {
	switch l.Provider {
	case ProviderOpenAI, ProviderGemini, ProviderOllama:
	default:
		return fmt.Errorf("llm.provider %q is not supported", l.Provider)
	}
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model is required")
	}
	if l.RequestsPerMinute < 0 {
		return fmt.Errorf("llm.requests_per_minute must be zero or greater")
	}
	if l.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must be zero or greater")
	}
	return nil
}

// Validate checks the StoreConfig settings.
func (s *StoreConfig) Validate() error {
	switch s.Type {
	case "file":
		if s.Path == "" {
			return fmt.Errorf("store.path is required for the file store")
		}
	case "postgres":
		if s.PostgresURL == "" {
			return fmt.Errorf("store.postgres_url is required for the postgres store. Ensure DROIDPILOT_DATABASE_URL is set")
		}
	default:
		return fmt.Errorf("store.type must be file or postgres (got %q)", s.Type)
	}
	return nil
}
