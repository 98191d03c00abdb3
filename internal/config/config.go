package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Identity     IdentityConfig     `mapstructure:"identity"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Chat         ChatConfig         `mapstructure:"chat"`
	Provider     ProviderConfig     `mapstructure:"provider"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	I18n         I18nConfig         `mapstructure:"i18n"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type IdentityConfig struct {
	Secret              string        `mapstructure:"secret"`
	MaxClockSkew        time.Duration `mapstructure:"max_clock_skew"`
	AllowGuest          bool          `mapstructure:"allow_guest"`
	RejectReplayedNonce bool          `mapstructure:"reject_replayed_nonce"`
}

type RateLimitConfig struct {
	MaxRequests     int           `mapstructure:"max_requests"`
	Window          time.Duration `mapstructure:"window"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type ConversationConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	MaxHistory     int           `mapstructure:"max_history"`
	SweepThreshold int           `mapstructure:"sweep_threshold"`
}

type ChatConfig struct {
	MaxMessageLength int    `mapstructure:"max_message_length"`
	SystemPrompt     string `mapstructure:"system_prompt"`
}

type ProviderConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	Temperature       float64       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string `mapstructure:"default_language"`
}

// DefaultSystemPrompt is the Greek health-assistant persona used when none is configured.
const DefaultSystemPrompt = `Είσαι ο Autoanosis Assistant, ένας εξειδικευμένος βοηθός υγείας στα ελληνικά.

Παρέχεις:
- Ακριβείς και επιστημονικά τεκμηριωμένες πληροφορίες υγείας
- Φιλικές και κατανοητές απαντήσεις
- Υποστήριξη σε θέματα υγείας, φαρμάκων, συμπτωμάτων

Σημαντικό:
- ΔΕΝ αντικαθιστάς ιατρική συμβουλή
- Συνιστάς πάντα επίσκεψη σε γιατρό για σοβαρά θέματα
- Απαντάς στα ελληνικά`

// durations given in the environment as plain seconds
var secondsEnv = map[string]string{
	"identity.max_clock_skew": "IDENTITY_MAX_CLOCK_SKEW_SECONDS",
	"rate_limit.window":       "RATE_LIMIT_WINDOW_SECONDS",
	"conversation.ttl":        "CONVERSATION_TTL_SECONDS",
	"provider.timeout":        "OPENAI_TIMEOUT_SECONDS",
}

var plainEnv = map[string]string{
	"server.port":                    "PORT",
	"server.read_timeout":            "SERVER_READ_TIMEOUT",
	"server.write_timeout":           "SERVER_WRITE_TIMEOUT",
	"identity.secret":                "AUTOANOSIS_IDENTITY_SECRET",
	"identity.allow_guest":           "IDENTITY_ALLOW_GUEST",
	"identity.reject_replayed_nonce": "IDENTITY_REJECT_REPLAYED_NONCE",
	"rate_limit.max_requests":        "RATE_LIMIT_MAX_REQUESTS",
	"conversation.max_history":       "CONVERSATION_MAX_HISTORY",
	"conversation.sweep_threshold":   "CONVERSATION_SWEEP_THRESHOLD",
	"chat.max_message_length":        "CHAT_MAX_MESSAGE_LENGTH",
	"chat.system_prompt":             "CHAT_SYSTEM_PROMPT",
	"provider.base_url":              "OPENAI_BASE_URL",
	"provider.api_key":               "OPENAI_API_KEY",
	"provider.model":                 "OPENAI_MODEL",
	"logging.level":                  "LOG_LEVEL",
	"logging.format":                 "LOG_FORMAT",
	"monitoring.metrics.enabled":     "METRICS_ENABLED",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.allowed_origins", []string{
		"https://autoanosis.com",
		"https://www.autoanosis.com",
		"http://localhost:3000",
		"http://localhost:5000",
	})

	v.SetDefault("identity.secret", "")
	v.SetDefault("identity.max_clock_skew", 60*time.Second)
	v.SetDefault("identity.allow_guest", false)
	v.SetDefault("identity.reject_replayed_nonce", false)

	v.SetDefault("rate_limit.max_requests", 20)
	v.SetDefault("rate_limit.window", 60*time.Second)
	v.SetDefault("rate_limit.cleanup_interval", 10*time.Minute)

	v.SetDefault("conversation.ttl", time.Hour)
	v.SetDefault("conversation.max_history", 20)
	v.SetDefault("conversation.sweep_threshold", 1000)

	v.SetDefault("chat.max_message_length", 4000)
	v.SetDefault("chat.system_prompt", DefaultSystemPrompt)

	v.SetDefault("provider.base_url", "https://api.openai.com/v1")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.model", "gpt-4o-mini")
	v.SetDefault("provider.temperature", 0.7)
	v.SetDefault("provider.max_tokens", 1000)
	v.SetDefault("provider.timeout", 30*time.Second)
	v.SetDefault("provider.requests_per_second", 10.0)
	v.SetDefault("provider.burst", 20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file.path", "logs/relay.log")
	v.SetDefault("logging.file.max_size", 100)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age", 28)

	v.SetDefault("monitoring.metrics.enabled", true)
	v.SetDefault("monitoring.metrics.port", 9090)
	v.SetDefault("monitoring.metrics.path", "/metrics")

	v.SetDefault("i18n.default_language", "en")
}

// LoadConfig loads configuration from an optional YAML file, then environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	for key, env := range plainEnv {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applySecondsOverrides(&config); err != nil {
		return nil, err
	}

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		config.Server.AllowedOrigins = splitList(origins)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func applySecondsOverrides(cfg *Config) error {
	targets := map[string]*time.Duration{
		"identity.max_clock_skew": &cfg.Identity.MaxClockSkew,
		"rate_limit.window":       &cfg.RateLimit.Window,
		"conversation.ttl":        &cfg.Conversation.TTL,
		"provider.timeout":        &cfg.Provider.Timeout,
	}
	for key, env := range secondsEnv {
		raw := strings.TrimSpace(os.Getenv(env))
		if raw == "" {
			continue
		}
		secs, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", env, raw, err)
		}
		*targets[key] = time.Duration(secs) * time.Second
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateConfig(cfg *Config) error {
	if cfg.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.max_requests must be positive")
	}
	if cfg.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	if cfg.Conversation.MaxHistory <= 0 {
		return fmt.Errorf("conversation.max_history must be positive")
	}
	if cfg.Conversation.TTL <= 0 {
		return fmt.Errorf("conversation.ttl must be positive")
	}
	if cfg.Identity.MaxClockSkew < 0 {
		return fmt.Errorf("identity.max_clock_skew must not be negative")
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin is required")
	}
	return nil
}

// RequireProvider reports whether the completion provider is usable.
func (c *Config) RequireProvider() error {
	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider api key is required (OPENAI_API_KEY)")
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider base url is required")
	}
	return nil
}
