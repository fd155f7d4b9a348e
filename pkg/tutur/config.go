package tutur

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harunnryd/tutur/pkg/results"
)

type Config struct {
	Credential    CredentialConfig    `mapstructure:"credential"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Session       SessionConfig       `mapstructure:"session"`
	Sink          SinkConfig          `mapstructure:"sink"`
	TokenServer   TokenServerConfig   `mapstructure:"token_server"`
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	Recognition VendorConfig `mapstructure:"recognition"`
	Synthesis   VendorConfig `mapstructure:"synthesis"`
}

// CredentialConfig selects where session credentials come from.
// Source "http" fetches from URL; "static" hands out Token/Region as-is.
type CredentialConfig struct {
	Source         string        `mapstructure:"source"`
	URL            string        `mapstructure:"url"`
	Token          string        `mapstructure:"token"`
	Region         string        `mapstructure:"region"`
	SkewMS         int           `mapstructure:"skew_ms"`
	DefaultTTLMS   int           `mapstructure:"default_ttl_ms"`
	FetchTimeoutMS int           `mapstructure:"fetch_timeout_ms"`
	Store          StoreConfig   `mapstructure:"store"`
	Breaker        BreakerConfig `mapstructure:"breaker"`
}

type StoreConfig struct {
	Provider string      `mapstructure:"provider"`
	Redis    RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

type BreakerConfig struct {
	Threshold  int `mapstructure:"threshold"`
	CooldownMS int `mapstructure:"cooldown_ms"`
}

type SessionConfig struct {
	StartTimeoutMS int `mapstructure:"start_timeout_ms"`
	StopTimeoutMS  int `mapstructure:"stop_timeout_ms"`
}

type SinkConfig struct {
	Retention string `mapstructure:"retention"`
}

type TokenServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	Secret         string   `mapstructure:"secret"`
	Region         string   `mapstructure:"region"`
	TTLMS          int      `mapstructure:"ttl_ms"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type ObservabilityConfig struct {
	ArtifactsDir  string `mapstructure:"artifacts_dir"`
	RetentionDays int    `mapstructure:"retention_days"`
	AsyncBuffer   int    `mapstructure:"async_buffer"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

// LoadConfig reads path (when not empty) over the built-in defaults.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("credential.source", "http")
	v.SetDefault("credential.url", "http://localhost:8080/api/Voice/get-speech-token")
	v.SetDefault("credential.skew_ms", 60000)
	v.SetDefault("credential.default_ttl_ms", 600000)
	v.SetDefault("credential.fetch_timeout_ms", 5000)
	v.SetDefault("credential.store.provider", "memory")
	v.SetDefault("credential.store.redis.addr", "localhost:6379")
	v.SetDefault("credential.store.redis.key", "tutur:speech-credential")
	v.SetDefault("credential.breaker.threshold", 3)
	v.SetDefault("credential.breaker.cooldown_ms", 30000)
	v.SetDefault("vendors.recognition.provider", "deepgram")
	v.SetDefault("vendors.synthesis.provider", "elevenlabs")
	v.SetDefault("session.start_timeout_ms", 10000)
	v.SetDefault("session.stop_timeout_ms", 5000)
	v.SetDefault("sink.retention", string(results.RetainLatest))
	v.SetDefault("token_server.addr", ":8080")
	v.SetDefault("token_server.region", "eastus")
	v.SetDefault("token_server.ttl_ms", 600000)
	v.SetDefault("token_server.allowed_origins", []string{"*"})
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("observability.async_buffer", 256)
	v.SetDefault("privacy.redact_pii", true)
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Vendors.Recognition.Provider) == "" {
		return fmt.Errorf("vendors.recognition.provider is required")
	}
	if strings.TrimSpace(c.Vendors.Synthesis.Provider) == "" {
		return fmt.Errorf("vendors.synthesis.provider is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Credential.Source)) {
	case "http":
		if strings.TrimSpace(c.Credential.URL) == "" {
			return fmt.Errorf("credential.url is required for the http source")
		}
	case "static":
		if strings.TrimSpace(c.Credential.Token) == "" || strings.TrimSpace(c.Credential.Region) == "" {
			return fmt.Errorf("credential.token and credential.region are required for the static source")
		}
	default:
		return fmt.Errorf("credential.source must be one of [http, static], got %q", c.Credential.Source)
	}
	switch strings.ToLower(strings.TrimSpace(c.Credential.Store.Provider)) {
	case "memory", "":
	case "redis":
		if strings.TrimSpace(c.Credential.Store.Redis.Addr) == "" {
			return fmt.Errorf("credential.store.redis.addr is required")
		}
	default:
		return fmt.Errorf("credential.store.provider must be one of [memory, redis], got %q", c.Credential.Store.Provider)
	}
	if _, err := results.ParseRetention(c.Sink.Retention); err != nil {
		return fmt.Errorf("sink.retention: %w", err)
	}
	if c.Session.StartTimeoutMS < 0 || c.Session.StopTimeoutMS < 0 {
		return fmt.Errorf("session timeouts must not be negative")
	}
	return nil
}

// ValidateTokenServer checks the settings serve-token needs on top of Validate.
func (c *Config) ValidateTokenServer() error {
	if strings.TrimSpace(c.TokenServer.Secret) == "" {
		return fmt.Errorf("token_server.secret is required")
	}
	if c.TokenServer.TTLMS <= 0 {
		return fmt.Errorf("token_server.ttl_ms must be positive")
	}
	return nil
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.Recognition.Settings = expandSettings(cfg.Vendors.Recognition.Settings)
	cfg.Vendors.Synthesis.Settings = expandSettings(cfg.Vendors.Synthesis.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
