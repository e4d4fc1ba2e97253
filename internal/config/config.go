package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/text/language"

	"github.com/sells-group/dedupe-cli/internal/reconcile"
)

// Config holds the full application configuration.
type Config struct {
	Backend   BackendConfig   `yaml:"backend" mapstructure:"backend"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`
	Analysis  AnalysisConfig  `yaml:"analysis" mapstructure:"analysis"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// BackendConfig holds the duplicates API connection settings.
type BackendConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	Token            string  `yaml:"token" mapstructure:"token"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	RatePerSec       float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst            int     `yaml:"burst" mapstructure:"burst"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// Timeout returns the per-request HTTP timeout.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSecs) * time.Second
}

// BreakerReset returns how long the circuit stays open.
func (b BackendConfig) BreakerReset() time.Duration {
	return time.Duration(b.BreakerResetSecs) * time.Second
}

// CacheConfig configures the read-through request cache.
type CacheConfig struct {
	TTLSecs int `yaml:"ttl_secs" mapstructure:"ttl_secs"`
	Size    int `yaml:"size" mapstructure:"size"`
}

// TTL returns the entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// ReconcileConfig holds merge policy and presentation settings.
type ReconcileConfig struct {
	AllowPartialMerge bool   `yaml:"allow_partial_merge" mapstructure:"allow_partial_merge"`
	DefaultLang       string `yaml:"default_lang" mapstructure:"default_lang"`
}

// Policy returns the submit policy.
func (r ReconcileConfig) Policy() reconcile.Policy {
	return reconcile.Policy{AllowPartialMerge: r.AllowPartialMerge}
}

// Language returns the label language, falling back to English.
func (r ReconcileConfig) Language() language.Tag {
	tag, err := language.Parse(r.DefaultLang)
	if err != nil {
		return language.English
	}
	return tag
}

// AnalysisConfig configures analysis job polling.
type AnalysisConfig struct {
	PollInitialMs   int `yaml:"poll_initial_ms" mapstructure:"poll_initial_ms"`
	PollCapMs       int `yaml:"poll_cap_ms" mapstructure:"poll_cap_ms"`
	PollTimeoutSecs int `yaml:"poll_timeout_secs" mapstructure:"poll_timeout_secs"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml, environment variables
// (prefixed DEDUPE_), and defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DEDUPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("backend.base_url", "http://localhost:8081")
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.timeout_secs", 30)
	v.SetDefault("backend.max_attempts", 1)
	v.SetDefault("backend.rate_per_sec", 0)
	v.SetDefault("backend.burst", 1)
	v.SetDefault("backend.breaker_threshold", 5)
	v.SetDefault("backend.breaker_reset_secs", 30)
	v.SetDefault("cache.ttl_secs", 30)
	v.SetDefault("cache.size", 256)
	v.SetDefault("reconcile.allow_partial_merge", true)
	v.SetDefault("reconcile.default_lang", "en")
	v.SetDefault("analysis.poll_initial_ms", 2000)
	v.SetDefault("analysis.poll_cap_ms", 30000)
	v.SetDefault("analysis.poll_timeout_secs", 1800)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "dedupe.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings needed by mode are present. Modes are
// "client" (backend access), "store" (persistence), and "serve" (both plus
// the HTTP listener).
func (c *Config) Validate(mode string) error {
	var problems []string

	needsClient := mode == "client" || mode == "serve"
	needsStore := mode == "store" || mode == "serve"

	if needsClient {
		if c.Backend.BaseURL == "" {
			problems = append(problems, "backend.base_url is required")
		}
		if c.Backend.MaxAttempts < 1 {
			problems = append(problems, "backend.max_attempts must be at least 1")
		}
		if c.Backend.RatePerSec < 0 {
			problems = append(problems, "backend.rate_per_sec must not be negative")
		}
	}

	if needsStore {
		switch c.Store.Driver {
		case "sqlite", "postgres":
			if c.Store.DatabaseURL == "" {
				problems = append(problems, "store.database_url is required")
			}
		default:
			problems = append(problems, fmt.Sprintf("store.driver %q is not supported (sqlite or postgres)", c.Store.Driver))
		}
	}

	if mode == "serve" && (c.Server.Port < 1 || c.Server.Port > 65535) {
		problems = append(problems, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}

	if c.Reconcile.DefaultLang != "" {
		if _, err := language.Parse(c.Reconcile.DefaultLang); err != nil {
			problems = append(problems, fmt.Sprintf("reconcile.default_lang %q is not a language tag", c.Reconcile.DefaultLang))
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger sets up the global zap logger based on config.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
