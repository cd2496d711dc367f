package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds runtime configuration.
type Config struct {
	BaseURL  string `mapstructure:"base_url"`
	Log      LogConfig
	Gateway  GatewayConfig
	Auth     AuthConfig
	Feed     FeedConfig
	Recovery RecoveryConfig
	Memory   MemoryConfig
	Metrics  MetricsConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type GatewayConfig struct {
	RatePerMinute int    `mapstructure:"rate_per_minute"`
	MaxInFlight   int    `mapstructure:"max_in_flight"`
	StatsBackend  string `mapstructure:"stats_backend"`
	Redis         RedisConfig
}

// RedisConfig é usado quando stats_backend = "redis".
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
	Bucket   string
}

type AuthConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	CookieName   string        `mapstructure:"cookie_name"`
	CookieValue  string        `mapstructure:"cookie_value"`
	LoginPath    string        `mapstructure:"login_path"`
	Username     string
	Password     string
}

type FeedConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	RetryBase       time.Duration `mapstructure:"retry_base"`
	Retries         int
}

type RecoveryConfig struct {
	Delay     time.Duration
	BannerTTL time.Duration `mapstructure:"banner_ttl"`
}

type MemoryConfig struct {
	// HighWaterMB = 0 desliga a evicção.
	HighWaterMB   uint64        `mapstructure:"high_water_mb"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

type MetricsConfig struct {
	// ListenAddr vazio desliga o endpoint /metrics.
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load reads configuration from an optional TOML file and env.
// The file path comes from NIGHTMATE_CONFIG; env overrides use prefix NIGHTMATE_.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("base_url", "http://localhost:8081")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("gateway.rate_per_minute", 30)
	v.SetDefault("gateway.max_in_flight", 5)
	v.SetDefault("gateway.stats_backend", "memory")
	v.SetDefault("gateway.redis.addr", "")
	v.SetDefault("gateway.redis.password", "")
	v.SetDefault("gateway.redis.db", 0)
	v.SetDefault("gateway.redis.prefix", "nightmate:gateway")
	v.SetDefault("gateway.redis.ttl", 24*time.Hour)
	v.SetDefault("gateway.redis.bucket", "minute")
	v.SetDefault("auth.poll_interval", 5*time.Second)
	v.SetDefault("auth.cookie_name", "nm_session")
	v.SetDefault("auth.cookie_value", "authenticated")
	v.SetDefault("auth.login_path", "/api/login")
	v.SetDefault("auth.username", "")
	v.SetDefault("auth.password", "")
	v.SetDefault("feed.refresh_interval", 30*time.Second)
	v.SetDefault("feed.retry_base", time.Second)
	v.SetDefault("feed.retries", 2)
	v.SetDefault("recovery.delay", 2*time.Second)
	v.SetDefault("recovery.banner_ttl", 10*time.Second)
	v.SetDefault("memory.high_water_mb", 0)
	v.SetDefault("memory.check_interval", 30*time.Second)
	v.SetDefault("metrics.listen_addr", "")

	v.SetConfigType("toml")
	if path := os.Getenv("NIGHTMATE_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("NIGHTMATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("base_url is required")
	}
	switch c.Gateway.StatsBackend {
	case "memory", "":
	case "redis":
		if strings.TrimSpace(c.Gateway.Redis.Addr) == "" {
			return errors.New("gateway.redis.addr is required when gateway.stats_backend=redis")
		}
	default:
		return fmt.Errorf("gateway.stats_backend must be memory or redis, got %q", c.Gateway.StatsBackend)
	}
	if c.Gateway.RatePerMinute < 0 {
		return errors.New("gateway.rate_per_minute must be >= 0")
	}
	if c.Gateway.MaxInFlight < 0 {
		return errors.New("gateway.max_in_flight must be >= 0")
	}
	if c.Auth.PollInterval <= 0 {
		return errors.New("auth.poll_interval must be > 0")
	}
	return nil
}

// HighWaterBytes converte o limite de memória para bytes.
func (m MemoryConfig) HighWaterBytes() uint64 { return m.HighWaterMB << 20 }
