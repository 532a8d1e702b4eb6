package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every runtime setting for the API process.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Escrow   EscrowConfig   `mapstructure:"escrow"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Geo      GeoConfig      `mapstructure:"geo"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Addr     string `mapstructure:"addr"`
	LogLevel string `mapstructure:"log_level"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// EscrowConfig controls commission and the auto-release sweep.
type EscrowConfig struct {
	CommissionRate     float64       `mapstructure:"commission_rate"`
	AutoReleaseEnabled bool          `mapstructure:"auto_release_enabled"`
	AutoReleaseEvery   time.Duration `mapstructure:"auto_release_every"`
	HoldHours          int           `mapstructure:"hold_hours"`
	BatchSize          int           `mapstructure:"batch_size"`
}

// GatewayConfig configures the payment gateway integration.
type GatewayConfig struct {
	KeyID     string `mapstructure:"key_id"`
	KeySecret string `mapstructure:"key_secret"`
	BaseURL   string `mapstructure:"base_url"`
	Currency  string `mapstructure:"currency"`
}

// GeoConfig configures geocoding and routing providers.
type GeoConfig struct {
	UserAgent string        `mapstructure:"user_agent"`
	ORSAPIKey string        `mapstructure:"ors_api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// Load reads configuration from the given file (optional) with environment
// variable overrides, e.g. MARKETFLOW_DATABASE_URL.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("marketflow")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "marketflow")
	v.SetDefault("app.addr", ":8080")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("escrow.commission_rate", 0.05)
	v.SetDefault("escrow.auto_release_enabled", true)
	v.SetDefault("escrow.auto_release_every", 5*time.Minute)
	v.SetDefault("escrow.hold_hours", 24)
	v.SetDefault("escrow.batch_size", 50)

	v.SetDefault("gateway.base_url", "https://api.razorpay.com/v1")
	v.SetDefault("gateway.currency", "INR")

	v.SetDefault("geo.user_agent", "marketflow/1.0")
	v.SetDefault("geo.timeout", 8*time.Second)
	v.SetDefault("geo.cache_ttl", 24*time.Hour)
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("config: database.url is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: auth.jwt_secret is required")
	}
	if c.Escrow.CommissionRate < 0 || c.Escrow.CommissionRate >= 1 {
		return fmt.Errorf("config: escrow.commission_rate must be in [0,1)")
	}
	if c.Escrow.BatchSize <= 0 {
		return fmt.Errorf("config: escrow.batch_size must be positive")
	}
	return nil
}
