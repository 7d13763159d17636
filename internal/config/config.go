package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Discord  DiscordConfig  `mapstructure:"discord"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Tiers    []TierConfig   `mapstructure:"tiers"`
}

// ServerConfig defines listener addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// DiscordConfig defines the gateway connection settings
type DiscordConfig struct {
	Token         string `mapstructure:"token"`
	StreamingRole string `mapstructure:"streaming_role"` // badge role granted while screen sharing, optional
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "bolt" or "redis"
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TrackingConfig defines session accounting settings. The defaults are the
// design constants; deployments normally leave them alone.
type TrackingConfig struct {
	DailyCap     string `mapstructure:"daily_cap"`
	GraceWindow  string `mapstructure:"grace_window"`
	SyncInterval string `mapstructure:"sync_interval"`
}

// TierConfig maps a leaderboard rank threshold to a role. A member's tier is
// the first entry whose max_rank covers their rank; max_rank 0 is the
// catch-all sentinel for everyone below the listed thresholds.
type TierConfig struct {
	MaxRank int    `mapstructure:"max_rank"`
	Role    string `mapstructure:"role"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("VOICEBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.metrics_port", 9090)

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/voiceboard/voiceboard.bolt")
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Tracking defaults (design constants)
	v.SetDefault("tracking.daily_cap", "3h")
	v.SetDefault("tracking.grace_window", "30s")
	v.SetDefault("tracking.sync_interval", "5m")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Storage.Type {
	case "bolt", "redis":
	default:
		return fmt.Errorf("invalid storage type: %s (must be 'bolt' or 'redis')", cfg.Storage.Type)
	}
	if cfg.Storage.Type == "bolt" && cfg.Storage.Path == "" {
		return fmt.Errorf("storage path is required for bolt storage")
	}

	// Tier thresholds must be ascending with at most one trailing sentinel.
	lastMax := 0
	for i, tier := range cfg.Tiers {
		if tier.MaxRank == 0 {
			if i != len(cfg.Tiers)-1 {
				return fmt.Errorf("tier %d: sentinel (max_rank 0) must be the last entry", i)
			}
			continue
		}
		if tier.MaxRank < 0 {
			return fmt.Errorf("tier %d: max_rank must not be negative", i)
		}
		if tier.MaxRank <= lastMax {
			return fmt.Errorf("tier %d: max_rank %d is not ascending", i, tier.MaxRank)
		}
		if tier.Role == "" {
			return fmt.Errorf("tier %d: role is required", i)
		}
		lastMax = tier.MaxRank
	}

	return nil
}
