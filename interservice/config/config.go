// Package config loads the library's settings from a file and environment
// variables, with defaults matching the component defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration surface.
type Config struct {
	Service ServiceConfig `mapstructure:"service"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Breaker BreakerConfig `mapstructure:"breaker"`
	Token   TokenConfig   `mapstructure:"token"`
	Client  ClientConfig  `mapstructure:"client"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServiceConfig identifies this process and its directory.
type ServiceConfig struct {
	Name         string `mapstructure:"name"`
	DirectoryURL string `mapstructure:"directory_url"`
}

// RetryConfig configures the retry executor.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Strategy    string        `mapstructure:"strategy"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      bool          `mapstructure:"jitter"`
}

// BreakerConfig configures the per-dependency circuit breakers.
type BreakerConfig struct {
	FailureThreshold         int           `mapstructure:"failure_threshold"`
	SuccessThreshold         int           `mapstructure:"success_threshold"`
	Timeout                  time.Duration `mapstructure:"timeout"`
	VolumeThreshold          int           `mapstructure:"volume_threshold"`
	ErrorThresholdPercentage float64       `mapstructure:"error_threshold_percentage"`
	RollingWindow            time.Duration `mapstructure:"rolling_window"`
}

// TokenConfig configures service token issuance.
type TokenConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Secret  string        `mapstructure:"secret"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// ClientConfig configures the inter-service client.
type ClientConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRedirects int           `mapstructure:"max_redirects"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
}

// envPrefix namespaces the environment variables, e.g.
// INTERSERVICE_RETRY_MAX_ATTEMPTS.
const envPrefix = "INTERSERVICE"

// Load reads configuration from configPath (optional) and the environment.
// A missing config file is not an error; defaults and environment variables
// apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("interservice")
	}

	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "")
	v.SetDefault("service.directory_url", "")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.strategy", "exponential")
	v.SetDefault("retry.base_delay", 100*time.Millisecond)
	v.SetDefault("retry.max_delay", 10*time.Second)
	v.SetDefault("retry.jitter", false)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.success_threshold", 2)
	v.SetDefault("breaker.timeout", 30*time.Second)
	v.SetDefault("breaker.volume_threshold", 10)
	v.SetDefault("breaker.error_threshold_percentage", 50.0)
	v.SetDefault("breaker.rolling_window", 60*time.Second)

	v.SetDefault("token.enabled", false)
	v.SetDefault("token.secret", "")
	v.SetDefault("token.ttl", time.Minute)

	v.SetDefault("client.timeout", 10*time.Second)
	v.SetDefault("client.max_redirects", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.environment", "production")
}
