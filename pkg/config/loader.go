// Package config provides configuration loading and validation utilities.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from YAML files and environment variables, applies
// defaults, validates the result, and returns it together with the viper
// instance for callers that need raw access.
func Load() (*Config, *viper.Viper, error) {
	if err := godotenv.Load(".env.local", ".env"); err != nil {
		// missing env files are fine
		_ = err
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	v := viper.New()
	v.SetConfigFile(fmt.Sprintf("./configs/%s.yaml", env))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.AppEnv = env

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return nil, nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "text")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.backups", 5)

	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("mail.backend", "tempmail")
	v.SetDefault("mail.pop3_port", 995)
	v.SetDefault("mail.pop3_use_tls", true)
	v.SetDefault("mail.poll_interval", 2*time.Second)
	v.SetDefault("mail.max_polls", 20)
	v.SetDefault("mail.stale_tolerance", 30*time.Second)

	v.SetDefault("phone.max_usage_count", 3)
	v.SetDefault("phone.poll_interval", 3*time.Second)
	v.SetDefault("phone.max_polls", 20)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout", 30*time.Second)

	v.SetDefault("flow.variant", "password-first")
	v.SetDefault("flow.password_length", 16)

	v.SetDefault("pool.mode", "flat")
	v.SetDefault("pool.max_workers", 3)
	v.SetDefault("pool.instances", 2)
	v.SetDefault("pool.tabs_per_instance", 4)
	v.SetDefault("pool.stagger_delay", 2*time.Second)
}

// DSN returns the PostgreSQL connection string for the account store.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}
