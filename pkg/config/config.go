package config

import "time"

// Config holds runtime configuration for the registration engine.
type Config struct {
	AppEnv string `mapstructure:"-"`

	Logger   LoggerConfig   `mapstructure:"logger"`
	Sentry   SentryConfig   `mapstructure:"sentry"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`

	Mail     MailConfig     `mapstructure:"mail"`
	Phone    PhoneConfig    `mapstructure:"phone"`
	Cards    CardsConfig    `mapstructure:"cards"`
	Domains  DomainsConfig  `mapstructure:"domains"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Flow     FlowConfig     `mapstructure:"flow"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type LoggerConfig struct {
	Level    string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format   string `mapstructure:"format" validate:"oneof=text json"`
	File     string `mapstructure:"file"`
	MaxSize  int    `mapstructure:"max_size"`
	MaxAge   int    `mapstructure:"max_age"`
	Backups  int    `mapstructure:"backups"`
	Compress bool   `mapstructure:"compress"`
}

type SentryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type RedisConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	PoolTimeout     time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// MailConfig selects and parameterizes the inbox backend used to pull signup
// verification codes.
type MailConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=pop3 tempmail"`

	POP3Host     string `mapstructure:"pop3_host"`
	POP3Port     int    `mapstructure:"pop3_port"`
	POP3User     string `mapstructure:"pop3_user"`
	POP3Password string `mapstructure:"pop3_password"`
	POP3UseTLS   bool   `mapstructure:"pop3_use_tls"`

	TempMailBase string `mapstructure:"tempmail_base"`
	TempMailKey  string `mapstructure:"tempmail_key"`

	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MaxPolls       int           `mapstructure:"max_polls"`
	StaleTolerance time.Duration `mapstructure:"stale_tolerance"`
}

// PhoneConfig parameterizes the SMS verification provider. ProjectID scopes
// the reusable-number cache: switching projects invalidates cached numbers.
type PhoneConfig struct {
	APIBase       string        `mapstructure:"api_base"`
	APIKey        string        `mapstructure:"api_key"`
	ProjectID     string        `mapstructure:"project_id"`
	Country       string        `mapstructure:"country"`
	MaxUsageCount int           `mapstructure:"max_usage_count" validate:"min=1"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	MaxPolls      int           `mapstructure:"max_polls"`
}

type CardsConfig struct {
	File string `mapstructure:"file"`
}

type DomainsConfig struct {
	File string   `mapstructure:"file"`
	Pool []string `mapstructure:"pool"`
}

type BrowserConfig struct {
	ExecPath   string        `mapstructure:"exec_path"`
	Headless   bool          `mapstructure:"headless"`
	UserAgent  string        `mapstructure:"user_agent"`
	NavTimeout time.Duration `mapstructure:"nav_timeout"`
}

// FlowConfig selects the flow variant and per-step skip flags.
type FlowConfig struct {
	StartURL       string `mapstructure:"start_url" validate:"required,url"`
	Variant        string `mapstructure:"variant" validate:"oneof=password-first code-first"`
	SkipPhone      bool   `mapstructure:"skip_phone"`
	SkipProTrial   bool   `mapstructure:"skip_pro_trial"`
	SkipCardBind   bool   `mapstructure:"skip_card_bind"`
	PasswordLength int    `mapstructure:"password_length"`
}

// PoolConfig bounds worker concurrency in both scheduling modes.
type PoolConfig struct {
	Mode            string        `mapstructure:"mode" validate:"oneof=flat hierarchical"`
	MaxWorkers      int           `mapstructure:"max_workers" validate:"min=1"`
	Instances       int           `mapstructure:"instances" validate:"min=1"`
	TabsPerInstance int           `mapstructure:"tabs_per_instance" validate:"min=1"`
	StaggerDelay    time.Duration `mapstructure:"stagger_delay"`
}

type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	ChatID  int64  `mapstructure:"chat_id"`
}
