package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Bot        BotConfig        `mapstructure:"bot"`
	Bothub     BothubConfig     `mapstructure:"bothub"`
	Database   DatabaseConfig   `mapstructure:"database"`
	State      StateConfig      `mapstructure:"state"`
	Workers    WorkersConfig    `mapstructure:"workers"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

type BotConfig struct {
	Token         string `mapstructure:"token"`
	UpdateTimeout int    `mapstructure:"update_timeout"`
}

type BothubConfig struct {
	APIURL        string        `mapstructure:"api_url"`
	WebURL        string        `mapstructure:"web_url"`
	SecretKey     string        `mapstructure:"secret_key"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
	SendTimeout   time.Duration `mapstructure:"send_timeout"`
	RetryCount    int           `mapstructure:"retry_count"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type StateConfig struct {
	Type   string       `mapstructure:"type"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Memory MemoryConfig `mapstructure:"memory"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MemoryConfig struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

type WorkersConfig struct {
	Count           int           `mapstructure:"count"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ErrorBackoff    time.Duration `mapstructure:"error_backoff"`
	BatchSize       int           `mapstructure:"batch_size"`
	StuckTimeout    time.Duration `mapstructure:"stuck_timeout"`
	ReclaimInterval time.Duration `mapstructure:"reclaim_interval"`
	Retention       time.Duration `mapstructure:"retention"`
}

type WebhookConfig struct {
	Port int `mapstructure:"port"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
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
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
	Directory       string   `mapstructure:"directory"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	viper.BindEnv("bot.token", "BOT_TOKEN")
	viper.BindEnv("bothub.api_url", "BOTHUB_API_URL")
	viper.BindEnv("bothub.web_url", "BOTHUB_WEB_URL")
	viper.BindEnv("bothub.secret_key", "BOTHUB_SECRET_KEY")
	viper.BindEnv("bothub.webhook_secret", "BOTHUB_WEBHOOK_SECRET_KEY")
	viper.BindEnv("database.path", "DATABASE_PATH")
	viper.BindEnv("state.redis.addr", "REDIS_ADDR")
	viper.BindEnv("state.redis.password", "REDIS_PASSWORD")
	viper.BindEnv("state.redis.db", "REDIS_DB")
	viper.BindEnv("workers.count", "WORKER_COUNT")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Bot.UpdateTimeout == 0 {
		cfg.Bot.UpdateTimeout = 60
	}
	if cfg.Bothub.WebURL == "" {
		cfg.Bothub.WebURL = "https://bothub.chat"
	}
	if cfg.Bothub.Timeout == 0 {
		cfg.Bothub.Timeout = 30 * time.Second
	}
	if cfg.Bothub.SendTimeout == 0 {
		cfg.Bothub.SendTimeout = 60 * time.Second
	}
	if cfg.Bothub.RetryCount == 0 {
		cfg.Bothub.RetryCount = 3
	}
	if cfg.Bothub.RetryDelay == 0 {
		cfg.Bothub.RetryDelay = 2 * time.Second
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/bot.db"
	}
	if cfg.State.Type == "" {
		cfg.State.Type = "memory"
	}
	if cfg.State.Memory.DefaultExpiration == 0 {
		cfg.State.Memory.DefaultExpiration = time.Hour
	}
	if cfg.State.Memory.CleanupInterval == 0 {
		cfg.State.Memory.CleanupInterval = 10 * time.Minute
	}
	if cfg.Workers.Count == 0 {
		cfg.Workers.Count = 3
	}
	if cfg.Workers.PollInterval == 0 {
		cfg.Workers.PollInterval = time.Second
	}
	if cfg.Workers.ErrorBackoff == 0 {
		cfg.Workers.ErrorBackoff = 5 * time.Second
	}
	if cfg.Workers.BatchSize == 0 {
		cfg.Workers.BatchSize = 5
	}
	if cfg.Workers.StuckTimeout == 0 {
		cfg.Workers.StuckTimeout = 30 * time.Minute
	}
	if cfg.Workers.ReclaimInterval == 0 {
		cfg.Workers.ReclaimInterval = 5 * time.Minute
	}
	if cfg.Workers.Retention == 0 {
		cfg.Workers.Retention = 30 * 24 * time.Hour
	}
	if cfg.Webhook.Port == 0 {
		cfg.Webhook.Port = 8088
	}
	if cfg.I18n.DefaultLanguage == "" {
		cfg.I18n.DefaultLanguage = "ru"
	}
	if len(cfg.I18n.Languages) == 0 {
		cfg.I18n.Languages = []string{"ru", "en"}
	}
	if cfg.I18n.Directory == "" {
		cfg.I18n.Directory = "configs/i18n"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Bot.Token == "" {
		return fmt.Errorf("bot token is required")
	}
	if cfg.Bothub.APIURL == "" {
		return fmt.Errorf("bothub api url is required")
	}
	if cfg.Bothub.SecretKey == "" {
		return fmt.Errorf("bothub secret key is required")
	}
	return nil
}
