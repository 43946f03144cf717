package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"taskpulse/pkg/config"
)

type SchedulerConfig struct {
	Interval    string `yaml:"interval"`
	Window      string `yaml:"window"`
	DefaultTime string `yaml:"default_time"` // 只有日期的截止时间补齐到该时刻
	Timezone    string `yaml:"timezone"`
	MaxInFlight int    `yaml:"max_in_flight"`
	PurgeEvery  int    `yaml:"purge_every"`
}

// Location resolves Timezone, defaulting to the process local zone.
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" || s.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler.timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

type LedgerConfig struct {
	Backend   string `yaml:"backend"` // redis / memory
	Retention string `yaml:"retention"`
}

type CalendarConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
	CalendarID   string `yaml:"calendar_id"`
	Timeout      string `yaml:"timeout"`
	MaxRetries   int    `yaml:"max_retries"`
}

type OutboxConfig struct {
	Interval   string `yaml:"interval"`
	BatchSize  int    `yaml:"batch_size"`
	MaxRetries int    `yaml:"max_retries"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	DB        config.DBConfig       `yaml:"db"`
	Redis     config.RedisConfig    `yaml:"redis"`
	MQ        config.MQConfig       `yaml:"mq"`
	JWT       config.JWTConfig      `yaml:"jwt"`
	Server    config.ServerConfig   `yaml:"server"`
	Telegram  config.TelegramConfig `yaml:"telegram"`
	Otel      config.OtelConfig     `yaml:"otel"`
	Scheduler SchedulerConfig       `yaml:"scheduler"`
	Ledger    LedgerConfig          `yaml:"ledger"`
	Calendar  CalendarConfig        `yaml:"calendar"`
	Outbox    OutboxConfig          `yaml:"outbox"`
	Log       LogConfig             `yaml:"log"`
}

// Load reads the config centre using CONFIG_ENV and CONFIG_DIR.
func Load() (*Config, error) {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")
	return LoadFrom(env, configDir)
}

func LoadFrom(env, configDir string) (*Config, error) {
	cfgMap, err := config.LoadConfig(env, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 转换为 Config 结构
	var cfg Config
	cfgData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := yaml.Unmarshal(cfgData, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideTelegramFromEnv(&cfg.Telegram)
	config.OverrideOtelFromEnv(&cfg.Otel)
	overrideCalendarFromEnv(&cfg.Calendar)

	cfg.applyDefaults()
	return &cfg, nil
}

func overrideCalendarFromEnv(cfg *CalendarConfig) {
	if id := os.Getenv("GOOGLE_CLIENT_ID"); id != "" {
		cfg.ClientID = id
	}
	if secret := os.Getenv("GOOGLE_CLIENT_SECRET"); secret != "" {
		cfg.ClientSecret = secret
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Scheduler.DefaultTime == "" {
		c.Scheduler.DefaultTime = "09:00"
	}
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = "redis"
	}
	if c.Calendar.CalendarID == "" {
		c.Calendar.CalendarID = "primary"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
