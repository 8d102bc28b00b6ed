package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"card-tracker-go/fmv"
	"card-tracker-go/gateway"
	"card-tracker-go/infrastructure/logger"
	"card-tracker-go/market"
	"card-tracker-go/settings"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env      string         `yaml:"env"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	FMV      FMVConfig      `yaml:"fmv"`
	Settings SettingsConfig `yaml:"settings"`
	Server   ServerConfig   `yaml:"server"`
	Alert    AlertConfig    `yaml:"alert"`
	Log      logger.Config  `yaml:"log"`
}

// GatewayConfig 上游成交接口。UserAgent 必填（上游按 UA 识别调用方）。
type GatewayConfig struct {
	BaseURL       string  `yaml:"baseURL"`
	UserAgent     string  `yaml:"userAgent"`
	DefaultSeason string  `yaml:"defaultSeason"`
	FetchLimit    int     `yaml:"fetchLimit"` // 每次请求的成交条数上限
	TimeoutMs     int     `yaml:"timeoutMs"`
	Rate          float64 `yaml:"rate"` // 每秒请求数
	Burst         int     `yaml:"burst"`
}

type FMVConfig struct {
	Window            int     `yaml:"window"`
	Mode              string  `yaml:"mode"` // forward | backward
	DefaultThreshold  float64 `yaml:"defaultThreshold"`
	DefaultTradeLimit int     `yaml:"defaultTradeLimit"`
	LabelFormat       string  `yaml:"labelFormat"`
	Timezone          string  `yaml:"timezone"`
}

// SettingsConfig 用户设置的存储后端。
type SettingsConfig struct {
	Backend        string               `yaml:"backend"` // memory | file | redis
	Path           string               `yaml:"path"`
	Redis          settings.RedisConfig `yaml:"redis"`
	PollIntervalMs int                  `yaml:"pollIntervalMs"`
	CooldownMs     int                  `yaml:"cooldownMs"`
}

// AlertConfig 上游连续失败告警；WebhookURL 为空时只写日志。
type AlertConfig struct {
	WebhookURL    string `yaml:"webhookURL"`
	ThrottleSec   int    `yaml:"throttleSec"`
	AfterFailures int    `yaml:"afterFailures"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metricsAddr"`
}

// Default 返回填好默认值的配置（UserAgent 除外）。
func Default() AppConfig {
	var cfg AppConfig
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = gateway.DefaultBaseURL
	}
	if cfg.Gateway.DefaultSeason == "" {
		cfg.Gateway.DefaultSeason = market.DefaultSeason
	}
	if cfg.Gateway.FetchLimit == 0 {
		cfg.Gateway.FetchLimit = gateway.DefaultTradeLimit
	}
	if cfg.Gateway.TimeoutMs == 0 {
		cfg.Gateway.TimeoutMs = 10000
	}
	if cfg.Gateway.Rate == 0 {
		cfg.Gateway.Rate = 1.5
	}
	if cfg.Gateway.Burst == 0 {
		cfg.Gateway.Burst = 5
	}
	if cfg.FMV.Window == 0 {
		cfg.FMV.Window = fmv.DefaultWindow
	}
	if cfg.FMV.DefaultThreshold == 0 {
		cfg.FMV.DefaultThreshold = settings.DefaultOutlierThreshold
	}
	if cfg.FMV.DefaultTradeLimit == 0 {
		cfg.FMV.DefaultTradeLimit = settings.DefaultTradeLimit
	}
	if cfg.Settings.Backend == "" {
		cfg.Settings.Backend = settings.BackendMemory
	}
	if cfg.Settings.PollIntervalMs == 0 {
		cfg.Settings.PollIntervalMs = 2000
	}
	if cfg.Settings.CooldownMs == 0 {
		cfg.Settings.CooldownMs = 500
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":9100"
	}
	if cfg.Alert.ThrottleSec == 0 {
		cfg.Alert.ThrottleSec = 600
	}
	if cfg.Alert.AfterFailures == 0 {
		cfg.Alert.AfterFailures = 3
	}
	if cfg.Log.Level == "" {
		cfg.Log = logger.DefaultConfig()
	}
}

// Load reads YAML config from path, fills defaults and validates.
func Load(path string) (AppConfig, error) {
	cfg, err := read(path)
	if err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func read(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides deployment fields from env vars if present.
// 同目录下的 .env（若存在）先被加载。
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	_ = godotenv.Load()

	cfg, err := read(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("CARDFMV_USER_AGENT"); v != "" {
		cfg.Gateway.UserAgent = v
	}
	if v := os.Getenv("CARDFMV_BASE_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("CARDFMV_SETTINGS_PATH"); v != "" {
		cfg.Settings.Path = v
	}
	if v := os.Getenv("CARDFMV_REDIS_ADDR"); v != "" {
		cfg.Settings.Redis.Addr = v
	}
	if v := os.Getenv("CARDFMV_REDIS_PASSWORD"); v != "" {
		cfg.Settings.Redis.Password = v
	}
	if v := os.Getenv("CARDFMV_ALERT_WEBHOOK"); v != "" {
		cfg.Alert.WebhookURL = v
	}
	if v := os.Getenv("CARDFMV_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return cfg, ErrInvalid("CARDFMV_REDIS_DB must be an integer")
		}
		cfg.Settings.Redis.DB = db
	}
	return cfg, Validate(cfg)
}
