package config

import (
	"fmt"
	"net/url"
	"time"

	"card-tracker-go/fmv"
	"card-tracker-go/market"
	"card-tracker-go/settings"
)

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return ErrInvalid("env is required")
	}
	if cfg.Gateway.BaseURL == "" {
		return ErrInvalid("gateway.baseURL is required")
	}
	if cfg.Gateway.UserAgent == "" {
		return ErrInvalid("gateway.userAgent is required (or CARDFMV_USER_AGENT)")
	}
	if err := (market.CardRef{ID: "1", Season: cfg.Gateway.DefaultSeason}).Validate(); err != nil {
		return ErrInvalid(fmt.Sprintf("gateway.defaultSeason %q must be numeric", cfg.Gateway.DefaultSeason))
	}
	if cfg.Gateway.FetchLimit <= 0 {
		return ErrInvalid("gateway.fetchLimit must be > 0")
	}
	if cfg.Gateway.TimeoutMs < 0 {
		return ErrInvalid("gateway.timeoutMs must be >= 0")
	}
	if cfg.Gateway.Rate < 0 || cfg.Gateway.Burst < 0 {
		return ErrInvalid("gateway.rate/burst must be >= 0")
	}

	mode, err := fmv.ParseMode(cfg.FMV.Mode)
	if err != nil {
		return ErrInvalid(fmt.Sprintf("fmv.mode: %v", err))
	}
	if err := (fmv.Config{Window: cfg.FMV.Window, Threshold: cfg.FMV.DefaultThreshold, Mode: mode}).Validate(); err != nil {
		return ErrInvalid(fmt.Sprintf("fmv: %v", err))
	}
	if err := cfg.DefaultSettings().Validate(); err != nil {
		return ErrInvalid(fmt.Sprintf("fmv defaults: %v", err))
	}
	if cfg.FMV.Timezone != "" {
		if _, err := time.LoadLocation(cfg.FMV.Timezone); err != nil {
			return ErrInvalid(fmt.Sprintf("fmv.timezone: %v", err))
		}
	}

	switch cfg.Settings.Backend {
	case settings.BackendMemory:
	case settings.BackendFile:
		if cfg.Settings.Path == "" {
			return ErrInvalid("settings.path is required for file backend")
		}
	case settings.BackendRedis:
		if cfg.Settings.Redis.Addr == "" {
			return ErrInvalid("settings.redis.addr is required for redis backend")
		}
	default:
		return ErrInvalid(fmt.Sprintf("settings.backend %q: %v", cfg.Settings.Backend, settings.ErrUnknownBackend))
	}
	if cfg.Settings.PollIntervalMs < 0 || cfg.Settings.CooldownMs < 0 {
		return ErrInvalid("settings.pollIntervalMs/cooldownMs must be >= 0")
	}

	if cfg.Alert.ThrottleSec < 0 || cfg.Alert.AfterFailures < 0 {
		return ErrInvalid("alert.throttleSec/afterFailures must be >= 0")
	}
	if cfg.Alert.WebhookURL != "" {
		if u, err := url.Parse(cfg.Alert.WebhookURL); err != nil || u.Scheme == "" || u.Host == "" {
			return ErrInvalid("alert.webhookURL must be an absolute URL")
		}
	}

	if cfg.Server.Addr == "" {
		return ErrInvalid("server.addr is required")
	}
	return nil
}

// DefaultSettings 配置中的设置默认值
func (cfg AppConfig) DefaultSettings() settings.Settings {
	return settings.Settings{
		TradeLimit:       cfg.FMV.DefaultTradeLimit,
		OutlierThreshold: cfg.FMV.DefaultThreshold,
	}
}

// EstimatorMode 解析后的窗口方向；Validate 通过后不会出错。
func (cfg AppConfig) EstimatorMode() fmv.Mode {
	mode, _ := fmv.ParseMode(cfg.FMV.Mode)
	return mode
}

// Location 图表标签时区，默认 UTC。
func (cfg AppConfig) Location() *time.Location {
	if cfg.FMV.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(cfg.FMV.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Timeout 上游请求超时
func (cfg AppConfig) Timeout() time.Duration {
	return time.Duration(cfg.Gateway.TimeoutMs) * time.Millisecond
}
