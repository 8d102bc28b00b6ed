// Package settings 保存用户可调的两个参数：展示成交数与离群阈值。
package settings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// 持久化键名
const (
	KeyTradeLimit       = "tradeLimit"
	KeyOutlierThreshold = "outlierThreshold"
)

const (
	DefaultTradeLimit       = 1000
	DefaultOutlierThreshold = 2.0
)

var (
	ErrInvalidTradeLimit = errors.New("invalid input: please enter a positive number")
	ErrInvalidThreshold  = errors.New("invalid input: please enter a non-negative number")
)

// Settings 用户设置
type Settings struct {
	TradeLimit       int     `json:"tradeLimit" yaml:"tradeLimit"`
	OutlierThreshold float64 `json:"outlierThreshold" yaml:"outlierThreshold"`
}

// Defaults 返回默认设置
func Defaults() Settings {
	return Settings{
		TradeLimit:       DefaultTradeLimit,
		OutlierThreshold: DefaultOutlierThreshold,
	}
}

// Validate 检查设置是否可直接用于计算
func (s Settings) Validate() error {
	if s.TradeLimit <= 0 {
		return fmt.Errorf("%w: tradeLimit=%d", ErrInvalidTradeLimit, s.TradeLimit)
	}
	if !validThreshold(s.OutlierThreshold) {
		return fmt.Errorf("%w: outlierThreshold=%v", ErrInvalidThreshold, s.OutlierThreshold)
	}
	return nil
}

// Store 是设置持久化端口（按键读写字符串）。
type Store interface {
	// Get 返回值与是否存在；键不存在不是错误。
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// BatchStore 可一次写入多个键的存储，Save 优先使用。
type BatchStore interface {
	SetMany(ctx context.Context, vals map[string]string) error
}

// Load 从 store 读取设置。键缺失或无法解析时静默使用 defaults 中对应字段；
// 只有 store 自身出错才返回错误。
func Load(ctx context.Context, store Store, defaults Settings) (Settings, error) {
	out := defaults
	raw, ok, err := store.Get(ctx, KeyTradeLimit)
	if err != nil {
		return defaults, fmt.Errorf("load %s: %w", KeyTradeLimit, err)
	}
	if ok {
		out.TradeLimit = ParseTradeLimitOr(raw, defaults.TradeLimit)
	}
	raw, ok, err = store.Get(ctx, KeyOutlierThreshold)
	if err != nil {
		return defaults, fmt.Errorf("load %s: %w", KeyOutlierThreshold, err)
	}
	if ok {
		out.OutlierThreshold = ParseThresholdOr(raw, defaults.OutlierThreshold)
	}
	return out, nil
}

// Save 写入两个键；store 支持批量写入时一次写完。
func Save(ctx context.Context, store Store, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	limit := strconv.Itoa(s.TradeLimit)
	threshold := strconv.FormatFloat(s.OutlierThreshold, 'f', -1, 64)

	if bs, ok := store.(BatchStore); ok {
		if err := bs.SetMany(ctx, map[string]string{
			KeyTradeLimit:       limit,
			KeyOutlierThreshold: threshold,
		}); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
		return nil
	}
	if err := store.Set(ctx, KeyTradeLimit, limit); err != nil {
		return fmt.Errorf("save %s: %w", KeyTradeLimit, err)
	}
	if err := store.Set(ctx, KeyOutlierThreshold, threshold); err != nil {
		return fmt.Errorf("save %s: %w", KeyOutlierThreshold, err)
	}
	return nil
}

// ParseTradeLimit 严格解析（提示框路径），非正整数返回 ErrInvalidTradeLimit。
func ParseTradeLimit(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0, ErrInvalidTradeLimit
	}
	return n, nil
}

// ParseThreshold 严格解析，负数或非有限值返回 ErrInvalidThreshold。
func ParseThreshold(raw string) (float64, error) {
	k, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || !validThreshold(k) {
		return 0, ErrInvalidThreshold
	}
	return k, nil
}

// ParseTradeLimitOr 宽松解析（输入框路径），失败时返回 fallback。
func ParseTradeLimitOr(raw string, fallback int) int {
	n, err := ParseTradeLimit(raw)
	if err != nil {
		return fallback
	}
	return n
}

// ParseThresholdOr 宽松解析，失败时返回 fallback。0 是合法阈值。
func ParseThresholdOr(raw string, fallback float64) float64 {
	k, err := ParseThreshold(raw)
	if err != nil {
		return fallback
	}
	return k
}

func validThreshold(k float64) bool {
	return k >= 0 && !math.IsInf(k, 0) && !math.IsNaN(k)
}
