// Package fmv 计算成交序列的公允市场价（Fair Market Value）。
package fmv

import (
	"errors"
	"fmt"
	"math"
)

// DefaultWindow 是滚动窗口与单值尾部切片的成交笔数。
const DefaultWindow = 15

// DefaultThreshold 是离群过滤的标准差倍数。
const DefaultThreshold = 2.0

// Mode 决定滚动窗口相对当前下标的方向。
type Mode int

const (
	// ModeForward 窗口为 [i, min(n-1, i+w-1)]。
	// 对上游返回的新→旧序列而言，覆盖当前成交及其之前的 w-1 笔成交。
	ModeForward Mode = iota
	// ModeBackward 窗口为 [max(0, i-w+1), i]。
	ModeBackward
)

// String 返回模式名称
func (m Mode) String() string {
	switch m {
	case ModeForward:
		return "forward"
	case ModeBackward:
		return "backward"
	default:
		return "unknown"
	}
}

// ParseMode parses "forward" / "backward"; empty selects ModeForward.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "forward":
		return ModeForward, nil
	case "backward":
		return ModeBackward, nil
	default:
		return 0, fmt.Errorf("unknown fmv mode %q", s)
	}
}

// Config 估算器参数
type Config struct {
	Window    int     // 窗口大小
	Threshold float64 // 离群阈值 k，|p-μ| <= k·σ 的价格被保留
	Mode      Mode    // 滚动窗口方向
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Window:    DefaultWindow,
		Threshold: DefaultThreshold,
		Mode:      ModeForward,
	}
}

// Validate 检查参数合法性
func (c Config) Validate() error {
	if c.Window < 1 {
		return fmt.Errorf("fmv window must be >= 1, got %d", c.Window)
	}
	if math.IsNaN(c.Threshold) || math.IsInf(c.Threshold, 0) {
		return errors.New("fmv threshold must be finite")
	}
	if c.Threshold < 0 {
		return fmt.Errorf("fmv threshold must be >= 0, got %f", c.Threshold)
	}
	if c.Mode != ModeForward && c.Mode != ModeBackward {
		return fmt.Errorf("fmv mode %d is not supported", c.Mode)
	}
	return nil
}

// Estimator 无状态，可并发使用。
type Estimator struct {
	cfg Config
}

// New 创建估算器；参数非法时返回错误。
func New(cfg Config) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{cfg: cfg}, nil
}

// Config 返回估算器参数
func (e *Estimator) Config() Config {
	return e.cfg
}

// Rolling 对每个下标计算窗口内去离群后的均值。
// 输出长度与输入一致且下标对齐；空输入返回空切片。
func (e *Estimator) Rolling(prices []float64) []float64 {
	n := len(prices)
	out := make([]float64, n)
	w := e.cfg.Window
	for i := 0; i < n; i++ {
		var lo, hi int
		switch e.cfg.Mode {
		case ModeBackward:
			lo, hi = max(0, i-w+1), i+1
		default:
			lo, hi = i, min(n, i+w)
		}
		out[i] = trimmedMean(prices[lo:hi], e.cfg.Threshold)
	}
	return out
}

// Value 对输入末尾 w 个价格做一次同样的计算，用于水平参考线。
// 空输入返回 0。
func (e *Estimator) Value(prices []float64) float64 {
	if len(prices) == 0 {
		return 0
	}
	start := max(0, len(prices)-e.cfg.Window)
	return trimmedMean(prices[start:], e.cfg.Threshold)
}

// trimmedMean 计算 μ、总体标准差 σ，保留 |p-μ| <= k·σ 的价格并取均值；
// 若全部被过滤则回退到 μ。调用方保证 window 非空。
func trimmedMean(window []float64, k float64) float64 {
	v, _ := filterWindow(window, k)
	return v
}

// filterWindow 返回截尾均值及保留的价格数；kept 为 0 时值为 μ。
func filterWindow(window []float64, k float64) (float64, int) {
	mean, sd := meanStdDev(window)
	limit := k * sd
	var sum float64
	var kept int
	for _, p := range window {
		if math.Abs(p-mean) <= limit {
			sum += p
			kept++
		}
	}
	if kept == 0 {
		return mean, 0
	}
	return sum / float64(kept), kept
}

func meanStdDev(vals []float64) (float64, float64) {
	mean := 0.0
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	var varSum float64
	for _, v := range vals {
		d := v - mean
		varSum += d * d
	}
	return mean, math.Sqrt(varSum / float64(len(vals)))
}
