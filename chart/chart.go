// Package chart builds the payload handed to the browser chart layer.
package chart

import (
	"time"

	"card-tracker-go/market"
)

// DefaultLabelFormat 横轴日期格式
const DefaultLabelFormat = "2006-01-02"

// Point 参考线端点
type Point struct {
	X string  `json:"x"`
	Y float64 `json:"y"`
}

// Chart 是交给前端的完整数据：Labels / Prices / FMV 下标对齐，按时间正序。
type Chart struct {
	Card        market.CardRef `json:"card"`
	Labels      []string       `json:"labels"`
	Prices      []float64      `json:"prices"`
	FMV         []float64      `json:"fmv"`
	Reference   [2]Point       `json:"reference"`
	FairValue   float64        `json:"fairValue"`
	Window      int            `json:"window"`
	Threshold   float64        `json:"threshold"`
	Mode        string         `json:"mode"`
	TradeCount  int            `json:"tradeCount"`
	GeneratedAt time.Time      `json:"generatedAt"`
	RunID       string         `json:"runId,omitempty"`
}

// Options 元数据与展示参数
type Options struct {
	LabelFormat string
	Location    *time.Location
	Window      int
	Threshold   float64
	Mode        string
	RunID       string
	Now         time.Time
}

// Build 把新→旧的成交与同序的滚动 FMV 反转为时间正序，
// 并用单值 FMV 生成跨越首尾标签的水平参考线。
func Build(card market.CardRef, series market.Series, rolling []float64, fairValue float64, opts Options) Chart {
	format := opts.LabelFormat
	if format == "" {
		format = DefaultLabelFormat
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	n := len(series)
	c := Chart{
		Card:        card,
		Labels:      make([]string, n),
		Prices:      make([]float64, n),
		FMV:         make([]float64, n),
		FairValue:   fairValue,
		Window:      opts.Window,
		Threshold:   opts.Threshold,
		Mode:        opts.Mode,
		TradeCount:  n,
		GeneratedAt: now,
		RunID:       opts.RunID,
	}
	for i, t := range series {
		j := n - 1 - i
		c.Labels[j] = t.Ts.In(loc).Format(format)
		c.Prices[j] = t.Price
		if i < len(rolling) {
			c.FMV[j] = rolling[i]
		}
	}
	if n > 0 {
		c.Reference = [2]Point{
			{X: c.Labels[0], Y: fairValue},
			{X: c.Labels[n-1], Y: fairValue},
		}
	}
	return c
}
