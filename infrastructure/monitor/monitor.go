package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 流水线运行结果标签
const (
	ResultOK         = "ok"
	ResultError      = "error"
	ResultSuperseded = "superseded"
)

// Monitor Prometheus监控指标收集器
type Monitor struct {
	registry *prometheus.Registry

	// 上游请求指标
	fetchRequests prometheus.Counter
	fetchErrors   *prometheus.CounterVec
	fetchLatency  prometheus.Histogram

	// 数据指标
	tradesFetched  prometheus.Gauge
	giftsDropped   prometheus.Counter
	malformedTotal prometheus.Counter

	// 计算指标
	pipelineRuns *prometheus.CounterVec
	fairValue    prometheus.Gauge
	rollingLast  prometheus.Gauge

	// 交互指标
	settingsChanges *prometheus.CounterVec
	wsClients       prometheus.Gauge
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "cardfmv",
		Subsystem: "tracker",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help}
	}

	return &Monitor{
		registry: reg,

		fetchRequests: factory.NewCounter(prometheus.CounterOpts(opts("fetch_requests_total", "上游成交请求总数"))),
		fetchErrors: factory.NewCounterVec(
			prometheus.CounterOpts(opts("fetch_errors_total", "上游成交请求失败总数")),
			[]string{"reason"},
		),
		fetchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "fetch_latency_seconds",
			Help:      "上游请求延迟（秒）",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		tradesFetched:  factory.NewGauge(prometheus.GaugeOpts(opts("trades_fetched", "最近一次拉取的有价成交数"))),
		giftsDropped:   factory.NewCounter(prometheus.CounterOpts(opts("gift_trades_dropped_total", "被丢弃的赠送记录数"))),
		malformedTotal: factory.NewCounter(prometheus.CounterOpts(opts("malformed_trades_dropped_total", "格式错误被丢弃的记录数"))),

		pipelineRuns: factory.NewCounterVec(
			prometheus.CounterOpts(opts("pipeline_runs_total", "重算流水线运行次数")),
			[]string{"result"},
		),
		fairValue:   factory.NewGauge(prometheus.GaugeOpts(opts("fair_value", "最近一次单值FMV"))),
		rollingLast: factory.NewGauge(prometheus.GaugeOpts(opts("rolling_fmv_latest", "最新成交对应的滚动FMV"))),

		settingsChanges: factory.NewCounterVec(
			prometheus.CounterOpts(opts("settings_changes_total", "设置变更次数")),
			[]string{"source"},
		),
		wsClients: factory.NewGauge(prometheus.GaugeOpts(opts("ws_clients", "当前WebSocket连接数"))),
	}
}

// RecordFetch 记录一次成功拉取
func (m *Monitor) RecordFetch(seconds float64, trades, gifts, malformed int) {
	m.fetchRequests.Inc()
	m.fetchLatency.Observe(seconds)
	m.tradesFetched.Set(float64(trades))
	m.giftsDropped.Add(float64(gifts))
	m.malformedTotal.Add(float64(malformed))
}

// RecordFetchError 记录一次失败拉取
func (m *Monitor) RecordFetchError(reason string, seconds float64) {
	m.fetchRequests.Inc()
	m.fetchLatency.Observe(seconds)
	m.fetchErrors.WithLabelValues(reason).Inc()
}

// RecordPipelineRun 记录流水线结果
func (m *Monitor) RecordPipelineRun(result string) {
	m.pipelineRuns.WithLabelValues(result).Inc()
}

// UpdateFairValue 更新单值与最新滚动 FMV
func (m *Monitor) UpdateFairValue(fairValue, rollingLatest float64) {
	m.fairValue.Set(fairValue)
	m.rollingLast.Set(rollingLatest)
}

// RecordSettingsChange 记录设置变更来源（api/file/poll/cli）
func (m *Monitor) RecordSettingsChange(source string) {
	m.settingsChanges.WithLabelValues(source).Inc()
}

// SetWSClients 更新 WebSocket 连接数
func (m *Monitor) SetWSClients(n int) {
	m.wsClients.Set(float64(n))
}

// Handler 返回 /metrics 处理器
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回底层注册表
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
