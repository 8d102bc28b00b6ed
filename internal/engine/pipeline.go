package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"card-tracker-go/chart"
	"card-tracker-go/fmv"
	"card-tracker-go/gateway"
	"card-tracker-go/infrastructure/alert"
	"card-tracker-go/infrastructure/logger"
	"card-tracker-go/infrastructure/monitor"
	"card-tracker-go/market"
	"card-tracker-go/settings"
)

// ErrNoCard 尚未选择卡片
var ErrNoCard = errors.New("no card selected")

// State 流水线状态
type State int

const (
	// StateIdle 未启动
	StateIdle State = iota
	// StateRunning 运行中，事件会触发重算
	StateRunning
	// StateStopped 已停止
	StateStopped
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Fetcher 拉取卡片成交（新→旧）
type Fetcher interface {
	FetchTrades(ctx context.Context, card market.CardRef) (market.Series, gateway.ParseStats, error)
}

// Renderer 接收重算结果；调用被串行化。
type Renderer interface {
	Render(c chart.Chart)
}

// RendererFunc 函数适配器
type RendererFunc func(chart.Chart)

func (f RendererFunc) Render(c chart.Chart) { f(c) }

// DefaultAlertAfterFailures 连续拉取失败多少次后告警
const DefaultAlertAfterFailures = 3

// Config 流水线配置；阈值来自用户设置，不在此处。
type Config struct {
	Window             int
	Mode               fmv.Mode
	LabelFormat        string
	Location           *time.Location
	AlertAfterFailures int
}

// Components 流水线依赖
type Components struct {
	Fetcher  Fetcher
	Renderer Renderer
	Logger   *logger.Logger
	Monitor  *monitor.Monitor
	Alerts   *alert.Manager // 可选
}

// Statistics 运行统计
type Statistics struct {
	Runs       int64
	Rendered   int64
	Superseded int64
	Errors     int64
	LastRunAt  time.Time
	LastError  string
}

// Pipeline 把"卡片/设置变化"转换为一次 拉取→计算→渲染。
// 新一轮开始时取消仍在进行的拉取；过期结果永不渲染。
type Pipeline struct {
	cfg      Config
	fetcher  Fetcher
	renderer Renderer
	logger   *logger.Logger
	monitor  *monitor.Monitor
	alerts   *alert.Manager

	mu        sync.Mutex
	state     State
	baseCtx   context.Context
	card      market.CardRef
	settings  settings.Settings
	gen       uint64
	cancelRun context.CancelFunc
	stats     Statistics
	failures  int // 连续拉取失败次数

	renderMu sync.Mutex
	wg       sync.WaitGroup
}

// New 创建流水线
func New(cfg Config, initial settings.Settings, components Components) (*Pipeline, error) {
	if components.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if cfg.Window <= 0 {
		cfg.Window = fmv.DefaultWindow
	}
	if cfg.AlertAfterFailures <= 0 {
		cfg.AlertAfterFailures = DefaultAlertAfterFailures
	}
	if err := (fmv.Config{Window: cfg.Window, Threshold: 0, Mode: cfg.Mode}).Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	if components.Renderer == nil {
		components.Renderer = RendererFunc(func(chart.Chart) {})
	}
	if components.Logger == nil {
		components.Logger = logger.NewNop()
	}
	return &Pipeline{
		cfg:      cfg,
		fetcher:  components.Fetcher,
		renderer: components.Renderer,
		logger:   components.Logger,
		monitor:  components.Monitor,
		alerts:   components.Alerts,
		state:    StateIdle,
		settings: initial,
	}, nil
}

// Start 启动流水线；若已选择卡片则立即计算一次。
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateRunning {
		p.mu.Unlock()
		return fmt.Errorf("pipeline already started (state: %s)", p.state)
	}
	p.state = StateRunning
	p.baseCtx = ctx
	hasCard := !p.card.IsZero()
	p.mu.Unlock()

	p.logger.Info("pipeline started",
		zap.Int("window", p.cfg.Window),
		zap.String("mode", p.cfg.Mode.String()))
	if hasCard {
		p.trigger("start")
	}
	return nil
}

// Stop 取消进行中的运行并等待其退出。
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.state == StateStopped {
		p.mu.Unlock()
		return nil
	}
	p.state = StateStopped
	if p.cancelRun != nil {
		p.cancelRun()
		p.cancelRun = nil
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("pipeline stopped")
	return nil
}

// Health 供生命周期管理器检查
func (p *Pipeline) Health() error {
	if s := p.State(); s != StateRunning {
		return fmt.Errorf("pipeline not running (state: %s)", s)
	}
	return nil
}

// Wait 等待所有已触发的运行结束（测试与一次性任务使用）。
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// SetCard 切换跟踪的卡片并触发重算。
func (p *Pipeline) SetCard(card market.CardRef) error {
	if err := card.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.card = card
	p.mu.Unlock()

	p.logger.LogEvent("card_tracked", map[string]interface{}{
		"card":   card.ID,
		"season": card.Season,
	})
	p.trigger("card")
	return nil
}

// UpdateSettings 应用新设置；与当前相同时不触发，返回 false。
func (p *Pipeline) UpdateSettings(s settings.Settings, source string) (bool, error) {
	if err := s.Validate(); err != nil {
		return false, err
	}
	p.mu.Lock()
	if p.settings == s {
		p.mu.Unlock()
		return false, nil
	}
	p.settings = s
	p.mu.Unlock()

	if p.monitor != nil {
		p.monitor.RecordSettingsChange(source)
	}
	p.logger.LogEvent("settings_changed", map[string]interface{}{
		"tradeLimit":       s.TradeLimit,
		"outlierThreshold": s.OutlierThreshold,
		"source":           source,
	})
	p.trigger("settings")
	return true, nil
}

// Refresh 用当前卡片与设置重新拉取。
func (p *Pipeline) Refresh() error {
	p.mu.Lock()
	noCard := p.card.IsZero()
	p.mu.Unlock()
	if noCard {
		return ErrNoCard
	}
	p.trigger("refresh")
	return nil
}

// Card 当前卡片
func (p *Pipeline) Card() market.CardRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.card
}

// Settings 当前设置
func (p *Pipeline) Settings() settings.Settings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings
}

// State 当前状态
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats 返回统计快照
func (p *Pipeline) Stats() Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// trigger 取消上一轮并启动新一轮；未运行时只保存状态。
func (p *Pipeline) trigger(reason string) {
	p.mu.Lock()
	if p.state != StateRunning || p.card.IsZero() {
		p.mu.Unlock()
		return
	}
	if p.cancelRun != nil {
		p.cancelRun()
	}
	p.gen++
	gen := p.gen
	ctx, cancel := context.WithCancel(p.baseCtx)
	p.cancelRun = cancel
	card, s := p.card, p.settings
	p.stats.Runs++
	p.stats.LastRunAt = time.Now()
	p.wg.Add(1)
	p.mu.Unlock()

	runID := uuid.NewString()
	go func() {
		defer p.wg.Done()
		defer cancel()
		p.run(ctx, gen, runID, reason, card, s)
	}()
}

func (p *Pipeline) run(ctx context.Context, gen uint64, runID, reason string, card market.CardRef, s settings.Settings) {
	o, err := p.compute(ctx, card, s, runID)
	if ctx.Err() != nil || p.stale(gen) {
		p.superseded(runID, card)
		return
	}

	// 指标、失败计数与日志只记录未过期的一轮
	p.renderMu.Lock()
	defer p.renderMu.Unlock()
	if p.stale(gen) {
		p.superseded(runID, card)
		return
	}
	p.record(card, o)
	if err != nil {
		p.mu.Lock()
		p.stats.Errors++
		p.stats.LastError = err.Error()
		p.mu.Unlock()
		if p.monitor != nil {
			p.monitor.RecordPipelineRun(monitor.ResultError)
		}
		return
	}
	p.renderer.Render(o.chart)

	p.mu.Lock()
	p.stats.Rendered++
	p.mu.Unlock()
	if p.monitor != nil {
		p.monitor.RecordPipelineRun(monitor.ResultOK)
	}
	p.logger.LogEvent("pipeline_run", map[string]interface{}{
		"runId":     runID,
		"card":      card.ID,
		"reason":    reason,
		"trades":    o.chart.TradeCount,
		"fairValue": o.chart.FairValue,
	})
}

// outcome 一轮计算的结果，副作用由 record 统一落地。
type outcome struct {
	chart    chart.Chart
	fetched  bool
	fetchErr error
	stats    gateway.ParseStats
	trades   int
	elapsed  time.Duration
	rolling  []float64
}

// Compute 同步执行 拉取→截取→估算→构图 并记录指标，不涉及渲染与代次。
func (p *Pipeline) Compute(ctx context.Context, card market.CardRef, s settings.Settings, runID string) (chart.Chart, error) {
	o, err := p.compute(ctx, card, s, runID)
	p.record(card, o)
	return o.chart, err
}

// compute 无副作用
func (p *Pipeline) compute(ctx context.Context, card market.CardRef, s settings.Settings, runID string) (outcome, error) {
	var o outcome
	est, err := fmv.New(fmv.Config{Window: p.cfg.Window, Threshold: s.OutlierThreshold, Mode: p.cfg.Mode})
	if err != nil {
		return o, err
	}

	start := time.Now()
	series, stats, err := p.fetcher.FetchTrades(ctx, card)
	o.elapsed = time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return o, ctx.Err()
		}
		o.fetchErr = err
		return o, fmt.Errorf("fetch %s: %w", card, err)
	}
	o.fetched = true
	o.stats = stats
	o.trades = len(series)

	limited := series.Limit(s.TradeLimit)
	// 上游顺序为新→旧：前向窗口即当前成交及其之前的 w-1 笔
	o.rolling = est.Rolling(limited.Prices())
	// 单值参考线取时间上最近的 w 笔
	fair := est.Value(limited.Chronological().Prices())

	o.chart = chart.Build(card, limited, o.rolling, fair, chart.Options{
		LabelFormat: p.cfg.LabelFormat,
		Location:    p.cfg.Location,
		Window:      p.cfg.Window,
		Threshold:   s.OutlierThreshold,
		Mode:        p.cfg.Mode.String(),
		RunID:       runID,
	})
	return o, nil
}

// record 落地一轮的拉取指标、失败计数和告警
func (p *Pipeline) record(card market.CardRef, o outcome) {
	if o.fetchErr != nil {
		p.recordFetchError(card, o.fetchErr, o.elapsed)
		return
	}
	if !o.fetched {
		return
	}
	if p.monitor != nil {
		p.monitor.RecordFetch(o.elapsed.Seconds(), o.trades, o.stats.Gifts, o.stats.Malformed)
		if len(o.rolling) > 0 {
			p.monitor.UpdateFairValue(o.chart.FairValue, o.rolling[0])
		}
	}
	p.recordFetchOK(card)
	p.logger.LogEvent("fetch_done", map[string]interface{}{
		"card":      card.ID,
		"season":    card.Season,
		"trades":    o.trades,
		"gifts":     o.stats.Gifts,
		"malformed": o.stats.Malformed,
		"latencyMs": o.elapsed.Milliseconds(),
	})
}

func (p *Pipeline) recordFetchError(card market.CardRef, err error, elapsed time.Duration) {
	reason := "transport"
	var se *gateway.StatusError
	if errors.As(err, &se) {
		reason = "status"
	}
	if p.monitor != nil {
		p.monitor.RecordFetchError(reason, elapsed.Seconds())
	}
	p.logger.LogEvent("fetch_error", map[string]interface{}{
		"card":   card.ID,
		"season": card.Season,
		"error":  err.Error(),
		"reason": reason,
	})

	p.mu.Lock()
	p.failures++
	failures := p.failures
	p.mu.Unlock()
	if p.alerts != nil && failures == p.cfg.AlertAfterFailures {
		if aerr := p.alerts.SendError("upstream trade fetch failing", map[string]interface{}{
			"card":     card.String(),
			"failures": failures,
			"error":    err.Error(),
		}); aerr != nil {
			p.logger.Warn("send alert failed", zap.Error(aerr))
		}
	}
}

// recordFetchOK 清零失败计数；此前已告警则发送恢复通知。
func (p *Pipeline) recordFetchOK(card market.CardRef) {
	p.mu.Lock()
	failures := p.failures
	p.failures = 0
	p.mu.Unlock()
	if p.alerts != nil && failures >= p.cfg.AlertAfterFailures {
		if aerr := p.alerts.SendInfo("upstream trade fetch recovered", map[string]interface{}{
			"card":     card.String(),
			"failures": failures,
		}); aerr != nil {
			p.logger.Warn("send alert failed", zap.Error(aerr))
		}
	}
}

func (p *Pipeline) stale(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return gen != p.gen
}

func (p *Pipeline) superseded(runID string, card market.CardRef) {
	p.mu.Lock()
	p.stats.Superseded++
	p.mu.Unlock()
	if p.monitor != nil {
		p.monitor.RecordPipelineRun(monitor.ResultSuperseded)
	}
	p.logger.LogEvent("pipeline_superseded", map[string]interface{}{
		"runId": runID,
		"card":  card.ID,
	})
}
