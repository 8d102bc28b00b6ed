package container

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"card-tracker-go/config"
	"card-tracker-go/gateway"
	"card-tracker-go/infrastructure/alert"
	"card-tracker-go/infrastructure/logger"
	"card-tracker-go/infrastructure/monitor"
	hotconfig "card-tracker-go/internal/config"
	"card-tracker-go/internal/engine"
	"card-tracker-go/internal/server"
	"card-tracker-go/internal/server/ws"
	"card-tracker-go/market"
	"card-tracker-go/settings"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg *config.AppConfig

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager

	// 上游网关
	client *gateway.CardTradesClient

	// 设置存储
	store      settings.Store
	closeStore func() error

	// 核心服务
	hub      *ws.Hub
	server   *server.Server
	pipeline *engine.Pipeline

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 创建新的Container实例
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewFromConfig(cfg), nil
}

// NewFromConfig 使用已加载的配置
func NewFromConfig(cfg config.AppConfig) *Container {
	return &Container{
		cfg:       &cfg,
		lifecycle: NewLifecycleManager(),
	}
}

// Build 构建所有组件
func (c *Container) Build(ctx context.Context) error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	c.buildGateway()

	if err := c.buildSettings(ctx); err != nil {
		return fmt.Errorf("build settings failed: %w", err)
	}

	if err := c.buildCoreServices(ctx); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}

	if err := c.registerLifecycleComponents(); err != nil {
		return fmt.Errorf("register components failed: %w", err)
	}
	c.logger.Info("container built successfully")
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}
	c.logger = c.logger.WithFields(map[string]interface{}{"env": c.cfg.Env})

	c.monitor = monitor.New(monitor.DefaultConfig())

	channels := []alert.Channel{alert.NewLogChannel("log", c.logger)}
	if c.cfg.Alert.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookChannel("webhook", c.cfg.Alert.WebhookURL, nil))
	}
	c.alerts = alert.NewManager(channels, time.Duration(c.cfg.Alert.ThrottleSec)*time.Second)

	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildGateway() {
	c.client = &gateway.CardTradesClient{
		BaseURL:    c.cfg.Gateway.BaseURL,
		UserAgent:  c.cfg.Gateway.UserAgent,
		HTTPClient: gateway.NewDefaultHTTPClient(c.cfg.Timeout()),
		Limiter:    gateway.NewTokenBucketLimiter(c.cfg.Gateway.Rate, c.cfg.Gateway.Burst),
		Limit:      c.cfg.Gateway.FetchLimit,
	}
	c.logger.Info("gateway built", zap.String("baseURL", c.cfg.Gateway.BaseURL))
}

func (c *Container) buildSettings(ctx context.Context) error {
	sc := c.cfg.Settings
	if sc.Backend == settings.BackendFile {
		if err := os.MkdirAll(filepath.Dir(sc.Path), 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}
	store, closeFn, err := settings.Open(ctx, sc.Backend, sc.Path, sc.Redis)
	if err != nil {
		return err
	}
	c.store = store
	c.closeStore = closeFn
	c.logger.Info("settings store ready", zap.String("backend", sc.Backend))
	return nil
}

func (c *Container) buildCoreServices(ctx context.Context) error {
	defaults := c.cfg.DefaultSettings()
	initial, err := settings.Load(ctx, c.store, defaults)
	if err != nil {
		// 读取失败不阻止启动，使用默认值
		c.logger.LogError(err, map[string]interface{}{"action": "load_settings"})
		initial = defaults
	}

	c.hub = ws.NewHub(c.logger, c.monitor.SetWSClients)
	c.server = server.New(server.Config{
		DefaultSeason: c.cfg.Gateway.DefaultSeason,
		Defaults:      defaults,
	}, c.store, c.hub, c.logger)

	c.pipeline, err = engine.New(engine.Config{
		Window:             c.cfg.FMV.Window,
		Mode:               c.cfg.EstimatorMode(),
		LabelFormat:        c.cfg.FMV.LabelFormat,
		Location:           c.cfg.Location(),
		AlertAfterFailures: c.cfg.Alert.AfterFailures,
	}, initial, engine.Components{
		Fetcher:  c.client,
		Renderer: c.server,
		Logger:   c.logger,
		Monitor:  c.monitor,
		Alerts:   c.alerts,
	})
	if err != nil {
		return fmt.Errorf("create pipeline failed: %w", err)
	}
	c.server.Attach(c.pipeline)

	c.logger.Info("core services built",
		zap.Int("tradeLimit", initial.TradeLimit),
		zap.Float64("outlierThreshold", initial.OutlierThreshold))
	return nil
}

func (c *Container) registerLifecycleComponents() error {
	c.lifecycle.Register(&backgroundComponent{
		name:   "ws_hub",
		run:    c.hub.Run,
		logger: c.logger,
	})
	c.lifecycle.Register(c.pipeline)

	watcher, err := c.settingsWatcher()
	if err != nil {
		return err
	}
	if watcher != nil {
		c.lifecycle.Register(watcher)
	}

	c.lifecycle.Register(&httpServerComponent{
		name:    "api_server",
		handler: c.server.Handler(),
		addr:    c.cfg.Server.Addr,
		logger:  c.logger,
	})
	if c.cfg.Server.MetricsAddr != "" {
		c.lifecycle.Register(&httpServerComponent{
			name:    "metrics_server",
			handler: c.monitor.Handler(),
			addr:    c.cfg.Server.MetricsAddr,
			logger:  c.logger,
		})
	}
	return nil
}

// settingsWatcher 文件后端用 fsnotify 热更新，Redis 后端用轮询；内存后端无需同步。
func (c *Container) settingsWatcher() (Lifecycle, error) {
	defaults := c.cfg.DefaultSettings()
	switch c.cfg.Settings.Backend {
	case settings.BackendFile:
		reloader, err := hotconfig.NewHotReloader(c.cfg.Settings.Path, hotconfig.HotReloadConfig{
			Enabled:      true,
			CooldownTime: time.Duration(c.cfg.Settings.CooldownMs) * time.Millisecond,
		}, c.logger)
		if err != nil {
			return nil, err
		}
		reloader.SetReloadHandler(func(ctx context.Context) error {
			s, err := settings.Load(ctx, c.store, defaults)
			if err != nil {
				return err
			}
			_, err = c.pipeline.UpdateSettings(s, "file")
			return err
		})
		return reloader, nil

	case settings.BackendRedis:
		poller := settings.Poller{
			Store:    c.store,
			Defaults: defaults,
			Interval: time.Duration(c.cfg.Settings.PollIntervalMs) * time.Millisecond,
			OnError: func(err error) {
				c.logger.LogError(err, map[string]interface{}{"action": "poll_settings"})
			},
		}
		return &backgroundComponent{
			name:   "settings_poller",
			logger: c.logger,
			run: func(ctx context.Context) error {
				return poller.Start(ctx, func(s settings.Settings) {
					if _, err := c.pipeline.UpdateSettings(s, "poll"); err != nil {
						c.logger.LogError(err, map[string]interface{}{"action": "apply_polled_settings"})
					}
				})
			},
		}, nil
	}
	return nil, nil
}

// Track 设置启动时跟踪的卡片（URL 或纯数字 ID）。
func (c *Container) Track(ref string) error {
	card, err := market.ParseCardURL(ref, c.cfg.Gateway.DefaultSeason)
	if err != nil {
		card = market.CardRef{ID: ref, Season: c.cfg.Gateway.DefaultSeason}
	}
	return c.pipeline.SetCard(card)
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started",
		zap.String("addr", c.cfg.Server.Addr),
		zap.String("metricsAddr", c.cfg.Server.MetricsAddr))
	return nil
}

func (c *Container) Stop() error {
	c.logger.Info("stopping container...")

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	if c.closeStore != nil {
		if cerr := c.closeStore(); cerr != nil {
			c.logger.LogError(cerr, map[string]interface{}{"action": "close_settings_store"})
		}
	}

	c.logger.Info("container stopped")
	c.logger.Close()
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// Pipeline 暴露流水线（命令行与测试使用）
func (c *Container) Pipeline() *engine.Pipeline {
	return c.pipeline
}

// Logger 返回容器日志器
func (c *Container) Logger() *logger.Logger {
	return c.logger
}
