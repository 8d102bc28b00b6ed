package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"card-tracker-go/infrastructure/logger"
)

// HotReloadConfig 热更新配置
type HotReloadConfig struct {
	Enabled      bool          // 是否启用热更新
	CooldownTime time.Duration // 冷却时间，合并一次保存触发的多个事件
}

// DefaultHotReloadConfig 默认热更新配置
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Enabled:      true,
		CooldownTime: 500 * time.Millisecond,
	}
}

// HotReloader 设置文件热更新器。
// 监听的是文件所在目录：设置文件以 临时文件+rename 方式写入，直接监听文件会丢失后续事件。
type HotReloader struct {
	config        HotReloadConfig
	path          string
	name          string
	watcher       *fsnotify.Watcher
	logger        *logger.Logger
	lastReload    time.Time
	reloads       int
	mu            sync.Mutex
	stopChan      chan struct{}
	doneChan      chan struct{}
	started       bool
	pending       bool
	reloadHandler func(ctx context.Context) error
}

// NewHotReloader 创建热更新器
func NewHotReloader(path string, cfg HotReloadConfig, log *logger.Logger) (*HotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &HotReloader{
		config:   cfg,
		path:     filepath.Clean(path),
		name:     filepath.Base(path),
		watcher:  watcher,
		logger:   log,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// SetReloadHandler 设置重载处理函数
func (h *HotReloader) SetReloadHandler(handler func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reloadHandler = handler
}

// Start 启动热更新监听
func (h *HotReloader) Start(ctx context.Context) error {
	if !h.config.Enabled {
		return nil
	}

	dir := filepath.Dir(h.path)
	if err := h.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch settings dir %s: %w", dir, err)
	}

	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
	go h.watch(ctx)
	return nil
}

// Stop 停止热更新
func (h *HotReloader) Stop() error {
	h.mu.Lock()
	started := h.started
	h.mu.Unlock()

	select {
	case <-h.stopChan:
	default:
		close(h.stopChan)
	}
	if started {
		select {
		case <-h.doneChan:
		case <-time.After(1 * time.Second):
		}
	}
	return h.watcher.Close()
}

// watch 监听文件变化
func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != h.name {
				continue
			}
			// rename 到目标文件在 Linux 上表现为 Create
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				h.handleChange(ctx)
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn("settings watcher error", zap.Error(err))
		}
	}
}

// handleChange 处理设置文件变化
func (h *HotReloader) handleChange(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// 冷却期内的变化合并为一次延后重载，保证最后一次写入总会被应用
	if wait := h.config.CooldownTime - time.Since(h.lastReload); wait > 0 {
		if !h.pending {
			h.pending = true
			time.AfterFunc(wait, func() {
				h.mu.Lock()
				h.pending = false
				h.mu.Unlock()
				select {
				case <-h.stopChan:
				default:
					h.handleChange(ctx)
				}
			})
		}
		return
	}
	if h.reloadHandler != nil {
		if err := h.reloadHandler(ctx); err != nil {
			h.logger.LogError(fmt.Errorf("reload settings: %w", err), map[string]interface{}{
				"path": h.path,
			})
			return
		}
	}
	h.lastReload = time.Now()
	h.reloads++
}

// GetLastReloadTime 获取最后重载时间
func (h *HotReloader) GetLastReloadTime() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastReload
}

// Reloads 成功重载次数
func (h *HotReloader) Reloads() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reloads
}

// Health 启用但未启动时报告错误
func (h *HotReloader) Health() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.config.Enabled && !h.started {
		return fmt.Errorf("settings watcher not started")
	}
	return nil
}
