package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"card-tracker-go/internal/container"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	card := flag.String("card", "", "启动后立即跟踪的卡片（URL 或数字 ID），可留空稍后通过 API 设置")
	healthEvery := flag.Duration("healthInterval", 30*time.Second, "健康检查间隔，0 表示关闭")
	flag.Parse()

	c, err := container.New(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Build(ctx); err != nil {
		log.Fatalf("构建失败: %v", err)
	}
	if err := c.Start(ctx); err != nil {
		log.Fatalf("启动失败: %v", err)
	}
	lg := c.Logger()

	if *card != "" {
		if err := c.Track(*card); err != nil {
			lg.LogError(err, map[string]interface{}{"action": "track", "card": *card})
		}
	}

	// systemd 之外 SdNotify 返回 (false, nil)
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		lg.Warn("sd_notify ready failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	if *healthEvery > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(*healthEvery)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := c.HealthCheck(); err != nil {
						lg.LogError(err, map[string]interface{}{"action": "health_check"})
					}
				}
			}
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		lg.Info("shutdown signal received")
		daemon.SdNotify(false, daemon.SdNotifyStopping)
		return c.Stop()
	})

	if err := g.Wait(); err != nil {
		log.Printf("退出时出错: %v", err)
		os.Exit(1)
	}
}
