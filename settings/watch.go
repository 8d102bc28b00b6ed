package settings

import (
	"context"
	"time"
)

// Poller 周期性读取 store，设置变化时回调。
// 用于 Redis 等没有文件可监听的后端。
type Poller struct {
	Store    Store
	Defaults Settings
	Interval time.Duration
	// OnError 可选，读取失败时调用；失败不会中断轮询。
	OnError func(error)
}

// Start 阻塞直到 ctx 结束；首次读取只记录基线，不触发回调。
func (p Poller) Start(ctx context.Context, onChange func(Settings)) error {
	if p.Interval <= 0 {
		p.Interval = 2 * time.Second
	}
	last, err := Load(ctx, p.Store, p.Defaults)
	if err != nil {
		p.reportError(err)
	}
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cur, err := Load(ctx, p.Store, p.Defaults)
			if err != nil {
				p.reportError(err)
				continue
			}
			if cur != last {
				last = cur
				if onChange != nil {
					onChange(cur)
				}
			}
		}
	}
}

func (p Poller) reportError(err error) {
	if p.OnError != nil {
		p.OnError(err)
	}
}
