package settings

import (
	"context"
	"errors"
	"fmt"
)

// 存储后端名称
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// ErrUnknownBackend 未知的存储后端
var ErrUnknownBackend = errors.New("unknown settings backend")

// Open 按后端名称创建 Store。返回的 close 函数总是非 nil。
func Open(ctx context.Context, backend, path string, redisCfg RedisConfig) (Store, func() error, error) {
	noop := func() error { return nil }
	switch backend {
	case "", BackendMemory:
		return NewMemoryStore(), noop, nil
	case BackendFile:
		if path == "" {
			return nil, noop, fmt.Errorf("file backend: empty path")
		}
		return NewFileStore(path), noop, nil
	case BackendRedis:
		rs, err := NewRedisStore(ctx, redisCfg)
		if err != nil {
			return nil, noop, err
		}
		return rs, rs.Close, nil
	default:
		return nil, noop, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
