package settings

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix 默认键前缀
const DefaultRedisPrefix = "cardfmv:settings:"

// RedisConfig Redis 连接参数
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	Prefix     string `yaml:"prefix"`
	TLSEnabled bool   `yaml:"tlsEnabled"`
}

// RedisCommands 是 RedisStore 用到的命令子集，*redis.Client 与 redis.Cmdable 均满足。
type RedisCommands interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	MSet(ctx context.Context, values ...interface{}) *redis.StatusCmd
}

// RedisStore 以 <prefix><key> 字符串键保存设置，多实例共享同一份设置。
type RedisStore struct {
	rdb    RedisCommands
	prefix string
	close  func() error
}

// NewRedisStore 建立连接并 Ping 一次。
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisStore{rdb: rdb, prefix: prefixOrDefault(cfg.Prefix), close: rdb.Close}, nil
}

// NewRedisStoreFromClient 复用已有客户端，Close 不会关闭它。
func NewRedisStoreFromClient(rdb RedisCommands, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefixOrDefault(prefix)}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := r.rdb.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// SetMany 用 MSET 原子写入多个键
func (r *RedisStore) SetMany(ctx context.Context, kv map[string]string) error {
	if len(kv) == 0 {
		return nil
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]interface{}, 0, 2*len(kv))
	for _, k := range keys {
		pairs = append(pairs, r.prefix+k, kv[k])
	}
	if err := r.rdb.MSet(ctx, pairs...).Err(); err != nil {
		return fmt.Errorf("redis: mset: %w", err)
	}
	return nil
}

// Close 关闭自己创建的连接
func (r *RedisStore) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}

func prefixOrDefault(p string) string {
	if p == "" {
		return DefaultRedisPrefix
	}
	return p
}
