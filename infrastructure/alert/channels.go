package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"card-tracker-go/infrastructure/logger"
)

// LogChannel 写入结构化日志
type LogChannel struct {
	logger *logger.Logger
	name   string
}

// NewLogChannel 创建日志告警通道
func NewLogChannel(name string, log *logger.Logger) *LogChannel {
	if log == nil {
		log = logger.NewNop()
	}
	return &LogChannel{logger: log, name: name}
}

// Send 按级别写日志
func (c *LogChannel) Send(alert Alert) error {
	fields := []zap.Field{
		zap.String("alert_level", string(alert.Level)),
		zap.Time("alert_ts", alert.Timestamp),
	}
	for k, v := range alert.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	switch alert.Level {
	case LevelError:
		c.logger.Error(alert.Message, fields...)
	case LevelWarning:
		c.logger.Warn(alert.Message, fields...)
	default:
		c.logger.Info(alert.Message, fields...)
	}
	return nil
}

// Name 返回通道名称
func (c *LogChannel) Name() string {
	return c.name
}

// WebhookChannel 以 JSON POST 推送到聊天 webhook（Discord/Slack 兼容的 content 字段）。
type WebhookChannel struct {
	name    string
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewWebhookChannel 创建 webhook 通道；client 为 nil 时使用 5 秒超时的默认客户端。
func NewWebhookChannel(name, url string, client *http.Client) *WebhookChannel {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &WebhookChannel{name: name, url: url, client: client, timeout: 5 * time.Second}
}

type webhookPayload struct {
	Content string `json:"content"`
	Text    string `json:"text"`
	Alert   Alert  `json:"alert"`
}

// Send POST 一条告警，非 2xx 视为失败。
func (c *WebhookChannel) Send(alert Alert) error {
	text := formatText(alert)
	body, err := json.Marshal(webhookPayload{Content: text, Text: text, Alert: alert})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// Name 返回通道名称
func (c *WebhookChannel) Name() string {
	return c.name
}

// formatText 单行文本，字段按键名排序
func formatText(alert Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", alert.Level, alert.Message)
	if len(alert.Fields) > 0 {
		keys := make([]string, 0, len(alert.Fields))
		for k := range alert.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, alert.Fields[k])
		}
	}
	return b.String()
}
