package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"card-tracker-go/market"
)

const (
	// DefaultBaseURL NationStates API 入口
	DefaultBaseURL = "https://www.nationstates.net/cgi-bin/api.cgi"
	// DefaultTradeLimit 单次请求的最大成交条数
	DefaultTradeLimit = 1000

	// 响应体上限：每条成交预留 1KiB，另加 64KiB 余量
	bytesPerTrade  = 1 << 10
	bodySlackBytes = 64 << 10
)

// ErrResponseTooLarge 响应体超过按 Limit 推算的上限。
var ErrResponseTooLarge = errors.New("response body too large")

// StatusError 上游返回非 200。
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("error fetching data: status %d", e.Code)
}

// CardTradesClient 拉取卡片成交记录；HTTPClient 可注入 httptest。
type CardTradesClient struct {
	BaseURL    string
	UserAgent  string
	HTTPClient *http.Client
	Limiter    RateLimiter
	Limit      int
}

// FetchTrades 请求 q=card+trades 并解析成交序列（新→旧），不做重试。
func (c *CardTradesClient) FetchTrades(ctx context.Context, card market.CardRef) (market.Series, ParseStats, error) {
	if c == nil || c.HTTPClient == nil {
		return nil, ParseStats{}, errors.New("http client not set")
	}
	if err := card.Validate(); err != nil {
		return nil, ParseStats{}, err
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, ParseStats{}, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tradesURL(card), nil)
	if err != nil {
		return nil, ParseStats{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.UserAgent)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ParseStats{}, ctxErr
		}
		return nil, ParseStats{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ParseStats{}, &StatusError{Code: resp.StatusCode}
	}
	maxBytes := c.maxBodyBytes()
	body := &io.LimitedReader{R: resp.Body, N: maxBytes + 1}
	series, stats, err := ParseTrades(body)
	if body.N <= 0 {
		return nil, ParseStats{}, fmt.Errorf("%w: over %d bytes", ErrResponseTooLarge, maxBytes)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, stats, ctxErr
		}
		return nil, stats, err
	}
	return series, stats, nil
}

func (c *CardTradesClient) limit() int {
	if c.Limit <= 0 {
		return DefaultTradeLimit
	}
	return c.Limit
}

func (c *CardTradesClient) maxBodyBytes() int64 {
	return int64(c.limit())*bytesPerTrade + bodySlackBytes
}

// tradesURL NationStates 使用分号分隔的查询参数。
func (c *CardTradesClient) tradesURL(card market.CardRef) string {
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return fmt.Sprintf("%s?q=card+trades;cardid=%s;season=%s;limit=%d", base, card.ID, card.Season, c.limit())
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
