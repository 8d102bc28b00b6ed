package gateway

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"card-tracker-go/market"
)

// cardsResponse 对应 q=card+trades 的 XML 包装：
// <CARDS><TRADES><TRADE><PRICE>..</PRICE><TIMESTAMP>..</TIMESTAMP></TRADE>...</TRADES></CARDS>
type cardsResponse struct {
	XMLName xml.Name   `xml:"CARDS"`
	Trades  []rawTrade `xml:"TRADES>TRADE"`
}

type rawTrade struct {
	Price     string `xml:"PRICE"`
	Timestamp string `xml:"TIMESTAMP"`
}

// ParseStats 记录解析时丢弃的记录数量。
type ParseStats struct {
	Total     int // 原始 TRADE 元素数
	Gifts     int // PRICE 为空的赠送
	Malformed int // 价格或时间无法解析
}

// ParseTrades 解析成交 XML，保留上游顺序（新→旧）。
// 赠送与格式错误的记录被丢弃并计数，不视为错误。
func ParseTrades(r io.Reader) (market.Series, ParseStats, error) {
	var resp cardsResponse
	var stats ParseStats
	if err := xml.NewDecoder(r).Decode(&resp); err != nil {
		return nil, stats, fmt.Errorf("decode trades xml: %w", err)
	}
	stats.Total = len(resp.Trades)
	series := make(market.Series, 0, len(resp.Trades))
	for _, rt := range resp.Trades {
		priceText := strings.TrimSpace(rt.Price)
		if priceText == "" {
			stats.Gifts++
			continue
		}
		price, err := strconv.ParseFloat(priceText, 64)
		if err != nil || !(price > 0) || math.IsInf(price, 0) {
			stats.Malformed++
			continue
		}
		secs, err := strconv.ParseInt(strings.TrimSpace(rt.Timestamp), 10, 64)
		if err != nil {
			stats.Malformed++
			continue
		}
		series = append(series, market.Trade{Price: price, Ts: time.Unix(secs, 0).UTC()})
	}
	return series, stats, nil
}
